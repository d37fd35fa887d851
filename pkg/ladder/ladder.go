// Package ladder replays symlink retargets across package releases.
//
// A runtime package ships one template directory whose contents change
// between releases (jars are renamed, files appear and disappear). Each
// Milestone records the link moves a release introduced. Given the release
// actually installed, Apply walks the milestones above it downwards undoing
// their moves, then the milestones at or below it upwards applying them, so
// an instance tree built against any release converges on the installed
// one without a full rebuild.
package ladder

import (
	"os"
	"sort"
	"strings"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/install"
	"github.com/arthur-debert/tomcatd/pkg/logging"
	version "github.com/knqyf263/go-rpm-version"
)

// NoLink is the Old side of a transition that creates a link and the New
// side of one that removes it.
const NoLink = ""

// Transition moves one instance link. Old and New are template-relative.
type Transition struct {
	Path string
	Old  string
	New  string
}

// Milestone is a package version-and-release with the link moves it made.
type Milestone struct {
	Release     string
	Transitions []Transition
}

// Ladder is the ordered milestone chain of one runtime package.
type Ladder struct {
	Package    string
	Milestones []Milestone
}

// New sorts the milestones and checks that they form a single chain:
// releases strictly increase, and per path every transition starts where
// the previous one ended without ever revisiting a target.
func New(pkg string, milestones ...Milestone) (*Ladder, error) {
	if len(milestones) == 0 {
		return nil, errors.Newf(errors.ErrInvalidInput, "ladder for %s has no milestones", pkg)
	}
	sorted := make([]Milestone, len(milestones))
	copy(sorted, milestones)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compare(sorted[i].Release, sorted[j].Release) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if compare(sorted[i-1].Release, sorted[i].Release) == 0 {
			return nil, errors.Newf(errors.ErrInvalidInput, "ladder for %s repeats release %s", pkg, sorted[i].Release)
		}
	}

	type chain struct {
		current string
		seen    map[string]bool
	}
	chains := make(map[string]*chain)
	for _, m := range sorted {
		for _, tr := range m.Transitions {
			if tr.Old == tr.New {
				return nil, errors.Newf(errors.ErrInvalidInput, "%s at %s: transition does not move", tr.Path, m.Release)
			}
			c, ok := chains[tr.Path]
			if !ok {
				c = &chain{current: tr.Old, seen: map[string]bool{tr.Old: true}}
				chains[tr.Path] = c
			}
			if c.current != tr.Old {
				return nil, errors.Newf(errors.ErrInvalidInput, "%s at %s: expected to move from %q, chain is at %q", tr.Path, m.Release, tr.Old, c.current)
			}
			if c.seen[tr.New] {
				return nil, errors.Newf(errors.ErrInvalidInput, "%s at %s: target %q revisited", tr.Path, m.Release, tr.New)
			}
			c.seen[tr.New] = true
			c.current = tr.New
		}
	}

	return &Ladder{Package: pkg, Milestones: sorted}, nil
}

// MustNew is New for static tables.
func MustNew(pkg string, milestones ...Milestone) *Ladder {
	l, err := New(pkg, milestones...)
	if err != nil {
		panic(err)
	}
	return l
}

// Oldest returns the first supported release.
func (l *Ladder) Oldest() string { return l.Milestones[0].Release }

// Newest returns the last supported release.
func (l *Ladder) Newest() string { return l.Milestones[len(l.Milestones)-1].Release }

// Releases lists every milestone release in ascending order.
func (l *Ladder) Releases() []string {
	out := make([]string, len(l.Milestones))
	for i, m := range l.Milestones {
		out[i] = m.Release
	}
	return out
}

// Supports fails with ErrUnsupportedVersion when installed lies outside
// the chain. A newer packaging release of the newest upstream version is
// still supported.
func (l *Ladder) Supports(installed string) error {
	if compare(installed, l.Oldest()) < 0 {
		return errors.Newf(errors.ErrUnsupportedVersion, "%s %s is older than the oldest supported release %s", l.Package, installed, l.Oldest()).
			WithDetail("package", l.Package).
			WithDetail("installed", installed)
	}
	if compare(upstream(installed), upstream(l.Newest())) > 0 {
		return errors.Newf(errors.ErrUnsupportedVersion, "%s %s is newer than the newest supported release %s", l.Package, installed, l.Newest()).
			WithDetail("package", l.Package).
			WithDetail("installed", installed)
	}
	return nil
}

// Apply moves the links under env.InstanceRoot to the layout of the
// installed release and returns the paths it changed.
func (l *Ladder) Apply(env install.Env, installed string) ([]string, error) {
	if err := l.Supports(installed); err != nil {
		return nil, err
	}
	logger := logging.GetLogger("ladder").With().
		Str("package", l.Package).
		Str("installed", installed).
		Str("root", env.InstanceRoot).
		Logger()

	var changed []string
	for i := len(l.Milestones) - 1; i >= 0; i-- {
		m := l.Milestones[i]
		if compare(m.Release, installed) <= 0 {
			break
		}
		for _, tr := range m.Transitions {
			c, err := move(env, tr.Path, tr.New, tr.Old)
			if err != nil {
				return changed, err
			}
			if c {
				logger.Debug().Str("path", tr.Path).Str("milestone", m.Release).Msg("Downgraded link")
				changed = append(changed, tr.Path)
			}
		}
	}
	for _, m := range l.Milestones {
		if compare(m.Release, installed) > 0 {
			break
		}
		for _, tr := range m.Transitions {
			c, err := move(env, tr.Path, tr.Old, tr.New)
			if err != nil {
				return changed, err
			}
			if c {
				logger.Debug().Str("path", tr.Path).Str("milestone", m.Release).Msg("Upgraded link")
				changed = append(changed, tr.Path)
			}
		}
	}
	return changed, nil
}

// move retargets the link at rel from one template path to another. It
// acts only when the link is currently at from (or absent for a create);
// anything else, including already being at to, is left alone.
func move(env install.Env, rel, from, to string) (bool, error) {
	path := env.Abs(rel)
	current := NoLink
	info, err := env.FS.Lstat(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return false, errors.Wrapf(err, errors.ErrFileAccess, "stat %s", path)
	case info.Mode()&os.ModeSymlink == 0:
		return false, nil
	default:
		if current, err = env.FS.Readlink(path); err != nil {
			return false, errors.Wrapf(err, errors.ErrFileAccess, "readlink %s", path)
		}
	}

	fromTarget, err := resolve(env, rel, from)
	if err != nil {
		return false, err
	}
	if current != fromTarget {
		return false, nil
	}

	if current != NoLink {
		if err := env.FS.Remove(path); err != nil {
			return false, errors.Wrapf(err, errors.ErrFileDelete, "removing %s", path)
		}
	}
	if to == NoLink {
		return true, nil
	}
	toTarget, err := resolve(env, rel, to)
	if err != nil {
		return false, err
	}
	if err := env.FS.Symlink(toTarget, path); err != nil {
		return false, errors.Wrapf(err, errors.ErrSymlinkCreate, "linking %s -> %s", path, toTarget)
	}
	if err := env.FS.Lchown(path, env.UID, env.GID); err != nil {
		return false, errors.Wrapf(err, errors.ErrOwnership, "chown %s", path)
	}
	return true, nil
}

func resolve(env install.Env, rel, templateRel string) (string, error) {
	if templateRel == NoLink {
		return NoLink, nil
	}
	target, err := env.LinkTarget(rel, templateRel)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrSymlinkCreate, "resolving %s", templateRel)
	}
	return target, nil
}

func compare(a, b string) int {
	return version.NewVersion(a).Compare(version.NewVersion(b))
}

// upstream strips the packaging release: "9.0.89-1.el9" -> "9.0.89".
func upstream(v string) string {
	if i := strings.LastIndex(v, "-"); i > 0 {
		return v[:i]
	}
	return v
}
