// Package manager reconciles one instance directory with its desired
// state.
//
// The manager decides which install state the directory is in, applies
// the version's install plan when the tree is new or its change marker is
// stale, moves ladder-managed links to the installed release, regenerates
// the files derived from site state and reports whether the running
// process needs a restart. It never starts or stops anything itself.
package manager

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/arthur-debert/tomcatd/pkg/atomicfile"
	"github.com/arthur-debert/tomcatd/pkg/clock"
	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/install"
	"github.com/arthur-debert/tomcatd/pkg/logging"
	"github.com/arthur-debert/tomcatd/pkg/marker"
	"github.com/arthur-debert/tomcatd/pkg/packages"
	"github.com/arthur-debert/tomcatd/pkg/serverxml"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/arthur-debert/tomcatd/pkg/versions"
	"github.com/rs/zerolog"
)

// Install states of an instance directory.
const (
	StateFresh   = "fresh"
	StateRebuild = "rebuild"
	StateCurrent = "current"
	StateManual  = "manual"
)

// Manager reconciles instances.
type Manager struct {
	FS       types.FS
	Packages packages.Querier
	Clock    clock.Clock
	OptDir   string
	// SentinelUID owns directories whose install never completed. An
	// instance root still owned by it is treated as fresh.
	SentinelUID int
	Logger      zerolog.Logger
}

// New returns a Manager with the real clock and the package logger.
func New(fsys types.FS, pkgs packages.Querier, optDir string) *Manager {
	return &Manager{
		FS:       fsys,
		Packages: pkgs,
		Clock:    clock.Real(),
		OptDir:   optDir,
		Logger:   logging.GetLogger("manager"),
	}
}

// prepared is everything computed before the first write.
type prepared struct {
	desc      *versions.Descriptor
	plan      install.Plan
	serverXML []byte
	installed string
	want      marker.Marker
	env       install.Env
}

func (m *Manager) prepare(ctx context.Context, inst types.Instance) (*prepared, error) {
	if inst.Root == "" || !filepath.IsAbs(inst.Root) {
		return nil, errors.Newf(errors.ErrInvalidInput, "%s: instance root %q is not absolute", inst.Name, inst.Root)
	}
	desc, err := versions.Lookup(inst.Version)
	if err != nil {
		return nil, err
	}
	serverXML, err := desc.RenderServerXML(inst)
	if err != nil {
		return nil, err
	}
	installed, err := m.Packages.Installed(ctx, desc.Package)
	if err != nil {
		return nil, err
	}
	if err := desc.Ladder.Supports(installed); err != nil {
		return nil, err
	}

	plan, err := checkedPlan(desc, inst)
	if err != nil {
		return nil, err
	}
	templateRoot := desc.TemplateRoot(m.OptDir)
	return &prepared{
		desc:      desc,
		plan:      plan,
		serverXML: serverXML,
		installed: installed,
		want:      marker.New(desc.Version, inst.Topology, plan.Fingerprint(), templateRoot),
		env: install.Env{
			FS:           m.FS,
			TemplateRoot: templateRoot,
			OptDir:       m.OptDir,
			InstanceRoot: inst.Root,
			UID:          inst.UID,
			GID:          inst.GID,
			BackupSuffix: atomicfile.BackupSuffix(m.Clock.Now()),
		},
	}, nil
}

// checkedPlan refuses to touch the instance with a plan that states two
// facts about one path.
func checkedPlan(desc planner, inst types.Instance) (install.Plan, error) {
	plan := desc.Plan(inst)
	if err := plan.Validate(); err != nil {
		return nil, errors.Wrapf(err, errors.ErrInstallPlanConflict, "%s: version %s", inst.Name, inst.Version).
			WithDetail("instance", inst.Name)
	}
	return plan, nil
}

type planner interface {
	Plan(inst types.Instance) install.Plan
}

// detect classifies the directory. exists is false when the root is absent.
func (m *Manager) detect(inst types.Instance, want marker.Marker) (state string, exists bool, err error) {
	if inst.Manual {
		_, err := m.FS.Lstat(inst.Root)
		if os.IsNotExist(err) {
			return StateManual, false, nil
		}
		if err != nil {
			return "", false, errors.Wrapf(err, errors.ErrFileAccess, "stat %s", inst.Root)
		}
		return StateManual, true, nil
	}

	info, err := m.FS.Lstat(inst.Root)
	if os.IsNotExist(err) {
		return StateFresh, false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, errors.ErrFileAccess, "stat %s", inst.Root)
	}
	if !info.IsDir() {
		return "", true, errors.Newf(errors.ErrInstallPlanConflict, "%s exists and is not a directory", inst.Root)
	}
	uid, _, err := m.FS.Owner(inst.Root)
	if err != nil {
		return "", true, errors.Wrapf(err, errors.ErrFileAccess, "owner of %s", inst.Root)
	}
	if uid == m.SentinelUID && inst.UID != m.SentinelUID {
		return StateFresh, true, nil
	}
	ok, err := marker.Matches(m.FS, inst.Root, want)
	if err != nil {
		return "", true, err
	}
	if ok {
		return StateCurrent, true, nil
	}
	return StateRebuild, true, nil
}

// Reconcile converges one instance. A failure leaves the instance in a
// state the next pass resumes from; the caller logs it and moves on.
func (m *Manager) Reconcile(ctx context.Context, inst types.Instance) (types.ReconcileResult, error) {
	result := types.ReconcileResult{Instance: inst.Name}
	logger := logging.ForInstance(m.Logger, inst.Name, inst.Root)

	p, err := m.prepare(ctx, inst)
	if err != nil {
		return result, err
	}
	result.Installed = p.installed

	state, exists, err := m.detect(inst, p.want)
	if err != nil {
		return result, err
	}
	result.State = state
	logger.Debug().Str("state", state).Str("installed", p.installed).Msg("Reconciling instance")

	record := func(paths ...string) {
		result.Changed = append(result.Changed, paths...)
	}

	switch state {
	case StateManual:
		if !exists {
			logger.Warn().Msg("Manual instance has no directory, nothing to do")
			return result, nil
		}
	case StateFresh:
		if !exists {
			if err := m.FS.Mkdir(inst.Root, 0755); err != nil {
				return result, errors.Wrapf(err, errors.ErrDirCreate, "creating %s", inst.Root)
			}
			if err := m.FS.Lchown(inst.Root, m.SentinelUID, m.SentinelUID); err != nil {
				return result, errors.Wrapf(err, errors.ErrOwnership, "chown %s", inst.Root)
			}
		}
		logger.Info().Str("version", inst.Version).Msg("Installing instance")
		if err := m.rebuild(p, inst, record); err != nil {
			return result, err
		}
		result.Dirty = true
	case StateRebuild:
		logger.Info().Str("version", inst.Version).Msg("Change marker stale, rebuilding instance")
		if err := m.rebuild(p, inst, record); err != nil {
			return result, err
		}
		result.Dirty = true
	case StateCurrent:
		moved, err := p.desc.Ladder.Apply(p.env, p.installed)
		record(moved...)
		if err != nil {
			return result, err
		}
		if len(moved) > 0 {
			result.Dirty = true
		}
		var generated install.Plan
		for _, a := range p.plan {
			if a.Kind == install.KindGenerated {
				generated = append(generated, a)
			}
		}
		regenerated, err := generated.Apply(p.env)
		record(regenerated...)
		if err != nil {
			return result, err
		}
		if len(regenerated) > 0 {
			result.Dirty = true
		}
	}

	sitesChanged, err := m.writeSites(p, inst, state)
	if err != nil {
		return result, err
	}
	if sitesChanged {
		record(versions.SitesPath)
		result.Dirty = true
	}

	orphans, err := m.reconcileWorkDirs(p, inst, state, logger)
	if err != nil {
		return result, err
	}
	result.Orphans = orphans

	xmlChanged, err := m.writeServerXML(p, inst, state, logger)
	if err != nil {
		return result, err
	}
	if xmlChanged {
		record(versions.ServerXMLPath)
		result.Dirty = true
	}

	if err := m.reconcileDaemonLink(p, inst, state, logger); err != nil {
		return result, err
	}

	if result.Dirty {
		logger.Info().Strs("changed", result.Changed).Msg("Instance needs restart")
	}
	return result, nil
}

// rebuild applies the full plan, moves ladder links, hands the root to
// the instance user and writes the change marker last, so an interrupted
// rebuild is retried in full.
func (m *Manager) rebuild(p *prepared, inst types.Instance, record func(...string)) error {
	changed, err := p.plan.Apply(p.env)
	record(changed...)
	if err != nil {
		return err
	}
	moved, err := p.desc.Ladder.Apply(p.env, p.installed)
	record(moved...)
	if err != nil {
		return err
	}
	if _, err := install.Mkdir(".", 0755).Apply(p.env); err != nil {
		return err
	}
	written, err := marker.Write(m.FS, inst.Root, p.want, inst.UID, inst.GID)
	if err != nil {
		return err
	}
	if written {
		record(marker.FileName)
	}
	return nil
}

func (m *Manager) writeSites(p *prepared, inst types.Instance, state string) (bool, error) {
	path := p.env.Abs(versions.SitesPath)
	if state == StateManual {
		if _, err := m.FS.Stat(filepath.Dir(path)); os.IsNotExist(err) {
			return false, nil
		}
	}
	return atomicfile.Write(m.FS, path, versions.SitesScript(inst), atomicfile.Options{
		Mode: 0644,
		UID:  inst.UID,
		GID:  inst.GID,
	})
}

// reconcileWorkDirs ensures one JSP work directory per enabled site and
// returns the absolute paths of work directories no enabled site uses.
func (m *Manager) reconcileWorkDirs(p *prepared, inst types.Instance, state string, logger zerolog.Logger) ([]string, error) {
	workRoot := p.env.Abs(versions.WorkDir)
	if _, err := m.FS.Stat(workRoot); os.IsNotExist(err) {
		if state == StateManual {
			return nil, nil
		}
		return nil, errors.Newf(errors.ErrFileNotFound, "%s is missing", workRoot)
	}

	wanted := make(map[string]bool)
	for _, site := range inst.EnabledSites() {
		wanted[site.Name] = true
		env := p.env
		env.GID = site.GID
		if _, err := install.Mkdir(filepath.Join(versions.WorkDir, site.Name), 0750).Apply(env); err != nil {
			return nil, err
		}
	}

	entries, err := m.FS.ReadDir(workRoot)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "listing %s", workRoot)
	}
	var orphans []string
	for _, e := range entries {
		if wanted[e.Name()] {
			continue
		}
		orphan := filepath.Join(workRoot, e.Name())
		logger.Debug().Str("path", orphan).Msg("Work directory has no enabled site")
		orphans = append(orphans, orphan)
	}
	sort.Strings(orphans)
	return orphans, nil
}

func (m *Manager) writeServerXML(p *prepared, inst types.Instance, state string, logger zerolog.Logger) (bool, error) {
	path := p.env.Abs(versions.ServerXMLPath)
	if state == StateManual {
		if _, err := m.FS.Lstat(path); err == nil {
			// The operator's copy may be a symlink to content outside the
			// instance; stripping the banner is best effort.
			if _, err := atomicfile.StripPrefix(m.FS, path, []byte(serverxml.Banner)); err != nil {
				logger.Debug().Err(err).Msg("Could not strip banner from manual server.xml")
			}
			return false, nil
		}
		if _, err := m.FS.Stat(filepath.Dir(path)); os.IsNotExist(err) {
			return false, nil
		}
	}
	return atomicfile.Write(m.FS, path, p.serverXML, atomicfile.Options{
		Mode:         0640,
		UID:          inst.UID,
		GID:          inst.GID,
		BackupSuffix: p.env.BackupSuffix,
	})
}

// reconcileDaemonLink enables the instance at boot when it should run.
// It never makes the instance dirty.
func (m *Manager) reconcileDaemonLink(p *prepared, inst types.Instance, state string, logger zerolog.Logger) error {
	if _, err := m.FS.Stat(p.env.Abs(filepath.Dir(versions.DaemonPath))); os.IsNotExist(err) {
		if state == StateManual {
			return nil
		}
		return errors.Newf(errors.ErrFileNotFound, "%s is missing", filepath.Dir(versions.DaemonPath))
	}

	action := install.Delete(versions.DaemonPath)
	if inst.ShouldRun() {
		action = install.LinkTo(versions.DaemonPath, versions.DaemonTarget)
	}
	changed, err := action.Apply(p.env)
	if err != nil {
		return err
	}
	if changed {
		logger.Info().Bool("enabled", inst.ShouldRun()).Msg("Updated daemon link")
	}
	return nil
}
