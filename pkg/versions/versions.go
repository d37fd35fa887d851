// Package versions is the table of supported Tomcat major versions.
//
// A Descriptor is plain data: the runtime package and template it builds
// on, the files it links, the ladder of releases and the server.xml
// profile. One reconciliation engine serves every version by looking its
// descriptor up here.
package versions

import (
	"path/filepath"
	"sort"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/install"
	"github.com/arthur-debert/tomcatd/pkg/ladder"
	"github.com/arthur-debert/tomcatd/pkg/serverxml"
	"github.com/arthur-debert/tomcatd/pkg/types"
)

// Paths every descriptor agrees on, relative to the instance root.
const (
	ScriptPath    = "bin/tomcat"
	PIDPath       = "var/run/tomcat.pid"
	SitesPath     = "bin/profile.d/sites.sh"
	JDKPath       = "bin/profile.d/jdk.sh"
	ServerXMLPath = "conf/server.xml"
	DaemonPath    = "daemon/tomcat"
	DaemonTarget  = "../bin/tomcat"
	WorkDir       = "work/Catalina"
)

// Descriptor describes one supported major version.
type Descriptor struct {
	Version string
	// Package is the rpm providing the template.
	Package string
	// Template is the directory name of the template under the opt dir.
	Template string
	// JDK is the runtime directory whose profile.sh the instance sources.
	JDK     string
	Ladder  *ladder.Ladder
	Profile serverxml.Profile

	binFiles  []string
	confLinks []string
	confSeeds []string
	libFiles  []string
	retired   []string
}

// TemplateRoot returns the template installation under optDir.
func (d *Descriptor) TemplateRoot(optDir string) string {
	return filepath.Join(optDir, d.Template)
}

// Plan returns the full install plan for inst. Versioned jars are linked
// in the layout of the oldest milestone; the ladder moves them to the
// installed release. Links another version would place and this one does
// not are deleted, so moving an instance across major versions leaves no
// link into the other template behind.
//
// Files are listed one by one rather than linked with SymlinkAll: a
// template's lib/ carries the versioned jar behind each ladder link, and
// linking the whole directory would put it on the class path twice.
func (d *Descriptor) Plan(inst types.Instance) install.Plan {
	plan := install.Plan{
		install.Mkdir("bin", 0755),
		install.Mkdir("bin/profile.d", 0755),
		install.Mkdir("conf", 0775),
		install.Mkdir("conf/Catalina", 0775),
		install.Mkdir("daemon", 0770),
		install.Mkdir("lib", 0770),
		install.Mkdir("logs", 0770),
		install.Mkdir("temp", 0770),
		install.Mkdir("var", 0770),
		install.Mkdir("var/run", 0770),
		install.Mkdir("webapps", 0775),
		install.Mkdir("work", 0750),
		install.Mkdir(WorkDir, 0750),
	}
	if inst.Topology == types.Private {
		plan = append(plan, install.Mkdir("webapps/ROOT", 0775))
	}
	for _, path := range d.retired {
		plan = append(plan, install.Delete(path))
	}
	for _, path := range d.foreignLinks() {
		plan = append(plan, install.Delete(path))
	}
	for _, f := range d.binFiles {
		plan = append(plan, install.Symlink("bin/"+f))
	}
	for _, f := range d.confLinks {
		plan = append(plan, install.Symlink("conf/"+f))
	}
	for _, f := range d.confSeeds {
		plan = append(plan, install.Copy("conf/"+f, 0660))
	}
	for _, f := range d.libFiles {
		plan = append(plan, install.Symlink("lib/"+f))
	}
	for _, link := range d.baseLinks() {
		plan = append(plan, install.SymlinkTo(link.Path, link.Old))
	}
	plan = append(plan,
		install.ProfileScript(JDKPath, d.JDK),
		install.Generated(ScriptPath, 0700, func() ([]byte, error) {
			return d.RenderScript(inst), nil
		}),
	)
	return plan
}

// baseLinks are the ladder-managed links that exist at the oldest
// milestone, in their oldest form.
func (d *Descriptor) baseLinks() []ladder.Transition {
	first := make(map[string]ladder.Transition)
	var order []string
	for _, m := range d.Ladder.Milestones {
		for _, tr := range m.Transitions {
			if _, ok := first[tr.Path]; ok {
				continue
			}
			first[tr.Path] = tr
			order = append(order, tr.Path)
		}
	}
	var out []ladder.Transition
	for _, path := range order {
		if tr := first[path]; tr.Old != ladder.NoLink {
			out = append(out, tr)
		}
	}
	return out
}

// linkPaths lists every instance path d links at some release.
func (d *Descriptor) linkPaths() []string {
	var out []string
	for _, f := range d.binFiles {
		out = append(out, "bin/"+f)
	}
	for _, f := range d.confLinks {
		out = append(out, "conf/"+f)
	}
	for _, f := range d.libFiles {
		out = append(out, "lib/"+f)
	}
	for _, m := range d.Ladder.Milestones {
		for _, tr := range m.Transitions {
			out = append(out, tr.Path)
		}
	}
	return out
}

// placed is the set of paths the plan itself links or seeds.
func (d *Descriptor) placed() map[string]bool {
	set := make(map[string]bool)
	for _, f := range d.binFiles {
		set["bin/"+f] = true
	}
	for _, f := range d.confLinks {
		set["conf/"+f] = true
	}
	for _, f := range d.confSeeds {
		set["conf/"+f] = true
	}
	for _, f := range d.libFiles {
		set["lib/"+f] = true
	}
	for _, link := range d.baseLinks() {
		set[link.Path] = true
	}
	return set
}

// foreignLinks lists the link paths of every registered version, d
// included, that are absent from d's oldest layout. The ladder recreates
// d's own ones when the installed release has them.
func (d *Descriptor) foreignLinks() []string {
	placed := d.placed()
	retired := make(map[string]bool, len(d.retired))
	for _, path := range d.retired {
		retired[path] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, other := range All() {
		for _, path := range other.linkPaths() {
			if placed[path] || retired[path] || seen[path] {
				continue
			}
			seen[path] = true
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// RenderServerXML renders conf/server.xml for inst.
func (d *Descriptor) RenderServerXML(inst types.Instance) ([]byte, error) {
	return serverxml.Render(inst, d.Profile)
}

// TemplateFiles lists every file a template of this version may contain
// across all ladder releases.
func (d *Descriptor) TemplateFiles() []string {
	seen := make(map[string]bool)
	add := func(p string) { seen[p] = true }
	for _, f := range d.binFiles {
		add("bin/" + f)
	}
	for _, f := range d.confLinks {
		add("conf/" + f)
	}
	for _, f := range d.confSeeds {
		add("conf/" + f)
	}
	for _, f := range d.libFiles {
		add("lib/" + f)
	}
	for _, m := range d.Ladder.Milestones {
		for _, tr := range m.Transitions {
			if tr.Old != ladder.NoLink {
				add(tr.Old)
			}
			if tr.New != ladder.NoLink {
				add(tr.New)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

var registry = map[string]*Descriptor{}

func register(d *Descriptor) {
	registry[d.Version] = d
}

// Lookup returns the descriptor for a major version identifier.
func Lookup(version string) (*Descriptor, error) {
	d, ok := registry[version]
	if !ok {
		return nil, errors.Newf(errors.ErrUnsupportedVersion, "unsupported Tomcat version %q", version).
			WithDetail("version", version)
	}
	return d, nil
}

// All returns every registered descriptor ordered by version.
func All() []*Descriptor {
	out := make([]*Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return ladderCompare(out[i].Version, out[j].Version) < 0
	})
	return out
}
