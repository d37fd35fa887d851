// Package desired loads the desired state of every instance on the host
// from a YAML document.
//
//	instances:
//	  - name: demo1
//	    version: "9.0"
//	    topology: shared
//	    uid: 1001
//	    gid: 1001
//	    workers:
//	      - {name: demo1_ajp, protocol: ajp, bind: 127.0.0.1, port: 8009}
//	    sites:
//	      - {name: siteA, gid: 2001, primary_hostname: a.example.com}
//
// Instances without an explicit root live under the shared or private
// root for their topology.
package desired

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"regexp"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk layout.
type Document struct {
	Instances []InstanceDef `yaml:"instances"`
}

// InstanceDef is one instance entry.
type InstanceDef struct {
	Name                string      `yaml:"name"`
	Root                string      `yaml:"root,omitempty"`
	UID                 int         `yaml:"uid"`
	GID                 int         `yaml:"gid"`
	User                string      `yaml:"user,omitempty"`
	Manual              bool        `yaml:"manual,omitempty"`
	Disabled            bool        `yaml:"disabled,omitempty"`
	Version             string      `yaml:"version"`
	Topology            string      `yaml:"topology"`
	ShutdownPort        int         `yaml:"shutdown_port,omitempty"`
	ShutdownKey         string      `yaml:"shutdown_key,omitempty"`
	MaxPostSize         int         `yaml:"max_post_size,omitempty"`
	UnpackWARs          bool        `yaml:"unpack_wars,omitempty"`
	AutoDeploy          bool        `yaml:"auto_deploy,omitempty"`
	UndeployOldVersions bool        `yaml:"undeploy_old_versions,omitempty"`
	Workers             []WorkerDef `yaml:"workers,omitempty"`
	Sites               []SiteDef   `yaml:"sites,omitempty"`
}

// WorkerDef is a connector entry.
type WorkerDef struct {
	Name     string `yaml:"name"`
	Protocol string `yaml:"protocol"`
	Bind     string `yaml:"bind,omitempty"`
	Port     int    `yaml:"port"`
	Secret   string `yaml:"secret,omitempty"`
}

// SiteDef is a member site. Base overrides the site's appBase.
type SiteDef struct {
	Name            string       `yaml:"name"`
	GID             int          `yaml:"gid"`
	Disabled        bool         `yaml:"disabled,omitempty"`
	ListFirst       bool         `yaml:"list_first,omitempty"`
	PrimaryHostname string       `yaml:"primary_hostname,omitempty"`
	Aliases         []string     `yaml:"aliases,omitempty"`
	Base            string       `yaml:"base,omitempty"`
	Contexts        []ContextDef `yaml:"contexts,omitempty"`
}

// ContextDef is a web application context inside a site.
type ContextDef struct {
	Path        string          `yaml:"path"`
	DocBase     string          `yaml:"doc_base"`
	Privileged  bool            `yaml:"privileged,omitempty"`
	Reloadable  bool            `yaml:"reloadable,omitempty"`
	Parameters  []ParameterDef  `yaml:"parameters,omitempty"`
	DataSources []DataSourceDef `yaml:"data_sources,omitempty"`
}

// ParameterDef is a context init parameter.
type ParameterDef struct {
	Name        string `yaml:"name"`
	Value       string `yaml:"value"`
	Override    bool   `yaml:"override,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// DataSourceDef is a JNDI data source bound in a context.
type DataSourceDef struct {
	Name            string `yaml:"name"`
	DriverClassName string `yaml:"driver_class_name"`
	URL             string `yaml:"url"`
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	MaxActive       int    `yaml:"max_active,omitempty"`
	MaxIdle         int    `yaml:"max_idle,omitempty"`
	MaxWait         int    `yaml:"max_wait,omitempty"`
}

// Roots are the default parent directories of instance roots.
type Roots struct {
	Shared  string
	Private string
}

func (r Roots) forTopology(t types.Topology) string {
	if t == types.Shared {
		return r.Shared
	}
	return r.Private
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Parse decodes and validates a desired-state document. Unknown keys are
// rejected.
func Parse(r io.Reader, roots Roots) ([]types.Instance, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, errors.ErrDesiredState, "decoding desired state")
	}

	instances := make([]types.Instance, 0, len(doc.Instances))
	names := make(map[string]bool)
	seenRoots := make(map[string]string)
	for i, def := range doc.Instances {
		inst, err := def.instance(roots)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrDesiredState, "instance #%d", i+1).
				WithDetail("instance", def.Name)
		}
		if names[inst.Name] {
			return nil, errors.Newf(errors.ErrDesiredState, "instance %q listed twice", inst.Name).
				WithDetail("instance", inst.Name)
		}
		if other, ok := seenRoots[inst.Root]; ok {
			return nil, errors.Newf(errors.ErrDesiredState, "instances %q and %q share root %s", other, inst.Name, inst.Root).
				WithDetail("instance", inst.Name)
		}
		names[inst.Name] = true
		seenRoots[inst.Root] = inst.Name
		instances = append(instances, inst)
	}
	return instances, nil
}

func (def InstanceDef) instance(roots Roots) (types.Instance, error) {
	if !namePattern.MatchString(def.Name) {
		return types.Instance{}, invalid(def.Name, "invalid name %q", def.Name)
	}
	if def.Version == "" {
		return types.Instance{}, invalid(def.Name, "%s: version is required", def.Name)
	}
	if def.UID <= 0 || def.GID <= 0 {
		return types.Instance{}, invalid(def.Name, "%s: uid and gid must be positive", def.Name)
	}
	topology, err := types.ParseTopology(def.Topology)
	if err != nil {
		return types.Instance{}, errors.Wrapf(err, errors.ErrDesiredState, "%s: topology", def.Name)
	}

	root := def.Root
	if root == "" {
		parent := roots.forTopology(topology)
		if parent == "" {
			return types.Instance{}, invalid(def.Name, "%s: root is required", def.Name)
		}
		root = filepath.Join(parent, def.Name)
	}
	if !filepath.IsAbs(root) {
		return types.Instance{}, invalid(def.Name, "%s: root %q is not absolute", def.Name, root)
	}

	user := def.User
	if user == "" {
		user = def.Name
	}

	inst := types.Instance{
		Name:                def.Name,
		Root:                filepath.Clean(root),
		UID:                 def.UID,
		GID:                 def.GID,
		User:                user,
		Manual:              def.Manual,
		Disabled:            def.Disabled,
		Version:             def.Version,
		Topology:            topology,
		ShutdownPort:        def.ShutdownPort,
		ShutdownKey:         def.ShutdownKey,
		MaxPostSize:         def.MaxPostSize,
		UnpackWARs:          def.UnpackWARs,
		AutoDeploy:          def.AutoDeploy,
		UndeployOldVersions: def.UndeployOldVersions,
	}
	for _, w := range def.Workers {
		inst.Workers = append(inst.Workers, types.Worker(w))
	}

	seen := make(map[string]bool)
	for _, s := range def.Sites {
		if !namePattern.MatchString(s.Name) {
			return types.Instance{}, invalid(def.Name, "%s: invalid site name %q", def.Name, s.Name)
		}
		if seen[s.Name] {
			return types.Instance{}, invalid(def.Name, "%s: site %q listed twice", def.Name, s.Name)
		}
		seen[s.Name] = true
		inst.Sites = append(inst.Sites, s.site())
	}
	return inst, nil
}

func (s SiteDef) site() types.Site {
	site := types.Site{
		Name:            s.Name,
		GID:             s.GID,
		Disabled:        s.Disabled,
		ListFirst:       s.ListFirst,
		PrimaryHostname: s.PrimaryHostname,
		Aliases:         s.Aliases,
		Base:            s.Base,
	}
	for _, c := range s.Contexts {
		ctx := types.Context{
			Path:       c.Path,
			DocBase:    c.DocBase,
			Privileged: c.Privileged,
			Reloadable: c.Reloadable,
		}
		for _, p := range c.Parameters {
			ctx.Parameters = append(ctx.Parameters, types.ContextParameter(p))
		}
		for _, ds := range c.DataSources {
			ctx.DataSources = append(ctx.DataSources, types.DataSource(ds))
		}
		site.Contexts = append(site.Contexts, ctx)
	}
	return site
}

func invalid(instance, format string, args ...interface{}) error {
	return errors.Newf(errors.ErrDesiredState, format, args...).WithDetail("instance", instance)
}

// File reads desired state from a YAML file on every call.
type File struct {
	FS    types.FS
	Path  string
	Roots Roots
}

// Instances implements fleet.Provider.
func (f *File) Instances(ctx context.Context) ([]types.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := f.FS.ReadFile(f.Path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrDesiredState, "reading %s", f.Path).
			WithDetail("path", f.Path)
	}
	return Parse(bytes.NewReader(data), f.Roots)
}

// Lookup returns the named instance.
func Lookup(instances []types.Instance, name string) (types.Instance, error) {
	for _, inst := range instances {
		if inst.Name == name {
			return inst, nil
		}
	}
	return types.Instance{}, errors.Newf(errors.ErrInstanceNotFound, "no instance named %q", name).
		WithDetail("instance", name)
}
