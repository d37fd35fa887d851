package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arthur-debert/tomcatd/pkg/errors"
)

// Topology distinguishes a single-site instance from one serving many sites.
type Topology int

const (
	// Private is a "standard" instance owned by exactly one site.
	Private Topology = iota
	// Shared is an instance whose JVM serves several member sites.
	Shared
)

// String returns the lowercase topology name used in config and markers.
func (t Topology) String() string {
	switch t {
	case Private:
		return "private"
	case Shared:
		return "shared"
	default:
		return fmt.Sprintf("topology(%d)", int(t))
	}
}

// ParseTopology converts a config string into a Topology.
func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "private", "standard":
		return Private, nil
	case "shared":
		return Shared, nil
	default:
		return Private, errors.Newf(errors.ErrInvalidInput, "unknown topology %q", s)
	}
}

// Worker is a connector the instance listens on.
type Worker struct {
	Name     string
	Protocol string // "ajp" or "http"
	Bind     string
	Port     int
	Secret   string
}

// IsAJP reports whether the worker speaks AJP.
func (w Worker) IsAJP() bool {
	return strings.EqualFold(w.Protocol, "ajp")
}

// ContextParameter is a servlet context init parameter.
type ContextParameter struct {
	Name        string
	Value       string
	Override    bool
	Description string
}

// DataSource is a JNDI JDBC resource bound in a context.
type DataSource struct {
	Name            string
	DriverClassName string
	URL             string
	Username        string
	Password        string
	MaxActive       int
	MaxIdle         int
	MaxWait         int
}

// Context is one web application deployed in a site.
type Context struct {
	Path        string
	DocBase     string
	Privileged  bool
	Reloadable  bool
	Parameters  []ContextParameter
	DataSources []DataSource
}

// Site is one hosted web application/domain. Read-only for tomcatd.
type Site struct {
	Name            string
	GID             int
	Disabled        bool
	ListFirst       bool
	PrimaryHostname string
	Aliases         []string
	// Base is the site's own directory holding its webapps, when it has one.
	Base            string
	Contexts        []Context
}

// Instance is one Tomcat runtime directory and the desired state for it.
type Instance struct {
	Name     string
	Root     string
	UID      int
	GID      int
	User     string
	Manual   bool
	Disabled bool
	Version  string
	Topology Topology
	Sites    []Site
	Workers  []Worker

	ShutdownPort        int
	ShutdownKey         string
	MaxPostSize         int
	UnpackWARs          bool
	AutoDeploy          bool
	UndeployOldVersions bool
}

// EnabledSites returns the non-disabled sites, "list first" sites ahead of
// the rest and each group ordered by name.
func (i Instance) EnabledSites() []Site {
	var sites []Site
	for _, s := range i.Sites {
		if !s.Disabled {
			sites = append(sites, s)
		}
	}
	sort.SliceStable(sites, func(a, b int) bool {
		if sites[a].ListFirst != sites[b].ListFirst {
			return sites[a].ListFirst
		}
		return sites[a].Name < sites[b].Name
	})
	return sites
}

// HasEnabledSite reports whether at least one member site is enabled.
func (i Instance) HasEnabledSite() bool {
	for _, s := range i.Sites {
		if !s.Disabled {
			return true
		}
	}
	return false
}

// ShouldRun reports whether the instance's process is wanted at all.
func (i Instance) ShouldRun() bool {
	return !i.Disabled && i.HasEnabledSite()
}

// AJPWorkers returns the workers speaking AJP, in declaration order.
func (i Instance) AJPWorkers() []Worker {
	var out []Worker
	for _, w := range i.Workers {
		if w.IsAJP() {
			out = append(out, w)
		}
	}
	return out
}
