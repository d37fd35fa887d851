// pkg/testutil/environment.go
// DEPENDENCIES: versions, packages, clock
// PURPOSE: A throwaway host with runtime templates, a shared instance root and fakes

package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arthur-debert/tomcatd/pkg/clock"
	"github.com/arthur-debert/tomcatd/pkg/packages"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/arthur-debert/tomcatd/pkg/versions"
)

// Default identities used by test instances.
const (
	TestUID = 1001
	TestGID = 1001
)

// Environment is an isolated host under t.TempDir().
type Environment struct {
	Base       string
	OptDir     string
	SharedRoot string

	FS       *RecordingFS
	Clock    *clock.Fake
	Packages packages.Static
}

// NewEnvironment builds a template for every registered version, with each
// runtime package reported at its newest supported release.
func NewEnvironment(t *testing.T) *Environment {
	t.Helper()

	base := t.TempDir()
	env := &Environment{
		Base:       base,
		OptDir:     filepath.Join(base, "opt"),
		SharedRoot: filepath.Join(base, "var", "tomcat"),
		FS:         NewRecordingFS(),
		Clock:      clock.NewFake(time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)),
		Packages:   packages.Static{},
	}

	jdks := map[string]bool{}
	for _, d := range versions.All() {
		BuildTemplate(t, d.TemplateRoot(env.OptDir), d.TemplateFiles())
		env.Packages[d.Package] = d.Ladder.Newest()
		jdks[d.JDK] = true
	}
	for jdk := range jdks {
		BuildTemplate(t, filepath.Join(env.OptDir, jdk), []string{"profile.sh"})
	}
	if err := os.MkdirAll(env.SharedRoot, 0755); err != nil {
		t.Fatalf("creating shared root: %v", err)
	}
	return env
}

// Instance returns a runnable shared instance under SharedRoot.
func (e *Environment) Instance(name, version string, sites ...types.Site) types.Instance {
	return types.Instance{
		Name:         name,
		Root:         filepath.Join(e.SharedRoot, name),
		UID:          TestUID,
		GID:          TestGID,
		User:         name,
		Version:      version,
		Topology:     types.Shared,
		Sites:        sites,
		ShutdownPort: 8005,
		ShutdownKey:  "shutdown-" + name,
		Workers: []types.Worker{
			{Name: name + "_ajp", Protocol: "ajp", Bind: "127.0.0.1", Port: 8009},
		},
	}
}
