// pkg/versions/versions_test.go
// TEST TYPE: Integration Test
// DEPENDENCIES: install, ladder, testutil
// PURPOSE: Every registered descriptor yields a valid plan that converges under its ladder

package versions_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/install"
	"github.com/arthur-debert/tomcatd/pkg/testutil"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/arthur-debert/tomcatd/pkg/versions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instance(root string, topology types.Topology) types.Instance {
	return types.Instance{
		Name:         filepath.Base(root),
		Root:         root,
		UID:          1001,
		GID:          1001,
		Topology:     topology,
		ShutdownPort: 8005,
		Workers:      []types.Worker{{Name: "w", Protocol: "ajp", Port: 8009}},
		Sites:        []types.Site{{Name: "siteA"}},
	}
}

func TestLookup(t *testing.T) {
	for _, v := range []string{"8.5", "9.0", "10.1"} {
		d, err := versions.Lookup(v)
		require.NoError(t, err)
		assert.Equal(t, v, d.Version)
	}

	_, err := versions.Lookup("7.0")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrUnsupportedVersion))
}

func TestAllIsOrdered(t *testing.T) {
	var got []string
	for _, d := range versions.All() {
		got = append(got, d.Version)
	}
	assert.Equal(t, []string{"8.5", "9.0", "10.1"}, got)
}

func TestPlansValidate(t *testing.T) {
	for _, d := range versions.All() {
		for _, topo := range []types.Topology{types.Private, types.Shared} {
			plan := d.Plan(instance("/var/tomcat/demo1", topo))
			assert.NoError(t, plan.Validate(), "%s %s", d.Version, topo)
		}
	}
}

func TestRenderScript(t *testing.T) {
	d, err := versions.Lookup("9.0")
	require.NoError(t, err)
	script := string(d.RenderScript(instance("/var/tomcat/o'brien", types.Shared)))

	assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))
	assert.Contains(t, script, `TOMCAT_HOME='/var/tomcat/o'\''brien'`)
	assert.Contains(t, script, `CATALINA_PID="$TOMCAT_HOME/var/run/tomcat.pid"`)
}

func TestSitesScript(t *testing.T) {
	inst := types.Instance{Sites: []types.Site{
		{Name: "siteB"},
		{Name: "siteA"},
		{Name: "siteC", Disabled: true},
		{Name: "siteZ", ListFirst: true},
	}}
	assert.Equal(t, "export SITES=\"siteZ siteA siteB\"\n", string(versions.SitesScript(inst)))
	assert.Equal(t, "export SITES=\"\"\n", string(versions.SitesScript(types.Instance{})))
}

func TestDescriptorsConverge(t *testing.T) {
	for _, d := range versions.All() {
		d := d
		t.Run(d.Version, func(t *testing.T) {
			opt := filepath.Join(t.TempDir(), "opt")
			testutil.BuildTemplate(t, d.TemplateRoot(opt), d.TemplateFiles())

			build := func(t *testing.T) (install.Env, *testutil.RecordingFS) {
				root := filepath.Join(t.TempDir(), "demo1")
				require.NoError(t, os.Mkdir(root, 0755))
				fsys := testutil.NewRecordingFS()
				env := install.Env{
					FS:           fsys,
					TemplateRoot: d.TemplateRoot(opt),
					OptDir:       opt,
					InstanceRoot: root,
					UID:          1001,
					GID:          1001,
				}
				_, err := d.Plan(instance(root, types.Shared)).Apply(env)
				require.NoError(t, err)
				return env, fsys
			}

			releases := d.Ladder.Releases()
			fresh := make(map[string]map[string]string)
			for _, r := range releases {
				env, _ := build(t)
				_, err := d.Ladder.Apply(env, r)
				require.NoError(t, err)
				fresh[r] = testutil.SymlinkFarm(t, env.InstanceRoot)
			}

			for _, from := range releases {
				for _, to := range releases {
					env, fsys := build(t)
					_, err := d.Ladder.Apply(env, from)
					require.NoError(t, err)
					_, err = d.Ladder.Apply(env, to)
					require.NoError(t, err)
					assert.Equal(t, fresh[to], testutil.SymlinkFarm(t, env.InstanceRoot), "%s -> %s", from, to)

					fsys.Reset()
					changed, err := d.Ladder.Apply(env, to)
					require.NoError(t, err)
					assert.Empty(t, changed, "%s -> %s", from, to)
				}
			}
		})
	}
}
