// pkg/manager/manager_test.go
// TEST TYPE: Integration Test
// DEPENDENCIES: testutil.Environment (real temp dirs, in-memory ownership)
// PURPOSE: Install state machine, derived files and restart flag

package manager_test

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/manager"
	"github.com/arthur-debert/tomcatd/pkg/marker"
	"github.com/arthur-debert/tomcatd/pkg/serverxml"
	"github.com/arthur-debert/tomcatd/pkg/testutil"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/arthur-debert/tomcatd/pkg/versions"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(env *testutil.Environment) *manager.Manager {
	return &manager.Manager{
		FS:       env.FS,
		Packages: env.Packages,
		Clock:    env.Clock,
		OptDir:   env.OptDir,
		Logger:   zerolog.Nop(),
	}
}

func demo1(env *testutil.Environment) types.Instance {
	return env.Instance("demo1", "9.0",
		types.Site{Name: "siteA", GID: 2001, PrimaryHostname: "a.example.com"},
		types.Site{Name: "siteB", GID: 2002, PrimaryHostname: "b.example.com", Disabled: true},
	)
}

func reconcile(t *testing.T, m *manager.Manager, inst types.Instance) types.ReconcileResult {
	t.Helper()
	result, err := m.Reconcile(context.Background(), inst)
	require.NoError(t, err)
	return result
}

func TestDemo1(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)

	first := reconcile(t, m, inst)
	assert.Equal(t, manager.StateFresh, first.State)
	assert.True(t, first.Dirty)
	assert.True(t, types.NewRestartSet(first).Contains("demo1"))

	root := inst.Root
	assert.Equal(t, "export SITES=\"siteA\"\n", testutil.ReadFile(t, filepath.Join(root, versions.SitesPath)))

	siteA := filepath.Join(root, versions.WorkDir, "siteA")
	assert.DirExists(t, siteA)
	uid, gid, err := env.FS.Owner(siteA)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUID, uid)
	assert.Equal(t, 2001, gid)
	assert.NoDirExists(t, filepath.Join(root, versions.WorkDir, "siteB"))

	target, err := os.Readlink(filepath.Join(root, versions.DaemonPath))
	require.NoError(t, err)
	assert.Equal(t, "../bin/tomcat", target)

	uid, _, err = env.FS.Owner(root)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUID, uid)
	assert.FileExists(t, filepath.Join(root, marker.FileName))

	env.FS.Reset()
	second := reconcile(t, m, inst)
	assert.Equal(t, manager.StateCurrent, second.State)
	assert.False(t, second.Dirty)
	assert.Empty(t, second.Changed)
	assert.Empty(t, env.FS.Mutations())
	assert.False(t, types.NewRestartSet(second).Contains("demo1"))
}

func TestIdempotentForEveryVersion(t *testing.T) {
	for _, d := range versions.All() {
		t.Run(d.Version, func(t *testing.T) {
			env := testutil.NewEnvironment(t)
			m := newManager(env)
			inst := env.Instance("inst", d.Version, types.Site{Name: "site", GID: 2001})

			reconcile(t, m, inst)
			env.FS.Reset()
			result := reconcile(t, m, inst)
			assert.False(t, result.Dirty)
			assert.Empty(t, env.FS.Mutations())
		})
	}
}

func TestPrivateInstance(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := env.Instance("private1", "10.1", types.Site{Name: "only", GID: 2001})
	inst.Topology = types.Private

	result := reconcile(t, m, inst)
	assert.True(t, result.Dirty)
	assert.DirExists(t, filepath.Join(inst.Root, "webapps", "ROOT"))

	env.FS.Reset()
	reconcile(t, m, inst)
	assert.Empty(t, env.FS.Mutations())
}

func TestStaleMarkerRebuilds(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	reconcile(t, m, inst)

	users := filepath.Join(inst.Root, "conf", "tomcat-users.xml")
	require.NoError(t, os.WriteFile(users, []byte("<tomcat-users/>\n"), 0660))
	require.NoError(t, os.WriteFile(filepath.Join(inst.Root, marker.FileName), []byte("Source: /opt/apache-tomcat-8.5\n"), 0644))

	result := reconcile(t, m, inst)
	assert.Equal(t, manager.StateRebuild, result.State)
	assert.True(t, result.Dirty)
	assert.Contains(t, result.Changed, marker.FileName)
	assert.Equal(t, "<tomcat-users/>\n", testutil.ReadFile(t, users))

	env.FS.Reset()
	result = reconcile(t, m, inst)
	assert.Equal(t, manager.StateCurrent, result.State)
	assert.Empty(t, env.FS.Mutations())
}

func TestRootOwnedBySentinelIsFresh(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	require.NoError(t, os.Mkdir(inst.Root, 0755))
	env.FS.SetOwner(inst.Root, 0, 0)

	result := reconcile(t, m, inst)
	assert.Equal(t, manager.StateFresh, result.State)
	assert.True(t, result.Dirty)
}

func TestPackageUpdateMovesLadderLinks(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	d, err := versions.Lookup("9.0")
	require.NoError(t, err)

	env.Packages[d.Package] = d.Ladder.Oldest()
	reconcile(t, m, inst)
	before, err := os.Readlink(filepath.Join(inst.Root, "lib", "ecj.jar"))
	require.NoError(t, err)
	assert.Equal(t, "ecj-4.27.jar", filepath.Base(before))

	env.Packages[d.Package] = d.Ladder.Newest()
	result := reconcile(t, m, inst)
	assert.Equal(t, manager.StateCurrent, result.State)
	assert.True(t, result.Dirty)
	assert.Contains(t, result.Changed, "lib/ecj.jar")
	assert.Equal(t, d.Ladder.Newest(), result.Installed)

	after, err := os.Readlink(filepath.Join(inst.Root, "lib", "ecj.jar"))
	require.NoError(t, err)
	assert.Equal(t, "ecj-4.30.jar", filepath.Base(after))

	env.Packages[d.Package] = d.Ladder.Oldest()
	result = reconcile(t, m, inst)
	assert.True(t, result.Dirty)
	after, err = os.Readlink(filepath.Join(inst.Root, "lib", "ecj.jar"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMajorVersionSwitchMatchesFreshInstall(t *testing.T) {
	tests := []struct {
		from, to string
		release  string
	}{
		{from: "10.1", to: "9.0", release: "9.0.80-1"},
		{from: "10.1", to: "9.0"},
		{from: "9.0", to: "10.1"},
		{from: "8.5", to: "10.1"},
		{from: "10.1", to: "8.5"},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to+" "+tt.release, func(t *testing.T) {
			env := testutil.NewEnvironment(t)
			m := newManager(env)
			to, err := versions.Lookup(tt.to)
			require.NoError(t, err)
			if tt.release != "" {
				env.Packages[to.Package] = tt.release
			}

			moved := env.Instance("moved", tt.from, types.Site{Name: "site", GID: 2001})
			reconcile(t, m, moved)
			moved.Version = tt.to
			result := reconcile(t, m, moved)
			assert.Equal(t, manager.StateRebuild, result.State)
			assert.True(t, result.Dirty)

			fresh := env.Instance("fresh", tt.to, types.Site{Name: "site", GID: 2001})
			reconcile(t, m, fresh)
			assert.Equal(t, testutil.SymlinkFarm(t, fresh.Root), testutil.SymlinkFarm(t, moved.Root))

			env.FS.Reset()
			result = reconcile(t, m, moved)
			assert.Equal(t, manager.StateCurrent, result.State)
			assert.Empty(t, env.FS.Mutations())
		})
	}
}

func TestDowngradeTo90DropsJakartaLinks(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	d, err := versions.Lookup("9.0")
	require.NoError(t, err)
	env.Packages[d.Package] = "9.0.80-1"

	inst := env.Instance("demo1", "10.1", types.Site{Name: "site", GID: 2001})
	reconcile(t, m, inst)
	inst.Version = "9.0"
	reconcile(t, m, inst)

	for _, rel := range []string{"lib/jakartaee-migration.jar", "lib/tomcat-i18n-pt-BR.jar"} {
		_, err := os.Lstat(filepath.Join(inst.Root, rel))
		assert.True(t, os.IsNotExist(err), "%s still present", rel)
	}
}

func TestServerXMLChangeMarksDirty(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	reconcile(t, m, inst)
	path := filepath.Join(inst.Root, versions.ServerXMLPath)
	previous := testutil.ReadFile(t, path)

	inst.Sites[0].Aliases = []string{"www.a.example.com"}
	result := reconcile(t, m, inst)
	assert.True(t, result.Dirty)
	assert.Equal(t, []string{versions.ServerXMLPath}, result.Changed)
	assert.Contains(t, testutil.ReadFile(t, path), "www.a.example.com")
	assert.Equal(t, previous, testutil.ReadFile(t, path+".2026-10-18"))
}

func TestSiteMembershipChanges(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	reconcile(t, m, inst)

	inst.Sites[1].Disabled = false
	result := reconcile(t, m, inst)
	assert.True(t, result.Dirty)
	assert.Contains(t, result.Changed, versions.SitesPath)
	assert.DirExists(t, filepath.Join(inst.Root, versions.WorkDir, "siteB"))
	assert.Equal(t, "export SITES=\"siteA siteB\"\n", testutil.ReadFile(t, filepath.Join(inst.Root, versions.SitesPath)))

	inst.Sites[0].Disabled = true
	result = reconcile(t, m, inst)
	assert.True(t, result.Dirty)
	assert.Equal(t, []string{filepath.Join(inst.Root, versions.WorkDir, "siteA")}, result.Orphans)
}

func TestDaemonLinkDoesNotMarkDirty(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	reconcile(t, m, inst)

	inst.Disabled = true
	result := reconcile(t, m, inst)
	assert.False(t, result.Dirty)
	_, err := os.Lstat(filepath.Join(inst.Root, versions.DaemonPath))
	assert.True(t, os.IsNotExist(err))

	inst.Disabled = false
	result = reconcile(t, m, inst)
	assert.False(t, result.Dirty)
	assert.FileExists(t, filepath.Join(inst.Root, versions.DaemonPath))
}

func TestManualStripsBannerOnly(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	inst.Manual = true
	conf := filepath.Join(inst.Root, "conf")
	require.NoError(t, os.MkdirAll(conf, 0755))
	path := filepath.Join(conf, "server.xml")
	custom := "<Server port=\"9005\">\n  <!-- hand tuned -->\n</Server>\n"
	require.NoError(t, os.WriteFile(path, []byte(serverxml.Banner+custom), 0640))

	result := reconcile(t, m, inst)
	assert.Equal(t, manager.StateManual, result.State)
	assert.False(t, result.Dirty)
	assert.Equal(t, custom, testutil.ReadFile(t, path))
	assert.NoFileExists(t, filepath.Join(inst.Root, marker.FileName))

	env.FS.Reset()
	reconcile(t, m, inst)
	assert.Equal(t, custom, testutil.ReadFile(t, path))
	assert.Empty(t, env.FS.Mutations())
}

func TestManualKeepsSymlinkedServerXML(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	inst.Manual = true
	conf := filepath.Join(inst.Root, "conf")
	require.NoError(t, os.MkdirAll(conf, 0755))
	shared := filepath.Join(env.Base, "server.xml")
	content := serverxml.Banner + "<Server port=\"9005\"/>\n"
	require.NoError(t, os.WriteFile(shared, []byte(content), 0644))
	path := filepath.Join(conf, "server.xml")
	require.NoError(t, os.Symlink(shared, path))

	result := reconcile(t, m, inst)
	assert.False(t, result.Dirty)

	info, err := os.Lstat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
	assert.Equal(t, content, testutil.ReadFile(t, shared))
}

func TestManualWritesMissingServerXML(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	inst.Manual = true
	require.NoError(t, os.MkdirAll(filepath.Join(inst.Root, "conf"), 0755))

	result := reconcile(t, m, inst)
	assert.True(t, result.Dirty)
	assert.Contains(t, testutil.ReadFile(t, filepath.Join(inst.Root, versions.ServerXMLPath)), serverxml.Banner)
}

func TestManualWithoutDirectoryDoesNothing(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	inst.Manual = true

	result := reconcile(t, m, inst)
	assert.Equal(t, manager.StateManual, result.State)
	assert.Empty(t, env.FS.Mutations())
	assert.NoDirExists(t, inst.Root)
}

func TestFailuresLeaveNothingBehindBeforeWriting(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*testutil.Environment, *types.Instance)
		code   errors.ErrorCode
	}{
		{"no ajp worker", func(_ *testutil.Environment, i *types.Instance) { i.Workers = nil }, errors.ErrConfigInconsistent},
		{"unknown version", func(_ *testutil.Environment, i *types.Instance) { i.Version = "7.0" }, errors.ErrUnsupportedVersion},
		{"package too new", func(e *testutil.Environment, _ *types.Instance) { e.Packages["apache-tomcat_9_0"] = "9.1.0-1" }, errors.ErrUnsupportedVersion},
		{"package missing", func(e *testutil.Environment, _ *types.Instance) { delete(e.Packages, "apache-tomcat_9_0") }, errors.ErrNotFound},
		{"relative root", func(_ *testutil.Environment, i *types.Instance) { i.Root = "var/tomcat/demo1" }, errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testutil.NewEnvironment(t)
			m := newManager(env)
			inst := demo1(env)
			tt.mutate(env, &inst)

			_, err := m.Reconcile(context.Background(), inst)
			require.Error(t, err)
			assert.True(t, errors.IsErrorCode(err, tt.code), "got %v", err)
			assert.Empty(t, env.FS.Mutations())
		})
	}
}

func TestInterruptedInstallResumes(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)
	env.FS.FailOn(filepath.Join(inst.Root, "lib"), syscall.ENOSPC)

	_, err := m.Reconcile(context.Background(), inst)
	require.Error(t, err)
	assert.Equal(t, "lib", errors.GetErrorDetails(err)["path"])
	assert.NoFileExists(t, filepath.Join(inst.Root, marker.FileName))

	env.FS.FailOn(filepath.Join(inst.Root, "lib"), nil)
	result := reconcile(t, m, inst)
	assert.Equal(t, manager.StateFresh, result.State)
	assert.FileExists(t, filepath.Join(inst.Root, marker.FileName))
}

func TestInspectDoesNotWrite(t *testing.T) {
	env := testutil.NewEnvironment(t)
	m := newManager(env)
	inst := demo1(env)

	result, err := m.Inspect(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, manager.StateFresh, result.State)
	assert.True(t, result.Dirty)

	reconcile(t, m, inst)
	env.FS.Reset()

	result, err = m.Inspect(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, manager.StateCurrent, result.State)
	assert.False(t, result.Dirty)

	inst.Sites[1].Disabled = false
	result, err = m.Inspect(context.Background(), inst)
	require.NoError(t, err)
	assert.True(t, result.Dirty)
	assert.ElementsMatch(t, []string{versions.ServerXMLPath, versions.SitesPath}, result.Changed)
	assert.Empty(t, env.FS.Mutations())
}
