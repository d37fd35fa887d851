// pkg/install/action_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: testutil.RecordingFS, real temp dirs
// PURPOSE: Each primitive makes its fact true once and is a no-op after

package install_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/install"
	"github.com/arthur-debert/tomcatd/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T) (install.Env, *testutil.RecordingFS) {
	t.Helper()
	base := t.TempDir()
	opt := filepath.Join(base, "opt")
	template := filepath.Join(opt, "apache-tomcat-9.0")
	root := filepath.Join(base, "var", "tomcat", "demo1")

	testutil.BuildTemplate(t, template, []string{
		"bin/bootstrap.jar",
		"bin/catalina.sh",
		"conf/tomcat-users.xml",
		"lib/catalina.jar",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(opt, "jdk17"), 0755))
	require.NoError(t, os.MkdirAll(root, 0755))

	fsys := testutil.NewRecordingFS()
	return install.Env{
		FS:           fsys,
		TemplateRoot: template,
		OptDir:       opt,
		InstanceRoot: root,
		UID:          1001,
		GID:          1002,
		BackupSuffix: ".2026-10-18",
	}, fsys
}

func applyTwice(t *testing.T, env install.Env, fsys *testutil.RecordingFS, a install.Action) {
	t.Helper()
	changed, err := a.Apply(env)
	require.NoError(t, err)
	assert.True(t, changed, "first apply should change")

	fsys.Reset()
	changed, err = a.Apply(env)
	require.NoError(t, err)
	assert.False(t, changed, "second apply should be a no-op")
	assert.Empty(t, fsys.Mutations())
}

func TestMkdir(t *testing.T) {
	env, fsys := newEnv(t)
	applyTwice(t, env, fsys, install.Mkdir("logs", 0750))

	info, err := os.Stat(env.Abs("logs"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0750), info.Mode().Perm())
	uid, gid, err := fsys.Owner(env.Abs("logs"))
	require.NoError(t, err)
	assert.Equal(t, 1001, uid)
	assert.Equal(t, 1002, gid)
}

func TestMkdirReassertsModeAndOwner(t *testing.T) {
	env, fsys := newEnv(t)
	require.NoError(t, os.Mkdir(env.Abs("temp"), 0777))
	require.NoError(t, os.Chmod(env.Abs("temp"), 0777))

	changed, err := install.Mkdir("temp", 0700).Apply(env)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, fsys.Mutations(), "chmod "+env.Abs("temp"))
	assert.Contains(t, fsys.Mutations(), "chown "+env.Abs("temp"))
}

func TestMkdirOverFileIsConflict(t *testing.T) {
	env, _ := newEnv(t)
	require.NoError(t, os.WriteFile(env.Abs("work"), []byte("x"), 0644))

	_, err := install.Mkdir("work", 0755).Apply(env)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInstallPlanConflict))
}

func TestSymlinkIsRelative(t *testing.T) {
	env, fsys := newEnv(t)
	require.NoError(t, os.Mkdir(env.Abs("bin"), 0755))

	applyTwice(t, env, fsys, install.Symlink("bin/catalina.sh"))

	target, err := os.Readlink(env.Abs("bin/catalina.sh"))
	require.NoError(t, err)
	assert.Equal(t, "../../../../opt/apache-tomcat-9.0/bin/catalina.sh", target)
	assert.False(t, filepath.IsAbs(target))

	content, err := os.ReadFile(env.Abs("bin/catalina.sh"))
	require.NoError(t, err)
	assert.Equal(t, "template:bin/catalina.sh\n", string(content))
}

func TestSymlinkRepointsWrongTarget(t *testing.T) {
	env, fsys := newEnv(t)
	require.NoError(t, os.Mkdir(env.Abs("lib"), 0755))
	require.NoError(t, os.Symlink("/somewhere/else.jar", env.Abs("lib/catalina.jar")))

	changed, err := install.Symlink("lib/catalina.jar").Apply(env)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, fsys.Mutations(), "remove "+env.Abs("lib/catalina.jar"))

	target, err := os.Readlink(env.Abs("lib/catalina.jar"))
	require.NoError(t, err)
	assert.Equal(t, "../../../../opt/apache-tomcat-9.0/lib/catalina.jar", target)
}

func TestSymlinkReplacesRegularFile(t *testing.T) {
	env, _ := newEnv(t)
	require.NoError(t, os.Mkdir(env.Abs("lib"), 0755))
	require.NoError(t, os.WriteFile(env.Abs("lib/catalina.jar"), []byte("stale"), 0644))

	changed, err := install.Symlink("lib/catalina.jar").Apply(env)
	require.NoError(t, err)
	assert.True(t, changed)

	info, err := os.Lstat(env.Abs("lib/catalina.jar"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
}

func TestSymlinkRefusesDirectory(t *testing.T) {
	env, _ := newEnv(t)
	require.NoError(t, os.MkdirAll(env.Abs("lib/catalina.jar"), 0755))

	_, err := install.Symlink("lib/catalina.jar").Apply(env)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrSymlinkExists))
}

func TestLinkToLiteral(t *testing.T) {
	env, fsys := newEnv(t)
	require.NoError(t, os.Mkdir(env.Abs("daemon"), 0755))

	applyTwice(t, env, fsys, install.LinkTo("daemon/tomcat", "../bin/tomcat"))

	target, err := os.Readlink(env.Abs("daemon/tomcat"))
	require.NoError(t, err)
	assert.Equal(t, "../bin/tomcat", target)
}

func TestSymlinkAllIsAdditive(t *testing.T) {
	env, fsys := newEnv(t)
	require.NoError(t, os.Mkdir(env.Abs("bin"), 0755))
	require.NoError(t, os.WriteFile(env.Abs("bin/local.sh"), []byte("mine"), 0755))

	applyTwice(t, env, fsys, install.SymlinkAll("bin"))

	farm := testutil.SymlinkFarm(t, env.InstanceRoot)
	assert.Equal(t, map[string]string{
		"bin/bootstrap.jar": "../../../../opt/apache-tomcat-9.0/bin/bootstrap.jar",
		"bin/catalina.sh":   "../../../../opt/apache-tomcat-9.0/bin/catalina.sh",
	}, farm)
	assert.FileExists(t, env.Abs("bin/local.sh"))
}

func TestCopyNeverOverwrites(t *testing.T) {
	env, fsys := newEnv(t)
	require.NoError(t, os.Mkdir(env.Abs("conf"), 0755))

	applyTwice(t, env, fsys, install.Copy("conf/tomcat-users.xml", 0640))
	assert.Equal(t, "template:conf/tomcat-users.xml\n", testutil.ReadFile(t, env.Abs("conf/tomcat-users.xml")))

	require.NoError(t, os.WriteFile(env.Abs("conf/tomcat-users.xml"), []byte("edited"), 0640))
	changed, err := install.Copy("conf/tomcat-users.xml", 0640).Apply(env)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "edited", testutil.ReadFile(t, env.Abs("conf/tomcat-users.xml")))
}

func TestDelete(t *testing.T) {
	env, fsys := newEnv(t)
	require.NoError(t, os.MkdirAll(env.Abs("shared/classes"), 0755))

	applyTwice(t, env, fsys, install.Delete("shared"))
	assert.NoDirExists(t, env.Abs("shared"))
}

func TestGenerated(t *testing.T) {
	env, fsys := newEnv(t)
	require.NoError(t, os.Mkdir(env.Abs("bin"), 0755))
	content := []byte("#!/bin/sh\n")
	gen := func() ([]byte, error) { return content, nil }

	applyTwice(t, env, fsys, install.Generated("bin/tomcat", 0700, gen))
	assert.Equal(t, "#!/bin/sh\n", testutil.ReadFile(t, env.Abs("bin/tomcat")))

	content = []byte("#!/bin/bash\n")
	changed, err := install.Generated("bin/tomcat", 0700, gen).Apply(env)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "#!/bin/sh\n", testutil.ReadFile(t, env.Abs("bin/tomcat.2026-10-18")))
}

func TestProfileScript(t *testing.T) {
	env, fsys := newEnv(t)
	require.NoError(t, os.MkdirAll(env.Abs("bin/profile.d"), 0755))

	applyTwice(t, env, fsys, install.ProfileScript("bin/profile.d/jdk.sh", "jdk17"))

	target, err := os.Readlink(env.Abs("bin/profile.d/jdk.sh"))
	require.NoError(t, err)
	assert.Equal(t, "../../../../../opt/jdk17/profile.sh", target)
}
