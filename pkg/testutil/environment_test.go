// pkg/testutil/environment_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: None
// PURPOSE: Test the recording filesystem and the fake runtime

package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arthur-debert/tomcatd/pkg/lifecycle"
	"github.com/arthur-debert/tomcatd/pkg/versions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvironmentBuildsTemplates(t *testing.T) {
	env := NewEnvironment(t)

	for _, d := range versions.All() {
		assert.DirExists(t, d.TemplateRoot(env.OptDir))
		assert.Equal(t, d.Ladder.Newest(), env.Packages[d.Package])
	}
	assert.DirExists(t, env.SharedRoot)

	inst := env.Instance("alpha", "9.0")
	assert.Equal(t, filepath.Join(env.SharedRoot, "alpha"), inst.Root)
	assert.Equal(t, TestUID, inst.UID)
}

func TestRecordingFSRecordsMutations(t *testing.T) {
	dir := t.TempDir()
	fsys := NewRecordingFS()
	path := filepath.Join(dir, "a.txt")

	require.NoError(t, fsys.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, fsys.Lchown(path, 4242, 4343))
	_, err := fsys.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"write " + path, "chown " + path}, fsys.Mutations())

	uid, gid, err := fsys.Owner(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, uid)
	assert.Equal(t, 4343, gid)
	assert.Equal(t, []string{path}, fsys.OwnedPaths(dir))

	fsys.Reset()
	assert.Empty(t, fsys.Mutations())
}

func TestRecordingFSOwnershipFollowsRename(t *testing.T) {
	dir := t.TempDir()
	fsys := NewRecordingFS()
	from, to := filepath.Join(dir, "from"), filepath.Join(dir, "to")

	require.NoError(t, fsys.WriteFile(from, nil, 0644))
	fsys.SetOwner(from, 7, 8)
	require.NoError(t, fsys.Rename(from, to))

	uid, gid, err := fsys.Owner(to)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8}, []int{uid, gid})
	assert.Equal(t, []string{to}, fsys.OwnedPaths(dir))

	require.NoError(t, fsys.RemoveAll(to))
	assert.Empty(t, fsys.OwnedPaths(dir))
}

func TestRecordingFSFailOn(t *testing.T) {
	dir := t.TempDir()
	fsys := NewRecordingFS()
	path := filepath.Join(dir, "blocked")
	boom := errors.New("disk on fire")

	fsys.FailOn(path, boom)
	err := fsys.WriteFile(path, nil, 0644)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	_, statErr := os.Lstat(path)
	assert.True(t, os.IsNotExist(statErr))

	fsys.FailOn(path, nil)
	assert.NoError(t, fsys.WriteFile(path, nil, 0644))
}

func TestFakeTomcatStartStop(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var", "run"), 0755))
	fake := NewFakeTomcat()
	ctx := context.Background()

	require.NoError(t, fake.Run(ctx, lifecycle.Command{Dir: root, Args: []string{"start"}}))
	pid, err := os.ReadFile(filepath.Join(root, "var", "run", "tomcat.pid"))
	require.NoError(t, err)
	assert.Equal(t, "4001\n", string(pid))

	alive, _ := fake.Alive(4001)
	assert.True(t, alive)

	require.NoError(t, fake.Run(ctx, lifecycle.Command{Dir: root, Args: []string{"stop"}}))
	alive, _ = fake.Alive(4001)
	assert.False(t, alive)

	assert.Equal(t, []string{filepath.Base(root) + " start", filepath.Base(root) + " stop"}, fake.Actions())
}

func TestFakeTomcatHangsUntilCancelled(t *testing.T) {
	fake := NewFakeTomcat()
	fake.HangOn["stop"] = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := fake.Run(ctx, lifecycle.Command{Dir: t.TempDir(), Args: []string{"stop"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, fake.Kill(99))
	assert.Equal(t, []int{99}, fake.Killed())
}
