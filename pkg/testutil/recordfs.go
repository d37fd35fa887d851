package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/arthur-debert/tomcatd/pkg/filesystem"
	"github.com/arthur-debert/tomcatd/pkg/types"
)

// RecordingFS is a real-disk types.FS that keeps ownership in memory and
// records every mutating call. Tests run as an unprivileged user can then
// reconcile instances "owned" by arbitrary uids, and assert that a second
// pass performs no writes at all.
type RecordingFS struct {
	inner types.FS

	mu        sync.Mutex
	owners    map[string][2]int
	mutations []string
	failures  map[string]error
}

// NewRecordingFS wraps the OS filesystem.
func NewRecordingFS() *RecordingFS {
	return &RecordingFS{
		inner:    filesystem.NewOS(),
		owners:   make(map[string][2]int),
		failures: make(map[string]error),
	}
}

// FailOn makes every mutating call on path return err. A nil err clears
// the failure.
func (r *RecordingFS) FailOn(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, filepath.Clean(path))
		return
	}
	r.failures[filepath.Clean(path)] = err
}

// Mutations returns the recorded mutating calls as "op path".
func (r *RecordingFS) Mutations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.mutations))
	copy(out, r.mutations)
	return out
}

// Reset forgets recorded mutations, keeping ownership.
func (r *RecordingFS) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = nil
}

// SetOwner records ownership without counting a mutation.
func (r *RecordingFS) SetOwner(path string, uid, gid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[filepath.Clean(path)] = [2]int{uid, gid}
}

// Paths with recorded ownership under root, sorted.
func (r *RecordingFS) OwnedPaths(root string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for p := range r.owners {
		if p == root || strings.HasPrefix(p, root+string(filepath.Separator)) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (r *RecordingFS) record(op, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clean := filepath.Clean(path)
	if err, ok := r.failures[clean]; ok {
		return &fs.PathError{Op: op, Path: path, Err: err}
	}
	r.mutations = append(r.mutations, op+" "+clean)
	return nil
}

func (r *RecordingFS) Stat(name string) (fs.FileInfo, error)     { return r.inner.Stat(name) }
func (r *RecordingFS) Lstat(name string) (fs.FileInfo, error)    { return r.inner.Lstat(name) }
func (r *RecordingFS) ReadFile(name string) ([]byte, error)      { return r.inner.ReadFile(name) }
func (r *RecordingFS) ReadDir(name string) ([]fs.DirEntry, error) { return r.inner.ReadDir(name) }
func (r *RecordingFS) Readlink(name string) (string, error)      { return r.inner.Readlink(name) }

func (r *RecordingFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if err := r.record("write", name); err != nil {
		return err
	}
	return r.inner.WriteFile(name, data, perm)
}

func (r *RecordingFS) Mkdir(path string, perm fs.FileMode) error {
	if err := r.record("mkdir", path); err != nil {
		return err
	}
	return r.inner.Mkdir(path, perm)
}

func (r *RecordingFS) MkdirAll(path string, perm fs.FileMode) error {
	if _, err := r.inner.Stat(path); err == nil {
		return nil
	}
	if err := r.record("mkdirall", path); err != nil {
		return err
	}
	return r.inner.MkdirAll(path, perm)
}

func (r *RecordingFS) Symlink(oldname, newname string) error {
	if err := r.record("symlink", newname); err != nil {
		return err
	}
	return r.inner.Symlink(oldname, newname)
}

func (r *RecordingFS) Remove(name string) error {
	if err := r.record("remove", name); err != nil {
		return err
	}
	r.forget(name)
	return r.inner.Remove(name)
}

func (r *RecordingFS) RemoveAll(path string) error {
	if err := r.record("removeall", path); err != nil {
		return err
	}
	r.forget(path)
	return r.inner.RemoveAll(path)
}

func (r *RecordingFS) Rename(oldpath, newpath string) error {
	if err := r.record("rename", newpath); err != nil {
		return err
	}
	if err := r.inner.Rename(oldpath, newpath); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	oldClean, newClean := filepath.Clean(oldpath), filepath.Clean(newpath)
	if owner, ok := r.owners[oldClean]; ok {
		r.owners[newClean] = owner
		delete(r.owners, oldClean)
	} else {
		delete(r.owners, newClean)
	}
	return nil
}

func (r *RecordingFS) Chmod(name string, mode fs.FileMode) error {
	if err := r.record("chmod", name); err != nil {
		return err
	}
	return r.inner.Chmod(name, mode)
}

// Lchown records ownership in memory instead of calling chown(2).
func (r *RecordingFS) Lchown(name string, uid, gid int) error {
	if _, err := r.inner.Lstat(name); err != nil {
		return err
	}
	if err := r.record("chown", name); err != nil {
		return err
	}
	r.SetOwner(name, uid, gid)
	return nil
}

// Owner returns the recorded ownership, falling back to the real owner.
func (r *RecordingFS) Owner(name string) (int, int, error) {
	if _, err := r.inner.Lstat(name); err != nil {
		return -1, -1, err
	}
	r.mu.Lock()
	owner, ok := r.owners[filepath.Clean(name)]
	r.mu.Unlock()
	if ok {
		return owner[0], owner[1], nil
	}
	return r.inner.Owner(name)
}

func (r *RecordingFS) forget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clean := filepath.Clean(path)
	for p := range r.owners {
		if p == clean || strings.HasPrefix(p, clean+string(os.PathSeparator)) {
			delete(r.owners, p)
		}
	}
}

var _ types.FS = (*RecordingFS)(nil)
