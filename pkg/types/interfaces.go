package types

import (
	"io/fs"
)

// FS is the filesystem boundary every reconciliation step goes through.
// Creation always carries an explicit mode; ownership is asserted with
// Lchown so that symlinks themselves (not their targets) are chowned.
type FS interface {
	// File operations
	Stat(name string) (fs.FileInfo, error)
	Lstat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// Directory operations
	Mkdir(path string, perm fs.FileMode) error
	MkdirAll(path string, perm fs.FileMode) error
	ReadDir(name string) ([]fs.DirEntry, error)

	// Symlink operations
	Symlink(oldname, newname string) error
	Readlink(name string) (string, error)

	// Other operations
	Remove(name string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error

	// Ownership and permissions
	Chmod(name string, mode fs.FileMode) error
	Lchown(name string, uid, gid int) error
	Owner(name string) (uid, gid int, err error)
}
