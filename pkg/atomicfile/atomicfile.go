// Package atomicfile implements content-compared, crash-safe file
// replacement.
//
// The new content is built in memory and compared byte for byte with the
// live file. Only when it differs is a temporary sibling written (with the
// final mode and ownership), the previous version copied to a dated backup
// under a name that is not yet in use, and the temporary renamed over the
// live path. Readers never observe a missing or partial file.
package atomicfile

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/google/uuid"
)

// DateLayout is the date format used for backup suffixes.
const DateLayout = "2006-01-02"

// Options controls how a file is written.
type Options struct {
	Mode fs.FileMode
	UID  int
	GID  int
	// BackupSuffix is appended to the path to name the backup of the
	// previous content. Empty disables backups.
	BackupSuffix string
}

// BackupSuffix returns the dated suffix for backups made at now.
func BackupSuffix(now time.Time) string {
	return "." + now.Format(DateLayout)
}

// Write replaces path with content if and only if the content differs.
// It returns true when the live file was replaced or created.
func Write(fsys types.FS, path string, content []byte, opts Options) (bool, error) {
	current, err := fsys.ReadFile(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "reading %s", path)
	}

	if exists && bytes.Equal(current, content) {
		return false, ensureAttrs(fsys, path, opts)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := writeTemp(fsys, tmp, content, opts); err != nil {
		return false, err
	}

	if exists && opts.BackupSuffix != "" {
		if _, err := backup(fsys, path, current, opts); err != nil {
			_ = fsys.Remove(tmp)
			return false, err
		}
	}

	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return false, errors.Wrapf(err, errors.ErrFileWrite, "replacing %s", path)
	}
	return true, nil
}

// StripPrefix removes an exact leading prefix from the file at path,
// keeping its mode and ownership and every byte after the prefix. It is a
// no-op when the file does not start with prefix, and when path is a
// symlink: the content belongs to whatever the link points at.
func StripPrefix(fsys types.FS, path string, prefix []byte) (bool, error) {
	link, err := fsys.Lstat(path)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "stat %s", path)
	}
	if link.Mode()&os.ModeSymlink != 0 {
		return false, nil
	}

	current, err := fsys.ReadFile(path)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "reading %s", path)
	}
	if len(prefix) == 0 || !bytes.HasPrefix(current, prefix) {
		return false, nil
	}

	info, err := fsys.Stat(path)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "stat %s", path)
	}
	uid, gid, err := fsys.Owner(path)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "owner of %s", path)
	}

	return Write(fsys, path, current[len(prefix):], Options{
		Mode: info.Mode().Perm(),
		UID:  uid,
		GID:  gid,
	})
}

// UnusedName returns base if nothing exists there, otherwise base.1,
// base.2, ... whichever is free first.
func UnusedName(fsys types.FS, base string) (string, error) {
	candidate := base
	for n := 1; ; n++ {
		_, err := fsys.Lstat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", errors.Wrapf(err, errors.ErrFileAccess, "probing %s", candidate)
		}
		candidate = base + "." + strconv.Itoa(n)
	}
}

func writeTemp(fsys types.FS, tmp string, content []byte, opts Options) error {
	if err := fsys.WriteFile(tmp, content, opts.Mode); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "writing %s", tmp)
	}
	// WriteFile is subject to the umask.
	if err := fsys.Chmod(tmp, opts.Mode); err != nil {
		_ = fsys.Remove(tmp)
		return errors.Wrapf(err, errors.ErrFileWrite, "chmod %s", tmp)
	}
	if err := fsys.Lchown(tmp, opts.UID, opts.GID); err != nil {
		_ = fsys.Remove(tmp)
		return errors.Wrapf(err, errors.ErrOwnership, "chown %s", tmp)
	}
	return nil
}

func backup(fsys types.FS, path string, previous []byte, opts Options) (string, error) {
	name, err := UnusedName(fsys, path+opts.BackupSuffix)
	if err != nil {
		return "", err
	}
	mode := opts.Mode
	if info, err := fsys.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := writeTemp(fsys, name, previous, Options{Mode: mode, UID: opts.UID, GID: opts.GID}); err != nil {
		return "", err
	}
	return name, nil
}

// ensureAttrs corrects mode and ownership drift on an unchanged file
// without touching its content.
func ensureAttrs(fsys types.FS, path string, opts Options) error {
	info, err := fsys.Lstat(path)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "stat %s", path)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	if info.Mode().Perm() != opts.Mode.Perm() {
		if err := fsys.Chmod(path, opts.Mode); err != nil {
			return errors.Wrapf(err, errors.ErrFileWrite, "chmod %s", path)
		}
	}
	uid, gid, err := fsys.Owner(path)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "owner of %s", path)
	}
	if uid != opts.UID || gid != opts.GID {
		if err := fsys.Lchown(path, opts.UID, opts.GID); err != nil {
			return errors.Wrapf(err, errors.ErrOwnership, "chown %s", path)
		}
	}
	return nil
}
