package install

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/arthur-debert/tomcatd/pkg/atomicfile"
	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/logging"
)

// Kind identifies a primitive.
type Kind int

const (
	KindMkdir Kind = iota
	KindSymlink
	KindSymlinkAll
	KindCopy
	KindDelete
	KindGenerated
	KindProfileScript
)

func (k Kind) String() string {
	switch k {
	case KindMkdir:
		return "mkdir"
	case KindSymlink:
		return "symlink"
	case KindSymlinkAll:
		return "symlink-all"
	case KindCopy:
		return "copy"
	case KindDelete:
		return "delete"
	case KindGenerated:
		return "generated"
	case KindProfileScript:
		return "profile-script"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Generator computes the content of a generated file.
type Generator func() ([]byte, error)

// Action is one desired filesystem fact. Path is instance-relative.
type Action struct {
	Kind Kind
	Path string
	Mode fs.FileMode
	// Target is template-relative for Symlink, the literal link text when
	// Literal is set, and the runtime directory name for ProfileScript.
	Target   string
	Literal  bool
	Generate Generator
}

// Mkdir ensures a directory with the given mode owned by the instance.
func Mkdir(path string, mode fs.FileMode) Action {
	return Action{Kind: KindMkdir, Path: path, Mode: mode}
}

// Symlink links path to the same path inside the template.
func Symlink(path string) Action {
	return Action{Kind: KindSymlink, Path: path, Target: path}
}

// SymlinkTo links path to a different template-relative path.
func SymlinkTo(path, templatePath string) Action {
	return Action{Kind: KindSymlink, Path: path, Target: templatePath}
}

// LinkTo links path to a literal target, used for links inside the
// instance itself.
func LinkTo(path, target string) Action {
	return Action{Kind: KindSymlink, Path: path, Target: target, Literal: true}
}

// SymlinkAll links every entry of the template directory dir.
func SymlinkAll(dir string) Action {
	return Action{Kind: KindSymlinkAll, Path: dir}
}

// Copy seeds path from the template once.
func Copy(path string, mode fs.FileMode) Action {
	return Action{Kind: KindCopy, Path: path, Mode: mode}
}

// Delete retires path.
func Delete(path string) Action {
	return Action{Kind: KindDelete, Path: path}
}

// Generated writes the output of fn to path.
func Generated(path string, mode fs.FileMode, fn Generator) Action {
	return Action{Kind: KindGenerated, Path: path, Mode: mode, Generate: fn}
}

// ProfileScript links path to the profile script of runtime under OptDir.
func ProfileScript(path, runtime string) Action {
	return Action{Kind: KindProfileScript, Path: path, Target: runtime}
}

// Apply makes the action true in env and reports whether it changed
// anything.
func (a Action) Apply(env Env) (bool, error) {
	switch a.Kind {
	case KindMkdir:
		return applyMkdir(env, a.Path, a.Mode)
	case KindSymlink:
		target := a.Target
		if !a.Literal {
			var err error
			if target, err = env.LinkTarget(a.Path, a.Target); err != nil {
				return false, errors.Wrapf(err, errors.ErrSymlinkCreate, "resolving target of %s", a.Path)
			}
		}
		return ensureLink(env, a.Path, target)
	case KindSymlinkAll:
		return applySymlinkAll(env, a.Path)
	case KindCopy:
		return applyCopy(env, a.Path, a.Mode)
	case KindDelete:
		return applyDelete(env, a.Path)
	case KindGenerated:
		return applyGenerated(env, a.Path, a.Mode, a.Generate)
	case KindProfileScript:
		script := filepath.Join(env.OptDir, a.Target, "profile.sh")
		target, err := relativeTo(env.Abs(a.Path), script)
		if err != nil {
			return false, errors.Wrapf(err, errors.ErrSymlinkCreate, "resolving profile script for %s", a.Path)
		}
		return ensureLink(env, a.Path, target)
	default:
		return false, errors.Newf(errors.ErrInternal, "unknown action kind %d", int(a.Kind))
	}
}

func applyMkdir(env Env, rel string, mode fs.FileMode) (bool, error) {
	path := env.Abs(rel)
	info, err := env.FS.Lstat(path)
	switch {
	case os.IsNotExist(err):
		if err := env.FS.Mkdir(path, mode); err != nil {
			return false, errors.Wrapf(err, errors.ErrDirCreate, "creating %s", path)
		}
		if err := env.FS.Chmod(path, mode); err != nil {
			return false, errors.Wrapf(err, errors.ErrDirCreate, "chmod %s", path)
		}
		if err := env.FS.Lchown(path, env.UID, env.GID); err != nil {
			return false, errors.Wrapf(err, errors.ErrOwnership, "chown %s", path)
		}
		return true, nil
	case err != nil:
		return false, errors.Wrapf(err, errors.ErrFileAccess, "stat %s", path)
	case !info.IsDir():
		return false, errors.Newf(errors.ErrInstallPlanConflict, "%s exists and is not a directory", path)
	}

	changed := false
	if info.Mode().Perm() != mode.Perm() {
		if err := env.FS.Chmod(path, mode); err != nil {
			return false, errors.Wrapf(err, errors.ErrFileAccess, "chmod %s", path)
		}
		changed = true
	}
	owned, err := ensureOwner(env, path, env.UID, env.GID)
	return changed || owned, err
}

func ensureOwner(env Env, path string, uid, gid int) (bool, error) {
	curUID, curGID, err := env.FS.Owner(path)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "owner of %s", path)
	}
	if curUID == uid && curGID == gid {
		return false, nil
	}
	if err := env.FS.Lchown(path, uid, gid); err != nil {
		return false, errors.Wrapf(err, errors.ErrOwnership, "chown %s", path)
	}
	return true, nil
}

// ensureLink makes the instance path rel a symlink with the exact target.
// A regular file in the way is replaced; a directory is a conflict.
func ensureLink(env Env, rel, target string) (bool, error) {
	logger := logging.GetLogger("install")
	path := env.Abs(rel)

	info, err := env.FS.Lstat(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return false, errors.Wrapf(err, errors.ErrFileAccess, "stat %s", path)
	case info.Mode()&os.ModeSymlink != 0:
		current, err := env.FS.Readlink(path)
		if err != nil {
			return false, errors.Wrapf(err, errors.ErrFileAccess, "readlink %s", path)
		}
		if current == target {
			return ensureOwner(env, path, env.UID, env.GID)
		}
		logger.Debug().Str("path", path).Str("from", current).Str("to", target).Msg("Repointing symlink")
		if err := env.FS.Remove(path); err != nil {
			return false, errors.Wrapf(err, errors.ErrFileDelete, "removing %s", path)
		}
	case info.IsDir():
		return false, errors.Newf(errors.ErrSymlinkExists, "%s is a directory, expected a symlink", path)
	default:
		logger.Warn().Str("path", path).Msg("Replacing regular file with symlink")
		if err := env.FS.Remove(path); err != nil {
			return false, errors.Wrapf(err, errors.ErrFileDelete, "removing %s", path)
		}
	}

	if err := env.FS.Symlink(target, path); err != nil {
		return false, errors.Wrapf(err, errors.ErrSymlinkCreate, "linking %s -> %s", path, target)
	}
	if err := env.FS.Lchown(path, env.UID, env.GID); err != nil {
		return false, errors.Wrapf(err, errors.ErrOwnership, "chown %s", path)
	}
	return true, nil
}

func applySymlinkAll(env Env, dir string) (bool, error) {
	entries, err := env.FS.ReadDir(env.TemplatePath(dir))
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "listing template %s", dir)
	}
	changed := false
	for _, entry := range entries {
		rel := filepath.Join(dir, entry.Name())
		if info, err := env.FS.Lstat(env.Abs(rel)); err == nil && info.IsDir() {
			// An operator-created directory shadows the template entry.
			continue
		}
		target, err := env.LinkTarget(rel, rel)
		if err != nil {
			return changed, errors.Wrapf(err, errors.ErrSymlinkCreate, "resolving target of %s", rel)
		}
		c, err := ensureLink(env, rel, target)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	return changed, nil
}

func applyCopy(env Env, rel string, mode fs.FileMode) (bool, error) {
	path := env.Abs(rel)
	if _, err := env.FS.Lstat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "stat %s", path)
	}
	content, err := env.FS.ReadFile(env.TemplatePath(rel))
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "reading template %s", rel)
	}
	return atomicfile.Write(env.FS, path, content, atomicfile.Options{Mode: mode, UID: env.UID, GID: env.GID})
}

func applyDelete(env Env, rel string) (bool, error) {
	path := env.Abs(rel)
	if _, err := env.FS.Lstat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "stat %s", path)
	}
	if err := env.FS.RemoveAll(path); err != nil {
		return false, errors.Wrapf(err, errors.ErrFileDelete, "removing %s", path)
	}
	return true, nil
}

func applyGenerated(env Env, rel string, mode fs.FileMode, fn Generator) (bool, error) {
	if fn == nil {
		return false, errors.Newf(errors.ErrInternal, "no generator for %s", rel)
	}
	content, err := fn()
	if err != nil {
		return false, err
	}
	return atomicfile.Write(env.FS, env.Abs(rel), content, atomicfile.Options{
		Mode:         mode,
		UID:          env.UID,
		GID:          env.GID,
		BackupSuffix: env.BackupSuffix,
	})
}
