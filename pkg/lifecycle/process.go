package lifecycle

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/logging"
	"github.com/prometheus/procfs"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Command is one execution of an instance script.
type Command struct {
	Path string
	Args []string
	Dir  string
	UID  int
	GID  int
	Env  []string
}

// Runner runs a command as its uid/gid and waits for it to exit.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// Liveness reports whether a pid belongs to a live process.
type Liveness interface {
	Alive(pid int) (bool, error)
}

// Signaler force-kills a process.
type Signaler interface {
	Kill(pid int) error
}

// waitDelay bounds how long Run waits for output pipes after the script
// was killed.
const waitDelay = 5 * time.Second

// ExecRunner runs commands with os/exec, dropping to the command's
// identity when tomcatd runs as root.
type ExecRunner struct {
	// KillOnCancel kills the script's process group when the context is
	// done. Without it a timed-out script keeps running and Run returns
	// the context error while the script is left alone.
	KillOnCancel bool
	Logger       zerolog.Logger
}

// NewExecRunner returns a runner that kills scripts on cancellation.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{KillOnCancel: true, Logger: logging.GetLogger("lifecycle.exec")}
}

// Run executes cmd and returns an error carrying its output on failure.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	logging.LogCommand(r.Logger, cmd.Path, cmd.Args)

	var c *exec.Cmd
	if r.KillOnCancel {
		c = exec.CommandContext(ctx, cmd.Path, cmd.Args...)
		c.Cancel = func() error {
			// The script forks the JVM; take the whole group down.
			return unix.Kill(-c.Process.Pid, unix.SIGKILL)
		}
		c.WaitDelay = waitDelay
	} else {
		c = exec.Command(cmd.Path, cmd.Args...)
	}
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if os.Geteuid() == 0 {
		c.SysProcAttr.Credential = &syscall.Credential{Uid: uint32(cmd.UID), Gid: uint32(cmd.GID)}
	}
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	if err := c.Start(); err != nil {
		return errors.Wrapf(err, errors.ErrProcessStart, "starting %s", cmd.Path)
	}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	var err error
	if r.KillOnCancel {
		err = <-done
	} else {
		select {
		case err = <-done:
		case <-ctx.Done():
			r.Logger.Warn().Str("command", cmd.Path).Int("pid", c.Process.Pid).
				Msg("Command timed out and was left running")
			return errors.Wrapf(ctx.Err(), errors.ErrProcessTimeout, "%s %s", cmd.Path, strings.Join(cmd.Args, " "))
		}
	}

	if ctx.Err() != nil {
		return errors.Wrapf(ctx.Err(), errors.ErrProcessTimeout, "%s %s", cmd.Path, strings.Join(cmd.Args, " "))
	}
	if err != nil {
		return errors.Wrapf(err, errors.ErrProcessStart, "%s %s: %s", cmd.Path, strings.Join(cmd.Args, " "), strings.TrimSpace(out.String()))
	}
	r.Logger.Trace().Str("command", cmd.Path).Str("output", out.String()).Msg("Command finished")
	return nil
}

// ProcLiveness reads process state from /proc.
type ProcLiveness struct {
	fs procfs.FS
}

// NewProcLiveness opens the proc filesystem at mountPoint ("" for /proc).
func NewProcLiveness(mountPoint string) (*ProcLiveness, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "opening %s", mountPoint)
	}
	return &ProcLiveness{fs: fs}, nil
}

// Alive reports whether pid exists and is not a zombie.
func (l *ProcLiveness) Alive(pid int) (bool, error) {
	p, err := l.fs.Proc(pid)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "reading process %d", pid)
	}
	stat, err := p.Stat()
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "reading process %d", pid)
	}
	return stat.State != "Z" && stat.State != "X", nil
}

// UnixSignaler sends SIGKILL.
type UnixSignaler struct{}

// Kill kills pid; a process that is already gone is not an error.
func (UnixSignaler) Kill(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return errors.Wrapf(err, errors.ErrProcessStop, "killing %d", pid)
	}
	return nil
}
