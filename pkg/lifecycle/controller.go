// Package lifecycle starts and stops instance processes through the
// instance's own bin/tomcat script and the PID file it maintains.
//
// Results are tri-state. Unknown means the controller could not tell
// whether a process is running (a manual instance that was never
// provisioned, or a PID file that does not parse); callers must not treat
// it as stopped.
package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/arthur-debert/tomcatd/pkg/clock"
	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/logging"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/arthur-debert/tomcatd/pkg/versions"
	"github.com/rs/zerolog"
)

// Default timings.
const (
	DefaultStartTimeout = 60 * time.Second
	DefaultStopTimeout  = 45 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
	DefaultGrace        = 5 * time.Second
)

// Controller drives instance processes.
type Controller struct {
	FS           types.FS
	Runner       Runner
	Liveness     Liveness
	Signaler     Signaler
	Clock        clock.Clock
	StartTimeout time.Duration
	StopTimeout  time.Duration
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// New returns a Controller with default timings and the real clock.
func New(fsys types.FS, runner Runner, liveness Liveness, signaler Signaler) *Controller {
	return &Controller{
		FS:           fsys,
		Runner:       runner,
		Liveness:     liveness,
		Signaler:     signaler,
		Clock:        clock.Real(),
		StartTimeout: DefaultStartTimeout,
		StopTimeout:  DefaultStopTimeout,
		PollInterval: DefaultPollInterval,
		Logger:       logging.GetLogger("lifecycle"),
	}
}

// Status is a point-in-time view of one instance process.
type Status struct {
	Instance string
	Running  types.Tristate
	PID      int
}

func pidPath(inst types.Instance) string    { return filepath.Join(inst.Root, versions.PIDPath) }
func scriptPath(inst types.Instance) string { return filepath.Join(inst.Root, versions.ScriptPath) }

// readPID returns the recorded pid. present is false when there is no PID
// file; an unparsable file is ErrProcessAmbiguous.
func (c *Controller) readPID(inst types.Instance) (pid int, present bool, err error) {
	data, err := c.FS.ReadFile(pidPath(inst))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, errors.ErrFileAccess, "reading %s", pidPath(inst))
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, true, errors.Newf(errors.ErrProcessAmbiguous, "%s: PID file does not hold a pid: %q", inst.Name, strings.TrimSpace(string(data))).
			WithDetail("instance", inst.Name)
	}
	return pid, true, nil
}

// hasScript reports whether bin/tomcat exists; a missing script is only
// acceptable for manual instances.
func (c *Controller) hasScript(inst types.Instance, logger zerolog.Logger) (bool, error) {
	_, err := c.FS.Stat(scriptPath(inst))
	if err == nil {
		return true, nil
	}
	if !os.IsNotExist(err) {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "stat %s", scriptPath(inst))
	}
	if inst.Manual {
		logger.Debug().Msg("Manual instance has no start script")
		return false, nil
	}
	return false, errors.Newf(errors.ErrFileNotFound, "%s: %s is missing", inst.Name, versions.ScriptPath).
		WithDetail("instance", inst.Name)
}

func (c *Controller) command(inst types.Instance, action string) Command {
	return Command{
		Path: scriptPath(inst),
		Args: []string{action},
		Dir:  inst.Root,
		UID:  inst.UID,
		GID:  inst.GID,
		Env: []string{
			"PATH=/usr/local/bin:/usr/bin:/bin",
			"HOME=" + inst.Root,
			"USER=" + inst.User,
			"LOGNAME=" + inst.User,
		},
	}
}

// Status reports whether the instance process is running.
func (c *Controller) Status(inst types.Instance) (Status, error) {
	st := Status{Instance: inst.Name}
	pid, present, err := c.readPID(inst)
	if errors.IsErrorCode(err, errors.ErrProcessAmbiguous) {
		st.Running = types.Unknown
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if !present {
		st.Running = types.False
		return st, nil
	}
	alive, err := c.Liveness.Alive(pid)
	if err != nil {
		return st, err
	}
	st.PID = pid
	st.Running = types.TristateOf(alive)
	return st, nil
}

// Start launches the instance. It returns True when a process was started
// and False when one was already running.
func (c *Controller) Start(ctx context.Context, inst types.Instance) (types.Tristate, error) {
	logger := logging.ForInstance(c.Logger, inst.Name, inst.Root)

	ok, err := c.hasScript(inst, logger)
	if err != nil || !ok {
		return types.Unknown, err
	}

	pid, present, err := c.readPID(inst)
	if errors.IsErrorCode(err, errors.ErrProcessAmbiguous) {
		logger.Warn().Err(err).Msg("Cannot tell whether instance is running, not starting")
		return types.Unknown, nil
	}
	if err != nil {
		return types.Unknown, err
	}
	if present {
		alive, err := c.Liveness.Alive(pid)
		if err != nil {
			return types.Unknown, err
		}
		if alive {
			logger.Debug().Int("pid", pid).Msg("Already running")
			return types.False, nil
		}
		logger.Warn().Int("pid", pid).Msg("Process died without removing its PID file, restarting")
		if err := c.FS.Remove(pidPath(inst)); err != nil && !os.IsNotExist(err) {
			return types.Unknown, errors.Wrapf(err, errors.ErrFileDelete, "removing %s", pidPath(inst))
		}
	}

	logger.Info().Msg("Starting instance")
	if err := c.Runner.Run(ctx, c.command(inst, "start")); err != nil {
		return types.Unknown, errors.Wrapf(err, errors.ErrProcessStart, "starting %s", inst.Name).
			WithDetail("instance", inst.Name)
	}

	started := c.poll(ctx, c.StartTimeout, func() bool {
		pid, present, err := c.readPID(inst)
		if err != nil || !present {
			return false
		}
		alive, err := c.Liveness.Alive(pid)
		return err == nil && alive
	})
	if !started {
		return types.Unknown, errors.Newf(errors.ErrProcessTimeout, "%s did not come up within %s", inst.Name, c.StartTimeout).
			WithDetail("instance", inst.Name)
	}
	logger.Info().Msg("Instance started")
	return types.True, nil
}

// Stop stops the instance. It returns True when a running process was
// stopped and False when none was running.
func (c *Controller) Stop(ctx context.Context, inst types.Instance) (types.Tristate, error) {
	logger := logging.ForInstance(c.Logger, inst.Name, inst.Root)

	ok, err := c.hasScript(inst, logger)
	if err != nil || !ok {
		return types.Unknown, err
	}

	pid, present, err := c.readPID(inst)
	if errors.IsErrorCode(err, errors.ErrProcessAmbiguous) {
		logger.Warn().Err(err).Msg("Cannot tell whether instance is running, it may still be")
		return types.Unknown, nil
	}
	if err != nil {
		return types.Unknown, err
	}
	if !present {
		return types.False, nil
	}

	alive, err := c.Liveness.Alive(pid)
	if err != nil {
		return types.Unknown, err
	}
	if !alive {
		logger.Debug().Int("pid", pid).Msg("Removing stale PID file")
		return types.False, c.removePID(inst)
	}

	logger.Info().Int("pid", pid).Msg("Stopping instance")
	if err := c.Runner.Run(ctx, c.command(inst, "stop")); err != nil {
		logger.Warn().Err(err).Msg("Stop script failed")
	}

	exited := c.poll(ctx, c.StopTimeout, func() bool {
		alive, err := c.Liveness.Alive(pid)
		return err == nil && !alive
	})
	if !exited {
		logger.Warn().Int("pid", pid).Dur("timeout", c.StopTimeout).Msg("Instance did not stop, killing")
		if err := c.Signaler.Kill(pid); err != nil {
			return types.Unknown, err
		}
	}
	if err := c.removePID(inst); err != nil {
		return types.True, err
	}
	logger.Info().Msg("Instance stopped")
	return types.True, nil
}

// Restart stops the instance, waits grace when something was stopped so
// the listening ports are released, and starts it again. An Unknown stop
// skips the start.
func (c *Controller) Restart(ctx context.Context, inst types.Instance, grace time.Duration) (types.Tristate, error) {
	logger := logging.ForInstance(c.Logger, inst.Name, inst.Root)

	stopped, err := c.Stop(ctx, inst)
	if err != nil {
		return types.Unknown, err
	}
	if stopped == types.Unknown {
		logger.Warn().Msg("Stop result unknown, not starting")
		return types.Unknown, nil
	}
	if stopped == types.True && grace > 0 {
		c.Clock.Sleep(grace)
	}
	if err := ctx.Err(); err != nil {
		return types.Unknown, errors.Wrapf(err, errors.ErrProcessTimeout, "restarting %s", inst.Name)
	}
	return c.Start(ctx, inst)
}

func (c *Controller) removePID(inst types.Instance) error {
	if err := c.FS.Remove(pidPath(inst)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.ErrFileDelete, "removing %s", pidPath(inst))
	}
	return nil
}

// poll checks cond until it holds, the timeout passes or ctx is done.
func (c *Controller) poll(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	deadline := c.Clock.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if ctx.Err() != nil || !c.Clock.Now().Before(deadline) {
			return false
		}
		c.Clock.Sleep(c.PollInterval)
	}
}
