package tomcatd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/arthur-debert/tomcatd/pkg/clock"
	"github.com/arthur-debert/tomcatd/pkg/config"
	"github.com/arthur-debert/tomcatd/pkg/desired"
	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/filesystem"
	"github.com/arthur-debert/tomcatd/pkg/fleet"
	"github.com/arthur-debert/tomcatd/pkg/lifecycle"
	"github.com/arthur-debert/tomcatd/pkg/logging"
	"github.com/arthur-debert/tomcatd/pkg/manager"
	"github.com/arthur-debert/tomcatd/pkg/metrics"
	"github.com/arthur-debert/tomcatd/pkg/packages"
	"github.com/arthur-debert/tomcatd/pkg/statestore"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/rs/zerolog"
)

// app holds the engine wired from one configuration.
type app struct {
	cfg        *config.Config
	fs         types.FS
	clock      clock.Clock
	manager    *manager.Manager
	controller *lifecycle.Controller
	provider   *desired.File
	store      *statestore.Store
	metrics    *metrics.Recorder
	logger     zerolog.Logger
}

func newApp(cfg *config.Config) (*app, error) {
	fsys := filesystem.NewOS()
	logger := logging.GetLogger("tomcatd")

	m := manager.New(fsys, packages.NewCache(packages.RPM{Binary: cfg.Reconcile.RPMBinary}), cfg.Paths.OptDir)
	m.SentinelUID = cfg.Reconcile.SentinelUID

	liveness, err := lifecycle.NewProcLiveness(cfg.Paths.ProcMount)
	if err != nil {
		return nil, err
	}
	runner := lifecycle.NewExecRunner()
	runner.KillOnCancel = cfg.Lifecycle.KillOnTimeout
	ctrl := lifecycle.New(fsys, runner, liveness, lifecycle.UnixSignaler{})
	ctrl.StartTimeout = cfg.Lifecycle.StartTimeout
	ctrl.StopTimeout = cfg.Lifecycle.StopTimeout
	ctrl.PollInterval = cfg.Lifecycle.PollInterval

	a := &app{
		cfg:        cfg,
		fs:         fsys,
		clock:      clock.Real(),
		manager:    m,
		controller: ctrl,
		provider: &desired.File{
			FS:    fsys,
			Path:  cfg.Paths.DesiredState,
			Roots: desired.Roots{Shared: cfg.Paths.SharedRoot, Private: cfg.Paths.PrivateRoot},
		},
		logger: logger,
	}

	if cfg.Paths.StateDB != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Paths.StateDB), 0750); err != nil {
			return nil, errors.Wrapf(err, errors.ErrStateStore, "creating %s", filepath.Dir(cfg.Paths.StateDB))
		}
		if a.store, err = statestore.Open(cfg.Paths.StateDB); err != nil {
			return nil, err
		}
	}
	if cfg.Paths.MetricsFile != "" {
		a.metrics = metrics.New()
	}
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Closing state database")
		}
	}
}

func (a *app) driver() *fleet.Driver {
	d := &fleet.Driver{
		Manager:        a.manager,
		Controller:     a.controller,
		Provider:       a.provider,
		FS:             a.fs,
		Clock:          a.clock,
		SharedRoot:     a.cfg.Paths.SharedRoot,
		PasswdFile:     a.cfg.Paths.PasswdFile,
		KeepNames:      a.cfg.Reconcile.KeepNames,
		DeleteOrphans:  a.cfg.Reconcile.DeleteOrphans,
		Workers:        a.cfg.Reconcile.Workers,
		RestartWorkers: a.cfg.Lifecycle.RestartWorkers,
		RestartTimeout: a.cfg.Lifecycle.RestartTimeout,
		Grace:          a.cfg.Lifecycle.GraceDelay,
		Logger:         logging.GetLogger("fleet"),
	}
	// Leave the interfaces nil rather than holding typed nil pointers.
	if a.store != nil {
		d.Recorder = a.store
	}
	if a.metrics != nil {
		d.Metrics = a.metrics
	}
	return d
}

// afterRun forgets deleted instances and publishes metrics.
func (a *app) afterRun(ctx context.Context, report *fleet.Report) {
	if a.store != nil {
		for _, path := range report.Deleted {
			if filepath.Dir(path) != filepath.Clean(a.cfg.Paths.SharedRoot) {
				continue
			}
			if err := a.store.Forget(ctx, filepath.Base(path)); err != nil {
				a.logger.Warn().Err(err).Str("path", path).Msg("Could not forget deleted instance")
			}
		}
	}
	if a.metrics != nil {
		a.metrics.MarkRun(a.clock.Now())
		if err := a.metrics.WriteTextfile(a.cfg.Paths.MetricsFile); err != nil {
			a.logger.Warn().Err(err).Msg("Could not write metrics")
		}
	}
}

// instance looks up one desired instance by name.
func (a *app) instance(ctx context.Context, name string) (types.Instance, error) {
	instances, err := a.provider.Instances(ctx)
	if err != nil {
		return types.Instance{}, err
	}
	return desired.Lookup(instances, name)
}

// actionContext bounds a single lifecycle command like a restart-pass unit.
func (a *app) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := a.cfg.Lifecycle.RestartTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
