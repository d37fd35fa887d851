// Package fleet drives reconciliation and restarts across every instance
// on a host.
//
// A pass never stops at the first failure. Each instance is reconciled
// independently; failures are logged with the instance identity, recorded
// and the pass carries on. Results are merged afterwards into the restart
// set and the list of orphaned directories.
package fleet

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arthur-debert/tomcatd/pkg/clock"
	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/lifecycle"
	"github.com/arthur-debert/tomcatd/pkg/logging"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Provider supplies the desired state of every instance on the host.
type Provider interface {
	Instances(ctx context.Context) ([]types.Instance, error)
}

// Reconciler converges one instance directory.
type Reconciler interface {
	Reconcile(ctx context.Context, inst types.Instance) (types.ReconcileResult, error)
}

// Inspector predicts a reconcile without writing.
type Inspector interface {
	Inspect(ctx context.Context, inst types.Instance) (types.ReconcileResult, error)
}

// Lifecycle starts and stops instance processes.
type Lifecycle interface {
	Start(ctx context.Context, inst types.Instance) (types.Tristate, error)
	Stop(ctx context.Context, inst types.Instance) (types.Tristate, error)
	Restart(ctx context.Context, inst types.Instance, grace time.Duration) (types.Tristate, error)
	Status(inst types.Instance) (lifecycle.Status, error)
}

// Recorder keeps a ledger of what each pass did.
type Recorder interface {
	RecordReconcile(ctx context.Context, result types.ReconcileResult, err error, at time.Time) error
	RecordRestart(ctx context.Context, outcome Outcome, at time.Time) error
}

// Observer receives pass metrics.
type Observer interface {
	ObserveReconcile(result types.ReconcileResult, err error, took time.Duration)
	ObserveRestart(outcome Outcome, took time.Duration)
	ObserveOrphans(deleted int)
}

// Defaults for a Driver.
const (
	DefaultWorkers        = 4
	DefaultRestartWorkers = 4
	DefaultRestartTimeout = 60 * time.Second
)

// Driver runs fleet passes.
type Driver struct {
	Manager    Reconciler
	Controller Lifecycle
	Provider   Provider
	FS         types.FS
	Clock      clock.Clock
	Recorder   Recorder
	Metrics    Observer

	SharedRoot string
	PasswdFile string
	// KeepNames are directory names under SharedRoot never treated as
	// orphans.
	KeepNames      []string
	DeleteOrphans  bool
	Workers        int
	RestartWorkers int
	RestartTimeout time.Duration
	Grace          time.Duration
	Logger         zerolog.Logger

	// mu serializes build and restart phases on the host.
	mu sync.Mutex
}

// Report is the merged outcome of a reconcile pass.
type Report struct {
	Instances []types.Instance
	Results   map[string]types.ReconcileResult
	Failed    map[string]error
	Restart   *types.RestartSet
	// Orphans are stale work directories and unreferenced instance roots.
	Orphans []string
	Deleted []string
}

// Succeeded returns the names of instances that reconciled cleanly.
func (r *Report) Succeeded() []string {
	out := make([]string, 0, len(r.Results))
	for name := range r.Results {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d *Driver) clock() clock.Clock {
	if d.Clock == nil {
		return clock.Real()
	}
	return d.Clock
}

// Rebuild reconciles every desired instance and cleans up orphans.
func (d *Driver) Rebuild(ctx context.Context) (*Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rebuild(ctx)
}

func (d *Driver) rebuild(ctx context.Context) (*Report, error) {
	done := logging.LogOperationStart(d.Logger, "rebuild")
	defer done()

	instances, err := d.Provider.Instances(ctx)
	if err != nil {
		return nil, err
	}

	workers := d.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	type outcome struct {
		result types.ReconcileResult
		err    error
	}
	outcomes := make([]outcome, len(instances))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, inst := range instances {
		i, inst := i, inst
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = outcome{result: types.ReconcileResult{Instance: inst.Name}, err: err}
				return nil
			}
			start := d.clock().Now()
			res, err := d.Manager.Reconcile(ctx, inst)
			res.Instance = inst.Name
			outcomes[i] = outcome{result: res, err: err}
			if d.Metrics != nil {
				d.Metrics.ObserveReconcile(res, err, d.clock().Now().Sub(start))
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Instances: instances,
		Results:   make(map[string]types.ReconcileResult),
		Failed:    make(map[string]error),
	}
	var succeeded []types.ReconcileResult
	for i, o := range outcomes {
		inst := instances[i]
		if d.Recorder != nil {
			if err := d.Recorder.RecordReconcile(ctx, o.result, o.err, d.clock().Now()); err != nil {
				d.Logger.Warn().Err(err).Str("instance", inst.Name).Msg("Could not record reconcile result")
			}
		}
		if o.err != nil {
			logger := logging.ForInstance(d.Logger, inst.Name, inst.Root)
			logger.Error().
				Err(o.err).
				Str("code", string(errors.GetErrorCode(o.err))).
				Msg("Reconcile failed, skipping instance this pass")
			report.Failed[inst.Name] = o.err
			continue
		}
		report.Results[inst.Name] = o.result
		report.Orphans = append(report.Orphans, o.result.Orphans...)
		succeeded = append(succeeded, o.result)
	}
	report.Restart = types.NewRestartSet(succeeded...)

	orphanRoots, err := d.orphanInstances(instances)
	if err != nil {
		d.Logger.Warn().Err(err).Msg("Skipping orphan instance cleanup")
	}
	report.Orphans = append(report.Orphans, orphanRoots...)

	if d.DeleteOrphans {
		report.Deleted = d.deleteOrphans(ctx, report.Orphans, orphanRoots)
		if d.Metrics != nil {
			d.Metrics.ObserveOrphans(len(report.Deleted))
		}
	}

	d.Logger.Info().
		Int("instances", len(instances)).
		Int("failed", len(report.Failed)).
		Int("restart", report.Restart.Len()).
		Int("orphans", len(report.Orphans)).
		Msg("Rebuild finished")
	return report, nil
}

// orphanInstances lists directories under SharedRoot no desired instance
// uses, minus the keep list and login home directories.
func (d *Driver) orphanInstances(instances []types.Instance) ([]string, error) {
	if d.SharedRoot == "" {
		return nil, nil
	}
	entries, err := d.FS.ReadDir(d.SharedRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "listing %s", d.SharedRoot)
	}

	used := make(map[string]bool)
	for _, inst := range instances {
		used[filepath.Clean(inst.Root)] = true
	}
	keep := make(map[string]bool)
	for _, name := range d.KeepNames {
		keep[name] = true
	}
	homes := map[string]bool{}
	if d.PasswdFile != "" {
		if homes, err = HomeDirs(d.FS, d.PasswdFile); err != nil {
			return nil, err
		}
	}

	var orphans []string
	for _, e := range entries {
		if !e.IsDir() || keep[e.Name()] {
			continue
		}
		path := filepath.Join(d.SharedRoot, e.Name())
		if used[path] {
			continue
		}
		if homes[path] {
			d.Logger.Debug().Str("path", path).Msg("Unused instance directory is a home directory, keeping")
			continue
		}
		orphans = append(orphans, path)
	}
	return orphans, nil
}

// deleteOrphans removes orphan paths. Orphaned instance roots are stopped
// first and kept when their process state cannot be determined.
func (d *Driver) deleteOrphans(ctx context.Context, orphans, instanceRoots []string) []string {
	isRoot := make(map[string]bool, len(instanceRoots))
	for _, r := range instanceRoots {
		isRoot[r] = true
	}

	var deleted []string
	for _, path := range orphans {
		logger := d.Logger.With().Str("path", path).Logger()
		if isRoot[path] && !d.stopOrphan(ctx, path, logger) {
			continue
		}
		if err := d.FS.RemoveAll(path); err != nil {
			logger.Error().Err(err).Msg("Could not delete orphan")
			continue
		}
		logger.Info().Msg("Deleted orphan")
		deleted = append(deleted, path)
	}
	return deleted
}

func (d *Driver) stopOrphan(ctx context.Context, root string, logger zerolog.Logger) bool {
	uid, gid, err := d.FS.Owner(root)
	if err != nil {
		logger.Error().Err(err).Msg("Cannot read orphan owner, keeping it")
		return false
	}
	inst := types.Instance{
		Name:   filepath.Base(root),
		Root:   root,
		UID:    uid,
		GID:    gid,
		Manual: true,
	}
	st, err := d.Controller.Status(inst)
	if err != nil || st.Running == types.Unknown {
		logger.Warn().Err(err).Msg("Cannot tell whether orphan is running, keeping it")
		return false
	}
	if st.Running == types.False {
		return true
	}

	stopCtx, cancel := context.WithTimeout(ctx, d.restartTimeout())
	defer cancel()
	res, err := d.Controller.Stop(stopCtx, inst)
	if err != nil || res == types.Unknown {
		logger.Warn().Err(err).Msg("Could not stop orphan, keeping it")
		return false
	}
	return true
}

func (d *Driver) restartTimeout() time.Duration {
	if d.RestartTimeout <= 0 {
		return DefaultRestartTimeout
	}
	return d.RestartTimeout
}

// Preview reports what Rebuild would do without changing anything. Orphans
// are listed but not deleted.
func (d *Driver) Preview(ctx context.Context) (*Report, error) {
	inspector, ok := d.Manager.(Inspector)
	if !ok {
		return nil, errors.New(errors.ErrNotImplemented, "reconciler cannot preview")
	}
	instances, err := d.Provider.Instances(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Instances: instances,
		Results:   make(map[string]types.ReconcileResult),
		Failed:    make(map[string]error),
	}
	var results []types.ReconcileResult
	for _, inst := range instances {
		res, err := inspector.Inspect(ctx, inst)
		if err != nil {
			report.Failed[inst.Name] = err
			continue
		}
		res.Instance = inst.Name
		report.Results[inst.Name] = res
		results = append(results, res)
	}
	report.Restart = types.NewRestartSet(results...)

	orphans, err := d.orphanInstances(instances)
	if err != nil {
		d.Logger.Warn().Err(err).Msg("Cannot list orphan instances")
	}
	report.Orphans = orphans
	return report, nil
}

// Run performs a rebuild followed by the restart pass.
func (d *Driver) Run(ctx context.Context) (*Report, []Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	report, err := d.rebuild(ctx)
	if err != nil {
		return nil, nil, err
	}
	return report, d.restart(ctx, report), nil
}
