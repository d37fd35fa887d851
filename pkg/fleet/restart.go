package fleet

import (
	"context"
	"sort"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/logging"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Actions the restart pass takes.
const (
	ActionRestart = "restart"
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionNone    = "none"
)

// Outcome is what the restart pass did to one instance.
type Outcome struct {
	Instance string
	Action   string
	Result   types.Tristate
	Err      error
}

// Restart applies the restart pass to a rebuild report.
func (d *Driver) Restart(ctx context.Context, report *Report) []Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.restart(ctx, report)
}

func (d *Driver) restart(ctx context.Context, report *Report) []Outcome {
	done := logging.LogOperationStart(d.Logger, "restart")
	defer done()

	workers := d.RestartWorkers
	if workers <= 0 {
		workers = DefaultRestartWorkers
	}

	var units []types.Instance
	for _, inst := range report.Instances {
		if _, ok := report.Results[inst.Name]; ok {
			units = append(units, inst)
		}
	}
	outcomes := make([]Outcome, len(units))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, inst := range units {
		i, inst := i, inst
		g.Go(func() error {
			start := d.clock().Now()
			outcomes[i] = d.runUnit(ctx, inst, report.Restart.Contains(inst.Name))
			if d.Metrics != nil {
				d.Metrics.ObserveRestart(outcomes[i], d.clock().Now().Sub(start))
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if d.Recorder != nil && o.Action != ActionNone {
			if err := d.Recorder.RecordRestart(ctx, o, d.clock().Now()); err != nil {
				d.Logger.Warn().Err(err).Str("instance", o.Instance).Msg("Could not record restart outcome")
			}
		}
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Instance < outcomes[j].Instance })
	return outcomes
}

// runUnit performs one instance's action within RestartTimeout. The
// caller moves on at the deadline even if the action has not returned.
func (d *Driver) runUnit(ctx context.Context, inst types.Instance, dirty bool) Outcome {
	logger := logging.ForInstance(d.Logger, inst.Name, inst.Root)
	timeout := d.restartTimeout()
	uctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan Outcome, 1)
	go func() {
		result <- d.act(uctx, inst, dirty)
	}()

	select {
	case o := <-result:
		if o.Err != nil {
			logger.Error().Err(o.Err).Str("action", o.Action).Msg("Lifecycle action failed")
		}
		return o
	case <-uctx.Done():
		err := errors.Wrapf(uctx.Err(), errors.ErrProcessTimeout, "%s: lifecycle action exceeded %s", inst.Name, timeout).
			WithDetail("instance", inst.Name)
		logger.Error().Err(err).Msg("Lifecycle action timed out, moving on")
		return Outcome{Instance: inst.Name, Action: plannedAction(inst, dirty), Result: types.Unknown, Err: err}
	}
}

func plannedAction(inst types.Instance, dirty bool) string {
	switch {
	case !inst.ShouldRun():
		return ActionStop
	case dirty:
		return ActionRestart
	default:
		return ActionStart
	}
}

func (d *Driver) act(ctx context.Context, inst types.Instance, dirty bool) Outcome {
	o := Outcome{Instance: inst.Name, Action: plannedAction(inst, dirty)}
	switch o.Action {
	case ActionStop:
		o.Result, o.Err = d.Controller.Stop(ctx, inst)
	case ActionRestart:
		o.Result, o.Err = d.Controller.Restart(ctx, inst, d.Grace)
	case ActionStart:
		st, err := d.Controller.Status(inst)
		if err != nil {
			o.Err = err
			o.Result = types.Unknown
			return o
		}
		if st.Running != types.False {
			o.Action = ActionNone
			o.Result = st.Running
			return o
		}
		o.Result, o.Err = d.Controller.Start(ctx, inst)
	}
	return o
}
