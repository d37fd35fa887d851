package tomcatd

import (
	"fmt"

	"github.com/arthur-debert/tomcatd/pkg/config"
	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/fleet"
	"github.com/arthur-debert/tomcatd/pkg/manager"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/arthur-debert/tomcatd/pkg/ui"
	"github.com/spf13/cobra"
)

func newReconcileCmd(opts *options) *cobra.Command {
	var dryRun, noRestart bool
	cmd := &cobra.Command{
		Use:     "reconcile",
		Short:   MsgReconcileShort,
		Long:    MsgReconcileLong,
		Example: MsgReconcileExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.renderer(cmd)
			if err != nil {
				return err
			}
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			d := a.driver()

			var (
				report   *fleet.Report
				outcomes []fleet.Outcome
			)
			switch {
			case dryRun:
				report, err = d.Preview(ctx)
			case noRestart:
				report, err = d.Rebuild(ctx)
			default:
				report, outcomes, err = d.Run(ctx)
			}
			if err != nil {
				return err
			}
			if !dryRun {
				a.afterRun(ctx, report)
			}

			if err := r.RenderReconcile(ui.Summarize(report, outcomes, dryRun)); err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return errors.Newf(errors.ErrPartialFailure, MsgErrFailedInstances, len(report.Failed))
			}
			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return errors.Newf(errors.ErrPartialFailure, MsgErrRestartFailed, failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, MsgFlagDryRun)
	cmd.Flags().BoolVar(&noRestart, "no-restart", false, MsgFlagNoRestart)
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:               "status [instance...]",
		Short:             MsgStatusShort,
		ValidArgsFunction: opts.instanceNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.renderer(cmd)
			if err != nil {
				return err
			}
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			instances, err := a.provider.Instances(ctx)
			if err != nil {
				return err
			}
			wanted := make(map[string]bool)
			for _, name := range args {
				wanted[name] = true
			}

			rows := []ui.InstanceStatus{}
			for _, inst := range instances {
				if len(wanted) > 0 && !wanted[inst.Name] {
					continue
				}
				rows = append(rows, a.status(cmd, inst))
			}
			return r.RenderStatus(rows)
		},
	}
}

// status gathers one status row. Problems land in the row, not in an error.
func (a *app) status(cmd *cobra.Command, inst types.Instance) ui.InstanceStatus {
	row := ui.InstanceStatus{
		Name:      inst.Name,
		Version:   inst.Version,
		Topology:  inst.Topology.String(),
		Manual:    inst.Manual,
		ShouldRun: inst.ShouldRun(),
	}

	st, err := a.controller.Status(inst)
	if err != nil {
		row.Error = err.Error()
	}
	row.Running, row.PID = st.Running, st.PID

	if res, err := a.manager.Inspect(cmd.Context(), inst); err != nil {
		row.Install = "unknown"
		if row.Error == "" {
			row.Error = err.Error()
		}
	} else {
		row.Install, row.Installed = res.State, res.Installed
		if res.Dirty && res.State != manager.StateFresh {
			row.Install += " (stale)"
		}
	}

	if a.store != nil {
		if last, ok, err := a.store.Last(cmd.Context(), inst.Name); err == nil && ok {
			row.Reconcile = last.Updated
			if last.Failed() && row.Error == "" {
				row.Error = last.Error
			}
		}
	}
	return row
}

// lifecycleCmd builds start, stop and restart, which share everything but
// the controller call.
func lifecycleCmd(opts *options, use, short string, minArgs int,
	act func(a *app, cmd *cobra.Command, inst types.Instance) (types.Tristate, error)) *cobra.Command {
	return &cobra.Command{
		Use:               use,
		Short:             short,
		Args:              cobra.MinimumNArgs(minArgs),
		ValidArgsFunction: opts.instanceNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.renderer(cmd)
			if err != nil {
				return err
			}
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			action := cmd.Name()
			failed := 0
			for _, name := range args {
				inst, err := a.instance(cmd.Context(), name)
				if err == nil {
					var res types.Tristate
					res, err = act(a, cmd, inst)
					if err == nil {
						err = r.RenderAction(name, action, res)
					}
				}
				if err != nil {
					failed++
					_ = r.RenderError(err)
				}
			}
			if failed > 0 {
				return errors.Newf(errors.ErrPartialFailure, "%d of %d %s action(s) failed", failed, len(args), action)
			}
			return nil
		},
	}
}

func newStartCmd(opts *options) *cobra.Command {
	return lifecycleCmd(opts, "start <instance>...", MsgStartShort, 1,
		func(a *app, cmd *cobra.Command, inst types.Instance) (types.Tristate, error) {
			ctx, cancel := a.actionContext(cmd.Context())
			defer cancel()
			return a.controller.Start(ctx, inst)
		})
}

func newStopCmd(opts *options) *cobra.Command {
	return lifecycleCmd(opts, "stop <instance>...", MsgStopShort, 1,
		func(a *app, cmd *cobra.Command, inst types.Instance) (types.Tristate, error) {
			ctx, cancel := a.actionContext(cmd.Context())
			defer cancel()
			return a.controller.Stop(ctx, inst)
		})
}

func newRestartCmd(opts *options) *cobra.Command {
	return lifecycleCmd(opts, "restart <instance>...", MsgRestartShort, 1,
		func(a *app, cmd *cobra.Command, inst types.Instance) (types.Tristate, error) {
			ctx, cancel := a.actionContext(cmd.Context())
			defer cancel()
			return a.controller.Restart(ctx, inst, a.cfg.Lifecycle.GraceDelay)
		})
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: MsgConfigShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			if cfg.Source != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", cfg.Source)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
