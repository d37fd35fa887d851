// Package ui renders command results for people and for scripts.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/fleet"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/pterm/pterm"
)

// InstanceStatus is one row of the status table.
type InstanceStatus struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Topology  string         `json:"topology"`
	Manual    bool           `json:"manual"`
	ShouldRun bool           `json:"should_run"`
	Running   types.Tristate `json:"-"`
	State     string         `json:"running"`
	PID       int            `json:"pid,omitempty"`
	Install   string         `json:"install"`
	Installed string         `json:"installed,omitempty"`
	Reconcile time.Time      `json:"last_reconcile,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Renderer writes results in one format.
type Renderer struct {
	format Format
	out    io.Writer
}

// NewRenderer resolves FormatAuto against out.
func NewRenderer(format Format, out io.Writer) *Renderer {
	return &Renderer{format: Resolve(format, out), out: out}
}

// Format is the resolved output format.
func (r *Renderer) Format() Format {
	return r.format
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.format != FormatTerminal {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) table(data pterm.TableData) error {
	table := pterm.DefaultTable.WithHasHeader().WithData(data)
	if r.format != FormatTerminal {
		table = table.WithHeaderStyle(pterm.NewStyle()).WithSeparatorStyle(pterm.NewStyle())
	}
	out, err := table.Srender()
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "rendering table")
	}
	_, err = fmt.Fprintln(r.out, out)
	return err
}

func (r *Renderer) json(v interface{}) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderStatus renders the status table.
func (r *Renderer) RenderStatus(rows []InstanceStatus) error {
	for i := range rows {
		rows[i].State = rows[i].Running.String()
	}
	if r.format == FormatJSON {
		return r.json(rows)
	}

	data := pterm.TableData{{"INSTANCE", "VERSION", "TOPOLOGY", "RUNNING", "PID", "INSTALL", "LAST RECONCILE"}}
	for _, row := range rows {
		running := row.State
		if !row.ShouldRun {
			running += " (off)"
		}
		pid := ""
		if row.PID > 0 {
			pid = fmt.Sprint(row.PID)
		}
		install := row.Install
		if row.Manual {
			install = "manual"
		}
		last := r.style(mutedStyle, "never")
		if !row.Reconcile.IsZero() {
			last = row.Reconcile.Local().Format("2006-01-02 15:04")
		}
		if row.Error != "" {
			last = r.style(errorStyle, "failed: "+row.Error)
		}
		data = append(data, []string{
			row.Name,
			row.Version,
			row.Topology,
			r.style(runningStyle(row.Running, row.ShouldRun), running),
			pid,
			install,
			last,
		})
	}
	return r.table(data)
}

// ReconcileSummary is the machine form of a fleet pass.
type ReconcileSummary struct {
	DryRun   bool              `json:"dry_run"`
	Results  []InstanceResult  `json:"instances"`
	Deleted  []string          `json:"deleted,omitempty"`
	Orphans  []string          `json:"orphans,omitempty"`
	Outcomes []LifecycleResult `json:"lifecycle,omitempty"`
}

type InstanceResult struct {
	Name    string   `json:"name"`
	State   string   `json:"state,omitempty"`
	Dirty   bool     `json:"dirty"`
	Changed []string `json:"changed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type LifecycleResult struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Summarize converts a fleet report and restart outcomes.
func Summarize(report *fleet.Report, outcomes []fleet.Outcome, dryRun bool) ReconcileSummary {
	s := ReconcileSummary{DryRun: dryRun, Deleted: report.Deleted, Orphans: report.Orphans}
	for _, inst := range report.Instances {
		res := InstanceResult{Name: inst.Name}
		if err, failed := report.Failed[inst.Name]; failed {
			res.Error = err.Error()
		} else {
			r := report.Results[inst.Name]
			res.State, res.Dirty, res.Changed = r.State, r.Dirty, r.Changed
		}
		s.Results = append(s.Results, res)
	}
	for _, o := range outcomes {
		lr := LifecycleResult{Name: o.Instance, Action: o.Action, Result: o.Result.String()}
		if o.Err != nil {
			lr.Error = o.Err.Error()
		}
		s.Outcomes = append(s.Outcomes, lr)
	}
	return s
}

// RenderReconcile renders a fleet pass.
func (r *Renderer) RenderReconcile(s ReconcileSummary) error {
	if r.format == FormatJSON {
		return r.json(s)
	}

	data := pterm.TableData{{"INSTANCE", "STATE", "RESTART", "CHANGED"}}
	for _, res := range s.Results {
		if res.Error != "" {
			data = append(data, []string{res.Name, r.style(errorStyle, "failed"), "", res.Error})
			continue
		}
		restart := r.style(mutedStyle, "no")
		if res.Dirty {
			restart = r.style(warningStyle, "yes")
		}
		changed := fmt.Sprint(len(res.Changed))
		data = append(data, []string{res.Name, r.style(successStyle, res.State), restart, changed})
	}
	if err := r.table(data); err != nil {
		return err
	}

	for _, path := range s.Deleted {
		fmt.Fprintf(r.out, "deleted orphan %s\n", path)
	}
	for _, o := range s.Outcomes {
		if o.Action == fleet.ActionNone {
			continue
		}
		line := fmt.Sprintf("%s %s: %s", o.Action, o.Name, o.Result)
		if o.Error != "" {
			line = r.style(errorStyle, line+" ("+o.Error+")")
		}
		fmt.Fprintln(r.out, line)
	}
	if s.DryRun {
		fmt.Fprintln(r.out, r.style(mutedStyle, "dry run: nothing was changed"))
	}
	return nil
}

// RenderAction renders the result of a single start or stop.
func (r *Renderer) RenderAction(instance, action string, result types.Tristate) error {
	if r.format == FormatJSON {
		return r.json(LifecycleResult{Name: instance, Action: action, Result: result.String()})
	}
	var msg string
	switch result {
	case types.True:
		msg = r.style(successStyle, fmt.Sprintf("%s: %s done", instance, action))
	case types.False:
		msg = r.style(mutedStyle, fmt.Sprintf("%s: nothing to %s", instance, action))
	default:
		msg = r.style(warningStyle, fmt.Sprintf("%s: %s result unknown, check the PID file", instance, action))
	}
	_, err := fmt.Fprintln(r.out, msg)
	return err
}

// RenderError renders an error with its code.
func (r *Renderer) RenderError(err error) error {
	if r.format == FormatJSON {
		return r.json(map[string]interface{}{
			"error":   err.Error(),
			"code":    errors.GetErrorCode(err),
			"details": errors.GetErrorDetails(err),
		})
	}
	prefix := "ERROR"
	if r.format == FormatTerminal {
		prefix = pterm.Error.Prefix.Text
	}
	_, werr := fmt.Fprintf(r.out, "%s %s\n", prefix, r.style(errorStyle, err.Error()))
	return werr
}
