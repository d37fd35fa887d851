package tomcatd

import (
	_ "embed"
	"strings"
)

// Short messages (one-liners)
const (
	// Command descriptions
	MsgRootShort       = "Tomcat instance reconciliation and lifecycle"
	MsgReconcileShort  = "Converge all instances to their desired state"
	MsgRestartShort    = "Restart the named instances"
	MsgStartShort      = "Start an instance"
	MsgStopShort       = "Stop an instance"
	MsgStatusShort     = "Show instance status"
	MsgConfigShort     = "Print the effective configuration"
	MsgVersionShort    = "Print version information"
	MsgCompletionShort = "Generate shell completion script"
	MsgManShort        = "Generate man pages"

	// Flag descriptions
	MsgFlagVerbose   = "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)"
	MsgFlagConfig    = "Config file (default /etc/tomcatd/tomcatd.toml)"
	MsgFlagFormat    = "Output format: auto, term, text or json"
	MsgFlagLogFile   = "Log file (default under the XDG state directory)"
	MsgFlagDryRun    = "Report what would change without changing anything"
	MsgFlagNoRestart = "Only rebuild instance directories, leave processes alone"
	MsgFlagManDir    = "Directory to write man pages to"

	// Output
	MsgVersionFormat = "tomcatd version %s\n  commit: %s\n  built:  %s\n"

	// Error messages
	MsgErrFailedInstances = "%d instance(s) failed to reconcile"
	MsgErrRestartFailed   = "%d instance(s) failed to restart"
)

// Long messages from embedded files
var (
	//go:embed msgs/root-long.txt
	msgRootLongRaw string
	MsgRootLong    = strings.TrimSpace(msgRootLongRaw)

	//go:embed msgs/reconcile-long.txt
	msgReconcileLongRaw string
	MsgReconcileLong    = strings.TrimSpace(msgReconcileLongRaw)

	//go:embed msgs/reconcile-example.txt
	msgReconcileExampleRaw string
	MsgReconcileExample    = msgReconcileExampleRaw
)
