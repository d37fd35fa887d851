package tomcatd

import (
	"fmt"
	"sort"

	"github.com/arthur-debert/tomcatd/internal/version"
	"github.com/arthur-debert/tomcatd/pkg/config"
	"github.com/arthur-debert/tomcatd/pkg/logging"
	"github.com/arthur-debert/tomcatd/pkg/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

// options are the persistent flags shared by every command.
type options struct {
	verbosity  int
	configFile string
	format     string
	logFile    string
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:     "tomcatd",
		Short:   MsgRootShort,
		Long:    MsgRootLong,
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupLogger(opts.verbosity, opts.logFile)
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("no command specified")
		},
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}

	rootCmd.PersistentFlags().CountVarP(&opts.verbosity, "verbose", "v", MsgFlagVerbose)
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", MsgFlagConfig)
	rootCmd.PersistentFlags().StringVarP(&opts.format, "format", "f", "auto", MsgFlagFormat)
	rootCmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", MsgFlagLogFile)

	rootCmd.AddGroup(
		&cobra.Group{ID: "fleet", Title: "Fleet Commands:"},
		&cobra.Group{ID: "instance", Title: "Instance Commands:"},
		&cobra.Group{ID: "misc", Title: "Other Commands:"},
	)

	rootCmd.AddCommand(
		withGroup("fleet", newReconcileCmd(opts)),
		withGroup("fleet", newStatusCmd(opts)),
		withGroup("instance", newStartCmd(opts)),
		withGroup("instance", newStopCmd(opts)),
		withGroup("instance", newRestartCmd(opts)),
		withGroup("misc", newConfigCmd(opts)),
		withGroup("misc", newVersionCmd()),
		withGroup("misc", newCompletionCmd()),
		withGroup("misc", newManCmd()),
	)
	return rootCmd
}

func withGroup(id string, cmd *cobra.Command) *cobra.Command {
	cmd.GroupID = id
	return cmd
}

// load reads the configuration and wires the engine.
func (o *options) load() (*app, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func (o *options) renderer(cmd *cobra.Command) (*ui.Renderer, error) {
	format, err := ui.ParseFormat(o.format)
	if err != nil {
		return nil, err
	}
	return ui.NewRenderer(format, cmd.OutOrStdout()), nil
}

// instanceNames completes instance names from the desired state.
func (o *options) instanceNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	a, err := newApp(cfg)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer a.close()
	instances, err := a.provider.Instances(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var names []string
	for _, inst := range instances {
		names = append(names, inst.Name)
	}
	sort.Strings(names)
	return names, cobra.ShellCompDirectiveNoFileComp
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: MsgVersionShort,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), MsgVersionFormat, version.Version, version.Commit, version.Date)
		},
	}
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: MsgCompletionShort,
		Long: `To load completions:

Bash:
  $ source <(tomcatd completion bash)

Zsh:
  $ tomcatd completion zsh > "${fpath[1]}/_tomcatd"

Fish:
  $ tomcatd completion fish | source
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
			default:
				return cmd.Root().GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
			}
		},
	}
}

func newManCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "man",
		Short: MsgManShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			header := &doc.GenManHeader{
				Title:   "TOMCATD",
				Section: "8",
			}
			return doc.GenManTree(cmd.Root(), header, dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", MsgFlagManDir)
	return cmd
}
