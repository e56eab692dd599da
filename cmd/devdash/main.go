package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/devdash"
	"github.com/spf13/cobra"
)

const defaultAPITimeout = 10 * time.Second

func main() {
	root := buildRoot(command{out: os.Stdout, errOut: os.Stderr})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for configuration problems and 1 for everything else.
func exitCode(err error) int {
	var ce *devdash.ConfigurationError
	if errors.As(err, &ce) {
		return 2
	}
	return 1
}

func buildRoot(c command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	root.AddCommand(
		createServeCommand(c, globalFlags),
		createScanCommand(c, globalFlags),
		createUnitsCommand(c),
		createPsCommand(c),
		createRunCommand(c),
		createStopCommand(c),
		createInstallCommand(c),
		createLinkCommand(c),
		createEventsCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "devdash",
		Short: "Local development dashboard for npm-style packages",
		Long: `Devdash discovers npm-style packages under configured roots, runs and
stops their scripts, detects the localhost URL each script serves on, and
streams lifecycle events to the browser UI.

Examples:
  devdash serve config.toml                 # Start the daemon
  devdash scan --config=config.toml         # List units without a daemon
  devdash ps                                # Running scripts
  devdash run --unit=./modules/ui/button --script=dev`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (TOML, JSON or YAML)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:3001/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", defaultAPITimeout, "request timeout")
}

func createServeCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config]",
		Short: "Start the devdash daemon",
		Long: `Start the daemon: HTTP API, event stream and static UI.

Examples:
  devdash serve                       # Uses --config or DEVDASH_* environment
  devdash serve config.toml           # Start with specific config file
  devdash serve --listen=:3001        # Override server.listen
  devdash serve --open                # Open the dashboard in the browser once listening
  devdash serve --daemonize           # Run in background (pidfile from [server].pidfile)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.Serve(ctx, *serveFlags, args)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "override server.listen")
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "override server.pidfile")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	cmd.Flags().BoolVar(&serveFlags.Open, "open", false, "open the dashboard in the default browser (server.open_browser)")
	return cmd
}

func createScanCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	scanFlags := &ScanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List units under the configured roots without a daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			scanFlags.ConfigPath = globalFlags.ConfigPath
			return c.Scan(*scanFlags)
		},
	}
	cmd.Flags().StringVar(&scanFlags.Layout, "layout", "", "only roots with this layout (categories|apps)")
	return cmd
}

func createUnitsCommand(c command) *cobra.Command {
	f := &UnitsFlags{}
	cmd := &cobra.Command{
		Use:   "units",
		Short: "List units known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Units(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Layout, "layout", "", "only roots with this layout (categories|apps)")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createPsCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List running scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Ps(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createRunCommand(c command) *cobra.Command {
	f := &ScriptFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a script of a unit",
		Long: `Ask the daemon to start a script. Returns once the request is accepted.

Examples:
  devdash run --unit=./modules/ui/button --script=dev`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), *f)
		},
	}
	addScriptFlags(cmd, f)
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	f := &ScriptFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), *f)
		},
	}
	addScriptFlags(cmd, f)
	return cmd
}

func addScriptFlags(cmd *cobra.Command, f *ScriptFlags) {
	cmd.Flags().StringVar(&f.Unit, "unit", "", "unit directory (required)")
	cmd.Flags().StringVar(&f.Script, "script", "", "script name (required)")
	addAPIFlags(cmd, &f.APIFlags)
	if err := cmd.MarkFlagRequired("unit"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("script"); err != nil {
		panic(err)
	}
}

func createInstallCommand(c command) *cobra.Command {
	f := &BatchFlags{}
	cmd := &cobra.Command{
		Use:   "install <dir>...",
		Short: "Run npm install in each directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Paths = args
			return c.Install(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createLinkCommand(c command) *cobra.Command {
	f := &BatchFlags{}
	cmd := &cobra.Command{
		Use:   "link <dir>...",
		Short: "Link the given units to each other's local sources",
		Long: `Register every directory with npm link, then link each one to the other
selected units it depends on.

Examples:
  devdash link ./modules/ui/button ./apps/web`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Paths = args
			return c.Link(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createEventsCommand(c command) *cobra.Command {
	f := &EventsFlags{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the daemon's event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.Events(ctx, *f)
		},
	}
	cmd.Flags().IntVar(&f.Count, "count", 0, "exit after this many events")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}
