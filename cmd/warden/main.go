package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/warden"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every subcommand
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}
	startFlags := &StartFlags{}
	stopFlags := &StopFlags{}
	portsFlags := &PortsFlags{}
	killFlags := &KillFlags{}

	wardenCommand := command{}

	root := createRootCommand(globalFlags)

	// Add subcommands
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(wardenCommand, statusFlags),
		createStartCommand(wardenCommand, startFlags),
		createStopCommand(wardenCommand, stopFlags),
		createPortsCommand(wardenCommand, portsFlags),
		createKillCommand(wardenCommand, killFlags),
	)

	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Server supervision and reconciliation tool",
		Long: `Warden supervises registered server processes: it spawns and stops them,
verifies they answer on their declared ports, and reconciles its bookkeeping
against what the OS reports is listening.

Examples:
  warden serve --config=warden.toml  # Start daemon
  warden status                      # Reconciled view of every server
  warden start --id=web
  warden kill --port=3000
  warden status --api-url=http://remote:8800/api  # Remote status`,
	}

	// Only essential flags for CLI commands
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [warden.toml]",
		Short: "Start the warden daemon",
		Long: `Start the warden daemon to supervise the servers declared in the config.
The daemon reattaches to children that survived a previous run, monitors
health, and serves the HTTP API until SIGINT/SIGTERM.

Examples:
  warden serve --config=warden.toml
  warden serve warden.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(&ServeFlags{ConfigPath: globalFlags.ConfigPath}, args)
		},
	}

	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}

	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=warden.toml or provide as argument")
	}

	fc, err := warden.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	st, err := warden.NewStore(fc.Store)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}

	var sinks []warden.HistorySink
	if fc.History.DSN != "" {
		sink, err := warden.NewHistorySink(fc.History.DSN)
		if err != nil {
			return fmt.Errorf("failed to open history sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	globalEnv, err := fc.GlobalEnv()
	if err != nil {
		return fmt.Errorf("failed to load global env: %w", err)
	}

	orch := warden.New(warden.Options{
		Store:           st,
		HistorySinks:    sinks,
		KillGrace:       fc.Kill.Grace,
		MonitorInterval: fc.Monitor.Interval,
		ProbeTimeout:    fc.Monitor.ProbeTimeout,
		GlobalEnv:       globalEnv,
	})
	if err := orch.RegisterServers(fc.ServerConfigs()); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	ctx := context.Background()
	if err := orch.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	// Setup metrics from config
	var sampler *warden.ResourceSampler
	if fc.Metrics.Enabled {
		if err := warden.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		} else {
			sampler = warden.NewResourceSampler(fc.Metrics.ResourceInterval)
			if err := sampler.Register(prometheus.DefaultRegisterer); err != nil {
				fmt.Printf("Warning: failed to register resource sampler: %v\n", err)
				sampler = nil
			} else {
				sampler.Start(ctx, func() map[string]int32 {
					pids := make(map[string]int32)
					for _, rec := range orch.Records() {
						if rec.Live() && rec.PID > 0 {
							pids[rec.ServerID] = int32(rec.PID)
						}
					}
					return pids
				})
			}
		}
	}

	server, err := warden.NewHTTPServer(fc.Listen, fc.BasePath, orch)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	fmt.Printf("Starting warden server on %s%s\n", fc.Listen, fc.BasePath)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	_ = server.Close()
	if sampler != nil {
		sampler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orch.Shutdown(shutdownCtx)
	return nil
}

// createStatusCommand creates the status subcommand
func createStatusCommand(wardenCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long: `Show the reconciled status of servers managed by the warden daemon.

Examples:
  warden status                    # Show all servers
  warden status --id=web           # Show specific server
  warden status --api-url=http://remote:8800/api  # Remote status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Status(StatusFlags{
				ID:         statusFlags.ID,
				APIUrl:     statusFlags.APIUrl,
				APITimeout: statusFlags.APITimeout,
			})
		},
	}
	cmd.Flags().StringVar(&statusFlags.ID, "id", "", "server id (optional)")
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8800/api)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(wardenCommand command, startFlags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a server",
		Long: `Start a registered server with the specified id.
Servers are registered via the daemon's config file.

Examples:
  warden start --id=web
  warden start --id=api --api-url=http://remote:8800/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Start(StartFlags{
				ID:         startFlags.ID,
				APIUrl:     startFlags.APIUrl,
				APITimeout: startFlags.APITimeout,
			})
		},
	}

	cmd.Flags().StringVar(&startFlags.ID, "id", "", "server id (required)")
	cmd.Flags().StringVar(&startFlags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8800/api)")
	cmd.Flags().DurationVar(&startFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	// Mark required flags
	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err) // This should never happen during setup
	}

	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(wardenCommand command, stopFlags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a server",
		Long: `Stop a supervised server with the specified id.

Examples:
  warden stop --id=web
  warden stop --id=api --api-url=http://remote:8800/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Stop(StopFlags{
				ID:         stopFlags.ID,
				APIUrl:     stopFlags.APIUrl,
				APITimeout: stopFlags.APITimeout,
			})
		},
	}

	cmd.Flags().StringVar(&stopFlags.ID, "id", "", "server id (required)")
	cmd.Flags().StringVar(&stopFlags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8800/api)")
	cmd.Flags().DurationVar(&stopFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")

	// Mark required flags
	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err) // This should never happen during setup
	}

	return cmd
}

// createPortsCommand creates the ports subcommand
func createPortsCommand(wardenCommand command, portsFlags *PortsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Show listening ports",
		Long: `Show every listening TCP port the daemon's scanner can see,
with the owning pid and program where the platform reports them.

Examples:
  warden ports
  warden ports --api-url=http://remote:8800/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Ports(PortsFlags{
				APIUrl:     portsFlags.APIUrl,
				APITimeout: portsFlags.APITimeout,
			})
		},
	}
	cmd.Flags().StringVar(&portsFlags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8800/api)")
	cmd.Flags().DurationVar(&portsFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createKillCommand creates the kill subcommand
func createKillCommand(wardenCommand command, killFlags *KillFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Kill a process by pid or port",
		Long: `Kill a process by pid, or whatever is listening on a port.
The daemon refuses pids below its protected threshold.

Examples:
  warden kill --pid=12345
  warden kill --port=3000
  warden kill --port=3000 --api-url=http://remote:8800/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Kill(KillFlags{
				PID:        killFlags.PID,
				Port:       killFlags.Port,
				APIUrl:     killFlags.APIUrl,
				APITimeout: killFlags.APITimeout,
			})
		},
	}

	cmd.Flags().StringVar(&killFlags.PID, "pid", "", "process id to kill")
	cmd.Flags().StringVar(&killFlags.Port, "port", "", "listening port whose owner to kill")
	cmd.Flags().StringVar(&killFlags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8800/api)")
	cmd.Flags().DurationVar(&killFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}
