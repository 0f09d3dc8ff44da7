package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tmowbrey/sqlbridge/internal/config"
	"github.com/tmowbrey/sqlbridge/internal/logger"
	"github.com/tmowbrey/sqlbridge/internal/manager"
	"github.com/tmowbrey/sqlbridge/internal/workspace"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sqlbridge",
		Short: "SSH-tunneled access to remote PostgreSQL databases",
		Long: `sqlbridge connects to named PostgreSQL databases defined in its config
file, opening SSH tunnels for hosts that are not directly reachable.
Queries are edited in per-connection scratch files and results land in a
shared results file, ready to be watched by an editor.

Typical session:
  sqlbridge connect mydb        Open the connection and its workspace
  sqlbridge exec mydb           Run the workspace query file
  sqlbridge close mydb          Tear down the connection and tunnel`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/sqlbridge/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newConnectCmd(),
		newExecCmd(),
		newTestCmd(),
		newCloseCmd(),
		newCloseAllCmd(),
		newListCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

// setup loads configuration, initializes logging, and builds the manager.
func setup() (*manager.Manager, error) {
	var cfg *config.Config
	var err error

	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logLevel := logger.ParseLevel(cfg.LogLevel)
	if debug {
		logLevel = logger.LevelDebug
	}
	logger.InitLogger(logLevel, cfg.LogFile)

	logger.Debug("sqlbridge starting", "version", version, "config", configPath)
	return manager.New(cfg), nil
}

// newConnectCmd creates the connect subcommand.
func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <name>",
		Short: "Open a named connection and its workspace files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup()
			if err != nil {
				return err
			}
			defer logger.Close()
			defer m.CloseAll()

			conn, err := m.GetOrCreate(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Connected to %s\n", conn.Name)
			fmt.Printf("  Query file:   %s\n", conn.Workspace.QueryPath)
			fmt.Printf("  Results file: %s\n", conn.Workspace.ResultsPath)
			if conn.UsesTunnel {
				fmt.Printf("  Tunnel:       127.0.0.1:%d\n", conn.LocalPort)
			}
			fmt.Println("Press Ctrl-C to disconnect.")

			waitForSignal()
			fmt.Println("\nShutting down...")
			return nil
		},
	}
}

// newExecCmd creates the exec subcommand.
func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <name>",
		Short: "Execute the workspace query file for a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup()
			if err != nil {
				return err
			}
			defer logger.Close()
			defer m.CloseAll()

			if err := m.Execute(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Results written to %s\n", resultsPath())
			return nil
		},
	}
}

// newTestCmd creates the test subcommand.
func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <name>",
		Short: "Verify a connection with a version round trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup()
			if err != nil {
				return err
			}
			defer logger.Close()
			defer m.CloseAll()

			version, err := m.Test(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Connection %q OK\n%s\n", args[0], version)
			return nil
		},
	}
}

// newCloseCmd creates the close subcommand.
func newCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <name>",
		Short: "Close a connection and its tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup()
			if err != nil {
				return err
			}
			defer logger.Close()

			if err := m.Close(args[0]); err != nil {
				return err
			}
			fmt.Printf("Closed %s\n", args[0])
			return nil
		},
	}
}

// newCloseAllCmd creates the close-all subcommand.
func newCloseAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close-all",
		Short: "Close every connection and tunnel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup()
			if err != nil {
				return err
			}
			defer logger.Close()

			m.CloseAll()
			fmt.Println("All connections closed")
			return nil
		},
	}
}

// newListCmd creates the list subcommand.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if configPath != "" {
				cfg, err = config.LoadFromPath(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			for _, c := range cfg.Connections {
				tunneled := ""
				if c.NeedsTunnel() {
					tunneled = " (tunneled)"
				}
				fmt.Printf("%s\t%s:%d/%s%s\n", c.Name, c.Host, c.Port, c.Database, tunneled)
			}
			return nil
		},
	}
}

func resultsPath() string {
	return filepath.Join(workspace.Dir(), "results.dbout")
}

// waitForSignal blocks until SIGINT or SIGTERM.
func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}
