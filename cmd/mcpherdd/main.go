package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/daemon"
	mcpherdversion "github.com/mcpherd/mcpherd/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mcpherdd",
		Short:         "mcpherd daemon - supervises MCP server processes and serves the API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = mcpherdversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.Flags().String("home", "", "Data directory (default $MCPHERD_HOME or ~/.mcpherd)")
	rootCmd.Flags().String("backend", daemon.BackendFile, "Registry backend (file|sqlite)")
	rootCmd.Flags().Duration("grace", 0, "Startup grace interval before a server counts as running")
	rootCmd.Flags().Duration("stop-timeout", 0, "Grace period before child processes are killed on shutdown")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	home, _ := cmd.Flags().GetString("home")
	backend, _ := cmd.Flags().GetString("backend")
	grace, _ := cmd.Flags().GetDuration("grace")
	stopTimeout, _ := cmd.Flags().GetDuration("stop-timeout")

	if home == "" {
		home = config.Home()
	}

	if err := setupLogging(home); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	d, err := daemon.New(daemon.Options{
		Home:          home,
		Backend:       backend,
		GraceInterval: grace,
		StopTimeout:   stopTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("mcpherd daemon started (PID: %d)", os.Getpid())
	log.Printf("Unix socket: %s", d.SocketPath())

	if err := d.Run(ctx); err != nil {
		log.Printf("Daemon error: %v", err)
		return err
	}

	log.Println("Daemon stopped")
	return nil
}

func setupLogging(home string) error {
	paths, err := config.EnsureDirs(home)
	if err != nil {
		return fmt.Errorf("initialise data directories: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags)

	log.Printf("=== mcpherd daemon starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", logPath)
	return nil
}
