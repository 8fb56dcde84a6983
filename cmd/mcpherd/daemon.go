package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpherdversion "github.com/mcpherd/mcpherd/internal/version"
)

func newDaemonCmd() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:           "daemon",
		Short:         "Daemon management commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Show daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}

	stopCmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop the daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStop,
	}

	daemonCmd.AddCommand(statusCmd, stopCmd)
	return daemonCmd
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	info, err := apiClient(cmd).Info(cmd.Context())
	if err != nil {
		return err
	}

	if warning := mcpherdversion.CheckVersionMismatch(info.Version); warning != "" {
		fmt.Fprintln(os.Stderr, warning)
	}

	if formatter.jsonMode {
		return formatter.Print(info)
	}
	fmt.Printf("Daemon running (pid %d, version %s, started %s)\n",
		info.PID, info.Version, info.StartedAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func daemonStop(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	if err := apiClient(cmd).Shutdown(cmd.Context()); err != nil {
		return err
	}
	return formatter.Success("Daemon shutdown requested", nil)
}
