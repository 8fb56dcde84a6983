package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/mcpherd/mcpherd/internal/api/http"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "start [name]",
		Short:         "Start a registered server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          startServer,
	}
}

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stop [name]",
		Short:         "Stop a running server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          stopServer,
	}
	cmd.Flags().Duration("timeout", 0, "Grace period before the process is killed")
	return cmd
}

func newRestartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "restart [name]",
		Short:         "Restart a server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          restartServer,
	}
	cmd.Flags().Duration("timeout", 0, "Grace period before the process is killed")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "status [name]",
		Short:         "Show the process status of a server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serverStatus,
	}
}

func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "ps",
		Short:         "List running servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listRunning,
	}
}

func startServer(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	status, err := apiClient(cmd).Start(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if formatter.jsonMode {
		return formatter.Print(status)
	}
	return formatter.Success(fmt.Sprintf("Started %q (pid %d)", status.Name, status.PID), nil)
}

func stopServer(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	timeout, _ := cmd.Flags().GetDuration("timeout")

	status, err := apiClient(cmd).Stop(cmd.Context(), args[0], timeout)
	if err != nil {
		return err
	}
	if formatter.jsonMode {
		return formatter.Print(status)
	}
	return formatter.Success(fmt.Sprintf("Stopped %q", status.Name), nil)
}

func restartServer(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	timeout, _ := cmd.Flags().GetDuration("timeout")

	status, err := apiClient(cmd).Restart(cmd.Context(), args[0], timeout)
	if err != nil {
		return err
	}
	if formatter.jsonMode {
		return formatter.Print(status)
	}
	return formatter.Success(fmt.Sprintf("Restarted %q (pid %d)", status.Name, status.PID), nil)
}

func serverStatus(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	status, err := apiClient(cmd).Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if formatter.jsonMode {
		return formatter.Print(status)
	}

	fmt.Printf("%s: %s", status.Name, status.State)
	if status.PID > 0 {
		fmt.Printf(" (pid %d, up %s)", status.PID, formatUptime(status.UptimeSeconds))
	}
	if status.State == "crashed" {
		fmt.Printf(" (exit code %d)", status.ExitCode)
	}
	fmt.Println()
	return nil
}

func listRunning(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c := apiClient(cmd)

	names, err := c.ListRunning(cmd.Context())
	if err != nil {
		return err
	}

	if formatter.jsonMode {
		return formatter.Print(apihttp.RunningList{Names: names})
	}
	if len(names) == 0 {
		fmt.Println("No servers running")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tPID\tUPTIME")
	for _, name := range names {
		status, err := c.Status(cmd.Context(), name)
		if err != nil {
			fmt.Fprintf(w, "%s\t?\t?\t%v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", status.Name, status.State, status.PID, formatUptime(status.UptimeSeconds))
	}
	return w.Flush()
}

func formatUptime(seconds float64) string {
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}
