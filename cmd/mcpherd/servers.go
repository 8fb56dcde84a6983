package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	apihttp "github.com/mcpherd/mcpherd/internal/api/http"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List all registered servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listServers,
	}
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "add [name]",
		Short:         "Register a new server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          addServer,
	}
	cmd.Flags().String("command", "", "Executable to launch (required)")
	cmd.Flags().StringSlice("arg", nil, "Command argument (repeatable)")
	cmd.Flags().String("cwd", "", "Working directory for the server process")
	cmd.Flags().StringToString("env", nil, "Environment variable as KEY=VALUE (repeatable)")
	cmd.Flags().Bool("disabled", false, "Register the server without enabling it")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "show [name]",
		Short:         "Show one server definition",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          showServer,
	}
}

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "update [name]",
		Short:         "Update fields of a server definition",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          updateServer,
	}
	cmd.Flags().String("command", "", "New executable")
	cmd.Flags().StringSlice("arg", nil, "Replacement argument list (repeatable)")
	cmd.Flags().String("cwd", "", "New working directory")
	cmd.Flags().StringToString("env", nil, "Replacement environment as KEY=VALUE")
	cmd.Flags().Bool("enable", false, "Enable the server")
	cmd.Flags().Bool("disable", false, "Disable the server")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "remove [name]",
		Short:         "Remove a server and its client config entries",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          removeServer,
	}
}

func listServers(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	servers, err := apiClient(cmd).ListServers(cmd.Context())
	if err != nil {
		return err
	}

	if formatter.jsonMode {
		return formatter.Print(apihttp.ServerList{Servers: servers})
	}
	if len(servers) == 0 {
		fmt.Println("No servers registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOMMAND\tENABLED\tSOURCE")
	for _, server := range servers {
		command := server.Command
		if len(server.Args) > 0 {
			command += " " + strings.Join(server.Args, " ")
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", server.Name, command, server.Enabled, server.Source)
	}
	return w.Flush()
}

func addServer(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	command, _ := cmd.Flags().GetString("command")
	serverArgs, _ := cmd.Flags().GetStringSlice("arg")
	cwd, _ := cmd.Flags().GetString("cwd")
	env, _ := cmd.Flags().GetStringToString("env")
	disabled, _ := cmd.Flags().GetBool("disabled")

	created, err := apiClient(cmd).CreateServer(cmd.Context(), apihttp.Server{
		Name:       args[0],
		Command:    command,
		Args:       serverArgs,
		WorkingDir: cwd,
		Env:        env,
		Enabled:    !disabled,
	})
	if err != nil {
		return err
	}

	if formatter.jsonMode {
		return formatter.Print(created)
	}
	return formatter.Success(fmt.Sprintf("Registered server %q", created.Name), nil)
}

func showServer(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	server, err := apiClient(cmd).GetServer(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return formatter.Print(server)
}

func updateServer(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	enable, _ := cmd.Flags().GetBool("enable")
	disable, _ := cmd.Flags().GetBool("disable")
	if enable && disable {
		return fmt.Errorf("--enable and --disable are mutually exclusive")
	}

	var req apihttp.UpdateServerRequest
	if cmd.Flags().Changed("command") {
		command, _ := cmd.Flags().GetString("command")
		req.Command = &command
	}
	if cmd.Flags().Changed("arg") {
		serverArgs, _ := cmd.Flags().GetStringSlice("arg")
		req.Args = &serverArgs
	}
	if cmd.Flags().Changed("cwd") {
		cwd, _ := cmd.Flags().GetString("cwd")
		req.WorkingDir = &cwd
	}
	if cmd.Flags().Changed("env") {
		env, _ := cmd.Flags().GetStringToString("env")
		req.Env = &env
	}
	if enable || disable {
		enabled := enable
		req.Enabled = &enabled
	}

	updated, err := apiClient(cmd).UpdateServer(cmd.Context(), args[0], req)
	if err != nil {
		return err
	}

	if formatter.jsonMode {
		return formatter.Print(updated)
	}
	return formatter.Success(fmt.Sprintf("Updated server %q", updated.Name), nil)
}

func removeServer(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	if err := apiClient(cmd).DeleteServer(cmd.Context(), args[0]); err != nil {
		return err
	}
	return formatter.Success(fmt.Sprintf("Removed server %q", args[0]), nil)
}
