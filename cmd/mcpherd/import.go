package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [path]",
		Short: "Import a server from a script, binary or manifest",
		Long: `Import copies the artifact into managed storage and registers it.
It does not start the server and does not update client config files;
run "mcpherd sync" afterwards to project the new server into clients.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          importServer,
	}
	cmd.Flags().String("name", "", "Override the derived server name")
	return cmd
}

func importServer(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	name, _ := cmd.Flags().GetString("name")

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	server, err := apiClient(cmd).Import(cmd.Context(), path, name)
	if err != nil {
		return err
	}

	if formatter.jsonMode {
		return formatter.Print(server)
	}
	return formatter.Success(fmt.Sprintf("Imported %q (%s)", server.Name, server.Command), nil)
}
