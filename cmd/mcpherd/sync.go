package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sync",
		Short:         "Reconcile client config files with the registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          syncClients,
	}
	cmd.Flags().Bool("dry-run", false, "Report drift without writing any files")
	return cmd
}

func syncClients(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	report, err := apiClient(cmd).Reconcile(cmd.Context(), dryRun)
	if err != nil {
		return err
	}

	if formatter.jsonMode {
		return formatter.Print(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT\tENTRY\tSTATE")
	for _, clientReport := range report.Clients {
		if clientReport.Error != "" {
			fmt.Fprintf(w, "%s\t-\terror: %s\n", clientReport.Client, clientReport.Error)
			continue
		}
		for _, entry := range clientReport.Entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", clientReport.Client, entry.Name, entry.State)
		}
		for _, orphan := range clientReport.Orphans {
			fmt.Fprintf(w, "%s\t%s\torphan (untouched)\n", clientReport.Client, orphan)
		}
	}
	w.Flush()

	for _, mismatch := range report.Processes {
		fmt.Printf("note: %s: %s\n", mismatch.Name, mismatch.Kind)
	}

	missing, stale := report.Counts()
	switch {
	case report.DryRun:
		fmt.Printf("Dry run: %d missing, %d stale\n", missing, stale)
	case missing == 0 && stale == 0:
		fmt.Println("All client configs in sync")
	default:
		applied := 0
		for _, clientReport := range report.Clients {
			applied += len(clientReport.Applied)
		}
		fmt.Printf("Applied %d change(s)\n", applied)
	}
	return nil
}
