package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/client"
	mcpherdversion "github.com/mcpherd/mcpherd/internal/version"
)

var rootCmd *cobra.Command

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter creates a formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data interface{}) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
		return nil
	}
	switch v := data.(type) {
	case string:
		fmt.Println(v)
	default:
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	}
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "mcpherd",
		Short: "mcpherd - manage local MCP servers and client configs",
		Long: `mcpherd keeps a single registry of local MCP servers, runs them as
supervised child processes, and keeps AI client configuration files
(Claude Desktop, Cursor, VS Code) in sync with the registry.`,
	}
	rootCmd.Version = mcpherdversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("home", "", "Data directory (default $MCPHERD_HOME or ~/.mcpherd)")
}

// apiClient builds a daemon client honouring the --home flag.
func apiClient(cmd *cobra.Command) *client.Client {
	home, _ := cmd.Flags().GetString("home")
	return client.New(home)
}

func main() {
	rootCmd.AddCommand(
		newListCmd(),
		newAddCmd(),
		newShowCmd(),
		newUpdateCmd(),
		newRemoveCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newPsCmd(),
		newSyncCmd(),
		newImportCmd(),
		newLogsCmd(),
		newDaemonCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
