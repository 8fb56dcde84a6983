package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	apihttp "github.com/mcpherd/mcpherd/internal/api/http"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "logs [name]",
		Short:         "Stream live output from running servers",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          followLogs,
	}
	return cmd
}

func followLogs(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	server := ""
	if len(args) > 0 {
		server = args[0]
	}

	err := apiClient(cmd).FollowLogs(cmd.Context(), server, func(event apihttp.LogStreamEvent) error {
		if formatter.jsonMode {
			line, err := json.Marshal(event)
			if err != nil {
				return err
			}
			fmt.Println(string(line))
			return nil
		}
		fmt.Printf("%s [%s/%s] %s\n",
			event.Timestamp.Local().Format("15:04:05"),
			event.Server, event.Stream, event.Line)
		return nil
	})
	// Ctrl-C is the normal way to leave the stream.
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
