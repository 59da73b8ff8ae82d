package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newReplayCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay the offline buffer to the remote feed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.app.Coordinator.HasFeed() {
				c.logger.Warn("no remote feed configured, nothing will be confirmed")
			}
			report, err := c.app.Coordinator.Replay(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
