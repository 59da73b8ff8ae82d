package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/wardrive-risk-map/internal/adapter/httpadapter"
)

func newZonesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "zones",
		Short: "Build risk zones and print them as a GeoJSON feature collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := c.app.Builder.Build(cmd.Context())
			if err != nil {
				return err
			}
			c.logger.Info("zones built",
				"source", snap.Source,
				"observations", len(snap.Observations),
				"clusters", len(snap.Clusters),
				"zones", len(snap.Zones),
			)
			return json.NewEncoder(c.out).Encode(httpadapter.ZonesGeoJSON(snap.Zones))
		},
	}
}
