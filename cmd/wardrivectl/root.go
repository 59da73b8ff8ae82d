package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/wardrive-risk-map/internal/app"
	"github.com/couchcryptid/wardrive-risk-map/internal/config"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
)

// cli carries state shared by every subcommand. The app is opened in the
// root pre-run so each command sees configured storage and feed.
type cli struct {
	out     io.Writer
	metrics *observability.Metrics
	cfg     *config.Config
	logger  *slog.Logger
	app     *app.App
}

// execute runs one command line. The app is closed even when the command
// fails, since cobra skips post-run hooks on error.
func execute(ctx context.Context, out io.Writer, metrics *observability.Metrics, args []string) error {
	root, c := newRootCmd(out, metrics)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, c.close())
}

func newRootCmd(out io.Writer, metrics *observability.Metrics) (*cobra.Command, *cli) {
	c := &cli{out: out, metrics: metrics}

	root := &cobra.Command{
		Use:   "wardrivectl",
		Short: "Operate on the wardrive observation store and offline buffer",
		Long: `wardrivectl runs maintenance tasks against the same storage and
remote feed the wardrive service uses.

Examples:
  wardrivectl replay                          # push buffered observations
  wardrivectl mock --count 20 --mode ingest   # generate test sightings
  wardrivectl zones                           # print risk zones as GeoJSON
  wardrivectl check                           # verify log integrity`,
		SilenceUsage:      true,
		PersistentPreRunE: c.open,
	}
	root.SetOut(out)

	root.AddCommand(
		newReplayCmd(c),
		newMockCmd(c),
		newZonesCmd(c),
		newCheckCmd(c),
	)
	return root, c
}

func (c *cli) open(cmd *cobra.Command, _ []string) error {
	for p := cmd; p != nil; p = p.Parent() {
		if p.Name() == "help" || p.Name() == "completion" {
			return nil
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = observability.NewStderrLogger(cfg)

	a, err := app.Open(cmd.Context(), cfg, c.logger, c.metrics)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}
