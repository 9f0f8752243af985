package cmd

import (
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/inealey/cinema-transfer/cli/config"
	"github.com/inealey/cinema-transfer/cli/render"
	"github.com/inealey/cinema-transfer/watch"
)

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Send each timestep as soon as all of its files are present",
		Flags: slices.Concat(producerFlags(), []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "Number of files that make up one timestep (required)",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Rescan period when no file events arrive",
				Value: watch.DefaultInterval,
			},
			&cli.DurationFlag{
				Name:  "settle",
				Usage: "Delay between detecting a complete timestep and sending it (0 = send at once)",
				Value: watch.DefaultSettle,
			},
			&cli.IntFlag{
				Name:  "max-runs",
				Usage: "Exit after this many delivered timesteps (0 = until interrupted)",
			},
		}, ReadOnlyFlags()),
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg, "watch")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	count := resolveInt(c, "count", configVal(cfg, func(c *config.Config) int { return c.Producer.Count }))
	if count <= 0 {
		return cli.Exit("--count is required and must be positive", exitConfigError)
	}

	pc, err := resolveProducer(c, cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := watch.Run(ctx, watch.Config{
		Producer: pc,
		Count:    count,
		Interval: resolveDuration(c, "interval", configVal(cfg, func(c *config.Config) time.Duration { return c.Producer.Interval.Duration })),
		Settle:   c.Duration("settle"),
		MaxRuns:  c.Int("max-runs"),
		Logger:   logger,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return r.Render(results)
}
