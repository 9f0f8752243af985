package cmd

import (
	"errors"
	"fmt"
	"net"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/inealey/cinema-transfer/cli/config"
	"github.com/inealey/cinema-transfer/cli/render"
	"github.com/inealey/cinema-transfer/ledger"
	"github.com/inealey/cinema-transfer/log"
	"github.com/inealey/cinema-transfer/producer"
	"github.com/inealey/cinema-transfer/session"
	"github.com/inealey/cinema-transfer/wire"
)

// Producer flag defaults.
const (
	defaultInput  = "images"
	defaultLedger = "cinema.ledger"
)

// SendCommand returns the send command.
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Send the next timestep's batch to a collector and record it in the ledger",
		Flags: slices.Concat(producerFlags(), []cli.Flag{
			&cli.BoolFlag{
				Name:  "timestep-filter",
				Usage: "Only send files whose name contains the zero-padded next timestep",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
		}, ReadOnlyFlags()),
		Action: sendAction,
	}
}

// producerFlags are shared by send and watch.
func producerFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		LogLevelFlag,
		&cli.StringFlag{
			Name:  "host",
			Usage: "Collector host",
			Value: defaultHost,
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "Collector port",
			Value: defaultPort,
		},
		&cli.StringFlag{
			Name:  "input",
			Usage: "Directory holding the files to send",
			Value: defaultInput,
		},
		&cli.StringFlag{
			Name:  "ledger",
			Usage: "Ledger file recording delivered timesteps",
			Value: defaultLedger,
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "Dataset name recorded in the ledger (required)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Bound on the dial and on every handshake step",
			Value: session.DefaultTimeout,
		},
	}
}

func sendAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg, "producer")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	pc, err := resolveProducer(c, cfg, logger)
	if err != nil {
		return err
	}
	pc.FilterByTimestep = resolveBool(c, "timestep-filter",
		configVal(cfg, func(c *config.Config) bool { return c.Producer.TimestepFilter }))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := producer.Run(ctx, pc)
	if err != nil {
		return producerExit(err)
	}

	if c.Bool("quiet") {
		return nil
	}
	return r.Render(result)
}

// resolveProducer builds a producer config from flags and config.
func resolveProducer(c *cli.Context, cfg *config.Config, logger *log.Logger) (producer.Config, error) {
	name := resolveString(c, "name", configVal(cfg, func(c *config.Config) string { return c.Producer.Name }))
	if name == "" {
		return producer.Config{}, cli.Exit("--name is required", exitConfigError)
	}
	if err := ledger.ValidateDataset(name); err != nil {
		return producer.Config{}, cli.Exit(err.Error(), exitConfigError)
	}

	led, err := ledger.Open(resolveString(c, "ledger",
		configVal(cfg, func(c *config.Config) string { return c.Producer.Ledger })))
	if err != nil {
		return producer.Config{}, cli.Exit(fmt.Sprintf("failed to open ledger: %v", err), exitConfigError)
	}

	host := resolveString(c, "host", configVal(cfg, func(c *config.Config) string { return c.Producer.Host }))
	port := resolveInt(c, "port", configVal(cfg, func(c *config.Config) int { return c.Producer.Port }))

	return producer.Config{
		Addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		Input:   resolveString(c, "input", configVal(cfg, func(c *config.Config) string { return c.Producer.Input })),
		Dataset: name,
		Ledger:  led,
		Timeout: resolveDuration(c, "timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Producer.Timeout.Duration })),
		Logger:  logger,
		OnAck: func(ack wire.ControlMessage) {
			logger.Debug("acknowledged", map[string]any{"ack": ack.String()})
		},
	}, nil
}

// producerExit maps a producer run error to its exit code.
func producerExit(err error) error {
	switch {
	case errors.Is(err, producer.ErrNothingToSend):
		return cli.Exit(err.Error(), exitNothingToSend)
	case errors.Is(err, ledger.ErrInvalidDataset):
		return cli.Exit(err.Error(), exitConfigError)
	default:
		return cli.Exit(fmt.Sprintf("send failed: %v", err), exitFailure)
	}
}
