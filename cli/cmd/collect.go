package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/inealey/cinema-transfer/adapter"
	"github.com/inealey/cinema-transfer/adapter/redis"
	"github.com/inealey/cinema-transfer/adapter/webhook"
	"github.com/inealey/cinema-transfer/catalog"
	"github.com/inealey/cinema-transfer/cli/config"
	"github.com/inealey/cinema-transfer/collector"
	"github.com/inealey/cinema-transfer/log"
	"github.com/inealey/cinema-transfer/metrics"
	"github.com/inealey/cinema-transfer/output"
)

// Collector flag defaults.
const (
	defaultHost       = "127.0.0.1"
	defaultPort       = 10001
	defaultOutput     = "output"
	defaultTimesteps  = 10
	defaultPhi        = 6
	defaultTheta      = 6
	defaultMaxPayload = "1GiB"
)

// metricsShutdownTimeout bounds the metrics endpoint's graceful shutdown.
const metricsShutdownTimeout = 5 * time.Second

// CollectCommand returns the collect command.
func CollectCommand() *cli.Command {
	return &cli.Command{
		Name:  "collect",
		Usage: "Receive batches from producers and write them to an output location",
		Flags: append([]cli.Flag{
			ConfigFlag,
			LogLevelFlag,
			&cli.StringFlag{
				Name:  "host",
				Usage: "Interface to listen on",
				Value: defaultHost,
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
				Value: defaultPort,
			},
			&cli.StringFlag{
				Name:  "max-payload",
				Usage: "Largest accepted payload (e.g. 512MiB, 2GB)",
				Value: defaultMaxPayload,
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "Close connections that send nothing for this long",
				Value: collector.DefaultIdleTimeout,
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (e.g. :9100)",
			},
		}, slices.Concat(storageFlags(), resolutionFlags(), adapterFlags())...),
		Action: collectAction,
	}
}

// storageFlags select the output backend, shared by collect and catalog.
func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output location (fs: directory, s3: bucket/prefix)",
			Value: defaultOutput,
		},
		&cli.StringFlag{
			Name:  "output-backend",
			Usage: "Output backend: fs or s3",
			Value: output.BackendFS,
		},
		&cli.StringFlag{
			Name:  "s3-region",
			Usage: "AWS region for the s3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "s3-endpoint",
			Usage: "Custom endpoint for S3-compatible providers",
		},
		&cli.BoolFlag{
			Name:  "s3-path-style",
			Usage: "Use path-style S3 addressing",
		},
	}
}

// resolutionFlags are the manifest dimensions shared by collect and catalog.
func resolutionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "timesteps",
			Usage: "Number of timesteps in the manifest",
			Value: defaultTimesteps,
		},
		&cli.IntFlag{
			Name:  "phi",
			Usage: "Number of phi camera angles",
			Value: defaultPhi,
		},
		&cli.IntFlag{
			Name:  "theta",
			Usage: "Number of theta camera angles",
			Value: defaultTheta,
		},
	}
}

func adapterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Notify on every received batch: redis or webhook",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Redis URL or webhook endpoint",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.StringFlag{
			Name:  "adapter-list",
			Usage: "Redis list that also receives every event",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Webhook header as Key=Value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-publish timeout",
			Value: 10 * time.Second,
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Retry attempts per publish",
			Value: 3,
		},
	}
}

// storageChoice holds the resolved output backend configuration.
type storageChoice struct {
	backend   string
	path      string
	region    string
	endpoint  string
	pathStyle bool
}

// adapterChoice holds the resolved adapter configuration.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	list        string
	headers     map[string]string
	timeout     time.Duration
	retries     int
}

func collectAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg, "collector")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	res := resolveResolution(c, cfg)
	if err := res.Validate(); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	maxPayload, err := humanize.ParseBytes(resolveString(c, "max-payload",
		configVal(cfg, func(c *config.Config) string { return c.Collector.MaxPayload })))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --max-payload: %v", err), exitConfigError)
	}

	storage := resolveStorage(c, cfg)
	if err := validateStorage(storage); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	adapterType := resolveString(c, "adapter",
		configVal(cfg, func(c *config.Config) string { return c.Adapter.Type }))
	var ac adapterChoice
	if adapterType != "" {
		ac, err = parseAdapterConfigWithPrecedence(c, cfg, adapterType)
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mc := metrics.NewCollector(storage.backend, ac.adapterType)

	base, err := buildSink(ctx, storage)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open output: %v", err), exitFailure)
	}
	sink := output.NewInstrumentedSink(base, mc)

	written, err := catalog.Ensure(ctx, sink, res)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to write manifest: %v", err), exitFailure)
	}
	logger.Info("manifest ready", map[string]any{
		"output":  sink.Location(),
		"written": written,
		"rows":    res.Len(),
	})

	pub, err := buildAdapter(ac)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create adapter: %v", err), exitConfigError)
	}
	if pub != nil {
		defer func() { _ = pub.Close() }()
	}

	host := resolveString(c, "host", configVal(cfg, func(c *config.Config) string { return c.Collector.Host }))
	port := resolveInt(c, "port", configVal(cfg, func(c *config.Config) int { return c.Collector.Port }))
	srv, err := collector.Listen(collector.Config{
		Addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		Sink:        sink,
		MaxPayload:  maxPayload,
		IdleTimeout: resolveDuration(c, "idle-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Collector.IdleTimeout.Duration })),
		Logger:      logger,
		Metrics:     mc,
		Adapter:     pub,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})

	metricsAddr := resolveString(c, "metrics-addr",
		configVal(cfg, func(c *config.Config) string { return c.Collector.MetricsAddr }))
	if metricsAddr != "" {
		serveMetrics(gctx, g, metricsAddr, mc, logger)
	}

	if err := g.Wait(); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return nil
}

// serveMetrics runs the Prometheus endpoint in g until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, mc *metrics.Collector, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(mc))
	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("metrics listening", map[string]any{"addr": addr})
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
}

func resolveResolution(c *cli.Context, cfg *config.Config) catalog.Resolution {
	return catalog.Resolution{
		Timesteps: resolveInt(c, "timesteps", configVal(cfg, func(c *config.Config) int { return c.Collector.Timesteps })),
		Phi:       resolveInt(c, "phi", configVal(cfg, func(c *config.Config) int { return c.Collector.Phi })),
		Theta:     resolveInt(c, "theta", configVal(cfg, func(c *config.Config) int { return c.Collector.Theta })),
	}
}

func resolveStorage(c *cli.Context, cfg *config.Config) storageChoice {
	return storageChoice{
		backend:   resolveString(c, "output-backend", configVal(cfg, func(c *config.Config) string { return c.Storage.Backend })),
		path:      resolveString(c, "output", configVal(cfg, func(c *config.Config) string { return c.Collector.Output })),
		region:    resolveString(c, "s3-region", configVal(cfg, func(c *config.Config) string { return c.Storage.Region })),
		endpoint:  resolveString(c, "s3-endpoint", configVal(cfg, func(c *config.Config) string { return c.Storage.Endpoint })),
		pathStyle: resolveBool(c, "s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Storage.S3PathStyle })),
	}
}

func validateStorage(s storageChoice) error {
	if s.path == "" {
		return errors.New("--output is required")
	}
	switch s.backend {
	case output.BackendFS:
		return nil
	case output.BackendS3:
		if bucket, _ := output.ParseS3Path(s.path); bucket == "" {
			return fmt.Errorf("--output must name a bucket for the s3 backend, got %q", s.path)
		}
		return nil
	default:
		return fmt.Errorf("unknown --output-backend: %q (must be fs or s3)", s.backend)
	}
}

// buildSink opens the output location for the chosen backend.
func buildSink(ctx context.Context, s storageChoice) (output.Sink, error) {
	switch s.backend {
	case output.BackendS3:
		bucket, prefix := output.ParseS3Path(s.path)
		return output.NewS3Store(ctx, output.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       s.region,
			Endpoint:     s.endpoint,
			UsePathStyle: s.pathStyle,
		})
	default:
		return output.NewDir(s.path)
	}
}

// parseAdapterConfigWithPrecedence resolves adapter settings from flags and
// config. Flags win; config headers are merged under --adapter-header.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *config.Config, adapterType string) (adapterChoice, error) {
	switch adapterType {
	case adapter.KindRedis, adapter.KindWebhook:
	default:
		return adapterChoice{}, fmt.Errorf("unknown adapter type %q (must be redis or webhook)", adapterType)
	}

	ac := adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
		channel:     resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
		list:        resolveString(c, "adapter-list", configVal(cfg, func(c *config.Config) string { return c.Adapter.List })),
		timeout:     resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })),
		retries:     c.Int("adapter-retries"),
	}
	if ac.url == "" {
		return adapterChoice{}, fmt.Errorf("--adapter-url is required for the %s adapter", adapterType)
	}
	if !c.IsSet("adapter-retries") && cfg != nil && cfg.Adapter.Retries != nil {
		ac.retries = *cfg.Adapter.Retries
	}

	headers := make(map[string]string)
	if cfg != nil {
		for k, v := range cfg.Adapter.Headers {
			headers[k] = v
		}
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return adapterChoice{}, fmt.Errorf("malformed --adapter-header %q (expected Key=Value)", h)
		}
		headers[strings.TrimSpace(k)] = v
	}
	if len(headers) > 0 {
		ac.headers = headers
	}
	return ac, nil
}

// buildAdapter creates the configured adapter, or nil when none is set.
func buildAdapter(ac adapterChoice) (adapter.Adapter, error) {
	switch ac.adapterType {
	case "":
		return nil, nil
	case adapter.KindRedis:
		return redis.New(redis.Config{
			URL:     ac.url,
			Channel: ac.channel,
			List:    ac.list,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	case adapter.KindWebhook:
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.adapterType)
	}
}

