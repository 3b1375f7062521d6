package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	natsconn "github.com/wehubfusion/Arachne/internal/nats"
	"github.com/wehubfusion/Arachne/pkg/config"
	"github.com/wehubfusion/Arachne/pkg/engine"
	"github.com/wehubfusion/Arachne/pkg/events"
	"github.com/wehubfusion/Arachne/pkg/llm"
	"github.com/wehubfusion/Arachne/pkg/staging"
	"github.com/wehubfusion/Arachne/pkg/tabular"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an enrichment over the configured input",
		Long: `Runs the full pipeline: reads qualifying rows from the input, sends one
request per row to the configured chat-completions endpoint, and writes the
merged table to the output path.

A first interrupt (Ctrl-C) stops the run gracefully: in-flight requests
finish and no output is written. A second interrupt aborts immediately.`,
		Example: `  # Run with a config file
  arachne run --config enrich.yaml

  # Override the input and output paths
  arachne run --config enrich.yaml --input people.csv --output enriched.csv`,
		RunE: runRun,
	}

	cmd.Flags().String("input", "", "input table path (CSV or XLSX)")
	cmd.Flags().String("output", "", "output table path (CSV or XLSX)")
	cmd.Flags().Int("batch-size", 0, "rows per chunk")
	cmd.Flags().Int("width", 0, "maximum chunks in flight")
	cmd.Flags().String("backend", "", "dispatch backend: pool or shard")
	cmd.Flags().Bool("debug", false, "emit per-request prompt and reply events")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateSource(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: "arachne@" + buildVersion,
		})
		if err != nil {
			logger.Warn("Failed to initialize crash reporting", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	eng, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	watchInterrupts(ctx, cmd, eng, cancel)

	publisher, closeNATS := newEventPublisher(ctx, cfg, logger)
	defer closeNATS()

	var failure error
	for ev := range eng.Run(ctx) {
		renderEvent(cmd, ev)
		if publisher != nil {
			if err := publisher.Publish(ev); err != nil {
				logger.Warn("Failed to forward event", zap.Error(err))
			}
		}
		if ev.Kind == events.KindError {
			failure = errors.New(ev.Message)
		}
	}

	if failure != nil {
		sentry.CaptureException(failure)
		return failure
	}
	return nil
}

// applyRunFlags overlays explicitly set flags onto the configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.Input, _ = flags.GetString("input")
	}
	if flags.Changed("output") {
		cfg.Output, _ = flags.GetString("output")
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("width") {
		cfg.Width, _ = flags.GetInt("width")
	}
	if flags.Changed("backend") {
		backend, _ := flags.GetString("backend")
		cfg.Backend = config.Backend(backend)
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildEngine assembles the source, remote client, staging store, and
// engine from the validated configuration. The returned cleanup closes
// whatever the engine holds beyond the run.
func buildEngine(cfg config.Config, logger *zap.Logger) (*engine.Engine, func(), error) {
	source, err := tabular.NewSource(cfg.Input, cfg.Sheet, cfg.FilterField, tabular.WithEncoding(cfg.Encoding))
	if err != nil {
		return nil, nil, err
	}

	client, err := llm.NewHTTPClient(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.RequestTimeout(), logger)
	if err != nil {
		return nil, nil, err
	}
	executor, err := llm.NewExecutor(cfg, client, logger)
	if err != nil {
		return nil, nil, err
	}

	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var tracingConfig *engine.TracingConfig
	if cfg.OTLPEndpoint != "" {
		tc := engine.DefaultTracingConfig("arachne")
		tc.ServiceVersion = buildVersion
		tc.OTLPEndpoint = cfg.OTLPEndpoint
		tracingConfig = &tc
	}

	eng, err := engine.NewWithTracing(cfg, source, executor, store, logger, tracingConfig)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := eng.Close(); err != nil {
			logger.Warn("Failed to close engine", zap.Error(err))
		}
	}
	return eng, cleanup, nil
}

func newStore(cfg config.Config, logger *zap.Logger) (staging.Store, error) {
	switch cfg.StagingStore {
	case config.StoreMemory:
		return staging.NewMemoryStore(), nil
	case config.StoreAzure:
		return staging.NewAzureStore(cfg.AzureConnectionString, cfg.AzureContainer, logger)
	default:
		return staging.NewLocalStore(cfg.StagingDir, logger)
	}
}

// newEventPublisher connects to NATS when configured. Forwarding is best
// effort: a failed connection logs a warning and the run proceeds without
// it.
func newEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (*events.Publisher, func()) {
	noop := func() {}
	if cfg.NATSURL == "" {
		return nil, noop
	}

	nc, err := natsconn.Connect(ctx, natsconn.DefaultOptions(cfg.NATSURL), logger)
	if err != nil {
		logger.Warn("Failed to connect to NATS, events will not be forwarded", zap.Error(err))
		return nil, noop
	}

	subject := cfg.NATSSubject
	if subject == "" {
		subject = "arachne.runs." + uuid.NewString()
	}

	publisher, err := events.NewPublisher(nc, subject, logger)
	if err != nil {
		nc.Close()
		logger.Warn("Failed to create event publisher", zap.Error(err))
		return nil, noop
	}

	logger.Info("Forwarding run events",
		zap.String("url", cfg.NATSURL),
		zap.String("subject", subject))
	return publisher, func() {
		if err := natsconn.Close(nc); err != nil {
			logger.Warn("Failed to drain NATS connection", zap.Error(err))
		}
	}
}

// watchInterrupts maps the first SIGINT/SIGTERM to a graceful Stop and the
// second to a hard context cancel.
func watchInterrupts(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cmd.PrintErrln("interrupt received, letting in-flight requests finish (interrupt again to abort)")
			eng.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			cmd.PrintErrln("aborting")
			cancel()
		case <-ctx.Done():
		}
	}()
}

func renderEvent(cmd *cobra.Command, ev events.Event) {
	switch ev.Kind {
	case events.KindProgress:
		cmd.Printf("progress %d/%d\n", ev.Done, ev.Total)
	case events.KindFinish:
		cmd.Printf("finished: %d/%d rows\n", ev.Done, ev.Total)
	case events.KindStopped:
		cmd.Printf("stopped: %d/%d rows\n", ev.Done, ev.Total)
	case events.KindError:
		cmd.PrintErrln("error:", ev.Message)
	case events.KindDebugPrompt:
		cmd.Println("--- prompt ---")
		cmd.Println(ev.Message)
	case events.KindDebugResponse:
		cmd.Println("--- reply ---")
		cmd.Println(ev.Message)
	default:
		cmd.Println(ev.Message)
	}
}
