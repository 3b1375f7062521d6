// Package engine orchestrates a batch enrichment run: it streams qualifying
// rows from a tabular source, cuts them into chunks, fans the chunks out to
// concurrent workers that call a row processor, stages each completed chunk
// as a write-once artifact, and merges the artifacts into the final output
// table. Consumers observe the run through an event stream that ends with
// exactly one terminal event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	internaltracing "github.com/wehubfusion/Arachne/internal/tracing"
	"github.com/wehubfusion/Arachne/pkg/concurrency"
	"github.com/wehubfusion/Arachne/pkg/config"
	"github.com/wehubfusion/Arachne/pkg/events"
	"github.com/wehubfusion/Arachne/pkg/record"
	"github.com/wehubfusion/Arachne/pkg/staging"
	"github.com/wehubfusion/Arachne/pkg/tabular"
)

// RowProcessor defines the interface for per-row enrichment implementations.
// Implementations receive one qualifying source row and return the processed
// row to stage, or an error to drop the row from the run's output.
type RowProcessor interface {
	ProcessRow(ctx context.Context, rec record.Record, em *events.Emitter) (record.Record, error)
}

// Engine manages one enrichment run. Create it with New, start it with Run,
// and request cancellation with Stop. An Engine is single-use: a second Run
// call fails with a terminal error event.
type Engine struct {
	cfg    config.Config
	source tabular.Source
	proc   RowProcessor
	store  staging.Store
	logger *zap.Logger

	phase   atomic.Int32
	stop    atomic.Bool
	started atomic.Bool

	tracer          trace.Tracer
	tracingShutdown func(context.Context) error
}

// New creates an Engine for one run. Numeric and enum settings are
// defaulted; the source, processor, store, and logger are required. The
// full remote-service settings are the processor's concern and are not
// validated here.
func New(cfg config.Config, source tabular.Source, proc RowProcessor, store staging.Store, logger *zap.Logger) (*Engine, error) {
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if proc == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	cfg = cfg.WithDefaults()
	if cfg.Output == "" {
		return nil, errors.New("output path cannot be empty")
	}
	if len(cfg.OutputFields) == 0 {
		return nil, errors.New("output fields cannot be empty")
	}

	e := &Engine{
		cfg:    cfg,
		source: source,
		proc:   proc,
		store:  store,
		logger: logger,
		tracer: otel.Tracer("arachne/engine"),
	}
	e.phase.Store(int32(PhaseIdle))
	return e, nil
}

// NewWithTracing creates an Engine and configures OpenTelemetry tracing.
// tracingConfig is optional - if nil, no tracing will be set up. If provided,
// tracing is configured now and shut down by Close.
func NewWithTracing(cfg config.Config, source tabular.Source, proc RowProcessor, store staging.Store, logger *zap.Logger, tracingConfig *TracingConfig) (*Engine, error) {
	e, err := New(cfg, source, proc, store, logger)
	if err != nil {
		return nil, err
	}

	if tracingConfig != nil {
		shutdown, err := internaltracing.SetupTracing(context.Background(), tracingConfig.toInternalConfig(), logger)
		if err != nil {
			logger.Warn("Failed to setup tracing, continuing without tracing", zap.Error(err))
		} else {
			e.tracingShutdown = shutdown
			logger.Info("Tracing setup complete",
				zap.String("service", tracingConfig.ServiceName),
				zap.String("endpoint", tracingConfig.OTLPEndpoint))
		}
	}
	return e, nil
}

// Phase returns the run's current lifecycle phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
	e.logger.Debug("Phase changed", zap.Stringer("phase", p))
}

// Stop requests cancellation. It is idempotent and safe from any goroutine.
// The stop token is consulted before each chunk submission and before each
// row's request; in-flight requests always run to completion, so the run
// winds down rather than cutting off mid-call.
func (e *Engine) Stop() {
	if e.stop.CompareAndSwap(false, true) {
		e.logger.Info("Stop requested")
	}
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	return e.stop.Load() || ctx.Err() != nil
}

// Close shuts down resources held beyond a run, currently the tracing
// provider. Call it after the event stream has ended.
func (e *Engine) Close() error {
	if e.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.tracingShutdown(ctx); err != nil {
			e.logger.Error("Error shutting down tracing", zap.Error(err))
			return err
		}
		e.logger.Info("Tracing shutdown complete")
	}
	return nil
}

// Run starts the enrichment pipeline and returns its event stream. The
// stream carries progress and optional debug events and ends with exactly
// one terminal event: Finish, Stopped, or Error. Cancelling ctx is
// equivalent to calling Stop.
func (e *Engine) Run(ctx context.Context) <-chan events.Event {
	em := events.NewEmitter(ctx, config.DefaultEventBuffer, e.cfg.Debug)
	if !e.started.CompareAndSwap(false, true) {
		em.Error("run already started")
		em.Close()
		return em.Events()
	}
	go e.run(ctx, em)
	return em.Events()
}

func (e *Engine) run(ctx context.Context, em *events.Emitter) {
	defer em.Close()

	ctx, span := e.tracer.Start(ctx, "engine.Run",
		trace.WithAttributes(
			attribute.String("output", e.cfg.Output),
			attribute.Int("batch_size", e.cfg.BatchSize),
			attribute.Int("width", e.cfg.Width),
			attribute.String("backend", string(e.cfg.Backend)),
		))
	defer span.End()

	// Staged artifacts never outlive the run, whatever path it exits on.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.store.Cleanup(cleanupCtx); err != nil {
			e.logger.Warn("Failed to clean up staging store", zap.Error(err))
		}
	}()

	e.setPhase(PhasePreparing)
	em.Info("preparing run")

	total, err := e.countRows(ctx)
	if err != nil {
		if e.stopRequested(ctx) {
			e.setPhase(PhaseStopped)
			em.Stopped(0, 0)
			span.SetStatus(codes.Ok, "stopped during preparation")
			return
		}
		e.fail(em, span, err)
		return
	}
	span.SetAttributes(attribute.Int("rows.total", total))
	e.logger.Info("Source prepared", zap.Int("qualifying_rows", total))

	if total == 0 {
		e.setPhase(PhaseFinished)
		em.Finish(0, 0)
		span.SetStatus(codes.Ok, "no qualifying rows")
		return
	}
	if e.stopRequested(ctx) {
		e.setPhase(PhaseStopped)
		em.Stopped(0, total)
		span.SetStatus(codes.Ok, "stopped before dispatch")
		return
	}

	e.setPhase(PhaseDispatching)
	em.Info(fmt.Sprintf("dispatching %d rows in chunks of %d", total, e.cfg.BatchSize))

	artifacts, processed, err := e.dispatchAll(ctx, em, total)
	if err != nil {
		if e.stopRequested(ctx) {
			e.setPhase(PhaseStopped)
			em.Stopped(processed, total)
			span.SetStatus(codes.Ok, "stopped during dispatch")
			return
		}
		e.fail(em, span, err)
		return
	}

	e.setPhase(PhaseAggregating)

	if e.stopRequested(ctx) {
		e.logger.Info("Run stopped, skipping merge",
			zap.Int("processed", processed),
			zap.Int("total", total))
		e.setPhase(PhaseStopped)
		em.Stopped(processed, total)
		span.SetStatus(codes.Ok, "stopped")
		return
	}

	if len(artifacts) == 0 {
		e.logger.Warn("No rows were staged, skipping output")
		e.setPhase(PhaseFinished)
		em.Finish(processed, total)
		span.SetStatus(codes.Ok, "nothing to merge")
		return
	}

	em.Info("merging results")
	if err := e.merge(ctx, artifacts); err != nil {
		e.fail(em, span, err)
		return
	}

	e.setPhase(PhaseFinished)
	em.Finish(processed, total)
	span.SetStatus(codes.Ok, "finished")
}

func (e *Engine) fail(em *events.Emitter, span trace.Span, err error) {
	e.logger.Error("Run failed", zap.Error(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.setPhase(PhaseErrored)
	em.Error(err.Error())
}

// countRows streams the source once to learn the qualifying-row total that
// progress events report against.
func (e *Engine) countRows(ctx context.Context) (int, error) {
	cur, err := e.source.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	total := 0
	for {
		if _, err := cur.Next(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return 0, err
		}
		total++
	}
}

// dispatchAll streams chunks to the configured dispatcher and aggregates
// results as they complete, in whatever order the workers finish. It
// returns the staged artifacts in completion order and the cumulative
// staged-row count.
func (e *Engine) dispatchAll(ctx context.Context, em *events.Emitter, total int) ([]*staging.Artifact, int, error) {
	chunks := make(chan chunk)
	readErr := make(chan error, 1)
	go e.produceChunks(ctx, chunks, readErr)

	process := func(ctx context.Context, c chunk, parallel int) chunkResult {
		return e.processChunk(ctx, em, c, parallel)
	}
	results := newDispatcher(e.cfg, process, e.logger).run(ctx, chunks)

	var artifacts []*staging.Artifact
	processed := 0
	for res := range results {
		if res.artifact != nil {
			artifacts = append(artifacts, res.artifact)
			processed += res.artifact.Rows
		}
		em.Progress(processed, total)
		e.logger.Debug("Chunk completed",
			zap.Int("chunk", res.index),
			zap.Int("processed", processed),
			zap.Int("total", total))
	}

	if err := <-readErr; err != nil {
		return artifacts, processed, err
	}
	return artifacts, processed, nil
}

// produceChunks reads the source a second time and submits fixed-size
// chunks. Each chunk is sent exactly once; the stop token is consulted
// before every submission. The terminal read outcome lands on readErr.
func (e *Engine) produceChunks(ctx context.Context, out chan<- chunk, readErr chan<- error) {
	defer close(out)

	cur, err := e.source.Open(ctx)
	if err != nil {
		readErr <- err
		return
	}
	defer cur.Close()

	index := 0
	rows := make([]record.Record, 0, e.cfg.BatchSize)

	submit := func() bool {
		if len(rows) == 0 {
			return true
		}
		if e.stopRequested(ctx) {
			return false
		}
		c := chunk{index: index, rows: rows}
		index++
		rows = make([]record.Record, 0, e.cfg.BatchSize)
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		rec, err := cur.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				submit()
				readErr <- nil
				return
			}
			readErr <- err
			return
		}
		rows = append(rows, rec)
		if len(rows) == e.cfg.BatchSize {
			if !submit() {
				readErr <- nil
				return
			}
		}
	}
}

// processChunk runs one chunk's rows through the processor and stages the
// survivors. Indexed slots keep source order within the chunk even when
// rows run concurrently. Row failures drop the row; staging failures drop
// the whole chunk. Neither fails the run.
func (e *Engine) processChunk(ctx context.Context, em *events.Emitter, c chunk, parallel int) chunkResult {
	ctx, span := e.tracer.Start(ctx, "engine.processChunk",
		trace.WithAttributes(
			attribute.Int("chunk.index", c.index),
			attribute.Int("chunk.rows", len(c.rows)),
			attribute.Int("chunk.parallel", parallel),
		))
	defer span.End()

	out := make([]record.Record, len(c.rows))

	if parallel <= 1 {
		for i, rec := range c.rows {
			if e.stopRequested(ctx) {
				break
			}
			e.processRow(ctx, em, rec, out, i)
		}
	} else {
		limiter := concurrency.NewLimiter(parallel)
		var wg sync.WaitGroup
		for i, rec := range c.rows {
			if e.stopRequested(ctx) {
				break
			}
			if err := limiter.Acquire(ctx); err != nil {
				break
			}
			wg.Add(1)
			go func(i int, rec record.Record) {
				defer wg.Done()
				defer limiter.Release()
				e.processRow(ctx, em, rec, out, i)
			}(i, rec)
		}
		wg.Wait()
	}

	art, err := e.stage(ctx, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("Chunk lost to staging failure",
			zap.Int("chunk", c.index),
			zap.Error(err))
		return chunkResult{index: c.index}
	}
	span.SetStatus(codes.Ok, "")
	return chunkResult{index: c.index, artifact: art}
}

func (e *Engine) processRow(ctx context.Context, em *events.Emitter, rec record.Record, out []record.Record, i int) {
	processed, err := e.proc.ProcessRow(ctx, rec, em)
	if err != nil {
		e.logger.Warn("Dropping row after processing failure", zap.Error(err))
		return
	}
	out[i] = processed
}

// stage writes the chunk's surviving rows as one artifact. A chunk with no
// survivors yields a nil artifact.
func (e *Engine) stage(ctx context.Context, rows []record.Record) (*staging.Artifact, error) {
	w, err := e.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range rows {
		if rec == nil {
			continue
		}
		if err := w.Append(rec); err != nil {
			_ = w.Discard()
			return nil, err
		}
	}
	return w.Finalize(ctx)
}
