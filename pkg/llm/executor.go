package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wehubfusion/Arachne/pkg/concurrency"
	"github.com/wehubfusion/Arachne/pkg/config"
	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
	"github.com/wehubfusion/Arachne/pkg/events"
	"github.com/wehubfusion/Arachne/pkg/prompt"
	"github.com/wehubfusion/Arachne/pkg/record"
	"github.com/wehubfusion/Arachne/pkg/reply"
	"github.com/wehubfusion/Arachne/pkg/retry"
)

// Executor enriches one record end to end: render the prompt, call the
// service with retries, parse the reply, and assemble the output record.
// It is safe for concurrent use across rows.
type Executor struct {
	client   Client
	renderer *prompt.Renderer
	policy   retry.Policy
	limiter  *rate.Limiter
	breaker  *concurrency.CircuitBreaker
	selected []string
	outputs  []string
	logger   *zap.Logger
}

// NewExecutor builds an Executor from the run configuration. The rate
// limiter and circuit breaker are optional and enabled only when the
// corresponding settings are positive.
func NewExecutor(cfg config.Config, client Client, logger *zap.Logger) (*Executor, error) {
	if client == nil {
		return nil, errors.New("client cannot be nil")
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	renderer, err := prompt.NewRenderer(cfg.ContentTemplate, cfg.RequestTemplate, cfg.SelectedFields, cfg.OutputFields)
	if err != nil {
		return nil, err
	}

	x := &Executor{
		client:   client,
		renderer: renderer,
		policy:   retry.Policy{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay()},
		selected: cfg.SelectedFields,
		outputs:  cfg.OutputFields,
		logger:   logger,
	}
	if cfg.RequestsPerSecond > 0 {
		x.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.BreakerThreshold > 0 {
		x.breaker = concurrency.NewCircuitBreaker(cfg.BreakerThreshold, 0)
	}
	return x, nil
}

// ProcessRow runs the full per-row pipeline. A parse failure is absorbed
// into sentinel output values and a nil error; only exhausted retries and
// an open breaker surface as errors, which the caller treats as dropping
// the row.
func (x *Executor) ProcessRow(ctx context.Context, rec record.Record, em *events.Emitter) (record.Record, error) {
	p := x.renderer.Prompt(rec)
	if em != nil {
		em.DebugPrompt(p)
	}

	if x.breaker != nil && x.breaker.IsOpen() {
		return nil, sdkerrors.NewNetworkError("circuit breaker is open", nil)
	}

	var raw string
	err := x.policy.Do(ctx, func(ctx context.Context) error {
		if x.limiter != nil {
			if err := x.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		text, err := x.client.Complete(ctx, p)
		if err != nil {
			return err
		}
		raw = text
		return nil
	})
	if x.breaker != nil {
		if err != nil {
			x.breaker.RecordFailure()
		} else {
			x.breaker.RecordSuccess()
		}
	}
	if err != nil {
		return nil, sdkerrors.NewNetworkError("remote call failed", err)
	}

	if em != nil {
		em.DebugResponse(raw)
	}

	out := record.New()
	for _, field := range x.selected {
		out.Set(field, rec.Get(field))
	}

	parsed, perr := reply.Parse(raw)
	if perr != nil {
		x.logger.Warn("Failed to parse reply, writing sentinel values",
			zap.Error(perr))
		for _, field := range x.outputs {
			out.Set(field, reply.Sentinel)
		}
		return out, nil
	}

	for field, value := range parsed {
		out.Set(field, value)
	}
	for _, field := range x.outputs {
		if !out.Has(field) {
			out.Set(field, "")
		}
	}
	return out, nil
}
