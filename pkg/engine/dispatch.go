package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/Arachne/pkg/config"
	"github.com/wehubfusion/Arachne/pkg/record"
	"github.com/wehubfusion/Arachne/pkg/staging"
)

// chunk is one batch of source rows awaiting processing.
type chunk struct {
	index int
	rows  []record.Record
}

// chunkResult reports one finished chunk back to the aggregator. A nil
// artifact means the chunk staged no rows, either because every row was
// dropped or because staging failed.
type chunkResult struct {
	index    int
	artifact *staging.Artifact
}

// processFn turns one chunk into a result. parallel bounds concurrent
// in-flight rows within the chunk; 1 means sequential.
type processFn func(ctx context.Context, c chunk, parallel int) chunkResult

// dispatcher fans chunks out to workers. run consumes chunks until the
// channel closes or ctx is done, emits one result per processed chunk in
// completion order, and closes the returned channel once all in-flight
// work has drained.
type dispatcher interface {
	run(ctx context.Context, chunks <-chan chunk) <-chan chunkResult
}

func newDispatcher(cfg config.Config, process processFn, logger *zap.Logger) dispatcher {
	if cfg.Backend == config.BackendShard {
		return &shardDispatcher{
			width:    cfg.Width,
			inFlight: cfg.ShardInFlight,
			process:  process,
			logger:   logger,
		}
	}
	return &poolDispatcher{
		width:   cfg.Width,
		process: process,
		logger:  logger,
	}
}

// poolDispatcher runs a fixed pool of workers pulling chunks from a shared
// channel. Each worker handles one chunk at a time with its rows processed
// sequentially, so at most width requests are in flight across the run.
type poolDispatcher struct {
	width   int
	process processFn
	logger  *zap.Logger
}

func (d *poolDispatcher) run(ctx context.Context, chunks <-chan chunk) <-chan chunkResult {
	results := make(chan chunkResult, d.width)

	var wg sync.WaitGroup
	for i := 0; i < d.width; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			d.logger.Debug("Chunk worker started", zap.Int("workerID", workerID))
			defer d.logger.Debug("Chunk worker stopped", zap.Int("workerID", workerID))

			for {
				select {
				case c, ok := <-chunks:
					if !ok {
						return
					}
					results <- d.process(ctx, c, 1)
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// shardDispatcher routes chunks round-robin to width shards. Each shard
// processes one chunk at a time but fans its rows out with up to inFlight
// concurrent requests, trading strict per-chunk ordering pressure for
// higher throughput on slow remote calls.
type shardDispatcher struct {
	width    int
	inFlight int
	process  processFn
	logger   *zap.Logger
}

func (d *shardDispatcher) run(ctx context.Context, chunks <-chan chunk) <-chan chunkResult {
	results := make(chan chunkResult, d.width)

	shards := make([]chan chunk, d.width)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan chunk)
		wg.Add(1)
		go func(shardID int, in <-chan chunk) {
			defer wg.Done()
			d.logger.Debug("Shard started", zap.Int("shardID", shardID))
			defer d.logger.Debug("Shard stopped", zap.Int("shardID", shardID))

			for {
				select {
				case c, ok := <-in:
					if !ok {
						return
					}
					results <- d.process(ctx, c, d.inFlight)
				case <-ctx.Done():
					return
				}
			}
		}(i, shards[i])
	}

	// Router assigns chunks to shards in strict rotation. A busy shard
	// stalls routing until it accepts, which keeps chunk-to-shard affinity
	// deterministic.
	go func() {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		next := 0
		for {
			select {
			case c, ok := <-chunks:
				if !ok {
					return
				}
				select {
				case shards[next] <- c:
				case <-ctx.Done():
					return
				}
				next = (next + 1) % d.width
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}
