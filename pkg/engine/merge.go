package engine

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
	"github.com/wehubfusion/Arachne/pkg/record"
	"github.com/wehubfusion/Arachne/pkg/staging"
	"github.com/wehubfusion/Arachne/pkg/tabular"
)

// MergeColumns computes the output header: selected input fields followed
// by expected output fields, each group sorted, duplicates keeping their
// first position.
func MergeColumns(selected, outputs []string) []string {
	a := append([]string(nil), selected...)
	sort.Strings(a)
	b := append([]string(nil), outputs...)
	sort.Strings(b)

	columns := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, field := range append(a, b...) {
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		columns = append(columns, field)
	}
	return columns
}

// merge reads every staged artifact back and writes the final table. Rows
// keep chunk-completion order; values outside the computed header are
// dropped by the writer and missing values come out blank. Any failure is
// fatal to the run.
func (e *Engine) merge(ctx context.Context, artifacts []*staging.Artifact) error {
	ctx, span := e.tracer.Start(ctx, "engine.merge",
		trace.WithAttributes(attribute.Int("artifacts", len(artifacts))))
	defer span.End()

	chunks := make([][]record.Record, len(artifacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Width)
	for i, art := range artifacts {
		g.Go(func() error {
			rows, err := e.store.Read(gctx, art)
			if err != nil {
				return err
			}
			chunks[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return sdkerrors.NewMergeError("failed to read staged artifacts", err)
	}

	columns := MergeColumns(e.cfg.SelectedFields, e.cfg.OutputFields)

	w, err := tabular.NewWriter(e.cfg.Output)
	if err != nil {
		span.RecordError(err)
		return sdkerrors.NewMergeError("failed to create output writer", err)
	}
	if err := w.WriteHeader(columns); err != nil {
		_ = w.Close()
		span.RecordError(err)
		return sdkerrors.NewMergeError("failed to write output header", err)
	}

	wrote := 0
	for i, rows := range chunks {
		for _, rec := range rows {
			if err := w.WriteRow(rec); err != nil {
				_ = w.Close()
				span.RecordError(err)
				return sdkerrors.NewMergeError("failed to write output row", err)
			}
			wrote++
		}
		// Written artifacts are removed eagerly so long runs reclaim
		// staging space before the final cleanup.
		if err := e.store.Remove(ctx, artifacts[i]); err != nil {
			e.logger.Warn("Failed to remove merged artifact",
				zap.String("artifact", artifacts[i].ID),
				zap.Error(err))
		}
	}

	if err := w.Close(); err != nil {
		span.RecordError(err)
		return sdkerrors.NewMergeError("failed to finalize output", err)
	}

	e.logger.Info("Merged output written",
		zap.String("path", e.cfg.Output),
		zap.Int("rows", wrote),
		zap.Int("columns", len(columns)))
	return nil
}
