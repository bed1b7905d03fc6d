package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes must stay low cardinality: operation names,
// terminal states, component names. URLs, paths and batch ids belong in logs.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// StatusFunc is an instrumented function that also reports a bounded status
// label, such as a transfer's terminal state.
type StatusFunc func(ctx context.Context) (string, error)

// InstrumentOperation wraps fn in a span.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, time.Since(start))

	return err
}

// InstrumentDownload instruments one transfer from start to terminal state.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn StatusFunc) error {
	if t == nil {
		_, err := fn(ctx)

		return err
	}

	start := time.Now()

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	var status string

	err := t.InstrumentOperation(ctx, "download", "downloader", func(ctx context.Context) error {
		var err error

		status, err = fn(ctx)

		return err
	})

	t.RecordDownload(status, time.Since(start))

	return err
}

// InstrumentBatch instruments a whole batch.
func (t *Telemetry) InstrumentBatch(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "batch", "downloader", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordBatch(status)

	return err
}
