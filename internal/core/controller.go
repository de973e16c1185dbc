package core

// controller.go drives the upload pipeline for one use-site.
//
// A Controller owns the current record list of its use-site. Each call to
// HandleFile runs the full pipeline on one file:
//
//	media type -> reference grid -> uploaded grid -> format check ->
//	row extraction -> transform
//
// On success the held list is replaced and the success callback runs. On
// failure the held list is left as it was and the error callback receives
// the single user-facing message. Overlapping calls are not cancelled; the
// last one to finish wins.

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/JonMunkholm/sheetcheck/internal/core"

var tracer = otel.Tracer(tracerName)

// Controller runs the pipeline and holds the records of the last success.
type Controller[T any] struct {
	cfg       PipelineConfig
	transform Transformer[T]

	onSuccess func([]T)
	onError   func(string)
	cache     *ReferenceCache
	cacheKey  string
	logger    *slog.Logger

	mu      sync.RWMutex
	records []T
}

// ControllerOption configures a Controller.
type ControllerOption[T any] func(*Controller[T])

// WithOnSuccess sets the callback that receives the records of a successful upload.
func WithOnSuccess[T any](fn func([]T)) ControllerOption[T] {
	return func(c *Controller[T]) { c.onSuccess = fn }
}

// WithOnError sets the callback that receives the failure message.
func WithOnError[T any](fn func(string)) ControllerOption[T] {
	return func(c *Controller[T]) { c.onError = fn }
}

// WithReferenceCache shares parsed reference grids through cache.
func WithReferenceCache[T any](cache *ReferenceCache) ControllerOption[T] {
	return func(c *Controller[T]) { c.cache = cache }
}

// WithCacheKey sets the key under which the reference grid is cached.
// Controllers sharing a cache must use distinct keys for distinct references.
func WithCacheKey[T any](key string) ControllerOption[T] {
	return func(c *Controller[T]) { c.cacheKey = key }
}

// WithLogger sets the logger used for pipeline failures.
func WithLogger[T any](logger *slog.Logger) ControllerOption[T] {
	return func(c *Controller[T]) { c.logger = logger }
}

// NewController creates a controller for one use-site.
func NewController[T any](cfg PipelineConfig, transform Transformer[T], opts ...ControllerOption[T]) *Controller[T] {
	c := &Controller[T]{
		cfg:       cfg,
		transform: transform,
		logger:    slog.Default(),
		records:   []T{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheKey == "" {
		c.cacheKey = fmt.Sprintf("%v", cfg.Reference)
	}
	return c
}

// Records returns a copy of the held record list.
func (c *Controller[T]) Records() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, len(c.records))
	copy(out, c.records)
	return out
}

// HandleFile runs the pipeline on file. A nil file means the selection was
// cancelled: nothing happens and the outcome is marked Skipped.
func (c *Controller[T]) HandleFile(ctx context.Context, file *File) Outcome[T] {
	if file == nil {
		return Outcome[T]{Skipped: true}
	}

	ctx, span := tracer.Start(ctx, "upload.pipeline",
		trace.WithAttributes(
			attribute.String("upload.file_name", file.Name),
			attribute.String("upload.media_type", file.MediaType),
			attribute.Int("upload.size", len(file.Data)),
		))
	defer span.End()

	records, err := c.run(ctx, file)
	if err != nil {
		msg := FailureMessage(err, c.cfg.ErrorMessage)

		span.RecordError(err)
		span.SetStatus(codes.Error, msg)

		kind, recognised := KindOf(err)
		if recognised {
			c.logger.Debug("upload rejected", "file", file.Name, "kind", kind, "error", err)
		} else {
			c.logger.Warn("upload failed", "file", file.Name, "error", err)
		}

		if c.onError != nil {
			c.onError(msg)
		}
		return Outcome[T]{Message: msg, Err: err}
	}

	c.mu.Lock()
	c.records = records
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("upload.records", len(records)))
	span.SetStatus(codes.Ok, "")

	if c.onSuccess != nil {
		c.onSuccess(records)
	}
	out := make([]T, len(records))
	copy(out, records)
	return Outcome[T]{Records: out}
}

func (c *Controller[T]) run(ctx context.Context, file *File) ([]T, error) {
	if err := CheckMediaType(file.MediaType); err != nil {
		return nil, err
	}

	reference, err := c.reference(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}

	uploaded, err := stage(ctx, "upload.parse", func(context.Context) (Grid, error) {
		return ParseGrid(file.Data, c.cfg.SheetIndex)
	})
	if err != nil {
		return nil, err
	}

	grid, err := stage(ctx, "upload.format", func(context.Context) (Grid, error) {
		return ValidateFormat(reference, uploaded, c.cfg.HeaderRows)
	})
	if err != nil {
		return nil, err
	}

	rows := ExtractRows(grid, c.cfg.SkipRows)

	return stage(ctx, "upload.transform", func(ctx context.Context) ([]T, error) {
		return c.safeTransform(ctx, rows)
	})
}

func (c *Controller[T]) reference(ctx context.Context) (Grid, error) {
	return stage(ctx, "upload.reference", func(ctx context.Context) (Grid, error) {
		if c.cache != nil {
			return c.cache.Get(ctx, c.cacheKey, c.cfg.Reference, c.cfg.SheetIndex)
		}
		return LoadReference(ctx, c.cfg.Reference, c.cfg.SheetIndex)
	})
}

// safeTransform converts a panicking transform into an unrecognised error.
func (c *Controller[T]) safeTransform(ctx context.Context, rows [][]string) (records []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("transform panicked", "panic", r, "stack", string(debug.Stack()))
			records = nil
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()

	records, err = c.transform.Transform(ctx, rows)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

// stage runs fn inside a child span named name.
func stage[R any](ctx context.Context, name string, fn func(context.Context) (R, error)) (R, error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}
