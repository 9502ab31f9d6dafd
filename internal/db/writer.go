package db

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Smitty-01/ChainGaurd/internal/metrics"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 5 * time.Second
)

var (
	// ErrQueueFull is returned when an audit write is dropped.
	ErrQueueFull = errors.New("audit queue full")
	// ErrWriterClosed is returned for writes after Close.
	ErrWriterClosed = errors.New("audit writer closed")
)

// Sink is the synchronous audit store behind an AsyncWriter.
type Sink interface {
	SaveRiskAssessment(ctx context.Context, a models.Assessment, modelVersion string) error
	SaveBulkRun(ctx context.Context, res *models.BulkResult, modelVersion string) error
	SaveShadowResult(ctx context.Context, r *models.ShadowResult) error
	ShadowSummary(ctx context.Context, shadowVersion string) (totalRuns int, divergences int, avgDelta float64, err error)
}

type write struct {
	kind string
	ctx  context.Context
	fn   func(ctx context.Context) error
}

// AsyncWriter moves audit writes off the request path. Writes go through a
// bounded queue drained by one worker; when the queue is full the write is
// dropped and counted, so a slow database never stalls a lookup.
type AsyncWriter struct {
	sink    Sink
	queue   chan write
	timeout time.Duration
	logger  *zap.Logger

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewAsyncWriter starts the worker. size <= 0 and timeout <= 0 select the
// defaults.
func NewAsyncWriter(sink Sink, size int, timeout time.Duration, logger *zap.Logger) *AsyncWriter {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &AsyncWriter{
		sink:    sink,
		queue:   make(chan write, size),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// SaveRiskAssessment queues the assessment row.
func (w *AsyncWriter) SaveRiskAssessment(ctx context.Context, a models.Assessment, modelVersion string) error {
	return w.enqueue(ctx, "assessment", func(ctx context.Context) error {
		return w.sink.SaveRiskAssessment(ctx, a, modelVersion)
	})
}

// SaveBulkRun queues the bulk run and its rows.
func (w *AsyncWriter) SaveBulkRun(ctx context.Context, res *models.BulkResult, modelVersion string) error {
	return w.enqueue(ctx, "bulk_run", func(ctx context.Context) error {
		return w.sink.SaveBulkRun(ctx, res, modelVersion)
	})
}

// SaveShadowResult queues one shadow comparison.
func (w *AsyncWriter) SaveShadowResult(ctx context.Context, r *models.ShadowResult) error {
	return w.enqueue(ctx, "shadow", func(ctx context.Context) error {
		return w.sink.SaveShadowResult(ctx, r)
	})
}

// ShadowSummary is a read and goes straight to the sink.
func (w *AsyncWriter) ShadowSummary(ctx context.Context, shadowVersion string) (int, int, float64, error) {
	return w.sink.ShadowSummary(ctx, shadowVersion)
}

func (w *AsyncWriter) enqueue(ctx context.Context, kind string, fn func(ctx context.Context) error) error {
	select {
	case <-w.done:
		metrics.AuditWritesDroppedTotal.WithLabelValues(kind).Inc()
		return ErrWriterClosed
	default:
	}

	// The request context is canceled once the handler returns; keep its
	// values (request id) but not its deadline.
	job := write{kind: kind, ctx: context.WithoutCancel(ctx), fn: fn}
	select {
	case w.queue <- job:
		return nil
	default:
		metrics.AuditWritesDroppedTotal.WithLabelValues(kind).Inc()
		w.logger.Warn("[DB] Audit queue full, dropping write", zap.String("kind", kind))
		return ErrQueueFull
	}
}

func (w *AsyncWriter) run() {
	defer close(w.stopped)
	for {
		select {
		case job := <-w.queue:
			w.exec(job)
		case <-w.done:
			for {
				select {
				case job := <-w.queue:
					w.exec(job)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) exec(job write) {
	ctx, cancel := context.WithTimeout(job.ctx, w.timeout)
	defer cancel()
	if err := job.fn(ctx); err != nil {
		w.logger.Warn("[DB] Audit write failed", zap.String("kind", job.kind), zap.Error(err))
	}
}

// Close stops accepting writes and waits for queued ones to finish, or for
// ctx to expire.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.closeOnce.Do(func() { close(w.done) })
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
