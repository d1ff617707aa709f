package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/efebarandurmaz/corpusd/internal/observability"
)

// Lifecycle is the slice of the document manager the consumer drives.
type Lifecycle interface {
	Add(ctx context.Context, path, documentKey, title, category string) error
	Delete(ctx context.Context, documentKey string) (bool, error)
}

// Reporter delivers per-document outcome reports upstream.
type Reporter interface {
	Report(ctx context.Context, documentID int, status string) error
}

// Notifier triggers a retriever reload after an index mutation.
type Notifier interface {
	Trigger(ctx context.Context) error
}

// ConsumerConfig wires a Consumer.
type ConsumerConfig struct {
	IndexQueue   string
	DeindexQueue string
	DocumentsDir string
	Backoff      time.Duration

	// JobBuffer bounds how many dequeued jobs may wait for the worker.
	// Polling continues while the single worker chews through the buffer,
	// so one slow document never stalls the dequeue loop.
	JobBuffer int
}

// Consumer runs the job loop: blocking dequeue across both queues, dispatch
// to the lifecycle manager, best-effort status report and reload trigger.
// It is a single logical worker: one job mutates the index at a time, in
// arrival order.
type Consumer struct {
	dequeuer Dequeuer
	docs     Lifecycle
	reporter Reporter
	notifier Notifier
	cfg      ConsumerConfig
	log      *slog.Logger
}

type job struct {
	queue   string
	payload string
}

// NewConsumer creates a job queue consumer.
func NewConsumer(dequeuer Dequeuer, docs Lifecycle, reporter Reporter, notifier Notifier, cfg ConsumerConfig, log *slog.Logger) *Consumer {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	if cfg.JobBuffer <= 0 {
		cfg.JobBuffer = 16
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		dequeuer: dequeuer,
		docs:     docs,
		reporter: reporter,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// Run consumes jobs until the context is cancelled. Transport-level dequeue
// failures sleep a fixed backoff and retry forever; the consumer never exits
// on transient connectivity loss. On cancellation the in-flight job is
// allowed to finish.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("job consumer starting",
		"index_queue", c.cfg.IndexQueue,
		"deindex_queue", c.cfg.DeindexQueue)

	jobs := make(chan job, c.cfg.JobBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := range jobs {
			// The worker finishes the job it holds even after
			// cancellation; context.Background keeps the store
			// calls alive through shutdown.
			c.process(context.Background(), j)
		}
	}()

	for {
		queue, payload, err := c.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.Error("queue dequeue failed, backing off",
				"error", err, "backoff", c.cfg.Backoff)
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.Backoff):
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		select {
		case jobs <- job{queue: queue, payload: payload}:
		case <-ctx.Done():
			// Buffer full during shutdown; the dequeued job is lost
			// to this instance but redelivery re-submits it.
			c.log.Warn("dropping dequeued job during shutdown", "queue", queue)
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(jobs)
	wg.Wait()
	c.log.Info("job consumer stopped")
	return ctx.Err()
}

func (c *Consumer) process(ctx context.Context, j job) {
	switch j.queue {
	case c.cfg.IndexQueue:
		c.processIndex(ctx, j.payload)
	case c.cfg.DeindexQueue:
		c.processDeindex(ctx, j.payload)
	default:
		c.log.Error("job from unknown queue dropped", "queue", j.queue)
	}
}

func (c *Consumer) processIndex(ctx context.Context, payload string) {
	var idx IndexJob
	// A poison message must not loop forever: malformed payloads are
	// logged and dropped, with no status report.
	if err := json.Unmarshal([]byte(payload), &idx); err != nil {
		c.log.Error("malformed index job dropped", "error", err, "payload", payload)
		return
	}

	ctx, span := observability.StartJobSpan(ctx, "index", idx.DocumentID)
	defer span.End()

	c.log.Info("index job received",
		"document_id", idx.DocumentID, "filename", idx.OriginalFilename)

	path := filepath.Join(c.cfg.DocumentsDir, idx.StoredName)
	key := strconv.Itoa(idx.DocumentID)

	err := c.docs.Add(ctx, path, key, idx.OriginalFilename, idx.Category)
	if err != nil {
		observability.RecordError(span, err)
		c.log.Error("index job failed", "document_id", idx.DocumentID, "error", err)
		c.report(ctx, idx.DocumentID, StatusFailure)
		return
	}

	c.log.Info("index job done", "document_id", idx.DocumentID)
	c.report(ctx, idx.DocumentID, StatusSuccess)
	c.notifyReload(ctx)
}

func (c *Consumer) processDeindex(ctx context.Context, payload string) {
	var de DeindexJob
	if err := json.Unmarshal([]byte(payload), &de); err != nil {
		c.log.Error("malformed deindex job dropped", "error", err, "payload", payload)
		return
	}

	ctx, span := observability.StartJobSpan(ctx, "deindex", de.DocumentID)
	defer span.End()

	c.log.Info("deindex job received", "document_id", de.DocumentID)

	deleted, err := c.docs.Delete(ctx, strconv.Itoa(de.DocumentID))
	if err != nil {
		observability.RecordError(span, err)
		c.log.Error("deindex job failed", "document_id", de.DocumentID, "error", err)
		c.report(ctx, de.DocumentID, StatusFailure)
		return
	}

	c.log.Info("deindex job done", "document_id", de.DocumentID, "deleted", deleted)
	c.report(ctx, de.DocumentID, StatusSuccess)
	if deleted {
		c.notifyReload(ctx)
	}
}

// report is best-effort: its failure is logged, never retried, and does not
// roll back the index mutation.
func (c *Consumer) report(ctx context.Context, documentID int, status string) {
	if c.reporter == nil {
		return
	}
	if err := c.reporter.Report(ctx, documentID, status); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("status report failed", "document_id", documentID, "status", status, "error", err)
	}
}

// notifyReload is a side notification, not part of the job's primary effect.
func (c *Consumer) notifyReload(ctx context.Context) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Trigger(ctx); err != nil {
		c.log.Error("retriever reload trigger failed", "error", err)
	}
}
