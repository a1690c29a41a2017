package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultMaxReceiveCount = 2

type ProcessorConfig struct {
	// a failed message is deleted once its receive count (expired leases
	// before this delivery) reaches this
	MaxReceiveCount int
	// shortens the lease of a failed message, zero waits for lease expiry
	RetryDelay   time.Duration
	FetchTimeout time.Duration
	SinkTimeout  time.Duration
	ScratchDir   string
}

// MessageProcessor is the lease loop: claim one message, run fetch,
// transform and sink, then delete, release or abandon it.
type MessageProcessor struct {
	config     ProcessorConfig
	queue      Queue
	fetcher    *SourceFetcher
	transform  TransformFunc
	sink       Sink
	dedupStore DeduplicationStore
	metrics    *Metrics
	quiet      bool // only logs failures and summaries
}

func NewMessageProcessor(config ProcessorConfig, queue Queue, fetcher *SourceFetcher, transform TransformFunc, sink Sink, dedupStore DeduplicationStore, metrics *Metrics, quiet bool) *MessageProcessor {
	if config.MaxReceiveCount <= 0 {
		config.MaxReceiveCount = defaultMaxReceiveCount
	}
	if dedupStore == nil {
		dedupStore = NopDeduplicationStore{}
	}
	return &MessageProcessor{
		config:     config,
		queue:      queue,
		fetcher:    fetcher,
		transform:  transform,
		sink:       sink,
		dedupStore: dedupStore,
		metrics:    metrics,
		quiet:      quiet,
	}
}

// DrainStats summarises one Run.
type DrainStats struct {
	Processed  int
	Duplicates int
	Retried    int
	Abandoned  int
	Records    int
}

// Run claims and resolves messages until the queue reports none available.
// Only a queue failure is returned; per-message failures are resolved in
// place. Cancelling ctx stops the loop before the next claim, never in the
// middle of a message.
func (mp *MessageProcessor) Run(ctx context.Context) (DrainStats, error) {
	var stats DrainStats
	for {
		if err := ctx.Err(); err != nil {
			log.Info().Msg("Stopping lease loop before next claim")
			return stats, nil
		}

		msg, err := mp.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			return stats, err
		}
		if msg == nil {
			log.Info().
				Int("processed", stats.Processed).
				Int("retried", stats.Retried).
				Int("abandoned", stats.Abandoned).
				Msg("Queue drained")
			return stats, nil
		}

		// in-flight work is not cancellable, the lease covers it
		workCtx := context.WithoutCancel(ctx)
		result := mp.processMessage(workCtx, msg)
		mp.resolve(workCtx, msg, result, &stats)
	}
}

// processMessage runs the pipeline for one message and never panics.
func (mp *MessageProcessor) processMessage(ctx context.Context, msg *QueueMessage) (result Result) {
	startTime := time.Now()
	ml := log.With().Str("message_id", msg.ID).Int("receive_count", msg.ReceiveCount).Logger()

	defer func() {
		if r := recover(); r != nil {
			ml.Error().Interface("panic", r).Msg("Recovered from panic while processing message")
			result.Err = fmt.Errorf("panic: %v", r)
		}
		ml.Debug().Dur("duration", time.Since(startTime)).Msg("Message processing complete")
	}()

	loc, err := parseNotification(msg.Body)
	if err != nil {
		return Result{Err: err}
	}
	result.Location = loc

	if msg.ID == "" {
		ml.Debug().Msg("Message has no id, skipping duplicate check")
	} else {
		processed, err := mp.dedupStore.IsProcessed(ctx, msg.ID)
		if err != nil {
			ml.Warn().Err(err).Msg("Failed to check if message was processed")
		} else if processed {
			result.Duplicate = true
			return result
		}
	}

	written, err := mp.runPipeline(ctx, loc)
	result.Written = written
	result.Err = err
	return result
}

func (mp *MessageProcessor) runPipeline(ctx context.Context, loc ObjectLocation) (int, error) {
	dir, err := os.MkdirTemp(mp.config.ScratchDir, "ingest-*")
	if err != nil {
		return 0, &FetchError{Location: loc, Err: fmt.Errorf("scratch dir: %w", err)}
	}
	defer os.RemoveAll(dir)

	stepStart := time.Now()
	fetchCtx, cancel := withOptionalTimeout(ctx, mp.config.FetchTimeout)
	path, err := mp.fetcher.Fetch(fetchCtx, loc, dir)
	cancel()
	mp.metrics.ObserveStep("fetch", err, time.Since(stepStart))
	if err != nil {
		return 0, err
	}

	stepStart = time.Now()
	records, err := mp.transformFile(path)
	mp.metrics.ObserveStep("transform", err, time.Since(stepStart))
	if err != nil {
		return 0, err
	}

	stepStart = time.Now()
	sinkCtx, cancel := withOptionalTimeout(ctx, mp.config.SinkTimeout)
	err = mp.sink.Write(sinkCtx, records)
	cancel()
	mp.metrics.ObserveStep("sink", err, time.Since(stepStart))
	if err != nil {
		return 0, err
	}

	return len(records), nil
}

func (mp *MessageProcessor) transformFile(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Stage: "dataset", Err: err}
	}
	defer file.Close()

	return mp.transform(file)
}

// resolve deletes on success or once retries are exhausted, otherwise leaves
// the message to come back after its lease.
func (mp *MessageProcessor) resolve(ctx context.Context, msg *QueueMessage, result Result, stats *DrainStats) {
	ml := log.With().
		Str("message_id", msg.ID).
		Str("receipt_handle", msg.ReceiptHandle).
		Int("receive_count", msg.ReceiveCount).
		Str("bucket", result.Location.Bucket).
		Str("key", result.Location.Key).
		Logger()

	switch {
	case result.Duplicate:
		stats.Duplicates++
		mp.metrics.ObserveMessage("duplicate", nil)
		ml.Info().Msg("Duplicate message detected, skipping")
		mp.deleteMessage(ctx, msg)

	case result.OK():
		if msg.ID != "" {
			if err := mp.dedupStore.MarkProcessed(ctx, msg.ID, result.Location.String()); err != nil {
				ml.Error().Err(err).Msg("Failed to mark message as processed")
			}
		}
		mp.deleteMessage(ctx, msg)

		stats.Processed++
		stats.Records += result.Written
		mp.metrics.ObserveMessage("processed", nil)
		mp.metrics.AddRecords(result.Written)

		if mp.quiet {
			ml.Debug().Int("records", result.Written).Msg("Successfully processed and ingested data")
		} else {
			ml.Info().Int("records", result.Written).Msg("Successfully processed and ingested data")
		}

	case msg.ReceiveCount >= mp.config.MaxReceiveCount:
		ml.Error().
			Err(result.Err).
			Str("kind", errorKind(result.Err)).
			Bool("not_found", IsNotFound(result.Err)).
			Str("body", string(msg.Body)).
			Msg("Message processing failed")
		mp.deleteMessage(ctx, msg)

		stats.Abandoned++
		mp.metrics.ObserveMessage("abandoned", result.Err)
		ml.Warn().
			Int("max_receive_count", mp.config.MaxReceiveCount).
			Msg("Message abandoned after exhausting retries")

	default:
		ml.Error().
			Err(result.Err).
			Str("kind", errorKind(result.Err)).
			Bool("not_found", IsNotFound(result.Err)).
			Str("body", string(msg.Body)).
			Msg("Message processing failed, will be retried")

		if err := mp.queue.Release(ctx, msg, mp.config.RetryDelay); err != nil {
			ml.Error().Err(err).Msg("Failed to release message")
		}

		stats.Retried++
		mp.metrics.ObserveMessage("retry", result.Err)
	}
}

func (mp *MessageProcessor) deleteMessage(ctx context.Context, msg *QueueMessage) {
	if err := mp.queue.Delete(ctx, msg); err != nil {
		log.Error().Str("message_id", msg.ID).Err(err).Msg("Failed to delete message from queue")
	} else {
		log.Debug().Str("message_id", msg.ID).Msg("Message deleted from queue")
	}
}

// logQueueStats reports the queue depth, failures are only logged.
func (mp *MessageProcessor) logQueueStats(ctx context.Context) {
	depth, err := mp.queue.Depth(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch queue stats")
		return
	}

	log.Info().
		Int("available", depth.Available).
		Int("in_flight", depth.InFlight).
		Int("delayed", depth.Delayed).
		Msg("Queue stats")
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
