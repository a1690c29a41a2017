package main

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// WorkerPool runs independent lease loops side by side. Each loop is
// sequential; the queue lease is the only coordination between them.
type WorkerPool struct {
	workerCount int
	processor   *MessageProcessor

	mu    sync.Mutex
	stats DrainStats
}

func NewWorkerPool(processor *MessageProcessor, workerCount int) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &WorkerPool{workerCount: workerCount, processor: processor}
}

// Run returns once every loop has drained, or with the first queue failure.
func (wp *WorkerPool) Run(ctx context.Context) (DrainStats, error) {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < wp.workerCount; i++ {
		workerID := i
		g.Go(func() error {
			log.Debug().Int("worker_id", workerID).Msg("Worker started")

			stats, err := wp.processor.Run(gctx)
			wp.add(stats)

			log.Debug().Int("worker_id", workerID).Int("processed", stats.Processed).Msg("Worker stopping")
			return err
		})
	}

	err := g.Wait()
	return wp.Stats(), err
}

func (wp *WorkerPool) add(s DrainStats) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	wp.stats.Processed += s.Processed
	wp.stats.Duplicates += s.Duplicates
	wp.stats.Retried += s.Retried
	wp.stats.Abandoned += s.Abandoned
	wp.stats.Records += s.Records
}

func (wp *WorkerPool) Stats() DrainStats {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.stats
}
