package db

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tobyhaynes/strideline/internal/enrich"
)

const (
	notifierQueueSize    = 8
	notifierWriteTimeout = 30 * time.Second
)

// Notifier mirrors committed batches into PostgreSQL in the background.
// Publish never blocks the enrichment pipeline; if the queue is full the
// batch is dropped and the next full upsert catches the table up.
type Notifier struct {
	repo  *ActivityRepository
	log   zerolog.Logger
	queue chan *enrich.Result
	wg    sync.WaitGroup
}

// NewNotifier starts the background writer. Call Close to drain it.
func NewNotifier(database *DB, log zerolog.Logger) *Notifier {
	n := &Notifier{
		repo:  database.Activities(),
		log:   log,
		queue: make(chan *enrich.Result, notifierQueueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Publish queues a committed batch for mirroring.
func (n *Notifier) Publish(res *enrich.Result) {
	select {
	case n.queue <- res:
	default:
		n.log.Warn().
			Str("run_id", res.RunID).
			Int("activities", len(res.Enriched)).
			Msg("mirror queue full, dropping batch")
	}
}

// Close stops accepting batches and waits for queued writes to finish.
func (n *Notifier) Close() {
	close(n.queue)
	n.wg.Wait()
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for res := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), notifierWriteTimeout)
		err := n.repo.UpsertBatch(ctx, res.Enriched)
		cancel()
		if err != nil {
			n.log.Error().
				Err(err).
				Str("run_id", res.RunID).
				Int("activities", len(res.Enriched)).
				Msg("mirroring batch failed")
			continue
		}
		n.log.Debug().
			Str("run_id", res.RunID).
			Int("activities", len(res.Enriched)).
			Msg("batch mirrored")
	}
}
