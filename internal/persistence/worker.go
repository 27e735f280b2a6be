package persistence

import (
	"EscrowLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends to it blocking, so if this worker falls behind the core
// stalls and no applied command is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// backoff bounds, shortened in tests
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
		minBackoff:   100 * time.Millisecond,
		maxBackoff:   30 * time.Second,
	}
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	eventBatch := make([]EventRow, 0, pw.batchSize)
	journalBatch := make([]JournalRow, 0, pw.batchSize*2)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) error {
		if len(eventBatch) == 0 {
			return nil
		}
		err := pw.flushWithRetry(ctx, eventBatch, journalBatch)
		if err != nil {
			pw.logger.Error().Err(err).Str("reason", reason).Int("events", len(eventBatch)).Msg("flush failed")
		}
		eventBatch = eventBatch[:0]
		journalBatch = journalBatch[:0]
		return err
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background(), "shutdown")
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return flush(context.Background(), "closed")
			}

			eventBatch = append(eventBatch, output.EventRow)
			journalBatch = append(journalBatch, output.JournalRows...)

			if len(eventBatch) >= pw.batchSize {
				flush(ctx, "full")
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one final attempt is made.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	backoff := pw.minBackoff

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), events, journals); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pw.maxBackoff {
				backoff = pw.maxBackoff
			}
		}

		err := pw.flush(ctx, events, journals)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		if IsUniqueViolation(err) {
			// the log already holds a command with one of these keys; retrying cannot help
			return fmt.Errorf("event log conflict: %w", err)
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.recordError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.recordError("write_events")
		return err
	}

	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.recordError("write_journals")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.recordError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}

	return nil
}

func (pw *PersistenceWorker) recordError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
