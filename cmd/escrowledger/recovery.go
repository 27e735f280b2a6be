package main

import (
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/persistence"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// restore loads the latest snapshot into c and replays the log tail. Each
// replayed event must reproduce its logged state hash.
func restore(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	c *core.EscrowCore,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	start := time.Now()
	from := int64(0)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		// the log is complete, a cold replay is always possible
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying from genesis")
		snap = nil
	}
	if snap != nil {
		if err := c.RestoreFromSnapshot(snap); err != nil {
			return err
		}
		from = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Int("idempotency_keys", len(snap.IdempotencyKeys)).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	replayed, err := replayFrom(ctx, snapMgr, c, from)
	if err != nil {
		return err
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", c.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

func replayFrom(ctx context.Context, snapMgr *persistence.SnapshotManager, c *core.EscrowCore, from int64) (int64, error) {
	var total int64
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		for _, row := range rows {
			env, err := row.ToEnvelope()
			if err != nil {
				return total, err
			}
			if err := c.ReplayEnvelope(env); err != nil {
				return total, err
			}
			total++
		}
		from = rows[len(rows)-1].Sequence + 1
	}
}

// snapshotSaver persists snapshots emitted by the core loop. A snapshot is
// written only once the event log covers its sequence.
type snapshotSaver struct {
	snapMgr  *persistence.SnapshotManager
	metrics  *observability.Metrics
	logger   zerolog.Logger
	pollWait time.Duration
}

func (s *snapshotSaver) Run(ctx context.Context, in <-chan *core.SnapshotState) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-in:
			if err := s.save(ctx, snap); err != nil {
				s.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("periodic snapshot failed")
			}
		}
	}
}

func (s *snapshotSaver) save(ctx context.Context, snap *core.SnapshotState) error {
	if err := s.waitForLog(ctx, snap.Sequence); err != nil {
		return err
	}

	start := time.Now()
	size, err := s.snapMgr.SaveSnapshot(ctx, snap, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	// built from live state that already passed every post-check
	if err := s.snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		s.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("mark snapshot verified failed")
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")
	return nil
}

func (s *snapshotSaver) waitForLog(ctx context.Context, sequence int64) error {
	for {
		latest, err := s.snapMgr.GetLatestSequence(ctx)
		if err != nil {
			return fmt.Errorf("latest sequence: %w", err)
		}
		if latest >= sequence {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollWait):
		}
	}
}
