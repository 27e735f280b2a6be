package persistence

import (
	"EscrowLedger/internal/core"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// snapshotFormatVersion tags the JSON layout of core.SnapshotState.
const snapshotFormatVersion = 1

// SnapshotManager saves and loads core snapshots and reads the event log
// for replay.
type SnapshotManager struct {
	db DBTX
}

func NewSnapshotManager(db DBTX) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot and returns its encoded size. Snapshots
// are written unverified; MarkVerified flips them once checked.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState, createdAt time.Time) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], snapshotFormatVersion, len(data), createdAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, nil on a cold
// start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, snapshotFormatVersion)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, payload,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest logged sequence, -1 for an empty log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
