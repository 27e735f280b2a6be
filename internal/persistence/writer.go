package persistence

import (
	fpmath "EscrowLedger/internal/math"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// EventLogWriter writes events and journals to Postgres using multi-row
// INSERTs inside the caller's transaction.
type EventLogWriter struct{}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal. Accounts are base58
// identities; the null identity is stored as the empty string.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        uint64
	JournalType   int32
	Timestamp     int64
}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

// WriteEventBatch writes a batch of events to event_log.events.
// Re-delivered sequences are ignored.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, db DBTX, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp)
		VALUES `

	const cols = 7
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, db DBTX, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, amount, journal_type, timestamp)
		VALUES `

	const cols = 9
	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, fpmath.MinorUnits(j.Amount),
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}

// IsUniqueViolation reports a Postgres unique index conflict, e.g. a second
// command with an already-logged idempotency key.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
