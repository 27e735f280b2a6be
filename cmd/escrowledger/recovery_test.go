package main

import (
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/settlement"
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ident(b byte) identity.Identity {
	var id identity.Identity
	id[0], id[31] = b, 0x42
	return id
}

var eventColumns = []string{"sequence", "event_type", "idempotency_key", "payload", "state_hash", "prev_hash", "timestamp"}

// loggedSession runs a short session through a live core and returns the
// rows it would have persisted.
func loggedSession(t *testing.T) (*core.EscrowCore, []persistence.EventRow) {
	t.Helper()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend, alice := ident(2), ident(10)

	persist := make(chan core.CoreOutput, 8)
	live := core.NewEscrowCore(0, settlement.ModeSignedFeeStrict, persist, nil, nil, nil, zerolog.Nop())
	for _, evt := range []event.Event{
		&event.VaultInitialized{CommandID: "v1", Authority: ident(1), BackendWallet: backend, VaultAddress: ident(3), Timestamp: at},
		&event.AccountFunded{FundingID: "f1", Account: alice, Amount: 1000, Timestamp: at},
		&event.DepositRequested{DepositID: "d1", User: alice, Amount: 400, Timestamp: at},
		&event.SettlementRequested{SettlementID: "s1", CallerID: backend, User: alice, PayoutAmount: 100, Fee: 10, Mode: settlement.ModeCollateralRefund, Timestamp: at},
	} {
		require.NoError(t, live.ProcessEvent(evt).Err)
	}
	close(persist)

	var rows []persistence.EventRow
	for out := range persist {
		rows = append(rows, persistence.FromCore(out).EventRow)
	}
	return live, rows
}

func eventRows(rows []persistence.EventRow) *sqlmock.Rows {
	r := sqlmock.NewRows(eventColumns)
	for _, e := range rows {
		r.AddRow(e.Sequence, e.EventType, e.IdempotencyKey, e.Payload, e.StateHash, e.PrevHash, e.Timestamp)
	}
	return r
}

func TestRestore_ColdReplayReproducesState(t *testing.T) {
	live, rows := loggedSession(t)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT data FROM event_log\.snapshots`).WillReturnRows(sqlmock.NewRows([]string{"data"}))
	mock.ExpectQuery(`FROM event_log\.events`).WithArgs(int64(0), replayBatchSize).WillReturnRows(eventRows(rows))
	mock.ExpectQuery(`FROM event_log\.events`).WithArgs(int64(len(rows)), replayBatchSize).WillReturnRows(sqlmock.NewRows(eventColumns))

	fresh := core.NewEscrowCore(0, settlement.ModeSignedFeeStrict, nil, nil, nil, nil, zerolog.Nop())
	require.NoError(t, restore(context.Background(), persistence.NewSnapshotManager(db), fresh, nil, zerolog.Nop()))

	assert.Equal(t, live.GetSequence(), fresh.GetSequence())
	assert.Equal(t, live.GetStateHash(), fresh.GetStateHash())
	assert.Equal(t, live.BalanceOf(ident(10)), fresh.BalanceOf(ident(10)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestore_TamperedLogFails(t *testing.T) {
	_, rows := loggedSession(t)
	rows[2].StateHash = make([]byte, 32)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT data FROM event_log\.snapshots`).WillReturnRows(sqlmock.NewRows([]string{"data"}))
	mock.ExpectQuery(`FROM event_log\.events`).WillReturnRows(eventRows(rows))

	fresh := core.NewEscrowCore(0, settlement.ModeSignedFeeStrict, nil, nil, nil, nil, zerolog.Nop())
	err = restore(context.Background(), persistence.NewSnapshotManager(db), fresh, nil, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state hash mismatch")
}

func TestSnapshotSaver_WaitsForLog(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	snap := &core.SnapshotState{Sequence: 5}

	mock.ExpectQuery(`SELECT MAX\(sequence\)`).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(3)))
	mock.ExpectQuery(`SELECT MAX\(sequence\)`).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(5)))
	mock.ExpectExec(`INSERT INTO event_log\.snapshots`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE event_log\.snapshots`).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))

	saver := &snapshotSaver{
		snapMgr:  persistence.NewSnapshotManager(db),
		logger:   zerolog.Nop(),
		pollWait: time.Millisecond,
	}
	require.NoError(t, saver.save(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}
