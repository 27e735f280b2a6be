package persistence_test

import (
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/settlement"
	"EscrowLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func account(b byte) identity.Identity {
	var id identity.Identity
	id[0], id[31] = b, 0x77
	return id
}

// TestEventLog_ReplayReproducesStateHash writes a settled session to
// Postgres and replays it into a fresh core.
func TestEventLog_ReplayReproducesStateHash(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	authority, backend, vaultAddr, alice := account(1), account(2), account(3), account(10)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	persist := make(chan core.CoreOutput, 16)
	live := core.NewEscrowCore(0, settlement.ModeSignedFeeStrict, persist, nil, nil, nil, zerolog.Nop())

	for _, evt := range []event.Event{
		&event.VaultInitialized{CommandID: "v1", Authority: authority, BackendWallet: backend, VaultAddress: vaultAddr, Timestamp: at},
		&event.AccountFunded{FundingID: "f1", Account: alice, Amount: 1000, Timestamp: at},
		&event.AccountFunded{FundingID: "f2", Account: backend, Amount: 500, Timestamp: at},
		&event.DepositRequested{DepositID: "d1", User: alice, Amount: 300, Timestamp: at},
		&event.SettlementRequested{SettlementID: "s1", CallerID: backend, User: alice, PayoutAmount: 400, Fee: -50, Mode: settlement.ModeSignedFeeStrict, Timestamp: at},
	} {
		res := live.ProcessEvent(evt)
		require.NoError(t, res.Err, evt.IdempotencyKey())
	}
	close(persist)

	writer := persistence.NewEventLogWriter()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	for out := range persist {
		rows := persistence.FromCore(out)
		require.NoError(t, writer.WriteEventBatch(ctx, tx, []persistence.EventRow{rows.EventRow}))
		require.NoError(t, writer.WriteJournalBatch(ctx, tx, rows.JournalRows))
	}
	require.NoError(t, tx.Commit())

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, live.GetSequence()-1, latest)

	logged, err := sm.LoadEventsFrom(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, logged, 5)

	replayed := core.NewEscrowCore(0, settlement.ModeSignedFeeStrict, nil, nil, nil, nil, zerolog.Nop())
	for _, row := range logged {
		env, err := row.ToEnvelope()
		require.NoError(t, err)
		require.NoError(t, replayed.ReplayEnvelope(env))
	}
	assert.Equal(t, live.GetStateHash(), replayed.GetStateHash())
	assert.Equal(t, live.BalanceOf(alice), replayed.BalanceOf(alice))

	dup, err := persistence.NewPostgresIdempotencyChecker(db).IsDuplicate("DepositRequested", "deposit:"+alice.String()+":d1")
	require.NoError(t, err)
	assert.True(t, dup)
}
