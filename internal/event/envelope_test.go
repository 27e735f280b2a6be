package event_test

import (
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/settlement"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_AllCommands(t *testing.T) {
	var user, backend identity.Identity
	user[0], backend[0] = 1, 2
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	commands := []event.Event{
		&event.VaultInitialized{CommandID: "v1", Authority: user, BackendWallet: backend, VaultAddress: user, Timestamp: ts},
		&event.UserAccountOpened{CommandID: "u1", User: user, Timestamp: ts},
		&event.DepositRequested{DepositID: "d1", User: user, Amount: 42, Timestamp: ts},
		&event.SettlementRequested{
			SettlementID: "s1", CallerID: backend, User: user,
			PayoutAmount: 200, Fee: -50, Mode: settlement.ModeSignedFeeBestEffort, Timestamp: ts,
		},
		&event.AccountFunded{FundingID: "f1", Account: backend, Amount: 9, Timestamp: ts},
	}

	for _, cmd := range commands {
		payload, err := event.Encode(cmd)
		require.NoError(t, err)

		decoded, err := event.Decode(cmd.EventType(), payload)
		require.NoError(t, err, cmd.EventType().String())
		assert.Equal(t, cmd, decoded)
		assert.Equal(t, cmd.IdempotencyKey(), decoded.IdempotencyKey())
	}
}

func TestSettlementRequested_ModeIsText(t *testing.T) {
	payload, err := event.Encode(&event.SettlementRequested{Mode: settlement.ModeCollateralRefund})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"mode":"collateral_refund"`)
}

func TestParseEventType(t *testing.T) {
	et, err := event.ParseEventType("DepositRequested")
	require.NoError(t, err)
	assert.Equal(t, event.EventTypeDepositRequested, et)

	_, err = event.ParseEventType("TradeFill")
	assert.Error(t, err)

	_, err = event.Decode(event.EventTypeUnknown, []byte("{}"))
	assert.Error(t, err)
}

func TestIdempotencyKeysAreNamespaced(t *testing.T) {
	d := &event.DepositRequested{DepositID: "x"}
	s := &event.SettlementRequested{SettlementID: "x"}
	assert.NotEqual(t, d.IdempotencyKey(), s.IdempotencyKey())
}
