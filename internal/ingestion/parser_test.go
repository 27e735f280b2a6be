package ingestion_test

import (
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/settlement"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func testIdentity(b byte) identity.Identity {
	var id identity.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func TestParseVaultInitialized(t *testing.T) {
	authority, backend, vault := testIdentity(1), testIdentity(2), testIdentity(3)
	raw := rawFromJSON(t, map[string]interface{}{
		"command_id":     "init-1",
		"authority":      authority.String(),
		"backend_wallet": backend.String(),
		"vault_address":  vault.String(),
		"timestamp_us":   int64(1700000000000000),
	})

	evt, err := ingestion.ParseRawEvent(raw, "VaultInitialized")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	vi, ok := evt.(*event.VaultInitialized)
	if !ok {
		t.Fatalf("expected *event.VaultInitialized, got %T", evt)
	}
	if vi.Authority != authority || vi.BackendWallet != backend || vi.VaultAddress != vault {
		t.Errorf("identities not decoded: %+v", vi)
	}
	if vi.IdempotencyKey() != "vault-init:init-1" {
		t.Errorf("idempotency key: got %s", vi.IdempotencyKey())
	}
	if vi.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", vi.Timestamp.UnixMicro())
	}
}

func TestParseDepositRequested(t *testing.T) {
	user := testIdentity(7)
	raw := rawFromJSON(t, map[string]interface{}{
		"deposit_id": "dep-1",
		"user":       user.String(),
		"amount":     uint64(18_000_000_000_000_000_000),
	})

	evt, err := ingestion.ParseRawEvent(raw, "DepositRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d := evt.(*event.DepositRequested)
	if d.Amount != 18_000_000_000_000_000_000 {
		t.Errorf("amount: got %d", d.Amount)
	}
	if d.User != user {
		t.Errorf("user: got %s", d.User)
	}
	// no timestamp_us: the receive time is used
	if !d.Timestamp.Equal(raw.Timestamp) {
		t.Errorf("timestamp: got %v, want %v", d.Timestamp, raw.Timestamp)
	}
}

func TestParseSettlementRequested(t *testing.T) {
	backend, user := testIdentity(2), testIdentity(9)

	tests := []struct {
		name string
		mode string
		want settlement.Mode
	}{
		{"default mode", "", settlement.ModeUnspecified},
		{"collateral refund", "collateral_refund", settlement.ModeCollateralRefund},
		{"best effort", "signed_fee_best_effort", settlement.ModeSignedFeeBestEffort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawFromJSON(t, map[string]interface{}{
				"settlement_id": "s-1",
				"caller":        backend.String(),
				"user":          user.String(),
				"payout_amount": uint64(200),
				"fee":           int64(-50),
				"mode":          tt.mode,
			})

			evt, err := ingestion.ParseRawEvent(raw, "SettlementRequested")
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			s := evt.(*event.SettlementRequested)
			if s.Mode != tt.want {
				t.Errorf("mode: got %s, want %s", s.Mode, tt.want)
			}
			if s.Fee != -50 || s.PayoutAmount != 200 {
				t.Errorf("amounts: payout %d fee %d", s.PayoutAmount, s.Fee)
			}
			if s.Caller() != backend {
				t.Errorf("caller: got %s", s.Caller())
			}
		})
	}
}

func TestParseAccountFunded_ReporterOptional(t *testing.T) {
	account := testIdentity(4)

	raw := rawFromJSON(t, map[string]interface{}{
		"funding_id": "f-1",
		"account":    account.String(),
		"amount":     uint64(1000),
	})
	evt, err := ingestion.ParseRawEvent(raw, "AccountFunded")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if f := evt.(*event.AccountFunded); !f.Reporter.IsZero() {
		t.Errorf("reporter: got %s, want null identity", f.Reporter)
	}

	authority := testIdentity(1)
	raw = rawFromJSON(t, map[string]interface{}{
		"funding_id": "f-2",
		"account":    account.String(),
		"amount":     uint64(1000),
		"reporter":   authority.String(),
	})
	evt, err = ingestion.ParseRawEvent(raw, "AccountFunded")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if f := evt.(*event.AccountFunded); f.Reporter != authority {
		t.Errorf("reporter: got %s, want %s", f.Reporter, authority)
	}
}

func TestParse_Malformed(t *testing.T) {
	user := testIdentity(7)

	tests := []struct {
		name      string
		eventType string
		payload   interface{}
	}{
		{"unknown type", "TradeFill", map[string]interface{}{}},
		{"bad identity", "UserAccountOpened", map[string]interface{}{"command_id": "u", "user": "not-base58-0OIl"}},
		{"short identity", "UserAccountOpened", map[string]interface{}{"command_id": "u", "user": "3mJr7AoUXx2Wqd"}},
		{"missing id", "DepositRequested", map[string]interface{}{"user": user.String(), "amount": 1}},
		{"negative amount", "DepositRequested", map[string]interface{}{"deposit_id": "d", "user": user.String(), "amount": -1}},
		{"unknown mode", "SettlementRequested", map[string]interface{}{
			"settlement_id": "s", "caller": user.String(), "user": user.String(), "mode": "liquidate",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, tt.payload), tt.eventType)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ingestion.ErrMalformedCommand) {
				t.Errorf("expected ErrMalformedCommand, got %v", err)
			}
		})
	}
}

func TestResolveEventType(t *testing.T) {
	subjects := ingestion.DefaultSubjects()

	tests := []struct {
		subject string
		want    string
		found   bool
	}{
		{"escrow.commands.deposits.user-1", "DepositRequested", true},
		{"escrow.commands.settlements.s-9", "SettlementRequested", true},
		{"escrow.commands.vault.init.main", "VaultInitialized", true},
		{"escrow.commands.users.open.u", "UserAccountOpened", true},
		{"escrow.commands.funding.chain", "AccountFunded", true},
		{"escrow.commands.withdrawals.x", "", false},
	}

	for _, tt := range tests {
		got, found := ingestion.ResolveEventType(tt.subject, subjects)
		if got != tt.want || found != tt.found {
			t.Errorf("%s: got (%q, %v), want (%q, %v)", tt.subject, got, found, tt.want, tt.found)
		}
	}
}
