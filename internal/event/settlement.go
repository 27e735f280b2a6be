package event

import (
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/settlement"
	"time"
)

// SettlementRequested asks the backend-only settlement of one user.
// PayoutAmount is collateral in collateral_refund mode and the amount owed
// to the user in the signed-fee modes.
type SettlementRequested struct {
	SettlementID string            `json:"settlement_id"`
	CallerID     identity.Identity `json:"caller"`
	User         identity.Identity `json:"user"`
	PayoutAmount uint64            `json:"payout_amount"`
	Fee          int64             `json:"fee"`
	Mode         settlement.Mode   `json:"mode"`
	Timestamp    time.Time         `json:"timestamp"`
}

func (s *SettlementRequested) IdempotencyKey() string {
	return "settlement:" + s.SettlementID
}

func (s *SettlementRequested) EventType() EventType {
	return EventTypeSettlementRequested
}

func (s *SettlementRequested) Caller() identity.Identity {
	return s.CallerID
}

func (s *SettlementRequested) OccurredAt() time.Time {
	return s.Timestamp
}
