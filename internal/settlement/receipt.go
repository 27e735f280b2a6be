package settlement

import (
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
)

// Receipt records the outcome of a settlement. In best-effort mode
// Shortfall is the only signal that the user was paid less than owed.
type Receipt struct {
	SettlementID string            `json:"settlement_id"`
	User         identity.Identity `json:"user"`
	Mode         Mode              `json:"mode"`

	PayoutAmount    uint64 `json:"payout_amount"`
	FeeApplied      int64  `json:"fee_applied"`
	RequestedPayout uint64 `json:"requested_payout"`
	ActualPayout    uint64 `json:"actual_payout"`
	Shortfall       uint64 `json:"shortfall"`

	// CollateralReleased is how much TotalDeposit dropped.
	CollateralReleased uint64 `json:"collateral_released"`

	Transfers []ledger.Transfer `json:"transfers"`
	Timestamp int64             `json:"timestamp"`
}

// IsPartial reports a best-effort payout below what was owed.
func (r *Receipt) IsPartial() bool {
	return r.Shortfall > 0
}
