package query

import (
	"encoding/json"
	"time"
)

// SettlementResponse is a settlement receipt as projected.
type SettlementResponse struct {
	SettlementID       string          `json:"settlement_id"`
	Sequence           int64           `json:"sequence"`
	User               string          `json:"user"`
	Mode               string          `json:"mode"`
	PayoutAmount       Amount          `json:"payout_amount"`
	Fee                int64           `json:"fee"`
	RequestedPayout    Amount          `json:"requested_payout"`
	ActualPayout       Amount          `json:"actual_payout"`
	Shortfall          Amount          `json:"shortfall"`
	CollateralReleased Amount          `json:"collateral_released"`
	Transfers          json.RawMessage `json:"transfers"`
	SettledAt          time.Time       `json:"settled_at"`
}

// JournalHistoryEntry is one journal row touching an account. An empty
// account is the external funding boundary.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        Amount `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of VerifyIntegrity.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`

	// TotalDeposit must equal the sum of user deposits.
	TotalDeposit       Amount `json:"total_deposit"`
	SumUserDeposits    Amount `json:"sum_user_deposits"`
	ConservationBroken bool   `json:"conservation_broken"`

	// The vault must hold at least TotalDeposit.
	VaultBalance Amount `json:"vault_balance"`
	Insolvent    bool   `json:"insolvent"`

	AsOfSequence int64 `json:"as_of_sequence"`
}
