package server

import (
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/query"
	"EscrowLedger/internal/settlement"
	"time"
)

// Request ids are optional. A missing id is generated server side, which
// makes the call non-idempotent.

type InitializeVaultRequest struct {
	CommandID     string            `json:"command_id,omitempty"`
	BackendWallet identity.Identity `json:"backend_wallet"`
	VaultAddress  identity.Identity `json:"vault_address"`
}

type OpenUserAccountRequest struct {
	CommandID string `json:"command_id,omitempty"`
}

type DepositRequest struct {
	DepositID string `json:"deposit_id,omitempty"`
	Amount    uint64 `json:"amount"`
}

type SettleRequest struct {
	SettlementID string            `json:"settlement_id,omitempty"`
	User         identity.Identity `json:"user"`
	PayoutAmount uint64            `json:"payout_amount"`
	Fee          int64             `json:"fee"`
	Mode         settlement.Mode   `json:"mode"`
}

type FundAccountRequest struct {
	FundingID string            `json:"funding_id,omitempty"`
	Account   identity.Identity `json:"account"`
	Amount    uint64            `json:"amount"`
}

// CommandResponse is the core's answer to an applied or duplicate
// command. Sequence is -1 for duplicates.
type CommandResponse struct {
	Sequence  int64               `json:"sequence"`
	Duplicate bool                `json:"duplicate,omitempty"`
	Receipt   *settlement.Receipt `json:"receipt,omitempty"`
	Vault     *ledger.VaultState  `json:"vault,omitempty"`
	User      *ledger.UserAccount `json:"user,omitempty"`
}

type GetVaultRequest struct{}

type GetUserRequest struct {
	User identity.Identity `json:"user"`
}

type GetBalanceRequest struct {
	Account identity.Identity `json:"account"`
}

type ListSettlementsRequest struct {
	User           identity.Identity `json:"user"`
	Limit          int               `json:"limit,omitempty"`
	BeforeSequence *int64            `json:"before_sequence,omitempty"`
}

type ListSettlementsResponse struct {
	Settlements []query.SettlementResponse `json:"settlements"`
}

type ListJournalsRequest struct {
	Account        identity.Identity `json:"account"`
	Limit          int               `json:"limit,omitempty"`
	BeforeSequence *int64            `json:"before_sequence,omitempty"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type VerifyIntegrityRequest struct{}

type GetEventLogInfoRequest struct{}

type EventLogInfo struct {
	LastSequence int64     `json:"last_sequence"`
	StartedAt    time.Time `json:"started_at"`
	Uptime       string    `json:"uptime"`
}
