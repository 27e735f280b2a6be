package event

import (
	"EscrowLedger/internal/identity"
	"time"
)

// AccountFunded reports funds arriving in a custodial account from outside
// the escrow. It changes actual balances but never TotalDeposit.
type AccountFunded struct {
	FundingID string            `json:"funding_id"`
	Account   identity.Identity `json:"account"`
	Amount    uint64            `json:"amount"`
	// Reporter is null for the chain watcher and the vault authority
	// for operator top-ups.
	Reporter  identity.Identity `json:"reporter"`
	Timestamp time.Time         `json:"timestamp"`
}

func (f *AccountFunded) IdempotencyKey() string {
	return "funding:" + f.FundingID
}

func (f *AccountFunded) EventType() EventType {
	return EventTypeAccountFunded
}

func (f *AccountFunded) Caller() identity.Identity {
	return f.Reporter
}

func (f *AccountFunded) OccurredAt() time.Time {
	return f.Timestamp
}
