package event

import (
	"EscrowLedger/internal/identity"
	"time"
)

// DepositRequested moves Amount from the user's custodial account into the
// vault and books it.
type DepositRequested struct {
	DepositID string            `json:"deposit_id"`
	User      identity.Identity `json:"user"`
	Amount    uint64            `json:"amount"`
	Timestamp time.Time         `json:"timestamp"`
}

// IdempotencyKey is scoped to the depositing user; deposit ids are chosen
// by clients and may collide across users.
func (d *DepositRequested) IdempotencyKey() string {
	return "deposit:" + d.User.String() + ":" + d.DepositID
}

func (d *DepositRequested) EventType() EventType {
	return EventTypeDepositRequested
}

func (d *DepositRequested) Caller() identity.Identity {
	return d.User
}

func (d *DepositRequested) OccurredAt() time.Time {
	return d.Timestamp
}
