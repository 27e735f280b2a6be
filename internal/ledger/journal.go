package ledger

import (
	"EscrowLedger/internal/identity"
	"fmt"

	"github.com/google/uuid"
)

// JournalType records why funds moved.
type JournalType int32

const (
	JournalTypeDeposit    JournalType = iota + 1 // user -> vault
	JournalTypeCollateral                        // vault -> backend, Mode A seizure
	JournalTypeRefund                            // backend -> user, Mode A refund
	JournalTypeFee                               // vault -> backend, Mode B fee
	JournalTypePayout                            // vault -> user, Mode B payout
	JournalTypeSubsidy                           // backend -> user, Mode B negative fee
	JournalTypeFunding                           // external -> account
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeCollateral:
		return "collateral"
	case JournalTypeRefund:
		return "refund"
	case JournalTypeFee:
		return "fee"
	case JournalTypePayout:
		return "payout"
	case JournalTypeSubsidy:
		return "subsidy"
	case JournalTypeFunding:
		return "funding"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// Journal is one executed custodial transfer. Amount moves from
// CreditAccount (balance decreases) to DebitAccount (balance increases).
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string // idempotency key of the source command
	Sequence      int64
	DebitAccount  identity.Identity
	CreditAccount identity.Identity
	Amount        uint64 // always positive
	JournalType   JournalType
	Timestamp     int64 // epoch microseconds
}

// Batch groups the transfers of one command. A batch may be empty, e.g. a
// best-effort settlement against an empty backend.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.IsZero() {
			return fmt.Errorf("journal %s credits the null identity", j.JournalID)
		}
		if j.CreditAccount.IsZero() && j.JournalType != JournalTypeFunding {
			return fmt.Errorf("journal %s debits the null identity", j.JournalID)
		}
	}
	return nil
}

// TotalOut sums what left account across the batch.
func (b *Batch) TotalOut(account identity.Identity) uint64 {
	var total uint64
	for _, j := range b.Journals {
		if j.CreditAccount == account {
			total += j.Amount
		}
	}
	return total
}

// TotalIn sums what reached account across the batch.
func (b *Batch) TotalIn(account identity.Identity) uint64 {
	var total uint64
	for _, j := range b.Journals {
		if j.DebitAccount == account {
			total += j.Amount
		}
	}
	return total
}
