package ledger

import (
	"EscrowLedger/internal/identity"

	"github.com/google/uuid"
)

// Transfer is a planned custodial move before it is journaled.
type Transfer struct {
	From   identity.Identity `json:"from"`
	To     identity.Identity `json:"to"`
	Amount uint64            `json:"amount"`
	Type   JournalType       `json:"type"`
}

// JournalGenerator turns executed transfers into journal batches.
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{
		sequence: startSequence,
	}
}

// SetSequence aligns the generator with the core's event sequence.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// Generate builds one batch for eventRef. Zero-amount transfers are dropped.
func (jg *JournalGenerator) Generate(eventRef string, timestamp int64, transfers []Transfer) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(transfers)),
	}

	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  t.To,
			CreditAccount: t.From,
			Amount:        t.Amount,
			JournalType:   t.Type,
			Timestamp:     timestamp,
		})
	}

	if err := batch.Validate(); err != nil {
		return nil, err
	}

	jg.sequence++
	return batch, nil
}
