package persistence

import (
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"fmt"
)

// CoreOutput is the persistable form of one core.CoreOutput.
type CoreOutput struct {
	EventRow    EventRow
	JournalRows []JournalRow
}

// FromCore converts a core output into rows.
func FromCore(out core.CoreOutput) CoreOutput {
	env := out.Envelope
	p := CoreOutput{
		EventRow: EventRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Payload:        env.Payload,
			StateHash:      append([]byte(nil), env.StateHash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
			Timestamp:      env.Timestamp,
		},
	}

	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			p.JournalRows = append(p.JournalRows, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  accountText(j.DebitAccount),
				CreditAccount: accountText(j.CreditAccount),
				Amount:        j.Amount,
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}

	return p
}

// ToEnvelope restores a logged event for replay.
func (e EventRow) ToEnvelope() (*event.EventEnvelope, error) {
	et, err := event.ParseEventType(e.EventType)
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", e.Sequence, err)
	}
	if len(e.StateHash) != 32 || len(e.PrevHash) != 32 {
		return nil, fmt.Errorf("event %d: malformed hash", e.Sequence)
	}

	env := &event.EventEnvelope{
		Sequence:       e.Sequence,
		IdempotencyKey: e.IdempotencyKey,
		EventType:      et,
		Timestamp:      e.Timestamp,
		Payload:        e.Payload,
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)
	return env, nil
}

func accountText(id identity.Identity) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}
