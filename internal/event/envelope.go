package event

import (
	"EscrowLedger/internal/identity"
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeVaultInitialized
	EventTypeUserAccountOpened
	EventTypeDepositRequested
	EventTypeSettlementRequested
	EventTypeAccountFunded
)

// EventEnvelope wraps every applied command in the log. Rejected commands
// are never logged.
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is implemented by every command the core accepts.
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// Caller is the authenticated identity that issued the command. The
	// null identity marks a trusted hosting-environment source.
	Caller() identity.Identity

	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeVaultInitialized:
		return "VaultInitialized"
	case EventTypeUserAccountOpened:
		return "UserAccountOpened"
	case EventTypeDepositRequested:
		return "DepositRequested"
	case EventTypeSettlementRequested:
		return "SettlementRequested"
	case EventTypeAccountFunded:
		return "AccountFunded"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, error) {
	for et := EventTypeVaultInitialized; et <= EventTypeAccountFunded; et++ {
		if et.String() == s {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type %q", s)
}

// Encode serializes a command for the event log.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode restores a command from the event log.
func Decode(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeVaultInitialized:
		evt = &VaultInitialized{}
	case EventTypeUserAccountOpened:
		evt = &UserAccountOpened{}
	case EventTypeDepositRequested:
		evt = &DepositRequested{}
	case EventTypeSettlementRequested:
		evt = &SettlementRequested{}
	case EventTypeAccountFunded:
		evt = &AccountFunded{}
	default:
		return nil, fmt.Errorf("decode: unsupported event type %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
