package ingestion

import (
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/settlement"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundStream holds applied-command and rejection notifications.
const OutboundStream = "ESCROW_LEDGER_EVENTS"

// OutboundPublisher publishes ledger notifications to NATS for downstream
// consumers. Applied commands go to escrow.ledger.events.<event_type>,
// rejections to escrow.ledger.rejections.<event_type>.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is an applied command, or a rejected one when Rejected
// is set.
type PublishableEvent struct {
	Sequence       int64               `json:"sequence"`
	EventType      string              `json:"event_type"`
	IdempotencyKey string              `json:"idempotency_key"`
	Payload        json.RawMessage     `json:"payload,omitempty"`
	Receipt        *settlement.Receipt `json:"receipt,omitempty"`
	Vault          *ledger.VaultState  `json:"vault,omitempty"`
	StateHash      string              `json:"state_hash,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`

	Rejected  bool   `json:"rejected,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Subject is where evt is published.
func (evt PublishableEvent) Subject() string {
	if evt.Rejected {
		return fmt.Sprintf("escrow.ledger.rejections.%s", evt.EventType)
	}
	return fmt.Sprintf("escrow.ledger.events.%s", evt.EventType)
}

// Applied builds the notification of an applied command.
func Applied(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        json.RawMessage(env.Payload),
		Receipt:        out.Receipt,
		Vault:          out.Vault,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run publishes until ctx is done or the input closes. Publish failures
// are logged and skipped; consumers can read the event log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().Err(err).
					Int64("sequence", evt.Sequence).
					Str("subject", evt.Subject()).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	opts := []jetstream.PublishOpt{}
	if !evt.Rejected {
		// dedup window on the stream drops a republished sequence
		opts = append(opts, jetstream.WithMsgID(fmt.Sprintf("escrow-%d", evt.Sequence)))
	}
	_, err = op.js.Publish(ctx, evt.Subject(), data, opts...)
	return err
}

// EnsureOutboundStream creates the outbound stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       OutboundStream,
		Subjects:   []string{"escrow.ledger.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", OutboundStream).Msg("ensured outbound stream")
	return nil
}
