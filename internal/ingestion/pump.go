package ingestion

import (
	"EscrowLedger/internal/auth"
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CommandPump turns RawEvents into core commands.
//
// A message is acked once its command is queued for the core, not after it
// is applied, so AckWait never expires behind a slow core and a full
// command channel pushes back on NATS. Malformed payloads are acked and
// dropped. Rejections reported by the core are logged and, when a publish
// channel is set, announced on the rejection subjects.
//
// Every command must carry a JWT in TokenHeader signed with secret. The
// token's identity is the command's caller; commands naming another caller
// are rejected as Unauthorized without reaching the core.
type CommandPump struct {
	subjects  []SubjectConfig
	commands  chan<- core.Command
	rejected  chan<- PublishableEvent
	secret    []byte
	logger    zerolog.Logger
	onDropped func()
}

func NewCommandPump(
	subjects []SubjectConfig,
	commands chan<- core.Command,
	rejected chan<- PublishableEvent,
	secret []byte,
	logger zerolog.Logger,
) *CommandPump {
	return &CommandPump{
		subjects: subjects,
		commands: commands,
		rejected: rejected,
		secret:   secret,
		logger:   logger,
	}
}

// OnPublishDropped registers a hook called when a rejection notice is
// dropped because the publish channel is full.
func (p *CommandPump) OnPublishDropped(fn func()) {
	p.onDropped = fn
}

// Run pumps until ctx is done or raw closes.
func (p *CommandPump) Run(ctx context.Context, raw <-chan RawEvent) error {
	replies := make(chan pendingReply, cap(raw)+1)
	defer close(replies)
	go p.collect(replies)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-raw:
			if !ok {
				return nil
			}

			eventType := msg.EventType
			if eventType == "" {
				var found bool
				if eventType, found = ResolveEventType(msg.Subject, p.subjects); !found {
					p.logger.Warn().Str("subject", msg.Subject).Msg("unknown subject")
					msg.AckFunc()
					continue
				}
			}

			evt, err := ParseRawEvent(msg, eventType)
			if err != nil {
				p.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("parse command failed")
				msg.AckFunc()
				continue
			}

			pr := pendingReply{
				eventType: eventType,
				key:       evt.IdempotencyKey(),
				at:        evt.OccurredAt(),
			}

			if err := p.authorize(msg, evt); err != nil {
				p.logger.Warn().Err(err).
					Str("subject", msg.Subject).
					Str("idempotency_key", pr.key).
					Msg("command not authorized")
				msg.AckFunc()
				p.announce(pr, err)
				continue
			}

			reply := make(chan core.Result, 1)
			select {
			case p.commands <- core.Command{Event: evt, Reply: reply}:
			case <-ctx.Done():
				msg.NakFunc()
				return ctx.Err()
			}
			// The core may already have drained its queue and stopped.
			// Redelivery is safe: a command it did apply comes back as a
			// duplicate.
			if err := ctx.Err(); err != nil {
				msg.NakFunc()
				return err
			}
			msg.AckFunc()

			pr.result = reply
			select {
			case replies <- pr:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type pendingReply struct {
	eventType string
	key       string
	at        time.Time
	result    <-chan core.Result
}

// collect waits for results in submission order, which is the order the
// core replies in.
func (p *CommandPump) collect(pending <-chan pendingReply) {
	for pr := range pending {
		res := <-pr.result
		if res.Duplicate {
			p.logger.Debug().Str("event_type", pr.eventType).Str("idempotency_key", pr.key).Msg("duplicate command")
			continue
		}
		if res.Err == nil {
			continue
		}

		p.logger.Info().Err(res.Err).
			Str("event_type", pr.eventType).
			Str("idempotency_key", pr.key).
			Msg("command rejected by core")
		p.announce(pr, res.Err)
	}
}

// announce publishes a rejection notice without blocking.
func (p *CommandPump) announce(pr pendingReply, err error) {
	if p.rejected == nil {
		return
	}
	notice := PublishableEvent{
		Sequence:       -1,
		EventType:      pr.eventType,
		IdempotencyKey: pr.key,
		Timestamp:      pr.at,
		Rejected:       true,
		ErrorKind:      ledger.Kind(err),
		Error:          err.Error(),
	}
	select {
	case p.rejected <- notice:
	default:
		if p.onDropped != nil {
			p.onDropped()
		}
	}
}

// authorize verifies msg's token and binds its identity to evt.
func (p *CommandPump) authorize(msg RawEvent, evt event.Event) error {
	caller, err := auth.IdentityFromBearer(msg.Token, p.secret)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrUnauthorized, err)
	}
	return bindCaller(evt, caller)
}

// bindCaller fills an omitted settlement caller or funding reporter with
// the verified identity. Any caller named in the payload must match it.
func bindCaller(evt event.Event, caller identity.Identity) error {
	switch e := evt.(type) {
	case *event.SettlementRequested:
		if e.CallerID.IsZero() {
			e.CallerID = caller
		}
	case *event.AccountFunded:
		if e.Reporter.IsZero() {
			e.Reporter = caller
		}
	}
	if evt.Caller() != caller {
		return fmt.Errorf("%w: token for %s, command from %s",
			ledger.ErrUnauthorized, caller.Short(), evt.Caller().Short())
	}
	return nil
}
