package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// CommandStream holds every inbound escrow command subject.
const CommandStream = "ESCROW_COMMANDS"

// NATSSubscriber consumes escrow commands from JetStream and hands them to
// the command pump as RawEvents.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// TokenHeader is the NATS message header carrying the publisher's bearer
// token.
const TokenHeader = "Authorization"

// RawEvent is an undecoded command as delivered by NATS.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Token     string // TokenHeader value, verified by the pump
	Timestamp time.Time
	AckFunc   func() // ack once the command reached the core
	NakFunc   func() // nak to have JetStream redeliver
}

// SubjectConfig maps a NATS subject filter to the command it carries.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects is one durable consumer per command type. The trailing
// token is free for the producer, e.g. escrow.commands.deposits.<user>.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "escrow.commands.vault.init.>", EventType: "VaultInitialized", ConsumerName: "escrow-vault-init", StreamName: CommandStream},
		{Subject: "escrow.commands.users.open.>", EventType: "UserAccountOpened", ConsumerName: "escrow-user-open", StreamName: CommandStream},
		{Subject: "escrow.commands.deposits.>", EventType: "DepositRequested", ConsumerName: "escrow-deposits", StreamName: CommandStream},
		{Subject: "escrow.commands.settlements.>", EventType: "SettlementRequested", ConsumerName: "escrow-settlements", StreamName: CommandStream},
		{Subject: "escrow.commands.funding.>", EventType: "AccountFunded", ConsumerName: "escrow-funding", StreamName: CommandStream},
	}
}

// ResolveEventType finds the command type of a concrete subject.
func ResolveEventType(subject string, subjects []SubjectConfig) (string, bool) {
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) {
			return cfg.EventType, true
		}
	}
	return "", false
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates the durable consumers. Consumers use explicit ack,
// max_deliver=5 and ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		eventType := cfg.EventType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: eventType,
				Data:      msg.Data(),
				Token:     msg.Headers().Get(TokenHeader),
				Timestamp: time.Now().UTC(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the command stream if missing. File storage,
// limits retention, 72h max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	cfg := jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{"escrow.commands.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	return nil
}

// Stop stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("escrowledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
