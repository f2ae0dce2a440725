package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ragchat/backend/internal/config"
	chat "github.com/zhouzirui/ragchat/backend/internal/service/chat"
)

// ExchangeEvent is published once per settled exchange. The prompt itself is never sent.
type ExchangeEvent struct {
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	PromptLength   int       `json:"prompt_length"`
	DurationMS     int64     `json:"duration_ms"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher pushes exchange outcomes onto NATS subjects below a common prefix.
type Publisher struct {
	conn   conn
	prefix string
	now    func() time.Time
}

// Connect dials NATS and keeps retrying in the background when the server is not up yet.
func Connect(cfg config.EventsConfig) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("ragchat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Str("component", "events").Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Str("component", "events").Msg("nats reconnected")
		}),
	}
	if cfg.NatsToken != "" {
		opts = append(opts, nats.Token(cfg.NatsToken))
	}

	nc, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return newPublisher(nc, cfg.SubjectPrefix), nil
}

func newPublisher(c conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "ragchat.exchange"
	}
	return &Publisher{conn: c, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// Subject returns the subject an outcome status is published on.
func (p *Publisher) Subject(status string) string {
	switch status {
	case "success":
		return p.prefix + ".completed"
	case "failure":
		return p.prefix + ".failed"
	default:
		return p.prefix + "." + status
	}
}

// Observe publishes the outcome. It matches chat.Options.Observer and never blocks on the network.
func (p *Publisher) Observe(outcome chat.Outcome) {
	event := ExchangeEvent{
		ConversationID: outcome.ConversationID,
		Status:         outcome.Status(),
		PromptLength:   len(outcome.Prompt),
		DurationMS:     outcome.Duration.Milliseconds(),
		Timestamp:      p.now(),
	}
	if outcome.Err != nil {
		event.Error = outcome.Err.Error()
	}

	if err := p.publish(p.Subject(event.Status), event); err != nil {
		log.Warn().Err(err).Str("component", "events").Str("conversation", outcome.ConversationID).Msg("failed to publish exchange event")
	}
}

func (p *Publisher) publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.conn.Publish(subject, payload)
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	p.conn.Close()
}
