package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	skafka "github.com/segmentio/kafka-go"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/hr"
)

// =============================================================================
// KAFKA PUBLISHER
// =============================================================================

// Writer defines the subset of segmentio kafka.Writer we need. This makes
// the publisher testable.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Message is the JSON body written to the topic.
type Message struct {
	EventKind   hr.EventKind        `json:"eventKind"`
	Template    string              `json:"template"`
	Channel     Channel             `json:"channel"`
	Subject     string              `json:"subject"`
	WorkspaceID generic.WorkspaceID `json:"workspaceId"`
	Payload     hr.Payload          `json:"payload"`
	PublishedAt time.Time           `json:"publishedAt"`
}

// Publisher implements hr.Dispatcher on top of a Kafka topic. Messages are
// keyed by workspace so one tenant's events stay ordered.
type Publisher struct {
	writer   Writer
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

var _ hr.Dispatcher = (*Publisher)(nil)

// NewKafkaPublisher creates a Publisher that writes to the given brokers
// and topic.
func NewKafkaPublisher(brokers []string, topic string, registry *Registry, logger *slog.Logger) *Publisher {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireOne,
	}
	return NewPublisherWithWriter(w, registry, logger)
}

// NewPublisherWithWriter allows injecting a test writer.
func NewPublisherWithWriter(w Writer, registry *Registry, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		writer:   w,
		registry: registry,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Handle(ctx context.Context, kind hr.EventKind, payload hr.Payload, workspaceID generic.WorkspaceID) (hr.DeliveryResult, error) {
	tmpl, subject, err := p.registry.Render(kind, payload)
	if err != nil {
		return hr.DeliveryResult{}, err
	}

	body, err := json.Marshal(Message{
		EventKind:   kind,
		Template:    tmpl.Name,
		Channel:     tmpl.Channel,
		Subject:     subject,
		WorkspaceID: workspaceID,
		Payload:     payload,
		PublishedAt: p.now(),
	})
	if err != nil {
		return hr.DeliveryResult{}, fmt.Errorf("marshal %s message: %w", kind, err)
	}

	msg := skafka.Message{
		Key:   []byte(workspaceID),
		Value: body,
		Headers: []skafka.Header{
			{Key: "event-kind", Value: []byte(kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "kafka write failed", "event", kind, "workspace_id", workspaceID, "error", err)
		return hr.DeliveryResult{Template: tmpl.Name, Channel: string(tmpl.Channel)}, fmt.Errorf("publish %s: %w", kind, err)
	}
	return hr.DeliveryResult{Delivered: true, Template: tmpl.Name, Channel: string(tmpl.Channel)}, nil
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
