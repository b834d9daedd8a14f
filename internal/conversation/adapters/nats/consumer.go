package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/agendazap/backend/internal/conversation/app"
	"github.com/agendazap/backend/internal/conversation/domain"
	"github.com/agendazap/backend/internal/platform/messagebroker"
)

const consumerQueueGroup = "conversation-service"

// InboundEnvelope is the NATS payload the WhatsApp channel adapter publishes
// for every received message.
type InboundEnvelope struct {
	TenantID   string                 `json:"tenant_id"`
	UserName   string                 `json:"user_name"`
	UserID     *string                `json:"user_id,omitempty"`
	Intent     *string                `json:"intent,omitempty"`
	Confidence *float64               `json:"confidence,omitempty"`
	Message    *domain.InboundMessage `json:"message"`
}

// MessageStore is the slice of the conversation service the consumer needs.
type MessageStore interface {
	StoreMessage(ctx context.Context, inbound *domain.InboundMessage, tenantID uuid.UUID, userName string, opts app.StoreOptions) (*domain.Message, error)
}

// Consumer subscribes to inbound WhatsApp messages and stores them.
type Consumer struct {
	client  *messagebroker.NATSClient
	service MessageStore
	logger  *slog.Logger
	subject string
	sub     *natsgo.Subscription
}

func NewConsumer(client *messagebroker.NATSClient, service MessageStore, subject string, logger *slog.Logger) *Consumer {
	return &Consumer{
		client:  client,
		service: service,
		logger:  logger.With("component", "inbound_consumer"),
		subject: subject,
	}
}

// Start queue-subscribes to the inbound subject. Malformed payloads are
// logged and dropped; a poison message must not wedge the queue group.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.client.SubscribeQueue(c.subject, consumerQueueGroup, func(msg *natsgo.Msg) {
		c.handle(ctx, msg.Data)
	})
	if err != nil {
		return err
	}
	c.sub = sub
	c.logger.InfoContext(ctx, "inbound message consumer started",
		"subject", c.subject, "queue", consumerQueueGroup)
	return nil
}

func (c *Consumer) handle(ctx context.Context, data []byte) {
	var envelope InboundEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logger.ErrorContext(ctx, "dropping malformed inbound envelope", "error", err)
		return
	}
	if envelope.Message == nil {
		c.logger.ErrorContext(ctx, "dropping inbound envelope without message payload")
		return
	}

	tenantID, err := uuid.Parse(envelope.TenantID)
	if err != nil {
		c.logger.ErrorContext(ctx, "dropping inbound envelope with invalid tenant id",
			"tenant_id", envelope.TenantID, "error", err)
		return
	}

	envelope.Message.Raw = json.RawMessage(data)

	opts := app.StoreOptions{Intent: envelope.Intent, Confidence: envelope.Confidence}
	if envelope.UserID != nil {
		if userID, err := uuid.Parse(*envelope.UserID); err == nil {
			opts.UserID = &userID
		}
	}

	if _, err := c.service.StoreMessage(ctx, envelope.Message, tenantID, envelope.UserName, opts); err != nil {
		// Store failures are already logged with context by the service;
		// the message is lost for this delivery (at-most-once channel).
		c.logger.ErrorContext(ctx, "failed to store inbound message",
			"message_id", envelope.Message.ID, "tenant_id", envelope.TenantID, "error", err)
	}
}

// Stop unsubscribes from the inbound subject.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}
