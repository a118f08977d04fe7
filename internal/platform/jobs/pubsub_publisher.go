package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

// PubSubEventPublisher publishes order and RMA lifecycle events. Messages for the same
// order share an ordering key so subscribers observe transitions in sequence.
type PubSubEventPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubEventPublisher constructs an event publisher on the given topic and enables ordering.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubEventPublisher{topic: topic}, nil
}

// PublishEvent implements services.EventPublisher.
func (p *PubSubEventPublisher) PublishEvent(ctx context.Context, event services.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "rmaId", event.RMAID)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "status", event.Status)

	msg := &pubsub.Message{Data: data, Attributes: attrs, OrderingKey: event.OrderID}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			// A failed publish pauses the key until resumed.
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// PubSubNotificationSink hands reminder messages to the notification worker that owns
// the email and SMS transports.
type PubSubNotificationSink struct {
	topic *pubsub.Topic
}

// NewPubSubNotificationSink constructs a sink on the given topic.
func NewPubSubNotificationSink(topic *pubsub.Topic) (*PubSubNotificationSink, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification sink: topic is required")
	}
	return &PubSubNotificationSink{topic: topic}, nil
}

// SendReminderEmail implements services.NotificationSink.
func (s *PubSubNotificationSink) SendReminderEmail(ctx context.Context, msg services.ReminderMessage) error {
	if strings.TrimSpace(msg.Email) == "" {
		return errors.New("reminder email: recipient address missing")
	}
	return s.publish(ctx, "email", msg)
}

// SendReminderSMS implements services.NotificationSink.
func (s *PubSubNotificationSink) SendReminderSMS(ctx context.Context, msg services.ReminderMessage) error {
	if strings.TrimSpace(msg.Phone) == "" {
		return errors.New("reminder sms: recipient phone missing")
	}
	return s.publish(ctx, "sms", msg)
}

func (s *PubSubNotificationSink) publish(ctx context.Context, channel string, msg services.ReminderMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}
	attrs := map[string]string{"channel": channel}
	setAttr(attrs, "kind", msg.Kind)
	setAttr(attrs, "userId", msg.UserID)
	setAttr(attrs, "dedupeKey", msg.DedupeKey)
	setAttr(attrs, "itemCount", strconv.Itoa(msg.ItemCount))

	if _, err := s.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx); err != nil {
		return fmt.Errorf("publish %s reminder: %w", channel, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
