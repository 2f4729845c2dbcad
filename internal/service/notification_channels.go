package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/models"
)

const (
	notificationBufferSize = 16
	recentEventWindow      = 512
)

// NotificationChannel is an external delivery target for notification events.
type NotificationChannel interface {
	Name() string
	Deliver(ctx context.Context, notification dto.NotificationResponse) error
}

// Mailer sends plain-text email.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// fanoutChannel is a channel other API nodes also listen on.
type fanoutChannel interface {
	NotificationChannel
	consume(ctx context.Context, broker *notificationBroker, logger zerolog.Logger)
}

type notificationEnvelope struct {
	Source       string                   `json:"source"`
	Notification dto.NotificationResponse `json:"notification"`
	SentAt       time.Time                `json:"sent_at"`
}

func encodeEnvelope(nodeID string, notification dto.NotificationResponse) ([]byte, error) {
	return json.Marshal(notificationEnvelope{
		Source:       nodeID,
		Notification: notification,
		SentAt:       time.Now().UTC(),
	})
}

// relayEnvelope hands an event published by another node to local subscribers.
func relayEnvelope(payload []byte, nodeID string, broker *notificationBroker, logger zerolog.Logger) {
	var envelope notificationEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		logger.Warn().Err(err).Msg("invalid notification event payload")
		return
	}

	if envelope.Source == nodeID {
		return
	}

	broker.broadcast(envelope.Notification)
}

// brokerChannel feeds SSE subscribers connected to this node.
type brokerChannel struct {
	broker *notificationBroker
}

func (c *brokerChannel) Name() string { return "sse" }

func (c *brokerChannel) Deliver(_ context.Context, notification dto.NotificationResponse) error {
	c.broker.broadcast(notification)
	return nil
}

type redisChannel struct {
	client *redis.Client
	topic  string
	nodeID string
}

func (c *redisChannel) Name() string { return "redis" }

func (c *redisChannel) Deliver(ctx context.Context, notification dto.NotificationResponse) error {
	payload, err := encodeEnvelope(c.nodeID, notification)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.topic, payload).Err()
}

func (c *redisChannel) consume(ctx context.Context, broker *notificationBroker, logger zerolog.Logger) {
	pubsub := c.client.Subscribe(ctx, c.topic)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("notification redis subscription closed")
			return
		}
		relayEnvelope([]byte(msg.Payload), c.nodeID, broker, logger)
	}
}

type natsChannel struct {
	conn    *nats.Conn
	subject string
	nodeID  string
}

func (c *natsChannel) Name() string { return "nats" }

func (c *natsChannel) Deliver(_ context.Context, notification dto.NotificationResponse) error {
	payload, err := encodeEnvelope(c.nodeID, notification)
	if err != nil {
		return err
	}
	return c.conn.Publish(c.subject, payload)
}

func (c *natsChannel) consume(ctx context.Context, broker *notificationBroker, logger zerolog.Logger) {
	sub, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		relayEnvelope(msg.Data, c.nodeID, broker, logger)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to subscribe to nats notifications subject")
		return
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		logger.Warn().Err(err).Msg("failed to drain notification nats subscription")
	}
}

// emailChannel mails the recipient. Recipients without an address are skipped.
type emailChannel struct {
	mailer    Mailer
	directory Directory
}

func (c *emailChannel) Name() string { return "email" }

func (c *emailChannel) Deliver(ctx context.Context, notification dto.NotificationResponse) error {
	user, err := c.directory.ResolveUser(ctx, notification.RecipientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if user.Email == "" {
		return nil
	}

	subject, body := renderEmail(user, notification)
	return c.mailer.Send(ctx, []string{user.Email}, subject, body)
}

func renderEmail(user models.User, notification dto.NotificationResponse) (string, string) {
	p := notification.Payload
	greeting := fmt.Sprintf("Hi %s,\r\n\r\n", user.DisplayName)

	switch notification.Kind {
	case models.NotificationSubmissionApproved:
		body := fmt.Sprintf("Your %v submission \"%v\" was approved", p["type"], p["title"])
		if points, ok := p["points"]; ok {
			body += fmt.Sprintf(" and earned %v points", points)
		}
		return "Submission approved", greeting + body + ".\r\n"
	case models.NotificationSubmissionRejected:
		body := fmt.Sprintf("Your %v submission \"%v\" was rejected.", p["type"], p["title"])
		if comment, ok := p["comment"]; ok {
			body += fmt.Sprintf("\r\n\r\nReviewer comment: %v", comment)
		}
		return "Submission rejected", greeting + body + "\r\n"
	case models.NotificationRankChanged:
		body := fmt.Sprintf("Your %v rank is now #%v (was #%v).", p["scope"], p["current_rank"], p["previous_rank"])
		return "Leaderboard update", greeting + body + "\r\n"
	default:
		return "Notification", greeting + "You have a new notification.\r\n"
	}
}

type notificationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.NotificationResponse]struct{}

	seenMu sync.Mutex
	seen   map[string]struct{}
	order  []string
}

func newNotificationBroker() *notificationBroker {
	return &notificationBroker{
		subscribers: make(map[string]map[chan dto.NotificationResponse]struct{}),
		seen:        make(map[string]struct{}),
	}
}

func (b *notificationBroker) subscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[userID]; !exists {
		b.subscribers[userID] = make(map[chan dto.NotificationResponse]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *notificationBroker) unsubscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		if _, present := subscribers[ch]; !present {
			return
		}
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

// broadcast delivers each event id at most once per node; relayed retries and multi-channel fan-in repeat ids.
func (b *notificationBroker) broadcast(notification dto.NotificationResponse) {
	if !b.firstSighting(notification.ID) {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[notification.RecipientID] {
		select {
		case ch <- notification:
		default:
		}
	}
}

func (b *notificationBroker) firstSighting(id string) bool {
	if id == "" {
		return true
	}

	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	if _, ok := b.seen[id]; ok {
		return false
	}
	b.seen[id] = struct{}{}
	b.order = append(b.order, id)
	if len(b.order) > recentEventWindow {
		delete(b.seen, b.order[0])
		b.order = b.order[1:]
	}
	return true
}
