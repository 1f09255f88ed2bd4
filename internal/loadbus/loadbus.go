// Package loadbus carries chat-server load deltas from ChatServer
// processes to the Status process over AMQP, resolving the Open Question
// in spec section 9: a heartbeat-only load refresh is too coarse to make
// "a server freed by a closing session is immediately eligible again"
// true within the single-second window the original source's health
// report interval can't guarantee. ChatServer publishes a -1 delta on every
// session close; Status's TokenService registry applies it to the
// corresponding descriptor. Grounded on the teacher's
// internal/adapter/pubsub (EventDispatcher/PublisherProvider) and
// internal/handler/amqp (router/bind) idioms, collapsed to this bus's
// single topic and single event shape.
package loadbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Topic is the single routing key every load-delta event is published
// and consumed on.
const Topic = "chatserver.load.v1"

// LoadDelta is the wire shape of one load-report event.
type LoadDelta struct {
	ServerID string `json:"server_id"`
	Delta    int    `json:"delta"`
}

func pubSubConfig(amqpURI string) amqp.Config {
	return amqp.NewDurablePubSubConfig(amqpURI, func(topic string) string {
		return "loadbus." + topic
	})
}

// Publisher is the ChatServer-side handle used to report a session close.
type Publisher struct {
	pub message.Publisher
}

// NewPublisher dials amqpURI and prepares a durable topic-exchange
// publisher.
func NewPublisher(amqpURI string, logger *slog.Logger) (*Publisher, error) {
	pub, err := amqp.NewPublisher(pubSubConfig(amqpURI), watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("loadbus: new publisher: %w", err)
	}
	return &Publisher{pub: pub}, nil
}

// PublishDecrement reports that serverID just lost one active session.
func (p *Publisher) PublishDecrement(ctx context.Context, serverID string) error {
	return p.publish(ctx, LoadDelta{ServerID: serverID, Delta: -1})
}

// PublishIncrement reports that serverID just gained one active session.
// The Status registry adds it to the descriptor's CurrentLoad as is.
func (p *Publisher) PublishIncrement(ctx context.Context, serverID string) error {
	return p.publish(ctx, LoadDelta{ServerID: serverID, Delta: 1})
}

func (p *Publisher) publish(ctx context.Context, delta LoadDelta) error {
	payload, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("loadbus: marshal: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	return p.pub.Publish(Topic, msg)
}

// Close releases the publisher's connection.
func (p *Publisher) Close() error {
	return p.pub.Close()
}

// Handler is invoked once per received LoadDelta. Returning an error
// triggers watermill's nack/retry policy.
type Handler func(ctx context.Context, delta LoadDelta) error

// Subscriber is the Status-side consumer, running its own watermill
// router against a per-process queue.
type Subscriber struct {
	router *message.Router
	sub    message.Subscriber
	queue  string
}

// NewSubscriber dials amqpURI and binds a durable queue named queueName to
// Topic.
func NewSubscriber(amqpURI, queueName string, logger *slog.Logger) (*Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	sub, err := amqp.NewSubscriber(pubSubConfig(amqpURI), wmLogger)
	if err != nil {
		return nil, fmt.Errorf("loadbus: new subscriber: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("loadbus: new router: %w", err)
	}

	return &Subscriber{router: router, sub: sub, queue: queueName}, nil
}

// Run registers handler against Topic and blocks until ctx is cancelled or
// the router stops.
func (s *Subscriber) Run(ctx context.Context, handler Handler) error {
	s.router.AddNoPublisherHandler(
		s.queue+"_load_delta",
		Topic,
		s.sub,
		func(msg *message.Message) error {
			var delta LoadDelta
			if err := json.Unmarshal(msg.Payload, &delta); err != nil {
				// Poison-pill protection: a malformed event is acked and
				// dropped rather than retried forever.
				return nil
			}
			return handler(msg.Context(), delta)
		},
	)
	return s.router.Run(ctx)
}

// Close stops the router and releases the subscriber's connection.
func (s *Subscriber) Close() error {
	return s.router.Close()
}
