package publisher

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"

	"tiktokads/pkg/config"
	"tiktokads/pkg/logger"
	"tiktokads/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Actions carried by AdMessage
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// AdMessage is the body of every published message
type AdMessage struct {
	Action    string          `json:"action"`
	Ad        models.AdRecord `json:"ad"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewAdMessage builds the message for a stored record
func NewAdMessage(rec models.AdRecord, isNew bool, now time.Time) AdMessage {
	action := ActionUpdate
	if isNew {
		action = ActionCreate
	}
	return AdMessage{Action: action, Ad: rec, Timestamp: now.UTC()}
}

// channel is the part of *amqp.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQ publishes created and updated ads. It is a scrape sink.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    channel
	exchange   string
	routingKey string
	logger     logger.Logger
	now        func() time.Time
}

// NewRabbitMQ connects, declares a durable direct exchange and queue, and
// binds them with the routing key
func NewRabbitMQ(cfg config.RabbitMQConfig, log logger.Logger) (*RabbitMQ, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	fail := func(step string, err error) (*RabbitMQ, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	if cfg.Queue != "" {
		q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
		if err != nil {
			return fail("declare queue", err)
		}
		if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
			return fail("bind queue", err)
		}
	}

	log = log.WithField("component", "rabbitmq")
	log.InfoWithFields("Connected to RabbitMQ", map[string]interface{}{
		"exchange":    cfg.Exchange,
		"queue":       cfg.Queue,
		"routing_key": cfg.RoutingKey,
	})

	pub := newRabbitMQ(ch, cfg.Exchange, cfg.RoutingKey, log)
	pub.conn = conn
	return pub, nil
}

func newRabbitMQ(ch channel, exchange, routingKey string, log logger.Logger) *RabbitMQ {
	return &RabbitMQ{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     log,
		now:        time.Now,
	}
}

// Name identifies the sink in logs
func (r *RabbitMQ) Name() string {
	return "rabbitmq"
}

// Write publishes rec as a persistent JSON message
func (r *RabbitMQ) Write(ctx context.Context, rec models.AdRecord, isNew bool) error {
	msg := NewAdMessage(rec, isNew, r.now())
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    rec.AdID,
			Body:         body,
			Timestamp:    msg.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	r.logger.DebugWithFields("Published ad", map[string]interface{}{
		"ad_id":  rec.AdID,
		"action": msg.Action,
	})
	return nil
}

// Close closes the channel and the connection
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
