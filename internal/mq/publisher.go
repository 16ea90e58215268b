package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeUnitSubmitted MessageType = "unit.submitted"
	MessageTypeUnitResolved  MessageType = "unit.resolved"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// UnitResolvedPayload — ответ воркера о завершении unit.
type UnitResolvedPayload struct {
	UnitID uuid.UUID `json:"unit_id"`

	// Error — инфраструктурная ошибка выполнения (пусто при успехе).
	// Исход попытки task в ответ не входит: он хранится в Store.
	Error string `json:"error,omitempty"`
}

// PublishOptions — свойства AMQP сообщения для request/reply.
type PublishOptions struct {
	// ReplyTo — очередь, в которую получатель должен ответить.
	ReplyTo string

	// CorrelationID — идентификатор, связывающий ответ с запросом.
	CorrelationID string

	// Transient — не сохранять сообщение на диск (для ответов).
	Transient bool
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message, opts PublishOptions) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	mode := amqp.Persistent // сообщение переживёт рестарт RabbitMQ
	if opts.Transient {
		mode = amqp.Transient
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:   "application/json",
				DeliveryMode:  mode,
				MessageId:     msg.ID,
				Timestamp:     msg.Timestamp,
				Type:          string(msg.Type),
				ReplyTo:       opts.ReplyTo,
				CorrelationId: opts.CorrelationID,
				Body:          body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
			"correlation_id", opts.CorrelationID,
		)

		return nil
	})
}

// PublishUnitSubmitted публикует unit для воркеров.
// replyTo пустой — отправитель не ждёт ответа, unit идёт в units.submitted;
// иначе в units.expanded (см. UnitRoutingKey).
// Потребитель: Worker.
func (p *Publisher) PublishUnitSubmitted(ctx context.Context, unitID uuid.UUID, unit any, replyTo string) error {
	msg := &Message{
		ID:        unitID.String(),
		Type:      MessageTypeUnitSubmitted,
		Payload:   unit,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeUnits, UnitRoutingKey(replyTo != ""), msg, PublishOptions{
		ReplyTo:       replyTo,
		CorrelationID: unitID.String(),
	})
}

// PublishUnitResolved отвечает отправителю unit в его reply-очередь.
// Потребитель: AMQP fabric отправителя.
func (p *Publisher) PublishUnitResolved(ctx context.Context, replyTo string, payload UnitResolvedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeUnitResolved,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeDefault, RoutingKey(replyTo), msg, PublishOptions{
		CorrelationID: payload.UnitID.String(),
		Transient:     true,
	})
}
