package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeUnits Exchange = "taskrunner.units"
	ExchangeDLQ   Exchange = "taskrunner.dlq"

	// ExchangeDefault — default exchange: routing key равен имени очереди.
	ExchangeDefault Exchange = ""
)

// Queues — имена очередей.
const (
	QueueUnitsSubmitted Queue = "units.submitted"
	QueueUnitsExpanded  Queue = "units.expanded"
	QueueDLQUnits       Queue = "dlq.units"
)

// Routing keys.
const (
	RoutingKeySubmitted RoutingKey = "submitted"
	RoutingKeyExpanded  RoutingKey = "expanded"
	RoutingKeyDLQUnits  RoutingKey = "units"
)

// UnitRoutingKey возвращает routing key для unit.
//
// Units, которых ждёт отправитель (дети dynamic expansion), идут в отдельную
// очередь units.expanded: родитель, занявший слот prefetch в units.submitted,
// не блокирует выполнение своих детей.
func UnitRoutingKey(awaited bool) RoutingKey {
	if awaited {
		return RoutingKeyExpanded
	}
	return RoutingKeySubmitted
}

// binding — привязка очереди к обменнику.
type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

var bindings = []binding{
	{QueueUnitsSubmitted, RoutingKeySubmitted, ExchangeUnits},
	{QueueUnitsExpanded, RoutingKeyExpanded, ExchangeUnits},
	{QueueDLQUnits, RoutingKeyDLQUnits, ExchangeDLQ},
}

// ReplyQueueExpiry — через сколько неиспользуемая reply-очередь удаляется брокером.
// Очередь переживает короткие разрывы соединения, но не копится после
// остановки процесса.
const ReplyQueueExpiry = 30 * time.Minute

// SetupTopology объявляет exchanges, очереди и привязки.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		return bindQueues(ch)
	})
}

// DeclareReplyQueue объявляет reply-очередь процесса.
func DeclareReplyQueue(ctx context.Context, conn *Connection, name Queue) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(
			string(name), // name
			false,        // durable
			false,        // delete when unused
			false,        // exclusive (очередь должна пережить reconnect)
			false,        // no-wait
			amqp.Table{"x-expires": ReplyQueueExpiry.Milliseconds()},
		)
		if err != nil {
			return fmt.Errorf("declare reply queue %s: %w", name, err)
		}
		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	for _, name := range []Exchange{ExchangeUnits, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(name), // name
			"direct",     // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// units.submitted и units.expanded — с DLQ (некорректные сообщения уходят в dlq.units)
		{QueueUnitsSubmitted, unitsQueueArgs()},
		{QueueUnitsExpanded, unitsQueueArgs()},

		// dlq.units — сама DLQ очередь
		{QueueDLQUnits, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

func unitsQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQUnits),
	}
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Taskrunner RabbitMQ Topology:

    taskrunner.units (direct)
    ├── units.submitted [routing: submitted]
    │       Consumer: Worker (flows, retries)
    │       DLQ: dlq.units
    └── units.expanded [routing: expanded]
            Consumer: Worker (units awaited by a parent)
            DLQ: dlq.units

    (default exchange)
    └── taskrunner.replies.<process> [routing: queue name]
            Consumer: AMQP fabric of the submitting process

    taskrunner.dlq (direct)
    └── dlq.units [routing: units]
            Manual processing
  `
}
