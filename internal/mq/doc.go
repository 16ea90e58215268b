// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings, reply-очередей
//   - publisher.go  — публикация сообщений (в том числе ответов в reply-очередь)
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - unit.submitted — единица работы отправлена в fabric
//   - unit.resolved  — воркер завершил единицу работы (ответ отправителю)
//
// Exchanges:
//   - taskrunner.units — отправленные units
//   - taskrunner.dlq   — dead letter queue
//
// Ответы публикуются через default exchange напрямую в reply-очередь
// отправителя (свойство ReplyTo), с CorrelationId = ID unit.
package mq
