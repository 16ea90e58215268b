package fabric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Taskrunner/internal/mq"
)

// AMQP — fabric поверх RabbitMQ.
//
// Submit публикует unit в units.expanded с ReplyTo = reply-очередь процесса;
// Dispatch — в units.submitted без ответа. Воркер, выполнив unit, публикует
// unit.resolved в reply-очередь; Gather ждёт ответы для всех переданных handles.
//
// Gather не ограничен по времени: если все слоты prefetch units.expanded заняты
// детьми, которые сами ждут своих детей, ожидание не завершится. Родители из
// units.submitted детей не блокируют.
type AMQP struct {
	conn       *mq.Connection
	publisher  *mq.Publisher
	logger     *slog.Logger
	replyQueue mq.Queue
	consumer   *mq.Consumer

	mu      sync.Mutex
	pending map[uuid.UUID]chan mq.UnitResolvedPayload

	wg sync.WaitGroup
}

// AMQPConfig — конфигурация AMQP fabric.
type AMQPConfig struct {
	Conn      *mq.Connection
	Publisher *mq.Publisher
	Logger    *slog.Logger

	// ReplyQueue — имя reply-очереди процесса.
	// По умолчанию taskrunner.replies.<hostname>.<pid>.
	ReplyQueue string
}

var (
	_ Fabric     = (*AMQP)(nil)
	_ Dispatcher = (*AMQP)(nil)
)

// NewAMQP создаёт AMQP fabric. Перед использованием нужно вызвать Start.
func NewAMQP(cfg AMQPConfig) *AMQP {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	replyQueue := cfg.ReplyQueue
	if replyQueue == "" {
		replyQueue = DefaultReplyQueue()
	}

	f := &AMQP{
		conn:       cfg.Conn,
		publisher:  cfg.Publisher,
		logger:     logger,
		replyQueue: mq.Queue(replyQueue),
		pending:    make(map[uuid.UUID]chan mq.UnitResolvedPayload),
	}

	f.consumer = mq.NewConsumer(cfg.Conn, logger, mq.ConsumerConfig{
		Queue:    replyQueue,
		Handler:  f.handleResolved,
		Prefetch: 64,
	})

	return f
}

// DefaultReplyQueue возвращает имя reply-очереди для текущего процесса.
func DefaultReplyQueue() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("taskrunner.replies.%s.%d", host, os.Getpid())
}

// Start объявляет reply-очередь и запускает приём ответов.
func (f *AMQP) Start(ctx context.Context) error {
	if err := mq.DeclareReplyQueue(ctx, f.conn, f.replyQueue); err != nil {
		return err
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Error("reply consumer stopped", "queue", f.replyQueue, "error", err)
		}
	}()

	f.logger.Info("amqp fabric started", "reply_queue", f.replyQueue)
	return nil
}

// Stop останавливает приём ответов.
func (f *AMQP) Stop() {
	f.consumer.Stop()
	f.wg.Wait()
	f.logger.Info("amqp fabric stopped")
}

// Submit публикует unit и регистрирует ожидание ответа.
func (f *AMQP) Submit(ctx context.Context, unit Unit) (Handle, error) {
	if err := unit.Validate(); err != nil {
		return Handle{}, err
	}

	ch := make(chan mq.UnitResolvedPayload, 1)
	f.mu.Lock()
	f.pending[unit.ID] = ch
	f.mu.Unlock()

	if err := f.publisher.PublishUnitSubmitted(ctx, unit.ID, unit, string(f.replyQueue)); err != nil {
		f.forget(unit.ID)
		return Handle{}, fmt.Errorf("submit unit %s: %w", unit.Describe(), err)
	}

	f.logger.Debug("unit submitted", "unit_id", unit.ID, "kind", unit.Kind, "unit", unit.Describe())
	return Handle{ID: unit.ID, Kind: unit.Kind}, nil
}

// Dispatch публикует unit без ожидания ответа.
func (f *AMQP) Dispatch(ctx context.Context, unit Unit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	if err := f.publisher.PublishUnitSubmitted(ctx, unit.ID, unit, ""); err != nil {
		return fmt.Errorf("dispatch unit %s: %w", unit.Describe(), err)
	}
	return nil
}

// Gather ждёт ответы для всех handles.
// Ответ приходит, только когда воркер получил unit из units.expanded.
func (f *AMQP) Gather(ctx context.Context, handles []Handle) error {
	var errs []error

	for _, h := range handles {
		f.mu.Lock()
		ch, ok := f.pending[h.ID]
		f.mu.Unlock()

		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownHandle, h.ID))
			continue
		}

		select {
		case res := <-ch:
			if res.Error != "" {
				errs = append(errs, fmt.Errorf("%w: unit %s: %s", ErrUnitFailed, h.ID, res.Error))
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		f.forget(h.ID)
	}

	return errors.Join(errs...)
}

func (f *AMQP) forget(id uuid.UUID) {
	f.mu.Lock()
	delete(f.pending, id)
	f.mu.Unlock()
}

// handleResolved принимает ответ воркера.
func (f *AMQP) handleResolved(_ context.Context, d *mq.Delivery) error {
	if d.Message.Type != mq.MessageTypeUnitResolved {
		return fmt.Errorf("%w: unexpected message type %s", mq.ErrReject, d.Message.Type)
	}

	payload, err := mq.ParsePayload[mq.UnitResolvedPayload](&d.Message)
	if err != nil {
		return fmt.Errorf("%w: %v", mq.ErrReject, err)
	}

	f.mu.Lock()
	ch, ok := f.pending[payload.UnitID]
	f.mu.Unlock()

	if !ok {
		// Ответ на unit, который уже собран или отправлен до рестарта процесса
		f.logger.Debug("resolution for unknown unit", "unit_id", payload.UnitID)
		return nil
	}

	select {
	case ch <- payload:
	default:
		// Повторная доставка того же ответа
	}
	return nil
}
