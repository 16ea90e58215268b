package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/Taskrunner/internal/mq"
)

const defaultPrefetch = 8

// Worker потребляет units из очередей units.submitted и units.expanded
// и выполняет их.
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одних очередей. У каждой очереди свой prefetch: родители,
// ждущие детей в Gather, занимают слоты только units.submitted. Вложенная
// expansion (ребёнок сам ждёт своих детей) делит слоты units.expanded, поэтому
// при глубокой вложенности prefetch должен превышать число одновременно
// ждущих детей.
type Worker struct {
	// Выполнение units
	executor unitExecutor

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Consumers: units.submitted и units.expanded
	consumers []*mq.Consumer
	prefetch  int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Dispatcher выполняет полученные units (обязательно).
	Dispatcher *Dispatcher

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Prefetch — сколько units каждой очереди выполнять одновременно (default: 8).
	Prefetch int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		publisher: cfg.Publisher,
		conn:      cfg.Conn,
		prefetch:  prefetch,
		logger:    logger,
	}
	if cfg.Dispatcher != nil {
		w.executor = cfg.Dispatcher
	}
	return w
}

// Start запускает consumers очередей units.submitted и units.expanded.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker", "prefetch", w.prefetch)

	// Unit, ожидающий дочерние units, не должен блокировать очередь
	for _, queue := range UnitQueues() {
		consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:      string(queue),
			Handler:    w.handleUnitSubmitted,
			Prefetch:   w.prefetch,
			Concurrent: true,
		})
		w.consumers = append(w.consumers, consumer)

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("unit consumer error", "queue", queue, "error", err)
			}
		}()
	}

	w.logger.Info("worker started")
	return nil
}

// UnitQueues возвращает очереди, из которых воркер получает units.
func UnitQueues() []mq.Queue {
	return []mq.Queue{mq.QueueUnitsSubmitted, mq.QueueUnitsExpanded}
}

// Stop останавливает Worker и дожидается выполняющихся units.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	for _, consumer := range w.consumers {
		consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
