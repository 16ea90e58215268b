// Taskrunner Worker — выполняет units из очереди.
//
// Worker:
//   - Получает units (попытки task и flows) из RabbitMQ
//   - Выполняет попытки движком, flows — flow runner'ом
//   - Отправляет units, порождённые dynamic expansion, обратно в очередь
//   - Публикует unit.resolved, если отправитель ждёт ответ
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/flow"
	"github.com/shaiso/Taskrunner/internal/mq"
	"github.com/shaiso/Taskrunner/internal/runner"
	"github.com/shaiso/Taskrunner/internal/storage"
	"github.com/shaiso/Taskrunner/internal/telemetry"
	"github.com/shaiso/Taskrunner/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting taskrunner-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Хранилище попыток
	st, closeStore, err := storage.Open(ctx, storage.BackendFromEnv(), logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// RabbitMQ
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), "taskrunner-worker", logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	publisher := mq.NewPublisher(mqConn, logger)

	// Fabric для units, порождённых dynamic expansion
	amqpFabric := fabric.NewAMQP(fabric.AMQPConfig{
		Conn:      mqConn,
		Publisher: publisher,
		Logger:    logger,
	})
	if err := amqpFabric.Start(ctx); err != nil {
		logger.Error("failed to start fabric", "error", err)
		os.Exit(1)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	engine := runner.New(runner.Config{
		Store:   st,
		Fabric:  amqpFabric,
		Metrics: metrics,
		Logger:  logger,
	})

	flows := flow.New(flow.Config{
		Engine:      engine,
		Store:       st,
		Concurrency: intFromEnv("FLOW_CONCURRENCY"),
		Logger:      logger,
	})

	// Реестр: встроенные tasks и декларативные flows из FLOW_SPECS_DIR
	registry := worker.NewRegistry()
	if dir := os.Getenv("FLOW_SPECS_DIR"); dir != "" {
		n, err := registry.LoadFlowSpecs(dir)
		if err != nil {
			logger.Error("failed to load flow specs", "dir", dir, "error", err)
			os.Exit(1)
		}
		logger.Info("flow specs loaded", "dir", dir, "flows", n)
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		Registry: registry,
		Engine:   engine,
		Flows:    flows,
		Store:    st,
		Metrics:  metrics,
		Logger:   logger,
	})

	w := worker.New(worker.Config{
		Dispatcher: dispatcher,
		Publisher:  publisher,
		Conn:       mqConn,
		Prefetch:   intFromEnv("WORKER_PREFETCH"),
		Logger:     logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte("rabbitmq disconnected"))
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Сначала перестаём брать units, затем перестаём ждать ответы
	w.Stop()
	amqpFabric.Stop()
	logger.Info("taskrunner-worker stopped")
}

// intFromEnv возвращает целое из переменной окружения (0 — не задано).
func intFromEnv(key string) int {
	n, _ := strconv.Atoi(os.Getenv(key))
	return n
}
