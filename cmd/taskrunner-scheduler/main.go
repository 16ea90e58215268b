// Taskrunner Scheduler — отправляет запланированные повторные попытки.
//
// Несколько экземпляров могут работать одновременно: тики выполняет только
// лидер, удерживающий advisory lock в PostgreSQL.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/mq"
	"github.com/shaiso/Taskrunner/internal/repo"
	"github.com/shaiso/Taskrunner/internal/scheduler"
	"github.com/shaiso/Taskrunner/internal/storage"
	"github.com/shaiso/Taskrunner/internal/telemetry"
)

const (
	schedLockKey int64 = 424242

	// leaderRetryInterval — как часто не-лидер пытается взять lock.
	leaderRetryInterval = 5 * time.Second
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting taskrunner-scheduler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	spec := scheduler.ScheduleFromEnv()
	if err := scheduler.ValidateSchedule(spec); err != nil {
		logger.Error("invalid sweep schedule", "schedule", spec, "error", err)
		os.Exit(1)
	}

	// DB pool для leader election (независимо от backend хранилища)
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st, closeStore, err := storage.Open(ctx, storage.BackendFromEnv(), logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// RabbitMQ
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), "taskrunner-scheduler", logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	// Sweep только публикует units и не ждёт ответов
	dispatcher := fabric.NewAMQP(fabric.AMQPConfig{
		Conn:      mqConn,
		Publisher: mq.NewPublisher(mqConn, logger),
		Logger:    logger,
	})

	sched := scheduler.New(scheduler.Config{
		Store:      st,
		Dispatcher: dispatcher,
		Metrics:    telemetry.NewMetrics(prometheus.DefaultRegisterer),
		Logger:     logger,
		BatchSize:  batchFromEnv(),
	})

	var leader atomic.Bool

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if leader.Load() {
			w.Write([]byte("ok leader"))
			return
		}
		w.Write([]byte("ok standby"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Цикл выборов лидера
	tk := time.NewTicker(leaderRetryInterval)
	defer tk.Stop()

	for {
		err := runAsLeader(ctx, pool, &leader, func(ctx context.Context) error {
			logger.Info("acquired scheduler lock, sweeping", "schedule", spec)
			return sched.Run(ctx, spec)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler loop error", "error", err)
		}

		select {
		case <-tk.C:
		case <-ctx.Done():
			logger.Info("taskrunner-scheduler stopped")
			return
		}
	}
}

// runAsLeader пытается взять advisory lock и, если удалось, выполняет fn,
// удерживая lock на выделенном соединении. Без lock возвращает nil.
func runAsLeader(ctx context.Context, pool *pgxpool.Pool, leader *atomic.Bool, fn func(ctx context.Context) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return nil
	}

	leader.Store(true)
	defer func() {
		leader.Store(false)
		_, _ = conn.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
	}()

	// Lock живёт, пока живо соединение: при его потере отдаём лидерство
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		tk := time.NewTicker(leaderRetryInterval)
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				if err := conn.Ping(ctx); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return fn(ctx)
}

// batchFromEnv возвращает RETRY_SWEEP_BATCH (0 — значение по умолчанию).
func batchFromEnv() int {
	n, _ := strconv.Atoi(os.Getenv("RETRY_SWEEP_BATCH"))
	return n
}
