// Taskrunner CLI — инструмент командной строки для просмотра и управления
// flow runs и попытками tasks.
//
// Использование:
//
//	taskrunner [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	flow  Управление flow runs
//	run   Управление попытками tasks
//
// Подключения берутся из окружения: DB_URL и RABBITMQ_URL.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Taskrunner/internal/cli"
	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/mq"
	"github.com/shaiso/Taskrunner/internal/repo"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:           "taskrunner",
		Short:         "Taskrunner CLI — inspect and control task runs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	// Соединения открываются лениво: только для команды, которая выполняется
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	clientFn := func() (*cli.Client, error) {
		// stdout занят данными, логи соединений — только предупреждения в stderr
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

		pool, err := repo.NewPool(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		closers = append(closers, pool.Close)

		// Без RabbitMQ доступны команды просмотра и отмены
		var dispatcher fabric.Dispatcher
		conn, err := mq.NewConnection(mq.URLFromEnv(), "taskrunner-cli", logger)
		if err == nil {
			closers = append(closers, func() { _ = conn.Close() })
			dispatcher = fabric.NewAMQP(fabric.AMQPConfig{
				Conn:      conn,
				Publisher: mq.NewPublisher(conn, logger),
				Logger:    logger,
			})
		}

		return cli.NewClient(repo.NewStore(pool), dispatcher), nil
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewFlowCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
