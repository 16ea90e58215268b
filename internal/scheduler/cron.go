package scheduler

import (
	"context"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule — расписание тиков по умолчанию.
const DefaultSweepSchedule = "@every 10s"

// cronParser — парсер cron-выражений (пять полей или дескрипторы вида @every).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule проверяет валидность cron-выражения.
func ValidateSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// ScheduleFromEnv возвращает расписание из RETRY_SWEEP_SCHEDULE.
func ScheduleFromEnv() string {
	if spec := os.Getenv("RETRY_SWEEP_SCHEDULE"); spec != "" {
		return spec
	}
	return DefaultSweepSchedule
}

// Run вызывает Tick по расписанию spec до отмены ctx.
//
// Тик, который не успел завершиться к следующему срабатыванию, не
// перекрывается новым.
func (s *Scheduler) Run(ctx context.Context, spec string) error {
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	_, err := c.AddFunc(spec, func() {
		if err := s.Tick(ctx); err != nil {
			s.logger.Error("retry sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	s.logger.Info("retry sweep started", "schedule", spec)
	c.Start()

	<-ctx.Done()

	// Дожидаемся текущего тика
	<-c.Stop().Done()
	s.logger.Info("retry sweep stopped")
	return nil
}
