// Package scheduler реализует планировщик повторных попыток.
//
// Движок при неудаче попытки создаёт следующую с scheduled_start в будущем,
// но сам её не запускает. Scheduler периодически находит такие попытки
// и отправляет их в fabric.
//
// Структура:
//   - scheduler.go — Tick: поиск due попыток, захват, отправка
//   - cron.go      — запуск Tick по cron-расписанию (robfig/cron)
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Store:      st,
//	    Dispatcher: amqpFabric,
//	    Logger:     logger,
//	})
//
//	// Блокируется до отмены ctx
//	sched.Run(ctx, scheduler.ScheduleFromEnv())
//
// Захват:
//
// Перед отправкой scheduled_start сдвигается на claim lease через CAS.
// Два экземпляра не отправят одну попытку дважды, а потерянная отправка
// повторится после истечения lease.
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
package scheduler
