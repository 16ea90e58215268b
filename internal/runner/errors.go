package runner

import "errors"

// Причины неудачи или пропуска попытки.
// Сохраняются в TaskRun.Error и различаются через errors.Is.
var (
	// ErrNotRunnable — попытка не в PENDING и запуск не принудительный.
	ErrNotRunnable = errors.New("task run is not runnable")

	// ErrOwnerInactive — flow run, которому принадлежит попытка, больше не выполняется.
	ErrOwnerInactive = errors.New("owner no longer running")

	// ErrTriggerRejected — trigger не пропустил task.
	ErrTriggerRejected = errors.New("trigger rejected")

	// ErrUnsupportedExpansionItem — тело task породило значение, которое не является
	// ни task, ни flow, ни коллекцией из них.
	ErrUnsupportedExpansionItem = errors.New("unsupported expansion item")

	// ErrCancelRequested — внешний наблюдатель запросил отмену попытки.
	ErrCancelRequested = errors.New("cancel requested")

	// ErrUnexpected — любая другая ошибка тела, trigger'а, хранилища или fabric.
	ErrUnexpected = errors.New("unexpected error")
)
