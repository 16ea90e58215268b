package flow

import (
	"errors"
	"fmt"
)

// Ошибки валидации flow.
var (
	// ErrEmptyFlow — flow не содержит tasks.
	ErrEmptyFlow = errors.New("flow has no tasks")

	// ErrEmptyTaskID — task не имеет ID.
	ErrEmptyTaskID = errors.New("task has empty ID")

	// ErrDuplicateTaskID — несколько tasks с одинаковым ID.
	ErrDuplicateTaskID = errors.New("duplicate task ID")

	// ErrMissingDependency — task зависит от несуществующего task.
	ErrMissingDependency = errors.New("task depends on unknown task")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — task зависит от самого себя.
	ErrSelfDependency = errors.New("task depends on itself")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	TaskID  string // ID task, где произошла ошибка
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("task %s: %s", e.TaskID, e.Message)
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(taskID, message string, err error) *ValidationError {
	return &ValidationError{TaskID: taskID, Message: message, Err: err}
}
