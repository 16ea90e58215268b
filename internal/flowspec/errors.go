package flowspec

import "errors"

// Ошибки валидации спецификации.
var (
	// ErrEmptyTasks — спецификация не содержит tasks.
	ErrEmptyTasks = errors.New("flow spec has no tasks")

	// ErrEmptyFlowID — у flow нет ID.
	ErrEmptyFlowID = errors.New("flow spec has empty ID")

	// ErrEmptyTaskID — task не имеет ID.
	ErrEmptyTaskID = errors.New("task has empty ID")

	// ErrDuplicateTaskID — несколько tasks с одинаковым ID.
	ErrDuplicateTaskID = errors.New("duplicate task ID")

	// ErrUnknownTaskType — базовый тип task не найден.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrUnknownTrigger — неизвестное имя trigger.
	ErrUnknownTrigger = errors.New("unknown trigger")

	// ErrMissingDependency — task зависит от несуществующего task.
	ErrMissingDependency = errors.New("task depends on unknown task")

	// ErrSelfDependency — task зависит от самого себя.
	ErrSelfDependency = errors.New("task depends on itself")

	// ErrInvalidRetry — отрицательные max_retries или retry_delay_sec.
	ErrInvalidRetry = errors.New("invalid retry policy")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")

	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	TaskID  string // ID task, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.TaskID != "" {
		return "task " + e.TaskID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(taskID, field, message string, err error) *ValidationError {
	return &ValidationError{
		TaskID:  taskID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
