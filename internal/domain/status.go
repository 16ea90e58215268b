package domain

// RunStatus — статус выполнения flow run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — flow run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — flow run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — flow run успешно завершён.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — flow run завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — flow run отменён.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsRunning возвращает true для RUNNING.
func (s RunStatus) IsRunning() bool {
	return s == RunStatusRunning
}

// State — состояние одной попытки выполнения task (TaskRun).
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCESS
//	            ↕     ↘ SKIPPED
//	  WAITING_FOR_SUBTASKS  ↘ FAILED (+ RETRYING, если запланирована следующая попытка)
//
// SUCCESS можно сбросить обратно в PENDING только принудительным перезапуском (force).
type State string

const (
	// StatePending — начальное состояние попытки.
	StatePending State = "PENDING"

	// StateRunning — попытка выполняется.
	StateRunning State = "RUNNING"

	// StateWaitingForSubtasks — task породил дочерние units и ждёт их завершения.
	// Достижимо только из RUNNING.
	StateWaitingForSubtasks State = "WAITING_FOR_SUBTASKS"

	// StateSuccess — попытка успешно завершена.
	StateSuccess State = "SUCCESS"

	// StateSkipped — попытка пропущена (trigger или неактивный flow run).
	StateSkipped State = "SKIPPED"

	// StateFailed — попытка завершилась ошибкой.
	StateFailed State = "FAILED"

	// StateRetrying — маркер запланированной следующей попытки.
	// Не является самостоятельным состоянием: хранится как TaskRun.Retrying
	// рядом с FAILED.
	StateRetrying State = "RETRYING"
)

// stateTransitions — допустимые переходы между состояниями.
var stateTransitions = map[State]map[State]bool{
	StatePending: {
		StateRunning: true,
	},
	StateRunning: {
		StateWaitingForSubtasks: true,
		StateSuccess:            true,
		StateSkipped:            true,
		StateFailed:             true,
	},
	StateWaitingForSubtasks: {
		StateRunning: true,
	},
	StateSuccess: {
		// только через force
		StatePending: true,
	},
	StateSkipped: {},
	StateFailed:  {},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to State) bool {
	allowed, ok := stateTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// IsTerminal возвращает true для SUCCESS, SKIPPED и FAILED.
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateSkipped, StateFailed:
		return true
	default:
		return false
	}
}

// IsFinished — синоним IsTerminal для использования в triggers.
func (s State) IsFinished() bool {
	return s.IsTerminal()
}

// String возвращает строковое представление State.
func (s State) String() string {
	return string(s)
}

// ParseState парсит строку в State.
// Неизвестные значения трактуются как PENDING.
func ParseState(s string) State {
	switch State(s) {
	case StatePending, StateRunning, StateWaitingForSubtasks,
		StateSuccess, StateSkipped, StateFailed:
		return State(s)
	default:
		return StatePending
	}
}
