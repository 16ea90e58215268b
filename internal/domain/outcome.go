package domain

import "fmt"

// OutcomeKind — сигнал, которым trigger или тело task сообщают результат.
// Отличается от State: движок отображает сигнал в State по таблице.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeSkip    OutcomeKind = "skip"
	OutcomeRetry   OutcomeKind = "retry"
	OutcomeFail    OutcomeKind = "fail"
)

// outcomeStates — отображение сигнала в терминальное состояние.
var outcomeStates = map[OutcomeKind]State{
	OutcomeSuccess: StateSuccess,
	OutcomeSkip:    StateSkipped,
	OutcomeRetry:   StateFailed,
	OutcomeFail:    StateFailed,
}

// State возвращает терминальное состояние для сигнала.
// Неизвестный сигнал отображается в FAILED.
func (k OutcomeKind) State() State {
	if s, ok := outcomeStates[k]; ok {
		return s
	}
	return StateFailed
}

// Outcome — результат оценки trigger'а или вызова тела task.
type Outcome struct {
	// Kind — сигнал.
	Kind OutcomeKind

	// Reason — человекочитаемая причина (для логов и TaskRun.Error).
	Reason string

	// Err — исходная ошибка, если сигнал вызван ошибкой.
	Err error
}

// Success возвращает сигнал успешного завершения.
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Skip возвращает сигнал пропуска с причиной.
func Skip(reason string) Outcome {
	return Outcome{Kind: OutcomeSkip, Reason: reason}
}

// Retry возвращает сигнал "неудача, можно повторить".
func Retry(reason string) Outcome {
	return Outcome{Kind: OutcomeRetry, Reason: reason}
}

// Fail возвращает сигнал неудачи с причиной.
func Fail(reason string) Outcome {
	return Outcome{Kind: OutcomeFail, Reason: reason}
}

// FailWith возвращает сигнал неудачи, вызванный ошибкой.
func FailWith(err error) Outcome {
	return Outcome{Kind: OutcomeFail, Reason: err.Error(), Err: err}
}

// Passed возвращает true для сигнала Success.
func (o Outcome) Passed() bool {
	return o.Kind == OutcomeSuccess
}

// State возвращает терминальное состояние для сигнала.
func (o Outcome) State() State {
	return o.Kind.State()
}

// String возвращает "kind: reason".
func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
}
