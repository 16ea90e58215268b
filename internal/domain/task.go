package domain

import (
	"context"
	"iter"
	"maps"
	"time"
)

// Params — параметры вызова task.
type Params map[string]any

// Clone возвращает поверхностную копию параметров (nil для nil).
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Trigger — предикат над состояниями непосредственных предшественников.
// Сам решает, каким сигналом завершиться: Success пропускает task к выполнению,
// любой другой сигнал сразу завершает попытку.
type Trigger func(preceding map[string]State) Outcome

// Body — тело task. Получает объединённые параметры.
type Body func(ctx context.Context, params Params) (Result, error)

// RetryDelay — задержка перед следующей попыткой: фиксированная или функция
// от (номер попытки, max_retries).
type RetryDelay struct {
	fixed time.Duration
	fn    func(attempt, maxRetries int) time.Duration
}

// FixedDelay возвращает фиксированную задержку.
func FixedDelay(d time.Duration) RetryDelay {
	return RetryDelay{fixed: d}
}

// DelayFunc возвращает задержку, вычисляемую функцией.
// Результат функции используется без изменений.
func DelayFunc(fn func(attempt, maxRetries int) time.Duration) RetryDelay {
	return RetryDelay{fn: fn}
}

// For вычисляет задержку для попытки attempt.
func (d RetryDelay) For(attempt, maxRetries int) time.Duration {
	if d.fn != nil {
		return d.fn(attempt, maxRetries)
	}
	return d.fixed
}

// Task — неизменяемое определение task. Принадлежит внешнему коду.
type Task struct {
	// ID — уникальный идентификатор task внутри flow.
	ID string

	// Name — отображаемое имя.
	Name string

	// MaxRetries — сколько повторных попыток разрешено после первой.
	MaxRetries int

	// RetryDelay — задержка перед повторной попыткой.
	RetryDelay RetryDelay

	// Trigger — условие запуска. nil означает AllSuccessful.
	Trigger Trigger

	// Body — тело task.
	Body Body
}

// Evaluate вызывает trigger (или AllSuccessful по умолчанию).
func (t *Task) Evaluate(preceding map[string]State) Outcome {
	if t.Trigger == nil {
		return AllSuccessful(preceding)
	}
	return t.Trigger(preceding)
}

// CanRetry проверяет, остался ли бюджет retry после попытки runNumber.
// Попытка runNumber использовала runNumber-1 повторов.
func (t *Task) CanRetry(runNumber int) bool {
	return runNumber-1 < t.MaxRetries
}

// String возвращает "name (id)".
func (t *Task) String() string {
	if t.Name == "" || t.Name == t.ID {
		return t.ID
	}
	return t.Name + " (" + t.ID + ")"
}

// ResultKind — вид результата тела task.
type ResultKind int

const (
	// ResultValue — обычное значение.
	ResultValue ResultKind = iota

	// ResultWork — ленивая последовательность work items (dynamic expansion).
	ResultWork

	// ResultSignal — явный сигнал исхода (skip/retry/fail/success).
	ResultSignal
)

// Result — результат тела task.
type Result struct {
	kind    ResultKind
	value   any
	work    iter.Seq[WorkItem]
	outcome Outcome
}

// Done возвращает обычный результат.
func Done(v any) Result {
	return Result{kind: ResultValue, value: v}
}

// Expand возвращает ленивую последовательность work items.
func Expand(seq iter.Seq[WorkItem]) Result {
	return Result{kind: ResultWork, work: seq}
}

// ExpandItems — удобная обёртка над Expand для готового списка значений.
// Каждое значение превращается в WorkItem через Item в момент производства.
func ExpandItems(values ...any) Result {
	return Expand(func(yield func(WorkItem) bool) {
		for _, v := range values {
			if !yield(Item(v)) {
				return
			}
		}
	})
}

// Signal возвращает явный сигнал исхода.
func Signal(o Outcome) Result {
	return Result{kind: ResultSignal, outcome: o}
}

// Kind возвращает вид результата.
func (r Result) Kind() ResultKind {
	return r.kind
}

// Value возвращает обычное значение.
func (r Result) Value() any {
	return r.value
}

// Work возвращает последовательность work items (nil, если это не ResultWork).
func (r Result) Work() iter.Seq[WorkItem] {
	return r.work
}

// Outcome возвращает явный сигнал.
func (r Result) Outcome() Outcome {
	return r.outcome
}
