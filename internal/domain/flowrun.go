package domain

import "time"

// FlowRun — экземпляр выполнения flow.
//
// Для движка FlowRun — внешний родительский контекст: по его статусу
// проверяется, жив ли ещё владелец попытки.
//
// FlowRun создаётся когда:
//   - Flow runner запускает flow (вручную или из CLI)
//   - Task породил Flow через dynamic expansion (GeneratedBy = ключ попытки)
type FlowRun struct {
	// ID — идентификатор flow run.
	// Для порождённых flow: "{ключ попытки}/{flow_id}".
	ID string `json:"id"`

	// FlowID — ссылка на определение flow.
	FlowID string `json:"flow_id"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Params — параметры, переданные при запуске.
	Params Params `json:"params,omitempty"`

	// GeneratedBy — ключ попытки, породившей flow run.
	GeneratedBy string `json:"generated_by,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если flow run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// Version — версия записи для compare-and-swap.
	Version int64 `json:"version"`
}

// IsFinished возвращает true, если flow run завершён (в любом статусе).
func (r *FlowRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит flow run в статус RUNNING.
func (r *FlowRun) MarkRunning() {
	now := time.Now().UTC()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит flow run в статус SUCCEEDED.
func (r *FlowRun) MarkSucceeded() {
	now := time.Now().UTC()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит flow run в статус FAILED с ошибкой.
func (r *FlowRun) MarkFailed(err string) {
	now := time.Now().UTC()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит flow run в статус CANCELLED.
func (r *FlowRun) MarkCancelled() {
	now := time.Now().UTC()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если flow run ещё не завершён.
func (r *FlowRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}
