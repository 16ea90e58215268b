package domain

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Ключи параметров, которыми владеет движок.
// Значения, переданные вызывающей стороной под этими ключами, перезаписываются.
const (
	ParamTaskID    = "task_id"
	ParamTaskName  = "task_name"
	ParamRunNumber = "run_number"
)

// AnnotationCancelRequested — аннотация, которую внешний наблюдатель (CLI, flow runner)
// выставляет на TaskRun, чтобы попросить прекратить попытку.
const AnnotationCancelRequested = "cancel-requested"

// RunID — идентичность одной попытки: (flow_run_id, task_id, run_number).
//
// Строковая форма "{flow_run_id}/{task_id}#{run_number}" используется как ключ
// в хранилище и как основа для идентичностей дочерних units.
type RunID struct {
	FlowRunID string `json:"flow_run_id"`
	TaskID    string `json:"task_id"`
	RunNumber int    `json:"run_number"`
}

// String возвращает ключ попытки.
func (id RunID) String() string {
	return fmt.Sprintf("%s/%s#%d", id.FlowRunID, id.TaskID, id.RunNumber)
}

// Next возвращает идентичность следующей попытки того же task.
func (id RunID) Next() RunID {
	return RunID{FlowRunID: id.FlowRunID, TaskID: id.TaskID, RunNumber: id.RunNumber + 1}
}

// ParseRunID разбирает строку вида "{flow_run_id}/{task_id}#{run_number}".
//
// flow_run_id сам может содержать '/' (дочерние попытки), поэтому task_id
// берётся после последнего '/'.
func ParseRunID(s string) (RunID, error) {
	hash := strings.LastIndexByte(s, '#')
	if hash < 0 {
		return RunID{}, fmt.Errorf("%w: missing run number in %q", ErrInvalidRunID, s)
	}
	n, err := strconv.Atoi(s[hash+1:])
	if err != nil || n < 1 {
		return RunID{}, fmt.Errorf("%w: bad run number in %q", ErrInvalidRunID, s)
	}
	slash := strings.LastIndexByte(s[:hash], '/')
	if slash <= 0 || slash == hash-1 {
		return RunID{}, fmt.Errorf("%w: missing flow run or task in %q", ErrInvalidRunID, s)
	}
	return RunID{FlowRunID: s[:slash], TaskID: s[slash+1 : hash], RunNumber: n}, nil
}

// TaskRun — одна попытка выполнения Task внутри конкретного flow run.
//
// TaskRun создаётся:
//   - Flow runner'ом для каждого task графа (RunNumber = 1)
//   - Движком при неудаче попытки, если остался бюджет retry (RunNumber + 1)
//   - Движком при dynamic expansion для каждого порождённого task (RunNumber = 1)
//
// Во время выполнения попытки TaskRun принадлежит движку; долговременная копия
// принадлежит хранилищу.
type TaskRun struct {
	// ID — идентичность попытки.
	ID RunID `json:"id"`

	// TaskName — имя task (копия Task.Name для удобства).
	TaskName string `json:"task_name"`

	// State — текущее состояние попытки.
	State State `json:"state"`

	// Retrying — маркер RETRYING: для этой неудачной попытки создана следующая.
	Retrying bool `json:"retrying,omitempty"`

	// Params — параметры, переданные вызывающей стороной.
	Params Params `json:"params,omitempty"`

	// CreatedAt — время создания попытки.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время начала последнего запуска попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — выставлено тогда и только тогда, когда State терминальный.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// ScheduledStart — не раньше какого момента запускать попытку.
	// Выставляется только для повторных попыток.
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`

	// ClaimedUntil — до какого момента попытку держит отправивший её планировщик.
	// Выставляется только планировщиком; scheduled_start при захвате не меняется.
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`

	// GeneratedBy — ключ попытки, породившей эту через dynamic expansion.
	// Однажды выставленный, не меняется.
	GeneratedBy string `json:"generated_by,omitempty"`

	// Error — причина неудачи или пропуска последней попытки.
	Error string `json:"error,omitempty"`

	// Annotations — поля, которыми владеют внешние писатели (например, запрос отмены).
	// При слиянии с хранилищем сохраняются значения из хранилища.
	Annotations map[string]string `json:"annotations,omitempty"`

	// Version — версия записи в хранилище, используется для compare-and-swap.
	// 0 — запись ещё не сохранялась.
	Version int64 `json:"version"`
}

// NewTaskRun создаёт первую (или очередную) попытку task в статусе PENDING.
func NewTaskRun(flowRunID string, task *Task, params Params, runNumber int) *TaskRun {
	if runNumber < 1 {
		runNumber = 1
	}
	return &TaskRun{
		ID:        RunID{FlowRunID: flowRunID, TaskID: task.ID, RunNumber: runNumber},
		TaskName:  task.Name,
		State:     StatePending,
		Params:    params.Clone(),
		CreatedAt: time.Now().UTC(),
	}
}

// Key возвращает строковый ключ попытки.
func (r *TaskRun) Key() string {
	return r.ID.String()
}

// Transition переводит попытку в новое состояние, проверяя допустимость перехода.
func (r *TaskRun) Transition(to State) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.State, to)
	}
	r.State = to
	return nil
}

// MarkStarted фиксирует начало запуска: started = now, finished очищается.
func (r *TaskRun) MarkStarted(now time.Time) {
	r.StartedAt = &now
	r.FinishedAt = nil
}

// MarkFinished выставляет finished, если состояние терминальное и время ещё не выставлено.
func (r *TaskRun) MarkFinished(now time.Time) {
	if r.State.IsTerminal() && r.FinishedAt == nil {
		r.FinishedAt = &now
	}
}

// ResetForRerun сбрасывает успешную попытку в PENDING для принудительного перезапуска.
func (r *TaskRun) ResetForRerun() {
	r.State = StatePending
	r.Retrying = false
	r.FinishedAt = nil
	r.Error = ""
}

// DueAt возвращает момент, с которого PENDING попытку можно отправлять:
// позднейший из scheduled_start и claimed_until. nil — попытка не запланирована.
func (r *TaskRun) DueAt() *time.Time {
	if r.ScheduledStart == nil {
		return nil
	}
	if r.ClaimedUntil != nil && r.ClaimedUntil.After(*r.ScheduledStart) {
		return r.ClaimedUntil
	}
	return r.ScheduledStart
}

// IsDue возвращает true, если PENDING попытку пора отправлять.
func (r *TaskRun) IsDue(now time.Time) bool {
	due := r.DueAt()
	return r.State == StatePending && due != nil && !due.After(now)
}

// IsFinished возвращает true, если попытка в терминальном состоянии.
func (r *TaskRun) IsFinished() bool {
	return r.State.IsTerminal()
}

// IsRetrying возвращает true, если попытка FAILED и следующая уже запланирована.
func (r *TaskRun) IsRetrying() bool {
	return r.State == StateFailed && r.Retrying
}

// CancelRequested проверяет аннотацию запроса отмены.
func (r *TaskRun) CancelRequested() bool {
	return r.Annotations[AnnotationCancelRequested] != ""
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если попытка ещё не завершена.
func (r *TaskRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// MergeInto сливает локальные поля попытки с записью из хранилища.
//
// Правила слияния:
//   - состояние, время старта/финиша, ошибка и маркер retry — локальные;
//   - created, scheduled_start, claimed_until и generated_by берутся из хранилища,
//     если там выставлены;
//   - params: базой служат параметры из хранилища, локальные их перекрывают;
//   - annotations: значения из хранилища всегда побеждают;
//   - version — из хранилища (для следующего compare-and-swap).
//
// Результат записывается в r.
func (r *TaskRun) MergeInto(stored *TaskRun) {
	if !stored.CreatedAt.IsZero() {
		r.CreatedAt = stored.CreatedAt
	}
	if stored.ScheduledStart != nil {
		r.ScheduledStart = stored.ScheduledStart
	}
	if stored.ClaimedUntil != nil {
		r.ClaimedUntil = stored.ClaimedUntil
	}
	if stored.GeneratedBy != "" {
		r.GeneratedBy = stored.GeneratedBy
	}
	if r.TaskName == "" {
		r.TaskName = stored.TaskName
	}

	if len(stored.Params) > 0 {
		merged := stored.Params.Clone()
		maps.Copy(merged, r.Params)
		r.Params = merged
	}

	if len(stored.Annotations) > 0 {
		if r.Annotations == nil {
			r.Annotations = make(map[string]string, len(stored.Annotations))
		}
		maps.Copy(r.Annotations, stored.Annotations)
	}

	r.Version = stored.Version
}

// Clone возвращает глубокую копию попытки.
func (r *TaskRun) Clone() *TaskRun {
	c := *r
	c.Params = r.Params.Clone()
	if r.Annotations != nil {
		c.Annotations = maps.Clone(r.Annotations)
	}
	c.StartedAt = cloneTime(r.StartedAt)
	c.FinishedAt = cloneTime(r.FinishedAt)
	c.ScheduledStart = cloneTime(r.ScheduledStart)
	c.ClaimedUntil = cloneTime(r.ClaimedUntil)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
