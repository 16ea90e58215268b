package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
)

// Memory — хранилище в памяти процесса.
//
// SaveOrReload выполняется как read-modify-write под мьютексом.
// Хранит копии записей: изменения объектов вызывающей стороны не видны
// без явной записи.
type Memory struct {
	mu       sync.Mutex
	runs     map[string]*domain.TaskRun
	flowRuns map[string]*domain.FlowRun
	writes   int
}

var _ Store = (*Memory)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		runs:     make(map[string]*domain.TaskRun),
		flowRuns: make(map[string]*domain.FlowRun),
	}
}

// Load возвращает копию попытки.
func (m *Memory) Load(_ context.Context, id domain.RunID) (*domain.TaskRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

// Save записывает попытку при совпадении версии.
func (m *Memory) Save(_ context.Context, run *domain.TaskRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.runs[run.Key()]; ok && existing.Version != run.Version {
		return ErrConflict
	}
	m.put(run)
	return nil
}

// SaveOrReload создаёт или сливает запись атомарно.
func (m *Memory) SaveOrReload(_ context.Context, run *domain.TaskRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.runs[run.Key()]; ok {
		run.MergeInto(existing)
	}
	m.put(run)
	return nil
}

// Create вставляет новую попытку.
func (m *Memory) Create(_ context.Context, run *domain.TaskRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.Key()]; ok {
		return ErrAlreadyExists
	}
	run.Version = 0
	m.put(run)
	return nil
}

// put сохраняет копию и увеличивает версию. Вызывается под m.mu.
func (m *Memory) put(run *domain.TaskRun) {
	run.Version++
	m.runs[run.Key()] = run.Clone()
	m.writes++
}

// ListAttempts возвращает попытки task по возрастанию номера.
func (m *Memory) ListAttempts(_ context.Context, flowRunID, taskID string) ([]domain.TaskRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runs []domain.TaskRun
	for _, run := range m.runs {
		if run.ID.FlowRunID == flowRunID && run.ID.TaskID == taskID {
			runs = append(runs, *run.Clone())
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].ID.RunNumber < runs[j].ID.RunNumber
	})
	return runs, nil
}

// ListDue возвращает PENDING попытки с наступившим scheduled_start,
// не захваченные планировщиком.
func (m *Memory) ListDue(_ context.Context, now time.Time, limit int) ([]domain.TaskRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runs []domain.TaskRun
	for _, run := range m.runs {
		if run.IsDue(now) {
			runs = append(runs, *run.Clone())
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].DueAt().Before(*runs[j].DueAt())
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// LoadFlowRun возвращает копию flow run.
func (m *Memory) LoadFlowRun(_ context.Context, id string) (*domain.FlowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fr, ok := m.flowRuns[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *fr
	return &c, nil
}

// SaveFlowRun записывает flow run при совпадении версии.
func (m *Memory) SaveFlowRun(_ context.Context, run *domain.FlowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.flowRuns[run.ID]; ok && existing.Version != run.Version {
		return ErrConflict
	}
	run.Version++
	c := *run
	m.flowRuns[run.ID] = &c
	m.writes++
	return nil
}

// Writes возвращает количество выполненных записей.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Runs возвращает копии всех попыток, отсортированные по ключу.
func (m *Memory) Runs() []domain.TaskRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]domain.TaskRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, *run.Clone())
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Key() < runs[j].Key()
	})
	return runs
}
