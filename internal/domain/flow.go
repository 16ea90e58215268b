package domain

// Flow — определение графа tasks.
//
// Движку Flow нужен только как work item; исполняет его flow runner.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID string

	// Name — отображаемое имя.
	Name string

	// Tasks — tasks графа.
	Tasks []*Task

	// Upstream — рёбра графа: task ID → ID tasks, от которых он зависит.
	Upstream map[string][]string
}

// Task возвращает task по ID.
func (f *Flow) Task(id string) *Task {
	for _, t := range f.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// DependsOn добавляет ребро upstream → task и возвращает flow для цепочки вызовов.
func (f *Flow) DependsOn(taskID string, upstream ...string) *Flow {
	if f.Upstream == nil {
		f.Upstream = make(map[string][]string)
	}
	f.Upstream[taskID] = append(f.Upstream[taskID], upstream...)
	return f
}
