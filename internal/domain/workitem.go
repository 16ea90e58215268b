package domain

import "fmt"

// WorkItemKind — вид work item. Решается один раз, в момент производства item.
type WorkItemKind int

const (
	// WorkInvalid — значение, которое нельзя исполнить.
	WorkInvalid WorkItemKind = iota

	// WorkTask — task, исполняется движком как новый TaskRun.
	WorkTask

	// WorkFlow — flow, исполняется flow runner'ом как новый FlowRun.
	WorkFlow

	// WorkGroup — коллекция items, каждый обрабатывается независимо.
	WorkGroup
)

// String возвращает имя вида.
func (k WorkItemKind) String() string {
	switch k {
	case WorkTask:
		return "task"
	case WorkFlow:
		return "flow"
	case WorkGroup:
		return "group"
	default:
		return "invalid"
	}
}

// WorkItem — закрытое объединение: Task, Flow, группа или недопустимое значение.
type WorkItem struct {
	kind     WorkItemKind
	task     *Task
	flow     *Flow
	members  []WorkItem
	typeName string
}

// TaskItem оборачивает task.
func TaskItem(t *Task) WorkItem {
	if t == nil {
		return invalidItem(t)
	}
	return WorkItem{kind: WorkTask, task: t}
}

// FlowItem оборачивает flow.
func FlowItem(f *Flow) WorkItem {
	if f == nil {
		return invalidItem(f)
	}
	return WorkItem{kind: WorkFlow, flow: f}
}

// Group собирает items в коллекцию.
func Group(items ...WorkItem) WorkItem {
	return WorkItem{kind: WorkGroup, members: items}
}

// Item классифицирует произвольное значение.
//
// *Task, *Flow, WorkItem и срезы из них распознаются; всё остальное становится
// недопустимым item, который помнит имя своего типа.
func Item(v any) WorkItem {
	switch x := v.(type) {
	case WorkItem:
		return x
	case *Task:
		return TaskItem(x)
	case *Flow:
		return FlowItem(x)
	case []WorkItem:
		return Group(x...)
	case []*Task:
		members := make([]WorkItem, len(x))
		for i, t := range x {
			members[i] = TaskItem(t)
		}
		return Group(members...)
	case []*Flow:
		members := make([]WorkItem, len(x))
		for i, f := range x {
			members[i] = FlowItem(f)
		}
		return Group(members...)
	case []any:
		members := make([]WorkItem, len(x))
		for i, m := range x {
			members[i] = Item(m)
		}
		return Group(members...)
	default:
		return invalidItem(v)
	}
}

func invalidItem(v any) WorkItem {
	return WorkItem{kind: WorkInvalid, typeName: fmt.Sprintf("%T", v)}
}

// Kind возвращает вид item.
func (w WorkItem) Kind() WorkItemKind {
	return w.kind
}

// Task возвращает task (nil для других видов).
func (w WorkItem) Task() *Task {
	return w.task
}

// Flow возвращает flow (nil для других видов).
func (w WorkItem) Flow() *Flow {
	return w.flow
}

// Members возвращает элементы группы.
func (w WorkItem) Members() []WorkItem {
	return w.members
}

// TypeName возвращает описание item для сообщений об ошибках.
func (w WorkItem) TypeName() string {
	switch w.kind {
	case WorkTask:
		return "*domain.Task"
	case WorkFlow:
		return "*domain.Flow"
	case WorkGroup:
		return "group"
	default:
		return w.typeName
	}
}
