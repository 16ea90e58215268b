package flow

import (
	"github.com/shaiso/Taskrunner/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Task — определение task.
	Task *domain.Task

	// ID — идентификатор узла (Task.ID).
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — направленный ациклический граф tasks flow.
type DAG struct {
	// Nodes — все узлы графа (taskID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// BuildDAG строит DAG из определения flow.
func BuildDAG(f *domain.Flow) (*DAG, error) {
	if len(f.Tasks) == 0 {
		return nil, ErrEmptyFlow
	}

	dag := &DAG{
		Nodes: make(map[string]*Node, len(f.Tasks)),
	}

	// Первый проход: создаём все узлы (в порядке объявления)
	nodes := make([]*Node, 0, len(f.Tasks))
	for _, task := range f.Tasks {
		if task.ID == "" {
			return nil, newValidationError("", "task has no id", ErrEmptyTaskID)
		}
		if _, exists := dag.Nodes[task.ID]; exists {
			return nil, newValidationError(task.ID, "declared twice", ErrDuplicateTaskID)
		}
		node := &Node{Task: task, ID: task.ID}
		dag.Nodes[task.ID] = node
		nodes = append(nodes, node)
	}

	// Второй проход: связываем узлы по зависимостям
	for _, node := range nodes {
		for _, depID := range f.Upstream[node.ID] {
			if depID == node.ID {
				return nil, newValidationError(node.ID, "depends on itself", ErrSelfDependency)
			}
			dep, exists := dag.Nodes[depID]
			if !exists {
				return nil, newValidationError(node.ID, "depends on unknown task: "+depID, ErrMissingDependency)
			}
			dag.addEdge(dep, node)
		}
	}

	for id := range f.Upstream {
		if _, exists := dag.Nodes[id]; !exists {
			return nil, newValidationError(id, "edge for unknown task", ErrMissingDependency)
		}
	}

	// Находим корневые узлы
	for _, node := range nodes {
		if node.InDegree == 0 {
			dag.RootNodes = append(dag.RootNodes, node)
		}
	}

	// Проверяем на циклы и строим топологический порядок
	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	// Копируем inDegree, чтобы не модифицировать оригинал
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	// Очередь узлов с inDegree = 0
	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		// Уменьшаем inDegree у зависимых узлов
		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(d.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// ReadyNodes возвращает узлы, готовые к выполнению, в топологическом порядке.
//
// Узел готов, если все его зависимости в done, а сам он не в done и не в blocked.
func (d *DAG) ReadyNodes(done, blocked map[string]bool) []*Node {
	var ready []*Node

	for _, node := range d.Order {
		if done[node.ID] || blocked[node.ID] {
			continue
		}

		allDepsDone := true
		for _, dep := range node.DependsOn {
			if !done[dep.ID] {
				allDepsDone = false
				break
			}
		}

		if allDepsDone {
			ready = append(ready, node)
		}
	}

	return ready
}

// Preceding возвращает состояния непосредственных предшественников узла.
func (d *DAG) Preceding(id string, states map[string]domain.State) map[string]domain.State {
	node := d.Nodes[id]
	if node == nil || len(node.DependsOn) == 0 {
		return nil
	}

	preceding := make(map[string]domain.State, len(node.DependsOn))
	for _, dep := range node.DependsOn {
		preceding[dep.ID] = states[dep.ID]
	}
	return preceding
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// IsComplete проверяет, все ли узлы завершены.
func (d *DAG) IsComplete(done map[string]bool) bool {
	for id := range d.Nodes {
		if !done[id] {
			return false
		}
	}
	return true
}
