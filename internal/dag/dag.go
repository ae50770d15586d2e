package dag

import (
	"github.com/shaiso/Cascade/internal/domain"
)

// Node — узел в графе зависимостей.
type Node struct {
	// Spec — определение шага из Definition.
	Spec *domain.StepSpec

	// ID — идентификатор узла (равен Spec.ID).
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// Graph — направленный ациклический граф шагов definition.
type Graph struct {
	// Nodes — все узлы графа (stepID → Node).
	Nodes map[string]*Node

	// Roots — узлы без зависимостей (точки входа).
	Roots []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// Build строит Graph из Definition.
//
// Definition должен быть предварительно провалидирован через Validate;
// Build дополнительно проверяет ацикличность и возвращает
// ErrCyclicDependency при обнаружении цикла.
func Build(def *domain.Definition) (*Graph, error) {
	g := &Graph{
		Nodes: make(map[string]*Node, len(def.Steps)),
	}

	// Первый проход: создаём все узлы
	for i := range def.Steps {
		step := &def.Steps[i]
		g.Nodes[step.ID] = &Node{
			Spec:       step,
			ID:         step.ID,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range def.Steps {
		step := &def.Steps[i]
		node := g.Nodes[step.ID]

		for _, depID := range step.DependsOn {
			depNode, exists := g.Nodes[depID]
			if !exists {
				return nil, NewValidationError(step.ID, "depends_on",
					"depends on unknown step: "+depID, ErrMissingDependency)
			}
			addEdge(depNode, node)
		}
	}

	g.findRoots()

	// Проверяем на циклы и строим топологический порядок
	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// addEdge добавляет ребро между узлами.
// Дубликаты игнорируются, чтобы избежать двойного учёта InDegree.
func addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRoots находит узлы без входящих рёбер.
func (g *Graph) findRoots() {
	g.Roots = make([]*Node, 0)
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.Roots = append(g.Roots, node)
		}
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(g.Roots))
	copy(queue, g.Roots)

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// ReadyNodes возвращает узлы, готовые к выполнению.
//
// Узел готов, если:
//   - Его статус PENDING
//   - Все зависимости в статусе COMPLETED
//
// status — текущие статусы шагов (stepID → StepStatus).
func (g *Graph) ReadyNodes(status map[string]domain.StepStatus) []*Node {
	ready := make([]*Node, 0)

	for _, node := range g.Nodes {
		if status[node.ID] != domain.StepStatusPending {
			continue
		}

		allDepsCompleted := true
		for _, dep := range node.DependsOn {
			if status[dep.ID] != domain.StepStatusCompleted {
				allDepsCompleted = false
				break
			}
		}

		if allDepsCompleted {
			ready = append(ready, node)
		}
	}

	return ready
}

// BlockedNodes возвращает PENDING-узлы, у которых хотя бы одна зависимость
// завершилась FAILED или SKIPPED. Такие узлы никогда не будут выполнены
// и должны каскадно перейти в SKIPPED.
//
// Возвращает только непосредственно заблокированные узлы; транзитивный
// каскад достигается повторными вызовами после пометки (fixpoint).
func (g *Graph) BlockedNodes(status map[string]domain.StepStatus) []*Node {
	blocked := make([]*Node, 0)

	for _, node := range g.Nodes {
		if status[node.ID] != domain.StepStatusPending {
			continue
		}

		for _, dep := range node.DependsOn {
			if status[dep.ID] == domain.StepStatusFailed || status[dep.ID] == domain.StepStatusSkipped {
				blocked = append(blocked, node)
				break
			}
		}
	}

	return blocked
}

// Node возвращает узел по ID.
func (g *Graph) Node(id string) *Node {
	return g.Nodes[id]
}

// Size возвращает количество узлов в графе.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// IsComplete проверяет, все ли узлы в терминальном статусе.
func (g *Graph) IsComplete(status map[string]domain.StepStatus) bool {
	for _, node := range g.Nodes {
		if !status[node.ID].IsTerminal() {
			return false
		}
	}
	return true
}
