package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/dag"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/executor"
)

// completion — результат одной единицы работы, доставляемый в
// scheduling loop. Ровно одно completion на шаг: retry-цикл живёт
// внутри горутины шага и наружу отдаёт только финальный исход.
type completion struct {
	stepID  string
	outputs map[string]any
	err     error
}

// runState — состояние выполнения активного run в памяти.
//
// Создаётся при StartRun и живёт до перехода run в терминальный
// статус. Все мутации Run/Results проходят через методы runState
// под мьютексом; scheduling loop — единственный потребитель
// канала completions.
type runState struct {
	run   *domain.Run
	def   *domain.Definition
	graph *dag.Graph

	// rc — контекст run'а с inputs и outputs завершённых шагов.
	rc *executor.RunContext

	// status — текущие статусы шагов. Дублирует run.Results[...].Status
	// в форме, которую принимает dag.Graph.
	status map[string]domain.StepStatus

	// completions — канал завершений шагов для scheduling loop.
	completions chan completion

	// ctx закрывается при отмене run'а или его финализации;
	// разблокирует executor'ы и отбрасывает поздние completions.
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex

	// cancelled выставляется в cancelRunning. Scheduling loop проверяет
	// флаг перед каждым решением: Cancel может сработать, пока loop
	// заблокирован в Publish синхронным подписчиком, и уже полученное
	// completion или готовый шаг не должны применяться после отмены.
	cancelled bool
}

// newRunState создаёт runState для definition с готовым графом.
func newRunState(def *domain.Definition, graph *dag.Graph, inputs map[string]any) *runState {
	run := &domain.Run{
		ID:           uuid.New(),
		DefinitionID: def.ID,
		Status:       domain.RunStatusRunning,
		Inputs:       inputs,
		StartedAt:    time.Now(),
		Results:      make(map[string]*domain.StepResult, len(def.Steps)),
	}

	status := make(map[string]domain.StepStatus, len(def.Steps))
	for _, id := range def.StepIDs() {
		run.Results[id] = domain.NewStepResult(id)
		status[id] = domain.StepStatusPending
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &runState{
		run:         run,
		def:         def,
		graph:       graph,
		rc:          executor.NewRunContext(run.ID, inputs),
		status:      status,
		completions: make(chan completion, len(def.Steps)),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// runID возвращает ID run.
func (s *runState) runID() uuid.UUID {
	return s.run.ID
}

// deliver отправляет completion в scheduling loop.
// Поздние completions отменённого run отбрасываются.
func (s *runState) deliver(c completion) {
	select {
	case s.completions <- c:
	case <-s.ctx.Done():
	}
}

// markAttempt переводит шаг в RUNNING, фиксируя очередную попытку.
// Возвращает false, если run уже отменён: шаг запускать нельзя.
func (s *runState) markAttempt(stepID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return false
	}

	s.run.Results[stepID].MarkRunning()
	s.status[stepID] = domain.StepStatusRunning
	return true
}

// isCancelled сообщает, был ли run отменён.
func (s *runState) isCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// applyCompleted фиксирует успешное завершение шага и делает его
// outputs доступными последующим шагам.
func (s *runState) applyCompleted(stepID string, outputs map[string]any) *domain.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.run.Results[stepID]
	if res.IsTerminal() {
		// Терминальный результат неизменяем
		return res
	}
	res.MarkCompleted(outputs)
	s.status[stepID] = domain.StepStatusCompleted
	s.rc.AddOutputs(stepID, outputs)
	return res
}

// applyFailed фиксирует неуспешное завершение шага.
func (s *runState) applyFailed(stepID string, errMsg string) *domain.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.run.Results[stepID]
	if res.IsTerminal() {
		return res
	}
	res.MarkFailed(errMsg)
	s.status[stepID] = domain.StepStatusFailed
	return res
}

// applySkipped помечает шаг SKIPPED с причиной.
func (s *runState) applySkipped(stepID string, reason string) *domain.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.run.Results[stepID]
	if res.IsTerminal() {
		return res
	}
	res.MarkSkipped(reason)
	s.status[stepID] = domain.StepStatusSkipped
	return res
}

// skipBlocked каскадно помечает SKIPPED все PENDING-шаги, заблокированные
// неуспешной или пропущенной зависимостью. Возвращает пропущенные
// результаты в порядке каскада.
//
// BlockedNodes возвращает только непосредственно заблокированные узлы,
// поэтому повторяем до неподвижной точки.
func (s *runState) skipBlocked(reason string) []*domain.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := make([]*domain.StepResult, 0)
	for {
		blocked := s.graph.BlockedNodes(s.status)
		if len(blocked) == 0 {
			return skipped
		}
		for _, node := range blocked {
			res := s.run.Results[node.ID]
			res.MarkSkipped(reason)
			s.status[node.ID] = domain.StepStatusSkipped
			skipped = append(skipped, res)
		}
	}
}

// readyNodes возвращает шаги, готовые к запуску.
func (s *runState) readyNodes() []*dag.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.ReadyNodes(s.status)
}

// isComplete проверяет, все ли шаги в терминальном статусе.
func (s *runState) isComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.IsComplete(s.status)
}

// hasFailed проверяет, есть ли FAILED-шаги.
func (s *runState) hasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.status {
		if st == domain.StepStatusFailed {
			return true
		}
	}
	return false
}

// failedSteps возвращает ID шагов со статусом FAILED.
func (s *runState) failedSteps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failed := make([]string, 0)
	for _, node := range s.graph.Order {
		if s.status[node.ID] == domain.StepStatusFailed {
			failed = append(failed, node.ID)
		}
	}
	return failed
}

// snapshotContext возвращает snapshot контекста run'а для передачи
// executor'у: конкурентные шаги не разделяют одну карту outputs.
func (s *runState) snapshotContext() *executor.RunContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rc.Clone()
}

// snapshotRun возвращает глубокую копию run для внешних читателей.
func (s *runState) snapshotRun() *domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run.Clone()
}

// runningSteps возвращает детали выполняющихся шагов для GetStatus.
func (s *runState) runningSteps() []RunningStep {
	s.mu.RLock()
	defer s.mu.RUnlock()

	running := make([]RunningStep, 0)
	for _, node := range s.graph.Order {
		if s.status[node.ID] != domain.StepStatusRunning {
			continue
		}

		elapsed := time.Duration(0)
		if started := s.run.Results[node.ID].StartedAt; started != nil {
			elapsed = time.Since(*started)
		}

		running = append(running, RunningStep{
			ID:           node.ID,
			Name:         node.Spec.Name,
			Capabilities: node.Spec.Capabilities,
			Elapsed:      elapsed,
		})
	}
	return running
}

// progress возвращает счётчики прогресса run'а.
func (s *runState) progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := Progress{Total: len(s.status)}
	for _, st := range s.status {
		switch st {
		case domain.StepStatusRunning:
			p.Running++
		case domain.StepStatusCompleted, domain.StepStatusFailed, domain.StepStatusSkipped:
			p.Completed++
		}
	}
	return p
}

// cancelRunning помечает все RUNNING-шаги SKIPPED("cancelled") и
// переводит run в CANCELLED. Вызывается из Cancel под мьютексом
// оркестратора; ctx закрывается после, чтобы executor'ы завершились.
func (s *runState) cancelRunning() *domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelled = true

	for id, st := range s.status {
		if st == domain.StepStatusRunning {
			s.run.Results[id].MarkSkipped("cancelled")
			s.status[id] = domain.StepStatusSkipped
		}
	}

	s.run.MarkCancelled()
	return s.run.Clone()
}
