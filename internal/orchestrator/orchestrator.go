package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/bus"
	"github.com/shaiso/Cascade/internal/capability"
	"github.com/shaiso/Cascade/internal/dag"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/executor"
)

// eventSource — имя источника в публикуемых событиях.
const eventSource = "orchestrator"

// defaultBackoffBase — базовая длительность backoff между retry.
// Задержка перед повтором — base * 2^attempts.
const defaultBackoffBase = time.Second

// DefinitionSource — источник definitions для оркестратора.
//
// Каталог заполняется один раз при старте процесса; definitions
// считаются предварительно провалидированными на ацикличность.
type DefinitionSource interface {
	// Get возвращает definition по ID.
	Get(id string) (*domain.Definition, error)

	// IDs возвращает ID всех известных definitions.
	IDs() []string
}

// Orchestrator управляет выполнением runs.
//
// Orchestrator — центральный компонент системы, который:
//   - Держит не более одного активного Run (single-flight)
//   - Строит DAG definition и планирует готовые шаги конкурентно
//   - Активирует/деактивирует capabilities вокруг каждого шага
//   - Применяет per-step таймауты и retry с экспоненциальным backoff
//   - Каскадно пропускает шаги, заблокированные неуспехом зависимости
//   - Публикует события жизненного цикла в шину
//
// Планирование событийное: scheduling loop ждёт завершений шагов
// на канале и немедленно запускает ставшие готовыми шаги, без
// периодического опроса.
type Orchestrator struct {
	definitions DefinitionSource
	bus         *bus.Bus
	registry    *executor.Registry
	caps        capability.Manager

	mu      sync.Mutex
	active  *runState
	lastRun *domain.Run

	backoffBase time.Duration
	logger      *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Definitions — каталог definitions. Обязателен.
	Definitions DefinitionSource

	// Bus — шина событий. Если nil, создаётся новая.
	Bus *bus.Bus

	// Registry — реестр executor'ов. Если nil, используется
	// DefaultRegistry со встроенными типами.
	Registry *executor.Registry

	// Capabilities — менеджер capabilities. Если nil, используется
	// RefCountManager.
	Capabilities capability.Manager

	// BackoffBase — базовая длительность retry backoff (default: 1s).
	// Уменьшается в тестах.
	BackoffBase time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eventBus := cfg.Bus
	if eventBus == nil {
		eventBus = bus.New(logger)
	}

	registry := cfg.Registry
	if registry == nil {
		registry = executor.DefaultRegistry()
	}

	caps := cfg.Capabilities
	if caps == nil {
		caps = capability.NewRefCountManager(logger)
	}

	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}

	return &Orchestrator{
		definitions: cfg.Definitions,
		bus:         eventBus,
		registry:    registry,
		caps:        caps,
		backoffBase: backoffBase,
		logger:      logger,
	}
}

// Bus возвращает шину событий оркестратора.
func (o *Orchestrator) Bus() *bus.Bus {
	return o.bus
}

// Capabilities возвращает менеджер capabilities.
func (o *Orchestrator) Capabilities() capability.Manager {
	return o.caps
}

// RegisterStepExecutor привязывает executor к id шага.
// Перезаписывает предыдущую привязку для того же id.
func (o *Orchestrator) RegisterStepExecutor(stepID string, fn executor.StepExecutor) error {
	if stepID == "" {
		return ErrEmptyStepID
	}
	if fn == nil {
		return ErrNilExecutor
	}
	o.registry.Bind(stepID, fn)
	return nil
}

// StartRun запускает выполнение definition.
//
// Возвращает ErrAlreadyRunning, если run уже активен, и
// ErrUnknownDefinition, если definition не найден в каталоге.
// Планирование выполняется в фоне; вызов возвращается сразу
// после публикации WorkflowStarted.
func (o *Orchestrator) StartRun(definitionID string, inputs map[string]any) (uuid.UUID, error) {
	def, err := o.definitions.Get(definitionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownDefinition, definitionID)
	}

	// Definitions каталога провалидированы при загрузке; Build здесь
	// не должен падать, но ошибку всё равно не глотаем
	graph, err := dag.Build(def)
	if err != nil {
		return uuid.Nil, fmt.Errorf("build graph: %w", err)
	}

	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return uuid.Nil, ErrAlreadyRunning
	}

	state := newRunState(def, graph, inputs)
	o.active = state
	o.mu.Unlock()

	o.logger.Info("run started",
		"run_id", state.runID(),
		"definition_id", def.ID,
		"steps", graph.Size(),
	)

	o.bus.Publish(bus.NewEvent(bus.EventWorkflowStarted, eventSource, state.runID().String(), map[string]any{
		"run_id":        state.runID().String(),
		"definition_id": def.ID,
		"steps":         graph.Size(),
	}))

	go o.runLoop(state)

	return state.runID(), nil
}

// GetStatus возвращает snapshot текущего состояния.
//
// Без активного run — idle descriptor с каталогом definitions;
// с активным run — прогресс, выполняющиеся шаги и полную карту
// результатов.
func (o *Orchestrator) GetStatus() *Status {
	o.mu.Lock()
	state := o.active
	o.mu.Unlock()

	if state == nil {
		return &Status{
			Active:      false,
			Definitions: o.definitions.IDs(),
		}
	}

	run := state.snapshotRun()
	return &Status{
		Active:       true,
		RunID:        run.ID,
		DefinitionID: run.DefinitionID,
		Progress:     state.progress(),
		RunningSteps: state.runningSteps(),
		Results:      run.Results,
	}
}

// LastRun возвращает копию последнего завершённого run.
// Возвращает ErrNoRuns, если завершённых runs ещё не было.
func (o *Orchestrator) LastRun() (*domain.Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lastRun == nil {
		return nil, ErrNoRuns
	}
	return o.lastRun.Clone(), nil
}

// ActiveRun возвращает копию активного run.
// Возвращает ErrNoActiveRun, если run не активен.
func (o *Orchestrator) ActiveRun() (*domain.Run, error) {
	o.mu.Lock()
	state := o.active
	o.mu.Unlock()

	if state == nil {
		return nil, ErrNoActiveRun
	}
	return state.snapshotRun(), nil
}

// Cancel отменяет активный run.
//
// Отмена best-effort: bookkeeping обновляется сразу (RUNNING-шаги
// помечаются SKIPPED с причиной "cancelled", run — CANCELLED),
// executor'ам закрывается контекст, их поздние завершения
// отбрасываются. Возвращает ErrNoActiveRun, если run не активен.
func (o *Orchestrator) Cancel() (string, error) {
	o.mu.Lock()
	state := o.active
	if state == nil {
		o.mu.Unlock()
		return "", ErrNoActiveRun
	}

	o.active = nil
	run := state.cancelRunning()
	o.lastRun = run
	o.mu.Unlock()

	// Закрываем контекст после bookkeeping: executor'ы завершатся,
	// их completions будут отброшены
	state.cancel()

	o.logger.Info("run cancelled",
		"run_id", run.ID,
		"definition_id", run.DefinitionID,
	)

	o.bus.Publish(bus.NewEvent(bus.EventWorkflowCancelled, eventSource, run.ID.String(), map[string]any{
		"run_id":        run.ID.String(),
		"definition_id": run.DefinitionID,
		"duration_ms":   run.Duration().Milliseconds(),
	}))

	return fmt.Sprintf("run %s cancelled", run.ID), nil
}

// runLoop — событийный scheduling loop одного run.
//
// Запускает готовые шаги и ждёт завершений на канале; новый готовый
// шаг подхватывается сразу после завершения последней блокирующей
// зависимости. Loop — единственный писатель расписания: все решения
// о запуске и каскадных пропусках принимаются здесь.
func (o *Orchestrator) runLoop(s *runState) {
	defer s.cancel()

	o.dispatchReady(s)

	for {
		select {
		case <-s.ctx.Done():
			// Run отменён
			return

		case c := <-s.completions:
			// Completion мог попасть в буфер канала до отмены
			if s.isCancelled() {
				return
			}

			o.applyCompletion(s, c)

			// Cancel мог сработать, пока StepCompleted публиковался
			// синхронным подписчикам
			if s.isCancelled() {
				return
			}

			// Каскадный пропуск заблокированных шагов, затем запуск
			// ставших готовыми
			for _, res := range s.skipBlocked("Dependency failed") {
				o.publishStepCompleted(s, res)
			}
			o.dispatchReady(s)

			if s.isComplete() {
				o.finalize(s)
				return
			}
		}
	}
}

// dispatchReady запускает все готовые шаги конкурентно.
// После отмены run не запускается ничего: markAttempt отказывает,
// даже если Cancel сработал между итерациями.
func (o *Orchestrator) dispatchReady(s *runState) {
	for _, node := range s.readyNodes() {
		if !s.markAttempt(node.ID) {
			return
		}
		o.publishStepStarted(s, node.Spec)

		go o.executeStep(s, node.Spec)
	}
}

// applyCompletion фиксирует финальный исход шага и публикует
// StepCompleted.
func (o *Orchestrator) applyCompletion(s *runState, c completion) {
	var res *domain.StepResult
	if c.err != nil {
		res = s.applyFailed(c.stepID, c.err.Error())
		o.logger.Warn("step failed",
			"run_id", s.runID(),
			"step_id", c.stepID,
			"attempts", res.Attempts,
			"error", c.err,
		)
	} else {
		res = s.applyCompleted(c.stepID, c.outputs)
		o.logger.Info("step completed",
			"run_id", s.runID(),
			"step_id", c.stepID,
			"attempts", res.Attempts,
			"duration_ms", res.Duration().Milliseconds(),
		)
	}

	o.publishStepCompleted(s, res)
}

// finalize переводит run в терминальный статус и очищает активный run.
func (o *Orchestrator) finalize(s *runState) {
	o.mu.Lock()
	if o.active != s {
		// Run уже отменён
		o.mu.Unlock()
		return
	}
	o.active = nil

	failed := s.failedSteps()

	s.mu.Lock()
	if len(failed) > 0 {
		s.run.MarkFailed(fmt.Sprintf("steps failed: %v", failed))
	} else {
		s.run.MarkCompleted()
	}
	run := s.run.Clone()
	s.mu.Unlock()

	o.lastRun = run
	o.mu.Unlock()

	eventType := bus.EventWorkflowCompleted
	payload := map[string]any{
		"run_id":        run.ID.String(),
		"definition_id": run.DefinitionID,
		"duration_ms":   run.Duration().Milliseconds(),
	}
	if run.Status == domain.RunStatusFailed {
		eventType = bus.EventWorkflowFailed
		payload["failed_steps"] = failed
		payload["error"] = run.Error
	}

	o.logger.Info("run finished",
		"run_id", run.ID,
		"definition_id", run.DefinitionID,
		"status", run.Status,
		"duration_ms", run.Duration().Milliseconds(),
	)

	o.bus.Publish(bus.NewEvent(eventType, eventSource, run.ID.String(), payload))
}

// executeStep выполняет один шаг: активирует capabilities, прогоняет
// retry-цикл и доставляет финальный исход в scheduling loop.
func (o *Orchestrator) executeStep(s *runState, step *domain.StepSpec) {
	for _, tag := range step.Capabilities {
		o.caps.Activate(tag)
	}
	defer func() {
		for _, tag := range step.Capabilities {
			o.caps.Deactivate(tag)
		}
	}()

	fn, err := o.registry.Resolve(step)
	if err != nil {
		s.deliver(completion{stepID: step.ID, err: err})
		return
	}

	rc := s.snapshotContext()

	for attempt := 0; ; attempt++ {
		if attempt > 0 && !s.markAttempt(step.ID) {
			// Run отменён между попытками
			return
		}

		outputs, err := o.invokeAttempt(s, step, fn, rc)
		if err == nil {
			s.deliver(completion{stepID: step.ID, outputs: outputs})
			return
		}

		if s.ctx.Err() != nil {
			// Run отменён — исход отбрасывается
			return
		}

		// Таймаут терминален; прочие ошибки retry'ятся до max_retries
		if errors.Is(err, ErrStepTimeout) || attempt >= step.MaxRetries {
			s.deliver(completion{stepID: step.ID, err: err})
			return
		}

		backoff := o.backoffBase * time.Duration(1<<uint(attempt+1))
		o.logger.Warn("step failed, retrying",
			"run_id", s.runID(),
			"step_id", step.ID,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return
		}
	}
}

// invokeAttempt выполняет одну попытку шага, гоняя вызов executor'а
// наперегонки с таймаутом. Превышение таймаута возвращает
// ErrStepTimeout даже для executor'а, игнорирующего контекст.
func (o *Orchestrator) invokeAttempt(s *runState, step *domain.StepSpec, fn executor.StepExecutor, rc *executor.RunContext) (map[string]any, error) {
	execCtx := s.ctx
	var cancel context.CancelFunc
	if t := step.Timeout(); t > 0 {
		execCtx, cancel = context.WithTimeout(s.ctx, t)
		defer cancel()
	}

	type attemptResult struct {
		outputs map[string]any
		err     error
	}
	resCh := make(chan attemptResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- attemptResult{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		outputs, err := fn(execCtx, step, rc)
		resCh <- attemptResult{outputs: outputs, err: err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && s.ctx.Err() == nil {
			return nil, o.timeoutError(step)
		}
		return r.outputs, r.err

	case <-execCtx.Done():
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		return nil, o.timeoutError(step)
	}
}

func (o *Orchestrator) timeoutError(step *domain.StepSpec) error {
	return fmt.Errorf("%w after %ds", ErrStepTimeout, step.TimeoutSec)
}

// publishStepStarted публикует StepStarted для шага.
func (o *Orchestrator) publishStepStarted(s *runState, step *domain.StepSpec) {
	payload := map[string]any{
		"step_id": step.ID,
		"name":    step.Name,
	}
	if len(step.Capabilities) > 0 {
		payload["capabilities"] = step.Capabilities
	}
	o.bus.Publish(bus.NewEvent(bus.EventStepStarted, eventSource, s.runID().String(), payload))
}

// publishStepCompleted публикует StepCompleted для терминального
// результата шага (COMPLETED, FAILED или SKIPPED).
func (o *Orchestrator) publishStepCompleted(s *runState, res *domain.StepResult) {
	payload := map[string]any{
		"step_id":     res.StepID,
		"status":      string(res.Status),
		"attempts":    res.Attempts,
		"duration_ms": res.Duration().Milliseconds(),
	}
	if res.Status == domain.StepStatusCompleted {
		payload["output"] = res.Output
	} else if res.Error != "" {
		payload["error"] = res.Error
	}
	o.bus.Publish(bus.NewEvent(bus.EventStepCompleted, eventSource, s.runID().String(), payload))
}
