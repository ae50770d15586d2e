package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Cascade/internal/bus"
	"github.com/shaiso/Cascade/internal/capability"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/executor"
)

// stubSource — DefinitionSource для тестов.
type stubSource struct {
	defs map[string]*domain.Definition
}

func newStubSource(defs ...*domain.Definition) *stubSource {
	s := &stubSource{defs: make(map[string]*domain.Definition)}
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	return s
}

func (s *stubSource) Get(id string) (*domain.Definition, error) {
	def, ok := s.defs[id]
	if !ok {
		return nil, fmt.Errorf("definition %q not found", id)
	}
	return def, nil
}

func (s *stubSource) IDs() []string {
	ids := make([]string, 0, len(s.defs))
	for id := range s.defs {
		ids = append(ids, id)
	}
	return ids
}

func chainDefinition() *domain.Definition {
	return &domain.Definition{
		ID:   "chain",
		Name: "Chain",
		Steps: []domain.StepSpec{
			{ID: "a", Name: "Step A"},
			{ID: "b", Name: "Step B", DependsOn: []string{"a"}},
			{ID: "c", Name: "Step C", DependsOn: []string{"b"}},
		},
	}
}

func diamondDefinition() *domain.Definition {
	return &domain.Definition{
		ID:   "diamond",
		Name: "Diamond",
		Steps: []domain.StepSpec{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"a"}},
			{ID: "d", DependsOn: []string{"b", "c"}},
		},
	}
}

func newTestOrchestrator(t *testing.T, defs ...*domain.Definition) *Orchestrator {
	t.Helper()
	return New(Config{
		Definitions: newStubSource(defs...),
		Registry:    executor.NewRegistry(),
		BackoffBase: time.Millisecond,
	})
}

// noopExecutor возвращает executor, завершающийся успешно с outputs.
func noopExecutor(outputs map[string]any) executor.StepExecutor {
	return func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		return outputs, nil
	}
}

// subscribeFinished возвращает канал, закрывающийся при первом
// терминальном событии run'а. Подписка должна произойти до StartRun.
func subscribeFinished(o *Orchestrator) <-chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	handler := func(e *bus.Event) error {
		once.Do(func() { close(done) })
		return nil
	}
	o.Bus().Subscribe(bus.EventWorkflowCompleted, handler)
	o.Bus().Subscribe(bus.EventWorkflowFailed, handler)
	o.Bus().Subscribe(bus.EventWorkflowCancelled, handler)
	return done
}

func waitFinished(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not reach a terminal status in time")
	}
}

func TestStartRun_UnknownDefinition(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.StartRun("missing", nil)
	if !errors.Is(err, ErrUnknownDefinition) {
		t.Errorf("expected ErrUnknownDefinition, got %v", err)
	}
}

func TestStartRun_SingleFlight(t *testing.T) {
	o := newTestOrchestrator(t, chainDefinition())

	release := make(chan struct{})
	for _, id := range []string{"a", "b", "c"} {
		o.RegisterStepExecutor(id, func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
			<-release
			return nil, nil
		})
	}

	done := subscribeFinished(o)
	if _, err := o.StartRun("chain", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Второй запуск при активном run отклоняется
	if _, err := o.StartRun("chain", nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	close(release)
	waitFinished(t, done)

	// После завершения можно запускать снова
	done2 := subscribeFinished(o)
	if _, err := o.StartRun("chain", nil); err != nil {
		t.Errorf("expected restart after completion, got %v", err)
	}
	waitFinished(t, done2)
}

func TestRun_ChainCompletes(t *testing.T) {
	o := newTestOrchestrator(t, chainDefinition())

	var mu sync.Mutex
	var order []string
	for _, id := range []string{"a", "b", "c"} {
		id := id
		o.RegisterStepExecutor(id, func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return map[string]any{"step": id}, nil
		})
	}

	done := subscribeFinished(o)
	runID, err := o.StartRun("chain", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	run, err := o.LastRun()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.ID != runID {
		t.Error("LastRun should return the finished run")
	}
	if run.Status != domain.RunStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", run.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("steps executed out of dependency order: %v", order)
	}

	for _, id := range []string{"a", "b", "c"} {
		res := run.Results[id]
		if res.Status != domain.StepStatusCompleted {
			t.Errorf("step %s: expected COMPLETED, got %s", id, res.Status)
		}
		if res.Output["step"] != id {
			t.Errorf("step %s: unexpected output %v", id, res.Output)
		}
	}
}

func TestRun_DependencyOutputsVisible(t *testing.T) {
	o := newTestOrchestrator(t, diamondDefinition())

	var mu sync.Mutex
	depsSeen := make(map[string][]string)

	for _, id := range []string{"a", "b", "c", "d"} {
		id := id
		o.RegisterStepExecutor(id, func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
			seen := make([]string, 0)
			for dep := range rc.Outputs {
				seen = append(seen, dep)
			}
			mu.Lock()
			depsSeen[id] = seen
			mu.Unlock()
			return map[string]any{"done": true}, nil
		})
	}

	done := subscribeFinished(o)
	if _, err := o.StartRun("diamond", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	mu.Lock()
	defer mu.Unlock()

	// Executor не вызывается, пока зависимости не терминальны: их
	// outputs уже видны через RunContext
	contains := func(list []string, id string) bool {
		for _, v := range list {
			if v == id {
				return true
			}
		}
		return false
	}

	if !contains(depsSeen["b"], "a") || !contains(depsSeen["c"], "a") {
		t.Errorf("b and c should see a's outputs: %v", depsSeen)
	}
	if !contains(depsSeen["d"], "b") || !contains(depsSeen["d"], "c") {
		t.Errorf("d should see b and c outputs: %v", depsSeen)
	}
}

func TestRun_CascadeSkip(t *testing.T) {
	o := newTestOrchestrator(t, chainDefinition())

	var cInvoked bool
	o.RegisterStepExecutor("a", noopExecutor(nil))
	o.RegisterStepExecutor("b", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	o.RegisterStepExecutor("c", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		cInvoked = true
		return nil, nil
	})

	done := subscribeFinished(o)
	if _, err := o.StartRun("chain", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	run, _ := o.LastRun()
	if run.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}

	if run.Results["b"].Status != domain.StepStatusFailed {
		t.Errorf("b: expected FAILED, got %s", run.Results["b"].Status)
	}

	// Транзитивный зависимый пропускается, executor не вызывается
	if run.Results["c"].Status != domain.StepStatusSkipped {
		t.Errorf("c: expected SKIPPED, got %s", run.Results["c"].Status)
	}
	if run.Results["c"].Error != "Dependency failed" {
		t.Errorf("c: unexpected skip reason %q", run.Results["c"].Error)
	}
	if cInvoked {
		t.Error("executor of skipped step must never be invoked")
	}
}

func TestRun_SiblingUnaffectedByFailure(t *testing.T) {
	o := newTestOrchestrator(t, diamondDefinition())

	bStarted := make(chan struct{})
	o.RegisterStepExecutor("a", noopExecutor(nil))
	o.RegisterStepExecutor("b", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		close(bStarted)
		time.Sleep(50 * time.Millisecond)
		return map[string]any{"ok": true}, nil
	})
	o.RegisterStepExecutor("c", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		<-bStarted
		return nil, errors.New("c failed")
	})
	o.RegisterStepExecutor("d", noopExecutor(nil))

	done := subscribeFinished(o)
	if _, err := o.StartRun("diamond", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	run, _ := o.LastRun()

	// Сбой c локален: уже запущенный b доводится до конца
	if run.Results["b"].Status != domain.StepStatusCompleted {
		t.Errorf("b: expected COMPLETED, got %s", run.Results["b"].Status)
	}
	if run.Results["c"].Status != domain.StepStatusFailed {
		t.Errorf("c: expected FAILED, got %s", run.Results["c"].Status)
	}
	if run.Results["d"].Status != domain.StepStatusSkipped {
		t.Errorf("d: expected SKIPPED, got %s", run.Results["d"].Status)
	}
	if run.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
}

func TestRun_Retry(t *testing.T) {
	def := &domain.Definition{
		ID: "retry",
		Steps: []domain.StepSpec{
			{ID: "flaky", MaxRetries: 2},
		},
	}
	o := newTestOrchestrator(t, def)

	var mu sync.Mutex
	calls := 0
	o.RegisterStepExecutor("flaky", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return nil, errors.New("transient")
		}
		return map[string]any{"ok": true}, nil
	})

	done := subscribeFinished(o)
	if _, err := o.StartRun("retry", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	run, _ := o.LastRun()
	if run.Status != domain.RunStatusCompleted {
		t.Errorf("expected COMPLETED after retries, got %s (%s)", run.Status, run.Error)
	}
	if run.Results["flaky"].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", run.Results["flaky"].Attempts)
	}
}

func TestRun_RetryExhausted(t *testing.T) {
	def := &domain.Definition{
		ID: "retry",
		Steps: []domain.StepSpec{
			{ID: "flaky", MaxRetries: 1},
		},
	}
	o := newTestOrchestrator(t, def)

	var mu sync.Mutex
	calls := 0
	o.RegisterStepExecutor("flaky", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("persistent")
	})

	done := subscribeFinished(o)
	if _, err := o.StartRun("retry", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	run, _ := o.LastRun()
	if run.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	// MaxRetries=1 — максимум 2 вызова
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if run.Results["flaky"].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", run.Results["flaky"].Attempts)
	}
}

func TestRun_TimeoutNotRetried(t *testing.T) {
	def := &domain.Definition{
		ID: "slow",
		Steps: []domain.StepSpec{
			{ID: "hang", TimeoutSec: 1, MaxRetries: 5},
		},
	}
	o := newTestOrchestrator(t, def)

	var mu sync.Mutex
	calls := 0
	o.RegisterStepExecutor("hang", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	done := subscribeFinished(o)
	if _, err := o.StartRun("slow", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	run, _ := o.LastRun()
	if run.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}

	res := run.Results["hang"]
	if res.Status != domain.StepStatusFailed {
		t.Errorf("expected FAILED, got %s", res.Status)
	}
	if res.Error != "step timed out after 1s" {
		t.Errorf("unexpected error message: %q", res.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	// Таймаут терминален — retry не выполняется
	if calls != 1 {
		t.Errorf("timed out step must not be retried, got %d calls", calls)
	}
}

func TestRun_ExecutorPanicRecovered(t *testing.T) {
	def := &domain.Definition{
		ID:    "panicky",
		Steps: []domain.StepSpec{{ID: "p"}},
	}
	o := newTestOrchestrator(t, def)

	o.RegisterStepExecutor("p", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		panic("executor exploded")
	})

	done := subscribeFinished(o)
	if _, err := o.StartRun("panicky", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	run, _ := o.LastRun()
	if run.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
	if run.Results["p"].Status != domain.StepStatusFailed {
		t.Errorf("expected FAILED step, got %s", run.Results["p"].Status)
	}
}

func TestRun_MissingExecutorFailsStep(t *testing.T) {
	def := &domain.Definition{
		ID:    "nobind",
		Steps: []domain.StepSpec{{ID: "x"}},
	}
	o := newTestOrchestrator(t, def)

	done := subscribeFinished(o)
	if _, err := o.StartRun("nobind", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	run, _ := o.LastRun()
	if run.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
}

func TestCancel_NoActiveRun(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Cancel()
	if !errors.Is(err, ErrNoActiveRun) {
		t.Errorf("expected ErrNoActiveRun, got %v", err)
	}
}

func TestCancel_SkipsRunningAndDiscardsLateCompletions(t *testing.T) {
	o := newTestOrchestrator(t, chainDefinition())

	started := make(chan struct{})
	finished := make(chan struct{})
	o.RegisterStepExecutor("a", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		close(finished)
		return map[string]any{"late": true}, nil
	})
	o.RegisterStepExecutor("b", noopExecutor(nil))
	o.RegisterStepExecutor("c", noopExecutor(nil))

	var cancelled int
	o.Bus().Subscribe(bus.EventWorkflowCancelled, func(e *bus.Event) error {
		cancelled++
		return nil
	})

	if _, err := o.StartRun("chain", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started

	msg, err := o.Cancel()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == "" {
		t.Error("cancel should return a message")
	}
	if cancelled != 1 {
		t.Errorf("expected 1 workflow.cancelled event, got %d", cancelled)
	}

	run, err := o.LastRun()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", run.Status)
	}

	// Выполнявшийся шаг пропущен с причиной "cancelled"
	if run.Results["a"].Status != domain.StepStatusSkipped {
		t.Errorf("a: expected SKIPPED, got %s", run.Results["a"].Status)
	}
	if run.Results["a"].Error != "cancelled" {
		t.Errorf("a: unexpected reason %q", run.Results["a"].Error)
	}

	// Позднее завершение executor'а отброшено
	<-finished
	time.Sleep(20 * time.Millisecond)
	run2, _ := o.LastRun()
	if run2.Results["a"].Status != domain.StepStatusSkipped {
		t.Error("late completion must not overwrite a cancelled run")
	}

	// Оркестратор свободен для нового run
	if _, err := o.StartRun("chain", nil); err != nil {
		t.Errorf("expected restart after cancel, got %v", err)
	}
}

func TestGetStatus_Idle(t *testing.T) {
	o := newTestOrchestrator(t, chainDefinition(), diamondDefinition())

	status := o.GetStatus()
	if status.Active {
		t.Error("expected idle status")
	}
	if len(status.Definitions) != 2 {
		t.Errorf("expected 2 definitions, got %v", status.Definitions)
	}
}

func TestGetStatus_ActiveRun(t *testing.T) {
	o := newTestOrchestrator(t, chainDefinition())

	started := make(chan struct{})
	release := make(chan struct{})
	o.RegisterStepExecutor("a", noopExecutor(nil))
	o.RegisterStepExecutor("b", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		close(started)
		<-release
		return nil, nil
	})
	o.RegisterStepExecutor("c", noopExecutor(nil))

	done := subscribeFinished(o)
	runID, err := o.StartRun("chain", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started

	status := o.GetStatus()
	if !status.Active {
		t.Fatal("expected active status")
	}
	if status.RunID != runID {
		t.Error("unexpected run id")
	}
	if status.Progress.Total != 3 {
		t.Errorf("expected total 3, got %d", status.Progress.Total)
	}
	if status.Progress.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", status.Progress.Completed)
	}
	if status.Progress.Running != 1 {
		t.Errorf("expected 1 running, got %d", status.Progress.Running)
	}

	if len(status.RunningSteps) != 1 || status.RunningSteps[0].ID != "b" {
		t.Errorf("unexpected running steps: %v", status.RunningSteps)
	}
	if status.RunningSteps[0].Name != "Step B" {
		t.Errorf("unexpected step name: %q", status.RunningSteps[0].Name)
	}

	if len(status.Results) != 3 {
		t.Errorf("expected full results map, got %v", status.Results)
	}

	close(release)
	waitFinished(t, done)
}

func TestRun_CapabilitiesActivatedAroundStep(t *testing.T) {
	def := &domain.Definition{
		ID: "caps",
		Steps: []domain.StepSpec{
			{ID: "s", Capabilities: []string{"network", "db"}},
		},
	}

	caps := capability.NewRefCountManager(nil)
	o := New(Config{
		Definitions:  newStubSource(def),
		Registry:     executor.NewRegistry(),
		Capabilities: caps,
		BackoffBase:  time.Millisecond,
	})

	o.RegisterStepExecutor("s", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		if !caps.IsActive("network") || !caps.IsActive("db") {
			return nil, errors.New("capabilities not active during execution")
		}
		return nil, nil
	})

	done := subscribeFinished(o)
	if _, err := o.StartRun("caps", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	run, _ := o.LastRun()
	if run.Status != domain.RunStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s: %s", run.Status, run.Results["s"].Error)
	}

	// Capabilities деактивируются независимо от исхода
	deadline := time.After(time.Second)
	for caps.IsActive("network") || caps.IsActive("db") {
		select {
		case <-deadline:
			t.Fatal("capabilities should be deactivated after the step")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRun_LifecycleEvents(t *testing.T) {
	o := newTestOrchestrator(t, chainDefinition())

	for _, id := range []string{"a", "b", "c"} {
		o.RegisterStepExecutor(id, noopExecutor(nil))
	}

	var mu sync.Mutex
	var types []bus.EventType
	record := func(e *bus.Event) error {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
		return nil
	}
	for _, et := range []bus.EventType{
		bus.EventWorkflowStarted, bus.EventStepStarted,
		bus.EventStepCompleted, bus.EventWorkflowCompleted,
	} {
		o.Bus().Subscribe(et, record)
	}

	done := subscribeFinished(o)
	runID, err := o.StartRun("chain", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	mu.Lock()
	defer mu.Unlock()

	if len(types) != 8 {
		t.Fatalf("expected 8 events (started + 3x2 steps + completed), got %v", types)
	}
	if types[0] != bus.EventWorkflowStarted {
		t.Errorf("first event should be workflow.started, got %s", types[0])
	}
	if types[len(types)-1] != bus.EventWorkflowCompleted {
		t.Errorf("last event should be workflow.completed, got %s", types[len(types)-1])
	}

	// Все события run'а несут его correlation id
	history := o.Bus().GetHistory("", 0)
	for _, e := range history {
		if e.CorrelationID != runID.String() {
			t.Errorf("event %s has wrong correlation id %q", e.Type, e.CorrelationID)
		}
	}
}

func TestRegisterStepExecutor_Validation(t *testing.T) {
	o := newTestOrchestrator(t)

	if err := o.RegisterStepExecutor("", noopExecutor(nil)); !errors.Is(err, ErrEmptyStepID) {
		t.Errorf("expected ErrEmptyStepID, got %v", err)
	}
	if err := o.RegisterStepExecutor("s", nil); !errors.Is(err, ErrNilExecutor) {
		t.Errorf("expected ErrNilExecutor, got %v", err)
	}
}

func TestLastRun_NoRuns(t *testing.T) {
	o := newTestOrchestrator(t)

	if _, err := o.LastRun(); !errors.Is(err, ErrNoRuns) {
		t.Errorf("expected ErrNoRuns, got %v", err)
	}
}

func TestRun_InputsAvailableToSteps(t *testing.T) {
	def := &domain.Definition{
		ID:    "inputs",
		Steps: []domain.StepSpec{{ID: "s"}},
	}
	o := newTestOrchestrator(t, def)

	var got any
	o.RegisterStepExecutor("s", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		got = rc.Inputs["env"]
		return nil, nil
	})

	done := subscribeFinished(o)
	if _, err := o.StartRun("inputs", map[string]any{"env": "staging"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFinished(t, done)

	if got != "staging" {
		t.Errorf("expected inputs to reach the executor, got %v", got)
	}
}

// Cancel может сработать, пока scheduling loop заблокирован в Publish
// синхронным подписчиком StepCompleted. Уже полученное completion
// отбрасывается, следующие шаги не запускаются, их executor'ы не
// вызываются.
func TestCancel_DuringCompletionPublish_DispatchesNothing(t *testing.T) {
	o := newTestOrchestrator(t, chainDefinition())

	o.RegisterStepExecutor("a", noopExecutor(nil))
	o.RegisterStepExecutor("c", noopExecutor(nil))

	var mu sync.Mutex
	bRuns := 0
	o.RegisterStepExecutor("b", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		mu.Lock()
		bRuns++
		mu.Unlock()
		return nil, nil
	})

	// Синхронный подписчик держит loop внутри Publish для step.completed(a)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	o.Bus().Subscribe(bus.EventStepCompleted, func(e *bus.Event) error {
		if e.Payload["step_id"] == "a" {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	})

	if _, err := o.StartRun("chain", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("step.completed for a was not published in time")
	}

	// Loop заблокирован после применения a; отменяем run
	if _, err := o.Cancel(); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}

	close(release)

	// Даём loop'у время на (ошибочный) запуск b
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := bRuns
	mu.Unlock()
	if got != 0 {
		t.Errorf("executor of b was invoked %d times after cancel", got)
	}

	for _, e := range o.Bus().GetHistory(bus.EventStepStarted, 0) {
		if e.Payload["step_id"] == "b" {
			t.Errorf("step.started was published for b after cancel")
		}
	}

	run, err := o.LastRun()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", run.Status)
	}
	// a успел завершиться до отмены; b так и не был запланирован
	if run.Results["a"].Status != domain.StepStatusCompleted {
		t.Errorf("expected a COMPLETED, got %s", run.Results["a"].Status)
	}
	if run.Results["b"].Status != domain.StepStatusPending {
		t.Errorf("expected b PENDING, got %s", run.Results["b"].Status)
	}

	// Оркестратор готов к новому run
	done := subscribeFinished(o)
	if _, err := o.StartRun("chain", nil); err != nil {
		t.Errorf("expected restart after cancel, got %v", err)
	}
	waitFinished(t, done)
}
