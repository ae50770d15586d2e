package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrAlreadyRunning — попытка запустить run при уже активном run.
	ErrAlreadyRunning = errors.New("a run is already active")

	// ErrUnknownDefinition — definition не найден в каталоге.
	ErrUnknownDefinition = errors.New("unknown definition")

	// ErrNoActiveRun — операция требует активного run.
	ErrNoActiveRun = errors.New("no active run")

	// ErrNoRuns — ещё не было ни одного завершённого run.
	ErrNoRuns = errors.New("no finished runs")

	// ErrEmptyStepID — пустой id шага при регистрации executor'а.
	ErrEmptyStepID = errors.New("empty step id")

	// ErrNilExecutor — nil executor при регистрации.
	ErrNilExecutor = errors.New("nil step executor")

	// ErrStepTimeout — шаг превысил таймаут. Терминальная ошибка,
	// retry не выполняется.
	ErrStepTimeout = errors.New("step timed out")
)
