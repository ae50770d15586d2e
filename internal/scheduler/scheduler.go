package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/orchestrator"
)

// defaultTickInterval — период проверки расписаний.
const defaultTickInterval = time.Second

// RunStarter запускает run по definition ID.
// Реализуется оркестратором.
type RunStarter interface {
	StartRun(definitionID string, inputs map[string]any) (uuid.UUID, error)
}

// Scheduler запускает definitions по расписанию.
//
// Оркестратор держит не более одного активного run: если расписание
// сработало, когда предыдущий run ещё идёт, запуск пропускается,
// а next_due_at сдвигается вперёд. Пропуск логируется как warning.
type Scheduler struct {
	starter      RunStarter
	logger       *slog.Logger
	tickInterval time.Duration

	mu        sync.Mutex
	schedules []*Schedule
}

// Config — конфигурация Scheduler.
type Config struct {
	Starter      RunStarter
	Schedules    []*Schedule
	Logger       *slog.Logger
	TickInterval time.Duration // период проверки (default: 1s)
}

// New создаёт новый Scheduler. Для каждого enabled-расписания
// вычисляется первое время срабатывания от текущего момента.
func New(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}

	now := time.Now()
	for _, sched := range cfg.Schedules {
		if err := sched.Validate(); err != nil {
			return nil, err
		}
		if !sched.Enabled {
			continue
		}
		next, err := CalculateNextDue(sched, now)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", sched.ID, err)
		}
		sched.NextDueAt = next
	}

	return &Scheduler{
		starter:      cfg.Starter,
		logger:       logger,
		tickInterval: tick,
		schedules:    cfg.Schedules,
	}, nil
}

// Run запускает цикл планировщика до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		"schedules", len(s.schedules),
		"tick_interval", s.tickInterval,
	)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick обрабатывает все due расписания на момент now.
// Ошибка одного расписания не блокирует обработку остальных.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sched := range s.schedules {
		if !sched.Enabled || sched.NextDueAt.IsZero() || sched.NextDueAt.After(now) {
			continue
		}
		s.fire(sched, now)
	}
}

// fire запускает run для одного due расписания и сдвигает next_due_at.
func (s *Scheduler) fire(sched *Schedule, now time.Time) {
	runID, err := s.starter.StartRun(sched.DefinitionID, sched.Inputs)

	switch {
	case err == nil:
		s.logger.Info("scheduled run started",
			"schedule_id", sched.ID,
			"definition_id", sched.DefinitionID,
			"run_id", runID,
		)

	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		// Предыдущий run ещё активен — пропускаем это срабатывание
		s.logger.Warn("schedule fired while a run is active, skipping",
			"schedule_id", sched.ID,
			"definition_id", sched.DefinitionID,
		)

	default:
		s.logger.Error("failed to start scheduled run",
			"schedule_id", sched.ID,
			"definition_id", sched.DefinitionID,
			"error", err,
		)
	}

	next, calcErr := CalculateNextDue(sched, now)
	if calcErr != nil {
		// Расписание стало некорректным — отключаем, чтобы не зациклиться
		s.logger.Error("failed to calculate next due, disabling schedule",
			"schedule_id", sched.ID,
			"error", calcErr,
		)
		sched.Enabled = false
		return
	}

	if err == nil {
		sched.RecordRun(runID, next)
	} else {
		sched.NextDueAt = next
	}
}

// Schedules возвращает snapshot расписаний.
func (s *Scheduler) Schedules() []*Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Schedule, len(s.schedules))
	copy(out, s.schedules)
	return out
}
