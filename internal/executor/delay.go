package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

const (
	// TypeDelay — тип шага задержки.
	TypeDelay = "delay"

	// Ключи конфигурации delay.
	configDurationSec = "duration_sec"
	configDurationMs  = "duration_ms"
)

// DelayExecutor приостанавливает выполнение на указанное время.
//
// Поддерживает отмену через context cancellation.
//
// Конфигурация:
//
//	{
//	    "duration_sec": 10,    // задержка в секундах
//	    // или
//	    "duration_ms": 5000    // задержка в миллисекундах
//	}
type DelayExecutor struct{}

// NewDelayExecutor создаёт новый DelayExecutor.
func NewDelayExecutor() *DelayExecutor {
	return &DelayExecutor{}
}

// Type возвращает тип шага.
func (e *DelayExecutor) Type() string {
	return TypeDelay
}

// Execute выполняет задержку.
func (e *DelayExecutor) Execute(ctx context.Context, step *domain.StepSpec, rc *RunContext) (map[string]any, error) {
	config, err := RenderConfig(step.Config, rc)
	if err != nil {
		return nil, err
	}

	duration, err := e.parseDuration(config)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrExecutionCancelled, ctx.Err())
	case <-timer.C:
		return map[string]any{
			"duration_ms": duration.Milliseconds(),
		}, nil
	}
}

func (e *DelayExecutor) parseDuration(config map[string]any) (time.Duration, error) {
	if sec := GetConfigInt(config, configDurationSec); sec > 0 {
		return time.Duration(sec) * time.Second, nil
	}

	if ms := GetConfigInt(config, configDurationMs); ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}

	return 0, fmt.Errorf("%w: %s: duration_sec or duration_ms required",
		ErrInvalidConfig, TypeDelay)
}
