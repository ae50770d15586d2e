package scheduler

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Schedule — расписание автоматического запуска definition.
//
// Задаётся либо cron-выражением (5 полей), либо интервалом в секундах.
// Ровно одно из двух должно быть установлено.
type Schedule struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	DefinitionID string         `yaml:"definition_id"`
	CronExpr     string         `yaml:"cron,omitempty"`
	IntervalSec  int            `yaml:"interval_sec,omitempty"`
	Timezone     string         `yaml:"timezone,omitempty"`
	Inputs       map[string]any `yaml:"inputs,omitempty"`
	Enabled      bool           `yaml:"enabled"`

	// Runtime-состояние, не сериализуется
	NextDueAt time.Time `yaml:"-"`
	LastRunID uuid.UUID `yaml:"-"`
	LastRunAt time.Time `yaml:"-"`
}

// IsCron возвращает true, если расписание задано cron-выражением.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание задано интервалом.
func (s *Schedule) IsInterval() bool {
	return s.IntervalSec > 0
}

// Validate проверяет корректность расписания.
func (s *Schedule) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("schedule has empty id")
	}
	if s.DefinitionID == "" {
		return fmt.Errorf("schedule %q has empty definition_id", s.ID)
	}
	if s.IsCron() == s.IsInterval() {
		return fmt.Errorf("schedule %q must set exactly one of cron or interval_sec", s.ID)
	}
	if s.IsCron() {
		if err := ValidateCronExpr(s.CronExpr); err != nil {
			return fmt.Errorf("schedule %q: %w", s.ID, err)
		}
	}
	return nil
}

// RecordRun фиксирует запущенный run и следующее время выполнения.
func (s *Schedule) RecordRun(runID uuid.UUID, nextDue time.Time) {
	s.LastRunID = runID
	s.LastRunAt = time.Now()
	s.NextDueAt = nextDue
}

// scheduleFile — формат YAML-файла расписаний.
type scheduleFile struct {
	Schedules []*Schedule `yaml:"schedules"`
}

// LoadFile загружает расписания из YAML-файла.
//
// Формат:
//
//	schedules:
//	  - id: nightly-report
//	    definition_id: report-pipeline
//	    cron: "0 3 * * *"
//	    timezone: Europe/Moscow
//	    enabled: true
func LoadFile(path string) ([]*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}

	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schedule file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Schedules))
	for _, sched := range file.Schedules {
		if err := sched.Validate(); err != nil {
			return nil, err
		}
		if seen[sched.ID] {
			return nil, fmt.Errorf("duplicate schedule id %q", sched.ID)
		}
		seen[sched.ID] = true
	}

	return file.Schedules, nil
}
