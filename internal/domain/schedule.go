package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание действия над pipeline.
//
// Позволяет разворачивать и останавливать pipelines по cron-выражению
// или фиксированному интервалу: например, деплоить тяжёлую выгрузку
// ночью и гасить её утром. Scheduler публикует действие в очередь,
// выполняет его оркестратор по обычным правилам переходов.
type Schedule struct {
	// ID — уникальный идентификатор расписания.
	ID uuid.UUID `json:"id"`

	// PipelineID — pipeline, над которым выполняется действие.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Name — имя расписания (например, "nightly-backfill-start").
	Name string `json:"name"`

	// Action — действие: DEPLOY, PAUSE, RESUME или SHUTDOWN.
	Action ScheduleAction `json:"action"`

	// CronExpr — cron-выражение (пятипольный формат).
	// Взаимоисключимо с IntervalSec.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — IANA timezone для cron-выражений (default: UTC).
	Timezone string `json:"timezone"`

	// Enabled — выключенные расписания не срабатывают.
	Enabled bool `json:"enabled"`

	// NextDueAt — следующее время срабатывания (UTC).
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastFiredAt — время последнего срабатывания.
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordFire фиксирует срабатывание и следующее время.
func (s *Schedule) RecordFire(firedAt, nextDue time.Time) {
	s.LastFiredAt = &firedAt
	s.NextDueAt = &nextDue
}

// IsCron возвращает true, если расписание задано cron-выражением.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание задано интервалом.
func (s *Schedule) IsInterval() bool {
	return s.IntervalSec > 0
}
