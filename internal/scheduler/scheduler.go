package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/mq"
	"github.com/shaiso/Cascade/internal/repo"
)

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	scheduleRepo *repo.ScheduleRepo
	pipelineRepo *repo.PipelineRepo
	publisher    *mq.Publisher
	logger       *slog.Logger
	batchSize    int
}

// Config — конфигурация Scheduler.
type Config struct {
	ScheduleRepo *repo.ScheduleRepo
	PipelineRepo *repo.PipelineRepo
	Publisher    *mq.Publisher
	Logger       *slog.Logger
	BatchSize    int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Scheduler{
		scheduleRepo: cfg.ScheduleRepo,
		pipelineRepo: cfg.PipelineRepo,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger,
		batchSize:    batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule публикует действие в pipelines.actions
// 3. Обновляет next_due_at и last_fired_at
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.scheduleRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, fired int
	for i := range schedules {
		sched := &schedules[i]

		actionFired, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if actionFired {
			fired++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"actions_fired", fired,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если действие было опубликовано.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// 1. Проверяем, что pipeline существует
	if _, err := s.pipelineRepo.GetByID(ctx, sched.PipelineID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("pipeline not found for schedule, disabling",
				"schedule_id", sched.ID,
				"pipeline_id", sched.PipelineID,
			)
			// Pipeline удалён — расписанию больше некого будить.
			sched.Enabled = false
			if err := s.scheduleRepo.Update(ctx, sched); err != nil {
				return false, fmt.Errorf("disable orphaned schedule: %w", err)
			}
			return false, nil
		}
		return false, fmt.Errorf("get pipeline: %w", err)
	}

	// 2. Публикуем действие. Выполнит его оркестратор по обычным
	// правилам переходов: deploy уже работающего pipeline получит
	// отказ на его стороне, а не здесь.
	scheduleID := sched.ID
	err := s.publisher.PublishPipelineAction(ctx, mq.PipelineActionPayload{
		PipelineID: sched.PipelineID,
		Action:     string(sched.Action),
		ScheduleID: &scheduleID,
	})
	if err != nil {
		// next_due_at не трогаем — расписание сработает на следующем тике
		return false, fmt.Errorf("publish pipeline action: %w", err)
	}

	s.logger.Info("fired scheduled action",
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"pipeline_id", sched.PipelineID,
		"action", sched.Action,
	)

	// 3. Вычисляем следующее время срабатывания
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due, disabling schedule",
			"schedule_id", sched.ID,
			"error", err,
		)
		sched.Enabled = false
		if err := s.scheduleRepo.Update(ctx, sched); err != nil {
			return true, fmt.Errorf("disable broken schedule: %w", err)
		}
		return true, nil
	}

	// 4. Обновляем schedule
	sched.RecordFire(now.UTC(), nextDue)
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return true, fmt.Errorf("update schedule: %w", err)
	}

	return true, nil
}
