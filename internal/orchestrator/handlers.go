package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/mq"
)

// handlePipelineAction обрабатывает запрос действия из очереди
// pipelines.actions (источник — scheduler и внешние интеграции).
//
// Ошибки бизнес-логики (неверный переход, несоблюдённое предусловие,
// исчезнувший pipeline) подтверждаются без повтора: перекладывание
// сообщения обратно в очередь их не исправит. Повторяются только
// инфраструктурные сбои.
func (o *Orchestrator) handlePipelineAction(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.PipelineActionPayload](&delivery.Message)
	if err != nil {
		// Ядовитое сообщение: повтор даст тот же результат.
		o.logger.Error("failed to parse pipeline.action payload",
			"message_id", delivery.Message.ID, "error", err)
		return nil
	}

	logger := o.logger.With("pipeline_id", payload.PipelineID, "action", payload.Action)
	if payload.ScheduleID != nil {
		logger = logger.With("schedule_id", *payload.ScheduleID)
	}
	logger.Info("received pipeline action")

	switch domain.ScheduleAction(strings.ToUpper(payload.Action)) {
	case domain.ScheduleActionDeploy:
		_, err = o.Deploy(ctx, payload.PipelineID)
	case domain.ScheduleActionPause:
		_, err = o.Pause(ctx, payload.PipelineID)
	case domain.ScheduleActionResume:
		_, err = o.Resume(ctx, payload.PipelineID)
	case domain.ScheduleActionShutdown:
		_, err = o.Shutdown(ctx, payload.PipelineID)
	default:
		logger.Error("unknown pipeline action")
		return nil
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrPrecondition),
		errors.Is(err, ErrValidation):
		// Ожидаемый отказ: pipeline не в том состоянии, расписание
		// сработало невпопад. Фиксируем и подтверждаем.
		logger.Warn("pipeline action rejected", "reason", err)
		return nil
	case errors.Is(err, ErrConcurrentModification):
		// Гонка с другим писателем — повтор имеет смысл.
		logger.Warn("pipeline action lost version race, requeueing")
		return err
	default:
		logger.Error("pipeline action failed", "error", err)
		return err
	}
}
