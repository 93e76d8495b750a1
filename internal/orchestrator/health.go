package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/supervisor"
)

// healthLoop — цикл health-реконсиляции.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	ticker := o.clock.Ticker(o.healthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reconcileHealth(ctx)
		}
	}
}

// reconcileHealth сверяет каталог с реальностью супервизора.
//
// Опрашиваются pipelines, предполагающие живой процесс. Один Dead —
// ещё не смерть (супервизор мог моргнуть), deadThreshold подряд —
// уже FAILED. Unknown не считается наблюдением и не сбрасывает
// счётчик: недоступность супервизора не должна ни ронять pipeline,
// ни маскировать его реальную смерть.
func (o *Orchestrator) reconcileHealth(ctx context.Context) {
	active, err := o.pipelines.ListByStatus(ctx,
		domain.PipelineStatusProvisioning,
		domain.PipelineStatusRunning,
		domain.PipelineStatusPaused,
	)
	if err != nil {
		o.logger.Error("health reconcile: failed to list active pipelines", "error", err)
		return
	}

	for i := range active {
		p := &active[i]

		// Развёртывание наблюдает собственная горутина.
		if o.isProvisioning(p.ID) {
			continue
		}

		if p.RuntimeHandle == "" {
			// Активный статус без процесса — нарушенный инвариант
			// (например, вычищенный супервизор).
			o.failPipeline(ctx, p.ID, "active pipeline has no runtime handle")
			continue
		}

		o.probePipeline(ctx, p)
	}
}

// probePipeline выполняет один health-опрос pipeline.
func (o *Orchestrator) probePipeline(ctx context.Context, p *domain.Pipeline) {
	state, err := o.supervisor.Health(ctx, p.RuntimeHandle)
	if err != nil && !errors.Is(err, supervisor.ErrUnknownHandle) {
		state = supervisor.HealthUnknown
	}

	healthProbesTotal.WithLabelValues(string(state)).Inc()

	switch state {
	case supervisor.HealthAlive, supervisor.HealthDegraded:
		o.resetMisses(p.ID)
		if err := o.pipelines.TouchHealth(ctx, p.ID, o.clock.Now().UTC()); err != nil {
			o.logger.Warn("failed to record health timestamp",
				"pipeline_id", p.ID, "error", err)
		}
		if state == supervisor.HealthDegraded {
			o.logger.Warn("pipeline runtime degraded", "pipeline_id", p.ID)
		}

	case supervisor.HealthDead:
		misses := o.bumpMisses(p.ID)
		o.logger.Warn("pipeline runtime not responding",
			"pipeline_id", p.ID, "consecutive", misses, "threshold", o.deadThreshold)
		if misses >= o.deadThreshold {
			o.failPipeline(ctx, p.ID, fmt.Sprintf(
				"runtime process dead for %d consecutive probes", misses))
		}

	default:
		// UNKNOWN — ни наблюдение смерти, ни признак жизни.
		o.logger.Debug("pipeline health unknown", "pipeline_id", p.ID)
	}
}
