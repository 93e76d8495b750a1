package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/supervisor"
)

// spawnProvision запускает горутину развёртывания pipeline.
//
// handle непустой при возобновлении после рестарта: процесс уже
// запущен, остаётся дождаться готовности. Повторный spawn для того же
// pipeline — no-op: развёртыванием владеет ровно одна горутина.
func (o *Orchestrator) spawnProvision(pipelineID uuid.UUID, handle string) {
	parent := o.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	if !o.beginProvisioning(pipelineID, cancel) {
		cancel()
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.endProvisioning(pipelineID)
		o.provision(ctx, pipelineID, handle)
	}()
}

// provision доводит PROVISIONING-pipeline до RUNNING или FAILED.
//
// Два шага: запуск процесса у супервизора (с backoff-повторами)
// и ожидание готовности. RUNNING записывается в каталог строго после
// того, как health-опрос увидел живой процесс.
func (o *Orchestrator) provision(ctx context.Context, pipelineID uuid.UUID, handle string) {
	logger := o.logger.With("pipeline_id", pipelineID)

	if handle == "" {
		started, ok := o.startRuntime(ctx, pipelineID, logger)
		if !ok {
			return
		}
		handle = started
	}

	o.watchReadiness(ctx, pipelineID, handle, logger)
}

// startRuntime запускает процесс и записывает handle в каталог.
func (o *Orchestrator) startRuntime(ctx context.Context, pipelineID uuid.UUID, logger *slog.Logger) (string, bool) {
	p, err := o.pipelines.GetByID(ctx, pipelineID)
	if err != nil {
		logger.Warn("provisioning aborted: cannot read pipeline", "error", err)
		return "", false
	}
	if p.Status != domain.PipelineStatusProvisioning {
		// Shutdown успел раньше запуска.
		return "", false
	}

	req := supervisor.StartRequest{
		PipelineID:  p.ID,
		ArtifactRef: p.ArtifactRef,
		Connectors:  p.Snapshot,
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = o.provisioningTimeout / 2

	var handle string
	err = backoff.Retry(func() error {
		h, err := o.supervisor.Start(ctx, req)
		if errors.Is(err, supervisor.ErrStartFailed) {
			// Супервизор отказал по существу — повторять бессмысленно.
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		handle = h
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		o.failPipeline(ctx, pipelineID, fmt.Sprintf("runtime start failed: %v", err))
		return "", false
	}

	logger.Info("runtime started, awaiting readiness", "handle", handle)

	_, err = o.updatePipeline(ctx, pipelineID, func(pl *domain.Pipeline) error {
		if pl.Status != domain.PipelineStatusProvisioning {
			return errStaleObservation
		}
		pl.RuntimeHandle = handle
		return nil
	})
	if errors.Is(err, errStaleObservation) {
		// Pipeline ушёл из PROVISIONING, пока процесс стартовал —
		// свежезапущенный процесс осиротел, добиваем.
		o.reapOrphan(handle)
		return "", false
	}
	if err != nil {
		logger.Warn("failed to record runtime handle", "error", err)
		o.reapOrphan(handle)
		return "", false
	}
	return handle, true
}

// watchReadiness ждёт, пока процесс подтвердит готовность.
func (o *Orchestrator) watchReadiness(ctx context.Context, pipelineID uuid.UUID, handle string, logger *slog.Logger) {
	deadline := o.clock.Now().Add(o.provisioningTimeout)
	ticker := o.clock.Ticker(o.readinessPollInterval)
	defer ticker.Stop()

	for o.clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state, err := o.supervisor.Health(ctx, handle)
		if err != nil && !errors.Is(err, supervisor.ErrUnknownHandle) {
			// Недоступность супервизора — не наблюдение смерти.
			continue
		}

		switch state {
		case supervisor.HealthAlive, supervisor.HealthDegraded:
			if state == supervisor.HealthDegraded {
				logger.Warn("runtime ready but degraded", "handle", handle)
			}
			o.promoteRunning(ctx, pipelineID, handle, logger)
			return
		case supervisor.HealthDead:
			o.failPipeline(ctx, pipelineID, "runtime died during provisioning")
			return
		default:
			// UNKNOWN — ждём дальше.
		}
	}

	o.reapOrphan(handle)
	o.failPipeline(ctx, pipelineID, fmt.Sprintf(
		"runtime did not become ready within %s", o.provisioningTimeout))
}

// promoteRunning записывает RUNNING после подтверждённой готовности.
//
// Перед записью перепроверяет программу: правка, проскочившая в окно
// между проверкой предусловий deploy и записью PROVISIONING, не должна
// довести pipeline до RUNNING на недействительном артефакте.
func (o *Orchestrator) promoteRunning(ctx context.Context, pipelineID uuid.UUID, handle string, logger *slog.Logger) {
	p, err := o.pipelines.GetByID(ctx, pipelineID)
	if err != nil {
		logger.Warn("promotion aborted: cannot read pipeline", "error", err)
		return
	}
	if p.Status != domain.PipelineStatusProvisioning {
		return
	}

	program, err := o.programs.GetByID(ctx, p.ProgramID)
	switch {
	case errors.Is(err, repo.ErrNotFound),
		err == nil && program.Status != domain.ProgramStatusCompiled,
		err == nil && program.ArtifactRef != p.ArtifactRef:
		o.reapOrphan(handle)
		o.failPipeline(ctx, pipelineID, "program was modified during provisioning")
		return
	case err != nil:
		// Транзиентный сбой чтения не блокирует готовый процесс.
		logger.Warn("program recheck skipped", "error", err)
	}

	updated, err := o.updatePipeline(ctx, pipelineID, func(pl *domain.Pipeline) error {
		if pl.Status != domain.PipelineStatusProvisioning {
			return errStaleObservation
		}
		pl.MarkRunning(handle)
		return nil
	})
	if errors.Is(err, errStaleObservation) {
		// Shutdown обогнал готовность; процессом займётся он.
		return
	}
	if err != nil {
		logger.Warn("failed to promote pipeline to running", "error", err)
		return
	}

	logger.Info("pipeline running", "handle", handle)
	o.publishStateChange(ctx, updated, domain.PipelineStatusProvisioning)
}

// reapOrphan добивает процесс, который каталог так и не зафиксировал.
// Контекст не используется: уборка должна пройти и при отменённом ctx.
func (o *Orchestrator) reapOrphan(handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.shutdownGrace)
	defer cancel()
	if err := o.supervisor.Signal(ctx, handle, supervisor.SignalKill); err != nil &&
		!errors.Is(err, supervisor.ErrUnknownHandle) {
		o.logger.Error("failed to reap orphaned runtime", "handle", handle, "error", err)
	}
}
