package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/supervisor"
)

// Deploy разворачивает pipeline: замораживает снапшот привязок,
// переводит запись в PROVISIONING и асинхронно запускает runtime.
//
// Допустим из SHUTDOWN и FAILED (повторный deploy из FAILED — неявный
// сброс). Предусловия: программа в COMPILED, каждая привязка ссылается
// на живой коннектор, конфигурации проходят валидацию реестра.
// Возврат означает принятый запуск, а не работающий процесс:
// готовность подтверждается асинхронно, RUNNING появится в каталоге
// только после неё.
func (o *Orchestrator) Deploy(ctx context.Context, pipelineID uuid.UUID) (*domain.Pipeline, error) {
	p, err := o.pipelines.GetByID(ctx, pipelineID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: pipeline %s", ErrNotFound, pipelineID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read pipeline: %v", ErrInternal, err)
	}
	if !p.Status.CanDeploy() {
		return nil, fmt.Errorf("%w: cannot deploy from %s", ErrInvalidTransition, p.Status)
	}

	program, err := o.programs.GetByID(ctx, p.ProgramID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: program %s no longer exists", ErrPrecondition, p.ProgramID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read program: %v", ErrInternal, err)
	}
	if program.Status != domain.ProgramStatusCompiled {
		return nil, fmt.Errorf("%w: program %q is %s, expected COMPILED",
			ErrPrecondition, program.Name, program.Status)
	}

	snapshot, err := o.buildSnapshot(ctx, program.ID)
	if err != nil {
		return nil, err
	}

	from := p.Status
	updated, err := o.updatePipeline(ctx, pipelineID, func(pl *domain.Pipeline) error {
		if !pl.Status.CanDeploy() {
			return fmt.Errorf("%w: cannot deploy from %s", ErrInvalidTransition, pl.Status)
		}
		pl.MarkProvisioning(program.ArtifactRef, snapshot)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("pipeline deploy accepted",
		"pipeline_id", pipelineID,
		"program_id", program.ID,
		"connectors", len(snapshot),
	)

	o.spawnProvision(pipelineID, "")
	o.publishStateChange(ctx, updated, from)
	return updated, nil
}

// buildSnapshot собирает замороженную копию привязок программы.
//
// Каждая привязка разрешается в актуальную запись коннектора; конфиг
// копируется в снапшот как есть. Исчезнувший коннектор или конфиг,
// переставший проходить валидацию, блокируют deploy целиком.
func (o *Orchestrator) buildSnapshot(ctx context.Context, programID uuid.UUID) ([]domain.AttachedConnector, error) {
	atts, err := o.attachments.ListByProgram(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("%w: list attachments: %v", ErrInternal, err)
	}

	snapshot := make([]domain.AttachedConnector, 0, len(atts))
	for i := range atts {
		att := &atts[i]

		conn, err := o.connectors.GetByID(ctx, att.ConnectorID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: attachment %q references missing connector %s",
				ErrPrecondition, att.Role, att.ConnectorID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read connector: %v", ErrInternal, err)
		}

		if err := o.registry.Validate(conn); err != nil {
			return nil, fmt.Errorf("%w: connector %q failed validation: %v",
				ErrPrecondition, conn.Name, err)
		}

		snapshot = append(snapshot, domain.AttachedConnector{
			AttachmentID:     att.ID,
			ConnectorID:      conn.ID,
			ConnectorName:    conn.Name,
			Role:             att.Role,
			RoleDirection:    att.RoleDirection,
			Transport:        conn.Transport,
			Config:           conn.Config,
			ConnectorVersion: conn.Version,
		})
	}
	return snapshot, nil
}

// Pause приостанавливает потребление входных данных работающего pipeline.
//
// Сначала сигнал супервизору (успех означает подтверждённую
// квиесценцию), потом запись PAUSED в каталог. Порядок принципиален:
// каталог не фиксирует паузу, которой не было.
func (o *Orchestrator) Pause(ctx context.Context, pipelineID uuid.UUID) (*domain.Pipeline, error) {
	p, err := o.pipelines.GetByID(ctx, pipelineID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: pipeline %s", ErrNotFound, pipelineID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read pipeline: %v", ErrInternal, err)
	}
	if p.Status != domain.PipelineStatusRunning {
		return nil, fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, p.Status)
	}
	if p.RuntimeHandle == "" {
		return nil, fmt.Errorf("%w: running pipeline %s has no runtime handle", ErrInternal, pipelineID)
	}

	if err := o.supervisor.Signal(ctx, p.RuntimeHandle, supervisor.SignalPause); err != nil {
		return nil, fmt.Errorf("%w: pause signal: %v", ErrSupervisor, err)
	}

	updated, err := o.updatePipeline(ctx, pipelineID, func(pl *domain.Pipeline) error {
		if pl.Status != domain.PipelineStatusRunning {
			return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, pl.Status)
		}
		pl.MarkPaused()
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("pipeline paused", "pipeline_id", pipelineID)
	o.publishStateChange(ctx, updated, domain.PipelineStatusRunning)
	return updated, nil
}

// Resume возобновляет потребление приостановленного pipeline.
func (o *Orchestrator) Resume(ctx context.Context, pipelineID uuid.UUID) (*domain.Pipeline, error) {
	p, err := o.pipelines.GetByID(ctx, pipelineID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: pipeline %s", ErrNotFound, pipelineID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read pipeline: %v", ErrInternal, err)
	}
	if p.Status != domain.PipelineStatusPaused {
		return nil, fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, p.Status)
	}
	if p.RuntimeHandle == "" {
		return nil, fmt.Errorf("%w: paused pipeline %s has no runtime handle", ErrInternal, pipelineID)
	}

	if err := o.supervisor.Signal(ctx, p.RuntimeHandle, supervisor.SignalResume); err != nil {
		return nil, fmt.Errorf("%w: resume signal: %v", ErrSupervisor, err)
	}

	updated, err := o.updatePipeline(ctx, pipelineID, func(pl *domain.Pipeline) error {
		if pl.Status != domain.PipelineStatusPaused {
			return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, pl.Status)
		}
		pl.MarkRunning(pl.RuntimeHandle)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("pipeline resumed", "pipeline_id", pipelineID)
	o.publishStateChange(ctx, updated, domain.PipelineStatusPaused)
	return updated, nil
}

// Shutdown останавливает runtime-процесс и переводит pipeline в SHUTDOWN.
//
// Идемпотентен: shutdown уже остановленного pipeline — no-op.
// Допустим из любого статуса. Процесс получает terminate; если за
// grace period он не умер — kill. Каталог в любом случае приходит
// в SHUTDOWN: спасать нечего, процесс либо мёртв, либо добит.
func (o *Orchestrator) Shutdown(ctx context.Context, pipelineID uuid.UUID) (*domain.Pipeline, error) {
	p, err := o.pipelines.GetByID(ctx, pipelineID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: pipeline %s", ErrNotFound, pipelineID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read pipeline: %v", ErrInternal, err)
	}
	if p.Status == domain.PipelineStatusShutdown {
		return p, nil
	}

	// Горутина развёртывания (если есть) не должна пересечь shutdown
	// поздним переходом в RUNNING.
	o.cancelProvisioning(pipelineID)

	if p.RuntimeHandle != "" {
		o.terminateRuntime(ctx, pipelineID, p.RuntimeHandle)
	}

	from := p.Status
	updated, err := o.updatePipeline(ctx, pipelineID, func(pl *domain.Pipeline) error {
		if pl.Status == domain.PipelineStatusShutdown {
			return errStaleObservation
		}
		pl.MarkShutdown()
		return nil
	})
	if errors.Is(err, errStaleObservation) {
		// Кто-то успел раньше — идемпотентный исход.
		return o.pipelines.GetByID(ctx, pipelineID)
	}
	if err != nil {
		return nil, err
	}

	o.resetMisses(pipelineID)
	o.logger.Info("pipeline shut down", "pipeline_id", pipelineID, "from", from)
	o.publishStateChange(ctx, updated, from)
	return updated, nil
}

// terminateRuntime мягко завершает процесс, после grace period — добивает.
//
// Ошибок не возвращает: переход в SHUTDOWN не отменяется из-за
// недоступного супервизора. Если terminate не дошёл, мягкого завершения
// не будет — процесс сразу добивается kill.
func (o *Orchestrator) terminateRuntime(ctx context.Context, pipelineID uuid.UUID, handle string) {
	err := o.supervisor.Signal(ctx, handle, supervisor.SignalTerminate)
	if errors.Is(err, supervisor.ErrUnknownHandle) {
		// Процесс уже исчез — завершать нечего.
		return
	}
	if err != nil {
		o.logger.Warn("terminate signal failed, force killing runtime",
			"pipeline_id", pipelineID, "handle", handle, "error", err)
		o.forceKill(pipelineID, handle)
		return
	}

	deadline := o.clock.Now().Add(o.shutdownGrace)
	ticker := o.clock.Ticker(o.shutdownPollInterval)
	defer ticker.Stop()

	for o.clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			// Ждать больше не можем — добиваем сразу.
			o.forceKill(pipelineID, handle)
			return
		case <-ticker.C:
		}

		state, err := o.supervisor.Health(ctx, handle)
		if errors.Is(err, supervisor.ErrUnknownHandle) || state == supervisor.HealthDead {
			return
		}
		if err != nil {
			// Супервизор молчит — ждём дальше в пределах grace period.
			continue
		}
	}

	o.logger.Warn("grace period expired, force killing runtime",
		"pipeline_id", pipelineID, "handle", handle)
	o.forceKill(pipelineID, handle)
}

// forceKill добивает процесс. Свой контекст: уборка должна пройти
// и при отменённом ctx вызывающего.
func (o *Orchestrator) forceKill(pipelineID uuid.UUID, handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.shutdownGrace)
	defer cancel()
	if err := o.supervisor.Signal(ctx, handle, supervisor.SignalKill); err != nil &&
		!errors.Is(err, supervisor.ErrUnknownHandle) {
		o.logger.Error("force kill failed", "pipeline_id", pipelineID, "handle", handle, "error", err)
	}
}

// failPipeline переводит pipeline в FAILED из асинхронного наблюдения.
//
// Наблюдение могло устареть: если pipeline уже не в активном статусе,
// отказ не записывается.
func (o *Orchestrator) failPipeline(ctx context.Context, pipelineID uuid.UUID, reason string) {
	var from domain.PipelineStatus
	updated, err := o.updatePipeline(ctx, pipelineID, func(pl *domain.Pipeline) error {
		if !pl.Status.IsActive() {
			return errStaleObservation
		}
		from = pl.Status
		pl.MarkFailed(reason)
		return nil
	})
	if errors.Is(err, errStaleObservation) {
		return
	}
	if err != nil {
		o.logger.Error("failed to mark pipeline failed",
			"pipeline_id", pipelineID, "reason", reason, "error", err)
		return
	}

	o.resetMisses(pipelineID)
	o.logger.Warn("pipeline failed", "pipeline_id", pipelineID, "reason", reason)
	o.publishStateChange(ctx, updated, from)
}
