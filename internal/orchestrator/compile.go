package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/compiler"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/mq"
	"github.com/shaiso/Cascade/internal/repo"
)

// RequestCompile запрашивает компиляцию программы.
//
// Допустим из UNCOMPILED и COMPILE_FAILED. Повторный запрос на
// COMPILING программу коалесцируется: возвращается job id задания
// в полёте, новое не создаётся. Отправка синхронная (быстрый HTTP
// POST с повторами внутри клиента), сама компиляция асинхронная —
// результат заберёт цикл опроса.
func (o *Orchestrator) RequestCompile(ctx context.Context, programID uuid.UUID) (*domain.Program, error) {
	if jobID, ok := o.trackedCompileJob(programID); ok {
		o.logger.Debug("compile request coalesced", "program_id", programID, "job_id", jobID)
		p, err := o.programs.GetByID(ctx, programID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: program %s", ErrNotFound, programID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read program: %v", ErrInternal, err)
		}
		return p, nil
	}

	p, err := o.programs.GetByID(ctx, programID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: program %s", ErrNotFound, programID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read program: %v", ErrInternal, err)
	}

	// COMPILING с сохранённым job id, но без трекинга — задание из
	// прошлой жизни manager; переподхватываем вместо новой отправки.
	if p.Status == domain.ProgramStatusCompiling && p.CompileJobID != "" {
		o.trackCompileJob(p.ID, p.CompileJobID)
		return p, nil
	}

	if !p.Status.CanRequestCompile() {
		return nil, fmt.Errorf("%w: cannot compile program in status %s", ErrPrecondition, p.Status)
	}

	updated, err := o.updateProgram(ctx, programID, func(pr *domain.Program) error {
		if pr.Status == domain.ProgramStatusCompiling {
			return errStaleObservation
		}
		if !pr.Status.CanRequestCompile() {
			return fmt.Errorf("%w: cannot compile program in status %s", ErrPrecondition, pr.Status)
		}
		pr.MarkCompiling()
		return nil
	})
	if errors.Is(err, errStaleObservation) {
		// Конкурентный запрос выиграл гонку — его задание и вернём.
		return o.programs.GetByID(ctx, programID)
	}
	if err != nil {
		return nil, err
	}

	jobID, err := o.compiler.Submit(ctx, updated.ID, updated.Source)
	if err != nil {
		reason := fmt.Sprintf("failed to submit compile job: %v", err)
		o.logger.Error("compile submission failed", "program_id", programID, "error", err)
		compileJobsTotal.WithLabelValues("submit_failed").Inc()

		if _, ferr := o.updateProgram(ctx, programID, func(pr *domain.Program) error {
			if pr.Status != domain.ProgramStatusCompiling {
				return errStaleObservation
			}
			pr.MarkCompileFailed(reason)
			return nil
		}); ferr != nil && !errors.Is(ferr, errStaleObservation) {
			o.logger.Error("failed to record submission failure", "program_id", programID, "error", ferr)
		}
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	updated, err = o.updateProgram(ctx, programID, func(pr *domain.Program) error {
		if pr.Status != domain.ProgramStatusCompiling {
			return errStaleObservation
		}
		pr.CompileJobID = jobID
		return nil
	})
	if errors.Is(err, errStaleObservation) {
		// Программу успели изменить (правка исходника, удаление) —
		// задание больше никому не нужно.
		o.cancelJob(jobID)
		return o.programs.GetByID(ctx, programID)
	}
	if err != nil {
		return nil, err
	}

	o.trackCompileJob(programID, jobID)
	compileJobsTotal.WithLabelValues("submitted").Inc()
	o.logger.Info("compile job submitted", "program_id", programID, "job_id", jobID)
	return updated, nil
}

// CancelCompile отменяет задание компиляции программы, если оно в полёте.
// Best effort: поздний результат отменённого задания игнорируется.
func (o *Orchestrator) CancelCompile(ctx context.Context, programID uuid.UUID) {
	jobID, ok := o.trackedCompileJob(programID)
	if !ok {
		return
	}
	o.untrackCompileJob(programID)
	o.cancelJob(jobID)
	o.logger.Info("compile job cancelled", "program_id", programID, "job_id", jobID)
}

func (o *Orchestrator) cancelJob(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.compilePollInterval)
	defer cancel()
	if err := o.compiler.Cancel(ctx, jobID); err != nil {
		o.logger.Warn("failed to cancel compile job", "job_id", jobID, "error", err)
	}
}

// compileLoop периодически опрашивает задания компиляции в полёте.
func (o *Orchestrator) compileLoop(ctx context.Context) {
	ticker := o.clock.Ticker(o.compilePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollCompileJobs(ctx)
		}
	}
}

// pollCompileJobs выполняет один цикл опроса компилятора.
func (o *Orchestrator) pollCompileJobs(ctx context.Context) {
	for programID, jobID := range o.snapshotCompileJobs() {
		result, err := o.compiler.Poll(ctx, jobID)
		if errors.Is(err, compiler.ErrJobNotFound) {
			// Компилятор потерял задание (рестарт, чистка очереди) —
			// результата не будет, честный исход — COMPILE_FAILED.
			o.logger.Warn("compile job lost by compiler",
				"program_id", programID, "job_id", jobID)
			o.finishCompile(ctx, programID, jobID, "", "compile job lost by compiler")
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Транзиентный сбой — задание остаётся в полёте до
			// следующего тика.
			o.logger.Debug("compile poll failed, will retry",
				"program_id", programID, "job_id", jobID, "error", err)
			continue
		}

		switch result.State {
		case compiler.JobStatePending:
			// Ещё компилируется.
		case compiler.JobStateSuccess:
			o.finishCompile(ctx, programID, jobID, result.ArtifactRef, "")
		case compiler.JobStateFailure:
			o.finishCompile(ctx, programID, jobID, "", result.Diagnostics)
		}
	}
}

// finishCompile записывает результат компиляции в каталог.
//
// Пустая diagnostics означает успех. Запись выполняется только если
// программа всё ещё ждёт именно это задание: правка исходника во
// время компиляции инвалидирует результат, и он молча отбрасывается.
func (o *Orchestrator) finishCompile(ctx context.Context, programID uuid.UUID, jobID, artifactRef, diagnostics string) {
	o.untrackCompileJob(programID)

	updated, err := o.updateProgram(ctx, programID, func(pr *domain.Program) error {
		if pr.Status != domain.ProgramStatusCompiling || pr.CompileJobID != jobID {
			return errStaleObservation
		}
		if diagnostics == "" {
			pr.MarkCompiled(artifactRef)
		} else {
			pr.MarkCompileFailed(diagnostics)
		}
		return nil
	})
	if errors.Is(err, errStaleObservation) {
		o.logger.Info("discarding stale compile result",
			"program_id", programID, "job_id", jobID)
		return
	}
	if err != nil {
		o.logger.Error("failed to record compile result",
			"program_id", programID, "job_id", jobID, "error", err)
		return
	}

	if diagnostics == "" {
		compileJobsTotal.WithLabelValues("success").Inc()
		o.logger.Info("program compiled",
			"program_id", programID, "artifact_ref", artifactRef)
	} else {
		compileJobsTotal.WithLabelValues("failure").Inc()
		o.logger.Warn("program compilation failed", "program_id", programID)
	}

	if o.publisher != nil {
		err := o.publisher.PublishProgramCompiled(ctx, mq.ProgramCompiledPayload{
			ProgramID:   updated.ID,
			Status:      string(updated.Status),
			ArtifactRef: updated.ArtifactRef,
		})
		if err != nil {
			o.logger.Warn("failed to publish compile event",
				"program_id", programID, "error", err)
		}
	}
}
