package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/repo"
)

// Операции каталога проходят через оркестратор: он единственный, кто
// знает, какие записи прямо сейчас заморожены в снапшотах развёрнутых
// pipelines, и не даст выбить землю из-под живого процесса.

// nonShutdown — статусы, в которых pipeline удерживает свой снапшот.
var nonShutdown = []domain.PipelineStatus{
	domain.PipelineStatusProvisioning,
	domain.PipelineStatusRunning,
	domain.PipelineStatusPaused,
	domain.PipelineStatusFailed,
}

// --- Programs ---

// CreateProgram регистрирует новую программу в статусе UNCOMPILED.
func (o *Orchestrator) CreateProgram(ctx context.Context, name, source string) (*domain.Program, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: program name is required", ErrValidation)
	}
	if source == "" {
		return nil, fmt.Errorf("%w: program source is required", ErrValidation)
	}

	p := &domain.Program{
		ID:        uuid.New(),
		Name:      name,
		Source:    source,
		Status:    domain.ProgramStatusUncompiled,
		CreatedAt: time.Now().UTC(),
	}
	p.UpdatedAt = p.CreatedAt

	err := o.programs.Create(ctx, p)
	if errors.Is(err, repo.ErrAlreadyExists) {
		return nil, fmt.Errorf("%w: program name %q is already in use", ErrValidation, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create program: %v", ErrInternal, err)
	}
	return p, nil
}

// UpdateProgram изменяет имя и/или исходник программы.
//
// expectedVersion — версия, которую вызывающий прочитал; устаревшая
// запись отклоняется без повторов (повтор — решение пользователя).
// Правка исходника инвалидирует компиляцию: статус откатывается
// в UNCOMPILED, задание в полёте отменяется.
func (o *Orchestrator) UpdateProgram(ctx context.Context, id uuid.UUID, name, source *string, expectedVersion int) (*domain.Program, error) {
	p, err := o.programs.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: program %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read program: %v", ErrInternal, err)
	}

	if err := o.guardProgramMutable(ctx, id); err != nil {
		return nil, err
	}

	if name != nil {
		if *name == "" {
			return nil, fmt.Errorf("%w: program name cannot be empty", ErrValidation)
		}
		p.Name = *name
	}
	if source != nil && *source != p.Source {
		if *source == "" {
			return nil, fmt.Errorf("%w: program source cannot be empty", ErrValidation)
		}
		o.CancelCompile(ctx, id)
		p.Source = *source
		p.InvalidateCompilation()
	}

	err = o.programs.UpdateConditional(ctx, p, expectedVersion)
	if errors.Is(err, repo.ErrVersionConflict) {
		return nil, fmt.Errorf("%w: program %s", ErrConcurrentModification, id)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: program %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update program: %v", ErrInternal, err)
	}
	return p, nil
}

// DeleteProgram удаляет программу с каскадным отвязыванием коннекторов.
//
// Отказ, пока существует хоть один pipeline программы (в любом
// статусе): сперва удаляются pipelines, потом программа.
func (o *Orchestrator) DeleteProgram(ctx context.Context, id uuid.UUID) error {
	refs, err := o.pipelines.ListByProgram(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: list pipelines: %v", ErrInternal, err)
	}
	if len(refs) > 0 {
		return fmt.Errorf("%w: program is referenced by %d pipeline(s)", ErrPrecondition, len(refs))
	}

	o.CancelCompile(ctx, id)

	if err := o.attachments.DeleteByProgram(ctx, id); err != nil {
		return fmt.Errorf("%w: detach connectors: %v", ErrInternal, err)
	}

	err = o.programs.Delete(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: program %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: delete program: %v", ErrInternal, err)
	}

	o.logger.Info("program deleted", "program_id", id)
	return nil
}

// guardProgramMutable отклоняет мутацию программы, на которую
// ссылается pipeline вне SHUTDOWN.
func (o *Orchestrator) guardProgramMutable(ctx context.Context, id uuid.UUID) error {
	refs, err := o.pipelines.ListByProgram(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: list pipelines: %v", ErrInternal, err)
	}
	for i := range refs {
		if refs[i].Status != domain.PipelineStatusShutdown {
			return fmt.Errorf("%w: program is referenced by pipeline %q in status %s",
				ErrPrecondition, refs[i].Name, refs[i].Status)
		}
	}
	return nil
}

// --- Connectors ---

// CreateConnector регистрирует коннектор после структурной валидации.
func (o *Orchestrator) CreateConnector(ctx context.Context, c *domain.Connector) (*domain.Connector, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("%w: connector name is required", ErrValidation)
	}
	switch c.Direction {
	case domain.DirectionInput, domain.DirectionOutput, domain.DirectionInputOutput:
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrValidation, c.Direction)
	}
	if err := o.registry.Validate(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()

	err := o.connectors.Create(ctx, c)
	if errors.Is(err, repo.ErrAlreadyExists) {
		return nil, fmt.Errorf("%w: connector name %q is already in use", ErrValidation, c.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create connector: %v", ErrInternal, err)
	}
	return c, nil
}

// UpdateConnector изменяет коннектор.
//
// Отказ, пока коннектор заморожен в снапшоте pipeline вне SHUTDOWN:
// работающий процесс держит старую конфигурацию, и каталог не должен
// расходиться с ней молча. Новая конфигурация проходит реестр заново.
func (o *Orchestrator) UpdateConnector(ctx context.Context, c *domain.Connector, expectedVersion int) (*domain.Connector, error) {
	if err := o.guardConnectorMutable(ctx, c.ID); err != nil {
		return nil, err
	}
	if err := o.registry.Validate(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	err := o.connectors.UpdateConditional(ctx, c, expectedVersion)
	if errors.Is(err, repo.ErrVersionConflict) {
		return nil, fmt.Errorf("%w: connector %s", ErrConcurrentModification, c.ID)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: connector %s", ErrNotFound, c.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update connector: %v", ErrInternal, err)
	}
	return c, nil
}

// DeleteConnector удаляет коннектор с каскадным отвязыванием.
func (o *Orchestrator) DeleteConnector(ctx context.Context, id uuid.UUID) error {
	if err := o.guardConnectorMutable(ctx, id); err != nil {
		return err
	}

	if err := o.attachments.DeleteByConnector(ctx, id); err != nil {
		return fmt.Errorf("%w: detach connector: %v", ErrInternal, err)
	}

	err := o.connectors.Delete(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: connector %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: delete connector: %v", ErrInternal, err)
	}

	o.logger.Info("connector deleted", "connector_id", id)
	return nil
}

// guardConnectorMutable отклоняет мутацию коннектора, замороженного
// в снапшоте pipeline вне SHUTDOWN.
func (o *Orchestrator) guardConnectorMutable(ctx context.Context, id uuid.UUID) error {
	deployed, err := o.pipelines.ListByStatus(ctx, nonShutdown...)
	if err != nil {
		return fmt.Errorf("%w: list pipelines: %v", ErrInternal, err)
	}
	for i := range deployed {
		if deployed[i].ReferencesConnector(id) {
			return fmt.Errorf("%w: connector is frozen in snapshot of pipeline %q (%s)",
				ErrPrecondition, deployed[i].Name, deployed[i].Status)
		}
	}
	return nil
}

// --- Attachments ---

// Attach привязывает коннектор к именованной роли программы.
//
// Роль в пределах программы занимается не более чем одним коннектором;
// направление коннектора обязано покрывать сторону роли. Привязка
// к работающей программе допустима — действовать она начнёт со
// следующего deploy.
func (o *Orchestrator) Attach(ctx context.Context, programID, connectorID uuid.UUID, role string, roleDirection domain.Direction) (*domain.Attachment, error) {
	if role == "" {
		return nil, fmt.Errorf("%w: role is required", ErrValidation)
	}
	if roleDirection != domain.DirectionInput && roleDirection != domain.DirectionOutput {
		return nil, fmt.Errorf("%w: role direction must be INPUT or OUTPUT, got %q",
			ErrValidation, roleDirection)
	}

	if _, err := o.programs.GetByID(ctx, programID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: program %s", ErrNotFound, programID)
		}
		return nil, fmt.Errorf("%w: read program: %v", ErrInternal, err)
	}

	conn, err := o.connectors.GetByID(ctx, connectorID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: connector %s", ErrNotFound, connectorID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read connector: %v", ErrInternal, err)
	}

	if !conn.Direction.CompatibleWith(roleDirection) {
		return nil, fmt.Errorf("%w: %s connector %q cannot serve %s role %q",
			ErrValidation, conn.Direction, conn.Name, roleDirection, role)
	}
	if err := o.registry.Validate(conn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	a := &domain.Attachment{
		ID:            uuid.New(),
		ProgramID:     programID,
		ConnectorID:   connectorID,
		Role:          role,
		RoleDirection: roleDirection,
		CreatedAt:     time.Now().UTC(),
	}

	err = o.attachments.Create(ctx, a)
	if errors.Is(err, repo.ErrAlreadyExists) {
		return nil, fmt.Errorf("%w: role %q is already occupied", ErrValidation, role)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create attachment: %v", ErrInternal, err)
	}

	o.logger.Info("connector attached",
		"program_id", programID, "connector_id", connectorID, "role", role)
	return a, nil
}

// Detach удаляет привязку.
//
// Отказ, пока привязка заморожена в снапшоте pipeline вне SHUTDOWN.
// Привязки, не попавшие ни в один снапшот, отвязываются свободно.
func (o *Orchestrator) Detach(ctx context.Context, attachmentID uuid.UUID) error {
	if _, err := o.attachments.GetByID(ctx, attachmentID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
		}
		return fmt.Errorf("%w: read attachment: %v", ErrInternal, err)
	}

	deployed, err := o.pipelines.ListByStatus(ctx, nonShutdown...)
	if err != nil {
		return fmt.Errorf("%w: list pipelines: %v", ErrInternal, err)
	}
	for i := range deployed {
		if deployed[i].ReferencesAttachment(attachmentID) {
			return fmt.Errorf("%w: attachment is frozen in snapshot of pipeline %q (%s)",
				ErrPrecondition, deployed[i].Name, deployed[i].Status)
		}
	}

	err = o.attachments.Delete(ctx, attachmentID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
	}
	if err != nil {
		return fmt.Errorf("%w: delete attachment: %v", ErrInternal, err)
	}

	o.logger.Info("connector detached", "attachment_id", attachmentID)
	return nil
}

// --- Pipelines ---

// CreatePipeline создаёт pipeline в статусе SHUTDOWN.
func (o *Orchestrator) CreatePipeline(ctx context.Context, name string, programID uuid.UUID) (*domain.Pipeline, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: pipeline name is required", ErrValidation)
	}

	if _, err := o.programs.GetByID(ctx, programID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: program %s", ErrNotFound, programID)
		}
		return nil, fmt.Errorf("%w: read program: %v", ErrInternal, err)
	}

	p := &domain.Pipeline{
		ID:        uuid.New(),
		Name:      name,
		ProgramID: programID,
		Status:    domain.PipelineStatusShutdown,
		CreatedAt: time.Now().UTC(),
	}
	p.UpdatedAt = p.CreatedAt

	if err := o.pipelines.Create(ctx, p); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: pipeline name %q is already in use", ErrValidation, name)
		}
		return nil, fmt.Errorf("%w: create pipeline: %v", ErrInternal, err)
	}
	return p, nil
}

// DeletePipeline удаляет pipeline. Допустимо только из SHUTDOWN.
func (o *Orchestrator) DeletePipeline(ctx context.Context, id uuid.UUID) error {
	err := o.pipelines.Delete(ctx, id)
	if errors.Is(err, repo.ErrInvalidState) {
		return fmt.Errorf("%w: only SHUTDOWN pipelines can be deleted", ErrPrecondition)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: pipeline %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: delete pipeline: %v", ErrInternal, err)
	}

	o.resetMisses(id)
	o.logger.Info("pipeline deleted", "pipeline_id", id)
	return nil
}
