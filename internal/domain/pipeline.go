package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline — развёрнутый экземпляр программы с замороженным набором привязок.
//
// Единственная сущность, которую оркестратор активно супервизирует.
// Создаётся как запись каталога в статусе SHUTDOWN; deploy замораживает
// текущие привязки в Snapshot и запускает runtime-процесс.
//
// Правки привязок после deploy на работающий pipeline не влияют:
// снапшот хранит разрешённые конфигурации, а не живые ссылки.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя pipeline.
	Name string `json:"name"`

	// ProgramID — программа, экземпляром которой является pipeline.
	ProgramID uuid.UUID `json:"program_id"`

	// Status — текущий статус жизненного цикла.
	Status PipelineStatus `json:"status"`

	// Snapshot — привязки, замороженные в момент deploy.
	// Пустой, пока pipeline ни разу не разворачивался.
	Snapshot []AttachedConnector `json:"snapshot,omitempty"`

	// ArtifactRef — артефакт программы, зафиксированный в момент deploy.
	ArtifactRef string `json:"artifact_ref,omitempty"`

	// RuntimeHandle — непрозрачный handle runtime-процесса от супервизора.
	// Пустой, когда процесса нет.
	RuntimeHandle string `json:"runtime_handle,omitempty"`

	// Error — причина последнего отказа (статус FAILED).
	Error string `json:"error,omitempty"`

	// FailedAt — время перехода в FAILED.
	FailedAt *time.Time `json:"failed_at,omitempty"`

	// LastHealthyAt — время последнего успешного health-опроса.
	LastHealthyAt *time.Time `json:"last_healthy_at,omitempty"`

	// Version — версия записи для conditional update.
	Version int `json:"version"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// AttachedConnector — элемент замороженного снапшота привязок.
//
// Копия привязки с разрешённой конфигурацией коннектора на момент deploy.
// Держит id-ссылки для проверки инвариантов, но runtime получает
// именно эти конфигурации, а не актуальные записи каталога.
type AttachedConnector struct {
	// AttachmentID — привязка, из которой сделана копия.
	AttachmentID uuid.UUID `json:"attachment_id"`

	// ConnectorID — коннектор на момент deploy.
	ConnectorID uuid.UUID `json:"connector_id"`

	// ConnectorName — имя коннектора (для диагностики).
	ConnectorName string `json:"connector_name"`

	// Role — роль внутри программы.
	Role string `json:"role"`

	// RoleDirection — сторона роли: INPUT или OUTPUT.
	RoleDirection Direction `json:"role_direction"`

	// Transport — вид транспорта.
	Transport Transport `json:"transport"`

	// Config — разрешённая конфигурация транспорта.
	Config map[string]any `json:"config"`

	// ConnectorVersion — версия коннектора на момент заморозки.
	ConnectorVersion int `json:"connector_version"`
}

// MarkProvisioning фиксирует начало развёртывания: снапшот, артефакт,
// сброс остатков предыдущей попытки.
func (p *Pipeline) MarkProvisioning(artifactRef string, snapshot []AttachedConnector) {
	p.Status = PipelineStatusProvisioning
	p.ArtifactRef = artifactRef
	p.Snapshot = snapshot
	p.RuntimeHandle = ""
	p.Error = ""
	p.FailedAt = nil
	p.LastHealthyAt = nil
}

// MarkRunning переводит pipeline в RUNNING после подтверждения готовности.
func (p *Pipeline) MarkRunning(handle string) {
	now := time.Now().UTC()
	p.Status = PipelineStatusRunning
	p.RuntimeHandle = handle
	p.Error = ""
	p.FailedAt = nil
	p.LastHealthyAt = &now
}

// MarkPaused переводит pipeline в PAUSED после подтверждения квиесценции.
func (p *Pipeline) MarkPaused() {
	p.Status = PipelineStatusPaused
}

// MarkFailed переводит pipeline в FAILED с причиной и временем отказа.
func (p *Pipeline) MarkFailed(reason string) {
	now := time.Now().UTC()
	p.Status = PipelineStatusFailed
	p.Error = reason
	p.FailedAt = &now
}

// MarkShutdown переводит pipeline в SHUTDOWN и отпускает runtime handle.
func (p *Pipeline) MarkShutdown() {
	p.Status = PipelineStatusShutdown
	p.RuntimeHandle = ""
}

// ReferencesAttachment проверяет, содержит ли снапшот привязку.
func (p *Pipeline) ReferencesAttachment(attachmentID uuid.UUID) bool {
	for i := range p.Snapshot {
		if p.Snapshot[i].AttachmentID == attachmentID {
			return true
		}
	}
	return false
}

// ReferencesConnector проверяет, содержит ли снапшот коннектор.
func (p *Pipeline) ReferencesConnector(connectorID uuid.UUID) bool {
	for i := range p.Snapshot {
		if p.Snapshot[i].ConnectorID == connectorID {
			return true
		}
	}
	return false
}
