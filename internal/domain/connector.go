package domain

import (
	"time"

	"github.com/google/uuid"
)

// Connector — настроенная привязка к внешнему источнику или приёмнику данных.
//
// Коннектор — самостоятельная сущность: он может быть привязан
// к нескольким программам или не привязан вовсе. Сам по себе данные
// не двигает — конфигурация проверяется структурно при регистрации,
// исполняет её runtime.
type Connector struct {
	// ID — уникальный идентификатор коннектора.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя коннектора (например, "orders-topic", "dw-sink").
	Name string `json:"name"`

	// Direction — направление: INPUT, OUTPUT или INPUT_OUTPUT.
	Direction Direction `json:"direction"`

	// Transport — вид транспорта (broker_in, cdc_in, warehouse_out, ...).
	Transport Transport `json:"transport"`

	// Config — конфигурация транспорта (payload фиксированной схемы).
	// Схема зависит от Transport и проверяется реестром коннекторов.
	Config map[string]any `json:"config"`

	// Version — версия записи для conditional update.
	Version int `json:"version"`

	// CreatedAt — время регистрации.
	CreatedAt time.Time `json:"created_at"`
}

// Attachment — привязка коннектора к именованной роли программы.
//
// Ребро графа: держит слабые ссылки (id) на программу и коннектор,
// а не владеет ими. Удаление любой из сторон — явный каскадный detach,
// висячих ссылок не бывает.
type Attachment struct {
	// ID — уникальный идентификатор привязки.
	ID uuid.UUID `json:"id"`

	// ProgramID — слабая ссылка на программу.
	ProgramID uuid.UUID `json:"program_id"`

	// ConnectorID — слабая ссылка на коннектор.
	ConnectorID uuid.UUID `json:"connector_id"`

	// Role — именованный входной/выходной поток программы
	// (например, "input0", "enriched_out").
	Role string `json:"role"`

	// RoleDirection — сторона роли: INPUT или OUTPUT.
	RoleDirection Direction `json:"role_direction"`

	// Version — версия записи для conditional update.
	Version int `json:"version"`

	// CreatedAt — время привязки.
	CreatedAt time.Time `json:"created_at"`
}
