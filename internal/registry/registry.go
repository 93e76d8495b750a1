package registry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shaiso/Cascade/internal/domain"
)

// schema — схема конфигурации одного вида транспорта.
//
// target возвращает указатель на структуру конфигурации, в которую
// декодируется payload; verify проверяет семантику уже типизированных полей.
type schema struct {
	direction domain.Direction
	target    func() any
	verify    func(any) error
}

// Registry — реестр видов транспорта и их схем конфигурации.
type Registry struct {
	schemas map[domain.Transport]schema
}

// New создаёт реестр с зарегистрированными видами транспорта.
func New() *Registry {
	r := &Registry{schemas: make(map[domain.Transport]schema)}

	r.register(domain.TransportBrokerIn, domain.DirectionInput,
		func() any { return &BrokerConfig{} },
		func(v any) error { return v.(*BrokerConfig).verify() })

	r.register(domain.TransportBrokerOut, domain.DirectionOutput,
		func() any { return &BrokerConfig{} },
		func(v any) error { return v.(*BrokerConfig).verify() })

	r.register(domain.TransportCDCIn, domain.DirectionInput,
		func() any { return &CDCConfig{} },
		func(v any) error { return v.(*CDCConfig).verify() })

	r.register(domain.TransportWarehouseOut, domain.DirectionOutput,
		func() any { return &WarehouseConfig{} },
		func(v any) error { return v.(*WarehouseConfig).verify() })

	r.register(domain.TransportHTTPGet, domain.DirectionInput,
		func() any { return &HTTPGetConfig{} },
		func(v any) error { return v.(*HTTPGetConfig).verify() })

	return r
}

func (r *Registry) register(t domain.Transport, d domain.Direction, target func() any, verify func(any) error) {
	r.schemas[t] = schema{direction: d, target: target, verify: verify}
}

// Known проверяет, зарегистрирован ли вид транспорта.
func (r *Registry) Known(t domain.Transport) bool {
	_, ok := r.schemas[t]
	return ok
}

// Validate проверяет коннектор: вид транспорта известен, направление
// соответствует транспорту, payload декодируется по схеме без
// неизвестных ключей и проходит семантическую проверку.
func (r *Registry) Validate(c *domain.Connector) error {
	s, ok := r.schemas[c.Transport]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransport, c.Transport)
	}

	// INPUT_OUTPUT коннектор допустим для транспорта любой стороны,
	// односторонний обязан совпадать с транспортом.
	if !c.Direction.CompatibleWith(s.direction) {
		return fmt.Errorf("%w: transport %s requires direction %s, connector is %s",
			ErrDirectionMismatch, c.Transport, s.direction, c.Direction)
	}

	target := s.target()
	if err := decodeStrict(c.Config, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := s.verify(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// decodeStrict декодирует payload в структуру схемы.
// Неизвестные ключи — ошибка: опечатка в имени поля не должна
// молча исчезать из конфигурации.
func decodeStrict(input map[string]any, target any) error {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target,
		Metadata:    &md,
		ErrorUnused: true,
		TagName:     "json",
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// --- Схемы конфигураций ---

// BrokerConfig — конфигурация broker_in/broker_out (Kafka-совместимый топик).
type BrokerConfig struct {
	// Brokers — адреса брокеров host:port.
	Brokers []string `json:"brokers"`

	// Topic — имя топика.
	Topic string `json:"topic"`

	// GroupID — consumer group (только для broker_in).
	GroupID string `json:"group_id,omitempty"`

	// CredentialsRef — ссылка на секрет с учётными данными.
	CredentialsRef string `json:"credentials_ref,omitempty"`
}

func (c *BrokerConfig) verify() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers is required")
	}
	for _, b := range c.Brokers {
		if !strings.Contains(b, ":") {
			return fmt.Errorf("broker %q: expected host:port", b)
		}
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}

// CDCConfig — конфигурация cdc_in (change-data-capture из реляционной БД).
type CDCConfig struct {
	// ConnectionRef — ссылка на секрет с DSN исходной базы.
	ConnectionRef string `json:"connection_ref"`

	// Tables — отслеживаемые таблицы (schema.table).
	Tables []string `json:"tables"`

	// SlotName — имя слота репликации (опционально).
	SlotName string `json:"slot_name,omitempty"`
}

func (c *CDCConfig) verify() error {
	if c.ConnectionRef == "" {
		return fmt.Errorf("connection_ref is required")
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("tables is required")
	}
	return nil
}

// WarehouseConfig — конфигурация warehouse_out (выгрузка в хранилище).
type WarehouseConfig struct {
	// ConnectionRef — ссылка на секрет с DSN хранилища.
	ConnectionRef string `json:"connection_ref"`

	// Table — целевая таблица.
	Table string `json:"table"`

	// BatchRows — размер батча выгрузки (опционально, >0).
	BatchRows int `json:"batch_rows,omitempty"`
}

func (c *WarehouseConfig) verify() error {
	if c.ConnectionRef == "" {
		return fmt.Errorf("connection_ref is required")
	}
	if c.Table == "" {
		return fmt.Errorf("table is required")
	}
	if c.BatchRows < 0 {
		return fmt.Errorf("batch_rows must be positive")
	}
	return nil
}

// HTTPGetConfig — конфигурация http_get (периодический HTTP GET источник).
type HTTPGetConfig struct {
	// URL — опрашиваемый адрес (http/https).
	URL string `json:"url"`

	// PollIntervalSec — период опроса в секундах (опционально, >0).
	PollIntervalSec int `json:"poll_interval_sec,omitempty"`

	// Headers — дополнительные заголовки запроса.
	Headers map[string]string `json:"headers,omitempty"`
}

func (c *HTTPGetConfig) verify() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q: expected absolute http(s) URL", c.URL)
	}
	if c.PollIntervalSec < 0 {
		return fmt.Errorf("poll_interval_sec must be positive")
	}
	return nil
}
