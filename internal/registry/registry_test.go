package registry

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
)

func connector(transport domain.Transport, direction domain.Direction, config map[string]any) *domain.Connector {
	return &domain.Connector{
		ID:        uuid.New(),
		Name:      "test-connector",
		Direction: direction,
		Transport: transport,
		Config:    config,
	}
}

func TestValidate_BrokerIn_Valid(t *testing.T) {
	r := New()
	c := connector(domain.TransportBrokerIn, domain.DirectionInput, map[string]any{
		"brokers":  []any{"localhost:9092"},
		"topic":    "orders",
		"group_id": "cascade",
	})

	if err := r.Validate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_BrokerIn_MissingTopic(t *testing.T) {
	r := New()
	c := connector(domain.TransportBrokerIn, domain.DirectionInput, map[string]any{
		"brokers": []any{"localhost:9092"},
	})

	err := r.Validate(c)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate_BrokerIn_BadBrokerAddress(t *testing.T) {
	r := New()
	c := connector(domain.TransportBrokerIn, domain.DirectionInput, map[string]any{
		"brokers": []any{"localhost"},
		"topic":   "orders",
	})

	if err := r.Validate(c); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate_UnknownKeyRejected(t *testing.T) {
	r := New()
	c := connector(domain.TransportBrokerIn, domain.DirectionInput, map[string]any{
		"brokers": []any{"localhost:9092"},
		"topic":   "orders",
		"topci":   "typo",
	})

	if err := r.Validate(c); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unknown key, got %v", err)
	}
}

func TestValidate_DirectionMismatch(t *testing.T) {
	r := New()
	// broker_out — выходной транспорт, коннектор заявлен как INPUT.
	c := connector(domain.TransportBrokerOut, domain.DirectionInput, map[string]any{
		"brokers": []any{"localhost:9092"},
		"topic":   "enriched",
	})

	if err := r.Validate(c); !errors.Is(err, ErrDirectionMismatch) {
		t.Fatalf("expected ErrDirectionMismatch, got %v", err)
	}
}

func TestValidate_InputOutputConnectorAllowed(t *testing.T) {
	r := New()
	c := connector(domain.TransportBrokerOut, domain.DirectionInputOutput, map[string]any{
		"brokers": []any{"localhost:9092"},
		"topic":   "enriched",
	})

	if err := r.Validate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownTransport(t *testing.T) {
	r := New()
	c := connector(domain.Transport("ftp_in"), domain.DirectionInput, map[string]any{})

	if err := r.Validate(c); !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("expected ErrUnknownTransport, got %v", err)
	}
}

func TestValidate_CDC(t *testing.T) {
	r := New()

	valid := connector(domain.TransportCDCIn, domain.DirectionInput, map[string]any{
		"connection_ref": "secret://prod-db",
		"tables":         []any{"public.orders"},
	})
	if err := r.Validate(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	noTables := connector(domain.TransportCDCIn, domain.DirectionInput, map[string]any{
		"connection_ref": "secret://prod-db",
	})
	if err := r.Validate(noTables); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate_Warehouse(t *testing.T) {
	r := New()
	c := connector(domain.TransportWarehouseOut, domain.DirectionOutput, map[string]any{
		"connection_ref": "secret://dw",
		"table":          "analytics.events",
		"batch_rows":     5000,
	})

	if err := r.Validate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_HTTPGet(t *testing.T) {
	r := New()

	valid := connector(domain.TransportHTTPGet, domain.DirectionInput, map[string]any{
		"url":               "https://example.com/feed.json",
		"poll_interval_sec": 60,
	})
	if err := r.Validate(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	badURL := connector(domain.TransportHTTPGet, domain.DirectionInput, map[string]any{
		"url": "not-a-url",
	})
	if err := r.Validate(badURL); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
