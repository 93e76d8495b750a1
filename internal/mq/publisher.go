package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypePipelineAction       MessageType = "pipeline.action"
	MessageTypePipelineStateChanged MessageType = "pipeline.state_changed"
	MessageTypeProgramCompiled      MessageType = "program.compiled"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// ParsePayload парсит payload сообщения в конкретный тип.
// После json.Unmarshal payload — map[string]any, поэтому он
// перемаршаливается в целевую структуру.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return out, fmt.Errorf("remarshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("parse payload as %T: %w", out, err)
	}
	return out, nil
}

// PipelineActionPayload — payload запроса действия над pipeline.
// Источники: scheduler (по расписанию) и внешние интеграции.
type PipelineActionPayload struct {
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Action — deploy, pause, resume или shutdown.
	Action string `json:"action"`

	// ScheduleID — расписание-инициатор (если действие по расписанию).
	ScheduleID *uuid.UUID `json:"schedule_id,omitempty"`
}

// PipelineStateChangedPayload — payload события смены статуса pipeline.
type PipelineStateChangedPayload struct {
	PipelineID uuid.UUID `json:"pipeline_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Error      string    `json:"error,omitempty"`
}

// ProgramCompiledPayload — payload события завершения компиляции.
type ProgramCompiledPayload struct {
	ProgramID   uuid.UUID `json:"program_id"`
	Status      string    `json:"status"` // COMPILED или COMPILE_FAILED
	ArtifactRef string    `json:"artifact_ref,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishPipelineAction публикует запрос действия над pipeline.
// Потребитель: Orchestrator.
func (p *Publisher) PublishPipelineAction(ctx context.Context, payload PipelineActionPayload) error {
	return p.Publish(ctx, ExchangePipelines, RoutingKeyAction, newMessage(MessageTypePipelineAction, payload))
}

// PublishPipelineStateChanged публикует событие смены статуса pipeline.
// Потребители: внешние наблюдатели (UI, алёртинг).
func (p *Publisher) PublishPipelineStateChanged(ctx context.Context, payload PipelineStateChangedPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyState, newMessage(MessageTypePipelineStateChanged, payload))
}

// PublishProgramCompiled публикует событие завершения компиляции.
func (p *Publisher) PublishProgramCompiled(ctx context.Context, payload ProgramCompiledPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyState, newMessage(MessageTypeProgramCompiled, payload))
}

func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
