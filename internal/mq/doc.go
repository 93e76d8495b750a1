// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//
// Типы сообщений:
//   - pipeline.action        — запрошенное действие над pipeline (deploy/pause/resume/shutdown)
//   - pipeline.state_changed — pipeline перешёл в новый статус
//   - program.compiled       — завершилась компиляция программы
//
// Exchanges:
//   - cascade.pipelines — действия над pipelines (потребитель: оркестратор)
//   - cascade.events    — события состояния для внешних наблюдателей
//   - cascade.dlq       — dead letter queue
package mq
