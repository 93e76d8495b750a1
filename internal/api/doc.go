// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (оркестратор, репозитории, logger)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (logging, recovery)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go               — Data Transfer Objects (request/response)
//   - program_handler.go   — обработчики для /programs и /attachments
//   - connector_handler.go — обработчики для /connectors
//   - pipeline_handler.go  — обработчики для /pipelines
//   - schedule_handler.go  — обработчики для /schedules
//
// Чтения идут напрямую в репозитории; все записи и переходы статусов
// проходят через Orchestrator — единственного писателя статусов.
package api
