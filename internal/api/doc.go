// Package api реализует HTTP API оркестратора.
//
// Используется стандартный net/http с pattern-based routing (Go 1.22+).
//
// Маршруты:
//   - GET  /api/v1/definitions              — список definitions каталога
//   - GET  /api/v1/definitions/{id}         — definition целиком
//   - POST /api/v1/definitions/{id}/runs    — запуск run
//   - GET  /api/v1/status                   — состояние оркестратора
//   - GET  /api/v1/runs/active              — активный run
//   - POST /api/v1/runs/active/cancel       — отмена активного run
//   - GET  /api/v1/runs/last                — последний завершённый run
//   - GET  /api/v1/runs                     — архив runs (при настроенном RunRepo)
//   - GET  /api/v1/runs/{id}                — run из архива
//   - GET  /api/v1/events                   — история событий шины
//   - GET  /health                          — статус сервиса
//   - GET  /metrics                         — Prometheus метрики
//
// Все ответы в формате JSON: {"data": ...} для успеха,
// {"error": {"code": ..., "message": ...}} для ошибок.
package api
