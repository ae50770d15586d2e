// Package orchestrator реализует планировщик выполнения runs.
//
// Структура:
//   - orchestrator.go — Orchestrator: StartRun/Cancel/GetStatus,
//     событийный scheduling loop, retry и таймауты
//   - state.go        — runState: состояние активного run в памяти
//   - status.go       — snapshot-типы для GetStatus
//   - errors.go       — ошибки оркестратора
package orchestrator
