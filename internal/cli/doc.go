// Package cli реализует команды Cascade CLI.
//
// CLI общается с сервером через HTTP API и не импортирует
// внутренние пакеты оркестратора: типы ответов дублируются
// в client.go, чтобы клиент можно было собрать отдельно.
//
// Структура:
//   - client.go     — HTTP-клиент API и типы запросов/ответов
//   - definition.go — команды definition list/show
//   - run.go        — команды run start/status/cancel/last/list/show
//   - events.go     — команда events
//   - output.go     — форматирование вывода (таблицы/JSON)
package cli
