// Package mq — интеграция с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим reconnect
//   - topology.go   — topic-обменник cascade.events и audit-очередь
//   - publisher.go  — публикация событий
//   - bridge.go     — асинхронный мост внутренней шины во внешний брокер
package mq
