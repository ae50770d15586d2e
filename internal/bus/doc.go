// Package bus реализует шину событий жизненного цикла (pub/sub).
//
// Структура:
//   - event.go   — Event и типы событий
//   - bus.go     — Bus: подписки, middleware, Publish/PublishAndWait
//   - history.go — кольцевой буфер последних событий
//
// Гарантии:
//   - Синхронные обработчики одного Publish вызываются в порядке
//     регистрации и завершаются до возврата Publish
//   - Асинхронные обработчики разных Publish могут перемежаться
//     произвольно между собой и с последующими синхронными
//   - Сбой обработчика изолирован: он логируется и публикуется как
//     вторичное событие error.occurred, не прерывая остальных
//   - История хранит события до middleware ("record raw, deliver
//     filtered"): фильтрация доставки не искажает audit trail
package bus
