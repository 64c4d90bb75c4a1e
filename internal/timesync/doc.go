// Package timesync планирует синхронизацию времени и хранит её статус.
//
// Scheduler выполняет попытку синхронизации (запрос к источнику времени и,
// если нужно, установку системных часов через escalate) периодически в
// фоновой горутине и по запросу через SyncNow. Обе ветки могут работать
// одновременно; результат каждой завершённой попытки публикуется в Store.
//
// Правила публикации:
//
//	успех:   Last = {At, Offset, Delay} этой попытки, LastError = nil
//	неудача: Last без изменений,                     LastError = ошибка
//
// Last заменяется только целиком, поэтому смещение, задержка и время
// последней синхронизации всегда относятся к одной попытке. Порядок между
// двумя одновременно завершившимися попытками не гарантируется: побеждает
// последняя записавшая.
//
// Периодический цикл прерывается Stop во время ожидания следующего цикла или
// сразу после таймаута текущего запроса. Результат попытки, цикл которой уже
// остановлен, не публикуется.
package timesync
