package source

import (
	"context"
	"fmt"
	"time"
)

// TimeSource источник времени: один ограниченный по времени запрос к серверу.
type TimeSource interface {
	// Query выполняет один обмен с server и не ждёт дольше timeout.
	// Любая ошибка возвращается как *QueryError.
	Query(ctx context.Context, server string, timeout time.Duration) (Sample, error)
}

// Sample результат одного успешного запроса. Неизменяем после создания.
type Sample struct {
	Server         string
	ServerTime     time.Time     // время, сообщённое источником
	LocalAtReceipt time.Time     // локальное время обработки ответа
	Delay          time.Duration // задержка сети (round trip), >= 0
	Offset         time.Duration // смещение: время источника минус локальное, по алгоритму протокола
}

// QueryError ошибка запроса: разрешение имени, таймаут, некорректный ответ.
// Вызывающий различает только успех/неуспех; причина сохраняется для диагностики.
type QueryError struct {
	Server string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Server, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func queryErr(server string, err error) error {
	return &QueryError{Server: server, Err: err}
}
