package timesync

import (
	"errors"
	"time"

	"github.com/shiwa/kiosk-timesync/internal/escalate"
	"github.com/shiwa/kiosk-timesync/internal/source"
)

var (
	// ErrInvalidInterval интервал периодической синхронизации не положителен.
	ErrInvalidInterval = errors.New("timesync: interval must be positive")
	// ErrEmptyServer сервер не задан.
	ErrEmptyServer = errors.New("timesync: server is empty")
)

// Trigger что запустило попытку.
type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerManual   Trigger = "manual"
)

// Outcome результат одной попытки синхронизации. Не изменяется после создания.
type Outcome struct {
	ID        string
	Trigger   Trigger
	Server    string
	Succeeded bool
	// Sample есть только при Succeeded.
	Sample *source.Sample
	// Mutation NotAttempted, если часы не трогали (не просили или запрос не удался).
	Mutation escalate.Mutation
	Strategy string // стратегия, установившая часы
	// MutationErr причина Mutation == Failed; на Succeeded не влияет.
	MutationErr error
	// Err есть только при !Succeeded.
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// ErrorDetail текст ошибки запроса; пусто при успехе.
func (o Outcome) ErrorDetail() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Measurement данные последней успешной синхронизации.
type Measurement struct {
	At     time.Time     // локальное время завершения попытки
	Offset time.Duration // время источника минус локальное
	Delay  time.Duration
}

// Status текущее известное состояние.
type Status struct {
	IsRunning bool
	// Last nil, пока не было ни одной успешной синхронизации. Неудачи его не сбрасывают.
	Last *Measurement
	// LastError ошибка последней завершённой попытки; nil после успеха.
	LastError error
}

// next вычисляет статус после попытки o.
func (s Status) next(o Outcome, at time.Time, running bool) Status {
	n := Status{IsRunning: running, Last: s.Last, LastError: s.LastError}
	if o.Succeeded {
		n.Last = &Measurement{At: at, Offset: o.Sample.Offset, Delay: o.Sample.Delay}
		n.LastError = nil
	} else {
		n.LastError = o.Err
	}
	return n
}
