package escalate

import "sync/atomic"

// State кэшированный результат проверки механизма повышения привилегий.
type State int32

const (
	Unknown State = iota
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

func stateOf(granted bool) State {
	if granted {
		return Granted
	}
	return Denied
}

// Kind механизм, для которого проверяются права.
type Kind string

const (
	KindRootShell  Kind = "root-shell"   // su/sudo, shell-стратегия
	KindCapSysTime Kind = "cap-sys-time" // clock_settime из процесса
	KindTimedated  Kind = "timedated"    // org.freedesktop.timedate1 по system bus
)

// Mode режим пробы.
type Mode int

const (
	// Quick быстрая эвристика (наличие бинаря, сокета, флага capability).
	// Наличие механизма не гарантирует, что он сработает.
	Quick Mode = iota
	// Verified реальная попытка воспользоваться механизмом, ограниченная по времени.
	Verified
)

func (m Mode) String() string {
	if m == Verified {
		return "verified"
	}
	return "quick"
}

// cell ячейка кэша. Переход Unknown -> Granted/Denied выполняется CAS один раз;
// сбросить обратно в Unknown может только reset.
type cell struct {
	v atomic.Int32
}

func (c *cell) load() State {
	return State(c.v.Load())
}

// resolve записывает s, если ячейка ещё Unknown, и возвращает значение, которое в ней осталось.
func (c *cell) resolve(s State) State {
	if c.v.CompareAndSwap(int32(Unknown), int32(s)) {
		return s
	}
	return c.load()
}

func (c *cell) reset() {
	c.v.Store(int32(Unknown))
}
