package timesync

import "time"

// Clock источник текущего времени и таймеров для планировщика.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock Clock на системном времени.
type RealClock struct{}

// Now возвращает текущее системное время.
func (RealClock) Now() time.Time { return time.Now() }

// After как time.After.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
