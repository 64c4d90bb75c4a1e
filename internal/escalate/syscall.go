package escalate

import (
	"context"
	"time"

	"github.com/shiwa/kiosk-timesync/internal/clockadj"
)

// NameSyscall имя стратегии прямой установки часов.
const NameSyscall = "syscall"

// Syscall стратегия clock_settime из текущего процесса (root или CAP_SYS_TIME).
// step == nil означает clockadj.Step.
func Syscall(step func(time.Time) error) Strategy {
	if step == nil {
		step = clockadj.Step
	}
	return Strategy{
		Name:       NameSyscall,
		Capability: KindCapSysTime,
		Variants: []Variant{{
			Name: "clock_settime",
			Invoke: func(_ context.Context, t time.Time) error {
				return step(t)
			},
		}},
	}
}

// CapSysTimeProber пробы CAP_SYS_TIME.
// Quick: флаг в эффективном наборе capabilities. Verified: то же или euid 0;
// безопасной пробной записи часов не существует.
func CapSysTimeProber() Prober {
	return capSysTimeProber(clockadj.HasSysTimeCapability, clockadj.IsRoot)
}

func capSysTimeProber(hasCap func() (bool, error), isRoot func() bool) Prober {
	return Prober{
		Quick: func(context.Context) (bool, error) {
			return hasCap()
		},
		Verified: func(context.Context) (bool, error) {
			ok, err := hasCap()
			if ok {
				return true, nil
			}
			if isRoot() {
				return true, nil
			}
			return false, err
		},
	}
}
