package escalate

import (
	"fmt"
	"time"

	"github.com/shiwa/kiosk-timesync/internal/runner"
	"github.com/shiwa/kiosk-timesync/pkg/config"
)

// Deps внешние зависимости стратегий; нулевые поля заменяются реальными реализациями.
type Deps struct {
	Runner runner.Runner
	Step   func(time.Time) error
	Dial   DialBus
}

// FromConfig собирает Escalator по секции escalation: стратегии в заданном порядке,
// пробы регистрируются для всех механизмов (нужны PermissionStatus и Describe).
func FromConfig(c config.EscalationConfig, d Deps, opts ...Option) (*Escalator, error) {
	if d.Runner == nil {
		d.Runner = runner.Exec{Timeout: c.Shell.CommandBound()}
	}
	if d.Dial == nil {
		d.Dial = DialSystemBus
	}
	var strategies []Strategy
	for _, name := range c.Strategies {
		switch name {
		case config.StrategySyscall:
			strategies = append(strategies, Syscall(d.Step))
		case config.StrategyShell:
			strategies = append(strategies, Shell(ShellOptions{
				Elevation:    c.Shell.Elevation,
				DateCommands: c.Shell.DateCommands,
				Hwclock:      c.Shell.Hwclock(),
				Runner:       d.Runner,
			}))
		case config.StrategyTimedated:
			strategies = append(strategies, Timedated(d.Dial))
		default:
			return nil, fmt.Errorf("escalate: unknown strategy %q", name)
		}
	}
	base := []Option{
		WithProber(KindCapSysTime, CapSysTimeProber()),
		WithProber(KindRootShell, RootShellProber(c.Shell.Elevation, d.Runner)),
		WithProber(KindTimedated, TimedatedProber(d.Dial)),
		WithProbeTimeout(c.ProbeBound()),
		WithLockFile(c.LockPath()),
	}
	return New(strategies, append(base, opts...)...), nil
}
