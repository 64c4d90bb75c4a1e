//go:build linux

package clockadj

import (
	"fmt"
	"os"
	"time"

	"github.com/moby/sys/capability"
	"golang.org/x/sys/unix"
)

// Step устанавливает системное время (скачок) через clock_settime(CLOCK_REALTIME).
// Требует CAP_SYS_TIME или root.
func Step(t time.Time) error {
	ts := unix.NsecToTimespec(t.UnixNano())
	if err := unix.ClockSettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return fmt.Errorf("clock_settime: %w", err)
	}
	return nil
}

// HasSysTimeCapability проверяет CAP_SYS_TIME в эффективном наборе текущего процесса.
func HasSysTimeCapability() (bool, error) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return false, fmt.Errorf("capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return false, fmt.Errorf("load capabilities: %w", err)
	}
	return caps.Get(capability.EFFECTIVE, capability.CAP_SYS_TIME), nil
}

// IsRoot эффективный uid равен 0.
func IsRoot() bool {
	return os.Geteuid() == 0
}
