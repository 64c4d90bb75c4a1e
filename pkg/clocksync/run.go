// Package clocksync предоставляет синхронизацию времени киоска для встраивания:
// Manager для хоста с собственным жизненным циклом и RunDaemon для работы демоном.
package clocksync

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/shiwa/kiosk-timesync/internal/logger"
	"github.com/shiwa/kiosk-timesync/pkg/config"
)

// sdNotify и sdWatchdogEnabled подменяются в тестах.
var (
	sdNotify          = daemon.SdNotify
	sdWatchdogEnabled = daemon.SdWatchdogEnabled
)

// RunDaemon запускает периодическую синхронизацию и монитор статуса до отмены ctx.
// Под systemd сообщает READY/STATUS/STOPPING и отвечает на watchdog.
func RunDaemon(ctx context.Context, cfg *config.Config, quiet bool) error {
	if cfg == nil {
		cfg = config.Default()
	}
	logger.Quiet = quiet
	m, err := NewManager(cfg)
	if err != nil {
		return err
	}
	return runDaemon(ctx, m)
}

// runDaemon работает с конфигом, из которого собран m.
func runDaemon(ctx context.Context, m *Manager) error {
	cfg := m.cfg
	if err := m.Start(cfg.IntervalMinutes, cfg.Server); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}
	defer func() {
		notify(daemon.SdNotifyStopping)
		m.Stop()
		m.Wait()
	}()

	logger.Info("clocksync: server=%s interval=%v adjust_clock=%v strategies=%v",
		cfg.Server, cfg.Interval(), cfg.ShouldAdjustClock(), m.esc.Strategies())
	notify(daemon.SdNotifyReady)

	status := time.NewTicker(cfg.StatusEvery())
	defer status.Stop()

	var watchdog <-chan time.Time
	if every, err := sdWatchdogEnabled(false); err == nil && every > 0 {
		t := time.NewTicker(every / 2)
		defer t.Stop()
		watchdog = t.C
	}

	threshold := cfg.SyncThreshold()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watchdog:
			notify(daemon.SdNotifyWatchdog)
		case <-status.C:
			line := statusLine(m.Status(), m.NeedsSync(threshold), time.Now())
			logger.Info("status: %s", line)
			notify("STATUS=" + line)
		}
	}
}

func notify(state string) {
	if _, err := sdNotify(false, state); err != nil {
		logger.Debug("sd_notify %q: %v", state, err)
	}
}

// statusLine одна строка статуса для лога и systemctl status.
func statusLine(st Status, needsSync bool, now time.Time) string {
	line := "idle"
	if st.IsRunning {
		line = "running"
	}
	if st.Last == nil {
		line += ", never synced"
	} else {
		line += fmt.Sprintf(", offset=%v delay=%v synced %v ago",
			st.Last.Offset, st.Last.Delay, now.Sub(st.Last.At).Truncate(time.Second))
	}
	if needsSync {
		line += ", sync overdue"
	}
	if st.LastError != nil {
		line += ", last error: " + st.LastError.Error()
	}
	return line
}
