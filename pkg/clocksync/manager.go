package clocksync

import (
	"context"
	"fmt"
	"time"

	"github.com/shiwa/kiosk-timesync/internal/escalate"
	"github.com/shiwa/kiosk-timesync/internal/source"
	"github.com/shiwa/kiosk-timesync/internal/timesync"
	"github.com/shiwa/kiosk-timesync/pkg/config"
)

// Метки PermissionStatus.
const (
	LabelRoot     = "root privileges available"
	LabelSettings = "settings access only (clock change may be refused)"
	LabelNone     = "no permission to change the system clock"
)

// Outcome результат одной синхронизации.
type Outcome = timesync.Outcome

// Status статус синхронизации.
type Status = timesync.Status

// Manager точка входа для хоста: периодическая и ручная синхронизация, проверка прав.
type Manager struct {
	cfg   *config.Config
	sched *timesync.Scheduler
	esc   *escalate.Escalator
}

// ManagerOption настройка Manager (в основном для тестов).
type ManagerOption func(*managerOptions)

type managerOptions struct {
	src   source.TimeSource
	esc   *escalate.Escalator
	clock timesync.Clock
}

// WithTimeSource подменяет источник времени.
func WithTimeSource(src source.TimeSource) ManagerOption {
	return func(o *managerOptions) { o.src = src }
}

// WithEscalator подменяет Escalator, собранный по конфигу.
func WithEscalator(e *escalate.Escalator) ManagerOption {
	return func(o *managerOptions) { o.esc = e }
}

// WithClock подменяет часы планировщика.
func WithClock(c timesync.Clock) ManagerOption {
	return func(o *managerOptions) { o.clock = c }
}

// NewManager создаёт Manager по конфигу. cfg == nil означает config.Default().
func NewManager(cfg *config.Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.src == nil {
		o.src = source.NewDispatch(cfg.NMEA.Baud, cfg.NMEA.FixOffset())
	}
	if o.esc == nil {
		esc, err := escalate.FromConfig(cfg.Escalation, escalate.Deps{})
		if err != nil {
			return nil, err
		}
		o.esc = esc
	}
	schedOpts := []timesync.Option{
		timesync.WithTimeout(cfg.QueryTimeout()),
		timesync.ApplyClock(cfg.ShouldAdjustClock()),
	}
	if o.clock != nil {
		schedOpts = append(schedOpts, timesync.WithClock(o.clock))
	}
	return &Manager{
		cfg:   cfg,
		sched: timesync.New(o.src, o.esc, schedOpts...),
		esc:   o.esc,
	}, nil
}

// Start запускает периодическую синхронизацию. Повторный вызов без Stop ничего не делает.
func (m *Manager) Start(intervalMinutes int, server string) error {
	return m.sched.Start(time.Duration(intervalMinutes)*time.Minute, server)
}

// Stop останавливает периодическую синхронизацию, не дожидаясь выхода цикла.
func (m *Manager) Stop() { m.sched.Stop() }

// Wait ждёт выхода периодического цикла после Stop.
func (m *Manager) Wait() { m.sched.Wait() }

// SyncNow одна синхронизация вне расписания; applyClock = пытаться установить системные часы.
func (m *Manager) SyncNow(ctx context.Context, server string, applyClock bool) Outcome {
	return m.sched.SyncNow(ctx, server, applyClock)
}

// Status текущий статус.
func (m *Manager) Status() Status { return m.sched.Status() }

// CorrectedTime локальное время с поправкой на последнее смещение.
func (m *Manager) CorrectedTime() time.Time { return m.sched.CorrectedTime() }

// NeedsSync нужна ли синхронизация при пороге threshold.
func (m *Manager) NeedsSync(threshold time.Duration) bool { return m.sched.NeedsSync(threshold) }

// PermissionStatus человекочитаемая оценка права менять часы.
// Quick не блокирует и может завышать права; Verified пробует механизмы с таймаутом.
func (m *Manager) PermissionStatus(ctx context.Context, mode escalate.Mode) string {
	for _, k := range []escalate.Kind{escalate.KindCapSysTime, escalate.KindRootShell} {
		if m.esc.ProbeCapability(ctx, k, mode) == escalate.Granted {
			return LabelRoot
		}
	}
	if m.esc.ProbeCapability(ctx, escalate.KindTimedated, mode) == escalate.Granted {
		return LabelSettings
	}
	return LabelNone
}

// ClearCache сбрасывает кэш проверок прав.
func (m *Manager) ClearCache() { m.esc.ClearCache() }

// Describe отладочный вывод по всем механизмам.
func (m *Manager) Describe(ctx context.Context) []escalate.CapabilityReport {
	return m.esc.Describe(ctx)
}

// Timezone локальная зона и её смещение от UTC, например "Europe/Moscow (MSK, UTC+03:00)".
func (m *Manager) Timezone() string {
	return formatZone(time.Local, m.sched.CorrectedTime())
}

func formatZone(loc *time.Location, at time.Time) string {
	abbr, off := at.In(loc).Zone()
	sign := '+'
	if off < 0 {
		sign, off = '-', -off
	}
	return fmt.Sprintf("%s (%s, UTC%c%02d:%02d)", loc.String(), abbr, sign, off/3600, off%3600/60)
}
