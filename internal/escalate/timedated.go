package escalate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
)

// NameTimedated имя стратегии записи времени через systemd-timedated.
const NameTimedated = "timedated"

const (
	timedateDest      = "org.freedesktop.timedate1"
	timedatePath      = dbus.ObjectPath("/org/freedesktop/timedate1")
	timedateIface     = "org.freedesktop.timedate1"
	systemBusSocket   = "/run/dbus/system_bus_socket"
	propertiesGetCall = "org.freedesktop.DBus.Properties.Get"
)

// Bus минимальный доступ к system bus, нужный стратегии.
type Bus interface {
	SetTime(ctx context.Context, t time.Time) error
	CanNTP(ctx context.Context) (bool, error)
	Close() error
}

// DialBus открывает новое соединение с system bus.
type DialBus func(ctx context.Context) (Bus, error)

type systemBus struct {
	conn *dbus.Conn
}

// DialSystemBus подключается к system bus через godbus.
func DialSystemBus(ctx context.Context) (Bus, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}
	return &systemBus{conn: conn}, nil
}

// SetTime вызывает timedate1.SetTime(usec_utc, relative=false, interactive=false).
// Решение принимает polkit; без правила для пользователя вызов будет отклонён.
func (b *systemBus) SetTime(ctx context.Context, t time.Time) error {
	obj := b.conn.Object(timedateDest, timedatePath)
	call := obj.CallWithContext(ctx, timedateIface+".SetTime", 0, t.UnixMicro(), false, false)
	if call.Err != nil {
		return fmt.Errorf("timedate1.SetTime: %w", call.Err)
	}
	return nil
}

func (b *systemBus) CanNTP(ctx context.Context) (bool, error) {
	obj := b.conn.Object(timedateDest, timedatePath)
	var v dbus.Variant
	if err := obj.CallWithContext(ctx, propertiesGetCall, 0, timedateIface, "CanNTP").Store(&v); err != nil {
		return false, fmt.Errorf("timedate1 CanNTP: %w", err)
	}
	can, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("timedate1 CanNTP: unexpected type %s", v.Signature())
	}
	return can, nil
}

func (b *systemBus) Close() error {
	return b.conn.Close()
}

// Timedated стратегия "запись системной настройки": время уходит в systemd-timedated,
// который сам выставляет часы и RTC.
func Timedated(dial DialBus) Strategy {
	if dial == nil {
		dial = DialSystemBus
	}
	return Strategy{
		Name:       NameTimedated,
		Capability: KindTimedated,
		Variants: []Variant{{
			Name: "timedate1.SetTime",
			Invoke: func(ctx context.Context, t time.Time) error {
				bus, err := dial(ctx)
				if err != nil {
					return err
				}
				defer bus.Close()
				return bus.SetTime(ctx, t)
			},
		}},
	}
}

// TimedatedProber пробы timedated.
// Quick: сокет system bus существует. Verified: timedated отвечает на чтение CanNTP.
// Ни одна проба не гарантирует, что polkit разрешит SetTime.
func TimedatedProber(dial DialBus) Prober {
	if dial == nil {
		dial = DialSystemBus
	}
	return timedatedProber(dial, func() error {
		_, err := os.Stat(systemBusSocket)
		return err
	})
}

func timedatedProber(dial DialBus, statSocket func() error) Prober {
	return Prober{
		Quick: func(context.Context) (bool, error) {
			if err := statSocket(); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return false, nil
				}
				return false, err
			}
			return true, nil
		},
		Verified: func(ctx context.Context) (bool, error) {
			bus, err := dial(ctx)
			if err != nil {
				return false, err
			}
			defer bus.Close()
			if _, err := bus.CanNTP(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}
}
