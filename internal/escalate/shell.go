package escalate

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shiwa/kiosk-timesync/internal/runner"
)

// NameShell имя shell-стратегии.
const NameShell = "shell"

// ShellOptions параметры стратегии "повышение привилегий + date".
type ShellOptions struct {
	// Elevation префиксы argv, которым передаётся строка команды последним аргументом,
	// например ["su", "-c"] или ["sudo", "-n", "sh", "-c"].
	Elevation [][]string
	// DateCommands шаблоны команды date: {datetime}, {mmddhhmm}, {unix}.
	DateCommands []string
	// Hwclock команда записи в аппаратные часы после успеха; пусто = не выполнять.
	Hwclock string
	Runner  runner.Runner
}

// Shell строит стратегию: варианты = каждый префикс Elevation с каждым шаблоном DateCommands,
// сначала все шаблоны под первым префиксом. Стратегия не ограничена кэшем root-shell:
// su пробуется при каждом Apply, даже если проба прав дала Denied.
func Shell(o ShellOptions) Strategy {
	s := Strategy{Name: NameShell}
	for _, prefix := range o.Elevation {
		for _, tmpl := range o.DateCommands {
			s.Variants = append(s.Variants, Variant{
				Name: strings.Join(prefix, " ") + " " + tmpl,
				Invoke: func(ctx context.Context, t time.Time) error {
					return o.Runner.Run(ctx, elevate(prefix, renderDate(tmpl, t)))
				},
			})
		}
	}
	if o.Hwclock != "" {
		s.After = func(ctx context.Context) error {
			var errs []error
			for _, prefix := range o.Elevation {
				err := o.Runner.Run(ctx, elevate(prefix, o.Hwclock))
				if err == nil {
					return nil
				}
				errs = append(errs, err)
			}
			return fmt.Errorf("hwclock: %w", errors.Join(errs...))
		}
	}
	return s
}

func elevate(prefix []string, command string) []string {
	argv := make([]string, 0, len(prefix)+1)
	argv = append(argv, prefix...)
	return append(argv, command)
}

// renderDate подставляет время в шаблон. {datetime} и {mmddhhmm} в локальной зоне,
// так их понимает date без -u.
func renderDate(tmpl string, t time.Time) string {
	lt := t.Local()
	r := strings.NewReplacer(
		"{datetime}", lt.Format("2006-01-02 15:04:05"),
		"{mmddhhmm}", lt.Format("01021504"),
		"{unix}", strconv.FormatInt(t.Unix(), 10),
	)
	return r.Replace(tmpl)
}

// RootShellProber пробы механизма su/sudo.
// Quick: первый элемент какого-либо префикса найден в PATH. Это не значит, что
// повышение разрешено (su без root-пакета, sudo без NOPASSWD).
// Verified: "<префикс> true" завершился с кодом 0 хотя бы для одного префикса.
func RootShellProber(elevation [][]string, r runner.Runner) Prober {
	return rootShellProber(elevation, r, exec.LookPath)
}

func rootShellProber(elevation [][]string, r runner.Runner, lookPath func(string) (string, error)) Prober {
	return Prober{
		Quick: func(context.Context) (bool, error) {
			var errs []error
			for _, prefix := range elevation {
				_, err := lookPath(prefix[0])
				if err == nil {
					return true, nil
				}
				errs = append(errs, err)
			}
			return false, errors.Join(errs...)
		},
		Verified: func(ctx context.Context) (bool, error) {
			var errs []error
			for _, prefix := range elevation {
				err := r.Run(ctx, elevate(prefix, "true"))
				if err == nil {
					return true, nil
				}
				errs = append(errs, err)
				if ctx.Err() != nil {
					break
				}
			}
			return false, errors.Join(errs...)
		},
	}
}
