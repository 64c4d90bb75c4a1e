// kiosk-timesync: синхронизация системных часов киоска с NTP сервером (или NMEA приёмником)
// для устройств без надёжного RTC и без штатной службы времени.
//
// Использование:
//
//	kiosk-timesync run                  # демон: периодическая синхронизация до SIGINT/SIGTERM
//	kiosk-timesync sync -apply          # одна синхронизация с установкой часов
//	kiosk-timesync sync -wait 2m        # повторять до первого успеха (загрузка без сети)
//	kiosk-timesync probe -verified -v   # какие механизмы установки часов доступны
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/shiwa/kiosk-timesync/internal/logger"
	"github.com/shiwa/kiosk-timesync/pkg/config"
)

var (
	configPath = flag.String("config", "", "путь к конфигу YAML или TOML (по умолчанию "+config.DefaultPath+", если есть)")
	quiet      = flag.Bool("quiet", false, "меньше вывода")
	debug      = flag.Bool("debug", false, "отладочный вывод")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Run), "")
	subcommands.Register(new(Sync), "")
	subcommands.Register(new(Probe), "")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kiosk-timesync: config: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}
	closer, err := setupLogging(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kiosk-timesync: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := subcommands.Execute(ctx, cfg)
	_ = closer.Close()
	stop()
	os.Exit(int(status))
}

func setupLogging(c config.LogConfig) (io.Closer, error) {
	logger.Quiet = *quiet
	closer, err := logger.Configure(logger.Config{Level: c.Level, Format: c.Format, File: c.File})
	if err != nil {
		return nil, err
	}
	if *debug {
		logger.SetDebug()
	}
	return closer, nil
}
