package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"

	"github.com/shiwa/kiosk-timesync/internal/escalate"
	"github.com/shiwa/kiosk-timesync/internal/logger"
	"github.com/shiwa/kiosk-timesync/pkg/clocksync"
	"github.com/shiwa/kiosk-timesync/pkg/config"
)

// Run команда "run": демон периодической синхронизации.
type Run struct {
	server          string
	intervalMinutes int
}

// Name реализует subcommands.Command.
func (*Run) Name() string { return "run" }

// Synopsis реализует subcommands.Command.
func (*Run) Synopsis() string { return "periodic clock sync until SIGINT/SIGTERM" }

// Usage реализует subcommands.Command.
func (*Run) Usage() string { return "run [-server S] [-interval-minutes N]\n" }

// SetFlags реализует subcommands.Command.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.server, "server", "", "NTP сервер или nmea:<порт> (переопределяет config)")
	f.IntVar(&r.intervalMinutes, "interval-minutes", 0, "период синхронизации в минутах (переопределяет config)")
}

// Execute реализует subcommands.Command.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg := args[0].(*config.Config)
	if r.server != "" {
		cfg.Server = r.server
	}
	if r.intervalMinutes != 0 {
		cfg.IntervalMinutes = r.intervalMinutes
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	err := clocksync.RunDaemon(ctx, cfg, *quiet)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("%v", err)
		return subcommands.ExitFailure
	}
	logger.Info("shutdown")
	return subcommands.ExitSuccess
}

// Sync команда "sync": одна ручная синхронизация.
type Sync struct {
	server string
	apply  bool
	wait   time.Duration
}

// Name реализует subcommands.Command.
func (*Sync) Name() string { return "sync" }

// Synopsis реализует subcommands.Command.
func (*Sync) Synopsis() string { return "query the time source once and optionally set the clock" }

// Usage реализует subcommands.Command.
func (*Sync) Usage() string { return "sync [-server S] [-apply] [-wait D]\n" }

// SetFlags реализует subcommands.Command.
func (s *Sync) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.server, "server", "", "NTP сервер или nmea:<порт> (переопределяет config)")
	f.BoolVar(&s.apply, "apply", false, "установить системные часы")
	f.DurationVar(&s.wait, "wait", 0, "повторять с экспоненциальной задержкой до успеха, не дольше указанного")
}

// Execute выполняет sync. Код 1, если запрос не удался или -apply задан,
// а часы установить не получилось.
func (s *Sync) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg := args[0].(*config.Config)
	server := cfg.Server
	if s.server != "" {
		server = s.server
	}
	m, err := clocksync.NewManager(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	o := syncWithRetry(ctx, m, server, s.apply, s.wait)
	printOutcome(os.Stdout, o)
	if !o.Succeeded || (s.apply && o.Mutation != escalate.Applied) {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// syncer часть Manager, нужная sync.
type syncer interface {
	SyncNow(ctx context.Context, server string, applyClock bool) clocksync.Outcome
}

// syncWithRetry одна попытка, либо при wait > 0 повтор до успешного запроса.
// Неудачная установка часов не повторяется: права от повтора не появятся.
func syncWithRetry(ctx context.Context, m syncer, server string, apply bool, wait time.Duration) clocksync.Outcome {
	if wait <= 0 {
		return m.SyncNow(ctx, server, apply)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = wait

	var o clocksync.Outcome
	op := func() error {
		o = m.SyncNow(ctx, server, apply)
		if !o.Succeeded {
			return o.Err
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Info("sync failed: %v; retry in %v", err, next.Truncate(time.Millisecond))
	}
	_ = backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	return o
}

func printOutcome(w io.Writer, o clocksync.Outcome) {
	if !o.Succeeded {
		fmt.Fprintf(w, "sync %s: failed: %s\n", o.Server, o.ErrorDetail())
		return
	}
	fmt.Fprintf(w, "sync %s: offset=%v delay=%v server_time=%s\n",
		o.Server, o.Sample.Offset, o.Sample.Delay, o.Sample.ServerTime.UTC().Format(time.RFC3339Nano))
	switch o.Mutation {
	case escalate.Applied:
		fmt.Fprintf(w, "clock: applied by %s\n", o.Strategy)
	case escalate.Failed:
		fmt.Fprintf(w, "clock: not changed: %v\n", o.MutationErr)
	}
}

// Probe команда "probe": оценка права менять системные часы.
type Probe struct {
	verified bool
	verbose  bool
}

// Name реализует subcommands.Command.
func (*Probe) Name() string { return "probe" }

// Synopsis реализует subcommands.Command.
func (*Probe) Synopsis() string { return "report whether this process can change the system clock" }

// Usage реализует subcommands.Command.
func (*Probe) Usage() string { return "probe [-verified] [-v]\n" }

// SetFlags реализует subcommands.Command.
func (p *Probe) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&p.verified, "verified", false, "реально попробовать механизмы (с таймаутом), а не только эвристику")
	f.BoolVar(&p.verbose, "v", false, "подробно по каждому механизму")
}

// Execute реализует subcommands.Command.
func (p *Probe) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg := args[0].(*config.Config)
	m, err := clocksync.NewManager(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	mode := escalate.Quick
	if p.verified {
		mode = escalate.Verified
	}
	if p.verbose {
		fmt.Printf("timezone: %s\n", m.Timezone())
		fmt.Printf("strategies: %v\n", cfg.Escalation.Strategies)
		for _, r := range m.Describe(ctx) {
			fmt.Printf("%-13s quick=%-8s cached=%s\n", r.Kind, r.Quick, r.Cached)
		}
	}
	fmt.Println(m.PermissionStatus(ctx, mode))
	return subcommands.ExitSuccess
}
