package timesync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiwa/kiosk-timesync/internal/escalate"
	"github.com/shiwa/kiosk-timesync/internal/logger"
	"github.com/shiwa/kiosk-timesync/internal/source"
)

// failureLogEvery как часто периодический цикл пишет о повторяющихся неудачах.
const failureLogEvery = 10 * time.Minute

// Applier устанавливает системные часы (escalate.Escalator).
type Applier interface {
	Apply(ctx context.Context, t time.Time) escalate.Report
}

var errNoApplier = errors.New("clock adjustment is not configured")

// Scheduler периодическая и ручная синхронизация времени.
type Scheduler struct {
	src         source.TimeSource
	applier     Applier
	store       *Store
	clock       Clock
	timeout     time.Duration
	applyOnLoop bool
	log         logger.Logger
	loopLog     logger.Logger

	mu     sync.Mutex // cancel, done
	cancel context.CancelFunc
	done   chan struct{}

	// publishMu упорядочивает snapshot -> next -> replace, чтобы две попытки не
	// посчитали статус от одного и того же предыдущего значения.
	publishMu sync.Mutex
}

// Option настройка Scheduler.
type Option func(*Scheduler)

// WithClock подменяет часы (тесты).
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTimeout таймаут одного запроса к источнику.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// ApplyClock устанавливать ли системные часы в периодическом цикле.
func ApplyClock(apply bool) Option {
	return func(s *Scheduler) { s.applyOnLoop = apply }
}

// WithLogger задаёт логгер.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New создаёт планировщик. applier может быть nil, тогда установка часов всегда Failed.
func New(src source.TimeSource, applier Applier, opts ...Option) *Scheduler {
	s := &Scheduler{
		src:     src,
		applier: applier,
		store:   &Store{},
		clock:   RealClock{},
		timeout: source.DefaultTimeout,
		log:     logger.Std("timesync"),
	}
	for _, o := range opts {
		o(s)
	}
	s.loopLog = logger.RateLimited(s.log, failureLogEvery)
	return s
}

// Start запускает периодический цикл: попытка сразу, затем раз в interval.
// Если цикл уже запущен, ничего не делает.
func (s *Scheduler) Start(interval time.Duration, server string) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	server = strings.TrimSpace(server)
	if server == "" {
		return ErrEmptyServer
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		s.log.Infof("periodic sync already running")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	s.publishRunning()
	s.log.Infof("periodic sync started: server=%s interval=%v apply_clock=%v", server, interval, s.applyOnLoop)
	go s.loop(ctx, done, interval, server)
	return nil
}

// Stop сигнализирует циклу остановиться и сразу возвращается. Без запущенного цикла ничего не делает.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.cancel = nil
	s.mu.Unlock()

	s.publishRunning()
	s.log.Infof("periodic sync stopped")
}

// Wait ждёт выхода горутины последнего запущенного цикла.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running запущен ли периодический цикл.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// SyncNow выполняет одну попытку вне расписания и публикует результат.
func (s *Scheduler) SyncNow(ctx context.Context, server string, applyClock bool) Outcome {
	o := s.attempt(ctx, strings.TrimSpace(server), applyClock, TriggerManual)
	s.publish(o, nil)
	return o
}

// Status текущий статус.
func (s *Scheduler) Status() Status {
	return s.store.Snapshot()
}

// NeedsSync true, если успешной синхронизации не было или она старше threshold (строго).
func (s *Scheduler) NeedsSync(threshold time.Duration) bool {
	last := s.store.Snapshot().Last
	if last == nil {
		return true
	}
	return s.clock.Now().Sub(last.At) > threshold
}

// CorrectedTime локальное время плюс последнее известное смещение.
func (s *Scheduler) CorrectedTime() time.Time {
	now := s.clock.Now()
	if last := s.store.Snapshot().Last; last != nil {
		return now.Add(last.Offset)
	}
	return now
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}, interval time.Duration, server string) {
	defer close(done)
	for {
		o := s.attempt(ctx, server, s.applyOnLoop, TriggerPeriodic)
		if !s.publish(o, ctx.Done()) {
			return
		}
		if !o.Succeeded {
			s.loopLog.Warnf("periodic sync failed: %s", o.ErrorDetail())
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(interval):
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context, server string, applyClock bool, trigger Trigger) Outcome {
	id := uuid.NewString()
	log := logger.StdWith("timesync", logger.Fields{"attempt": id, "trigger": string(trigger), "server": server})
	start := s.clock.Now()
	finish := func(o Outcome) Outcome {
		o.ID, o.Trigger, o.Server, o.StartedAt = id, trigger, server, start
		o.Duration = s.clock.Now().Sub(start)
		return o
	}

	if server == "" {
		return finish(Outcome{Err: ErrEmptyServer})
	}
	sample, err := s.src.Query(ctx, server, s.timeout)
	if err != nil {
		log.Debugf("query failed: %v", err)
		return finish(Outcome{Err: err})
	}
	log.Debugf("offset=%v delay=%v", sample.Offset, sample.Delay)
	if !applyClock {
		return finish(Outcome{Succeeded: true, Sample: &sample})
	}

	var rep escalate.Report
	if s.applier == nil {
		rep = escalate.Report{Mutation: escalate.Failed, Err: errNoApplier}
	} else {
		rep = s.applier.Apply(ctx, s.clock.Now().Add(sample.Offset))
	}
	if rep.Mutation == escalate.Failed {
		log.Warnf("clock not adjusted: %v", rep.Err)
	}
	return finish(Outcome{
		Succeeded:   true,
		Sample:      &sample,
		Mutation:    rep.Mutation,
		Strategy:    rep.Strategy,
		MutationErr: rep.Err,
	})
}

// publish записывает результат попытки. Для периодического цикла (loopDone != nil)
// результат отбрасывается, если цикл уже остановлен; тогда возвращает false.
func (s *Scheduler) publish(o Outcome, loopDone <-chan struct{}) bool {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	select {
	case <-loopDone:
		return false
	default:
	}
	prev := s.store.Snapshot()
	s.store.Replace(prev.next(o, s.clock.Now(), s.Running()))
	return true
}

func (s *Scheduler) publishRunning() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	st := s.store.Snapshot()
	st.IsRunning = s.Running()
	s.store.Replace(st)
}
