// Package escalate устанавливает системные часы через упорядоченный список стратегий
// (syscall, su/sudo + date, timedated) и кэширует проверки прав на каждый механизм.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/shiwa/kiosk-timesync/internal/logger"
)

const (
	// DefaultProbeTimeout предел проверенной пробы, если не задан.
	DefaultProbeTimeout = 3 * time.Second
	// lockWait сколько ждать файловую блокировку другого процесса.
	lockWait       = 10 * time.Second
	lockRetryDelay = 50 * time.Millisecond
)

// Escalator применяет время к системным часам первой сработавшей стратегией.
// Методы безопасны для конкурентного вызова.
type Escalator struct {
	strategies   []Strategy
	probers      map[Kind]Prober
	cells        map[Kind]*cell
	probeTimeout time.Duration
	lockPath     string
	now          func() time.Time
	log          logger.Logger

	applyMu sync.Mutex
	probes  singleflight.Group
}

// Option настройка Escalator.
type Option func(*Escalator)

// WithProber регистрирует пробы механизма kind.
func WithProber(kind Kind, p Prober) Option {
	return func(e *Escalator) { e.probers[kind] = p }
}

// WithProbeTimeout предел проверенной пробы.
func WithProbeTimeout(d time.Duration) Option {
	return func(e *Escalator) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

// WithLockFile включает межпроцессную блокировку Apply через flock на path.
func WithLockFile(path string) Option {
	return func(e *Escalator) { e.lockPath = path }
}

// WithNow подменяет часы, по которым считается время, прошедшее внутри Apply.
func WithNow(now func() time.Time) Option {
	return func(e *Escalator) { e.now = now }
}

// WithLogger задаёт логгер.
func WithLogger(l logger.Logger) Option {
	return func(e *Escalator) { e.log = l }
}

// New создаёт Escalator со стратегиями в порядке приоритета.
func New(strategies []Strategy, opts ...Option) *Escalator {
	e := &Escalator{
		strategies:   append([]Strategy(nil), strategies...),
		probers:      make(map[Kind]Prober),
		probeTimeout: DefaultProbeTimeout,
		now:          time.Now,
		log:          logger.Std("escalate"),
	}
	for _, o := range opts {
		o(e)
	}
	e.cells = make(map[Kind]*cell, len(e.probers))
	for k := range e.probers {
		e.cells[k] = &cell{}
	}
	return e
}

// Apply устанавливает часы на t. Стратегии пробуются по порядку, внутри стратегии варианты
// по порядку; первая удача завершает Apply. Каждый вариант получает t, сдвинутое на время,
// прошедшее с вызова Apply, включая ожидание блокировок. Одновременно выполняется только
// один Apply в процессе (и в системе, если задан файл блокировки).
func (e *Escalator) Apply(ctx context.Context, t time.Time) Report {
	start := e.now()
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	if e.lockPath != "" {
		unlock, err := e.lockFile(ctx)
		if err != nil {
			return Report{Mutation: Failed, Err: err}
		}
		defer unlock()
	}

	var attempts []AttemptError
	for _, s := range e.strategies {
		if s.Capability != "" && e.gate(ctx, s.Capability) == Denied {
			e.log.Debugf("strategy %s skipped: %s denied", s.Name, s.Capability)
			attempts = append(attempts, AttemptError{Strategy: s.Name, Err: fmt.Errorf("%s: %w", s.Capability, ErrCapabilityDenied)})
			continue
		}
		for _, v := range s.Variants {
			if err := ctx.Err(); err != nil {
				attempts = append(attempts, AttemptError{Strategy: s.Name, Variant: v.Name, Err: err})
				return Report{Mutation: Failed, Err: &EscalationError{Attempts: attempts}}
			}
			target := t.Add(e.now().Sub(start))
			err := v.Invoke(ctx, target)
			if err != nil {
				e.log.Debugf("strategy %s variant %q: %v", s.Name, v.Name, err)
				attempts = append(attempts, AttemptError{Strategy: s.Name, Variant: v.Name, Err: err})
				continue
			}
			if s.After != nil {
				if err := s.After(ctx); err != nil {
					e.log.Warnf("strategy %s: follow-up failed: %v", s.Name, err)
				}
			}
			e.log.Infof("clock set to %s by %s (%s)", target.UTC().Format(time.RFC3339Nano), s.Name, v.Name)
			return Report{Mutation: Applied, Strategy: s.Name, Variant: v.Name}
		}
	}
	return Report{Mutation: Failed, Err: &EscalationError{Attempts: attempts}}
}

func (e *Escalator) lockFile(ctx context.Context) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	l := flock.New(e.lockPath)
	ok, err := l.TryLockContext(lctx, lockRetryDelay)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || (err == nil && !ok):
		return nil, fmt.Errorf("apply lock %s: held by another process: %w", e.lockPath, lctx.Err())
	case err != nil:
		// Файл блокировки недоступен (нет каталога, нет прав): работаем без межпроцессной блокировки.
		e.log.Warnf("apply lock %s: %v; continuing without it", e.lockPath, err)
		return func() {}, nil
	}
	return func() {
		if err := l.Unlock(); err != nil {
			e.log.Warnf("apply unlock %s: %v", e.lockPath, err)
		}
	}, nil
}

// gate значение из кэша или, если его нет, быстрая проба.
func (e *Escalator) gate(ctx context.Context, kind Kind) State {
	if s := e.Cached(kind); s != Unknown {
		return s
	}
	return e.ProbeCapability(ctx, kind, Quick)
}

// Cached значение кэша без пробы. Для незарегистрированного механизма Denied.
func (e *Escalator) Cached(kind Kind) State {
	c, ok := e.cells[kind]
	if !ok {
		return Denied
	}
	return c.load()
}

// ProbeCapability возвращает кэшированное значение или выполняет пробу в режиме mode и
// кэширует результат. Кэш не истекает и не запоминает, каким режимом получено значение;
// сбрасывает его только ClearCache. Одновременные пробы одного механизма и режима
// выполняются один раз и не зависят от отмены ctx отдельного вызывающего. Если ctx
// отменён до результата, этот вызов возвращает Unknown; общая проба доводится до конца.
func (e *Escalator) ProbeCapability(ctx context.Context, kind Kind, mode Mode) State {
	c, ok := e.cells[kind]
	if !ok {
		return Denied
	}
	if s := c.load(); s != Unknown {
		return s
	}
	if ctx.Err() != nil {
		return Unknown
	}
	pctx := context.WithoutCancel(ctx)
	ch := e.probes.DoChan(string(kind)+"/"+mode.String(), func() (interface{}, error) {
		if s := c.load(); s != Unknown {
			return s, nil
		}
		return c.resolve(e.runProbe(pctx, kind, mode)), nil
	})
	select {
	case r := <-ch:
		return r.Val.(State)
	case <-ctx.Done():
		return Unknown
	}
}

func (e *Escalator) runProbe(ctx context.Context, kind Kind, mode Mode) State {
	p := e.probers[kind]
	probe := p.Quick
	if mode == Verified {
		probe = p.Verified
	}
	if probe == nil {
		return Denied
	}
	if mode == Quick {
		ok, err := probe(ctx)
		if err != nil {
			e.log.Debugf("quick probe %s: %v", kind, err)
		}
		if ctx.Err() != nil {
			return Unknown
		}
		return stateOf(ok && err == nil)
	}

	pctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := probe(pctx)
		done <- result{ok, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			e.log.Debugf("verified probe %s: %v", kind, r.err)
		}
		if ctx.Err() != nil {
			return Unknown
		}
		if pctx.Err() != nil {
			e.log.Warnf("verified probe %s: %v after %v", kind, ErrProbeTimeout, e.probeTimeout)
			return Denied
		}
		return stateOf(r.ok && r.err == nil)
	case <-pctx.Done():
		if ctx.Err() != nil {
			return Unknown
		}
		e.log.Warnf("verified probe %s: %v after %v", kind, ErrProbeTimeout, e.probeTimeout)
		return Denied
	}
}

// ClearCache сбрасывает все механизмы в Unknown. Проба, завершившаяся одновременно
// со сбросом, может записать своё значение уже после него.
func (e *Escalator) ClearCache() {
	for _, c := range e.cells {
		c.reset()
	}
}

// CapabilityReport строка отладочного вывода Describe.
type CapabilityReport struct {
	Kind   Kind
	Cached State // до пробы
	Quick  State // результат быстрой пробы без записи в кэш
}

// Describe выполняет быстрые пробы всех механизмов параллельно, не трогая кэш.
func (e *Escalator) Describe(ctx context.Context) []CapabilityReport {
	kinds := make([]Kind, 0, len(e.probers))
	for k := range e.probers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	out := make([]CapabilityReport, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range kinds {
		g.Go(func() error {
			out[i] = CapabilityReport{Kind: k, Cached: e.Cached(k), Quick: e.runProbe(gctx, k, Quick)}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Strategies имена стратегий в порядке приоритета.
func (e *Escalator) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name
	}
	return names
}
