package escalate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mutation результат попытки изменить системные часы.
type Mutation int

const (
	NotAttempted Mutation = iota
	Applied
	Failed
)

func (m Mutation) String() string {
	switch m {
	case Applied:
		return "applied"
	case Failed:
		return "failed"
	default:
		return "not-attempted"
	}
}

// Variant одна форма вызова внутри стратегии (например, конкретный синтаксис date под su).
// Invoke возвращает nil только если часы установлены.
type Variant struct {
	Name   string
	Invoke func(ctx context.Context, t time.Time) error
}

// Strategy способ установки часов. Варианты перебираются по порядку до первого успешного.
type Strategy struct {
	Name string
	// Capability механизм, от которого зависит стратегия; пусто = не проверять.
	// Стратегия пропускается, если механизм в кэше или по быстрой пробе Denied.
	Capability Kind
	Variants   []Variant
	// After выполняется после успешного варианта (hwclock -w). Ошибка только логируется.
	After func(ctx context.Context) error
}

// Prober пробы одного механизма. Quick должна быть быстрой и не блокирующей;
// Verified ограничивается таймаутом эскалатора.
type Prober struct {
	Quick    func(ctx context.Context) (bool, error)
	Verified func(ctx context.Context) (bool, error)
}

// Report итог Apply.
type Report struct {
	Mutation Mutation
	Strategy string // стратегия, установившая часы
	Variant  string
	Err      error // *EscalationError или ошибка блокировки, если Mutation == Failed
}

// ErrCapabilityDenied стратегия пропущена: механизм недоступен.
var ErrCapabilityDenied = errors.New("capability denied")

// ErrProbeTimeout проверенная проба не уложилась в таймаут; результат считается Denied.
var ErrProbeTimeout = errors.New("capability probe timed out")

// AttemptError неудача одного варианта (или пропуск стратегии целиком, тогда Variant пуст).
type AttemptError struct {
	Strategy string
	Variant  string
	Err      error
}

func (a AttemptError) String() string {
	if a.Variant == "" {
		return fmt.Sprintf("%s: %v", a.Strategy, a.Err)
	}
	return fmt.Sprintf("%s[%s]: %v", a.Strategy, a.Variant, a.Err)
}

// EscalationError все стратегии исчерпаны. Attempts в порядке попыток.
type EscalationError struct {
	Attempts []AttemptError
}

func (e *EscalationError) Error() string {
	if len(e.Attempts) == 0 {
		return "set clock: no strategies configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return "set clock: all strategies failed: " + strings.Join(parts, "; ")
}

// Unwrap отдаёт причины всех попыток, чтобы errors.Is видел, например, ErrCapabilityDenied.
func (e *EscalationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
