package source

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// DefaultTimeout таймаут запроса, если не задан.
const DefaultTimeout = 5 * time.Second

// timeoutSlack запас сверх timeout, чтобы собственная ошибка библиотеки обычно успела первой.
const timeoutSlack = 100 * time.Millisecond

// NTP источник времени по NTP (клиент beevik/ntp, один запрос на вызов).
type NTP struct {
	// Now локальные часы; nil = time.Now. Подменяется в тестах.
	Now func() time.Time

	query func(host string, opt ntp.QueryOptions) (*ntp.Response, error)
}

// NewNTP создаёт NTP источник
func NewNTP() *NTP {
	return &NTP{query: ntp.QueryWithOptions}
}

type ntpResult struct {
	resp *ntp.Response
	err  error
}

// Query запрашивает время у NTP сервера. Библиотека сама считает offset и RTT по четырём меткам.
func (n *NTP) Query(ctx context.Context, server string, timeout time.Duration) (Sample, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := n.Now
	if now == nil {
		now = time.Now
	}
	query := n.query
	if query == nil {
		query = ntp.QueryWithOptions
	}

	// Запрос библиотеки не принимает ctx: ждём его в горутине; канал буферизован, горутина может пережить вызов.
	done := make(chan ntpResult, 1)
	go func() {
		resp, err := query(server, ntp.QueryOptions{Timeout: timeout})
		done <- ntpResult{resp: resp, err: err}
	}()

	// Резолвинг имени библиотека таймаутом не ограничивает, поэтому держим свой предел.
	bound := time.NewTimer(timeout + timeoutSlack)
	defer bound.Stop()

	var res ntpResult
	select {
	case <-ctx.Done():
		return Sample{}, queryErr(server, ctx.Err())
	case <-bound.C:
		return Sample{}, queryErr(server, fmt.Errorf("no reply within %v", timeout))
	case res = <-done:
	}
	if res.err != nil {
		return Sample{}, queryErr(server, res.err)
	}
	if err := res.resp.Validate(); err != nil {
		return Sample{}, queryErr(server, fmt.Errorf("invalid response: %w", err))
	}
	rtt := res.resp.RTT
	if rtt < 0 {
		rtt = 0
	}
	return Sample{
		Server:         server,
		ServerTime:     res.resp.Time,
		LocalAtReceipt: now(),
		Delay:          rtt,
		Offset:         res.resp.ClockOffset,
	}, nil
}
