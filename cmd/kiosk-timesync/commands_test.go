package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiwa/kiosk-timesync/internal/escalate"
	"github.com/shiwa/kiosk-timesync/internal/source"
	"github.com/shiwa/kiosk-timesync/pkg/clocksync"
)

// scriptedSyncer возвращает исходы по порядку, последний повторяется.
type scriptedSyncer struct {
	outcomes []clocksync.Outcome
	calls    int
}

func (s *scriptedSyncer) SyncNow(context.Context, string, bool) clocksync.Outcome {
	i := s.calls
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	s.calls++
	return s.outcomes[i]
}

var (
	failed = clocksync.Outcome{Server: "time.windows.com", Err: errors.New("i/o timeout")}
	ok     = clocksync.Outcome{
		Server:    "time.windows.com",
		Succeeded: true,
		Sample:    &source.Sample{Offset: 1500 * time.Millisecond, Delay: 80 * time.Millisecond},
	}
)

func TestSyncWithRetry(t *testing.T) {
	t.Run("no wait means one attempt", func(t *testing.T) {
		s := &scriptedSyncer{outcomes: []clocksync.Outcome{failed, ok}}
		o := syncWithRetry(context.Background(), s, "time.windows.com", false, 0)
		if o.Succeeded || s.calls != 1 {
			t.Errorf("got succeeded=%v after %d calls, want failure after 1", o.Succeeded, s.calls)
		}
	})

	t.Run("retries until success", func(t *testing.T) {
		s := &scriptedSyncer{outcomes: []clocksync.Outcome{failed, ok}}
		o := syncWithRetry(context.Background(), s, "time.windows.com", false, time.Minute)
		if !o.Succeeded || s.calls != 2 {
			t.Errorf("got succeeded=%v after %d calls, want success after 2", o.Succeeded, s.calls)
		}
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		s := &scriptedSyncer{outcomes: []clocksync.Outcome{failed}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		o := syncWithRetry(ctx, s, "time.windows.com", false, time.Minute)
		if o.Succeeded || s.calls != 1 {
			t.Errorf("got succeeded=%v after %d calls, want failure after 1", o.Succeeded, s.calls)
		}
	})
}

func TestPrintOutcome(t *testing.T) {
	applied := ok
	applied.Mutation = escalate.Applied
	applied.Strategy = "shell"
	denied := ok
	denied.Mutation = escalate.Failed
	denied.MutationErr = errors.New("set clock: all strategies failed")

	tests := []struct {
		name string
		o    clocksync.Outcome
		want string
	}{
		{"failed", failed, "sync time.windows.com: failed: i/o timeout\n"},
		{"applied", applied, "sync time.windows.com: offset=1.5s delay=80ms server_time=0001-01-01T00:00:00Z\nclock: applied by shell\n"},
		{"denied", denied, "sync time.windows.com: offset=1.5s delay=80ms server_time=0001-01-01T00:00:00Z\nclock: not changed: set clock: all strategies failed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printOutcome(&buf, tt.o)
			if got := buf.String(); got != tt.want {
				t.Errorf("printOutcome() = %q, want %q", got, tt.want)
			}
		})
	}
}
