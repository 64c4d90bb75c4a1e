package escalate

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiwa/kiosk-timesync/pkg/config"
)

// fakeRunner записывает argv; команда успешна, если ok(argv) == true.
type fakeRunner struct {
	mu    sync.Mutex
	argvs [][]string
	ok    func(argv []string) bool
}

func (f *fakeRunner) Run(_ context.Context, argv []string) error {
	f.mu.Lock()
	f.argvs = append(f.argvs, append([]string(nil), argv...))
	f.mu.Unlock()
	if f.ok != nil && f.ok(argv) {
		return nil
	}
	return errors.New("exit status 1")
}

var testElevation = [][]string{{"su", "-c"}, {"sudo", "-n", "sh", "-c"}}

var granted = Prober{Quick: func(context.Context) (bool, error) { return true, nil }}

var testTemplates = []string{`date "{datetime}"`, "date {mmddhhmm}", "date -s @{unix}"}

func TestShell_VariantOrder(t *testing.T) {
	r := &fakeRunner{}
	s := Shell(ShellOptions{Elevation: testElevation, DateCommands: testTemplates, Runner: r})
	require.Len(t, s.Variants, 6)
	assert.Empty(t, s.Capability)
	assert.Nil(t, s.After)

	target := time.Date(2025, 1, 15, 12, 34, 56, 0, time.Local)
	e := New([]Strategy{s}, WithNow(func() time.Time { return target }), WithProber(KindRootShell, granted))
	rep := e.Apply(context.Background(), target)
	require.Equal(t, Failed, rep.Mutation)

	unix := target.Unix()
	want := [][]string{
		{"su", "-c", `date "2025-01-15 12:34:56"`},
		{"su", "-c", "date 01151234"},
		{"su", "-c", "date -s @" + strconv.FormatInt(unix, 10)},
		{"sudo", "-n", "sh", "-c", `date "2025-01-15 12:34:56"`},
		{"sudo", "-n", "sh", "-c", "date 01151234"},
		{"sudo", "-n", "sh", "-c", "date -s @" + strconv.FormatInt(unix, 10)},
	}
	if diff := cmp.Diff(want, r.argvs); diff != "" {
		t.Errorf("shell argv mismatch (-want +got):\n%s", diff)
	}
}

func TestShell_StopsAtWorkingSyntaxAndSyncsRTC(t *testing.T) {
	r := &fakeRunner{ok: func(argv []string) bool {
		last := argv[len(argv)-1]
		// su есть, но busybox понимает только MMDDhhmm; hwclock только через sudo.
		switch {
		case argv[0] == "su" && strings.HasPrefix(last, "date ") && !strings.Contains(last, `"`) && !strings.Contains(last, "@"):
			return true
		case argv[0] == "sudo" && last == "hwclock -w":
			return true
		}
		return false
	}}
	s := Shell(ShellOptions{Elevation: testElevation, DateCommands: testTemplates, Hwclock: "hwclock -w", Runner: r})
	e := New([]Strategy{s}, WithProber(KindRootShell, granted))

	rep := e.Apply(context.Background(), time.Now())
	require.Equal(t, Applied, rep.Mutation)
	assert.Equal(t, NameShell, rep.Strategy)
	assert.Equal(t, "su -c date {mmddhhmm}", rep.Variant)

	var tail []string
	for _, a := range r.argvs[2:] {
		tail = append(tail, strings.Join(a, " "))
	}
	assert.Equal(t, []string{"su -c hwclock -w", "sudo -n sh -c hwclock -w"}, tail)
}

func TestShell_TriedDespiteDeniedRootShell(t *testing.T) {
	r := &fakeRunner{ok: func(argv []string) bool { return argv[0] == "su" }}
	s := Shell(ShellOptions{Elevation: testElevation, DateCommands: testTemplates, Runner: r})
	e := New([]Strategy{s}, WithProbeTimeout(10*time.Millisecond), WithProber(KindRootShell, Prober{
		Verified: func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		},
	}))
	require.Equal(t, Denied, e.ProbeCapability(context.Background(), KindRootShell, Verified))

	rep := e.Apply(context.Background(), time.Now())
	assert.Equal(t, Applied, rep.Mutation)
	assert.Equal(t, NameShell, rep.Strategy)
	require.Len(t, r.argvs, 1)
	assert.Equal(t, "su", r.argvs[0][0])
}

func TestRenderDate(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 7, 0, time.Local)
	assert.Equal(t, `date "2024-12-31 23:59:07"`, renderDate(`date "{datetime}"`, ts))
	assert.Equal(t, "date 12312359", renderDate("date {mmddhhmm}", ts))
	assert.Equal(t, "date -s @"+strconv.FormatInt(ts.Unix(), 10), renderDate("date -s @{unix}", ts))
	assert.Equal(t, "true", renderDate("true", ts))
}

func TestRootShellProber(t *testing.T) {
	lookPath := func(name string) (string, error) {
		if name == "sudo" {
			return "/usr/bin/sudo", nil
		}
		return "", errors.New("not found")
	}

	t.Run("quick finds binary", func(t *testing.T) {
		p := rootShellProber(testElevation, &fakeRunner{}, lookPath)
		ok, err := p.Quick(context.Background())
		assert.True(t, ok)
		assert.NoError(t, err)
	})

	t.Run("quick without binaries", func(t *testing.T) {
		p := rootShellProber([][]string{{"su", "-c"}}, &fakeRunner{}, lookPath)
		ok, err := p.Quick(context.Background())
		assert.False(t, ok)
		assert.Error(t, err)
	})

	t.Run("verified runs true under each prefix", func(t *testing.T) {
		r := &fakeRunner{ok: func(argv []string) bool { return argv[0] == "sudo" }}
		p := rootShellProber(testElevation, r, lookPath)
		ok, err := p.Verified(context.Background())
		assert.True(t, ok)
		assert.NoError(t, err)
		assert.Equal(t, [][]string{{"su", "-c", "true"}, {"sudo", "-n", "sh", "-c", "true"}}, r.argvs)
	})

	t.Run("verified denied", func(t *testing.T) {
		p := rootShellProber(testElevation, &fakeRunner{}, lookPath)
		ok, err := p.Verified(context.Background())
		assert.False(t, ok)
		assert.ErrorContains(t, err, "exit status 1")
	})
}

func TestCapSysTimeProber(t *testing.T) {
	tests := []struct {
		name         string
		hasCap       bool
		capErr       error
		root         bool
		wantQuick    bool
		wantVerified bool
	}{
		{"capability", true, nil, false, true, true},
		{"root without effective cap", false, nil, true, false, true},
		{"plain user", false, nil, false, false, false},
		{"capabilities unreadable", false, errors.New("no /proc"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := capSysTimeProber(
				func() (bool, error) { return tt.hasCap, tt.capErr },
				func() bool { return tt.root },
			)
			q, _ := p.Quick(context.Background())
			v, _ := p.Verified(context.Background())
			assert.Equal(t, tt.wantQuick, q)
			assert.Equal(t, tt.wantVerified, v)
		})
	}
}

func TestSyscall(t *testing.T) {
	var got time.Time
	s := Syscall(func(t time.Time) error {
		got = t
		return nil
	})
	assert.Equal(t, NameSyscall, s.Name)
	assert.Equal(t, KindCapSysTime, s.Capability)

	target := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.Variants[0].Invoke(context.Background(), target))
	assert.Equal(t, target, got)
}

type fakeBus struct {
	setErr  error
	canErr  error
	setTo   time.Time
	closed  bool
	setCall int
}

func (b *fakeBus) SetTime(_ context.Context, t time.Time) error {
	b.setCall++
	b.setTo = t
	return b.setErr
}

func (b *fakeBus) CanNTP(context.Context) (bool, error) { return true, b.canErr }

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func TestTimedated(t *testing.T) {
	bus := &fakeBus{}
	s := Timedated(func(context.Context) (Bus, error) { return bus, nil })
	target := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Variants[0].Invoke(context.Background(), target))
	assert.Equal(t, target, bus.setTo)
	assert.True(t, bus.closed)

	bus = &fakeBus{setErr: errors.New("org.freedesktop.DBus.Error.AccessDenied")}
	err := s.Variants[0].Invoke(context.Background(), target)
	assert.ErrorContains(t, err, "AccessDenied")

	dialErr := errors.New("system bus: no such file")
	s = Timedated(func(context.Context) (Bus, error) { return nil, dialErr })
	assert.ErrorIs(t, s.Variants[0].Invoke(context.Background(), target), dialErr)
}

func TestTimedatedProber(t *testing.T) {
	t.Run("quick socket missing", func(t *testing.T) {
		p := timedatedProber(nil, func() error { return os.ErrNotExist })
		ok, err := p.Quick(context.Background())
		assert.False(t, ok)
		assert.NoError(t, err)
	})

	t.Run("quick socket present", func(t *testing.T) {
		p := timedatedProber(nil, func() error { return nil })
		ok, _ := p.Quick(context.Background())
		assert.True(t, ok)
	})

	t.Run("verified reads CanNTP", func(t *testing.T) {
		bus := &fakeBus{}
		p := timedatedProber(func(context.Context) (Bus, error) { return bus, nil }, nil)
		ok, err := p.Verified(context.Background())
		assert.True(t, ok)
		assert.NoError(t, err)
		assert.True(t, bus.closed)
		assert.Zero(t, bus.setCall, "verified probe must not set the clock")
	})

	t.Run("verified service missing", func(t *testing.T) {
		bus := &fakeBus{canErr: errors.New("ServiceUnknown")}
		p := timedatedProber(func(context.Context) (Bus, error) { return bus, nil }, nil)
		ok, err := p.Verified(context.Background())
		assert.False(t, ok)
		assert.Error(t, err)
	})
}

func TestFromConfig(t *testing.T) {
	c := config.Default().Escalation
	c.Strategies = []string{config.StrategyTimedated, config.StrategyShell}
	empty := ""
	c.LockFile = &empty

	e, err := FromConfig(c, Deps{Runner: &fakeRunner{}, Step: func(time.Time) error { return nil }})
	require.NoError(t, err)
	assert.Equal(t, []string{NameTimedated, NameShell}, e.Strategies())
	assert.Equal(t, c.ProbeBound(), e.probeTimeout)
	assert.Empty(t, e.lockPath)
	for _, k := range []Kind{KindRootShell, KindCapSysTime, KindTimedated} {
		assert.Equal(t, Unknown, e.Cached(k), k)
	}

	c.Strategies = []string{"ntpdate"}
	_, err = FromConfig(c, Deps{})
	assert.ErrorContains(t, err, `unknown strategy "ntpdate"`)
}
