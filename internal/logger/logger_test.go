package logger

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"
)

type countingLogger struct {
	lines []string
}

func (c *countingLogger) Debugf(format string, args ...interface{}) { c.add(format, args...) }
func (c *countingLogger) Infof(format string, args ...interface{})  { c.add(format, args...) }
func (c *countingLogger) Warnf(format string, args ...interface{})  { c.add(format, args...) }
func (c *countingLogger) Errorf(format string, args ...interface{}) { c.add(format, args...) }

func (c *countingLogger) add(format string, args ...interface{}) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func TestRateLimited(t *testing.T) {
	inner := &countingLogger{}
	rl := RateLimited(inner, time.Hour)

	for i := 0; i < 5; i++ {
		rl.Infof("probe %d", i)
	}
	if len(inner.lines) != 1 || inner.lines[0] != "probe 0" {
		t.Fatalf("rate limited Infof wrote %v, want only the first line", inner.lines)
	}

	rl.Errorf("boom")
	rl.Errorf("boom again")
	if len(inner.lines) != 3 {
		t.Errorf("Errorf should not be limited, got %v", inner.lines)
	}
}

func TestQuietSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		Quiet = false
		base = newBase()
	})

	Quiet = true
	Info("hidden %d", 1)
	Error("visible %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info printed while Quiet: %q", out)
	}
	if !strings.Contains(out, "visible 2") {
		t.Errorf("Error missing from output: %q", out)
	}
}

func TestConfigure(t *testing.T) {
	t.Cleanup(func() { base = newBase() })

	if _, err := Configure(Config{Level: "loud"}); err == nil {
		t.Error("Configure with bad level succeeded")
	}
	if _, err := Configure(Config{Format: "xml"}); err == nil {
		t.Error("Configure with bad format succeeded")
	}
	closer, err := Configure(Config{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestStdComponentField(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		Quiet = false
		base = newBase()
	})

	log := Std("escalate")
	log.Infof("strategy %s applied", "syscall")
	if out := buf.String(); !strings.Contains(out, "component=escalate") || !strings.Contains(out, "syscall applied") {
		t.Errorf("unexpected output %q", out)
	}

	buf.Reset()
	Quiet = true
	log.Infof("quiet info")
	log.Warnf("loud warning")
	out := buf.String()
	if strings.Contains(out, "quiet info") {
		t.Errorf("Infof printed while Quiet: %q", out)
	}
	if !strings.Contains(out, "loud warning") {
		t.Errorf("Warnf missing: %q", out)
	}
}
