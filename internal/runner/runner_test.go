package runner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExec_Run(t *testing.T) {
	tests := []struct {
		name     string
		argv     []string
		wantCode int
	}{
		{"success", []string{"sh", "-c", "exit 0"}, 0},
		{"non-zero exit", []string{"sh", "-c", "echo denied >&2; exit 3"}, 3},
		{"missing binary", []string{"/nonexistent/kiosk-timesync-test"}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Exec{}.Run(context.Background(), tt.argv)
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("Run(%v) = %v, want nil", tt.argv, err)
				}
				return
			}
			var ee *ExitError
			if !errors.As(err, &ee) {
				t.Fatalf("Run(%v) error = %T, want *ExitError", tt.argv, err)
			}
			if ee.Code != tt.wantCode {
				t.Errorf("Run(%v) code = %d, want %d (err=%v)", tt.argv, ee.Code, tt.wantCode, err)
			}
		})
	}
}

func TestExec_RunKeepsOutput(t *testing.T) {
	err := Exec{}.Run(context.Background(), []string{"sh", "-c", "echo permission denied >&2; exit 1"})
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("Run error = %T, want *ExitError", err)
	}
	if ee.Output != "permission denied" {
		t.Errorf("Output = %q", ee.Output)
	}
}

func TestExec_RunTimeout(t *testing.T) {
	start := time.Now()
	err := Exec{Timeout: 50 * time.Millisecond}.Run(context.Background(), []string{"sleep", "5"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run took %v after timeout", elapsed)
	}
}

func TestExec_RunEmpty(t *testing.T) {
	if err := (Exec{}).Run(context.Background(), nil); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Run(nil) = %v, want ErrEmptyCommand", err)
	}
}
