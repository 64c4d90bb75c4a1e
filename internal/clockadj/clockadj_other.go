//go:build !linux

package clockadj

import (
	"errors"
	"time"
)

// ErrUnsupported прямая установка часов на этой платформе не реализована.
var ErrUnsupported = errors.New("clockadj: not supported on this platform")

// Step заглушка на не-Linux.
func Step(t time.Time) error {
	_ = t
	return ErrUnsupported
}

// HasSysTimeCapability заглушка на не-Linux.
func HasSysTimeCapability() (bool, error) {
	return false, nil
}

// IsRoot заглушка на не-Linux.
func IsRoot() bool {
	return false
}
