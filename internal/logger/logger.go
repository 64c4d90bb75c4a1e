// Package logger единый вывод логов kiosk-timesync (logrus) с учётом quiet.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields поля структурированной записи.
type Fields = logrus.Fields

var base = newBase()

// Quiet при true отключает информационные сообщения (Info, Debug); Warn и Error выводятся всегда.
var Quiet bool

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Config параметры вывода (совпадают с секцией log конфига).
type Config struct {
	Level  string
	Format string
	File   string
}

// Configure применяет уровень, формат и файл. Файл открывается на дозапись;
// возвращённый io.Closer нужно закрыть при выходе.
func Configure(c Config) (io.Closer, error) {
	if c.Level != "" {
		lvl, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		base.SetLevel(lvl)
	}
	switch strings.ToLower(c.Format) {
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log format %q: want text or json", c.Format)
	}
	if c.File == "" {
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(c.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", c.File, err)
	}
	base.SetOutput(f)
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetOutput перенаправляет вывод (используется в тестах).
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetDebug включает уровень debug.
func SetDebug() {
	base.SetLevel(logrus.DebugLevel)
}

// Debug отладочное сообщение, если Quiet == false.
func Debug(format string, args ...interface{}) {
	if Quiet {
		return
	}
	base.Debugf(format, args...)
}

// Info выводит сообщение, если Quiet == false.
func Info(format string, args ...interface{}) {
	if Quiet {
		return
	}
	base.Infof(format, args...)
}

// Warn выводит предупреждение всегда.
func Warn(format string, args ...interface{}) {
	base.Warnf(format, args...)
}

// Error выводит сообщение об ошибке всегда.
func Error(format string, args ...interface{}) {
	base.Errorf(format, args...)
}

// Logger минимальный интерфейс, который принимают компоненты.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Std возвращает Logger поверх общего логгера с полем component. Учитывает Quiet.
func Std(component string) Logger {
	return componentLogger{component: component}
}

// StdWith как Std, с дополнительными полями в каждой записи.
func StdWith(component string, f Fields) Logger {
	return componentLogger{component: component, fields: f}
}

type componentLogger struct {
	component string
	fields    Fields
}

func (c componentLogger) entry() *logrus.Entry {
	return base.WithField("component", c.component).WithFields(c.fields)
}

func (c componentLogger) Debugf(format string, args ...interface{}) {
	if !Quiet {
		c.entry().Debugf(format, args...)
	}
}

func (c componentLogger) Infof(format string, args ...interface{}) {
	if !Quiet {
		c.entry().Infof(format, args...)
	}
}

func (c componentLogger) Warnf(format string, args ...interface{}) {
	c.entry().Warnf(format, args...)
}

func (c componentLogger) Errorf(format string, args ...interface{}) {
	c.entry().Errorf(format, args...)
}
