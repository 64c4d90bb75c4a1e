// Package config предоставляет конфигурацию kiosk-timesync для CLI и для встраивания через pkg/clocksync.
// Поддерживаются YAML (.yml/.yaml) и TOML (.toml); неизвестные ключи игнорируются.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultPath конфиг, который ищется, если путь не задан явно.
const DefaultPath = "kiosk-timesync.yml"

const (
	defaultServer             = "time.windows.com"
	defaultIntervalMinutes    = 30
	defaultTimeout            = 5 * time.Second
	defaultNeedsSyncThreshold = time.Hour
	defaultStatusInterval     = 30 * time.Second
	defaultProbeTimeout       = 3 * time.Second
	defaultCommandTimeout     = 10 * time.Second
	defaultLockFile           = "/run/lock/kiosk-timesync.lock"
	defaultNMEABaud           = 9600
)

// Имена стратегий коррекции часов (escalation.strategies).
const (
	StrategySyscall   = "syscall"
	StrategyShell     = "shell"
	StrategyTimedated = "timedated"
)

// Config конфигурация синхронизации времени на киоске.
type Config struct {
	Server             string           `yaml:"server" toml:"server"`
	IntervalMinutes    int              `yaml:"interval_minutes" toml:"interval_minutes"`
	Timeout            string           `yaml:"timeout" toml:"timeout"`
	AdjustClock        *bool            `yaml:"adjust_clock" toml:"adjust_clock"`
	NeedsSyncThreshold string           `yaml:"needs_sync_threshold" toml:"needs_sync_threshold"`
	StatusInterval     string           `yaml:"status_interval" toml:"status_interval"`
	Log                LogConfig        `yaml:"log" toml:"log"`
	Escalation         EscalationConfig `yaml:"escalation" toml:"escalation"`
	NMEA               NMEAConfig       `yaml:"nmea" toml:"nmea"`
}

// LogConfig уровень, формат и файл логов.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text, json
	File   string `yaml:"file" toml:"file"`     // пусто = stderr
}

// EscalationConfig порядок стратегий изменения системных часов и их параметры.
type EscalationConfig struct {
	Strategies   []string    `yaml:"strategies" toml:"strategies"`
	ProbeTimeout string      `yaml:"probe_timeout" toml:"probe_timeout"`
	LockFile     *string     `yaml:"lock_file" toml:"lock_file"` // "" отключает файловую блокировку
	Shell        ShellConfig `yaml:"shell" toml:"shell"`
}

// ShellConfig варианты повышения привилегий и синтаксиса date.
// Шаблоны date_commands: {datetime} = "YYYY-MM-DD HH:MM:SS", {mmddhhmm}, {unix}.
type ShellConfig struct {
	Elevation      [][]string `yaml:"elevation" toml:"elevation"`
	DateCommands   []string   `yaml:"date_commands" toml:"date_commands"`
	HwclockCommand *string    `yaml:"hwclock_command" toml:"hwclock_command"` // "" отключает
	CommandTimeout string     `yaml:"command_timeout" toml:"command_timeout"`
}

// NMEAConfig параметры последовательного порта для серверов вида nmea:/dev/ttyUSB0.
type NMEAConfig struct {
	Baud   int    `yaml:"baud" toml:"baud"`
	Offset string `yaml:"offset" toml:"offset"` // поправка к времени фикса, например "120ms"
}

// FixOffset поправка к времени RMC; пусто или ошибка = 0.
func (n *NMEAConfig) FixOffset() time.Duration {
	if n.Offset == "" {
		return 0
	}
	d, err := time.ParseDuration(n.Offset)
	if err != nil {
		return 0
	}
	return d
}

// Default возвращает конфиг по умолчанию
func Default() *Config {
	adjust := true
	lock := defaultLockFile
	hwclock := "hwclock -w"
	return &Config{
		Server:             defaultServer,
		IntervalMinutes:    defaultIntervalMinutes,
		Timeout:            defaultTimeout.String(),
		AdjustClock:        &adjust,
		NeedsSyncThreshold: defaultNeedsSyncThreshold.String(),
		StatusInterval:     defaultStatusInterval.String(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Escalation: EscalationConfig{
			Strategies:   []string{StrategySyscall, StrategyShell, StrategyTimedated},
			ProbeTimeout: defaultProbeTimeout.String(),
			LockFile:     &lock,
			Shell: ShellConfig{
				Elevation: [][]string{
					{"su", "-c"},
					{"sudo", "-n", "sh", "-c"},
				},
				// Порядок как на устройствах: новый busybox, старый busybox, date с -s.
				DateCommands: []string{
					`date "{datetime}"`,
					"date {mmddhhmm}",
					"date -s @{unix}",
				},
				HwclockCommand: &hwclock,
				CommandTimeout: defaultCommandTimeout.String(),
			},
		},
		NMEA: NMEAConfig{Baud: defaultNMEABaud},
	}
}

// Load читает конфиг из YAML или TOML (по расширению файла)
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadOrDefault как Load, но отсутствующий файл даёт конфиг по умолчанию.
// Пустой path означает DefaultPath.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate проверяет значения, которые нельзя молча заменить дефолтами.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server) == "" {
		return errors.New("config: server is empty")
	}
	if c.IntervalMinutes <= 0 {
		return fmt.Errorf("config: interval_minutes must be positive, got %d", c.IntervalMinutes)
	}
	for _, name := range c.Escalation.Strategies {
		switch name {
		case StrategySyscall, StrategyShell, StrategyTimedated:
		default:
			return fmt.Errorf("config: unknown escalation strategy %q", name)
		}
	}
	for i, prefix := range c.Escalation.Shell.Elevation {
		if len(prefix) == 0 {
			return fmt.Errorf("config: escalation.shell.elevation[%d] is empty", i)
		}
	}
	return nil
}

// Interval период синхронизации.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// QueryTimeout таймаут одного запроса к источнику времени.
func (c *Config) QueryTimeout() time.Duration {
	return parseDuration(c.Timeout, defaultTimeout)
}

// ShouldAdjustClock применять ли время к системным часам в периодическом цикле.
func (c *Config) ShouldAdjustClock() bool {
	return c.AdjustClock == nil || *c.AdjustClock
}

// SyncThreshold возраст последней успешной синхронизации, после которого нужна новая.
func (c *Config) SyncThreshold() time.Duration {
	return parseDuration(c.NeedsSyncThreshold, defaultNeedsSyncThreshold)
}

// StatusEvery период вывода статуса демоном.
func (c *Config) StatusEvery() time.Duration {
	return parseDuration(c.StatusInterval, defaultStatusInterval)
}

// ProbeBound предел длительности проверенной (verified) пробы.
func (e *EscalationConfig) ProbeBound() time.Duration {
	return parseDuration(e.ProbeTimeout, defaultProbeTimeout)
}

// LockPath путь файловой блокировки; "" если отключена.
func (e *EscalationConfig) LockPath() string {
	if e.LockFile == nil {
		return defaultLockFile
	}
	return *e.LockFile
}

// CommandBound таймаут одной shell-команды.
func (s *ShellConfig) CommandBound() time.Duration {
	return parseDuration(s.CommandTimeout, defaultCommandTimeout)
}

// Hwclock команда синхронизации аппаратных часов; "" если отключена.
func (s *ShellConfig) Hwclock() string {
	if s.HwclockCommand == nil {
		return "hwclock -w"
	}
	return *s.HwclockCommand
}

func applyDefaults(c *Config) {
	d := Default()
	if strings.TrimSpace(c.Server) == "" {
		c.Server = d.Server
	}
	if c.IntervalMinutes == 0 {
		c.IntervalMinutes = d.IntervalMinutes
	}
	if c.Timeout == "" {
		c.Timeout = d.Timeout
	}
	if c.AdjustClock == nil {
		c.AdjustClock = d.AdjustClock
	}
	if c.NeedsSyncThreshold == "" {
		c.NeedsSyncThreshold = d.NeedsSyncThreshold
	}
	if c.StatusInterval == "" {
		c.StatusInterval = d.StatusInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	e := &c.Escalation
	if len(e.Strategies) == 0 {
		e.Strategies = d.Escalation.Strategies
	}
	if e.ProbeTimeout == "" {
		e.ProbeTimeout = d.Escalation.ProbeTimeout
	}
	if e.LockFile == nil {
		e.LockFile = d.Escalation.LockFile
	}
	if len(e.Shell.Elevation) == 0 {
		e.Shell.Elevation = d.Escalation.Shell.Elevation
	}
	if len(e.Shell.DateCommands) == 0 {
		e.Shell.DateCommands = d.Escalation.Shell.DateCommands
	}
	if e.Shell.HwclockCommand == nil {
		e.Shell.HwclockCommand = d.Escalation.Shell.HwclockCommand
	}
	if e.Shell.CommandTimeout == "" {
		e.Shell.CommandTimeout = d.Escalation.Shell.CommandTimeout
	}
	if c.NMEA.Baud == 0 {
		c.NMEA.Baud = d.NMEA.Baud
	}
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
