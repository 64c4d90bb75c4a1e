package source

import (
	"context"
	"strings"
	"time"
)

// Dispatch выбирает источник по виду сервера: nmea:<порт> идёт в NMEA, остальное в NTP.
type Dispatch struct {
	NTP  TimeSource
	NMEA TimeSource
}

// NewDispatch создаёт источник по умолчанию (NTP + NMEA с заданной скоростью порта и поправкой).
func NewDispatch(nmeaBaud int, nmeaOffset time.Duration) *Dispatch {
	return &Dispatch{
		NTP:  NewNTP(),
		NMEA: NewNMEA(nmeaBaud, nmeaOffset),
	}
}

// Query реализует TimeSource.
func (d *Dispatch) Query(ctx context.Context, server string, timeout time.Duration) (Sample, error) {
	server = strings.TrimSpace(server)
	if Protocol(server) == "nmea" {
		return d.NMEA.Query(ctx, server, timeout)
	}
	return d.NTP.Query(ctx, server, timeout)
}

// Protocol возвращает протокол для строки сервера: nmea или ntp.
func Protocol(server string) string {
	if strings.HasPrefix(server, NMEAScheme) {
		return "nmea"
	}
	return "ntp"
}
