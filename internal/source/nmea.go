package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// NMEAScheme префикс сервера для GNSS приёмника на последовательном порту: nmea:/dev/ttyUSB0.
const NMEAScheme = "nmea:"

// nmeaReadTimeout таймаут одного чтения порта; общий предел задаёт timeout запроса.
const nmeaReadTimeout = 200 * time.Millisecond

// NMEA источник времени по NMEA RMC (GPRMC/GNRMC) с последовательного порта.
// Порт открывается на каждый запрос и закрывается после него.
type NMEA struct {
	Baud   int
	Offset time.Duration // статическая поправка к времени фикса (задержка выдачи RMC)
	Now    func() time.Time

	open func(device string, baud int) (io.ReadCloser, error)
}

// NewNMEA создаёт источник NMEA по последовательному порту.
func NewNMEA(baud int, offset time.Duration) *NMEA {
	if baud == 0 {
		baud = 9600
	}
	return &NMEA{Baud: baud, Offset: offset, open: openSerial}
}

func openSerial(device string, baud int) (io.ReadCloser, error) {
	c := &serial.Config{Name: device, Baud: baud, ReadTimeout: nmeaReadTimeout}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("nmea open %s: %w", device, err)
	}
	return port, nil
}

// Query читает строки NMEA до первого валидного RMC или до истечения timeout.
// Задержка считается нулевой: приёмник подключён локально.
func (n *NMEA) Query(ctx context.Context, server string, timeout time.Duration) (Sample, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	device := strings.TrimPrefix(server, NMEAScheme)
	if device == "" {
		return Sample{}, queryErr(server, errors.New("nmea: device path is empty"))
	}
	now := n.Now
	if now == nil {
		now = time.Now
	}
	open := n.open
	if open == nil {
		open = openSerial
	}
	port, err := open(device, n.Baud)
	if err != nil {
		return Sample{}, queryErr(server, err)
	}
	defer port.Close()

	deadline := now().Add(timeout)
	rd := bufio.NewReader(port)
	for now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return Sample{}, queryErr(server, err)
		}
		line, err := rd.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// таймаут чтения порта
				continue
			}
			return Sample{}, queryErr(server, fmt.Errorf("nmea read: %w", err))
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$GP") && !strings.HasPrefix(line, "$GN") {
			continue
		}
		if !strings.Contains(line, "RMC") {
			continue
		}
		fix, ok := parseRMC(line)
		if !ok {
			continue
		}
		local := now()
		fix = fix.Add(n.Offset)
		return Sample{
			Server:         server,
			ServerTime:     fix,
			LocalAtReceipt: local,
			Offset:         fix.Sub(local),
		}, nil
	}
	return Sample{}, queryErr(server, fmt.Errorf("no valid RMC fix within %v", timeout))
}

// parseRMC парсит $GPRMC или $GNRMC: поле 1 = hhmmss.ss, поле 2 = A/V, поле 9 = ddmmyy.
func parseRMC(line string) (time.Time, bool) {
	if i := strings.Index(line, "*"); i >= 0 {
		if !validChecksum(line[1:i], line[i+1:]) {
			return time.Time{}, false
		}
		line = line[:i]
	}
	parts := strings.Split(line, ",")
	if len(parts) < 10 {
		return time.Time{}, false
	}
	if parts[2] != "A" {
		return time.Time{}, false
	}
	timeStr := parts[1]
	dateStr := parts[9]
	if len(timeStr) < 6 || len(dateStr) < 6 {
		return time.Time{}, false
	}
	hh, err1 := strconv.Atoi(timeStr[0:2])
	mm, err2 := strconv.Atoi(timeStr[2:4])
	ss, err3 := strconv.Atoi(timeStr[4:6])
	if err := errors.Join(err1, err2, err3); err != nil {
		return time.Time{}, false
	}
	nsec := 0
	if len(timeStr) >= 8 && timeStr[6] == '.' {
		fracStr := timeStr[7:]
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		}
		frac, err := strconv.Atoi(fracStr)
		if err != nil {
			return time.Time{}, false
		}
		for i := len(fracStr); i < 9; i++ {
			frac *= 10
		}
		nsec = frac
	}
	day, err1 := strconv.Atoi(dateStr[0:2])
	month, err2 := strconv.Atoi(dateStr[2:4])
	year, err3 := strconv.Atoi(dateStr[4:6])
	if err := errors.Join(err1, err2, err3); err != nil {
		return time.Time{}, false
	}
	if year < 80 {
		year += 2000
	} else {
		year += 1900
	}
	return time.Date(year, time.Month(month), day, hh, mm, ss, nsec, time.UTC), true
}

// validChecksum XOR всех байт между '$' и '*' против двух hex цифр.
func validChecksum(body, sum string) bool {
	if len(sum) < 2 {
		return false
	}
	want, err := strconv.ParseUint(sum[:2], 16, 8)
	if err != nil {
		return false
	}
	var got byte
	for i := 0; i < len(body); i++ {
		got ^= body[i]
	}
	return uint64(got) == want
}
