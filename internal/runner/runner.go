// Package runner запускает внешние команды (su, sudo, date, hwclock) как дочерние процессы.
// Вызывающему важен только статус завершения: 0 = успех, всё остальное = ошибка.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// maxOutput сколько байт вывода команды сохраняется в ошибке для диагностики.
const maxOutput = 512

// ErrEmptyCommand пустой argv.
var ErrEmptyCommand = errors.New("runner: empty command")

// Runner выполняет команду до завершения или отмены ctx.
type Runner interface {
	Run(ctx context.Context, argv []string) error
}

// Exec реализация Runner через os/exec.
type Exec struct {
	// Timeout ограничивает одну команду; 0 = только ctx.
	Timeout time.Duration
}

// ExitError команда завершилась ненулевым кодом, не запустилась или была прервана.
type ExitError struct {
	Argv   []string
	Code   int // -1 если процесс не завершился сам
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(e.Argv, " "), e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Run запускает argv[0] с аргументами argv[1:].
func (e Exec) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return ErrEmptyCommand
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	// su может оставить потомков, держащих pipe; не ждём их дольше секунды после kill.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return nil
	}
	res := &ExitError{
		Argv:   append([]string(nil), argv...),
		Code:   -1,
		Output: trimOutput(out.Bytes()),
		Err:    err,
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Err = ctxErr
		return res
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.Code = ee.ExitCode()
	}
	return res
}

func trimOutput(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxOutput {
		s = s[:maxOutput] + "..."
	}
	return s
}
