package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"grvtbot/internal/fsatomic"
	"grvtbot/internal/logger"
)

// Payload — содержимое lock-файла; принадлежит создавшему его процессу,
// пока тот жив.
type Payload struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Command   string    `json:"command"`
}

// RuntimeLock не даёт двум процессам торговать одним счётом одновременно.
type RuntimeLock struct {
	path     string
	log      *logger.Logger
	acquired bool
}

func New(path string, log *logger.Logger) *RuntimeLock {
	return &RuntimeLock{path: path, log: log}
}

// Acquire читает существующий lock-файл; если записанный pid ещё жив —
// отказывает. Иначе атомарно пишет собственный payload.
func (l *RuntimeLock) Acquire() error {
	payload := l.readPayload()
	currentPID := os.Getpid()

	if payload != nil && payload.PID > 0 && payload.PID != currentPID && pidAlive(payload.PID) {
		return fmt.Errorf(
			"Уже работает другой экземпляр бота (pid=%d). Удаляйте lock-файл %s только если процесс точно мёртв.",
			payload.PID, l.path,
		)
	}

	data, err := json.MarshalIndent(Payload{
		PID:       currentPID,
		StartedAt: time.Now().UTC(),
		Command:   strings.Join(os.Args, " "),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := fsatomic.WriteFile(l.path, append(data, '\n'), 0o600); err != nil {
		return err
	}

	l.acquired = true
	l.log.WithComponent("lock").WithFields(map[string]interface{}{
		"path": l.path,
		"pid":  currentPID,
	}).Info("Lock процесса получен.")
	return nil
}

// Release удаляет lock-файл только если записанный pid совпадает с текущим:
// чужой lock трогать нельзя.
func (l *RuntimeLock) Release() {
	if !l.acquired {
		return
	}
	l.acquired = false

	payload := l.readPayload()
	if payload == nil || payload.PID != os.Getpid() {
		l.log.WithComponent("lock").Warn("Lock-файл принадлежит другому процессу, не удаляем.")
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.log.WithComponent("lock").WithError(err).Warn("Не удалось удалить lock-файл.")
		return
	}
	l.log.WithComponent("lock").WithField("path", l.path).Info("Lock процесса снят.")
}

func (l *RuntimeLock) readPayload() *Payload {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}
	return &payload
}

// pidAlive проверяет процесс нулевым сигналом. EPERM означает,
// что процесс существует, но сигналить ему нельзя — считаем живым.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return false
	}
	if errors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}
