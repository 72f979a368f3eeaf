// Package lock guarantees a single memod per profile directory.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/remotememo/internal/errors"
)

// LockHeldError is returned when another process holds the profile lock.
type LockHeldError struct {
	PID    int
	Device string
	Path   string
}

func (e *LockHeldError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("profile lock held by PID %d for device %s (%s)", e.PID, e.Device, e.Path)
	}
	return fmt.Sprintf("profile lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock represents an acquired profile lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on the profile directory and records the
// owning PID and device id. Returns LockHeldError if another process holds it.
func Acquire(profileDir, deviceID string) (*Lock, error) {
	lockPath := filepath.Join(profileDir, "LOCK")

	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, errors.Wrap(err, "create profile dir")
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "open lock file")
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		info := parse(string(data))
		_ = f.Close()
		return nil, &LockHeldError{PID: info.pid, Device: info.device, Path: lockPath}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\ndevice=%s\ntime=%s\n", os.Getpid(), deviceID, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

type holder struct {
	pid    int
	device string
}

func parse(content string) holder {
	var h holder
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			h.pid, _ = strconv.Atoi(after)
		}
		if after, ok := strings.CutPrefix(line, "device="); ok {
			h.device = after
		}
	}
	return h
}
