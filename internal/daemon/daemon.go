// Package daemon manages the background instance: its PID file, detached
// start and graceful stop.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/padwatch/padwatch/internal/config"
)

var ErrNotRunning = errors.New("daemon is not running")

// AlreadyRunningError is returned when a live instance owns the PID file.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("daemon already running (pid %d)", e.PID)
}

// PIDFile is the file recording the background instance's process id.
type PIDFile struct {
	Path string
}

// DefaultPIDFile lives in the cache directory next to the daemon log.
func DefaultPIDFile() *PIDFile {
	return &PIDFile{Path: filepath.Join(config.CacheDir(), "padwatch.pid")}
}

// DefaultLogPath is where a detached daemon writes its log.
func DefaultLogPath() string {
	return filepath.Join(config.CacheDir(), "padwatch.log")
}

func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", p.Path)
	}
	return pid, nil
}

func (p *PIDFile) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func (p *PIDFile) Remove() error {
	err := os.Remove(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RemoveIfOwned deletes the file only when it still names pid, so an exiting
// instance never removes a successor's file.
func (p *PIDFile) RemoveIfOwned(pid int) error {
	cur, err := p.Read()
	if err != nil || cur != pid {
		return nil
	}
	return p.Remove()
}

// Running returns the pid of a live instance. A file naming a dead or
// unparsable process is removed.
func (p *PIDFile) Running() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.Remove()
		}
		return 0, false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil || !alive {
		p.Remove()
		return 0, false
	}
	return pid, true
}

// Start launches exe with args in a new session, detached from the
// terminal, and records its pid. It refuses when an instance is live.
func Start(p *PIDFile, exe string, args ...string) (int, error) {
	if pid, ok := p.Running(); ok {
		return 0, &AlreadyRunningError{PID: pid}
	}

	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = detachedAttr()
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, err
	}
	if err := p.Write(pid); err != nil {
		return pid, fmt.Errorf("write pid file: %w", err)
	}
	return pid, nil
}

// Stop sends SIGTERM to the recorded instance and waits up to timeout for
// it to exit. The PID file is removed once it has.
func Stop(p *PIDFile, timeout time.Duration) (int, error) {
	pid, ok := p.Running()
	if !ok {
		return 0, ErrNotRunning
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		p.Remove()
		return pid, ErrNotRunning
	}
	if err := proc.Terminate(); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if alive, err := process.PidExists(int32(pid)); err == nil && !alive {
			p.Remove()
			return pid, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return pid, fmt.Errorf("pid %d still running after %s", pid, timeout)
}
