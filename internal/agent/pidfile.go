package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAgentRunning is returned when another agent instance is already running.
var ErrAgentRunning = errors.New("another alarm-agent instance is already running")

// ErrNoPIDFile is returned when no PID file exists.
var ErrNoPIDFile = errors.New("no PID file found")

// ErrStalePIDFile is returned when the PID file exists but the process is not running.
var ErrStalePIDFile = errors.New("stale PID file (process not running)")

// WritePIDFile writes the current process ID to path. A stale file is
// replaced; a live one yields ErrAgentRunning.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if existing, err := ReadPIDFile(path); err == nil && existing != os.Getpid() && isProcessRunning(existing) {
		return ErrAgentRunning
	}

	content := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPIDFile reads the PID from the PID file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoPIDFile
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// CheckPIDFile returns the PID of the running agent, 0 when there is no PID
// file, or ErrStalePIDFile.
func CheckPIDFile(path string) (int, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, ErrNoPIDFile) {
			return 0, nil
		}
		return 0, err
	}

	if !isProcessRunning(pid) {
		return 0, ErrStalePIDFile
	}
	return pid, nil
}

// SignalRefresh asks the agent recorded in path to recompile its rules.
func SignalRefresh(path string) (int, error) {
	pid, err := CheckPIDFile(path)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, ErrNoPIDFile
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, err
	}
	if err := process.Signal(syscall.SIGHUP); err != nil {
		return pid, fmt.Errorf("failed to signal agent %d: %w", pid, err)
	}
	return pid, nil
}

// isProcessRunning sends signal 0 to pid.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to signal
	return process.Signal(syscall.Signal(0)) == nil
}

// DefaultPIDFilePath returns the default PID file path.
func DefaultPIDFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "alarm-agent.pid"
	}
	return filepath.Join(homeDir, ".config", "devicealarm", "alarm-agent.pid")
}

// AgentRunning reports whether the agent recorded in path is running,
// removing a stale PID file.
func AgentRunning(path string) (bool, int, error) {
	pid, err := CheckPIDFile(path)
	if err != nil {
		if errors.Is(err, ErrStalePIDFile) {
			_ = RemovePIDFile(path)
			return false, 0, nil
		}
		return false, 0, err
	}
	return pid > 0, pid, nil
}
