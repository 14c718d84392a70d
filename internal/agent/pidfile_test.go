package agent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFile_WriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alarm-agent.pid")

	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile() error = %v", err)
	}

	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile() error = %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	running, got, err := AgentRunning(path)
	if err != nil || !running || got != os.Getpid() {
		t.Errorf("AgentRunning() = %v, %d, %v", running, got, err)
	}

	// Rewriting our own PID is not a conflict.
	if err := WritePIDFile(path); err != nil {
		t.Errorf("second WritePIDFile() error = %v", err)
	}

	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile() error = %v", err)
	}
	if _, err := ReadPIDFile(path); !errors.Is(err, ErrNoPIDFile) {
		t.Errorf("ReadPIDFile() after remove error = %v, want ErrNoPIDFile", err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Errorf("RemovePIDFile() on missing file error = %v", err)
	}
}

func TestCheckPIDFile(t *testing.T) {
	dir := t.TempDir()

	pid, err := CheckPIDFile(filepath.Join(dir, "missing.pid"))
	if err != nil || pid != 0 {
		t.Errorf("missing file: CheckPIDFile() = %d, %v", pid, err)
	}

	garbage := filepath.Join(dir, "garbage.pid")
	if err := os.WriteFile(garbage, []byte("not-a-pid\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := CheckPIDFile(garbage); err == nil {
		t.Error("garbage file: CheckPIDFile() expected error")
	}

	stale := filepath.Join(dir, "stale.pid")
	if err := os.WriteFile(stale, []byte("-5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := CheckPIDFile(stale); !errors.Is(err, ErrStalePIDFile) {
		t.Errorf("stale file: CheckPIDFile() error = %v, want ErrStalePIDFile", err)
	}

	running, _, err := AgentRunning(stale)
	if err != nil || running {
		t.Errorf("AgentRunning(stale) = %v, %v", running, err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale PID file was not removed")
	}
}

func TestSignalRefresh_NoAgent(t *testing.T) {
	if _, err := SignalRefresh(filepath.Join(t.TempDir(), "none.pid")); !errors.Is(err, ErrNoPIDFile) {
		t.Errorf("SignalRefresh() error = %v, want ErrNoPIDFile", err)
	}
}
