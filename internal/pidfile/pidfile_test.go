package pidfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	path := Path(filepath.Join(t.TempDir(), "timelapses"))

	pf, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create PID file: %v", err)
	}
	defer func() { _ = pf.Remove() }()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read PID file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("PID mismatch: got %q, want %d", data, os.Getpid())
	}

	if got, ok := Running(path); !ok || got != os.Getpid() {
		t.Errorf("Running() = %d, %v; want %d, true", got, ok, os.Getpid())
	}
}

func TestNewWhileRunning(t *testing.T) {
	path := Path(t.TempDir())

	pf, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create first PID file: %v", err)
	}
	defer func() { _ = pf.Remove() }()

	if _, err := New(path); !errors.Is(err, ErrRunning) {
		t.Fatalf("Expected ErrRunning, got %v", err)
	}
}

func TestStalePIDFile(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"終了済みのPID", "999999999\n"},
		{"数値でない", "not-a-pid"},
		{"空", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := Path(t.TempDir())
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatal(err)
			}

			if _, ok := Running(path); ok {
				t.Error("stale PID file reported as running")
			}

			pf, err := New(path)
			if err != nil {
				t.Fatalf("Expected stale PID file to be replaced, got %v", err)
			}
			if err := pf.Remove(); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("PID file should be removed")
			}
		})
	}
}

func TestRemoveKeepsOtherOwner(t *testing.T) {
	path := Path(t.TempDir())

	pf, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	// 別プロセスに上書きされた状態
	if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := pf.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("PID file owned by another process should remain: %v", err)
	}

	if _, ok := Running(filepath.Join(t.TempDir(), "missing.pid")); ok {
		t.Error("missing PID file reported as running")
	}
}
