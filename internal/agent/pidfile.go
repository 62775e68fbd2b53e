package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/willibrandon/tollgate/internal/config"
)

var (
	// ErrAlreadyRunning is returned when the PID file names a live process.
	ErrAlreadyRunning = errors.New("another tollgate instance is already running")
	// ErrNoPIDFile is returned when no PID file exists.
	ErrNoPIDFile = errors.New("no PID file found")
	// ErrStalePIDFile is returned when the recorded process is gone.
	ErrStalePIDFile = errors.New("stale PID file (process not running)")
)

// DefaultPIDFilePath returns ~/.config/tollgate/tollgate.pid.
func DefaultPIDFilePath() string {
	return filepath.Join(config.DefaultDir(), "tollgate.pid")
}

// WritePIDFile records the current process. It refuses to overwrite the
// file of a process that is still alive.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if pid, err := ReadPIDFile(path); err == nil && pid != os.Getpid() && isProcessRunning(pid) {
		return ErrAlreadyRunning
	}

	content := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPIDFile returns the PID stored at path.
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

// RemovePIDFile deletes the file; a missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// RunningPID returns the PID of a live tollgate process recorded at path,
// or 0. A stale file is removed.
func RunningPID(path string) (int, error) {
	pid, err := ReadPIDFile(path)
	if errors.Is(err, ErrNoPIDFile) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if !isProcessRunning(pid) {
		_ = RemovePIDFile(path)
		return 0, nil
	}
	return pid, nil
}
