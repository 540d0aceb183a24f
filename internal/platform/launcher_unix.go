//go:build !windows

package platform

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/chess10kp/whiskers/internal/apperrors"
)

// entryCommand runs ./<entryPoint> through sh so scripts without a shebang
// still work.
func entryCommand(ctx context.Context, entryPoint string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", "./"+entryPoint)
}

// configureForeground puts the child in its own process group and kills the
// whole group on cancellation, so grandchildren cannot outlive a timeout.
func configureForeground(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// configureBackground detaches the child from the controlling terminal.
func configureBackground(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func openURLCommand(url string) (*exec.Cmd, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty url", apperrors.ErrInvalidRequest)
	}
	if runtime.GOOS == "darwin" {
		return exec.Command("open", url), nil
	}
	return exec.Command("xdg-open", url), nil
}

// openAppCommand launches an indexed app. On Linux execPath is the app's
// .desktop file, started with gtk-launch from the file's directory.
func openAppCommand(execPath string) (*exec.Cmd, error) {
	if execPath == "" {
		return nil, fmt.Errorf("%w: empty exec path", apperrors.ErrInvalidRequest)
	}

	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", execPath), nil
	case "linux", "freebsd", "openbsd", "netbsd", "dragonfly":
		name := filepath.Base(execPath)
		if !strings.HasSuffix(name, ".desktop") {
			return nil, fmt.Errorf("%w: %s is not a desktop entry", apperrors.ErrUnsupportedPlatform, execPath)
		}
		cmd := exec.Command("gtk-launch", name)
		cmd.Dir = filepath.Dir(execPath)
		return cmd, nil
	default:
		return nil, fmt.Errorf("%w: open app on %s", apperrors.ErrUnsupportedPlatform, runtime.GOOS)
	}
}
