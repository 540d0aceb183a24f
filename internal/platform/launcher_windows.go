//go:build windows

package platform

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/chess10kp/whiskers/internal/apperrors"
)

const createNoWindow = 0x08000000

func entryCommand(ctx context.Context, entryPoint string) *exec.Cmd {
	return exec.CommandContext(ctx, "cmd", "/C", entryPoint)
}

func configureForeground(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
}

func configureBackground(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
}

func openURLCommand(url string) (*exec.Cmd, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty url", apperrors.ErrInvalidRequest)
	}
	return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
}

// openAppCommand opens the shortcut or executable at execPath with the
// shell's default verb.
func openAppCommand(execPath string) (*exec.Cmd, error) {
	if execPath == "" {
		return nil, fmt.Errorf("%w: empty exec path", apperrors.ErrInvalidRequest)
	}
	quoted := "'" + strings.ReplaceAll(execPath, "'", "''") + "'"
	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", "Invoke-Item -LiteralPath "+quoted), nil
}
