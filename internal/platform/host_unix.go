//go:build !windows

package platform

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
)

func (h *Host) find(ctx context.Context) ([]int, error) {
	out, err := h.run(ctx, "pgrep", "-x", h.processName)
	if err != nil {
		var exitErr *exec.ExitError
		// pgrep exits 1 when nothing matched.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("pgrep: %w", err)
	}
	return parsePgrep(out)
}

func terminatePID(pid int) error {
	err := unix.Kill(pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
