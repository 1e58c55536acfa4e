//go:build windows

package platform

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows"
)

func (h *Host) find(ctx context.Context) ([]int, error) {
	out, err := h.run(ctx, "tasklist", "/FI", "IMAGENAME eq "+h.processName, "/FO", "CSV", "/NH")
	if err != nil {
		return nil, fmt.Errorf("tasklist: %w", err)
	}
	return parseTasklist(out, h.processName)
}

func terminatePID(pid int) error {
	p, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		if err == windows.ERROR_INVALID_PARAMETER {
			return nil
		}
		return err
	}
	defer windows.CloseHandle(p)
	return windows.TerminateProcess(p, 1)
}
