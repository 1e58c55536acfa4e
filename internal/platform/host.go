package platform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/agent-keeper/internal/errs"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Host finds, terminates and launches the editor process.
type Host struct {
	processName string
	launch      []string
	log         *zap.Logger

	run       Runner
	terminate func(pid int) error
	start     func(argv []string) error
}

// NewHost returns a controller for processes named processName, started with launch.
func NewHost(processName string, launch []string, log *zap.Logger) *Host {
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{
		processName: processName,
		launch:      launch,
		log:         log,
		run:         execRunner,
		terminate:   terminatePID,
		start:       startDetached,
	}
}

// IsRunning reports whether at least one editor process exists.
func (h *Host) IsRunning(ctx context.Context) (bool, error) {
	pids, err := h.find(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrProcessQuery, err)
	}
	return len(pids) > 0, nil
}

// Kill terminates every editor process. Returns errs.ErrProcessNotFound when
// there was none.
func (h *Host) Kill(ctx context.Context) error {
	pids, err := h.find(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrProcessQuery, err)
	}
	if len(pids) == 0 {
		return errs.ErrProcessNotFound
	}
	var errList []error
	for _, pid := range pids {
		if err := h.terminate(pid); err != nil {
			errList = append(errList, fmt.Errorf("pid %d: %w", pid, err))
			continue
		}
		h.log.Info("host process terminated", zap.Int("pid", pid))
	}
	return errors.Join(errList...)
}

// Launch starts the editor detached from this process.
func (h *Host) Launch(_ context.Context) error {
	if len(h.launch) == 0 || h.launch[0] == "" {
		return fmt.Errorf("%w: no launch command configured", errs.ErrLaunchFailed)
	}
	if err := h.start(h.launch); err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrLaunchFailed, h.launch[0], err)
	}
	h.log.Info("host process launched", zap.Strings("argv", h.launch))
	return nil
}

func startDetached(argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// parsePgrep reads one pid per line.
func parsePgrep(out []byte) ([]int, error) {
	var pids []int
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("unexpected pgrep output %q", line)
		}
		pids = append(pids, pid)
	}
	return pids, sc.Err()
}

// parseTasklist reads `tasklist /FO CSV /NH` output, keeping rows whose image
// name equals name. Informational lines without CSV columns are ignored.
func parseTasklist(out []byte, name string) ([]int, error) {
	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse tasklist output: %w", err)
	}
	var pids []int
	for _, rec := range recs {
		if len(rec) < 2 || !strings.EqualFold(rec[0], name) {
			continue
		}
		pid, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("unexpected tasklist pid %q", rec[1])
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
