package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/model"
)

const (
	// ReloadMethod is the notification that tells extensions to reload their window.
	ReloadMethod = "reloadWindow"
	// AccountChangedEvent announces the newly active account to extensions.
	AccountChangedEvent = "account_changed"
)

// SwitchResult is the outcome of a switch that did not fail.
type SwitchResult struct {
	Plan        Plan           `json:"plan"`
	Identity    model.Identity `json:"identity"`
	Notified    int            `json:"notified"`
	Restored    bool           `json:"restored"`
	Launched    bool           `json:"launched"`
	LaunchError string         `json:"launchError,omitempty"`
	Message     string         `json:"message"`
}

// SignInResult is the outcome of SignInNew. Individual step failures are tolerated.
type SignInResult struct {
	BackedUp    model.Identity `json:"backedUp,omitempty"`
	BackupError string         `json:"backupError,omitempty"`
	ResetError  string         `json:"resetError,omitempty"`
	Launched    bool           `json:"launched"`
	LaunchError string         `json:"launchError,omitempty"`
	Message     string         `json:"message"`
}

// Switch makes id the active account. The plan is decided once, before any
// side effect; steps run strictly in order and are never rolled back.
func (s *AccountServiceImpl) Switch(ctx context.Context, id model.Identity) (SwitchResult, error) {
	if err := id.Validate(); err != nil {
		return SwitchResult{}, err
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return SwitchResult{}, fmt.Errorf("load account %s: %w", id, err)
	}
	snap := rec.File.Snapshot()

	running, err := s.host.IsRunning(ctx)
	if err != nil {
		return SwitchResult{}, fmt.Errorf("query editor process: %w", err)
	}
	plan := DecidePlan(s.ch.HasConnections(), running)
	log := s.log.With(zap.String("identity", id.String()), zap.Stringer("plan", plan))
	log.Info("switch started")

	res := SwitchResult{Plan: plan, Identity: id}
	switch plan {
	case PlanLiveReload:
		if err := s.rewrite(ctx, snap); err != nil {
			return res, err
		}
		res.Restored = true
		if err := sleep(ctx, s.opts.SettleDelay); err != nil {
			return res, err
		}
		s.ch.BroadcastEvent(AccountChangedEvent, map[string]string{"email": id.String()})
		res.Notified = s.ch.Notify(ReloadMethod, struct{}{})
		res.Message = fmt.Sprintf("switched to %s; reload sent to %d window(s)", id, res.Notified)

	case PlanBlockedAwaitingExtension:
		log.Warn("switch refused")
		return res, errs.ErrExtensionRequired

	case PlanColdRestart:
		if err := s.host.Kill(ctx); err != nil && !errors.Is(err, errs.ErrProcessNotFound) {
			return res, fmt.Errorf("stop editor: %w", err)
		}
		if err := sleep(ctx, s.opts.KillWait); err != nil {
			return res, err
		}
		if err := s.rewrite(ctx, snap); err != nil {
			return res, err
		}
		res.Restored = true
		if err := sleep(ctx, s.opts.SettleDelay); err != nil {
			return res, err
		}
		if err := s.host.Launch(ctx); err != nil {
			log.Warn("launch failed after restore", zap.Error(err))
			res.LaunchError = errs.Message(err)
			res.Message = fmt.Sprintf("switched to %s; start the editor manually: %s", id, res.LaunchError)
			return res, nil
		}
		res.Launched = true
		res.Message = fmt.Sprintf("switched to %s; editor restarted", id)
	}

	log.Info("switch finished", zap.Int("notified", res.Notified), zap.Bool("launched", res.Launched))
	return res, nil
}

// rewrite resets the store and writes snap over it.
func (s *AccountServiceImpl) rewrite(ctx context.Context, snap model.Snapshot) error {
	if _, err := s.store.ResetToLoggedOut(ctx); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	if _, err := s.store.Restore(ctx, snap); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	return nil
}

// SignInNew stops the editor, saves the live account if there is one, clears
// the session and launches the editor at its sign-in screen.
func (s *AccountServiceImpl) SignInNew(ctx context.Context) (SignInResult, error) {
	var res SignInResult

	if err := s.host.Kill(ctx); err != nil && !errors.Is(err, errs.ErrProcessNotFound) {
		return res, fmt.Errorf("stop editor: %w", err)
	}
	if err := sleep(ctx, s.opts.SignInKillWait); err != nil {
		return res, err
	}

	if id, err := s.store.WriteBackupSnapshot(ctx, s.repo); err != nil {
		s.log.Info("no account backed up before sign-in", zap.Error(err))
		res.BackupError = errs.Message(err)
	} else {
		res.BackedUp = id
	}

	if _, err := s.store.ResetToLoggedOut(ctx); err != nil {
		s.log.Warn("reset before sign-in failed", zap.Error(err))
		res.ResetError = errs.Message(err)
	}
	if err := sleep(ctx, s.opts.SignInLaunchDelay); err != nil {
		return res, err
	}

	if err := s.host.Launch(ctx); err != nil {
		s.log.Warn("launch for sign-in failed", zap.Error(err))
		res.LaunchError = errs.Message(err)
	} else {
		res.Launched = true
	}

	var parts []string
	if res.BackedUp != "" {
		parts = append(parts, fmt.Sprintf("saved %s", res.BackedUp))
	}
	if res.ResetError != "" {
		parts = append(parts, "session could not be cleared")
	} else {
		parts = append(parts, "session cleared")
	}
	if res.Launched {
		parts = append(parts, "editor started for sign-in")
	} else {
		parts = append(parts, "start the editor manually to sign in")
	}
	res.Message = strings.Join(parts, "; ")
	return res, nil
}
