package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/model"
	"github.com/and161185/agent-keeper/internal/session"
)

// Status reports the editor process and extension channel state.
type Status struct {
	HostRunning bool   `json:"hostRunning"`
	HostError   string `json:"hostError,omitempty"`
	Extensions  int    `json:"extensions"`
}

// AccountInfo is one stored account as shown to control clients.
type AccountInfo struct {
	Identity   model.Identity `json:"identity"`
	ModifiedAt time.Time      `json:"modifiedAt"`
	BackupTime *time.Time     `json:"backupTime,omitempty"`
	Session    session.View   `json:"session"`
}

// AccountList is the result of GetAccounts.
type AccountList struct {
	Accounts []AccountInfo       `json:"accounts"`
	Skipped  []model.SkippedFile `json:"skipped,omitempty"`
}

func (s *AccountServiceImpl) Status(ctx context.Context) (Status, error) {
	st := Status{Extensions: s.ch.Count()}
	running, err := s.host.IsRunning(ctx)
	if err != nil {
		s.log.Warn("process query failed", zap.Error(err))
		st.HostError = errs.ErrProcessQuery.Error()
	}
	st.HostRunning = running
	return st, nil
}

// GetAccounts lists stored accounts with their decoded sessions.
func (s *AccountServiceImpl) GetAccounts(ctx context.Context) (AccountList, error) {
	recs, skipped, err := s.repo.List(ctx)
	if err != nil {
		return AccountList{}, fmt.Errorf("list accounts: %w", err)
	}
	out := AccountList{Accounts: make([]AccountInfo, 0, len(recs)), Skipped: skipped}
	for _, r := range recs {
		info := AccountInfo{Identity: r.Identity, ModifiedAt: r.ModifiedAt, Session: r.Session.View()}
		if r.File != nil && !r.File.BackupTime.IsZero() {
			bt := r.File.BackupTime
			info.BackupTime = &bt
		}
		out.Accounts = append(out.Accounts, info)
	}
	return out, nil
}

func (s *AccountServiceImpl) GetCurrentAccountInfo(ctx context.Context) (session.View, error) {
	rec, err := s.store.ReadSession(ctx)
	if err != nil {
		return session.View{}, err
	}
	return rec.View(), nil
}

func (s *AccountServiceImpl) BackupCurrentAccount(ctx context.Context) (model.Identity, error) {
	id, err := s.store.WriteBackupSnapshot(ctx, s.repo)
	if err != nil {
		return "", err
	}
	s.log.Info("account backed up", zap.String("identity", id.String()))
	return id, nil
}

// RestoreAccount writes a stored account over the live store without touching
// the editor process.
func (s *AccountServiceImpl) RestoreAccount(ctx context.Context, id model.Identity) (model.ApplyReport, error) {
	if err := id.Validate(); err != nil {
		return model.ApplyReport{}, err
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.ApplyReport{}, fmt.Errorf("load account %s: %w", id, err)
	}
	rep, err := s.store.Restore(ctx, rec.File.Snapshot())
	if err != nil {
		return rep, err
	}
	s.log.Info("account restored", zap.String("identity", id.String()), zap.Int("copies", rep.Applied()))
	return rep, nil
}

func (s *AccountServiceImpl) ClearAllData(ctx context.Context) (model.ApplyReport, error) {
	rep, err := s.store.ResetToLoggedOut(ctx)
	if err != nil {
		return rep, err
	}
	s.log.Info("live state reset", zap.Int("copies", rep.Applied()))
	return rep, nil
}

func (s *AccountServiceImpl) DeleteBackup(ctx context.Context, id model.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	s.log.Info("account deleted", zap.String("identity", id.String()))
	return nil
}

// ClearResult reports a ClearAllBackups run. Files listed in Failed are still on disk.
type ClearResult struct {
	Removed int                 `json:"removed"`
	Failed  []model.SkippedFile `json:"failed,omitempty"`
}

func (s *AccountServiceImpl) ClearAllBackups(ctx context.Context) (ClearResult, error) {
	n, failed, err := s.repo.ClearAll(ctx)
	res := ClearResult{Removed: n, Failed: failed}
	if err != nil {
		return res, fmt.Errorf("clear accounts: %w", err)
	}
	s.log.Info("accounts cleared", zap.Int("removed", n), zap.Int("failed", len(failed)))
	return res, nil
}
