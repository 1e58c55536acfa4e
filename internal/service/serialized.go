package service

import (
	"context"
	"sync"

	"github.com/and161185/agent-keeper/internal/model"
	"github.com/and161185/agent-keeper/internal/session"
)

// Serialized runs every mutating operation of the wrapped service one at a
// time. Read-only operations pass through.
type Serialized struct {
	mu    sync.Mutex
	inner AccountService
}

var _ AccountService = (*Serialized)(nil)

// NewSerialized wraps inner.
func NewSerialized(inner AccountService) *Serialized {
	return &Serialized{inner: inner}
}

func (s *Serialized) Status(ctx context.Context) (Status, error) { return s.inner.Status(ctx) }

func (s *Serialized) GetAccounts(ctx context.Context) (AccountList, error) {
	return s.inner.GetAccounts(ctx)
}

func (s *Serialized) GetCurrentAccountInfo(ctx context.Context) (session.View, error) {
	return s.inner.GetCurrentAccountInfo(ctx)
}

func (s *Serialized) BackupCurrentAccount(ctx context.Context) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.BackupCurrentAccount(ctx)
}

func (s *Serialized) RestoreAccount(ctx context.Context, id model.Identity) (model.ApplyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RestoreAccount(ctx, id)
}

func (s *Serialized) Switch(ctx context.Context, id model.Identity) (SwitchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Switch(ctx, id)
}

func (s *Serialized) ClearAllData(ctx context.Context) (model.ApplyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ClearAllData(ctx)
}

func (s *Serialized) SignInNew(ctx context.Context) (SignInResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SignInNew(ctx)
}

func (s *Serialized) DeleteBackup(ctx context.Context, id model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DeleteBackup(ctx, id)
}

func (s *Serialized) ClearAllBackups(ctx context.Context) (ClearResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ClearAllBackups(ctx)
}

func (s *Serialized) ExportAccounts(ctx context.Context, password string) (string, error) {
	return s.inner.ExportAccounts(ctx, password)
}

func (s *Serialized) ImportAccounts(ctx context.Context, data, password string) (model.ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ImportAccounts(ctx, data, password)
}

func (s *Serialized) Encrypt(ctx context.Context, plaintext, password string) (string, error) {
	return s.inner.Encrypt(ctx, plaintext, password)
}

func (s *Serialized) Decrypt(ctx context.Context, data, password string) (string, error) {
	return s.inner.Decrypt(ctx, data, password)
}

func (s *Serialized) RefreshToken(ctx context.Context, id model.Identity) (TokenStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RefreshToken(ctx, id)
}

func (s *Serialized) AccountQuota(ctx context.Context, id model.Identity) (AccountQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.AccountQuota(ctx, id)
}

func (s *Serialized) TriggerQuotaRefresh(ctx context.Context, id model.Identity) (TriggerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.TriggerQuotaRefresh(ctx, id)
}
