// Package service contains the account lifecycle and switch orchestration.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/agent-keeper/internal/crypto"
	"github.com/and161185/agent-keeper/internal/model"
	"github.com/and161185/agent-keeper/internal/repository"
	"github.com/and161185/agent-keeper/internal/session"
)

// StateStore is the editor's live state file.
type StateStore interface {
	ReadCurrent(ctx context.Context) (model.Snapshot, error)
	ReadSession(ctx context.Context) (*session.Record, error)
	WriteBackupSnapshot(ctx context.Context, repo repository.AccountRepository) (model.Identity, error)
	ResetToLoggedOut(ctx context.Context) (model.ApplyReport, error)
	Restore(ctx context.Context, snap model.Snapshot) (model.ApplyReport, error)
}

// Channel pushes calls to connected editor extensions.
type Channel interface {
	HasConnections() bool
	Count() int
	Notify(method string, params any) int
	BroadcastEvent(name string, data any) int
}

// Host controls the editor process.
type Host interface {
	IsRunning(ctx context.Context) (bool, error)
	Kill(ctx context.Context) error
	Launch(ctx context.Context) error
}

// AccountService is the API consumed by the control transports.
type AccountService interface {
	// Status reports whether the editor runs and how many extensions are connected.
	Status(ctx context.Context) (Status, error)
	// GetAccounts lists stored accounts, newest first.
	GetAccounts(ctx context.Context) (AccountList, error)
	// GetCurrentAccountInfo decodes the session in the live state store.
	GetCurrentAccountInfo(ctx context.Context) (session.View, error)
	// BackupCurrentAccount saves the live account to the repository.
	BackupCurrentAccount(ctx context.Context) (model.Identity, error)
	// RestoreAccount writes a stored account into the live state store.
	RestoreAccount(ctx context.Context, id model.Identity) (model.ApplyReport, error)
	// Switch makes id the active account.
	Switch(ctx context.Context, id model.Identity) (SwitchResult, error)
	// ClearAllData resets the live state store to logged out.
	ClearAllData(ctx context.Context) (model.ApplyReport, error)
	// SignInNew backs up the live account and restarts the editor logged out.
	SignInNew(ctx context.Context) (SignInResult, error)
	// DeleteBackup removes one stored account.
	DeleteBackup(ctx context.Context, id model.Identity) error
	// ClearAllBackups removes every stored account it can and reports the rest.
	ClearAllBackups(ctx context.Context) (ClearResult, error)
	// ExportAccounts returns every stored account encrypted under password.
	ExportAccounts(ctx context.Context, password string) (string, error)
	// ImportAccounts restores accounts from an export.
	ImportAccounts(ctx context.Context, data, password string) (model.ImportResult, error)
	// Encrypt seals arbitrary text under password.
	Encrypt(ctx context.Context, plaintext, password string) (string, error)
	// Decrypt opens text sealed by Encrypt or by the legacy exporter.
	Decrypt(ctx context.Context, data, password string) (string, error)
	// RefreshToken checks a stored account's token and refreshes it if rejected.
	RefreshToken(ctx context.Context, id model.Identity) (TokenStatus, error)
	// AccountQuota reports a stored account's remaining model quota.
	AccountQuota(ctx context.Context, id model.Identity) (AccountQuota, error)
	// TriggerQuotaRefresh starts the quota window of models that are still full.
	TriggerQuotaRefresh(ctx context.Context, id model.Identity) (TriggerResult, error)
}

// Options holds the settle delays between orchestration steps.
type Options struct {
	SettleDelay       time.Duration // after store writes, before notify or launch
	KillWait          time.Duration // after terminating the editor
	SignInKillWait    time.Duration
	SignInLaunchDelay time.Duration
	// KDF is the key derivation cost for exports. Zero uses crypto.DefaultParams.
	KDF crypto.Params
}

// DefaultOptions are the delays used in production.
var DefaultOptions = Options{
	SettleDelay:       time.Second,
	KillWait:          time.Second,
	SignInKillWait:    500 * time.Millisecond,
	SignInLaunchDelay: 300 * time.Millisecond,
}

// AccountServiceImpl implements AccountService.
type AccountServiceImpl struct {
	repo  repository.AccountRepository
	store StateStore
	ch    Channel
	host  Host
	up    Upstream
	opts  Options
	log   *zap.Logger
	now   func() time.Time
}

var _ AccountService = (*AccountServiceImpl)(nil)

// NewAccountService constructs AccountService with required dependencies.
// up may be nil, which disables the token and quota operations.
func NewAccountService(repo repository.AccountRepository, store StateStore, ch Channel, host Host, up Upstream, opts Options, log *zap.Logger) *AccountServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.KDF == (crypto.Params{}) {
		opts.KDF = crypto.DefaultParams
	}
	return &AccountServiceImpl{repo: repo, store: store, ch: ch, host: host, up: up, opts: opts, log: log, now: time.Now}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
