// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/agent-keeper/internal/model"
)

// AccountRepository stores one backup file per account identity.
type AccountRepository interface {
	// List returns every readable account, most recently modified first.
	// Entries that cannot be read or decoded are reported in the skipped slice.
	List(ctx context.Context) ([]model.AccountRecord, []model.SkippedFile, error)
	// Get loads a single account. Returns errs.ErrNotFound when absent.
	Get(ctx context.Context, id model.Identity) (*model.AccountRecord, error)
	// Save atomically creates or fully replaces the account's file.
	Save(ctx context.Context, id model.Identity, f *model.BackupFile) error
	// Delete removes the account's file. Returns errs.ErrNotFound when absent.
	Delete(ctx context.Context, id model.Identity) error
	// ClearAll removes every account file it can. It returns how many were
	// removed and the files left behind.
	ClearAll(ctx context.Context) (int, []model.SkippedFile, error)
}
