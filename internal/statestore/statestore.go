// Package statestore reads and selectively rewrites the editor's SQLite state file.
//
// Only the well-known keys in package model are touched. Every other row of
// ItemTable is left as is.
package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/model"
	"github.com/and161185/agent-keeper/internal/repository"
	"github.com/and161185/agent-keeper/internal/session"
)

// SiblingSuffix is appended to the primary path to locate the backup copy
// the editor keeps next to it.
const SiblingSuffix = ".backup"

// resetDeleteKeys are removed by ResetToLoggedOut.
var resetDeleteKeys = []string{model.KeyAuthStatus, model.KeyProfileURL, model.KeyOnboarding}

// Store addresses one primary state file and its optional sibling.
type Store struct {
	primary string
	log     *zap.Logger
	now     func() time.Time
}

// New returns a store for the state file at primary.
func New(primary string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{primary: primary, log: log, now: time.Now}
}

// Path returns the primary state file path.
func (s *Store) Path() string { return s.primary }

// SiblingPath returns the path of the backup copy, whether or not it exists.
func (s *Store) SiblingPath() string { return s.primary + SiblingSuffix }

func open(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// ReadCurrent reads the known keys from the primary copy.
// Returns errs.ErrNoSession when the session key is absent.
func (s *Store) ReadCurrent(ctx context.Context) (model.Snapshot, error) {
	db, err := open(ctx, s.primary)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: %s: %v", errs.ErrStoreAccess, s.primary, err)
	}
	defer db.Close()

	get := func(key string) (*string, error) {
		var v sql.NullString
		err := db.QueryRowContext(ctx, `SELECT value FROM ItemTable WHERE key = ?`, key).Scan(&v)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, nil
		case err != nil:
			return nil, fmt.Errorf("%w: query %s: %v", errs.ErrStoreAccess, key, err)
		case !v.Valid:
			return nil, nil
		}
		return &v.String, nil
	}

	var snap model.Snapshot
	sess, err := get(model.KeySessionState)
	if err != nil {
		return model.Snapshot{}, err
	}
	if sess == nil || *sess == "" {
		return model.Snapshot{}, errs.ErrNoSession
	}
	snap.SessionState = *sess

	for key, dst := range map[string]**string{
		model.KeyAuthStatus:      &snap.AuthStatus,
		model.KeyProfileURL:      &snap.ProfileURL,
		model.KeyUserSettings:    &snap.UserSettings,
		model.KeyIntegrityMarker: &snap.IntegrityMarker,
	} {
		v, err := get(key)
		if err != nil {
			return model.Snapshot{}, err
		}
		*dst = v
	}
	return snap, nil
}

// ReadSession decodes the session held by the primary copy.
func (s *Store) ReadSession(ctx context.Context) (*session.Record, error) {
	snap, err := s.ReadCurrent(ctx)
	if err != nil {
		return nil, err
	}
	return session.Decode(snap.SessionState)
}

// WriteBackupSnapshot saves the primary copy's account to repo under the
// email found in its session and returns that identity.
func (s *Store) WriteBackupSnapshot(ctx context.Context, repo repository.AccountRepository) (model.Identity, error) {
	snap, err := s.ReadCurrent(ctx)
	if err != nil {
		return "", err
	}
	rec, err := session.Decode(snap.SessionState)
	if err != nil {
		return "", err
	}
	id := model.Identity(rec.Email())
	if id == "" {
		return "", fmt.Errorf("%w: session carries no email", errs.ErrNoSession)
	}
	if err := id.Validate(); err != nil {
		return "", err
	}
	if err := repo.Save(ctx, id, model.NewBackupFile(snap, s.now())); err != nil {
		return "", fmt.Errorf("save backup for %s: %w", id, err)
	}
	s.log.Info("current account backed up", zap.String("identity", id.String()))
	return id, nil
}

// ResetToLoggedOut removes the auth, profile and onboarding keys and sets the
// integrity marker to LoggedOutMarker on every copy.
func (s *Store) ResetToLoggedOut(ctx context.Context) (model.ApplyReport, error) {
	return s.apply(ctx, "reset", func(ctx context.Context, tx *sql.Tx) (int, error) {
		n := 0
		for _, key := range resetDeleteKeys {
			res, err := tx.ExecContext(ctx, `DELETE FROM ItemTable WHERE key = ?`, key)
			if err != nil {
				return n, fmt.Errorf("delete %s: %w", key, err)
			}
			if c, _ := res.RowsAffected(); c > 0 {
				n++
			}
		}
		if err := upsert(ctx, tx, model.KeyIntegrityMarker, LoggedOutMarker); err != nil {
			return n, err
		}
		return n + 1, nil
	})
}

// Restore writes snap's keys to every copy. Optional keys are written only
// when present; the analytics timestamp is always reset to "0".
func (s *Store) Restore(ctx context.Context, snap model.Snapshot) (model.ApplyReport, error) {
	return s.apply(ctx, "restore", func(ctx context.Context, tx *sql.Tx) (int, error) {
		n := 0
		put := func(key string, v *string) error {
			if v == nil {
				return nil
			}
			if err := upsert(ctx, tx, key, *v); err != nil {
				return err
			}
			n++
			return nil
		}
		if snap.SessionState != "" {
			if err := put(model.KeySessionState, &snap.SessionState); err != nil {
				return n, err
			}
		}
		for _, kv := range []struct {
			key string
			v   *string
		}{
			{model.KeyAuthStatus, snap.AuthStatus},
			{model.KeyProfileURL, snap.ProfileURL},
			{model.KeyUserSettings, snap.UserSettings},
			{model.KeyIntegrityMarker, snap.IntegrityMarker},
		} {
			if err := put(kv.key, kv.v); err != nil {
				return n, err
			}
		}
		zero := "0"
		if err := put(model.KeyAnalyticsUpload, &zero); err != nil {
			return n, err
		}
		return n, nil
	})
}

func upsert(ctx context.Context, tx *sql.Tx, key, value string) error {
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO ItemTable (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

type mutation func(ctx context.Context, tx *sql.Tx) (int, error)

// apply runs fn in one transaction on the primary copy, then on the sibling
// if it exists. A primary failure aborts; a sibling failure is only reported.
func (s *Store) apply(ctx context.Context, op string, fn mutation) (model.ApplyReport, error) {
	var rep model.ApplyReport

	n, err := applyTo(ctx, s.primary, fn)
	if err != nil {
		s.log.Error("state store update failed", zap.String("op", op), zap.String("path", s.primary), zap.Error(err))
		return rep, fmt.Errorf("%w: %s %s: %v", errs.ErrStoreAccess, op, s.primary, err)
	}
	rep.Copies = append(rep.Copies, model.CopyReport{Path: s.primary, Changed: n})

	sibling := s.SiblingPath()
	if _, statErr := os.Stat(sibling); statErr != nil {
		return rep, nil
	}
	n, err = applyTo(ctx, sibling, fn)
	cr := model.CopyReport{Path: sibling, Changed: n}
	if err != nil {
		s.log.Warn("state store sibling update failed", zap.String("op", op), zap.String("path", sibling), zap.Error(err))
		cr.Error = errs.ErrStoreAccess.Error()
	}
	rep.Copies = append(rep.Copies, cr)
	return rep, nil
}

func applyTo(ctx context.Context, path string, fn mutation) (n int, err error) {
	db, err := open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = e
		}
	}()
	return fn(ctx, tx)
}
