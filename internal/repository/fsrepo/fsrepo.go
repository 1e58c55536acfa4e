// Package fsrepo implements the account repository as a directory of JSON files.
package fsrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/model"
	"github.com/and161185/agent-keeper/internal/repository"
	"github.com/and161185/agent-keeper/internal/session"
)

// MaxFileSize is the largest account file List will read.
const MaxFileSize = 5 << 20

const (
	fileExt   = ".json"
	tmpPrefix = ".tmp-"
)

// Repo is a file-per-identity account repository.
type Repo struct {
	dir    string
	log    *zap.Logger
	remove func(name string) error
}

var _ repository.AccountRepository = (*Repo)(nil)

// New creates the directory if needed and returns a repository rooted at it.
func New(dir string, log *zap.Logger) (*Repo, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create accounts dir: %w", err)
	}
	return &Repo{dir: dir, log: log, remove: os.Remove}, nil
}

// Dir returns the repository root.
func (r *Repo) Dir() string { return r.dir }

// List implements repository.AccountRepository.
func (r *Repo) List(ctx context.Context) ([]model.AccountRecord, []model.SkippedFile, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read accounts dir: %w", err)
	}

	var (
		out     []model.AccountRecord
		skipped []model.SkippedFile
	)
	skip := func(name string, reason string) {
		r.log.Warn("skipping account file", zap.String("file", name), zap.String("reason", reason))
		skipped = append(skipped, model.SkippedFile{Name: name, Reason: reason})
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := model.Identity(strings.TrimSuffix(name, fileExt))
		if err := id.Validate(); err != nil {
			skip(name, "unsafe file name")
			continue
		}
		rec, err := r.load(id, true)
		if err != nil {
			skip(name, reason(err))
			continue
		}
		out = append(out, *rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.After(out[j].ModifiedAt)
		}
		return out[i].Identity < out[j].Identity
	})
	return out, skipped, nil
}

// Get implements repository.AccountRepository. A session blob that does not
// decode leaves Session nil; the file itself is still returned.
func (r *Repo) Get(ctx context.Context, id model.Identity) (*model.AccountRecord, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := r.load(id, false)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Repo) load(id model.Identity, strict bool) (*model.AccountRecord, error) {
	path := r.path(id)
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("stat: %w", err)
	}
	if st.Size() > MaxFileSize {
		return nil, fmt.Errorf("file too large (%d bytes)", st.Size())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var f model.BackupFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	rec := &model.AccountRecord{Identity: id, Path: path, ModifiedAt: st.ModTime(), File: &f}
	sess, err := session.Decode(f.SessionState)
	switch {
	case err == nil:
		rec.Session = sess
	case strict:
		return nil, err
	default:
		r.log.Warn("account session does not decode", zap.String("identity", id.String()), zap.Error(err))
	}
	return rec, nil
}

// Save implements repository.AccountRepository. The new content is written to
// a temp file in the same directory, synced and renamed over the target.
func (r *Repo) Save(ctx context.Context, id model.Identity, f *model.BackupFile) (err error) {
	if err := id.Validate(); err != nil {
		return err
	}
	if f == nil {
		return errors.New("nil backup file")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account %s: %w", id, err)
	}
	if len(data) > MaxFileSize {
		return fmt.Errorf("account %s: %w", id, errs.ErrPayloadTooLarge)
	}

	tmp, err := os.CreateTemp(r.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, r.path(id)); err != nil {
		return fmt.Errorf("replace account file: %w", err)
	}
	r.log.Debug("account saved", zap.String("identity", id.String()))
	return nil
}

// Delete implements repository.AccountRepository.
func (r *Repo) Delete(ctx context.Context, id model.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(r.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
		}
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	return nil
}

// ClearAll implements repository.AccountRepository. A file that cannot be
// removed is reported and the rest are still removed.
func (r *Repo) ClearAll(ctx context.Context) (int, []model.SkippedFile, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil, nil
		}
		return 0, nil, fmt.Errorf("read accounts dir: %w", err)
	}
	n := 0
	var failed []model.SkippedFile
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return n, failed, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		if err := r.remove(filepath.Join(r.dir, e.Name())); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			r.log.Warn("account file not removed", zap.String("file", e.Name()), zap.Error(err))
			failed = append(failed, model.SkippedFile{Name: e.Name(), Reason: reason(err)})
			continue
		}
		n++
	}
	return n, failed, nil
}

// reason describes a per-file failure without the directory path.
func reason(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Op + ": " + pe.Err.Error()
	}
	return err.Error()
}

func (r *Repo) path(id model.Identity) string {
	return filepath.Join(r.dir, id.FileName())
}
