package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/agent-keeper/internal/crypto"
	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/model"
)

// MaxImportFiles bounds the number of files accepted in one import.
const MaxImportFiles = 200

const fileExt = ".json"

// ExportAccounts serializes every readable account and seals the list under password.
func (s *AccountServiceImpl) ExportAccounts(ctx context.Context, password string) (string, error) {
	recs, skipped, err := s.repo.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list accounts: %w", err)
	}
	for _, sk := range skipped {
		s.log.Warn("account not exported", zap.String("file", sk.Name), zap.String("reason", sk.Reason))
	}

	files := make([]model.ExportedFile, 0, len(recs))
	for _, r := range recs {
		content, err := json.Marshal(r.File)
		if err != nil {
			s.log.Warn("account not exported", zap.String("identity", r.Identity.String()), zap.Error(err))
			continue
		}
		files = append(files, model.ExportedFile{
			Filename:  r.Identity.FileName(),
			Content:   content,
			Timestamp: r.ModifiedAt.Unix(),
		})
	}
	plain, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	out, err := crypto.EncryptWithParams(string(plain), password, s.opts.KDF)
	if err != nil {
		return "", err
	}
	s.log.Info("accounts exported", zap.Int("files", len(files)))
	return out, nil
}

// ImportAccounts opens an export and saves each file it carries. A file that
// fails is reported and does not stop the rest.
func (s *AccountServiceImpl) ImportAccounts(ctx context.Context, data, password string) (model.ImportResult, error) {
	plain, err := crypto.Decrypt(data, password)
	if err != nil {
		return model.ImportResult{}, err
	}
	var files []model.ExportedFile
	if err := json.Unmarshal([]byte(plain), &files); err != nil {
		return model.ImportResult{}, fmt.Errorf("%w: export is not a file list", errs.ErrInvalidEnvelope)
	}
	if len(files) > MaxImportFiles {
		return model.ImportResult{}, fmt.Errorf("%w: %d files, limit %d", errs.ErrTooManyFiles, len(files), MaxImportFiles)
	}

	res := model.ImportResult{Failed: []model.ImportFailure{}}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.importFile(ctx, f); err != nil {
			s.log.Warn("import failed", zap.String("file", f.Filename), zap.Error(err))
			res.Failed = append(res.Failed, model.ImportFailure{Filename: f.Filename, Error: errs.Message(err)})
			continue
		}
		res.Restored++
	}
	s.log.Info("accounts imported", zap.Int("restored", res.Restored), zap.Int("failed", len(res.Failed)))
	return res, nil
}

func (s *AccountServiceImpl) importFile(ctx context.Context, f model.ExportedFile) error {
	if !strings.HasSuffix(f.Filename, fileExt) {
		return fmt.Errorf("%w: %q", errs.ErrUnsafeName, f.Filename)
	}
	id := model.Identity(strings.TrimSuffix(f.Filename, fileExt))
	if err := id.Validate(); err != nil {
		return err
	}
	if len(f.Content) > crypto.MaxPayload {
		return errs.ErrPayloadTooLarge
	}
	var bf model.BackupFile
	if err := json.Unmarshal(f.Content, &bf); err != nil {
		return fmt.Errorf("invalid backup file: %w", err)
	}
	return s.repo.Save(ctx, id, &bf)
}

func (s *AccountServiceImpl) Encrypt(_ context.Context, plaintext, password string) (string, error) {
	return crypto.EncryptWithParams(plaintext, password, s.opts.KDF)
}

func (s *AccountServiceImpl) Decrypt(_ context.Context, data, password string) (string, error) {
	return crypto.Decrypt(data, password)
}
