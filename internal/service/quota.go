package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/googleapi"
	"github.com/and161185/agent-keeper/internal/model"
	"github.com/and161185/agent-keeper/internal/session"
)

// Upstream is the Google API surface used for token checks and quota.
type Upstream interface {
	ValidToken(ctx context.Context, accessToken, refreshToken string) (googleapi.Token, error)
	LoadProject(ctx context.Context, token string) (string, error)
	FetchModels(ctx context.Context, token, project string) (map[string]googleapi.ModelQuota, error)
	Generate(ctx context.Context, token, project, model string) error
}

// QuotaModel names a model whose quota is reported.
type QuotaModel struct {
	Key  string
	Name string
}

// QuotaModels are reported in this order. Other models are ignored.
var QuotaModels = []QuotaModel{
	{Key: "gemini-3-pro-high", Name: "Gemini Pro"},
	{Key: "gemini-3-flash", Name: "Gemini Flash"},
	{Key: "gemini-3-pro-image", Name: "Gemini Image"},
	{Key: "claude-opus-4-5-thinking", Name: "Claude"},
}

// fullQuota is the remaining fraction above which a model's quota window has
// not started yet.
const fullQuota = 0.9999

// TokenStatus is the outcome of RefreshToken.
type TokenStatus struct {
	Identity  model.Identity `json:"identity"`
	UserID    string         `json:"userId"`
	AvatarURL string         `json:"avatarUrl"`
	Refreshed bool           `json:"refreshed"`
	// Saved reports that the refreshed token was written to the backup.
	Saved bool `json:"saved"`
}

// QuotaItem is one model's remaining quota.
type QuotaItem struct {
	Model             string  `json:"model"`
	Name              string  `json:"name"`
	RemainingFraction float64 `json:"remainingFraction"`
	ResetTime         string  `json:"resetTime"`
}

// AccountQuota is the quota overview of one stored account.
type AccountQuota struct {
	Identity  model.Identity `json:"identity"`
	UserID    string         `json:"userId"`
	AvatarURL string         `json:"avatarUrl"`
	Project   string         `json:"project"`
	Quotas    []QuotaItem    `json:"quotas"`
}

// TriggerFailure is a model whose trigger request failed.
type TriggerFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// TriggerResult is the outcome of TriggerQuotaRefresh.
type TriggerResult struct {
	Identity  model.Identity   `json:"identity"`
	Triggered []string         `json:"triggered"`
	Failed    []TriggerFailure `json:"failed"`
	// Skipped models have already started their quota window.
	Skipped []QuotaItem `json:"skipped"`
	Success bool        `json:"success"`
	Message string      `json:"message"`
}

// RefreshToken checks the stored access token of id and refreshes it when
// Google rejects it. A refreshed token is saved back to the backup.
func (s *AccountServiceImpl) RefreshToken(ctx context.Context, id model.Identity) (TokenStatus, error) {
	tok, saved, err := s.token(ctx, id)
	if err != nil {
		return TokenStatus{}, err
	}
	return TokenStatus{
		Identity:  id,
		UserID:    tok.UserID,
		AvatarURL: tok.AvatarURL,
		Refreshed: tok.Refreshed,
		Saved:     saved,
	}, nil
}

// AccountQuota reads the remaining quota of the reported models for id.
func (s *AccountServiceImpl) AccountQuota(ctx context.Context, id model.Identity) (AccountQuota, error) {
	tok, _, err := s.token(ctx, id)
	if err != nil {
		return AccountQuota{}, err
	}
	project, err := s.up.LoadProject(ctx, tok.AccessToken)
	if err != nil {
		return AccountQuota{}, fmt.Errorf("load project: %w", err)
	}
	models, err := s.up.FetchModels(ctx, tok.AccessToken, project)
	if err != nil {
		return AccountQuota{}, fmt.Errorf("fetch models: %w", err)
	}
	return AccountQuota{
		Identity:  id,
		UserID:    tok.UserID,
		AvatarURL: tok.AvatarURL,
		Project:   project,
		Quotas:    quotaItems(models),
	}, nil
}

// TriggerQuotaRefresh sends a minimal request to every reported model whose
// quota is still full, so its reset window starts now. An account without a
// project is reported as unsuccessful, not as an error.
func (s *AccountServiceImpl) TriggerQuotaRefresh(ctx context.Context, id model.Identity) (TriggerResult, error) {
	res := TriggerResult{Identity: id, Triggered: []string{}, Failed: []TriggerFailure{}, Skipped: []QuotaItem{}}
	tok, _, err := s.token(ctx, id)
	if err != nil {
		return res, err
	}
	log := s.log.With(zap.String("identity", id.String()))

	project, err := s.up.LoadProject(ctx, tok.AccessToken)
	if err != nil {
		if ctx.Err() != nil {
			return res, err
		}
		log.Warn("quota trigger skipped", zap.Error(err))
		res.Message = "skipped: " + errs.Message(err)
		return res, nil
	}
	models, err := s.up.FetchModels(ctx, tok.AccessToken, project)
	if err != nil {
		return res, fmt.Errorf("fetch models: %w", err)
	}

	for _, q := range quotaItems(models) {
		if q.RemainingFraction <= fullQuota {
			res.Skipped = append(res.Skipped, q)
			continue
		}
		if err := s.up.Generate(ctx, tok.AccessToken, project, q.Model); err != nil {
			if ctx.Err() != nil {
				return res, err
			}
			log.Warn("quota trigger failed", zap.String("model", q.Model), zap.Error(err))
			res.Failed = append(res.Failed, TriggerFailure{Name: q.Name, Error: errs.Message(err)})
			continue
		}
		res.Triggered = append(res.Triggered, q.Name)
	}
	res.Success = true
	res.Message = fmt.Sprintf("triggered %d, failed %d, skipped %d", len(res.Triggered), len(res.Failed), len(res.Skipped))
	log.Info("quota trigger finished",
		zap.Strings("triggered", res.Triggered),
		zap.Int("failed", len(res.Failed)),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func quotaItems(models map[string]googleapi.ModelQuota) []QuotaItem {
	items := make([]QuotaItem, 0, len(QuotaModels))
	for _, m := range QuotaModels {
		q, ok := models[m.Key]
		if !ok {
			continue
		}
		items = append(items, QuotaItem{Model: m.Key, Name: m.Name, RemainingFraction: q.RemainingFraction, ResetTime: q.ResetTime})
	}
	return items
}

// token returns a working access token for the stored account id. It
// reports whether a refreshed token was saved back to the repository.
func (s *AccountServiceImpl) token(ctx context.Context, id model.Identity) (googleapi.Token, bool, error) {
	if err := id.Validate(); err != nil {
		return googleapi.Token{}, false, err
	}
	if s.up == nil {
		return googleapi.Token{}, false, fmt.Errorf("%w: google api client not configured", errs.ErrUpstream)
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return googleapi.Token{}, false, fmt.Errorf("load account %s: %w", id, err)
	}
	sess := rec.Session
	if sess == nil {
		if sess, err = session.Decode(rec.File.SessionState); err != nil {
			return googleapi.Token{}, false, fmt.Errorf("decode account %s: %w", id, err)
		}
	}
	if sess.Auth == nil {
		return googleapi.Token{}, false, fmt.Errorf("account %s has no credentials: %w", id, errs.ErrNoSession)
	}

	tok, err := s.up.ValidToken(ctx, sess.Auth.AccessToken, sess.Auth.RefreshToken)
	if err != nil {
		return googleapi.Token{}, false, fmt.Errorf("check token of %s: %w", id, err)
	}
	if !tok.Refreshed {
		return tok, false, nil
	}

	sess.Auth.AccessToken = tok.AccessToken
	f := *rec.File
	f.SessionState = session.EncodeString(sess)
	if err := s.repo.Save(ctx, id, &f); err != nil {
		s.log.Warn("refreshed token not saved", zap.String("identity", id.String()), zap.Error(err))
		return tok, false, nil
	}
	s.log.Info("access token refreshed", zap.String("identity", id.String()))
	return tok, true, nil
}
