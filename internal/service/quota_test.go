package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/googleapi"
	"github.com/and161185/agent-keeper/internal/model"
	"github.com/and161185/agent-keeper/internal/session"
)

type fakeUpstream struct {
	mu         sync.Mutex
	token      googleapi.Token
	tokenErr   error
	project    string
	projectErr error
	models     map[string]googleapi.ModelQuota
	modelsErr  error
	genErr     map[string]error

	seenAccess, seenRefresh string
	generated               []string
}

func (f *fakeUpstream) ValidToken(_ context.Context, access, refresh string) (googleapi.Token, error) {
	f.seenAccess, f.seenRefresh = access, refresh
	if f.tokenErr != nil {
		return googleapi.Token{}, f.tokenErr
	}
	tok := f.token
	if tok.AccessToken == "" {
		tok.AccessToken = access
	}
	return tok, nil
}

func (f *fakeUpstream) LoadProject(context.Context, string) (string, error) {
	return f.project, f.projectErr
}

func (f *fakeUpstream) FetchModels(_ context.Context, token, project string) (map[string]googleapi.ModelQuota, error) {
	return f.models, f.modelsErr
}

func (f *fakeUpstream) Generate(_ context.Context, token, project, modelKey string) error {
	f.mu.Lock()
	f.generated = append(f.generated, modelKey)
	f.mu.Unlock()
	return f.genErr[modelKey]
}

// seedAuth stores an account whose session carries the given tokens.
func (f *fixture) seedAuth(id model.Identity, access, refresh string) {
	rec := &session.Record{
		Auth:    &session.Auth{AccessToken: access, TokenType: "Bearer", RefreshToken: refresh},
		Context: &session.Context{Email: id.String()},
	}
	f.repo.files[id] = &model.BackupFile{
		SessionState:  session.EncodeString(rec),
		BackupTime:    time.Unix(1700000000, 0).UTC(),
		BackupVersion: 2,
	}
}

func TestRefreshToken_SavesRefreshedToken(t *testing.T) {
	f := newFixture(t)
	f.seedAuth("a@x.io", "ya29.old", "1//r")
	f.up.token = googleapi.Token{AccessToken: "ya29.new", UserID: "42", AvatarURL: "https://img/a.png", Refreshed: true}

	st, err := f.svc.RefreshToken(context.Background(), "a@x.io")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if !st.Refreshed || !st.Saved || st.UserID != "42" {
		t.Fatalf("unexpected status %+v", st)
	}
	if f.up.seenAccess != "ya29.old" || f.up.seenRefresh != "1//r" {
		t.Fatalf("upstream saw %q / %q", f.up.seenAccess, f.up.seenRefresh)
	}

	rec, err := session.Decode(f.repo.files["a@x.io"].SessionState)
	if err != nil {
		t.Fatalf("stored session: %v", err)
	}
	if rec.Auth.AccessToken != "ya29.new" || rec.Auth.RefreshToken != "1//r" || rec.Context.Email != "a@x.io" {
		t.Fatalf("stored session not updated: %+v", rec.Auth)
	}
	if f.repo.saves != 1 {
		t.Fatalf("saves = %d", f.repo.saves)
	}
}

func TestRefreshToken_ValidTokenIsNotRewritten(t *testing.T) {
	f := newFixture(t)
	f.seedAuth("a@x.io", "ya29.live", "1//r")
	before := f.repo.files["a@x.io"].SessionState

	st, err := f.svc.RefreshToken(context.Background(), "a@x.io")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if st.Refreshed || st.Saved || f.repo.saves != 0 || f.repo.files["a@x.io"].SessionState != before {
		t.Fatalf("valid token must not be rewritten: %+v, saves %d", st, f.repo.saves)
	}
}

func TestRefreshToken_Errors(t *testing.T) {
	f := newFixture(t)
	f.seed("nosession@x.io", session.EncodeString(&session.Record{Context: &session.Context{Email: "nosession@x.io"}}))
	f.seedAuth("a@x.io", "ya29.old", "1//r")

	if _, err := f.svc.RefreshToken(context.Background(), "missing@x.io"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := f.svc.RefreshToken(context.Background(), "../evil"); !errors.Is(err, errs.ErrUnsafeName) {
		t.Fatalf("want ErrUnsafeName, got %v", err)
	}
	if _, err := f.svc.RefreshToken(context.Background(), "nosession@x.io"); !errors.Is(err, errs.ErrNoSession) {
		t.Fatalf("want ErrNoSession, got %v", err)
	}

	f.up.tokenErr = errs.ErrOAuthNotConfigured
	if _, err := f.svc.RefreshToken(context.Background(), "a@x.io"); !errors.Is(err, errs.ErrOAuthNotConfigured) {
		t.Fatalf("want ErrOAuthNotConfigured, got %v", err)
	}

	bare := NewAccountService(f.repo, f.store, f.ch, f.host, nil, testOptions, nil)
	if _, err := bare.RefreshToken(context.Background(), "a@x.io"); !errors.Is(err, errs.ErrUpstream) {
		t.Fatalf("want ErrUpstream without a client, got %v", err)
	}
}

func TestAccountQuota_ReportsKnownModelsInOrder(t *testing.T) {
	f := newFixture(t)
	f.seedAuth("a@x.io", "ya29.live", "1//r")
	f.up.token = googleapi.Token{UserID: "42"}
	f.up.project = "proj-1"
	f.up.models = map[string]googleapi.ModelQuota{
		"claude-opus-4-5-thinking": {RemainingFraction: 0.25, ResetTime: "2026-10-17T05:00:00Z"},
		"gemini-3-pro-high":        {RemainingFraction: 1, ResetTime: "2026-10-17T00:00:00Z"},
		"chat_20706":               {RemainingFraction: 1},
	}

	q, err := f.svc.AccountQuota(context.Background(), "a@x.io")
	if err != nil {
		t.Fatalf("AccountQuota: %v", err)
	}
	want := []QuotaItem{
		{Model: "gemini-3-pro-high", Name: "Gemini Pro", RemainingFraction: 1, ResetTime: "2026-10-17T00:00:00Z"},
		{Model: "claude-opus-4-5-thinking", Name: "Claude", RemainingFraction: 0.25, ResetTime: "2026-10-17T05:00:00Z"},
	}
	if q.Project != "proj-1" || q.UserID != "42" || !reflect.DeepEqual(q.Quotas, want) {
		t.Fatalf("quota = %+v", q)
	}

	f.up.modelsErr = fmt.Errorf("%w: status 403", errs.ErrUpstream)
	if _, err := f.svc.AccountQuota(context.Background(), "a@x.io"); !errors.Is(err, errs.ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}
}

func TestTriggerQuotaRefresh(t *testing.T) {
	f := newFixture(t)
	f.seedAuth("a@x.io", "ya29.live", "1//r")
	f.up.project = "proj-1"
	f.up.models = map[string]googleapi.ModelQuota{
		"gemini-3-pro-high":        {RemainingFraction: 1},
		"gemini-3-flash":           {RemainingFraction: 1},
		"claude-opus-4-5-thinking": {RemainingFraction: 0.9999, ResetTime: "2026-10-17T05:00:00Z"},
		"chat_20706":               {RemainingFraction: 1},
	}
	f.up.genErr = map[string]error{
		"gemini-3-flash": &googleapi.StatusError{Endpoint: "generateContent", Status: 429, Body: "quota"},
	}

	res, err := f.svc.TriggerQuotaRefresh(context.Background(), "a@x.io")
	if err != nil {
		t.Fatalf("TriggerQuotaRefresh: %v", err)
	}
	if !res.Success || !reflect.DeepEqual(res.Triggered, []string{"Gemini Pro"}) {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Failed) != 1 || res.Failed[0].Name != "Gemini Flash" || res.Failed[0].Error != errs.ErrUpstream.Error() {
		t.Fatalf("failed = %+v", res.Failed)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Name != "Claude" {
		t.Fatalf("skipped = %+v", res.Skipped)
	}
	if !reflect.DeepEqual(f.up.generated, []string{"gemini-3-pro-high", "gemini-3-flash"}) {
		t.Fatalf("generated = %v", f.up.generated)
	}
}

func TestTriggerQuotaRefresh_NoProjectIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.seedAuth("a@x.io", "ya29.live", "1//r")
	f.up.projectErr = fmt.Errorf("%w: loadCodeAssist answer has no project id", errs.ErrNoProject)

	res, err := f.svc.TriggerQuotaRefresh(context.Background(), "a@x.io")
	if err != nil {
		t.Fatalf("missing project must not fail: %v", err)
	}
	if res.Success || res.Message != "skipped: "+errs.ErrNoProject.Error() || len(f.up.generated) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Triggered == nil || res.Failed == nil || res.Skipped == nil {
		t.Fatalf("lists must encode as empty arrays: %+v", res)
	}
}
