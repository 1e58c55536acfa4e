package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/agent-keeper/internal/authtoken"
	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/extchannel"
	"github.com/and161185/agent-keeper/internal/limiter"
	"github.com/and161185/agent-keeper/internal/model"
	"github.com/and161185/agent-keeper/internal/service"
)

type fakeService struct {
	service.AccountService
	deleted  model.Identity
	imported string
}

func (f *fakeService) Status(context.Context) (service.Status, error) {
	return service.Status{Extensions: 1}, nil
}

func (f *fakeService) Switch(_ context.Context, id model.Identity) (service.SwitchResult, error) {
	if id == "blocked@x.io" {
		return service.SwitchResult{}, errs.ErrExtensionRequired
	}
	return service.SwitchResult{Plan: service.PlanColdRestart, Identity: id, Restored: true}, nil
}

func (f *fakeService) RestoreAccount(_ context.Context, id model.Identity) (model.ApplyReport, error) {
	return model.ApplyReport{}, fmt.Errorf("restore %s: open /home/u/.config/Antigravity/state.vscdb: %w: unable to open database file (14)", id, errs.ErrStoreAccess)
}

func (f *fakeService) AccountQuota(_ context.Context, id model.Identity) (service.AccountQuota, error) {
	if id == "noproject@x.io" {
		return service.AccountQuota{}, fmt.Errorf("load project: %w: loadCodeAssist answer has no project id", errs.ErrNoProject)
	}
	return service.AccountQuota{
		Identity: id,
		Project:  "proj-1",
		Quotas:   []service.QuotaItem{{Model: "gemini-3-flash", Name: "Gemini Flash", RemainingFraction: 0.75}},
	}, nil
}

func (f *fakeService) RefreshToken(_ context.Context, id model.Identity) (service.TokenStatus, error) {
	return service.TokenStatus{}, fmt.Errorf("check token of %s: %w: refresh token: oauth2: \"invalid_grant\"", id, errs.ErrUpstream)
}

func (f *fakeService) DeleteBackup(_ context.Context, id model.Identity) error {
	if id == "missing@x.io" {
		return fmt.Errorf("delete: %w", errs.ErrNotFound)
	}
	f.deleted = id
	return nil
}

func (f *fakeService) ImportAccounts(_ context.Context, data, _ string) (model.ImportResult, error) {
	f.imported = data
	return model.ImportResult{Restored: 2, Failed: []model.ImportFailure{}}, nil
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestServer(t *testing.T, svc service.AccountService) (*httptest.Server, string) {
	srv, tok, _ := newTestServerWithHub(t, svc)
	return srv, tok
}

func newTestServerWithHub(t *testing.T, svc service.AccountService) (*httptest.Server, string, *extchannel.Hub) {
	t.Helper()
	return newTestServerWithLog(t, svc, zaptest.NewLogger(t))
}

func newTestServerWithLog(t *testing.T, svc service.AccountService, log *zap.Logger) (*httptest.Server, string, *extchannel.Hub) {
	t.Helper()
	hub := extchannel.NewHub(log, extchannel.Options{})
	t.Cleanup(hub.Close)
	iss := authtoken.NewIssuer(testKey, time.Hour)
	tok, _, err := iss.Issue()
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(svc, hub, iss, limiter.NewMemory(time.Minute, 5, time.Minute), log))
	t.Cleanup(srv.Close)
	return srv, tok, hub
}

func do(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealthzIsPublic(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

func TestAPIRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/status", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/status", "forged", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIRoutes(t *testing.T) {
	svc := &fakeService{}
	srv, tok := newTestServer(t, svc)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/status", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["extensions"])

	resp, body = do(t, http.MethodPost, srv.URL+"/api/accounts/b@x.io/switch", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "cold_restart", body["plan"])
	require.Equal(t, "b@x.io", body["identity"])

	resp, body = do(t, http.MethodPost, srv.URL+"/api/accounts/blocked@x.io/switch", tok, "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, body["error"], "extension")

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/accounts/a@x.io", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, model.Identity("a@x.io"), svc.deleted)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/accounts/missing@x.io", tok, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/import", tok, `{"data":"AGENC1:abc","password":"password123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, body["restoredCount"])
	require.Equal(t, "AGENC1:abc", svc.imported)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/import", tok, `{"data":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuotaRoutes(t *testing.T) {
	srv, tok := newTestServer(t, &fakeService{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/accounts/a@x.io/quota", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "proj-1", body["project"])
	quotas := body["quotas"].([]any)
	require.Len(t, quotas, 1)
	require.Equal(t, "Gemini Flash", quotas[0].(map[string]any)["name"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/accounts/noproject@x.io/quota", tok, "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, errs.ErrNoProject.Error(), body["error"])

	resp, body = do(t, http.MethodPost, srv.URL+"/api/accounts/a@x.io/token/refresh", tok, "")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, errs.ErrUpstream.Error(), body["error"])
}

func TestWebSocketThroughRouter(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer c.CloseNow()

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	_, msg, err := c.Read(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"pong"}`, string(msg))
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		errs.ErrUnsafeName:       http.StatusBadRequest,
		errs.ErrTooManyFiles:     http.StatusRequestEntityTooLarge,
		errs.ErrStoreAccess:      http.StatusServiceUnavailable,
		errs.ErrNoSession:        http.StatusConflict,
		errs.ErrUpstream:         http.StatusBadGateway,
		errs.ErrNoProject:        http.StatusConflict,
		errors.New("unexpected"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, statusOf(err), err.Error())
	}
}

func TestErrorBodyHidesDetail(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	srv, tok, _ := newTestServerWithLog(t, &fakeService{}, zap.New(core))

	resp, body := do(t, http.MethodPost, srv.URL+"/api/accounts/a@x.io/restore", tok, "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, errs.ErrStoreAccess.Error(), body["error"])
	require.NotContains(t, body["error"], "/home/u")

	entries := logs.FilterMessage("request failed").All()
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].ContextMap()["error"], "state.vscdb")
}

func TestPublicMessage(t *testing.T) {
	require.Equal(t, errs.InternalMessage, publicMessage(errors.New("rename /tmp/a.json: permission denied")))
	require.Equal(t, "bad request: unexpected EOF", publicMessage(fmt.Errorf("%w: unexpected EOF", errBadRequest)))
	reply := fmt.Errorf("call: %w", &extchannel.ReplyError{Method: "getVersion", Message: "not supported"})
	require.Equal(t, "getVersion: not supported", publicMessage(reply))
	require.Equal(t, http.StatusBadGateway, statusOf(reply))
}

func TestExtensionCall(t *testing.T) {
	srv, tok, hub := newTestServerWithHub(t, &fakeService{})

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/extensions/call", tok, `{"method":"getVersion"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/extensions/call", tok, `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer c.CloseNow()
	require.Eventually(t, hub.HasConnections, 2*time.Second, 10*time.Millisecond)

	go func() {
		for {
			_, b, err := c.Read(ctx)
			if err != nil {
				return
			}
			var m extchannel.Message
			if json.Unmarshal(b, &m) != nil || m.Type != extchannel.TypeRequest {
				continue
			}
			reply, _ := json.Marshal(extchannel.Message{Type: extchannel.TypeResponse, ID: m.ID, Result: json.RawMessage(`{"version":"1.2.3"}`)})
			_ = c.Write(ctx, websocket.MessageText, reply)
		}
	}()

	resp, body := do(t, http.MethodPost, srv.URL+"/api/extensions/call", tok, `{"method":"getVersion"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"version": "1.2.3"}, body["result"])
}

func TestAPIThrottlesFailedAuth(t *testing.T) {
	srv, tok := newTestServer(t, &fakeService{})
	for i := 0; i < 5; i++ {
		resp, _ := do(t, http.MethodGet, srv.URL+"/api/status", "forged", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, _ := do(t, http.MethodGet, srv.URL+"/api/status", tok, "")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
}
