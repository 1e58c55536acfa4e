// Package httpserver serves the extension channel and a JSON mirror of the
// control API on one chi router.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/agent-keeper/internal/limiter"
	"github.com/and161185/agent-keeper/internal/service"
)

// Channel is the extension channel: a WebSocket endpoint that can also
// call a method on the connected extensions.
type Channel interface {
	http.Handler
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// TokenVerifier checks a bearer token and returns its id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// maxBody bounds JSON request bodies; imports carry up to 20 MiB of envelope.
const maxBody = 24 << 20

// extensionCallTimeout bounds a call to the connected extensions.
const extensionCallTimeout = 10 * time.Second

type handlers struct {
	svc service.AccountService
	ch  Channel
	log *zap.Logger
}

// NewRouter mounts ch at /ws and the control API under /api.
// lim may be nil to disable throttling of failed authentication.
func NewRouter(svc service.AccountService, ch Channel, tokens TokenVerifier, lim limiter.Limiter, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{svc: svc, ch: ch, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/ws", ch)

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(tokens, lim))
		r.Get("/status", h.status)
		r.Get("/accounts", h.accounts)
		r.Delete("/accounts", h.clearBackups)
		r.Get("/accounts/current", h.current)
		r.Post("/accounts/backup", h.backup)
		r.Post("/accounts/{identity}/restore", h.restore)
		r.Post("/accounts/{identity}/switch", h.switchAccount)
		r.Delete("/accounts/{identity}", h.deleteBackup)
		r.Post("/accounts/{identity}/token/refresh", h.refreshToken)
		r.Get("/accounts/{identity}/quota", h.quota)
		r.Post("/accounts/{identity}/quota/refresh", h.triggerQuota)
		r.Post("/state/clear", h.clearState)
		r.Post("/signin", h.signIn)
		r.Post("/export", h.export)
		r.Post("/import", h.importAccounts)
		r.Post("/encrypt", h.encrypt)
		r.Post("/decrypt", h.decrypt)
		r.Post("/extensions/call", h.callExtension)
	})
	return r
}
