package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/and161185/agent-keeper/internal/model"
)

type passwordRequest struct {
	Password string `json:"password"`
}

type sealedRequest struct {
	Data     string `json:"data"`
	Password string `json:"password"`
}

type plainRequest struct {
	Plaintext string `json:"plaintext"`
	Password  string `json:"password"`
}

func identityParam(r *http.Request) model.Identity {
	return model.Identity(chi.URLParam(r, "identity"))
}

// respond writes v, or the mapped error when err is set.
func (h *handlers) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// fail logs the full error and writes its public form.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Warn("request failed", zap.String("path", r.URL.Path), zap.Int("status", statusOf(err)), zap.Error(err))
	writeError(w, err)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	h.respond(w, r, st, err)
}

func (h *handlers) accounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.GetAccounts(r.Context())
	h.respond(w, r, list, err)
}

func (h *handlers) current(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetCurrentAccountInfo(r.Context())
	h.respond(w, r, v, err)
}

func (h *handlers) backup(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.BackupCurrentAccount(r.Context())
	h.respond(w, r, map[string]any{"identity": id}, err)
}

func (h *handlers) restore(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.RestoreAccount(r.Context(), identityParam(r))
	h.respond(w, r, rep, err)
}

func (h *handlers) switchAccount(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Switch(r.Context(), identityParam(r))
	h.respond(w, r, res, err)
}

func (h *handlers) deleteBackup(w http.ResponseWriter, r *http.Request) {
	id := identityParam(r)
	err := h.svc.DeleteBackup(r.Context(), id)
	h.respond(w, r, map[string]any{"deleted": id}, err)
}

func (h *handlers) clearBackups(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ClearAllBackups(r.Context())
	h.respond(w, r, res, err)
}

func (h *handlers) refreshToken(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.RefreshToken(r.Context(), identityParam(r))
	h.respond(w, r, st, err)
}

func (h *handlers) quota(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.AccountQuota(r.Context(), identityParam(r))
	h.respond(w, r, q, err)
}

func (h *handlers) triggerQuota(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.TriggerQuotaRefresh(r.Context(), identityParam(r))
	h.respond(w, r, res, err)
}

func (h *handlers) clearState(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.ClearAllData(r.Context())
	h.respond(w, r, rep, err)
}

func (h *handlers) signIn(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.SignInNew(r.Context())
	h.respond(w, r, res, err)
}

func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.svc.ExportAccounts(r.Context(), req.Password)
	h.respond(w, r, map[string]any{"data": data}, err)
}

func (h *handlers) importAccounts(w http.ResponseWriter, r *http.Request) {
	var req sealedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.ImportAccounts(r.Context(), req.Data, req.Password)
	h.respond(w, r, res, err)
}

func (h *handlers) encrypt(w http.ResponseWriter, r *http.Request) {
	var req plainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.svc.Encrypt(r.Context(), req.Plaintext, req.Password)
	h.respond(w, r, map[string]any{"data": data}, err)
}

func (h *handlers) decrypt(w http.ResponseWriter, r *http.Request) {
	var req sealedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	text, err := h.svc.Decrypt(r.Context(), req.Data, req.Password)
	h.respond(w, r, map[string]any{"plaintext": text}, err)
}

type extensionCallRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// callExtension forwards a request to the connected extensions and returns the first reply.
func (h *handlers) callExtension(w http.ResponseWriter, r *http.Request) {
	var req extensionCallRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Method == "" {
		h.fail(w, r, fmt.Errorf("%w: method is required", errBadRequest))
		return
	}
	var params any = req.Params
	if len(req.Params) == 0 {
		params = struct{}{}
	}
	ctx, cancel := context.WithTimeout(r.Context(), extensionCallTimeout)
	defer cancel()
	res, err := h.ch.Call(ctx, req.Method, params)
	h.respond(w, r, map[string]any{"result": res}, err)
}
