package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/extchannel"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{Error: publicMessage(err)})
}

// publicMessage hides wrapped detail such as file paths and driver text.
// Request decode errors and extension replies are the caller's own data and
// pass through.
func publicMessage(err error) string {
	var reply *extchannel.ReplyError
	switch {
	case errors.Is(err, errBadRequest):
		return err.Error()
	case errors.As(err, &reply):
		return reply.Error()
	case errors.Is(err, extchannel.ErrNoConnections):
		return extchannel.ErrNoConnections.Error()
	}
	return errs.Message(err)
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrUnsafeName),
		errors.Is(err, errs.ErrInvalidPassword),
		errors.Is(err, errs.ErrEmptyInput),
		errors.Is(err, errs.ErrTransportDecode),
		errors.Is(err, errs.ErrSchemaDecode),
		errors.Is(err, errs.ErrInvalidEnvelope),
		errors.Is(err, errs.ErrUnsupportedVersion),
		errors.Is(err, errs.ErrCorruptedLegacyData),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrPayloadTooLarge), errors.Is(err, errs.ErrTooManyFiles):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errs.ErrExtensionRequired),
		errors.Is(err, errs.ErrNoSession),
		errors.Is(err, errs.ErrOAuthNotConfigured),
		errors.Is(err, errs.ErrNoRefreshToken),
		errors.Is(err, errs.ErrNoProject),
		errors.Is(err, extchannel.ErrNoConnections):
		return http.StatusConflict
	case errors.Is(err, errs.ErrUpstream), errors.As(err, new(*extchannel.ReplyError)):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrStoreAccess):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return errs.ErrPayloadTooLarge
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
