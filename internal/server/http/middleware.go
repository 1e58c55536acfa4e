package httpserver

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/limiter"
)

// RequestLogger logs one line per request with the same fields as the gRPC interceptor.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("dur", time.Since(start)),
				zap.String("peer", remoteHost(r)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// BearerAuth rejects requests without a valid "Authorization: Bearer" token.
// When lim is set, clients with repeated failures get 429 until their block expires.
func BearerAuth(v TokenVerifier, lim limiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := remoteHost(r)
			if lim != nil {
				ok, retry, err := lim.Allow(ctx, key)
				if err != nil {
					writeError(w, err)
					return
				}
				if !ok {
					w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second).Seconds())))
					writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many failed attempts"})
					return
				}
			}
			if err := verifyHeader(r, v); err != nil {
				if lim != nil {
					_, _, _ = lim.Failure(ctx, key)
				}
				writeError(w, err)
				return
			}
			if lim != nil {
				_ = lim.Success(ctx, key)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verifyHeader(r *http.Request, v TokenVerifier) error {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") || strings.TrimSpace(h[7:]) == "" {
		return errs.ErrUnauthorized
	}
	if _, err := v.Verify(strings.TrimSpace(h[7:])); err != nil {
		return errs.ErrUnauthorized
	}
	return nil
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
