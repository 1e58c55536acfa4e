package grpcserver

import (
	"context"
	"net"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/agent-keeper/internal/limiter"
)

// TokenVerifier checks a bearer token and returns its id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// LoggingUnary logs one line per call. Codes that point at the daemon itself
// are logged at warn level.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		// metadata only, requests carry passwords and session blobs
		fields := []zap.Field{
			zap.String("method", strings.TrimPrefix(info.FullMethod, "/"+ServiceName+"/")),
			zap.Stringer("code", code),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", peerHost(ctx)),
		}
		switch code {
		case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
			log.Warn("control call failed", append(fields, zap.Error(err))...)
		default:
			log.Info("control call", fields...)
		}
		return resp, err
	}
}

// RecoverUnary turns a handler panic into codes.Internal.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panic",
					zap.String("method", info.FullMethod),
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
				)
				resp, err = nil, status.Errorf(codes.Internal, "internal error in %s", path.Base(info.FullMethod))
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary requires a valid bearer token on every control method.
// Other services, such as health, pass through. When lim is set, peers with
// repeated failures are refused until their block expires.
func AuthUnary(v TokenVerifier, lim limiter.Limiter) grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return next(ctx, req)
		}
		key := peerHost(ctx)
		if lim != nil {
			ok, retry, err := lim.Allow(ctx, key)
			if err != nil {
				return nil, status.Error(codes.Internal, "limiter")
			}
			if !ok {
				return nil, status.Errorf(codes.ResourceExhausted, "too many failed attempts, retry in %s", retry.Round(time.Second))
			}
		}
		id, err := verifyFromMD(ctx, v)
		if err != nil {
			if lim != nil {
				_, _, _ = lim.Failure(ctx, key)
			}
			return nil, err
		}
		if lim != nil {
			_ = lim.Success(ctx, key)
		}
		return next(WithTokenID(ctx, id), req)
	}
}

func verifyFromMD(ctx context.Context, v TokenVerifier) (string, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "no auth")
	}
	id, err := v.Verify(tok)
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "invalid token")
	}
	return id, nil
}

func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
