package grpcserver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/agent-keeper/internal/limiter"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_LevelFollowsCode(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	ic := LoggingUnary(zap.New(core))
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	info := &grpc.UnaryServerInfo{FullMethod: MethodSwitchAccount}

	resp, err := ic(ctx, "req", info, func(ctx context.Context, req any) (any, error) { return "ok", nil })
	if err != nil || resp.(string) != "ok" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}

	notFound := status.Error(codes.NotFound, "no such account")
	if _, err := ic(ctx, "req", info, func(ctx context.Context, req any) (any, error) { return nil, notFound }); !errors.Is(err, notFound) {
		t.Fatalf("want original error, got: %v", err)
	}

	storeDown := status.Error(codes.Unavailable, "state store access failed")
	if _, err := ic(ctx, "req", info, func(ctx context.Context, req any) (any, error) { return nil, storeDown }); !errors.Is(err, storeDown) {
		t.Fatalf("want original error, got: %v", err)
	}

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("want 3 log lines, got %d", len(entries))
	}
	wantLevels := []zapcore.Level{zap.InfoLevel, zap.InfoLevel, zap.WarnLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Fatalf("entry %d: level %s, want %s", i, e.Level, wantLevels[i])
		}
		fields := e.ContextMap()
		if fields["method"] != NameSwitchAccount {
			t.Fatalf("entry %d: method = %v", i, fields["method"])
		}
		if fields["peer"] != "127.0.0.1" {
			t.Fatalf("entry %d: peer = %v", i, fields["peer"])
		}
	}
	if entries[1].ContextMap()["code"] != codes.NotFound.String() {
		t.Fatalf("code field = %v", entries[1].ContextMap()["code"])
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: MethodSwitchAccount}

	resp, err := ic(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		var m map[string]int
		m["boom"]++
		return "unreachable", nil
	})
	if resp != nil {
		t.Fatalf("want nil response after panic, got %v", resp)
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
	if !strings.Contains(st.Message(), NameSwitchAccount) {
		t.Fatalf("message should name the method: %q", st.Message())
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: MethodStatus}

	resp, err := ic(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) { return 42, nil })
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(int) != 42 {
		t.Fatalf("resp mismatch: %v", resp)
	}
}

func TestPeerHost(t *testing.T) {
	if got := peerHost(context.Background()); got != "" {
		t.Fatalf("no peer: %q", got)
	}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	if got := peerHost(ctx); got != "127.0.0.1" {
		t.Fatalf("peerHost = %q", got)
	}
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(tok string) (string, error) {
	if tok != "good" {
		return "", errors.New("bad")
	}
	return "jti-good", nil
}

func TestAuthUnary(t *testing.T) {
	t.Parallel()

	ic := AuthUnary(fakeVerifier{}, nil)
	var seen string
	h := func(ctx context.Context, req any) (any, error) {
		seen, _ = TokenIDFromCtx(ctx)
		return "ok", nil
	}
	control := &grpc.UnaryServerInfo{FullMethod: MethodStatus}

	if _, err := ic(context.Background(), nil, control, h); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated without metadata, got %v", err)
	}

	bad := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer nope"))
	if _, err := ic(bad, nil, control, h); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated for bad token, got %v", err)
	}

	good := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer good"))
	if _, err := ic(good, nil, control, h); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if seen != "jti-good" {
		t.Fatalf("token id not propagated: %q", seen)
	}

	health := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := ic(context.Background(), nil, health, h); err != nil {
		t.Fatalf("health must pass without auth: %v", err)
	}
}

func TestAuthUnary_LimitsFailures(t *testing.T) {
	t.Parallel()

	ic := AuthUnary(fakeVerifier{}, limiter.NewMemory(time.Minute, 2, time.Minute))
	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: MethodStatus}
	base := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	bad := metadata.NewIncomingContext(base, metadata.Pairs("authorization", "Bearer nope"))
	good := metadata.NewIncomingContext(base, metadata.Pairs("authorization", "Bearer good"))

	for i := 0; i < 2; i++ {
		if _, err := ic(bad, nil, info, h); status.Code(err) != codes.Unauthenticated {
			t.Fatalf("attempt %d: want Unauthenticated, got %v", i, err)
		}
	}
	if _, err := ic(good, nil, info, h); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("blocked peer must be refused even with a good token, got %v", err)
	}
}
