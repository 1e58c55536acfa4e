// Command agent-keeper runs the account daemon: the extension channel and
// JSON API over HTTP, and the control API over gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/agent-keeper/internal/authtoken"
	"github.com/and161185/agent-keeper/internal/config"
	"github.com/and161185/agent-keeper/internal/crypto"
	"github.com/and161185/agent-keeper/internal/extchannel"
	"github.com/and161185/agent-keeper/internal/googleapi"
	"github.com/and161185/agent-keeper/internal/limiter"
	"github.com/and161185/agent-keeper/internal/platform"
	"github.com/and161185/agent-keeper/internal/repository/fsrepo"
	grpcserver "github.com/and161185/agent-keeper/internal/server/grpc"
	httpserver "github.com/and161185/agent-keeper/internal/server/http"
	"github.com/and161185/agent-keeper/internal/service"
	"github.com/and161185/agent-keeper/internal/statestore"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

// main loads configuration, wires the services and serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("state", cfg.StatePath),
	)

	key, err := crypto.LoadOrCreateKey(cfg.KeyPath())
	if err != nil {
		logger.Fatal("control key", zap.Error(err))
	}
	tokens := authtoken.NewIssuer(key, cfg.TokenTTL)
	authLimit := limiter.NewMemory(time.Minute, 10, time.Minute)

	repo, err := fsrepo.New(cfg.AccountsDir, logger.Named("repo"))
	if err != nil {
		logger.Fatal("account repository", zap.Error(err))
	}
	store := statestore.New(cfg.StatePath, logger.Named("state"))
	host := platform.NewHost(cfg.ProcessName, cfg.Launch, logger.Named("host"))
	hub := extchannel.NewHub(logger.Named("ws"), extchannel.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ClientTimeout:     cfg.ClientTimeout,
	})

	opts := service.DefaultOptions
	opts.SettleDelay = cfg.SettleDelay
	opts.KillWait = cfg.KillWait
	gcfg := googleapi.DefaultConfig()
	gcfg.CloudCodeURL = cfg.CloudCodeURL
	gcfg.ClientID = cfg.OAuthClientID
	gcfg.ClientSecret = cfg.OAuthClientSecret
	gcfg.Timeout = cfg.UpstreamTimeout
	gcfg.RetryMax = cfg.UpstreamRetries
	if gcfg.ClientID == "" || gcfg.ClientSecret == "" {
		logger.Info("oauth client not configured; token refresh disabled")
	}
	google := googleapi.New(gcfg, logger.Named("google"))

	svc := service.NewSerialized(service.NewAccountService(repo, store, hub, host, google, opts, logger.Named("service")))

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// gRPC server with interceptors
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary(tokens, authLimit),
		),
	)
	grpcserver.New(svc, logger.Named("grpc")).Register(gs)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if cfg.Dev {
		reflection.Register(gs)
	}

	hsrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpserver.NewRouter(svc, hub, tokens, authLimit, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	glis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}
	hlis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.Fatal("listen http", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening (grpc)", zap.String("addr", cfg.GRPCAddr))
		errCh <- gs.Serve(glis)
	}()
	go func() {
		logger.Info("listening (http)", zap.String("addr", cfg.HTTPAddr))
		if err := hsrv.Serve(hlis); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	exit := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exit = 1
	}

	// graceful shutdown
	hs.Shutdown()
	hub.Close()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hsrv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-sctx.Done():
		gs.Stop()
	}

	logger.Info("shutdown complete")
	if exit != 0 {
		_ = logger.Sync()
		os.Exit(exit)
	}
}
