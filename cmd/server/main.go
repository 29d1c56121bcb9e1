// Command teamcal-server starts the teamcal gRPC API and its HTTP side server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/teamcal/internal/auth"
	"github.com/and161185/teamcal/internal/bus"
	"github.com/and161185/teamcal/internal/limiter"
	"github.com/and161185/teamcal/internal/metrics"
	"github.com/and161185/teamcal/internal/notify"
	"github.com/and161185/teamcal/internal/permission"
	"github.com/and161185/teamcal/internal/recurrence"
	grpcserver "github.com/and161185/teamcal/internal/server/grpc"
	"github.com/and161185/teamcal/internal/server/httpapi"
	"github.com/and161185/teamcal/internal/service"
	"github.com/and161185/teamcal/internal/versioning"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.addr),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("storage", cfg.storage),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.NewCollector(reg)

	// Domain
	guard := permission.NewGuard(st.perms)
	versions := versioning.NewStore(st.events, st.events, guard, versioning.DefaultConfig(), versioning.WithObserver(col))
	var cache *recurrence.Cache
	if cfg.cacheTTL > 0 {
		cc := recurrence.DefaultCacheConfig
		cc.TTL = cfg.cacheTTL
		cache = recurrence.NewCache(cc)
		defer cache.Close()
	}
	engine := recurrence.NewEngine(recurrence.Config{
		MaxOccurrences: recurrence.DefaultMaxOccurrences,
		SweepThreshold: cfg.sweepThreshold,
	}, cache)

	hub := notify.NewHub(st.notes, guard, notify.Config{
		MaxConnsPerUser: cfg.maxConns,
		QueueSize:       cfg.channelQueue,
		SendTimeout:     cfg.sendTimeout,
	}, logger.Named("notify"), notify.WithObserver(col))

	events := bus.New(logger.Named("bus"))
	events.Subscribe("audit", bus.Audit(logger.Named("audit")))
	events.Subscribe("notify", hub.Handle)

	// Services
	jwtp := auth.NewJWT([]byte(cfg.jwtKey), cfg.accessTTL)
	ecfg := service.DefaultEventConfig()
	ecfg.MaxBatch = cfg.maxBatch
	ecfg.ConflictPolicy = cfg.conflictPolicy
	authSvc := service.NewAuthService(st.users, jwtp, st.lim)
	eventSvc := service.NewEventService(st.events, guard, versions, engine, events, logger.Named("events"), ecfg,
		service.WithConflictObserver(col))
	noteSvc := service.NewNotificationService(st.notes)

	// gRPC
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary(jwtp),
		),
		grpc.ChainStreamInterceptor(
			grpcserver.RecoverStream(logger),
			grpcserver.LoggingStream(logger),
			grpcserver.AuthStream(jwtp),
		),
	}
	if cfg.certFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.certFile, cfg.keyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled; pass -tls-cert and -tls-key in production")
	}
	gs := grpc.NewServer(opts...)
	grpcserver.RegisterSchedulerServer(gs, grpcserver.New(authSvc, eventSvc, noteSvc, hub, logger))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if cfg.dev {
		reflection.Register(gs)
	}

	// HTTP side server
	rate := limiter.NewMessageRate(cfg.wsPerMinute, 10*time.Minute)
	defer rate.Stop()
	httpSrv := &http.Server{
		Addr: cfg.httpAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			WS:      httpapi.NewWSHandler(jwtp, hub, rate, logger.Named("ws")),
			Metrics: metrics.Handler(reg),
			Ready:   st.ready,
			Log:     logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", cfg.addr))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		// live channels first, otherwise open Watch streams hold GracefulStop
		hub.Close()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
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
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}
