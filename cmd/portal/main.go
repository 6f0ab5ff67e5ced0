// Command portal serves the guarded practitioner portal: page routing behind
// the authorization guard, the session and verification API, and the gRPC
// access service.
package main

import (
	"context"
	"errors"
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
	"google.golang.org/grpc/credentials"

	"github.com/and161185/practigate/internal/claimscache"
	"github.com/and161185/practigate/internal/config"
	"github.com/and161185/practigate/internal/crypto"
	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/httpapi"
	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/migrate"
	"github.com/and161185/practigate/internal/navigation"
	"github.com/and161185/practigate/internal/obs"
	"github.com/and161185/practigate/internal/principal"
	grpcserver "github.com/and161185/practigate/internal/server/grpc"
	"github.com/and161185/practigate/internal/service"
	"github.com/and161185/practigate/internal/session"
	pgstore "github.com/and161185/practigate/internal/session/postgres"
	"github.com/and161185/practigate/internal/verification"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("portal stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	// Session state
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Identity, one principal per browsing scope
	provider, err := identity.NewRemoteProvider(cfg.ProviderURL, cfg.ProviderKey, identity.StaticToken(""), nil, logger)
	if err != nil {
		return err
	}
	principals, err := principal.NewRegistry(store, func(tokens identity.TokenSource) identity.Provider {
		return provider.For(tokens)
	}, logger, principal.Options{
		MaxPrincipals: cfg.MaxPrincipals,
		Cache:         claimscache.Options{Metrics: metrics},
	})
	if err != nil {
		return err
	}
	defer principals.Close()

	tracker := navigation.NewTracker(store, logger, cfg.ReturnMaxAge)
	g := guard.New(principals.ClaimsSource(), logger, guard.Options{Tracker: tracker, Metrics: metrics})
	routes, err := cfg.Routes()
	if err != nil {
		return err
	}

	// Verification
	vc, err := verification.NewClient(cfg.VerificationURL, principals, logger, verification.ClientOptions{
		RateLimit: cfg.VerificationRate,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	poller := verification.NewPoller(vc, logger, metrics)

	var upstream http.Handler
	if cfg.UpstreamURL != "" {
		if upstream, err = httpapi.NewUpstream(cfg.UpstreamURL, logger); err != nil {
			return err
		}
	}

	api := httpapi.New(httpapi.Deps{
		Sessions:   service.NewSessionService(principals, tracker, logger),
		Licensing:  service.NewLicensingService(vc, poller, principals, logger),
		Principals: principals,
		Guard:      g,
		Routes:     routes,
		Upstream:   upstream,
		Metrics:    obs.Handler(reg),
	}, logger)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)

	if p, ok := store.(session.Purger); ok {
		eg.Go(func() error {
			session.RunJanitor(ctx, p, cfg.PurgeInterval, logger)
			return nil
		})
	}

	eg.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if cfg.GRPCAddr != "" {
		if err := startGRPC(ctx, eg, cfg, vc, metrics, logger); err != nil {
			return err
		}
	}

	return eg.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (session.Store, func(), error) {
	if cfg.DSN == "" {
		logger.Info("session state in memory")
		return session.NewMemoryStore(), func() {}, nil
	}
	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		return nil, nil, err
	}
	sealer, err := crypto.NewSealer([]byte(cfg.SessionSecret))
	if err != nil {
		return nil, nil, err
	}
	db, err := pgstore.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pgstore.NewStore(db, sealer), db.Close, nil
}

func startGRPC(ctx context.Context, eg *errgroup.Group, cfg config.Config, prober grpcserver.Prober, metrics *obs.Metrics, logger *zap.Logger) error {
	var creds credentials.TransportCredentials
	if cfg.TLSCert != "" {
		c, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return err
		}
		creds = c
	} else {
		logger.Warn("gRPC listener without TLS")
	}

	srv := grpcserver.New(logger, grpcserver.Options{
		Creds:      creds,
		Authorizer: grpcserver.NewAuthorizer([]byte(cfg.SigningKey), grpcserver.AccessPolicies(), logger, metrics),
		Reflection: cfg.Dev,
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	eg.Go(func() error {
		grpcserver.WatchVerification(ctx, srv.Health, prober, cfg.ProbeInterval, logger)
		return nil
	})
	eg.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", creds != nil))
		return srv.GRPC.Serve(lis)
	})
	eg.Go(func() error {
		<-ctx.Done()
		srv.Health.Shutdown()
		done := make(chan struct{})
		go func() {
			srv.GRPC.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			srv.GRPC.Stop()
		}
		return nil
	})
	return nil
}
