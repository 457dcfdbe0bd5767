package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"colegio.org/internal/audit"
	"colegio.org/internal/auth"
	"colegio.org/internal/config"
	"colegio.org/internal/election"
	"colegio.org/internal/httpapi"
	"colegio.org/internal/mail"
	"colegio.org/internal/obs"
	"colegio.org/internal/padron"
	"colegio.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := obs.InitLogger(cfg.Server.Environment)
	if err != nil {
		panic(err)
	}
	defer obs.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	recorder := audit.NewRecorder(store, logger.Named("audit"))
	smtpMailer, err := mail.New(cfg.SMTP)
	if err != nil {
		return err
	}
	mailer := mail.NewAsync(smtpMailer, logger.Named("mail"))
	defer mailer.Wait()
	if !cfg.SMTP.Enabled() {
		logger.Warn("smtp settings incomplete, outgoing mail disabled")
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpiresInDuration())
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(store, tokens,
		auth.WithMailer(mailer),
		auth.WithAuditor(recorder),
		auth.WithLogger(logger.Named("auth")),
		auth.WithResetTTL(cfg.Reset.TTL()),
		auth.WithResetURL(cfg.Reset.BaseURL),
	)
	if err != nil {
		return err
	}
	rbacSvc, err := auth.NewRBACService(store, mailer, recorder, logger.Named("rbac"))
	if err != nil {
		return err
	}
	electionSvc, err := election.NewService(store,
		election.WithAuditor(recorder),
		election.WithLogger(logger.Named("election")),
	)
	if err != nil {
		return err
	}
	importer, err := padron.NewImporter(store, mailer, recorder, logger.Named("padron"))
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{DB: store.DB()}
	api, err := httpapi.New(probe, httpapi.Services{
		Auth:      authSvc,
		RBAC:      rbacSvc,
		Elections: electionSvc,
		Padron:    importer,
		Audit:     recorder,
	}, httpapi.Options{
		Version:        version,
		RateLimit:      cfg.RateLimit,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logger.Named("http"),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCServer(probe, 10*time.Second, logger.Named("grpc"))
	health.Register(grpcSrv)

	scheduler := election.NewScheduler(store, cfg.Scheduler.Interval, logger.Named("scheduler"))

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		health.Run(ctx)
	}()

	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	wg.Wait()
	logger.Info("stopped")
	return runErr
}
