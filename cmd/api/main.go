package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"amd-platform/internal/analysis"
	"amd-platform/internal/audit"
	"amd-platform/internal/auth"
	"amd-platform/internal/calls"
	"amd-platform/internal/config"
	"amd-platform/internal/metrics"
	"amd-platform/internal/pricing"
	"amd-platform/internal/reporting"
	"amd-platform/internal/telephony"
	"amd-platform/pkg/logger"
	"amd-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	rec, err := metrics.NewRecorder()
	if err != nil {
		log.Error("metrics init failed", "err", err)
		os.Exit(1)
	}

	st, err := openStores(rootCtx, cfg)
	if err != nil {
		log.Error("store init failed", "driver", cfg.DB.Driver, "err", err)
		os.Exit(1)
	}
	defer st.close()
	log.Info("call store ready", "driver", cfg.DB.Driver)

	var limiter calls.Limiter = calls.NoopLimiter{}
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		limiter = calls.NewRedisLimiter(rdb, cfg.Redis.InFlightCap, cfg.Sweeper.StaleAfter)
		log.Info("in-flight limiter enabled", "cap", cfg.Redis.InFlightCap)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	operators, err := newOperatorDirectory(cfg.Operator)
	if err != nil {
		log.Error("operator init failed", "err", err)
		os.Exit(1)
	}

	hc := &http.Client{Timeout: 60 * time.Second}
	scheduler := calls.NewTimerScheduler()

	fetcher := analysis.NewRecordingFetcher(analysis.FetcherConfig{
		Username: cfg.Twilio.AccountSID,
		Password: cfg.Twilio.AuthToken,
	}, hc)
	analyzerOpts := analysis.Options{Log: log}
	analyzers := map[calls.Strategy]calls.Analyzer{
		calls.StrategyMLInference: analysis.NewInferenceAnalyzer(analysis.InferenceConfig{
			Token:    cfg.Inference.Token,
			Endpoint: cfg.Inference.Endpoint,
			Model:    cfg.Inference.Model,
		}, fetcher, hc, analyzerOpts),
		calls.StrategyGenerativeAudio: analysis.NewGenerativeAnalyzer(analysis.GenerativeConfig{
			APIKey: cfg.Generative.APIKey,
			Model:  cfg.Generative.Model,
		}, fetcher, hc, analyzerOpts),
	}

	twilio := telephony.NewTwilioDialer(telephony.TwilioConfig{
		AccountSID:    cfg.Twilio.AccountSID,
		AuthToken:     cfg.Twilio.AuthToken,
		FromNumber:    cfg.Twilio.FromNumber,
		PublicBaseURL: cfg.App.PublicBaseURL,
	}, hc)
	jambonz := telephony.NewJambonzDialer(telephony.JambonzConfig{
		RESTBaseURL:   cfg.Jambonz.BaseURL,
		AccountSID:    cfg.Jambonz.AccountSID,
		APIKey:        cfg.Jambonz.APIKey,
		FromNumber:    cfg.Jambonz.FromNumber,
		PublicBaseURL: cfg.App.PublicBaseURL,
	}, hc)

	sink := calls.NewSink(st.calls, log, calls.SinkOptions{
		Analyzers: analyzers,
		Scheduler: scheduler,
		Limiter:   limiter,
		Metrics:   rec,
	})
	orchestrator := calls.NewOrchestrator(st.calls, sink, log, calls.OrchestratorOptions{
		Dialers: map[calls.Strategy]calls.Dialer{
			calls.StrategyNativeTelephony: twilio,
			calls.StrategyMLInference:     twilio,
			calls.StrategyGenerativeAudio: twilio,
			calls.StrategySIPPlatform:     jambonz,
		},
		Simulate:  cfg.Demo.SimulateCompletion,
		MinDelay:  cfg.Demo.MinDelay,
		MaxDelay:  cfg.Demo.MaxDelay,
		Scheduler: scheduler,
		Limiter:   limiter,
		Metrics:   rec,
	})
	if cfg.Demo.SimulateCompletion {
		log.Warn("demo completion simulation is on; results are synthetic")
	}

	sweeper := calls.NewSweeper(st.calls, sink, log, calls.SweeperOptions{
		Schedule:   cfg.Sweeper.Schedule,
		StaleAfter: cfg.Sweeper.StaleAfter,
	})
	if err := sweeper.Start(); err != nil {
		log.Error("sweeper init failed", "err", err)
		os.Exit(1)
	}

	truth, err := reporting.NewGroundTruth(cfg.Analytics.GroundTruth)
	if err != nil {
		log.Error("ground truth init failed", "err", err)
		os.Exit(1)
	}
	labels, _ := truth.(*reporting.StaticLabels)
	pricer := pricing.NewService(pricing.NewMemoryRepo(pricing.DefaultRates(time.Unix(0, 0).UTC())...))

	deps := routeDeps{
		log:      log,
		metrics:  rec,
		auth:     authManager,
		operator: operators,
		webhooks: telephony.WebhookHandler{
			Sink:              sink,
			Metrics:           rec,
			TwilioAuthToken:   cfg.Twilio.AuthToken,
			ValidateSignature: cfg.Twilio.ValidateSignature,
			PublicBaseURL:     cfg.App.PublicBaseURL,
		},
		calls:   orchestrator,
		store:   st.calls,
		reports: reporting.NewService(st.calls, truth, pricer),
		audit:   audit.NewService(st.audit),
		labels:  labels,
		health:  st.health,
	}
	if cfg.Demo.SimulateCompletion {
		deps.simulator = orchestrator
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(rec.Middleware())
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /v1/stream/calls holds the response open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	sweeper.Stop()
	orchestrator.Stop()
	sink.Wait()
	log.Info("shutdown complete")
}

// stores bundles the call and audit repositories for the configured driver.
type stores struct {
	calls  calls.Repository
	audit  audit.Repository
	health func(ctx context.Context) error
	close  func()
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.DB.Driver {
	case config.DBDriverPostgres:
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.SQLPool{})
		if err != nil {
			return stores{}, err
		}
		callRepo := calls.NewPostgresRepo(db)
		auditRepo := audit.NewPostgresRepo(db)
		if err := callRepo.Migrate(ctx); err != nil {
			_ = db.Close()
			return stores{}, err
		}
		if err := auditRepo.Migrate(ctx); err != nil {
			_ = db.Close()
			return stores{}, fmt.Errorf("audit: migrate: %w", err)
		}
		return stores{
			calls:  callRepo,
			audit:  auditRepo,
			health: func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) },
			close:  func() { _ = db.Close() },
		}, nil

	case config.DBDriverSQLite:
		gdb, err := utils.OpenSQLite(ctx, cfg.DB.SQLitePath)
		if err != nil {
			return stores{}, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return stores{}, err
		}
		callRepo := calls.NewGormRepo(gdb)
		auditRepo := audit.NewGormRepo(gdb)
		if err := callRepo.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return stores{}, err
		}
		if err := auditRepo.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return stores{}, fmt.Errorf("audit: migrate: %w", err)
		}
		return stores{
			calls:  callRepo,
			audit:  auditRepo,
			health: func(ctx context.Context) error { return utils.HealthCheck(ctx, sqlDB, 2*time.Second) },
			close:  func() { _ = sqlDB.Close() },
		}, nil

	case config.DBDriverMemory:
		return stores{
			calls:  calls.NewMemoryRepo(),
			audit:  audit.NewMemoryRepo(),
			health: func(context.Context) error { return nil },
			close:  func() {},
		}, nil
	}
	return stores{}, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
}

func newOperatorDirectory(cfg config.OperatorConfig) (*auth.Directory, error) {
	var (
		op  auth.Operator
		err error
	)
	if cfg.PasswordHash != "" {
		op, err = auth.NewOperatorWithHash(cfg.Email, cfg.PasswordHash, cfg.Role)
	} else {
		op, err = auth.NewOperator(cfg.Email, cfg.Password, cfg.Role)
	}
	if err != nil {
		return nil, err
	}
	return auth.NewDirectory(op), nil
}
