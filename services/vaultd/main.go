package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	nativecommon "vaultledger/native/common"
	"vaultledger/native/vault"
	"vaultledger/observability/logging"
	telemetry "vaultledger/observability/otel"
	"vaultledger/services/vaultd/config"
	"vaultledger/services/vaultd/middleware"
	"vaultledger/services/vaultd/server"
	ledgerstate "vaultledger/state/ledger"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := logging.Setup(logging.Options{
		Service:    "vaultd",
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "vaultd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := run(cfg, logger); err != nil {
		logger.Error("vaultd stopped", slog.Any("error", err))
		log.Fatalf("vaultd: %v", err)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	store, err := openBackend(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.closer.Close()

	engineCfg, err := engineConfig(cfg.Engine)
	if err != nil {
		return err
	}
	pauses := nativecommon.NewPauseSet()
	if engineCfg.Paused {
		pauses.Set("vault", true)
	}
	engine := vault.NewEngine(engineCfg)
	engine.SetState(store.state)
	engine.SetLedger(ledgerstate.Instrument(store.ledger))
	engine.SetPauses(pauses)

	secret := cfg.Auth.HMACSecret()
	if secret == "" && !cfg.Auth.Optional {
		return fmt.Errorf("auth secret missing: set %s", cfg.Auth.HMACSecretEnv)
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		HMACSecret: secret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		AdminScope: cfg.Auth.AdminScope,
		Optional:   cfg.Auth.Optional,
	}, logger)

	srv, err := server.New(server.Config{
		Engine:   engine,
		Holdings: store.holdings,
		Pauses:   pauses,
		Auth:     auth,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RatePerSecond: cfg.RateLimit.RatePerSecond,
			Burst:         cfg.RateLimit.Burst,
		}),
		Observability: middleware.NewObservability("vaultd", true, logger),
		Logger:        logger,
		ServiceName:   "vaultd",
		AdminScope:    cfg.Auth.AdminScope,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(cfg.Environment, "dev") && !loopback {
			_ = listener.Close()
			return errors.New("plaintext vaultd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.TLS.CertPath != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("backend", cfg.Storage.Backend),
			slog.String("repay_split", string(engineCfg.RepaySplit)))
		if cfg.TLS.CertPath != "" {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}
