// Command darkauth boots the DarkAuth core process: it wires configuration,
// Postgres, Redis, the KEK, JWKS, and every service package, then serves the
// user-facing and admin-facing HTTP surfaces on their own ports until an
// interrupt or terminate signal asks for a graceful shutdown.
//
// This file intentionally keeps logic focused on composition rather than
// business rules: handlers, middleware, repositories, and engines live in
// their own packages.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/puzed/darkauth-sub006/internal/api"
	"github.com/puzed/darkauth-sub006/internal/audit"
	"github.com/puzed/darkauth-sub006/internal/authz"
	"github.com/puzed/darkauth-sub006/internal/cache"
	"github.com/puzed/darkauth-sub006/internal/config"
	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
	"github.com/puzed/darkauth-sub006/internal/install"
	"github.com/puzed/darkauth-sub006/internal/jwks"
	"github.com/puzed/darkauth-sub006/internal/kek"
	"github.com/puzed/darkauth-sub006/internal/logging"
	"github.com/puzed/darkauth-sub006/internal/ratelimit"
	"github.com/puzed/darkauth-sub006/internal/rbac"
	"github.com/puzed/darkauth-sub006/internal/session"
	"github.com/puzed/darkauth-sub006/internal/settings"
	"github.com/puzed/darkauth-sub006/internal/store"
)

// settingKEKSalt stores the Argon2id salt used to derive the process KEK.
// The salt itself is not secret, so unlike every other sealed column it is
// written in plaintext and read back before the KEK exists to decrypt
// anything else.
const settingKEKSalt = "kek.salt_b64"

func main() {
	loadEnvFiles()

	configPath := flag.String("config", os.Getenv("DARKAUTH_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "darkauth: config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Server.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "darkauth: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Errorw("fatal startup error", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

type storageInitError struct{ error }
type kekInitError struct{ error }

func exitCodeFor(err error) int {
	var storageErr storageInitError
	var kekErr kekInitError
	switch {
	case errors.As(err, &storageErr):
		return 2
	case errors.As(err, &kekErr):
		return 3
	default:
		return 1
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(cfg.Postgres); err != nil {
		return storageInitError{fmt.Errorf("run migrations: %w", err)}
	}

	st, err := store.Open(ctx, cfg.Postgres)
	if err != nil {
		return storageInitError{fmt.Errorf("open postgres: %w", err)}
	}
	defer st.Close()

	redisClient, err := cache.Open(ctx, cfg.Redis)
	if err != nil {
		return storageInitError{fmt.Errorf("open redis: %w", err)}
	}
	defer func() { _ = redisClient.Close() }()
	st.SetCache(redisClient)

	settingsSvc := settings.New(st)

	kekSvc, err := loadOrCreateKEK(ctx, st, cfg.Security.KEKPassphrase, cfg.Server.Environment)
	if err != nil {
		return kekInitError{err}
	}
	st.SetKEK(kekSvc)

	jwksManager, err := jwks.NewManager(ctx, st, kekSvc)
	if err != nil {
		return fmt.Errorf("init jwks manager: %w", err)
	}

	sessionSvc := session.New(st, cfg.Security.CookieSecure)
	rbacResolver := rbac.New(st, settingsSvc)
	auditLogger := audit.New(st, log)
	authzPipeline := authz.New(st, jwksManager, rbacResolver, cfg.OIDC.Issuer)

	rateRules, err := settingsSvc.RateLimits(ctx)
	if err != nil {
		return fmt.Errorf("load rate limits: %w", err)
	}
	rateLimiter := ratelimit.New(rateRules)

	installToken := cfg.Install.Token
	if installToken == "" {
		installToken = os.Getenv("DARKAUTH_INSTALL_TOKEN")
	}
	installBootstrap := install.New(st, settingsSvc, kekSvc, jwksManager, installToken)

	deps := &api.Dependencies{
		Config:    cfg,
		Store:     st,
		KEK:       kekSvc,
		JWKS:      jwksManager,
		Settings:  settingsSvc,
		Sessions:  sessionSvc,
		RBAC:      rbacResolver,
		Audit:     auditLogger,
		RateLimit: rateLimiter,
		Authz:     authzPipeline,
		Install:   installBootstrap,
		Log:       log,
	}

	userServer := newHTTPServer(cfg.Server.UserHost, cfg.Server.UserPort, deps.NewUserRouter(), cfg.Server)
	adminServer := newHTTPServer(cfg.Server.AdminHost, cfg.Server.AdminPort, deps.NewAdminRouter(), cfg.Server)

	errs := make(chan error, 2)
	go func() {
		log.Infow("user surface listening", "addr", userServer.Addr)
		if err := userServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("user server: %w", err)
			return
		}
		errs <- nil
	}()
	go func() {
		log.Infow("admin surface listening", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("admin server: %w", err)
			return
		}
		errs <- nil
	}()

	select {
	case <-ctx.Done():
		log.Infow("shutdown signal received")
	case err := <-errs:
		if err != nil {
			log.Errorw("server failed, shutting down", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = userServer.Shutdown(shutdownCtx)
	_ = adminServer.Shutdown(shutdownCtx)
	log.Infow("servers gracefully stopped")
	return nil
}

func newHTTPServer(host string, port int, handler http.Handler, sc config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      handler,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}
}

// loadOrCreateKEK derives the process KEK from the configured passphrase and
// a salt persisted in the settings table, generating the salt on first run.
// In non-production environments a missing passphrase falls back to a fixed
// development key so the server can start without an operator-supplied
// secret; every other environment must refuse to start without one.
func loadOrCreateKEK(ctx context.Context, st *store.Store, passphrase, environment string) (*kek.Service, error) {
	if passphrase == "" {
		if environment == "production" {
			return nil, fmt.Errorf("kek passphrase is required outside development mode")
		}
		passphrase = "darkauth-development-only-passphrase"
	}

	saltB64, ok, err := st.GetSetting(ctx, settingKEKSalt)
	if err != nil {
		return nil, fmt.Errorf("load kek salt: %w", err)
	}
	if ok {
		salt, err := decodeSalt(saltB64)
		if err != nil {
			return nil, fmt.Errorf("decode kek salt: %w", err)
		}
		return kek.New(passphrase, salt)
	}

	salt, err := kek.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("generate kek salt: %w", err)
	}
	if err := st.PutSetting(ctx, settingKEKSalt, encodeSalt(salt)); err != nil {
		return nil, fmt.Errorf("persist kek salt: %w", err)
	}
	return kek.New(passphrase, salt)
}

func loadEnvFiles() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Overload(".env")
}

func encodeSalt(salt []byte) string       { return cryptoutil.Base64URLEncode(salt) }
func decodeSalt(s string) ([]byte, error) { return cryptoutil.Base64URLDecode(s) }
