package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	stdjson "encoding/json"

	"github.com/hatemosphere/dumb-questions/internal/api"
	"github.com/hatemosphere/dumb-questions/internal/audit"
	"github.com/hatemosphere/dumb-questions/internal/auth"
	"github.com/hatemosphere/dumb-questions/internal/backup"
	"github.com/hatemosphere/dumb-questions/internal/config"
	"github.com/hatemosphere/dumb-questions/internal/storage"
)

func main() {
	cfg := config.Parse()

	// Configure logging.
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stdout, handlerOpts)
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))

	// Disable audit logging if configured.
	if !cfg.AuditLogs {
		audit.Enabled = false
	}

	// Open storage.
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}

	// Register Prometheus directory gauges.
	api.RegisterDirectoryGauges(
		func() float64 {
			n, err := store.CountUsers(context.Background())
			if err != nil {
				return -1
			}
			return float64(n)
		},
		func() float64 {
			n, err := store.CountQuestions(context.Background())
			if err != nil {
				return -1
			}
			return float64(n)
		},
	)

	serverOpts := []api.ServerOption{
		api.WithAuthMode(cfg.AuthMode),
		api.WithMaxQuestionLength(cfg.MaxQuestionLen),
	}
	if cfg.PublicURL != "" {
		serverOpts = append(serverOpts, api.WithPublicURL(cfg.PublicURL))
		slog.Info("public URL configured", "url", cfg.PublicURL)
	}

	// Set up the identity-provider role client. The provider is the
	// authoritative store for roles; without a client the admin role
	// endpoint reports role management as unavailable.
	var roleUpdater auth.RoleUpdater
	switch {
	case cfg.AuthMode == "google" && cfg.GoogleAdminEmail != "":
		roleUpdater, err = auth.NewGoogleRoleClient(context.Background(), cfg.GoogleSAKeyFile, cfg.GoogleAdminEmail)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create Google role client: %v\n", err)
			os.Exit(1)
		}
		slog.Info("role provider: Google Admin SDK", "admin_email", cfg.GoogleAdminEmail)
	case cfg.RoleAPIURL != "":
		roleUpdater, err = auth.NewHTTPRoleClient(context.Background(), auth.HTTPRoleClientConfig{
			BaseURL:   cfg.RoleAPIURL,
			SecretKey: cfg.RoleSecretKey,
			TokenURL:  cfg.RoleTokenURL,
			ClientID:  cfg.RoleClientID,
			Secret:    cfg.RoleClientSecret,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create role client: %v\n", err)
			os.Exit(1)
		}
		slog.Info("role provider: management API", "url", cfg.RoleAPIURL)
	}
	if roleUpdater != nil {
		serverOpts = append(serverOpts,
			api.WithRoleUpdater(roleUpdater),
			api.WithRoleCache(auth.NewRoleCache(roleUpdater, cfg.RoleCacheTTL)),
		)
	}

	switch cfg.AuthMode {
	case "google":
		if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
			fmt.Fprintf(os.Stderr, "google-client-id and google-client-secret are required when auth-mode=google\n")
			os.Exit(1)
		}
		oidcAuth, err := auth.NewGoogleOIDCAuthenticator(context.Background(), auth.OIDCConfig{
			ClientID:       cfg.GoogleClientID,
			AllowedDomains: parseCSVList(cfg.GoogleAllowedDomains),
			TokenTTL:       cfg.TokenTTL,
		}, cfg.GoogleClientSecret)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create Google OIDC authenticator: %v\n", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts, api.WithOIDCAuth(oidcAuth))
		slog.Info("auth mode: google", "client_id", cfg.GoogleClientID)

	case "oidc":
		if cfg.OIDCIssuer == "" || cfg.OIDCClientID == "" || cfg.OIDCClientSecret == "" {
			fmt.Fprintf(os.Stderr, "oidc-issuer, oidc-client-id, and oidc-client-secret are required when auth-mode=oidc\n")
			os.Exit(1)
		}
		oidcAuth, err := auth.NewOIDCAuthenticator(context.Background(), auth.OIDCConfig{
			ClientID:             cfg.OIDCClientID,
			AllowedDomains:       parseCSVList(cfg.OIDCAllowedDomains),
			TokenTTL:             cfg.TokenTTL,
			ProviderName:         cfg.OIDCProviderName,
			Scopes:               parseCSVList(cfg.OIDCScopes),
			EmailClaim:           cfg.OIDCEmailClaim,
			PublicMetadataClaim:  cfg.OIDCPublicClaim,
			PrivateMetadataClaim: cfg.OIDCPrivateClaim,
		}, cfg.OIDCIssuer, cfg.OIDCClientSecret)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create OIDC authenticator: %v\n", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts, api.WithOIDCAuth(oidcAuth))
		slog.Info("auth mode: oidc",
			"issuer", cfg.OIDCIssuer,
			"client_id", cfg.OIDCClientID,
			"provider_name", cfg.OIDCProviderName,
		)

	case "jwt":
		if cfg.JWTSigningKey == "" {
			fmt.Fprintf(os.Stderr, "jwt-signing-key is required when auth-mode=jwt\n")
			os.Exit(1)
		}
		jwtAuth, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			SigningKey:   cfg.JWTSigningKey,
			Issuer:       cfg.JWTIssuer,
			Audience:     cfg.JWTAudience,
			ProviderName: cfg.JWTProviderName,
			EmailClaim:   cfg.JWTEmailClaim,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create JWT authenticator: %v\n", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts, api.WithJWTAuth(jwtAuth))
		slog.Info("auth mode: jwt",
			"issuer", cfg.JWTIssuer,
			"audience", cfg.JWTAudience,
		)

	default:
		fmt.Fprintf(os.Stderr, "auth-mode must be 'oidc', 'google', or 'jwt', got %q\n", cfg.AuthMode)
		os.Exit(1)
	}

	// Set up backups.
	var scheduler *backup.Scheduler
	if cfg.BackupDir != "" {
		if err := os.MkdirAll(cfg.BackupDir, 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create backup directory: %v\n", err)
			os.Exit(1)
		}

		var remote backup.Remote
		if cfg.BackupS3Bucket != "" {
			s3Remote, s3Err := backup.NewS3Remote(context.Background(), backup.S3Config{
				Bucket:         cfg.BackupS3Bucket,
				Region:         cfg.BackupS3Region,
				Endpoint:       cfg.BackupS3Endpoint,
				Prefix:         cfg.BackupS3Prefix,
				ForcePathStyle: cfg.BackupS3ForcePathStyle,
			})
			if s3Err != nil {
				fmt.Fprintf(os.Stderr, "failed to create S3 backup remote: %v\n", s3Err)
				os.Exit(1)
			}
			remote = s3Remote
			slog.Info("S3 backup enabled", "bucket", cfg.BackupS3Bucket, "prefix", cfg.BackupS3Prefix)
		}

		runner := backup.NewRunner(store, remote, cfg.BackupDir, cfg.BackupKeep)
		scheduler = backup.NewScheduler(runner, cfg.BackupInterval)
		serverOpts = append(serverOpts, api.WithBackupRunner(runner))
		slog.Info("backups enabled",
			"dir", cfg.BackupDir,
			"interval", cfg.BackupInterval.String(),
			"keep", cfg.BackupKeep,
		)
	}

	srv := api.NewServer(store, serverOpts...)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start separate management server for health probes and metrics.
	var mgmtServer *http.Server
	if cfg.ManagementAddr != "" {
		mgmtMux := http.NewServeMux()
		mgmtMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = stdjson.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})
		mgmtMux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if _, err := store.CountUsers(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = stdjson.NewEncoder(w).Encode(map[string]string{"status": "error"})
				return
			}
			_ = stdjson.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})
		mgmtMux.Handle("GET /metrics", api.MetricsHandler())

		mgmtServer = &http.Server{
			Addr:              cfg.ManagementAddr,
			Handler:           mgmtMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("management server starting", "addr", cfg.ManagementAddr)
			if err := mgmtServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("management server error", "error", err)
			}
		}()
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())

		// Give in-flight requests 30 seconds to complete.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if mgmtServer != nil {
			if err := mgmtServer.Shutdown(ctx); err != nil {
				slog.Error("management server shutdown error", "error", err)
			}
		}
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		close(done)
	}()

	slog.Info("dumb questions starting", "addr", cfg.Addr, "auth_mode", cfg.AuthMode)

	if cfg.TLS {
		err = httpServer.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown to complete.
	<-done

	if scheduler != nil {
		scheduler.Shutdown()
	}
	store.Close()
	slog.Info("shutdown complete")
}

func parseCSVList(s string) []string {
	var result []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	return result
}
