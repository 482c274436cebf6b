package api

import (
	"context"
	stdjson "encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/klauspost/compress/gzip"

	"github.com/hatemosphere/dumb-questions/internal/audit"
	"github.com/hatemosphere/dumb-questions/internal/auth"
	"github.com/hatemosphere/dumb-questions/internal/storage"
)

const defaultMaxQuestionLen = 1000

// BackupRunner triggers an on-demand database backup.
type BackupRunner interface {
	RunOnce(ctx context.Context) (location string, sizeBytes int64, err error)
}

// Server is the HTTP API server.
type Server struct {
	store          storage.Store
	authMode       string                 // "oidc" (default), "google", or "jwt"
	oidcAuth       auth.OIDCAuthenticator // required in oidc/google auth modes
	jwtAuth        *auth.JWTAuthenticator // required in jwt auth mode
	roleUpdater    auth.RoleUpdater       // nil = role changes unavailable
	roleCache      *auth.RoleCache        // optional: live roles in admin listings
	backupRunner   BackupRunner           // optional: on-demand backup endpoint
	publicURL      string                 // external base URL for login redirects
	maxQuestionLen int
	humaAPI        huma.API
	loginStates    *expirable.LRU[string, loginState]
}

// NewServer creates a new API server.
func NewServer(store storage.Store, opts ...ServerOption) *Server {
	s := &Server{
		store:          store,
		authMode:       "oidc",
		maxQuestionLen: defaultMaxQuestionLen,
		loginStates:    expirable.NewLRU[string, loginState](256, nil, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures the API server.
type ServerOption func(*Server)

// WithAuthMode sets the authentication mode ("oidc", "google", or "jwt").
func WithAuthMode(mode string) ServerOption {
	return func(s *Server) { s.authMode = mode }
}

// WithOIDCAuth sets the OIDC authenticator (used for both "oidc" and "google" modes).
func WithOIDCAuth(oa auth.OIDCAuthenticator) ServerOption {
	return func(s *Server) { s.oidcAuth = oa }
}

// WithJWTAuth sets the JWT authenticator for stateless token validation.
func WithJWTAuth(ja *auth.JWTAuthenticator) ServerOption {
	return func(s *Server) { s.jwtAuth = ja }
}

// WithRoleUpdater sets the identity-provider role client used to apply admin
// role changes.
func WithRoleUpdater(ru auth.RoleUpdater) ServerOption {
	return func(s *Server) { s.roleUpdater = ru }
}

// WithRoleCache sets the role cache used for live roles in admin listings.
func WithRoleCache(rc *auth.RoleCache) ServerOption {
	return func(s *Server) { s.roleCache = rc }
}

// WithBackupRunner enables the on-demand admin backup endpoint.
func WithBackupRunner(br BackupRunner) ServerOption {
	return func(s *Server) { s.backupRunner = br }
}

// WithPublicURL sets the external base URL used in login redirects.
func WithPublicURL(u string) ServerOption {
	return func(s *Server) { s.publicURL = strings.TrimRight(u, "/") }
}

// WithMaxQuestionLength sets the maximum accepted question text length.
func WithMaxQuestionLength(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxQuestionLen = n
		}
	}
}

// humaJSONFormat uses stdlib encoding/json for huma request/response serialization.
var humaJSONFormat = huma.Format{
	Marshal: func(w io.Writer, v any) error {
		return stdjson.NewEncoder(w).Encode(v)
	},
	Unmarshal: stdjson.Unmarshal,
}

// newHumaConfig creates the huma configuration for the API.
func newHumaConfig() huma.Config {
	registry := huma.NewMapRegistry("#/components/schemas/", huma.DefaultSchemaNamer)
	config := huma.Config{
		OpenAPI: &huma.OpenAPI{
			OpenAPI: "3.1.0",
			Info: &huma.Info{
				Title:   "Dumb Questions API",
				Version: "0.1.0",
			},
			Components: &huma.Components{
				Schemas: registry,
			},
		},
		OpenAPIPath:   "", // Disabled, served via our own route instead.
		DocsPath:      "",
		SchemasPath:   "",
		Formats:       map[string]huma.Format{"application/json": humaJSONFormat, "json": humaJSONFormat},
		DefaultFormat: "application/json",
	}
	config.AllowAdditionalPropertiesByDefault = true
	config.FieldsOptionalByDefault = true
	return config
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Router returns the configured HTTP handler with all endpoints.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public huma routes (no auth).
	publicAPI := humago.New(mux, newHumaConfig())
	publicAPI.UseMiddleware(metricsHumaMiddleware)
	s.registerPublicRoutes(publicAPI)

	// Browser login routes serve HTML, so they are registered on the raw mux.
	if s.oidcAuth != nil {
		s.registerLoginPage(mux)
	}

	// Auth-protected API routes.
	api := humago.New(mux, newHumaConfig())
	api.UseMiddleware(metricsHumaMiddleware)
	api.UseMiddleware(s.authHumaMiddleware(api))
	api.UseMiddleware(s.adminGateMiddleware(api))
	api.UseMiddleware(auditHumaMiddleware)
	s.humaAPI = api

	s.registerUser(api)
	s.registerQuestions(api)
	s.registerAdmin(api)

	// HTTP-level middleware (outermost applied last).
	var handler http.Handler = mux
	handler = gzipDecompressor(handler)
	handler = requestLogger(handler)
	handler = recoverer(handler)
	handler = realIP(handler)
	return handler
}

// registerPublicRoutes registers unauthenticated huma operations.
func (s *Server) registerPublicRoutes(api huma.API) {
	// Health check.
	huma.Register(api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
		out := &HealthCheckOutput{}
		out.Body.Status = "ok"
		return out, nil
	})

	// Prometheus metrics.
	huma.Register(api, huma.Operation{
		OperationID: "getMetrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Tags:        []string{"Meta"},
	}, func(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				rec := httptest.NewRecorder()
				MetricsHandler().ServeHTTP(rec, &http.Request{})
				for k, vals := range rec.Header() {
					for _, v := range vals {
						ctx.SetHeader(k, v)
					}
				}
				_, _ = ctx.BodyWriter().Write(rec.Body.Bytes())
			},
		}, nil
	})

	// ID token exchange (active in oidc/google auth modes).
	if s.oidcAuth != nil {
		s.registerTokenExchange(api)
	}

	// OpenAPI spec.
	huma.Register(api, huma.Operation{
		OperationID: "getOpenAPISpec",
		Method:      http.MethodGet,
		Path:        "/api/openapi",
		Tags:        []string{"Meta"},
	}, func(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				ctx.SetHeader("Content-Type", "application/json")
				if s.humaAPI != nil {
					data, _ := stdjson.Marshal(s.humaAPI.OpenAPI())
					_, _ = ctx.BodyWriter().Write(data)
				} else {
					_, _ = ctx.BodyWriter().Write([]byte(`{}`))
				}
			},
		}, nil
	})
}

// registerTokenExchange registers the provider ID token exchange endpoint.
// Clients present an ID token from the configured identity provider and get
// back an opaque backend access token with the identity snapshotted alongside.
func (s *Server) registerTokenExchange(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "exchangeToken",
		Method:      http.MethodPost,
		Path:        "/api/auth/token",
		Tags:        []string{"Auth"},
		Errors:      []int{400, 401},
	}, func(ctx context.Context, input *TokenExchangeInput) (*TokenExchangeOutput, error) {
		if input.Body.IDToken == "" {
			return nil, huma.NewError(http.StatusBadRequest, "idToken is required")
		}

		result, err := s.oidcAuth.Exchange(ctx, input.Body.IDToken)
		if err != nil {
			audit.Event{
				Actor:      "anonymous",
				Action:     "token_exchange",
				Status:     "denied",
				Reason:     err.Error(),
				AuthMethod: s.authMode,
			}.Warn("Audit Log: Token Exchange Failed")
			return nil, huma.NewError(http.StatusUnauthorized, err.Error())
		}

		if err := s.store.CreateToken(ctx, &storage.Token{
			TokenHash:       result.TokenHash,
			TokenIdentifier: result.Identity.TokenIdentifier,
			Email:           result.Identity.Email,
			PublicMetadata:  result.Identity.PublicMetadata,
			PrivateMetadata: result.Identity.PrivateMetadata,
			ExpiresAt:       &result.ExpiresAt,
		}); err != nil {
			return nil, internalError(err)
		}

		// Logging in creates or refreshes the directory record.
		if _, err := s.store.EnsureUser(ctx, result.Identity.TokenIdentifier,
			result.Identity.Email, auth.IsAdmin(result.Identity)); err != nil {
			slog.Warn("failed to upsert directory record on login",
				"token_identifier", result.Identity.TokenIdentifier, "error", err)
		}

		audit.Event{
			Actor:      result.Identity.TokenIdentifier,
			Action:     "token_exchange",
			Status:     "granted",
			AuthMethod: s.authMode,
			Role:       string(result.Identity.Role()),
		}.Info("Audit Log: Token Exchange")

		out := &TokenExchangeOutput{}
		out.Body.Token = result.Token
		out.Body.Email = result.Identity.Email
		out.Body.ExpiresAt = result.ExpiresAt.Unix()
		return out, nil
	})
}

// authHumaMiddleware returns a huma middleware that validates the Authorization
// header and sets an Identity on the request context. Behaviour depends on the
// configured auth mode:
//   - jwt: stateless JWT validation, identity extracted from claims.
//   - oidc/google: backend-issued opaque token looked up in the database, with
//     the identity rebuilt from the stored metadata snapshot.
func (s *Server) authHumaMiddleware(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		authHeader := ctx.Header("Authorization")
		if authHeader == "" {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "missing Authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid Authorization header format")
			return
		}
		tokenValue := strings.TrimPrefix(authHeader, "Bearer ")

		switch s.authMode {
		case "jwt":
			s.authJWTHuma(api, ctx, next, tokenValue)
		default: // oidc, google
			s.authOIDCHuma(api, ctx, next, tokenValue)
		}
	}
}

// authJWTHuma handles JWT auth mode: stateless token validation with the
// identity extracted directly from claims.
func (s *Server) authJWTHuma(api huma.API, ctx huma.Context, next func(huma.Context), tokenValue string) {
	identity, err := s.jwtAuth.Validate(tokenValue)
	if err != nil {
		slog.Warn("JWT validation failed", "error", err)
		_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid token")
		return
	}

	slog.Debug("JWT authentication successful", "token_identifier", identity.TokenIdentifier)
	next(huma.WithContext(ctx, auth.WithIdentity(ctx.Context(), identity)))
}

// authOIDCHuma handles oidc/google auth modes: opaque backend-issued tokens
// looked up in the database. The identity, including the role metadata, comes
// from the snapshot stored at exchange time and refreshed on revalidation.
func (s *Server) authOIDCHuma(api huma.API, ctx huma.Context, next func(huma.Context), tokenValue string) {
	tokenHash := auth.HashToken(tokenValue)

	tok, err := s.store.GetToken(ctx.Context(), tokenHash)
	if err != nil {
		slog.Error("token lookup failed", "error", err)
		_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal error")
		return
	}
	if tok == nil {
		slog.Debug("invalid access token provided")
		_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid access token")
		return
	}
	if tok.ExpiresAt != nil && tok.ExpiresAt.Before(time.Now()) {
		slog.Debug("access token expired", "token_identifier", tok.TokenIdentifier, "expires_at", tok.ExpiresAt)
		_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "access token expired")
		return
	}

	identity := &auth.Identity{
		Subject:         subjectFromTokenIdentifier(tok.TokenIdentifier),
		TokenIdentifier: tok.TokenIdentifier,
		Email:           tok.Email,
		PublicMetadata:  tok.PublicMetadata,
		PrivateMetadata: tok.PrivateMetadata,
	}

	slog.Debug("OIDC authentication successful", "token_identifier", identity.TokenIdentifier)
	next(huma.WithContext(ctx, auth.WithIdentity(ctx.Context(), identity)))

	// Async: touch last_used_at + re-validate against the provider if a
	// refresh token is stored.
	go func() {
		if err := s.store.TouchToken(context.Background(), tokenHash); err != nil {
			slog.Warn("failed to touch token", "error", err)
		}

		// Re-validate when the token is past half its TTL. This detects
		// deactivated users and revoked roles without adding latency to
		// every request.
		if tok.RefreshToken != "" && s.oidcAuth != nil && shouldRevalidate(tok) {
			refreshed, err := s.oidcAuth.Revalidate(context.Background(), tok.RefreshToken)
			if err != nil {
				slog.Warn("OIDC re-validation failed, revoking token",
					"token_identifier", tok.TokenIdentifier,
					"error", err,
				)
				if delErr := s.store.DeleteToken(context.Background(), tokenHash); delErr != nil {
					slog.Error("failed to delete revoked token", "error", delErr)
				}
				return
			}
			if err := s.store.UpdateTokenIdentity(context.Background(), tokenHash,
				refreshed.Email, refreshed.PublicMetadata, refreshed.PrivateMetadata); err != nil {
				slog.Warn("failed to refresh token identity snapshot", "error", err)
			}
		}
	}()
}

// subjectFromTokenIdentifier strips the provider prefix from a
// "<provider>:<subject>" identifier.
func subjectFromTokenIdentifier(tokenIdentifier string) string {
	if i := strings.IndexByte(tokenIdentifier, ':'); i >= 0 {
		return tokenIdentifier[i+1:]
	}
	return tokenIdentifier
}

// shouldRevalidate returns true if the token should be re-validated against
// the provider: when it is past half its TTL.
func shouldRevalidate(tok *storage.Token) bool {
	if tok.ExpiresAt == nil {
		return false // no expiry = no TTL-based revalidation
	}

	totalTTL := tok.ExpiresAt.Sub(tok.CreatedAt)
	elapsed := time.Since(tok.CreatedAt)

	return elapsed > totalTTL/2
}

// adminGateMiddleware rejects non-admin callers on /api/admin routes before
// any handler runs. It runs after authHumaMiddleware, so the identity is
// always set; the role comes from the identity token's private metadata.
func (s *Server) adminGateMiddleware(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if !strings.HasPrefix(ctx.Operation().Path, "/api/admin/") {
			next(ctx)
			return
		}

		identity := auth.IdentityFromContext(ctx.Context())
		if !auth.IsAdmin(identity) {
			actor := "anonymous"
			if identity != nil {
				actor = identity.TokenIdentifier
			}
			audit.Event{
				Actor:    actor,
				Action:   ctx.Operation().OperationID,
				Status:   "denied",
				Method:   ctx.Method(),
				Resource: ctx.URL().Path,
				Reason:   "admin role required",
				IP:       ctx.RemoteAddr(),
			}.Warn("Audit Log: Admin Access Denied")
			_ = huma.WriteErr(api, ctx, http.StatusForbidden, "admin role required")
			return
		}
		next(ctx)
	}
}

// metricsHumaMiddleware records Prometheus metrics for each huma request using
// the operation path as the route label for clean, low-cardinality metrics.
func metricsHumaMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)
	elapsed := time.Since(start)

	route := ctx.Operation().Path
	status := ctx.Status()
	if status == 0 {
		status = 200
	}

	httpRequestsTotal.WithLabelValues(ctx.Method(), route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(ctx.Method(), route).Observe(elapsed.Seconds())
}

// auditHumaMiddleware logs structured audit entries for state-mutating API
// operations. It runs after the admin gate, so auth identity is always available.
func auditHumaMiddleware(ctx huma.Context, next func(huma.Context)) {
	next(ctx)

	// Only audit state-mutating methods.
	method := ctx.Method()
	if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
		return
	}

	actor := "unknown"
	var role string
	if identity := auth.IdentityFromContext(ctx.Context()); identity != nil {
		actor = identity.TokenIdentifier
		role = string(identity.Role())
	}

	status := ctx.Status()
	if status == 0 {
		status = 200
	}

	e := audit.Event{
		Actor:      actor,
		Action:     ctx.Operation().OperationID,
		Method:     method,
		Resource:   ctx.URL().Path,
		HTTPStatus: status,
		Role:       role,
		IP:         ctx.RemoteAddr(),
	}
	if status >= 400 {
		e.Warn("Audit Log: API Request")
	} else {
		e.Info("Audit Log: API Request")
	}
}

// requestLogger logs each HTTP request with method, path, status, and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		slog.Info("request", //nolint:gosec // structured logger, not format string
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"latency", time.Since(start),
		)
	})
}

// realIP extracts the real client IP from X-Real-Ip or X-Forwarded-For headers.
func realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rip := r.Header.Get("X-Real-Ip"); rip != "" {
			r.RemoteAddr = rip
		} else if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if i := strings.IndexByte(xff, ','); i > 0 {
				r.RemoteAddr = strings.TrimSpace(xff[:i])
			} else {
				r.RemoteAddr = xff
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer recovers from panics and returns a 500 Internal Server Error.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				slog.Error("panic recovered", "error", rvr, "method", r.Method, "path", r.URL.Path) //nolint:gosec // structured logger, not format string
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// gzipDecompressor transparently decompresses gzip request bodies.
func gzipDecompressor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = stdjson.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusBadRequest,
					"message": "invalid gzip body",
				})
				return
			}
			r.Body = io.NopCloser(gz)
			r.Header.Del("Content-Encoding")
		}
		next.ServeHTTP(w, r)
	})
}
