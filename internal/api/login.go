package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hatemosphere/dumb-questions/internal/auth"
	"github.com/hatemosphere/dumb-questions/internal/storage"
)

// loginState holds the per-login OIDC nonce, keyed by CSRF token in the
// expirable login-state cache.
type loginState struct {
	nonce string
}

// registerLoginPage registers browser-based login routes on the raw mux.
// These serve HTML, not JSON, so they're registered directly instead of via huma.
func (s *Server) registerLoginPage(mux *http.ServeMux) {
	slog.Info("registering login routes", "routes", []string{"/login", "/login/callback"})
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("GET /login/callback", s.handleLoginCallback)
}

// handleLoginPage serves the sign-in page for browser login.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	csrfToken := generateCSRFToken()
	if csrfToken == "" {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	state := "csrf:" + csrfToken
	setOAuthStateCookie(w, csrfToken)

	authURL, nonce := s.oidcAuth.AuthCodeURL(s.loginRedirectURI(r), state)
	s.loginStates.Add(csrfToken, loginState{nonce: nonce})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginPageTmpl.Execute(w, map[string]string{
		"AuthURL":  authURL,
		"Provider": s.oidcAuth.Config().ProviderName,
	}); err != nil {
		slog.Error("render login page", "error", err)
	}
}

// handleLoginCallback handles the OAuth2 callback from the identity provider.
func (s *Server) handleLoginCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		renderError(w, http.StatusBadRequest, "Login failed: "+errParam)
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		renderError(w, http.StatusBadRequest, "Missing state parameter. Please try logging in again.")
		return
	}

	// Extract CSRF token from state and verify against cookie.
	csrfToken := strings.TrimPrefix(state, "csrf:")
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" || stateCookie.Value != csrfToken {
		renderError(w, http.StatusBadRequest, "Invalid state parameter. Please try logging in again.")
		return
	}

	// Clear the state cookie.
	http.SetCookie(w, &http.Cookie{
		Name:   "oauth_state",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	// Consume the stored login state to retrieve the OIDC nonce. A missing
	// entry means the login session expired or was evicted from the cache;
	// without the nonce the code exchange cannot be validated, so reject.
	st, ok := s.loginStates.Get(csrfToken)
	if !ok {
		renderError(w, http.StatusBadRequest, "Login session expired. Please try logging in again.")
		return
	}
	s.loginStates.Remove(csrfToken)

	code := r.URL.Query().Get("code")
	if code == "" {
		renderError(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	// Exchange the authorization code for tokens, validating the nonce.
	codeResult, err := s.oidcAuth.ExchangeCode(r.Context(), code, s.loginRedirectURI(r), st.nonce)
	if err != nil {
		slog.Error("code exchange failed", "error", err)
		renderError(w, http.StatusBadGateway, "Failed to exchange authorization code. Please try again.")
		return
	}

	// Validate the ID token and mint a backend access token.
	result, err := s.oidcAuth.Exchange(r.Context(), codeResult.IDToken)
	if err != nil {
		slog.Error("ID token exchange failed", "error", err)
		slog.Warn("Audit Log: Login Failed", //nolint:gosec // structured logger safely escapes taint
			slog.Group("audit",
				slog.String("actor", "anonymous"),
				slog.String("action", "login_attempt"),
				slog.String("status", "failed"),
				slog.String("reason", "id_token_exchange_failed"),
				slog.String("error", err.Error()),
				slog.String("ip_address", r.RemoteAddr),
			),
		)
		renderError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error())
		return
	}

	// Persist the token with the identity snapshot, including the refresh
	// token so deactivated users are caught on revalidation.
	if err := s.store.CreateToken(r.Context(), &storage.Token{
		TokenHash:       result.TokenHash,
		TokenIdentifier: result.Identity.TokenIdentifier,
		Email:           result.Identity.Email,
		PublicMetadata:  result.Identity.PublicMetadata,
		PrivateMetadata: result.Identity.PrivateMetadata,
		RefreshToken:    codeResult.RefreshToken,
		ExpiresAt:       &result.ExpiresAt,
	}); err != nil {
		slog.Error("failed to store token", "error", err)
		renderError(w, http.StatusInternalServerError, "Failed to create access token. Please try again.")
		return
	}

	// Logging in creates or refreshes the directory record.
	if _, err := s.store.EnsureUser(r.Context(), result.Identity.TokenIdentifier,
		result.Identity.Email, auth.IsAdmin(result.Identity)); err != nil {
		slog.Warn("failed to upsert directory record on login",
			"token_identifier", result.Identity.TokenIdentifier, "error", err)
	}

	slog.Info("Audit Log: Login Success", //nolint:gosec // structured logger safely escapes taint
		slog.Group("audit",
			slog.String("actor", result.Identity.TokenIdentifier),
			slog.String("action", "login_success"),
			slog.String("status", "granted"),
			slog.String("auth_method", s.authMode),
			slog.String("ip_address", r.RemoteAddr),
		),
	)

	if err := callbackSuccessTmpl.Execute(w, map[string]any{
		"Email": result.Identity.Email,
		"Token": result.Token,
	}); err != nil {
		slog.Error("render callback page", "error", err)
	}
}

// loginRedirectURI builds the OAuth2 redirect URI from the configured public
// URL, falling back to the request's host.
func (s *Server) loginRedirectURI(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL + "/login/callback"
	}
	return fmt.Sprintf("%s://%s/login/callback", requestScheme(r), r.Host)
}

// --- Helpers ---

func generateCSRFToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

func setOAuthStateCookie(w http.ResponseWriter, csrfToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    csrfToken,
		Path:     "/",
		MaxAge:   300, // 5 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		return "https"
	}
	return "http"
}

func renderError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	if err := errorPageTmpl.Execute(w, map[string]string{"Error": msg}); err != nil {
		slog.Error("render error page", "error", err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

// --- HTML Templates ---

var loginPageTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Dumb Questions — Sign In</title>
<style>
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f5; color: #333; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
  .card { background: #fff; border-radius: 12px; box-shadow: 0 2px 12px rgba(0,0,0,0.1); padding: 48px 40px; max-width: 420px; width: 100%; text-align: center; }
  h1 { font-size: 24px; margin-bottom: 8px; color: #1a1a2e; }
  .subtitle { color: #666; margin-bottom: 32px; font-size: 14px; }
  .signin-btn { display: inline-flex; align-items: center; gap: 12px; background: #fff; border: 1px solid #dadce0; border-radius: 8px; padding: 12px 24px; font-size: 16px; color: #3c4043; text-decoration: none; cursor: pointer; transition: background 0.2s, box-shadow 0.2s; }
  .signin-btn:hover { background: #f8f9fa; box-shadow: 0 1px 3px rgba(0,0,0,0.12); }
</style>
</head>
<body>
<div class="card">
  <h1>Dumb Questions</h1>
  <p class="subtitle">There are no dumb questions. Sign in to ask yours.</p>
  <a href="{{.AuthURL}}" class="signin-btn">Sign in{{if .Provider}} with {{.Provider}}{{end}}</a>
</div>
</body>
</html>`))

var callbackSuccessTmpl = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Dumb Questions — Signed In</title>
<style>
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f5; color: #333; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
  .card { background: #fff; border-radius: 12px; box-shadow: 0 2px 12px rgba(0,0,0,0.1); padding: 48px 40px; max-width: 560px; width: 100%; }
  h1 { font-size: 24px; margin-bottom: 4px; color: #1a1a2e; }
  .user { color: #666; margin-bottom: 24px; font-size: 14px; }
  .label { font-size: 12px; font-weight: 600; color: #888; text-transform: uppercase; letter-spacing: 0.5px; margin-bottom: 6px; }
  .token-box { display: flex; gap: 8px; align-items: center; }
  .token-input { flex: 1; font-family: "SF Mono", Monaco, Consolas, monospace; font-size: 13px; padding: 10px 12px; border: 1px solid #dadce0; border-radius: 6px; background: #f8f9fa; color: #333; outline: none; }
  .copy-btn { padding: 10px 16px; background: #4285f4; color: #fff; border: none; border-radius: 6px; cursor: pointer; font-size: 13px; white-space: nowrap; }
  .copy-btn:hover { background: #3367d6; }
</style>
</head>
<body>
<div class="card">
  <h1>Signed in successfully</h1>
  <p class="user">{{.Email}}</p>
  <div class="label">Access Token</div>
  <div class="token-box">
    <input type="text" class="token-input" id="token" value="{{.Token}}" readonly>
    <button class="copy-btn" onclick="copyToken()">Copy</button>
  </div>
</div>
<script>
function copyToken() {
  var t = document.getElementById('token');
  t.select();
  navigator.clipboard.writeText(t.value).then(function() {
    var btn = document.querySelector('.copy-btn');
    btn.textContent = 'Copied!';
    setTimeout(function() { btn.textContent = 'Copy'; }, 2000);
  });
}
</script>
</body>
</html>`))

var errorPageTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Dumb Questions — Error</title>
<style>
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f5; color: #333; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
  .card { background: #fff; border-radius: 12px; box-shadow: 0 2px 12px rgba(0,0,0,0.1); padding: 48px 40px; max-width: 420px; width: 100%; text-align: center; }
  h1 { font-size: 24px; margin-bottom: 12px; color: #d93025; }
  .msg { color: #666; margin-bottom: 24px; font-size: 14px; }
  .retry-btn { display: inline-block; padding: 10px 24px; background: #4285f4; color: #fff; border-radius: 6px; text-decoration: none; font-size: 14px; }
  .retry-btn:hover { background: #3367d6; }
</style>
</head>
<body>
<div class="card">
  <h1>Login Failed</h1>
  <p class="msg">{{.Error}}</p>
  <a href="/login" class="retry-btn">Try Again</a>
</div>
</body>
</html>`))
