package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatemosphere/dumb-questions/internal/auth"
)

// stubOIDCAuthenticator records the nonce values handed to ExchangeCode so
// callback tests can assert the code exchange ran (or didn't) and with which
// nonce.
type stubOIDCAuthenticator struct {
	mu     sync.Mutex
	nonces []string
}

func (a *stubOIDCAuthenticator) Exchange(context.Context, string) (*auth.OIDCAuthResult, error) {
	return nil, assert.AnError
}

func (a *stubOIDCAuthenticator) Revalidate(context.Context, string) (*auth.Identity, error) {
	return nil, assert.AnError
}

func (a *stubOIDCAuthenticator) AuthCodeURL(redirectURI, state string) (string, string) {
	return "https://idp.example.com/auth?state=" + state, "test-nonce"
}

func (a *stubOIDCAuthenticator) ExchangeCode(_ context.Context, _, _, expectedNonce string) (*auth.CodeExchangeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nonces = append(a.nonces, expectedNonce)
	return nil, assert.AnError
}

func (a *stubOIDCAuthenticator) Config() auth.OIDCConfig {
	return auth.OIDCConfig{ProviderName: "Example"}
}

func (a *stubOIDCAuthenticator) seenNonces() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.nonces...)
}

// A callback whose state matches the CSRF cookie but has no stored login
// state (expired TTL or evicted entry) must be rejected before the code
// exchange. Proceeding would exchange the code with an empty nonce, which
// disables nonce validation.
func TestLoginCallback_MissingLoginStateRejected(t *testing.T) {
	stub := &stubOIDCAuthenticator{}
	_, handler, _ := newTestServer(t, WithAuthMode("oidc"), WithOIDCAuth(stub))

	req := httptest.NewRequest(http.MethodGet, "/login/callback?state=csrf:abc&code=xyz", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "abc"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, stub.seenNonces(), "code exchange must not run without a stored login state")
}

// The happy path carries the nonce minted at /login through to the code
// exchange.
func TestLoginCallback_ForwardsStoredNonce(t *testing.T) {
	stub := &stubOIDCAuthenticator{}
	_, handler, _ := newTestServer(t, WithAuthMode("oidc"), WithOIDCAuth(stub))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var csrfToken string
	for _, c := range rec.Result().Cookies() {
		if c.Name == "oauth_state" {
			csrfToken = c.Value
		}
	}
	require.NotEmpty(t, csrfToken, "login page must set the oauth_state cookie")

	req := httptest.NewRequest(http.MethodGet, "/login/callback?state=csrf:"+csrfToken+"&code=xyz", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: csrfToken})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// The stub fails the exchange, which surfaces as a 502. What matters is
	// that the exchange ran with the stored nonce.
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.Len(t, stub.seenNonces(), 1)
	assert.Equal(t, "test-nonce", stub.seenNonces()[0])
}
