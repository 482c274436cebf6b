package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hatemosphere/dumb-questions/internal/api"
	"github.com/hatemosphere/dumb-questions/internal/audit"
	"github.com/hatemosphere/dumb-questions/internal/auth"
	"github.com/hatemosphere/dumb-questions/internal/storage"
)

func init() {
	// Keep test output readable.
	audit.Enabled = false
}

// testBackend holds a running server for integration tests.
type testBackend struct {
	URL    string
	server *http.Server
	store  *storage.SQLiteStore
}

// startBackend starts a fresh server on a random port with the given options.
func startBackend(t *testing.T, opts ...api.ServerOption) *testBackend {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	srv := api.NewServer(store, opts...)
	router := srv.Router()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	httpServer := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second} //nolint:gosec // test server
	go func() { _ = httpServer.Serve(listener) }()

	tb := &testBackend{
		URL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		server: httpServer,
		store:  store,
	}

	t.Cleanup(func() {
		_ = httpServer.Shutdown(context.Background())
		store.Close()
	})

	for i := 0; i < 50; i++ {
		resp, err := http.Get(tb.URL + "/healthz")
		if err == nil {
			resp.Body.Close()
			return tb
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("server failed to start")
	return nil
}

// --- fake identity provider ---

// fakeIDP simulates the identity provider's token side: it validates ID
// tokens it knows about and refreshes sessions it has not revoked.
type fakeIDP struct {
	mu      sync.Mutex
	claims  map[string]map[string]any // ID token -> claims
	refresh map[string]string         // refresh token -> ID token
	revoked map[string]bool           // refresh tokens rejected on refresh
}

func newFakeIDP() *fakeIDP {
	return &fakeIDP{
		claims:  make(map[string]map[string]any),
		refresh: make(map[string]string),
		revoked: make(map[string]bool),
	}
}

// issue registers an ID token with the given claims and returns it.
func (f *fakeIDP) issue(idToken string, claims map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[idToken] = claims
	return idToken
}

func (f *fakeIDP) Verify(_ context.Context, rawIDToken string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claims, ok := f.claims[rawIDToken]
	if !ok {
		return nil, errors.New("unknown ID token")
	}
	return claims, nil
}

func (f *fakeIDP) Refresh(_ context.Context, refreshToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked[refreshToken] {
		return "", errors.New("session revoked")
	}
	idToken, ok := f.refresh[refreshToken]
	if !ok {
		return "", errors.New("unknown refresh token")
	}
	return idToken, nil
}

// userClaims builds ID token claims for a regular user.
func userClaims(sub, email string) map[string]any {
	return map[string]any{
		"sub":            sub,
		"email":          email,
		"email_verified": true,
	}
}

// adminClaims builds ID token claims carrying the admin role in private metadata.
func adminClaims(sub, email string) map[string]any {
	claims := userClaims(sub, email)
	claims["private_metadata"] = map[string]any{"role": "admin"}
	return claims
}

// --- fake role provider ---

// fakeRoleProvider records role writes like the provider management API would.
type fakeRoleProvider struct {
	mu    sync.Mutex
	roles map[string]auth.Role
	fail  bool
}

func newFakeRoleProvider() *fakeRoleProvider {
	return &fakeRoleProvider{roles: make(map[string]auth.Role)}
}

func (f *fakeRoleProvider) FetchRole(_ context.Context, subject string) (auth.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("provider unavailable")
	}
	if role, ok := f.roles[subject]; ok {
		return role, nil
	}
	return auth.RoleUser, nil
}

func (f *fakeRoleProvider) SetRole(_ context.Context, subject string, role auth.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("provider unavailable")
	}
	f.roles[subject] = role
	return nil
}

func (f *fakeRoleProvider) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeRoleProvider) roleOf(subject string) auth.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	if role, ok := f.roles[subject]; ok {
		return role
	}
	return auth.RoleUser
}

// --- HTTP helpers ---

// httpDoWithToken makes an HTTP request with a bearer token ("" = no auth header).
func (tb *testBackend) httpDoWithToken(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, tb.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// httpJSON decodes a JSON response body into v and closes the body.
func httpJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("failed to unmarshal response (%s): %v", string(b), err)
	}
}

// exchangeIDToken trades a provider ID token for a backend access token.
func (tb *testBackend) exchangeIDToken(t *testing.T, idToken string) string {
	t.Helper()
	resp := tb.httpDoWithToken(t, http.MethodPost, "/api/auth/token", "", map[string]string{"idToken": idToken})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("token exchange returned %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}
	httpJSON(t, resp, &out)
	if out.Token == "" {
		t.Fatal("token exchange returned empty token")
	}
	return out.Token
}
