package tests

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hatemosphere/dumb-questions/internal/api"
	"github.com/hatemosphere/dumb-questions/internal/auth"
)

// newOIDCBackend starts a server in oidc mode with a fake identity provider
// and a fake role provider, mirroring the full production wiring.
func newOIDCBackend(t *testing.T) (*testBackend, *fakeIDP, *fakeRoleProvider) {
	t.Helper()

	idp := newFakeIDP()
	roles := newFakeRoleProvider()

	oidcAuth := auth.NewTestOIDCAuthenticator(auth.OIDCConfig{
		ClientID:     "test-client",
		TokenTTL:     time.Hour,
		ProviderName: "Clerk",
	}, idp, idp)

	tb := startBackend(t,
		api.WithAuthMode("oidc"),
		api.WithOIDCAuth(oidcAuth),
		api.WithRoleUpdater(roles),
		api.WithRoleCache(auth.NewRoleCache(roles, time.Minute)),
	)
	return tb, idp, roles
}

func TestOIDCFlow_FullLifecycle(t *testing.T) {
	tb, idp, roles := newOIDCBackend(t)

	idp.issue("id-alice", userClaims("user_alice", "alice@example.com"))
	idp.issue("id-bob", adminClaims("user_bob", "bob@example.com"))

	aliceToken := tb.exchangeIDToken(t, "id-alice")
	bobToken := tb.exchangeIDToken(t, "id-bob")

	// Profiles reflect the role carried in the token.
	var profile struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		IsAdmin bool   `json:"isAdmin"`
	}
	resp := tb.httpDoWithToken(t, http.MethodGet, "/api/user", aliceToken, nil)
	httpJSON(t, resp, &profile)
	if profile.Email != "alice@example.com" || profile.IsAdmin {
		t.Fatalf("unexpected alice profile: %+v", profile)
	}
	aliceID := profile.ID

	resp = tb.httpDoWithToken(t, http.MethodGet, "/api/user", bobToken, nil)
	httpJSON(t, resp, &profile)
	if !profile.IsAdmin {
		t.Fatalf("expected bob to be admin: %+v", profile)
	}

	// Alice posts a question and likes it twice.
	var question struct {
		ID    string `json:"id"`
		Likes int    `json:"likes"`
	}
	resp = tb.httpDoWithToken(t, http.MethodPost, "/api/questions", aliceToken,
		map[string]string{"text": "Why is the sky blue?"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create question returned %d", resp.StatusCode)
	}
	httpJSON(t, resp, &question)

	for i := 1; i <= 2; i++ {
		resp = tb.httpDoWithToken(t, http.MethodPost, "/api/questions/"+question.ID+"/like", aliceToken, nil)
		var liked struct {
			Likes int `json:"likes"`
		}
		httpJSON(t, resp, &liked)
		if liked.Likes != i {
			t.Fatalf("expected %d likes, got %d", i, liked.Likes)
		}
	}

	// Alice is not an admin.
	resp = tb.httpDoWithToken(t, http.MethodGet, "/api/admin/users", aliceToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
	}

	// Bob sees both users and alice's question with owner email.
	var userList struct {
		Users []struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"users"`
	}
	resp = tb.httpDoWithToken(t, http.MethodGet, "/api/admin/users", bobToken, nil)
	httpJSON(t, resp, &userList)
	if len(userList.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(userList.Users))
	}

	var questionList struct {
		Questions []struct {
			ID         string  `json:"id"`
			OwnerEmail *string `json:"ownerEmail"`
		} `json:"questions"`
	}
	resp = tb.httpDoWithToken(t, http.MethodGet, "/api/admin/questions", bobToken, nil)
	httpJSON(t, resp, &questionList)
	if len(questionList.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(questionList.Questions))
	}
	if questionList.Questions[0].OwnerEmail == nil || *questionList.Questions[0].OwnerEmail != "alice@example.com" {
		t.Fatalf("unexpected owner email: %+v", questionList.Questions[0])
	}

	// Bob promotes alice; the change lands at the provider.
	resp = tb.httpDoWithToken(t, http.MethodPut, "/api/admin/users/"+aliceID+"/role", bobToken,
		map[string]bool{"isAdmin": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("role change returned %d", resp.StatusCode)
	}
	if roles.roleOf("user_alice") != auth.RoleAdmin {
		t.Fatal("provider did not receive the role change")
	}

	// Alice's existing session still carries the old role snapshot; admin
	// access arrives with her next login, when the provider mints a token
	// with the new metadata.
	resp = tb.httpDoWithToken(t, http.MethodGet, "/api/admin/users", aliceToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected stale session to remain non-admin, got %d", resp.StatusCode)
	}

	idp.issue("id-alice-2", adminClaims("user_alice", "alice@example.com"))
	aliceAdminToken := tb.exchangeIDToken(t, "id-alice-2")
	resp = tb.httpDoWithToken(t, http.MethodGet, "/api/admin/users", aliceAdminToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected fresh admin session to pass, got %d", resp.StatusCode)
	}

	// Bob removes alice's question, then alice herself.
	resp = tb.httpDoWithToken(t, http.MethodDelete, "/api/admin/questions/"+question.ID, bobToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete question returned %d", resp.StatusCode)
	}

	resp = tb.httpDoWithToken(t, http.MethodDelete, "/api/admin/users/"+aliceID, bobToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete user returned %d", resp.StatusCode)
	}

	// Deleting the user revokes every session tied to her identity.
	for _, token := range []string{aliceToken, aliceAdminToken} {
		resp = tb.httpDoWithToken(t, http.MethodGet, "/api/user", token, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected revoked session to get 401, got %d", resp.StatusCode)
		}
	}
}

func TestTokenExchange_Rejections(t *testing.T) {
	tb, _, _ := newOIDCBackend(t)

	resp := tb.httpDoWithToken(t, http.MethodPost, "/api/auth/token", "", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing ID token, got %d", resp.StatusCode)
	}

	resp = tb.httpDoWithToken(t, http.MethodPost, "/api/auth/token", "", map[string]string{"idToken": "forged"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown ID token, got %d", resp.StatusCode)
	}
}

func TestRoleChange_ProviderOutage(t *testing.T) {
	tb, idp, roles := newOIDCBackend(t)

	idp.issue("id-admin", adminClaims("user_admin", "admin@example.com"))
	idp.issue("id-carol", userClaims("user_carol", "carol@example.com"))
	adminToken := tb.exchangeIDToken(t, "id-admin")
	carolToken := tb.exchangeIDToken(t, "id-carol")

	var profile struct {
		ID string `json:"id"`
	}
	resp := tb.httpDoWithToken(t, http.MethodGet, "/api/user", carolToken, nil)
	httpJSON(t, resp, &profile)

	roles.setFail(true)
	resp = tb.httpDoWithToken(t, http.MethodPut, "/api/admin/users/"+profile.ID+"/role", adminToken,
		map[string]bool{"isAdmin": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 on provider outage, got %d", resp.StatusCode)
	}
	roles.setFail(false)
	if roles.roleOf("user_carol") != auth.RoleUser {
		t.Fatal("role must not change when the provider rejects the write")
	}
}

func TestLoginPage_RendersProviderURL(t *testing.T) {
	tb, _, _ := newOIDCBackend(t)

	resp, err := http.Get(tb.URL + "/login")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login page returned %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "accounts.google.com") {
		t.Fatal("login page missing provider authorization URL")
	}

	// The state cookie guards the callback against CSRF.
	var hasStateCookie bool
	for _, c := range resp.Cookies() {
		if c.Name == "oauth_state" && c.Value != "" {
			hasStateCookie = true
		}
	}
	if !hasStateCookie {
		t.Fatal("login page did not set the oauth_state cookie")
	}
}

func TestLoginCallback_RejectsForgedState(t *testing.T) {
	tb, _, _ := newOIDCBackend(t)

	// No state at all.
	resp, err := http.Get(tb.URL + "/login/callback")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing state, got %d", resp.StatusCode)
	}

	// State without the matching cookie.
	resp, err = http.Get(tb.URL + "/login/callback?state=csrf:forged&code=x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for forged state, got %d", resp.StatusCode)
	}
}
