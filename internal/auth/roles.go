package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// RoleUpdater reads and writes a user's role at the identity provider. The
// provider is the authoritative store for roles; every role change made
// through the admin API is forwarded here before the directory's display
// cache is touched.
type RoleUpdater interface {
	// FetchRole returns the provider's current role for the subject.
	FetchRole(ctx context.Context, subject string) (Role, error)
	// SetRole writes the role into the subject's private metadata at the provider.
	SetRole(ctx context.Context, subject string, role Role) error
}

// HTTPRoleClientConfig configures the generic provider management API client.
type HTTPRoleClientConfig struct {
	BaseURL   string        // provider management API base, e.g. "https://api.clerk.com/v1"
	SecretKey string        // static bearer secret; used when TokenURL is empty
	TokenURL  string        // oauth2 client-credentials token endpoint (optional)
	ClientID  string        // oauth2 client ID (with TokenURL)
	Secret    string        // oauth2 client secret (with TokenURL)
	Timeout   time.Duration // per-request timeout (default 10s)
}

// HTTPRoleClient updates user metadata through the identity provider's
// management REST API. Works with Clerk-style providers: the role lives in
// the user's private metadata object.
type HTTPRoleClient struct {
	base   string
	client *http.Client
}

// NewHTTPRoleClient creates a role client for the provider management API.
// If TokenURL is set, requests authenticate via oauth2 client credentials;
// otherwise SecretKey is sent as a static bearer token.
func NewHTTPRoleClient(ctx context.Context, cfg HTTPRoleClientConfig) (*HTTPRoleClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider API base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	var client *http.Client
	switch {
	case cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.Secret,
			TokenURL:     cfg.TokenURL,
		}
		client = oauth2.NewClient(ctx, cc.TokenSource(ctx))
	case cfg.SecretKey != "":
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.SecretKey},
		))
	default:
		return nil, fmt.Errorf("either a secret key or oauth2 client credentials are required")
	}
	client.Timeout = timeout

	return &HTTPRoleClient{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		client: client,
	}, nil
}

// userMetadata mirrors the provider's user metadata envelope.
type userMetadata struct {
	PublicMetadata  map[string]any `json:"public_metadata,omitempty"`
	PrivateMetadata map[string]any `json:"private_metadata,omitempty"`
}

// FetchRole reads the subject's private metadata role from the provider.
func (c *HTTPRoleClient) FetchRole(ctx context.Context, subject string) (Role, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/users/"+subject, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch user %s: %w", subject, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("fetch user %s: provider returned %d: %s", subject, resp.StatusCode, body)
	}

	var md userMetadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return "", fmt.Errorf("decode user %s: %w", subject, err)
	}
	return RoleFromMetadata(md.PrivateMetadata), nil
}

// SetRole patches the subject's private metadata at the provider. The
// provider merges metadata patches, so only the role key is sent.
func (c *HTTPRoleClient) SetRole(ctx context.Context, subject string, role Role) error {
	payload, err := json.Marshal(userMetadata{
		PrivateMetadata: map[string]any{roleClaim: string(role)},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.base+"/users/"+subject+"/metadata", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("set role for %s: %w", subject, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("set role for %s: provider returned %d: %s", subject, resp.StatusCode, body)
	}
	return nil
}
