package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds configuration for stateless JWT authentication, where the
// identity provider's session token is presented directly on every request.
type JWTConfig struct {
	SigningKey           string // raw HMAC secret string OR path to PEM public key file
	Issuer               string // expected "iss" claim (empty = don't verify)
	Audience             string // expected "aud" claim (empty = don't verify)
	ProviderName         string // prefix for TokenIdentifier (default: "jwt")
	EmailClaim           string // claim key for email (default: "email")
	PublicMetadataClaim  string // claim key for public metadata (default: "public_metadata")
	PrivateMetadataClaim string // claim key for private metadata (default: "private_metadata")
}

// JWTAuthenticator validates provider-issued JWTs and extracts the caller identity.
type JWTAuthenticator struct {
	config     JWTConfig
	parserOpts []jwt.ParserOption
	keyFunc    jwt.Keyfunc
}

// NewJWTAuthenticator creates a JWT authenticator with auto-detected key type.
// If signingKey is a path to a PEM file, RSA or ECDSA public key is used.
// Otherwise, the raw string is treated as an HMAC-SHA256 secret.
func NewJWTAuthenticator(config JWTConfig) (*JWTAuthenticator, error) {
	if config.SigningKey == "" {
		return nil, errors.New("jwt signing key is required")
	}
	if config.ProviderName == "" {
		config.ProviderName = "jwt"
	}
	if config.EmailClaim == "" {
		config.EmailClaim = "email"
	}
	if config.PublicMetadataClaim == "" {
		config.PublicMetadataClaim = "public_metadata"
	}
	if config.PrivateMetadataClaim == "" {
		config.PrivateMetadataClaim = "private_metadata"
	}

	signingKey, validMethods, err := parseSigningKey(config.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	keyFunc := func(token *jwt.Token) (any, error) {
		method := token.Method.Alg()
		for _, m := range validMethods {
			if method == m {
				return signingKey, nil
			}
		}
		return nil, fmt.Errorf("unexpected signing method: %s", method)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(config.Audience))
	}

	return &JWTAuthenticator{
		config:     config,
		parserOpts: parserOpts,
		keyFunc:    keyFunc,
	}, nil
}

// parseSigningKey auto-detects the key type from the input.
// Returns the parsed key and the list of valid signing methods.
func parseSigningKey(input string) (any, []string, error) {
	// Check if input is a file path.
	info, err := os.Stat(input)
	if err == nil && !info.IsDir() {
		pemBytes, err := os.ReadFile(input)
		if err != nil {
			return nil, nil, fmt.Errorf("read PEM file: %w", err)
		}

		if key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
			return key, []string{"RS256", "RS384", "RS512"}, nil
		}
		if key, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
			return key, []string{"ES256", "ES384", "ES512"}, nil
		}
		return nil, nil, errors.New("PEM file contains no recognized RSA or ECDSA public key")
	}

	// Treat as HMAC secret.
	return []byte(input), []string{"HS256", "HS384", "HS512"}, nil
}

// Validate parses and verifies a JWT token string, returning the caller identity.
func (a *JWTAuthenticator) Validate(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, a.keyFunc, a.parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid JWT claims")
	}

	subject, err := extractStringClaim(claims, "sub")
	if err != nil {
		return nil, fmt.Errorf("JWT missing sub claim: %w", err)
	}

	// Email is optional at the token level; the directory insert rejects
	// identities without one.
	email, _ := claims[a.config.EmailClaim].(string)

	return &Identity{
		Subject:         subject,
		TokenIdentifier: a.config.ProviderName + ":" + subject,
		Email:           email,
		PublicMetadata:  extractMetadataClaim(claims, a.config.PublicMetadataClaim),
		PrivateMetadata: extractMetadataClaim(claims, a.config.PrivateMetadataClaim),
	}, nil
}

// extractStringClaim returns a string claim value, or an error if missing/empty.
func extractStringClaim(claims jwt.MapClaims, key string) (string, error) {
	v, ok := claims[key]
	if !ok {
		return "", fmt.Errorf("claim %q not found", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("claim %q is not a non-empty string", key)
	}
	return s, nil
}

// extractMetadataClaim extracts a metadata object claim. Anything other than a
// JSON object (absent claim, string, array) resolves to nil rather than an
// error: a provider that doesn't issue metadata yields a role-less identity.
func extractMetadataClaim(claims jwt.MapClaims, key string) map[string]any {
	md, _ := claims[key].(map[string]any)
	return md
}
