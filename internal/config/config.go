package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration. Values are resolved in order:
// YAML config file, then command-line flags, then environment variables.
type Config struct {
	Addr           string `yaml:"addr"`            // listen address, e.g. ":8080"
	ManagementAddr string `yaml:"management_addr"` // separate health/metrics listener (empty = main listener)
	DBPath         string `yaml:"db"`              // path to SQLite database file
	PublicURL      string `yaml:"public_url"`      // external base URL for login redirects
	TLS            bool   `yaml:"tls"`
	CertFile       string `yaml:"cert"`
	KeyFile        string `yaml:"key"`

	// Content limits.
	MaxQuestionLen int `yaml:"max_question_len"` // max question text length in bytes

	// Auth mode: "oidc" (default), "google", or "jwt".
	AuthMode string        `yaml:"auth_mode"`
	TokenTTL time.Duration `yaml:"token_ttl"` // backend-issued token lifetime

	// Generic OIDC settings (required when AuthMode == "oidc").
	OIDCIssuer         string `yaml:"oidc_issuer"`          // OIDC provider discovery URL
	OIDCClientID       string `yaml:"oidc_client_id"`       // OAuth2 client ID
	OIDCClientSecret   string `yaml:"oidc_client_secret"`   // OAuth2 client secret
	OIDCAllowedDomains string `yaml:"oidc_allowed_domains"` // Comma-separated allowed email domains
	OIDCScopes         string `yaml:"oidc_scopes"`          // Additional scopes (default: "profile,email")
	OIDCProviderName   string `yaml:"oidc_provider_name"`   // Display name for login page (default: "SSO")
	OIDCEmailClaim     string `yaml:"oidc_email_claim"`     // Claim key for email (default: "email")
	OIDCPublicClaim    string `yaml:"oidc_public_claim"`    // Claim key for public metadata
	OIDCPrivateClaim   string `yaml:"oidc_private_claim"`   // Claim key for private metadata (holds the role)

	// Google auth settings (required when AuthMode == "google").
	GoogleClientID       string `yaml:"google_client_id"`       // OAuth2 client ID for ID token audience
	GoogleClientSecret   string `yaml:"google_client_secret"`   // OAuth2 client secret (for browser login flow)
	GoogleAllowedDomains string `yaml:"google_allowed_domains"` // Comma-separated allowed hosted domains
	GoogleSAKeyFile      string `yaml:"google_sa_key"`          // Optional path to SA JSON key for Admin SDK
	GoogleAdminEmail     string `yaml:"google_admin_email"`     // Workspace super-admin email for DWD subject

	// JWT auth settings (required when AuthMode == "jwt").
	JWTSigningKey   string `yaml:"jwt_signing_key"`   // HMAC secret string or path to PEM public key file
	JWTIssuer       string `yaml:"jwt_issuer"`        // Expected JWT issuer (optional)
	JWTAudience     string `yaml:"jwt_audience"`      // Expected JWT audience (optional)
	JWTProviderName string `yaml:"jwt_provider_name"` // Provider prefix for user identities (default: "jwt")
	JWTEmailClaim   string `yaml:"jwt_email_claim"`   // Claim key for email (default: "email")

	// Role provider: the identity provider's management API, used to apply
	// admin role changes. Empty API URL in oidc/jwt mode disables role changes.
	RoleAPIURL       string        `yaml:"role_api_url"`       // management API base, e.g. "https://api.clerk.com/v1"
	RoleSecretKey    string        `yaml:"role_secret_key"`    // static bearer secret
	RoleTokenURL     string        `yaml:"role_token_url"`     // oauth2 client-credentials token endpoint (optional)
	RoleClientID     string        `yaml:"role_client_id"`     // oauth2 client ID (with RoleTokenURL)
	RoleClientSecret string        `yaml:"role_client_secret"` // oauth2 client secret (with RoleTokenURL)
	RoleCacheTTL     time.Duration `yaml:"role_cache_ttl"`     // provider role cache TTL for admin listings

	// Backup.
	BackupDir              string        `yaml:"backup_dir"`      // directory for VACUUM INTO snapshots (empty = disabled)
	BackupInterval         time.Duration `yaml:"backup_interval"` // periodic backup interval (0 = on-demand only)
	BackupKeep             int           `yaml:"backup_keep"`     // snapshots to retain (0 = unlimited)
	BackupS3Bucket         string        `yaml:"backup_s3_bucket"`
	BackupS3Region         string        `yaml:"backup_s3_region"`
	BackupS3Endpoint       string        `yaml:"backup_s3_endpoint"`
	BackupS3Prefix         string        `yaml:"backup_s3_prefix"`
	BackupS3ForcePathStyle bool          `yaml:"backup_s3_force_path_style"`

	// Logging.
	LogFormat string `yaml:"log_format"` // "json" (default) or "text"
	LogLevel  string `yaml:"log_level"`  // "debug", "info" (default), "warn", or "error"
	AuditLogs bool   `yaml:"audit_logs"` // enable audit logging (default true)
}

func defaults() *Config {
	return &Config{
		Addr:           ":8080",
		DBPath:         "dumb-questions.db",
		MaxQuestionLen: 1000,
		AuthMode:       "oidc",
		TokenTTL:       24 * time.Hour,
		OIDCScopes:     "profile,email",
		RoleCacheTTL:   5 * time.Minute,
		LogFormat:      "json",
		LogLevel:       "info",
		AuditLogs:      true,
	}
}

func Parse() *Config {
	c := defaults()

	// Load the YAML config file first so flags and env vars can override it.
	if path := configFilePath(); path != "" {
		if err := loadFile(c, path); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config file %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	flag.String("config", "", "path to YAML config file")
	flag.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	flag.StringVar(&c.ManagementAddr, "management-addr", c.ManagementAddr, "separate listener for health probes and metrics (empty = main listener)")
	flag.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path")
	flag.StringVar(&c.PublicURL, "public-url", c.PublicURL, "external base URL for login redirects")
	flag.BoolVar(&c.TLS, "tls", c.TLS, "enable TLS")
	flag.StringVar(&c.CertFile, "cert", c.CertFile, "TLS certificate file")
	flag.StringVar(&c.KeyFile, "key", c.KeyFile, "TLS key file")
	flag.IntVar(&c.MaxQuestionLen, "max-question-len", c.MaxQuestionLen, "maximum question text length")

	// Auth flags.
	flag.StringVar(&c.AuthMode, "auth-mode", c.AuthMode, "authentication mode: oidc, google, or jwt")
	flag.DurationVar(&c.TokenTTL, "token-ttl", c.TokenTTL, "backend-issued token lifetime")
	flag.StringVar(&c.OIDCIssuer, "oidc-issuer", c.OIDCIssuer, "OIDC provider discovery URL (required for oidc mode)")
	flag.StringVar(&c.OIDCClientID, "oidc-client-id", c.OIDCClientID, "OIDC OAuth2 client ID")
	flag.StringVar(&c.OIDCClientSecret, "oidc-client-secret", c.OIDCClientSecret, "OIDC OAuth2 client secret")
	flag.StringVar(&c.OIDCAllowedDomains, "oidc-allowed-domains", c.OIDCAllowedDomains, "comma-separated allowed email domains")
	flag.StringVar(&c.OIDCScopes, "oidc-scopes", c.OIDCScopes, "additional OIDC scopes beyond openid")
	flag.StringVar(&c.OIDCProviderName, "oidc-provider-name", c.OIDCProviderName, "display name for login page")
	flag.StringVar(&c.OIDCEmailClaim, "oidc-email-claim", c.OIDCEmailClaim, "OIDC claim key for email")
	flag.StringVar(&c.OIDCPublicClaim, "oidc-public-claim", c.OIDCPublicClaim, "OIDC claim key for public metadata")
	flag.StringVar(&c.OIDCPrivateClaim, "oidc-private-claim", c.OIDCPrivateClaim, "OIDC claim key for private metadata")
	flag.StringVar(&c.GoogleClientID, "google-client-id", c.GoogleClientID, "Google OAuth2 client ID")
	flag.StringVar(&c.GoogleClientSecret, "google-client-secret", c.GoogleClientSecret, "Google OAuth2 client secret (required for browser login)")
	flag.StringVar(&c.GoogleAllowedDomains, "google-allowed-domains", c.GoogleAllowedDomains, "comma-separated allowed hosted domains")
	flag.StringVar(&c.GoogleSAKeyFile, "google-sa-key", c.GoogleSAKeyFile, "optional path to SA JSON key for Admin SDK")
	flag.StringVar(&c.GoogleAdminEmail, "google-admin-email", c.GoogleAdminEmail, "Workspace super-admin email for DWD subject")
	flag.StringVar(&c.JWTSigningKey, "jwt-signing-key", c.JWTSigningKey, "HMAC secret or path to PEM public key for JWT verification")
	flag.StringVar(&c.JWTIssuer, "jwt-issuer", c.JWTIssuer, "expected JWT issuer claim (optional)")
	flag.StringVar(&c.JWTAudience, "jwt-audience", c.JWTAudience, "expected JWT audience claim (optional)")
	flag.StringVar(&c.JWTProviderName, "jwt-provider-name", c.JWTProviderName, "provider prefix for user identities")
	flag.StringVar(&c.JWTEmailClaim, "jwt-email-claim", c.JWTEmailClaim, "JWT claim key for email")

	// Role provider flags.
	flag.StringVar(&c.RoleAPIURL, "role-api-url", c.RoleAPIURL, "identity provider management API base URL (empty = role changes disabled)")
	flag.StringVar(&c.RoleSecretKey, "role-secret-key", c.RoleSecretKey, "static bearer secret for the management API")
	flag.StringVar(&c.RoleTokenURL, "role-token-url", c.RoleTokenURL, "oauth2 client-credentials token endpoint for the management API")
	flag.StringVar(&c.RoleClientID, "role-client-id", c.RoleClientID, "oauth2 client ID for the management API")
	flag.StringVar(&c.RoleClientSecret, "role-client-secret", c.RoleClientSecret, "oauth2 client secret for the management API")
	flag.DurationVar(&c.RoleCacheTTL, "role-cache-ttl", c.RoleCacheTTL, "provider role cache TTL")

	// Backup flags.
	flag.StringVar(&c.BackupDir, "backup-dir", c.BackupDir, "directory for database backups (empty = disabled)")
	flag.DurationVar(&c.BackupInterval, "backup-interval", c.BackupInterval, "periodic backup interval (0 = on-demand only)")
	flag.IntVar(&c.BackupKeep, "backup-keep", c.BackupKeep, "backup snapshots to retain (0 = unlimited)")
	flag.StringVar(&c.BackupS3Bucket, "backup-s3-bucket", c.BackupS3Bucket, "S3 bucket for offsite backups (empty = local only)")
	flag.StringVar(&c.BackupS3Region, "backup-s3-region", c.BackupS3Region, "S3 bucket region")
	flag.StringVar(&c.BackupS3Endpoint, "backup-s3-endpoint", c.BackupS3Endpoint, "custom S3 endpoint (for MinIO etc.)")
	flag.StringVar(&c.BackupS3Prefix, "backup-s3-prefix", c.BackupS3Prefix, "S3 key prefix for backups")
	flag.BoolVar(&c.BackupS3ForcePathStyle, "backup-s3-force-path-style", c.BackupS3ForcePathStyle, "use path-style S3 addressing")

	// Logging flags.
	flag.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: json or text")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, or error")
	flag.BoolVar(&c.AuditLogs, "audit-logs", c.AuditLogs, "enable structured audit logging")

	flag.Parse()

	// Allow env overrides.
	if v := os.Getenv("DUMB_QUESTIONS_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_MANAGEMENT_ADDR"); v != "" {
		c.ManagementAddr = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_PUBLIC_URL"); v != "" {
		c.PublicURL = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_MAX_QUESTION_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxQuestionLen = n
		}
	}
	if v := os.Getenv("DUMB_QUESTIONS_AUTH_MODE"); v != "" {
		c.AuthMode = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.TokenTTL = d
		}
	}
	if v := os.Getenv("DUMB_QUESTIONS_OIDC_ISSUER"); v != "" {
		c.OIDCIssuer = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_OIDC_CLIENT_ID"); v != "" {
		c.OIDCClientID = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_OIDC_CLIENT_SECRET"); v != "" {
		c.OIDCClientSecret = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_OIDC_ALLOWED_DOMAINS"); v != "" {
		c.OIDCAllowedDomains = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_OIDC_SCOPES"); v != "" {
		c.OIDCScopes = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_OIDC_PROVIDER_NAME"); v != "" {
		c.OIDCProviderName = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_OIDC_EMAIL_CLAIM"); v != "" {
		c.OIDCEmailClaim = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_OIDC_PUBLIC_CLAIM"); v != "" {
		c.OIDCPublicClaim = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_OIDC_PRIVATE_CLAIM"); v != "" {
		c.OIDCPrivateClaim = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_GOOGLE_CLIENT_ID"); v != "" {
		c.GoogleClientID = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_GOOGLE_CLIENT_SECRET"); v != "" {
		c.GoogleClientSecret = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_GOOGLE_ALLOWED_DOMAINS"); v != "" {
		c.GoogleAllowedDomains = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_GOOGLE_SA_KEY"); v != "" {
		c.GoogleSAKeyFile = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_GOOGLE_ADMIN_EMAIL"); v != "" {
		c.GoogleAdminEmail = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_JWT_SIGNING_KEY"); v != "" {
		c.JWTSigningKey = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_JWT_ISSUER"); v != "" {
		c.JWTIssuer = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_JWT_AUDIENCE"); v != "" {
		c.JWTAudience = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_JWT_PROVIDER_NAME"); v != "" {
		c.JWTProviderName = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_JWT_EMAIL_CLAIM"); v != "" {
		c.JWTEmailClaim = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_ROLE_API_URL"); v != "" {
		c.RoleAPIURL = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_ROLE_SECRET_KEY"); v != "" {
		c.RoleSecretKey = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_ROLE_TOKEN_URL"); v != "" {
		c.RoleTokenURL = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_ROLE_CLIENT_ID"); v != "" {
		c.RoleClientID = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_ROLE_CLIENT_SECRET"); v != "" {
		c.RoleClientSecret = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_ROLE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RoleCacheTTL = d
		}
	}
	if v := os.Getenv("DUMB_QUESTIONS_BACKUP_DIR"); v != "" {
		c.BackupDir = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BackupInterval = d
		}
	}
	if v := os.Getenv("DUMB_QUESTIONS_BACKUP_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BackupKeep = n
		}
	}
	if v := os.Getenv("DUMB_QUESTIONS_BACKUP_S3_BUCKET"); v != "" {
		c.BackupS3Bucket = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_BACKUP_S3_REGION"); v != "" {
		c.BackupS3Region = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_BACKUP_S3_ENDPOINT"); v != "" {
		c.BackupS3Endpoint = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_BACKUP_S3_PREFIX"); v != "" {
		c.BackupS3Prefix = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_BACKUP_S3_FORCE_PATH_STYLE"); v == "true" {
		c.BackupS3ForcePathStyle = true
	}
	if v := os.Getenv("DUMB_QUESTIONS_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DUMB_QUESTIONS_AUDIT_LOGS"); v == "false" {
		c.AuditLogs = false
	}

	return c
}

// configFilePath resolves the config file path before flag.Parse runs, so the
// file can seed flag defaults. Checks -config/--config in os.Args, then the
// DUMB_QUESTIONS_CONFIG env var.
func configFilePath() string {
	args := os.Args[1:]
	for i, arg := range args {
		name, value, hasValue := cutFlag(arg)
		if name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("DUMB_QUESTIONS_CONFIG")
}

// cutFlag splits "-name=value" or "--name=value" into its parts.
func cutFlag(arg string) (name, value string, hasValue bool) {
	if len(arg) == 0 || arg[0] != '-' {
		return "", "", false
	}
	arg = arg[1:]
	if len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:], true
		}
	}
	return arg, "", false
}

func loadFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}
