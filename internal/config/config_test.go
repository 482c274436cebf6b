package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := defaults()
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "dumb-questions.db", c.DBPath)
	assert.Equal(t, "oidc", c.AuthMode)
	assert.Equal(t, 24*time.Hour, c.TokenTTL)
	assert.Equal(t, 1000, c.MaxQuestionLen)
	assert.True(t, c.AuditLogs)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
auth_mode: jwt
jwt_signing_key: secret
token_ttl: 1h
backup_keep: 7
audit_logs: false
`), 0o600))

	c := defaults()
	require.NoError(t, loadFile(c, path))

	assert.Equal(t, ":9090", c.Addr)
	assert.Equal(t, "jwt", c.AuthMode)
	assert.Equal(t, "secret", c.JWTSigningKey)
	assert.Equal(t, time.Hour, c.TokenTTL)
	assert.Equal(t, 7, c.BackupKeep)
	assert.False(t, c.AuditLogs)
	// Untouched keys keep their defaults.
	assert.Equal(t, "dumb-questions.db", c.DBPath)
}

func TestLoadFile_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unclosed"), 0o600))
	assert.Error(t, loadFile(defaults(), path))
}

func TestCutFlag(t *testing.T) {
	for _, tc := range []struct {
		arg      string
		name     string
		value    string
		hasValue bool
	}{
		{"-config=a.yaml", "config", "a.yaml", true},
		{"--config=a.yaml", "config", "a.yaml", true},
		{"-config", "config", "", false},
		{"--addr", "addr", "", false},
		{"positional", "", "", false},
	} {
		name, value, hasValue := cutFlag(tc.arg)
		assert.Equal(t, tc.name, name, tc.arg)
		assert.Equal(t, tc.value, value, tc.arg)
		assert.Equal(t, tc.hasValue, hasValue, tc.arg)
	}
}
