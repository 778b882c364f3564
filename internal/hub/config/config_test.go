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
	c := Default()
	require.NoError(t, ValidateConfig(c))
	assert.Equal(t, 3000, c.Port)
	assert.Equal(t, 5*time.Second, c.ReconnectTimeout())
	assert.Equal(t, time.Second, c.BroadcastInterval())
	assert.Equal(t, 0, c.MaxInstances)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_INSTANCES", "5")
	t.Setenv("ENABLE_CORS", "false")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("INSTANCE_PREFIX", "prod")

	c := Default()
	applyEnv(c)
	require.NoError(t, ValidateConfig(c))

	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, 5, c.MaxInstances)
	assert.False(t, c.HandleCORS)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, c.CORSOrigins)
	assert.Equal(t, "prod", c.InstancePrefix)
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := Default()
	c.Port = 0
	assert.Error(t, ValidateConfig(c))

	c = Default()
	c.Port = 70000
	assert.Error(t, ValidateConfig(c))
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	c := Default()
	c.LogLevel = "verbose"
	assert.Error(t, ValidateConfig(c))
}

func TestValidateRejectsNegativeMaxInstances(t *testing.T) {
	c := Default()
	c.MaxInstances = -1
	assert.Error(t, ValidateConfig(c))
}

func TestAuthDirFor(t *testing.T) {
	c := Default()
	assert.Equal(t, filepath.Join(".", ".whatsapp-auth-acct-1"), c.AuthDirFor("acct-1"))

	c.InstancePrefix = "prod"
	assert.Equal(t, filepath.Join(".", ".whatsapp-auth-prod-acct-1"), c.AuthDirFor("acct-1"))
}

func TestLoadConfigFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatwire.conf")
	content := `
port = 4000
log_level = "debug"
max_instances = 3
broadcast_interval_ms = 250
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	require.NoError(t, LoadConfig(path))
	c := Config()
	assert.Equal(t, 4000, c.Port)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 3, c.MaxInstances)
	assert.Equal(t, 250*time.Millisecond, c.BroadcastInterval())
}
