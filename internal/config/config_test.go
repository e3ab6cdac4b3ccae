package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("SPACES_MAX_ACTIVE_PER_HOST", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Spaces.MaxActivePerHost)
	assert.Equal(t, time.Hour, cfg.Spaces.TokenTTL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("SPACES_MAX_ACTIVE_PER_HOST", "2")
	t.Setenv("SPACES_TOKEN_TTL", "10m")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Spaces.MaxActivePerHost)
	assert.Equal(t, 10*time.Minute, cfg.Spaces.TokenTTL)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestClientConfig_Flags(t *testing.T) {
	t.Setenv("SPACECTL_TOKEN", "from-env")

	cfg := DefaultClientConfig()
	fs := pflag.NewFlagSet("spacectl", pflag.ContinueOnError)
	cfg.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--space", "ABC123", "--network-type", "cellular", "-s", "http://api"}))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ABC123", cfg.Space)
	assert.Equal(t, "from-env", cfg.AccessToken)
	assert.Equal(t, "http://api", cfg.ServerURL)
	assert.Equal(t, "cellular", cfg.NetworkType)
}

func TestClientConfig_ValidateRejectsUnknownNetwork(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.AccessToken = "x"
	cfg.Space = "ABC123"
	cfg.NetworkType = "satellite"

	assert.Error(t, cfg.Validate())
}
