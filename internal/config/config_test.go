package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"STORE_URL", "PORT", "BIND_HOST", "SERVER_SECRET", "ADMIN_KEY",
		"PROXY_BEARER_TOKEN", "BEHIND_PROXY", "CA_CERT_PATH", "HEARTBEAT_TTL", "MESSAGE_TTL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultBindHost, cfg.BindHost)
	assert.Equal(t, DefaultHeartbeatTTL, cfg.HeartbeatTTL)
	assert.Equal(t, DefaultMessageTTL, cfg.MessageTTL)
	assert.True(t, cfg.DevMode())
}

func TestLoadDevModeRequiresAllSecretsAbsent(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_SECRET", "s3cr3t")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.DevMode())
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("HEARTBEAT_TTL", "45")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, int64(45*1e9), cfg.HeartbeatTTL.Nanoseconds())
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("HEARTBEAT_TTL", "not-a-number")
	_, err := Load("")
	assert.Error(t, err)
}
