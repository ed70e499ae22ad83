package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaults()
	loadFromEnv()

	var config Config
	require.NoError(t, viper.Unmarshal(&config))
	return &config
}

func TestDefaults(t *testing.T) {
	config := loadDefaults(t)
	require.NoError(t, validateConfig(config))
	config.ResolveDataPaths()

	assert.Equal(t, 8081, config.API.Port)
	assert.Equal(t, 100, config.API.RateLimit.RequestsPerSecond)
	assert.Equal(t, int64(1048576), config.API.JSONBodyLimit)
	assert.Equal(t, 30*time.Second, config.Dashboard.CacheTTL)
	assert.False(t, config.Redis.Enabled)
	assert.True(t, config.Notifications.Log.Enabled)
	assert.Equal(t, filepath.Join("data", "argus.db"), config.DataPaths.SQLitePath)
}

func TestValidateConfig(t *testing.T) {
	config := loadDefaults(t)
	config.API.Port = 0
	assert.Error(t, validateConfig(config))

	config = loadDefaults(t)
	config.API.TLS = true
	config.API.CertFile = ""
	assert.Error(t, validateConfig(config))

	config = loadDefaults(t)
	config.Redis.Enabled = true
	config.Redis.Addr = ""
	assert.Error(t, validateConfig(config))

	config = loadDefaults(t)
	config.Notifications.Webhook.Enabled = true
	config.Notifications.Webhook.URL = "ftp://example.com/hook"
	assert.Error(t, validateConfig(config))

	config = loadDefaults(t)
	config.Notifications.Webhook.Enabled = true
	config.Notifications.Webhook.URL = "https://example.com/hook"
	assert.NoError(t, validateConfig(config))

	config = loadDefaults(t)
	config.Notifications.Email.Enabled = true
	config.Notifications.Email.SMTPHost = "smtp.example.com"
	assert.Error(t, validateConfig(config)) // no recipients
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ARGUS_API_PORT", "9090")
	t.Setenv("ARGUS_DATA_DIR", "/tmp/argus-test")
	config := loadDefaults(t)
	config.ResolveDataPaths()

	assert.Equal(t, 9090, config.API.Port)
	assert.Equal(t, filepath.Join("/tmp/argus-test", "argus.db"), config.DataPaths.SQLitePath)
}
