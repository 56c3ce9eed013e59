package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	t.Setenv("CONFIG_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.RequestDelay)
	assert.Equal(t, 15*time.Second, cfg.DownloaderTimeout)
	assert.Equal(t, 30*24*time.Hour, cfg.TrendRetention)
	assert.Equal(t, dir, cfg.ConfigDir)
	assert.Equal(t, dir+"/nicept-helper.db", cfg.DatabaseFile)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestLoadOverridesAndValidation(t *testing.T) {
	viper.Reset()
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("REQUEST_DELAY_SECONDS", "0.5")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestDelay)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSOrigins)

	viper.Reset()
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "0")
	_, err = Load()
	assert.Error(t, err)
}
