package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/cowtag/internal/collar"
	"github.com/srg/cowtag/internal/host"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "log.csv", cfg.LogFile)
	assert.Equal(t, uint8(1), cfg.Host.CollarID)
	assert.Equal(t, 2*time.Second, cfg.Host.DisconnectDelay)
	assert.Equal(t, 20*time.Second, cfg.Host.ReprovisionDelay)
	assert.Equal(t, 60*time.Second, cfg.Host.SyncTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Collar.MotionEvery)
	assert.Equal(t, 30*time.Second, cfg.Collar.EnvironmentEvery)
	assert.Equal(t, 15.0, cfg.Collar.MotionRate)
	assert.Equal(t, 2*time.Second, cfg.Collar.Watchdog)
}

func TestDefaultsMatchComponentDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, host.DefaultOptions().Sync, cfg.HostOptions().Sync, "60 s MUST map to 6000 sync units")

	wantCollar := collar.DefaultOptions()
	assert.Equal(t, wantCollar, cfg.CollarOptions())
}

func TestConfig_Decode(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "overlays nested values",
			yaml: "log_level: debug\nhost:\n  collar_id: 7\n  reprovision_delay: 5s\ncollar:\n  motion_every: 50ms\n",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, uint8(7), cfg.Host.CollarID)
				assert.Equal(t, 5*time.Second, cfg.Host.ReprovisionDelay)
				assert.Equal(t, 2*time.Second, cfg.Host.DisconnectDelay, "unset keys MUST keep defaults")
				assert.Equal(t, 50*time.Millisecond, cfg.Collar.MotionEvery)
			},
		},
		{
			name: "empty document keeps defaults",
			yaml: "",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultConfig(), cfg)
			},
		},
		{name: "unknown key", yaml: "colour: red\n", wantErr: true},
		{name: "bad log level", yaml: "log_level: loud\n", wantErr: true},
		{name: "zero motion period", yaml: "collar:\n  motion_every: 0s\n", wantErr: true},
		{name: "sync timeout too long", yaml: "host:\n  sync_timeout: 20m\n", wantErr: true},
		{name: "zero history", yaml: "host:\n  history_size: 0\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := cfg.Decode(strings.NewReader(tt.yaml))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "cowtag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_file: /tmp/collars.csv\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/collars.csv", cfg.LogFile)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			logger := cfg.NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
