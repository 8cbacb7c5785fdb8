package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into dir so Load does not pick up a developer .env file.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8765", cfg.Server.Addr())
	assert.False(t, cfg.Server.Debug)
	assert.Equal(t, "*", cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "/media/sports", cfg.Recording.OutputPath)
	assert.Equal(t, 2, cfg.Recording.MaxConcurrent)
	assert.Equal(t, 6, cfg.Recording.SegmentDuration)
	assert.Equal(t, "ffmpeg", cfg.Recording.FFmpegPath)
	assert.Equal(t, []string{"-c", "copy"}, cfg.Recording.FFmpegArgs())
	assert.Equal(t, "/recordings", cfg.Recording.TimeshiftURLPrefix)
	assert.Equal(t, 10*time.Second, cfg.Recording.MonitorInterval())
	assert.Equal(t, 10*time.Second, cfg.Recording.StopTimeout())
	assert.Zero(t, cfg.Recording.MinFreeBytes())
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.AWS.Enabled())
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SPORTS_DVR_PORT", "9000")
	t.Setenv("SPORTS_DVR_DEBUG", "true")
	t.Setenv("SPORTS_DVR_MAX_CONCURRENT_RECORDINGS", "4")
	t.Setenv("SPORTS_DVR_FFMPEG_OPTIONS", "-c:v copy -c:a aac")
	t.Setenv("SPORTS_DVR_MIN_FREE_DISK_MB", "2")
	t.Setenv("SPORTS_DVR_REDIS_ADDR", "localhost:6379")
	t.Setenv("SPORTS_DVR_AWS_REGION", "eu-west-1")
	t.Setenv("SPORTS_DVR_AWS_ARCHIVE_BUCKET", "dvr")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, 4, cfg.Recording.MaxConcurrent)
	assert.Equal(t, []string{"-c:v", "copy", "-c:a", "aac"}, cfg.Recording.FFmpegArgs())
	assert.Equal(t, uint64(2<<20), cfg.Recording.MinFreeBytes())
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.AWS.Enabled())
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SPORTS_DVR_SEGMENT_DURATION", "six")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Recording.SegmentDuration)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SPORTS_DVR_OUTPUT_PATH=/srv/dvr\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SPORTS_DVR_OUTPUT_PATH") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/dvr", cfg.Recording.OutputPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero ceiling", func(c *Config) { c.Recording.MaxConcurrent = 0 }, "MAX_CONCURRENT_RECORDINGS"},
		{"zero segment", func(c *Config) { c.Recording.SegmentDuration = 0 }, "SEGMENT_DURATION"},
		{"empty output", func(c *Config) { c.Recording.OutputPath = "" }, "OUTPUT_PATH"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Server:    ServerConfig{Port: 8765},
				Recording: RecordingConfig{OutputPath: "/tmp", MaxConcurrent: 1, SegmentDuration: 6},
			}
			require.NoError(t, c.Validate())
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
