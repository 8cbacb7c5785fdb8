package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "SPORTS_DVR_"

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Recording RecordingConfig
	Redis     RedisConfig
	AWS       AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string
	Port               int
	Debug              bool
	ReadTimeout        int
	WriteTimeout       int
	ShutdownTimeout    int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RecordingConfig holds capture settings.
type RecordingConfig struct {
	OutputPath         string
	MaxConcurrent      int
	SegmentDuration    int
	FFmpegPath         string
	FFmpegOptions      string // split on whitespace
	TimeshiftURLPrefix string
	MonitorIntervalSec int
	StopTimeoutSec     int
	MinFreeDiskMB      int // 0 disables the free space guard
}

// FFmpegArgs returns FFmpegOptions as individual arguments.
func (r RecordingConfig) FFmpegArgs() []string {
	return strings.Fields(r.FFmpegOptions)
}

// MonitorInterval returns the progress polling interval.
func (r RecordingConfig) MonitorInterval() time.Duration {
	return time.Duration(r.MonitorIntervalSec) * time.Second
}

// StopTimeout returns how long a stop waits before killing ffmpeg.
func (r RecordingConfig) StopTimeout() time.Duration {
	return time.Duration(r.StopTimeoutSec) * time.Second
}

// MinFreeBytes returns MinFreeDiskMB in bytes.
func (r RecordingConfig) MinFreeBytes() uint64 {
	if r.MinFreeDiskMB <= 0 {
		return 0
	}
	return uint64(r.MinFreeDiskMB) << 20
}

// RedisConfig holds Redis connection settings. An empty Addr disables the archive queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	PresignExpireMinutes int
}

// Enabled reports whether archive upload is configured.
func (a AWSConfig) Enabled() bool { return a.Region != "" && a.ArchiveBucket != "" }

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("HOST", "0.0.0.0"),
			Port:               getEnvInt("PORT", 8765),
			Debug:              getEnvBool("DEBUG", false),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			ShutdownTimeout:    getEnvInt("SHUTDOWN_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Recording: RecordingConfig{
			OutputPath:         getEnv("OUTPUT_PATH", "/media/sports"),
			MaxConcurrent:      getEnvInt("MAX_CONCURRENT_RECORDINGS", 2),
			SegmentDuration:    getEnvInt("SEGMENT_DURATION", 6),
			FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
			FFmpegOptions:      getEnv("FFMPEG_OPTIONS", "-c copy"),
			TimeshiftURLPrefix: getEnv("TIMESHIFT_URL_PREFIX", "/recordings"),
			MonitorIntervalSec: getEnvInt("MONITOR_INTERVAL_SEC", 10),
			StopTimeoutSec:     getEnvInt("STOP_TIMEOUT_SEC", 10),
			MinFreeDiskMB:      getEnvInt("MIN_FREE_DISK_MB", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:        getEnv("AWS_ARCHIVE_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the recorder cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Recording.OutputPath == "" {
		errs = append(errs, errors.New(EnvPrefix+"OUTPUT_PATH must not be empty"))
	}
	if c.Recording.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("%sMAX_CONCURRENT_RECORDINGS must be >= 1, got %d", EnvPrefix, c.Recording.MaxConcurrent))
	}
	if c.Recording.SegmentDuration < 1 {
		errs = append(errs, fmt.Errorf("%sSEGMENT_DURATION must be >= 1, got %d", EnvPrefix, c.Recording.SegmentDuration))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%sPORT out of range: %d", EnvPrefix, c.Server.Port))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
