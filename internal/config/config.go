// Package config provides configuration management for the vidsync server.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8790
	DefaultLogLevel = "info"
	DefaultWorkDir  = ".vidsync"

	// Environment variable names
	EnvPort     = "VIDSYNC_PORT"
	EnvLogLevel = "VIDSYNC_LOG_LEVEL"
	EnvWorkDir  = "VIDSYNC_WORK_DIR"

	EnvFFmpegPath  = "VIDSYNC_FFMPEG_PATH"
	EnvFFprobePath = "VIDSYNC_FFPROBE_PATH"

	EnvQueueConcurrency = "VIDSYNC_QUEUE_CONCURRENCY"

	EnvResynthBaseURL   = "VIDSYNC_RESYNTH_BASE_URL"
	EnvResynthAccessKey = "VIDSYNC_RESYNTH_ACCESS_KEY"
	EnvResynthSecretKey = "VIDSYNC_RESYNTH_SECRET_KEY"

	EnvPublicBaseURL = "VIDSYNC_PUBLIC_BASE_URL"

	// Database filename
	DBFilename = "vidsync.db"

	// Queue defaults
	DefaultQueueConcurrency = 4

	// Remote task polling defaults
	DefaultPollIntervalSubmitted  = 2 * time.Second
	DefaultPollIntervalProcessing = 6 * time.Second

	// Remote task timeout budget: floor + multiplier per second of source video
	DefaultTaskTimeoutFloor     = 2 * time.Minute
	DefaultTaskTimeoutPerSecond = 10 * time.Second

	// Lifecycle defaults
	DefaultSessionIdleTimeout = 2 * time.Hour
	DefaultExportGracePeriod  = 5 * time.Minute
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	WorkDir() string
	DBPath() string
	ClipsDir() string
	ExportsDir() string

	FFmpegPath() string
	FFprobePath() string

	QueueConcurrency() int

	ResynthBaseURL() string
	ResynthAccessKey() string
	ResynthSecretKey() string
	PollIntervalSubmitted() time.Duration
	PollIntervalProcessing() time.Duration
	TaskTimeoutFloor() time.Duration
	TaskTimeoutPerSecond() time.Duration

	PublicBaseURL() string
	SessionIdleTimeout() time.Duration
	ExportGracePeriod() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port             int
	logLevel         string
	workDir          string
	ffmpegPath       string
	ffprobePath      string
	queueConcurrency int

	resynthBaseURL   string
	resynthAccessKey string
	resynthSecretKey string

	publicBaseURL string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		workDir:          defaultWorkDir(),
		ffmpegPath:       "ffmpeg",
		ffprobePath:      "ffprobe",
		queueConcurrency: DefaultQueueConcurrency,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if wd := os.Getenv(EnvWorkDir); wd != "" {
		cfg.workDir = wd
	}

	if fp := os.Getenv(EnvFFmpegPath); fp != "" {
		cfg.ffmpegPath = fp
	}
	if fp := os.Getenv(EnvFFprobePath); fp != "" {
		cfg.ffprobePath = fp
	}

	if qc := os.Getenv(EnvQueueConcurrency); qc != "" {
		n, err := strconv.Atoi(qc)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvQueueConcurrency, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("invalid %s: concurrency must be at least 1", EnvQueueConcurrency)
		}
		cfg.queueConcurrency = n
	}

	cfg.resynthBaseURL = os.Getenv(EnvResynthBaseURL)
	cfg.resynthAccessKey = os.Getenv(EnvResynthAccessKey)
	cfg.resynthSecretKey = os.Getenv(EnvResynthSecretKey)
	cfg.publicBaseURL = os.Getenv(EnvPublicBaseURL)

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// WorkDir returns the working directory for clips, exports and the database
func (c *EnvConfig) WorkDir() string {
	return c.workDir
}

// DBPath returns the full path to the SQLite history database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.workDir, DBFilename)
}

// ClipsDir returns the directory holding per-segment extracted and
// transformed clips
func (c *EnvConfig) ClipsDir() string {
	return filepath.Join(c.workDir, "clips")
}

// ExportsDir returns the directory holding export output files
func (c *EnvConfig) ExportsDir() string {
	return filepath.Join(c.workDir, "exports")
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) QueueConcurrency() int {
	return c.queueConcurrency
}

func (c *EnvConfig) ResynthBaseURL() string {
	return c.resynthBaseURL
}

func (c *EnvConfig) ResynthAccessKey() string {
	return c.resynthAccessKey
}

func (c *EnvConfig) ResynthSecretKey() string {
	return c.resynthSecretKey
}

func (c *EnvConfig) PollIntervalSubmitted() time.Duration {
	return DefaultPollIntervalSubmitted
}

func (c *EnvConfig) PollIntervalProcessing() time.Duration {
	return DefaultPollIntervalProcessing
}

func (c *EnvConfig) TaskTimeoutFloor() time.Duration {
	return DefaultTaskTimeoutFloor
}

func (c *EnvConfig) TaskTimeoutPerSecond() time.Duration {
	return DefaultTaskTimeoutPerSecond
}

func (c *EnvConfig) PublicBaseURL() string {
	return c.publicBaseURL
}

func (c *EnvConfig) SessionIdleTimeout() time.Duration {
	return DefaultSessionIdleTimeout
}

func (c *EnvConfig) ExportGracePeriod() time.Duration {
	return DefaultExportGracePeriod
}

// defaultWorkDir returns the default working directory path
func defaultWorkDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultWorkDir
	}
	return filepath.Join(home, DefaultWorkDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
