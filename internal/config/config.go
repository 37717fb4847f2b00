package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"syncwarden/internal/core"
)

const envPrefix = "SYNCWARDEN_"

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
	Mode      string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string
	Format    string
	Retention int
}

// AppConfig identifies a monitored desktop application.
type AppConfig struct {
	Name  string
	Paths []string
	Args  []string
}

// SyncConfig identifies the sync client and optional command overrides.
type SyncConfig struct {
	AppConfig
	PauseCommand  string
	ResumeCommand string
	StatusCommand string
}

// WorkflowConfig holds schedule and timing bounds of the sync cycle.
type WorkflowConfig struct {
	Schedules       []string
	Cooldown        time.Duration
	PauseTimeout    time.Duration
	ResumeTimeout   time.Duration
	GracefulTimeout time.Duration
	ForceTimeout    time.Duration
	SettleMinimum   time.Duration
	SettleTimeout   time.Duration
	SettlePoll      time.Duration
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Chat         AppConfig
	Sync         SyncConfig
	Workflow     WorkflowConfig
	Notification NotificationConfig

	StateDir      string
	UseUTC        bool
	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "127.0.0.1:7171"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultRetention     = 50
	defaultShutdownGrace = 5 * time.Second
	defaultSchedule      = "daily@05:00"
	defaultSettleMinimum = 5 * time.Minute
	settleTimeoutSlack   = 100 * time.Second
)

// Modes accepted by Server.Mode.
const (
	ModeHTTP = "http"
	ModeMCP  = "mcp"
	ModeBoth = "both"
)

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a path-list separated value (';' on Windows, ':' elsewhere).
func getEnvList(key string, defaultVal []string) []string {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		return filepath.SplitList(val)
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs is Parse with explicit arguments.
func ParseArgs(args []string) (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "syncwarden", ".env"))
	}
	for _, file := range envFiles {
		// Missing files are fine; godotenv never overrides variables already set.
		_ = godotenv.Load(file)
	}

	settleMinimum := getEnvDuration("SETTLE_MINIMUM", defaultSettleMinimum)
	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("ADDR", defaultAddr),
			AuthToken: getEnvString("AUTH_TOKEN", ""),
			Mode:      getEnvString("MODE", ModeHTTP),
		},
		Log: LogConfig{
			Level:     getEnvString("LOG_LEVEL", defaultLogLevel),
			Format:    getEnvString("LOG_FORMAT", defaultLogFormat),
			Retention: getEnvInt("LOG_RETENTION", defaultRetention),
		},
		Chat: AppConfig{
			Name:  getEnvString("CHAT_NAME", "Weixin.exe"),
			Paths: getEnvList("CHAT_PATHS", defaultChatPaths()),
			Args:  strings.Fields(getEnvString("CHAT_ARGS", "")),
		},
		Sync: SyncConfig{
			AppConfig: AppConfig{
				Name:  getEnvString("SYNC_NAME", "OneDrive.exe"),
				Paths: getEnvList("SYNC_PATHS", defaultSyncPaths()),
				Args:  strings.Fields(getEnvString("SYNC_ARGS", "/background")),
			},
			PauseCommand:  getEnvString("SYNC_PAUSE_CMD", ""),
			ResumeCommand: getEnvString("SYNC_RESUME_CMD", ""),
			StatusCommand: getEnvString("SYNC_STATUS_CMD", ""),
		},
		Workflow: WorkflowConfig{
			Schedules:       splitSchedules(getEnvString("SCHEDULES", defaultSchedule)),
			Cooldown:        getEnvDuration("COOLDOWN", 60*time.Minute),
			PauseTimeout:    getEnvDuration("PAUSE_TIMEOUT", 60*time.Second),
			ResumeTimeout:   getEnvDuration("RESUME_TIMEOUT", 60*time.Second),
			GracefulTimeout: getEnvDuration("GRACEFUL_TIMEOUT", 3*time.Second),
			ForceTimeout:    getEnvDuration("FORCE_TIMEOUT", 5*time.Second),
			SettleMinimum:   settleMinimum,
			SettleTimeout:   getEnvDuration("SETTLE_TIMEOUT", 0),
			SettlePoll:      getEnvDuration("SETTLE_POLL", 10*time.Second),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("BARK_URL", ""),
				Enabled: getEnvBool("BARK_ENABLED", false),
			},
		},
		StateDir:      getEnvString("STATE_DIR", ""),
		UseUTC:        getEnvBool("USE_UTC", false),
		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	fs := flag.NewFlagSet("syncwardend", flag.ContinueOnError)
	var (
		addr, logLevel, logFormat, mode, stateDir, schedules string
		retention                                            int
		useUTC                                               bool
		shutdownGrace, cooldown, settleMin                   time.Duration
	)
	fs.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	fs.StringVar(&mode, "mode", "", "Serve mode: http, mcp or both")
	fs.StringVar(&stateDir, "state-dir", "", "Directory to store the ledger database")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	fs.StringVar(&schedules, "schedules", "", "Semicolon-separated trigger specs, e.g. daily@05:00;every@6h")
	fs.BoolVar(&useUTC, "use-utc", false, "Evaluate triggers in UTC instead of system local time")
	fs.IntVar(&retention, "log-retention", 0, "Number of recent runs to retain per task")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	fs.DurationVar(&cooldown, "cooldown", 0, "Minimum spacing between workflow runs")
	fs.DurationVar(&settleMin, "settle-minimum", 0, "Unconditional wait before polling sync state")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if mode != "" {
		cfg.Server.Mode = mode
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if retention > 0 {
		cfg.Log.Retention = retention
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if schedules != "" {
		cfg.Workflow.Schedules = splitSchedules(schedules)
	}
	// Zero is a meaningful value for these, so only explicitly set flags apply.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.UseUTC = useUTC
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		case "cooldown":
			cfg.Workflow.Cooldown = cooldown
		case "settle-minimum":
			cfg.Workflow.SettleMinimum = settleMin
		}
	})

	if cfg.Workflow.SettleTimeout <= 0 {
		cfg.Workflow.SettleTimeout = cfg.Workflow.SettleMinimum + settleTimeoutSlack
	}
	if cfg.Log.Retention < 1 {
		cfg.Log.Retention = defaultRetention
	}
	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Mode {
	case ModeHTTP, ModeMCP, ModeBoth:
	default:
		errs = append(errs, fmt.Errorf("mode must be http, mcp or both, got %q", c.Server.Mode))
	}
	if len(c.Workflow.Schedules) == 0 {
		errs = append(errs, errors.New("at least one schedule is required"))
	}
	for _, spec := range c.Workflow.Schedules {
		if _, err := core.ParseTrigger(spec); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", spec, err))
		}
	}
	durations := map[string]time.Duration{
		"cooldown":         c.Workflow.Cooldown,
		"settle minimum":   c.Workflow.SettleMinimum,
		"pause timeout":    c.Workflow.PauseTimeout,
		"resume timeout":   c.Workflow.ResumeTimeout,
		"graceful timeout": c.Workflow.GracefulTimeout,
		"force timeout":    c.Workflow.ForceTimeout,
		"settle poll":      c.Workflow.SettlePoll,
	}
	for name, d := range durations {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Chat.Name == "" || c.Sync.Name == "" {
		errs = append(errs, errors.New("chat and sync executable names are required"))
	}
	if c.Notification.Bark.Enabled && c.Notification.Bark.URL == "" {
		errs = append(errs, errors.New("bark is enabled but no url is set"))
	}
	return errors.Join(errs...)
}

// Location returns the time zone triggers are evaluated in.
func (c *Config) Location() *time.Location {
	if c.UseUTC {
		return time.UTC
	}
	return time.Local
}

func splitSchedules(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultChatPaths() []string {
	if runtime.GOOS != "windows" {
		return nil
	}
	return []string{
		`$ProgramFiles\Tencent\Weixin\Weixin.exe`,
		`${ProgramFiles(x86)}\Tencent\Weixin\Weixin.exe`,
		`$APPDATA\Tencent\Weixin\Weixin.exe`,
		`$LOCALAPPDATA\Tencent\Weixin\Weixin.exe`,
		`D:\Program Files\Tencent\Weixin\Weixin.exe`,
	}
}

func defaultSyncPaths() []string {
	if runtime.GOOS != "windows" {
		return nil
	}
	return []string{
		`$LOCALAPPDATA\Microsoft\OneDrive\OneDrive.exe`,
		`$ProgramFiles\Microsoft OneDrive\OneDrive.exe`,
		`${ProgramFiles(x86)}\Microsoft OneDrive\OneDrive.exe`,
	}
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "syncwarden")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
