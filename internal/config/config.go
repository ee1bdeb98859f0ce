package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envChannel         = "SMSO_CHANNEL"
	envInstanceID      = "SMSO_INSTANCE_ID"
	envRegion          = "SMSO_REGION"
	envRegistry        = "SMSO_REGISTRY"
	envDeployLog       = "SMSO_DEPLOY_LOG"
	envHealthSummary   = "SMSO_HEALTH_SUMMARY"
	envRemoteLogDir    = "SMSO_REMOTE_LOG_DIR"
	envPollInterval    = "SMSO_POLL_INTERVAL"
	envPollAttempts    = "SMSO_POLL_ATTEMPTS"
	envCommandTimeout  = "SMSO_COMMAND_TIMEOUT"
	envGracePeriod     = "SMSO_GRACE_PERIOD"
	envProbeTimeout    = "SMSO_PROBE_TIMEOUT"
	envMonitorInterval = "SMSO_MONITOR_INTERVAL"
	envLeaseTimeout    = "SMSO_LEASE_TIMEOUT"
	envLockDir         = "SMSO_LOCK_DIR"
	envHealthPort      = "SMSO_HEALTH_PORT"
	envMetricsPort     = "SMSO_METRICS_PORT"
	envAPIPort         = "SMSO_API_PORT"
	envAPICORSOrigins  = "SMSO_API_CORS_ORIGINS"
	envSlackWebhookURL = "SMSO_SLACK_WEBHOOK_URL"
	envWebhookURL      = "SMSO_WEBHOOK_URL"
	envWebhookTemplate = "SMSO_WEBHOOK_TEMPLATE"
	envNotifyDryRun    = "SMSO_NOTIFY_DRY_RUN"
	envLogLevel        = "SMSO_LOG_LEVEL"
	envUseSudo         = "SMSO_USE_SUDO"
)

// Channel backends.
const (
	ChannelSSM   = "ssm"
	ChannelLocal = "local"
)

const (
	defaultRegistry        = "services.json"
	defaultDeployLog       = "deploy_status.json"
	defaultHealthSummary   = "health_summary.json"
	defaultRemoteLogDir    = "/home/ubuntu/smso_logs"
	defaultPollInterval    = 2 * time.Second
	defaultPollAttempts    = 30
	defaultCommandTimeout  = 60 * time.Second
	defaultGracePeriod     = 5 * time.Second
	defaultProbeTimeout    = 5 * time.Second
	defaultMonitorInterval = 5 * time.Minute
	defaultLeaseTimeout    = 10 * time.Minute
	defaultLogLevel        = "info"
)

// Config describes runtime configuration loaded from the environment.
// It carries the target identity explicitly; nothing in the module reads it from globals.
type Config struct {
	Channel         string
	InstanceID      string
	Region          string
	Registry        string
	DeployLog       string
	HealthSummary   string
	RemoteLogDir    string
	PollInterval    time.Duration
	PollAttempts    int
	CommandTimeout  time.Duration
	GracePeriod     time.Duration
	ProbeTimeout    time.Duration
	MonitorInterval time.Duration
	LeaseTimeout    time.Duration
	// LockDir holds per-service lock files shared by every smso process on this host.
	LockDir         string
	HealthPort      int
	MetricsPort     int
	APIPort         int
	APICORSOrigins  []string
	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	NotifyDryRun    bool
	LogLevel        string
	UseSudo         bool
}

// Default returns the configuration used when no environment overrides are present.
func Default() Config {
	return Config{
		Channel:         ChannelSSM,
		Registry:        defaultRegistry,
		DeployLog:       defaultDeployLog,
		HealthSummary:   defaultHealthSummary,
		RemoteLogDir:    defaultRemoteLogDir,
		PollInterval:    defaultPollInterval,
		PollAttempts:    defaultPollAttempts,
		CommandTimeout:  defaultCommandTimeout,
		GracePeriod:     defaultGracePeriod,
		ProbeTimeout:    defaultProbeTimeout,
		MonitorInterval: defaultMonitorInterval,
		LeaseTimeout:    defaultLeaseTimeout,
		LockDir:         filepath.Join(os.TempDir(), "smso", "locks"),
		LogLevel:        defaultLogLevel,
		UseSudo:         true,
	}
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	return LoadWithOverrides(nil)
}

// LoadWithOverrides is Load with a hook that adjusts the values before validation.
func LoadWithOverrides(override func(*Config)) (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Default()

	if value, ok := lookupTrimmed(envChannel); ok && value != "" {
		cfg.Channel = strings.ToLower(value)
	}
	stringValues := map[string]*string{
		envInstanceID:      &cfg.InstanceID,
		envRegion:          &cfg.Region,
		envRegistry:        &cfg.Registry,
		envDeployLog:       &cfg.DeployLog,
		envHealthSummary:   &cfg.HealthSummary,
		envRemoteLogDir:    &cfg.RemoteLogDir,
		envLockDir:         &cfg.LockDir,
		envSlackWebhookURL: &cfg.SlackWebhookURL,
		envWebhookURL:      &cfg.WebhookURL,
		envWebhookTemplate: &cfg.WebhookTemplate,
		envLogLevel:        &cfg.LogLevel,
	}
	for key, target := range stringValues {
		if value, ok := lookupTrimmed(key); ok && value != "" {
			*target = value
		}
	}

	durations := map[string]*time.Duration{
		envPollInterval:    &cfg.PollInterval,
		envCommandTimeout:  &cfg.CommandTimeout,
		envGracePeriod:     &cfg.GracePeriod,
		envProbeTimeout:    &cfg.ProbeTimeout,
		envMonitorInterval: &cfg.MonitorInterval,
		envLeaseTimeout:    &cfg.LeaseTimeout,
	}
	for key, target := range durations {
		if err := parsePositiveDuration(key, target); err != nil {
			return Config{}, err
		}
	}

	if value, ok := lookupTrimmed(envPollAttempts); ok {
		attempts, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envPollAttempts, err)
		}
		if attempts <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envPollAttempts)
		}
		cfg.PollAttempts = attempts
	}

	ports := map[string]*int{
		envHealthPort:  &cfg.HealthPort,
		envMetricsPort: &cfg.MetricsPort,
		envAPIPort:     &cfg.APIPort,
	}
	for key, target := range ports {
		if err := parsePort(key, target); err != nil {
			return Config{}, err
		}
	}

	if value, ok := lookupTrimmed(envAPICORSOrigins); ok && value != "" {
		for _, origin := range strings.Split(value, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.APICORSOrigins = append(cfg.APICORSOrigins, origin)
			}
		}
	}

	bools := map[string]*bool{
		envNotifyDryRun: &cfg.NotifyDryRun,
		envUseSudo:      &cfg.UseSudo,
	}
	for key, target := range bools {
		if value, ok := lookupTrimmed(key); ok && value != "" {
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", key, err)
			}
			*target = parsed
		}
	}

	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Channel {
	case ChannelSSM:
		if c.InstanceID == "" {
			return errors.New("SMSO_INSTANCE_ID is required for the ssm channel")
		}
	case ChannelLocal:
	default:
		return fmt.Errorf("invalid %s: %q (want %s or %s)", envChannel, c.Channel, ChannelSSM, ChannelLocal)
	}

	if c.Registry == "" {
		return errors.New("SMSO_REGISTRY must not be empty")
	}
	if IsRemoteRegistry(c.Registry) {
		if err := validateURL(c.Registry, envRegistry); err != nil {
			return err
		}
	}

	if c.SlackWebhookURL != "" {
		if err := validateURL(c.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return err
		}
	}
	if c.WebhookURL != "" {
		if err := validateURL(c.WebhookURL, envWebhookURL); err != nil {
			return err
		}
	}
	return nil
}

// IsRemoteRegistry reports whether the registry location is fetched over HTTP.
func IsRemoteRegistry(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func parsePositiveDuration(key string, target *time.Duration) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("%s must be greater than zero", key)
	}
	*target = parsed
	return nil
}

func parsePort(key string, target *int) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be between 0 and 65535", key)
	}
	*target = port
	return nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
