package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Processor   ProcessorConfig   `mapstructure:"processor"`
	Environment EnvironmentConfig `mapstructure:"environment"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Learner     LearnerConfig     `mapstructure:"learner"`
	Stats       StatsConfig       `mapstructure:"stats"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ProcessorConfig holds trajectory assembly settings
type ProcessorConfig struct {
	BehaviorID          string `mapstructure:"behavior_id"`
	MaxTrajectoryLength int    `mapstructure:"max_trajectory_length"`
}

// EnvironmentConfig holds settings for the simulated multi-agent environment
type EnvironmentConfig struct {
	NumAgents    int   `mapstructure:"num_agents"`
	MaxSteps     int   `mapstructure:"max_steps"`
	JoinInterval int   `mapstructure:"join_interval"`
	Seed         int64 `mapstructure:"seed"`
	Ticks        int   `mapstructure:"ticks"`
}

// PolicyConfig holds policy settings
type PolicyConfig struct {
	LearningRate float64 `mapstructure:"learning_rate"`
	Seed         int64   `mapstructure:"seed"`
}

// LearnerConfig holds settings for the trajectory consumer
type LearnerConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PolicyUpdateEvery int           `mapstructure:"policy_update_every"`
	StepSize          float64       `mapstructure:"step_size"`
}

// StatsConfig holds stats reporting settings
type StatsConfig struct {
	SummaryFreq int    `mapstructure:"summary_freq"`
	LogLevel    string `mapstructure:"log_level"`
}

// MonitoringConfig holds queue monitoring settings
type MonitoringConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	AlertThreshold int           `mapstructure:"alert_threshold"`
	AlertCooldown  time.Duration `mapstructure:"alert_cooldown"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var (
	// Global config instance
	cfg *Config
	v   *viper.Viper
)

// setViperDefaults sets all default values using Viper's SetDefault
func setViperDefaults(v *viper.Viper) {
	// Processor defaults
	v.SetDefault("processor.behavior_id", "cartpole")
	v.SetDefault("processor.max_trajectory_length", 64)

	// Environment defaults
	v.SetDefault("environment.num_agents", 8)
	v.SetDefault("environment.max_steps", 200)
	v.SetDefault("environment.join_interval", 5)
	v.SetDefault("environment.seed", 1)
	v.SetDefault("environment.ticks", 5000)

	// Policy defaults
	v.SetDefault("policy.learning_rate", 3e-4)
	v.SetDefault("policy.seed", 2)

	// Learner defaults
	v.SetDefault("learner.poll_interval", "5ms")
	v.SetDefault("learner.policy_update_every", 32)
	v.SetDefault("learner.step_size", 0.01)

	// Stats defaults
	v.SetDefault("stats.summary_freq", 1000)
	v.SetDefault("stats.log_level", "info")

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.check_interval", "1s")
	v.SetDefault("monitoring.alert_threshold", 1000)
	v.SetDefault("monitoring.alert_cooldown", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Init initializes the configuration
func Init(configPath string) error {
	v = viper.New()

	// Set defaults before loading any config
	setViperDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/agentprocessor")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("APR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file falls back to defaults; anything else is fatal
		if !isConfigNotFound(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// isConfigNotFound covers both viper's search-path miss and an explicit
// SetConfigFile path that does not exist
func isConfigNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		// Initialize with defaults if not already initialized
		if err := Init(""); err != nil {
			panic("failed to initialize config with defaults: " + err.Error())
		}
	}
	return cfg
}

// LoadEnvironmentConfig loads environment-specific config overlay
func LoadEnvironmentConfig(env string) error {
	if env == "" {
		return nil
	}

	envFile := fmt.Sprintf("config.%s.yaml", env)

	v.SetConfigFile(envFile)
	if err := v.MergeInConfig(); err != nil {
		if !isConfigNotFound(err) {
			return fmt.Errorf("error merging environment config %s: %w", envFile, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to decode merged config into struct: %w", err)
	}

	return Validate(cfg)
}

// Set allows runtime config updates
func Set(key string, value interface{}) {
	v.Set(key, value)
	// Re-unmarshal to update struct
	_ = v.Unmarshal(cfg)
}

// GetString gets a string value from config
func GetString(key string) string {
	return v.GetString(key)
}

// GetInt gets an int value from config
func GetInt(key string) int {
	return v.GetInt(key)
}

// ConfigFilePath returns the path of the loaded config file
func ConfigFilePath() string {
	return v.ConfigFileUsed()
}

// WatchConfig enables hot-reloading of config file
func WatchConfig(onChange func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := &Config{}
		if err := v.Unmarshal(updated); err != nil {
			return
		}
		// Reject invalid edits and keep the last good config
		if err := Validate(updated); err != nil {
			return
		}
		*cfg = *updated
		if onChange != nil {
			onChange(cfg)
		}
	})
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate validates the configuration values
func Validate(c *Config) error {
	if c.Processor.BehaviorID == "" {
		return fmt.Errorf("processor.behavior_id must not be empty")
	}
	if c.Processor.MaxTrajectoryLength <= 0 {
		return fmt.Errorf("processor.max_trajectory_length must be positive")
	}

	if c.Environment.NumAgents <= 0 {
		return fmt.Errorf("environment.num_agents must be positive")
	}
	if c.Environment.MaxSteps < 0 {
		return fmt.Errorf("environment.max_steps must be non-negative")
	}
	if c.Environment.JoinInterval < 0 {
		return fmt.Errorf("environment.join_interval must be non-negative")
	}
	if c.Environment.Ticks <= 0 {
		return fmt.Errorf("environment.ticks must be positive")
	}

	if c.Policy.LearningRate < 0 {
		return fmt.Errorf("policy.learning_rate must be non-negative")
	}

	if c.Learner.PollInterval <= 0 {
		return fmt.Errorf("learner.poll_interval must be positive")
	}
	if c.Learner.PolicyUpdateEvery <= 0 {
		return fmt.Errorf("learner.policy_update_every must be positive")
	}

	if c.Stats.SummaryFreq <= 0 {
		return fmt.Errorf("stats.summary_freq must be positive")
	}
	if !validLogLevels[c.Stats.LogLevel] {
		return fmt.Errorf("stats.log_level must be one of debug, info, warn, error")
	}

	if c.Monitoring.Enabled {
		if c.Monitoring.CheckInterval <= 0 {
			return fmt.Errorf("monitoring.check_interval must be positive")
		}
		if c.Monitoring.AlertThreshold <= 0 {
			return fmt.Errorf("monitoring.alert_threshold must be positive")
		}
		if c.Monitoring.AlertCooldown < 0 {
			return fmt.Errorf("monitoring.alert_cooldown must be non-negative")
		}
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be console or json")
	}

	return nil
}
