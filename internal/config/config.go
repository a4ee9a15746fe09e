// Package config loads rebootguard configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/rebootguard/internal/attach"
	"github.com/HerbHall/rebootguard/internal/executor"
	"github.com/HerbHall/rebootguard/internal/logging"
)

// EnvPrefix prefixes environment overrides, e.g. REBOOTGUARD_EXECUTOR_MAX_POLLS.
const EnvPrefix = "REBOOTGUARD"

// Config is the root configuration.
type Config struct {
	Host        HostConfig         `mapstructure:"host"`
	Executor    executor.Config    `mapstructure:"executor"`
	Logging     logging.Config     `mapstructure:"logging"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
	Attachments []AttachmentConfig `mapstructure:"attachments"`
}

// HostConfig describes the host process.
type HostConfig struct {
	// Version is the host version used to filter attachment points. The
	// simulated host reports it as its own version.
	Version string `mapstructure:"version"`
}

// MetricsConfig configures the status and metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// AttachmentConfig is one attachment point as written in the config file.
type AttachmentConfig struct {
	Chain          string    `mapstructure:"chain"`
	Location       string    `mapstructure:"location"`
	Priority       int       `mapstructure:"priority"`
	Signature      []string  `mapstructure:"signature"`
	MinHostVersion string    `mapstructure:"min_host_version"`
	MaxHostVersion string    `mapstructure:"max_host_version"`
	Reboot         ArgConfig `mapstructure:"reboot"`
	Reason         ArgConfig `mapstructure:"reason"`
	Confirm        ArgConfig `mapstructure:"confirm"`
}

// ArgConfig locates a request attribute: either an argument index or a
// constant value, optionally compared against Equals.
type ArgConfig struct {
	Index  *int `mapstructure:"index"`
	Value  any  `mapstructure:"value"`
	Equals any  `mapstructure:"equals"`
}

func (a ArgConfig) ref() attach.ArgRef {
	if a.Index != nil {
		return attach.ArgRef{Index: *a.Index, Match: a.Equals}
	}
	return attach.ArgRef{Index: attach.NoArg, Const: a.Value, Match: a.Equals}
}

// Point converts the entry into an attachment point.
func (a AttachmentConfig) Point() attach.Point {
	return attach.Point{
		Chain:          a.Chain,
		Location:       a.Location,
		Priority:       a.Priority,
		Signature:      attach.Signature(a.Signature),
		MinHostVersion: a.MinHostVersion,
		MaxHostVersion: a.MaxHostVersion,
		Extractor: attach.ArgMap{
			Reboot:  a.Reboot.ref(),
			Reason:  a.Reason.ref(),
			Confirm: a.Confirm.ref(),
		},
	}
}

// Points returns the configured attachment points, or the built-in
// layout when none are configured.
func (c *Config) Points() []attach.Point {
	if len(c.Attachments) == 0 {
		return attach.Defaults()
	}
	out := make([]attach.Point, 0, len(c.Attachments))
	for _, a := range c.Attachments {
		out = append(out, a.Point())
	}
	return out
}

// Validate checks the executor settings and the attachment table.
func (c *Config) Validate() error {
	if err := c.Executor.Validate(); err != nil {
		return err
	}
	if _, err := attach.NewRegistry(c.Points()...); err != nil {
		return fmt.Errorf("attachments: %w", err)
	}
	return nil
}

// Load reads configuration from path, or from rebootguard.yaml in the
// usual locations when path is empty. A missing default file is not an
// error; environment variables and defaults still apply.
func Load(path string) (*Config, error) {
	_, cfg, err := load(path)
	return cfg, err
}

// Watch loads configuration like Load and then calls onChange with every
// valid revision of the file. Invalid revisions are logged and skipped.
// Without a config file there is nothing to watch.
func Watch(path string, logger *zap.Logger, onChange func(*Config)) (*Config, error) {
	v, cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(ev fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			logger.Warn("config change rejected", zap.String("file", ev.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}

func load(path string) (*viper.Viper, *Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rebootguard")
		v.AddConfigPath(".")
		v.AddConfigPath("/data/adb/rebootguard")
		v.AddConfigPath("/etc/rebootguard")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults registers every default with v, so environment overrides
// work for keys absent from the file.
func SetDefaults(v *viper.Viper) {
	ex := executor.DefaultConfig()
	v.SetDefault("executor.action", string(ex.Action))
	v.SetDefault("executor.program", ex.Program)
	v.SetDefault("executor.argument", ex.Argument)
	v.SetDefault("executor.grace_period", ex.GracePeriod)
	v.SetDefault("executor.poll_interval", ex.PollInterval)
	v.SetDefault("executor.max_polls", ex.MaxPolls)
	v.SetDefault("executor.mount", string(ex.Mount))
	v.SetDefault("executor.shell", ex.Shell)
	v.SetDefault("executor.shell_mount_flag", ex.ShellMountFlag)
	v.SetDefault("executor.restart_pause", ex.RestartPause)
	v.SetDefault("executor.probe_paths", ex.ProbePaths)

	lg := logging.DefaultConfig()
	v.SetDefault("logging.level", lg.Level)
	v.SetDefault("logging.output", lg.Output)
	v.SetDefault("logging.diagnostic_level", lg.DiagnosticLevel)
	v.SetDefault("logging.diagnostic_output", lg.DiagnosticOutput)

	v.SetDefault("host.version", "")
	v.SetDefault("metrics.addr", "")
}
