package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/bmcmon/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultPollInterval      = 300
	defaultStalenessInterval = 300
	defaultCommandTimeout    = 30
	defaultNotifyTimeout     = 10
	defaultDatabase          = "/var/lib/bmcmon/bmcmon.db"
	defaultListenAddress     = ":9182"
)

type Config struct {
	// PollInterval is the fallback poll interval in seconds for entities
	// without one of their own.
	PollInterval int `mapstructure:"poll_interval"`

	// StalenessInterval is how often the offline sweep runs, in seconds.
	StalenessInterval int `mapstructure:"staleness_interval"`

	// CommandTimeout bounds a single ipmitool invocation, in seconds.
	CommandTimeout int `mapstructure:"command_timeout"`

	// NotifyTimeout bounds a single notification delivery, in seconds.
	NotifyTimeout int `mapstructure:"notify_timeout"`

	Database      string `mapstructure:"database"`
	SecretKey     string `mapstructure:"secret_key"`
	ListenAddress string `mapstructure:"listen_address"`
	LogLevel      string `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	flags := pflag.NewFlagSet("bmcmon", pflag.ContinueOnError)
	flags.Int("poll-interval", defaultPollInterval, "Default poll interval in seconds")
	flags.Int("staleness-interval", defaultStalenessInterval, "Offline sweep interval in seconds")
	flags.Int("command-timeout", defaultCommandTimeout, "ipmitool command timeout in seconds")
	flags.Int("notify-timeout", defaultNotifyTimeout, "Notification delivery timeout in seconds")
	flags.String("database", defaultDatabase, "Path to the SQLite database")
	flags.String("listen-address", defaultListenAddress, "Listen address for the metrics endpoint")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetDefault("poll_interval", defaultPollInterval)
	v.SetDefault("staleness_interval", defaultStalenessInterval)
	v.SetDefault("command_timeout", defaultCommandTimeout)
	v.SetDefault("notify_timeout", defaultNotifyTimeout)
	v.SetDefault("database", defaultDatabase)
	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetEnvPrefix("BMCMON")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("BMCMON_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bmcmon")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file").WithData(err.Error())
		}
	}

	// Flags set on the command line win over file and environment values.
	flags.Visit(func(f *pflag.Flag) {
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.PollInterval <= 0 || c.StalenessInterval <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "intervals must be positive")
	}
	if c.CommandTimeout <= 0 || c.NotifyTimeout <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "timeouts must be positive")
	}
	if c.Database == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "database path is required")
	}

	return nil
}
