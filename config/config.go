package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	AdminAddress    string        `mapstructure:"admin_address"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PoolConfig struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Release string `mapstructure:"release"`
}

type PoolsConfig struct {
	Primary PoolConfig `mapstructure:"primary"`
	Backup  PoolConfig `mapstructure:"backup"`
	// Active names the pool that takes the primary role. Empty keeps the
	// configured order.
	Active string `mapstructure:"active"`
}

// Ordered returns the pair with the active pool first.
func (p PoolsConfig) Ordered() (primary, backup PoolConfig) {
	if p.Active != "" && strings.EqualFold(p.Active, p.Backup.Name) {
		return p.Backup, p.Primary
	}
	return p.Primary, p.Backup
}

type HealthCheckConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Path             string        `mapstructure:"path"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

type ProxyConfig struct {
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ResponseTimeout    time.Duration `mapstructure:"response_timeout"`
	RetryBudget        int           `mapstructure:"retry_budget"`
	RetryableStatuses  []int         `mapstructure:"retryable_statuses"`
	PassiveMaxFails    int           `mapstructure:"passive_max_fails"`
	PassiveFailTimeout time.Duration `mapstructure:"passive_fail_timeout"`
}

type OutcomeLogConfig struct {
	Path string `mapstructure:"path"`
}

type WatcherConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StartAtEnd   bool          `mapstructure:"start_at_end"`
	WindowSize   int           `mapstructure:"window_size"`
	MinSamples   int           `mapstructure:"min_samples"`
	// ErrorRateThreshold and ClearThreshold are percentages.
	ErrorRateThreshold  float64       `mapstructure:"error_rate_threshold"`
	ClearThreshold      float64       `mapstructure:"clear_threshold"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	ClearSamples        int           `mapstructure:"clear_samples"`
	CountMaskedFailures bool          `mapstructure:"count_masked_failures"`
	AlertCooldown       time.Duration `mapstructure:"alert_cooldown"`
	SlackWebhookURL     string        `mapstructure:"slack_webhook_url"`
	WebhookTimeout      time.Duration `mapstructure:"webhook_timeout"`
}

// RaiseAbove returns the raise threshold as a ratio.
func (w WatcherConfig) RaiseAbove() float64 {
	return w.ErrorRateThreshold / 100
}

// ClearAtOrBelow returns the clear threshold as a ratio. Zero means the
// raise threshold applies.
func (w WatcherConfig) ClearAtOrBelow() float64 {
	return w.ClearThreshold / 100
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Pools       PoolsConfig       `mapstructure:"pools"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	OutcomeLog  OutcomeLogConfig  `mapstructure:"outcome_log"`
	Watcher     WatcherConfig     `mapstructure:"watcher"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// maxProbeTimeout is the longest health probe timeout accepted.
const maxProbeTimeout = 2 * time.Second

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.admin_address", ":9090")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("pools.primary.name", "blue")
	v.SetDefault("pools.primary.url", "http://localhost:8081")
	v.SetDefault("pools.primary.release", "")
	v.SetDefault("pools.backup.name", "green")
	v.SetDefault("pools.backup.url", "http://localhost:8082")
	v.SetDefault("pools.backup.release", "")
	v.SetDefault("pools.active", "")

	v.SetDefault("health_check.interval", "2s")
	v.SetDefault("health_check.timeout", "2s")
	v.SetDefault("health_check.path", "/healthz")
	v.SetDefault("health_check.failure_threshold", 1)

	v.SetDefault("proxy.connect_timeout", "2s")
	v.SetDefault("proxy.response_timeout", "3s")
	v.SetDefault("proxy.retry_budget", 1)
	v.SetDefault("proxy.retryable_statuses", []int{500, 502, 503, 504})
	v.SetDefault("proxy.passive_max_fails", 2)
	v.SetDefault("proxy.passive_fail_timeout", "5s")

	v.SetDefault("outcome_log.path", "logs/outcomes.log")

	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.poll_interval", "1s")
	v.SetDefault("watcher.start_at_end", true)
	v.SetDefault("watcher.window_size", 200)
	v.SetDefault("watcher.min_samples", 0)
	v.SetDefault("watcher.error_rate_threshold", 2.0)
	v.SetDefault("watcher.clear_threshold", 0.0)
	v.SetDefault("watcher.cooldown", "0s")
	v.SetDefault("watcher.clear_samples", 0)
	v.SetDefault("watcher.count_masked_failures", true)
	v.SetDefault("watcher.alert_cooldown", "300s")
	v.SetDefault("watcher.slack_webhook_url", "")
	v.SetDefault("watcher.webhook_timeout", "10s")

	v.SetDefault("logging.level", LogLevelInfo)
}

// bindLegacyEnv maps the variable names of the original deployment onto
// their keys. The structured names take precedence.
func bindLegacyEnv(v *viper.Viper) error {
	_ = v.BindEnv("pools.active", "POOLS_ACTIVE", "ACTIVE_POOL")
	_ = v.BindEnv("watcher.error_rate_threshold", "WATCHER_ERROR_RATE_THRESHOLD", "ERROR_RATE_THRESHOLD")
	_ = v.BindEnv("watcher.window_size", "WATCHER_WINDOW_SIZE", "WINDOW_SIZE")
	_ = v.BindEnv("watcher.slack_webhook_url", "WATCHER_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL")

	if raw, ok := os.LookupEnv("ALERT_COOLDOWN_SEC"); ok && os.Getenv("WATCHER_ALERT_COOLDOWN") == "" {
		seconds, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("ALERT_COOLDOWN_SEC: %w", err)
		}
		v.Set("watcher.alert_cooldown", time.Duration(seconds)*time.Second)
	}

	if port, ok := os.LookupEnv("PORT"); ok && os.Getenv("SERVER_ADDRESS") == "" {
		v.Set("server.address", ":"+strings.TrimSpace(port))
	}

	return nil
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := bindLegacyEnv(v); err != nil {
		slog.Error("invalid legacy environment variable", slog.String("error", err.Error()))
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.AdminAddress,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.ShutdownTimeout,
						validation.Required,
						validation.Min(time.Millisecond),
					),
				)
			}),
		),
		validation.Field(&c.Pools,
			validation.By(func(value interface{}) error {
				pc, ok := value.(PoolsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a PoolsConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Primary, validation.By(validatePoolConfig)),
					validation.Field(&pc.Backup, validation.By(validatePoolConfig)),
					validation.Field(&pc.Active,
						validation.By(func(value interface{}) error {
							active, _ := value.(string)
							if active == "" ||
								strings.EqualFold(active, pc.Primary.Name) ||
								strings.EqualFold(active, pc.Backup.Name) {
								return nil
							}
							return validation.NewError("validation_unknown_pool", "must name one of the configured pools")
						}),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&hc.Timeout, validation.Required, validation.Min(time.Millisecond), validation.Max(maxProbeTimeout)),
					validation.Field(&hc.Path,
						validation.Required,
						validation.By(func(value interface{}) error {
							path, _ := value.(string)
							if !strings.HasPrefix(path, "/") {
								return validation.NewError("validation_invalid_path", "must start with /")
							}
							return nil
						}),
					),
					validation.Field(&hc.FailureThreshold, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.ConnectTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&pc.ResponseTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&pc.RetryBudget, validation.Min(0)),
					validation.Field(&pc.RetryableStatuses,
						validation.Required,
						validation.Each(validation.Min(400), validation.Max(599)),
					),
					validation.Field(&pc.PassiveMaxFails, validation.Min(0)),
					validation.Field(&pc.PassiveFailTimeout, validation.Min(time.Duration(0))),
				)
			}),
		),
		validation.Field(&c.OutcomeLog,
			validation.By(func(value interface{}) error {
				oc, ok := value.(OutcomeLogConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an OutcomeLogConfig")
				}
				return validation.ValidateStruct(&oc,
					validation.Field(&oc.Path, validation.Required),
				)
			}),
		),
		validation.Field(&c.Watcher,
			validation.By(func(value interface{}) error {
				wc, ok := value.(WatcherConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a WatcherConfig")
				}
				return validation.ValidateStruct(&wc,
					validation.Field(&wc.PollInterval, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&wc.WindowSize, validation.Required, validation.Min(1)),
					validation.Field(&wc.MinSamples, validation.Min(0), validation.Max(wc.WindowSize)),
					validation.Field(&wc.ErrorRateThreshold, validation.Required, validation.Min(0.0), validation.Max(100.0)),
					validation.Field(&wc.ClearThreshold, validation.Min(0.0), validation.Max(wc.ErrorRateThreshold)),
					validation.Field(&wc.Cooldown, validation.Min(time.Duration(0))),
					validation.Field(&wc.ClearSamples, validation.Min(0)),
					validation.Field(&wc.AlertCooldown, validation.Min(time.Duration(0))),
					validation.Field(&wc.SlackWebhookURL, is.URL),
					validation.Field(&wc.WebhookTimeout, validation.Required, validation.Min(time.Millisecond)),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validatePoolConfig(value interface{}) error {
	pc, ok := value.(PoolConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a PoolConfig")
	}

	return validation.ValidateStruct(&pc,
		validation.Field(&pc.Name, validation.Required),
		validation.Field(&pc.URL, validation.Required, validation.By(validateServerURL)),
	)
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
