package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitor    MonitorConfig    `yaml:"monitor" mapstructure:"monitor"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Submit     SubmitConfig     `yaml:"submit" mapstructure:"submit"`
	Portal     PortalConfig     `yaml:"portal" mapstructure:"portal"`
	Calls      CallsConfig      `yaml:"calls" mapstructure:"calls"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the operator API and webhook server.
type ServerConfig struct {
	Port          int      `yaml:"port" mapstructure:"port"`
	APIToken      string   `yaml:"api_token" mapstructure:"api_token"`
	WebhookSecret string   `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	CORSOrigins   []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitorConfig configures the admission, processing, and maintenance passes.
type MonitorConfig struct {
	AdmissionIntervalSecs    int     `yaml:"admission_interval_secs" mapstructure:"admission_interval_secs"`
	ProcessingIntervalSecs   int     `yaml:"processing_interval_secs" mapstructure:"processing_interval_secs"`
	MaintenanceIntervalHours int     `yaml:"maintenance_interval_hours" mapstructure:"maintenance_interval_hours"`
	JitterFraction           float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	AdmissionBatchSize       int     `yaml:"admission_batch_size" mapstructure:"admission_batch_size"`
	DefaultPriority          int     `yaml:"default_priority" mapstructure:"default_priority"`
	ManualPriority           int     `yaml:"manual_priority" mapstructure:"manual_priority"`
	StaleProcessingMins      int     `yaml:"stale_processing_mins" mapstructure:"stale_processing_mins"`
}

// BrowserConfig configures the shared headless browser.
type BrowserConfig struct {
	Headless              bool   `yaml:"headless" mapstructure:"headless"`
	ExecPath              string `yaml:"exec_path" mapstructure:"exec_path"`
	UserAgent             string `yaml:"user_agent" mapstructure:"user_agent"`
	WindowWidth           int    `yaml:"window_width" mapstructure:"window_width"`
	WindowHeight          int    `yaml:"window_height" mapstructure:"window_height"`
	NavigationTimeoutSecs int    `yaml:"navigation_timeout_secs" mapstructure:"navigation_timeout_secs"`
	PageReadyTimeoutSecs  int    `yaml:"page_ready_timeout_secs" mapstructure:"page_ready_timeout_secs"`
	LaunchRetries         int    `yaml:"launch_retries" mapstructure:"launch_retries"`
}

// SubmitConfig configures the submission engine.
type SubmitConfig struct {
	ScreenshotDir           string   `yaml:"screenshot_dir" mapstructure:"screenshot_dir"`
	ScreenshotRetentionDays int      `yaml:"screenshot_retention_days" mapstructure:"screenshot_retention_days"`
	MaxPerMinute            int      `yaml:"max_per_minute" mapstructure:"max_per_minute"`
	SettleMillis            int      `yaml:"settle_millis" mapstructure:"settle_millis"`
	SubmitWaitSecs          int      `yaml:"submit_wait_secs" mapstructure:"submit_wait_secs"`
	Classifier              string   `yaml:"classifier" mapstructure:"classifier"`
	ConfirmationSelector    string   `yaml:"confirmation_selector" mapstructure:"confirmation_selector"`
	RedactParams            []string `yaml:"redact_params" mapstructure:"redact_params"`
	SourceTag               string   `yaml:"source_tag" mapstructure:"source_tag"`
	CircuitFailureThreshold int      `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int      `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// PortalConfig holds defaults for newly created tenant portal configurations.
type PortalConfig struct {
	RequiredFields    []string `yaml:"required_fields" mapstructure:"required_fields"`
	RetryAttempts     int      `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelayMinutes int      `yaml:"retry_delay_minutes" mapstructure:"retry_delay_minutes"`
}

// RetrySettings returns the retry attempts and delay for a new portal
// configuration, using the defaults for values the admin left unset.
func (p PortalConfig) RetrySettings(attempts, delayMinutes *int) (int, int) {
	a, d := p.RetryAttempts, p.RetryDelayMinutes
	if attempts != nil {
		a = *attempts
	}
	if delayMinutes != nil {
		d = *delayMinutes
	}
	return a, d
}

// CallsConfig configures call-outcome processing.
type CallsConfig struct {
	ConsentPhrases []string `yaml:"consent_phrases" mapstructure:"consent_phrases"`
}

// MonitoringConfig configures background alerting.
type MonitoringConfig struct {
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	QueueBacklogThreshold int     `yaml:"queue_backlog_threshold" mapstructure:"queue_backlog_threshold"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path, or from ./config.yaml when path is
// empty. An explicit path that does not exist is an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("LEADENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitor.admission_interval_secs", 30)
	v.SetDefault("monitor.processing_interval_secs", 10)
	v.SetDefault("monitor.maintenance_interval_hours", 24)
	v.SetDefault("monitor.jitter_fraction", 0.1)
	v.SetDefault("monitor.admission_batch_size", 10)
	v.SetDefault("monitor.default_priority", 5)
	v.SetDefault("monitor.manual_priority", 1)
	v.SetDefault("monitor.stale_processing_mins", 15)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)
	v.SetDefault("browser.navigation_timeout_secs", 30)
	v.SetDefault("browser.page_ready_timeout_secs", 10)
	v.SetDefault("browser.launch_retries", 3)
	v.SetDefault("submit.screenshot_dir", "automation-screenshots")
	v.SetDefault("submit.screenshot_retention_days", 7)
	v.SetDefault("submit.max_per_minute", 30)
	v.SetDefault("submit.settle_millis", 2000)
	v.SetDefault("submit.submit_wait_secs", 15)
	v.SetDefault("submit.classifier", "keyword")
	v.SetDefault("submit.redact_params", []string{"email", "phone1"})
	v.SetDefault("submit.source_tag", "lead-entry")
	v.SetDefault("submit.circuit_failure_threshold", 3)
	v.SetDefault("submit.circuit_reset_secs", 60)
	v.SetDefault("portal.required_fields", []string{"firstName", "lastName", "email", "phone"})
	v.SetDefault("portal.retry_attempts", 3)
	v.SetDefault("portal.retry_delay_minutes", 5)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.queue_backlog_threshold", 100)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command mode depends on are present.
// Modes: "store" (any command touching the database) and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver (LEADENTRY_STORE_DATABASE_URL)")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Monitor.ProcessingIntervalSecs <= 0 || c.Monitor.AdmissionIntervalSecs <= 0 {
			errs = append(errs, "monitor intervals must be > 0")
		}
		if c.Monitor.JitterFraction < 0 || c.Monitor.JitterFraction >= 1 {
			errs = append(errs, "monitor.jitter_fraction must be in [0, 1)")
		}
		switch c.Submit.Classifier {
		case "keyword":
		case "selector":
			if c.Submit.ConfirmationSelector == "" {
				errs = append(errs, "submit.confirmation_selector is required for the selector classifier")
			}
		default:
			errs = append(errs, "submit.classifier must be keyword or selector")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
