package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/algoclash/judge-api/judge-api/internal/logger"
	"github.com/algoclash/judge-api/judge-api/internal/validator"
)

type Account struct {
	Subject string `mapstructure:"subject" json:"subject" validate:"required,uuid_rfc4122"`
	Note    string `mapstructure:"note"    json:"note"    validate:"required"`
	APIKey  APIKey `mapstructure:"api_key" json:"api_key" validate:"required"`
}

type APIKey struct {
	Active *bool  `mapstructure:"active" json:"active" validate:"required"`
	Token  string `mapstructure:"token"  json:"token"  validate:"required"`
}

type PostgresConfig struct {
	User               string        `validate:"required"`
	Password           string        `validate:"required"`
	Host               string        `validate:"required"`
	Database           string        `validate:"required"`
	MaxIdleConnections int           `validate:"required" mapstructure:"max_idle_connections"`
	MaxOpenConnections int           `validate:"required" mapstructure:"max_open_connections"`
	ConnectionTTL      time.Duration `validate:"required" mapstructure:"connection_ttl"`
	Port               int16         `validate:"required"`
}

// SandboxConfig holds everything needed to talk to the external code
// execution sandbox. All values are bound at process start; a missing
// required value is a fatal configuration error.
type SandboxConfig struct {
	URL            string        `mapstructure:"url"             validate:"required"`
	APIKey         string        `mapstructure:"api_key"         validate:"required"`
	HostHeader     string        `mapstructure:"host_header"     validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required"`
	Base64Encoded  bool          `mapstructure:"base64_encoded"`
}

// JobConfig gates one scheduled pipeline job, keyed by stage name under
// `jobs.` in the config file.
type JobConfig struct {
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	Enabled         bool `mapstructure:"enabled"`
}

type PipelineConfig struct {
	MaxAttempts     int `mapstructure:"max_attempts"      validate:"required"`
	TickSeconds     int `mapstructure:"tick_seconds"      validate:"required"`
	ClaimBatchLimit int `mapstructure:"claim_batch_limit" validate:"required"`
}

type SlogConfig struct {
	Level int `mapstructure:"level"`
}

type GormLogConfig struct {
	Level        int  `mapstructure:"level"`
	TraceQueries bool `mapstructure:"trace_queries"`
}

type LoggingConfig struct {
	Gorm    GormLogConfig `mapstructure:"gorm"`
	App     SlogConfig    `mapstructure:"app"`
	UseOTLP bool          `mapstructure:"use_otlp"`
}

type RateLimitConfig struct {
	RedisHost       string `mapstructure:"redis_host"`
	SubmitPerMinute int64  `mapstructure:"submit_per_minute"`
	FailOpen        bool   `mapstructure:"fail_open"`
}

// See judgeapi.yaml for an example config
type Config struct {
	Postgres             *PostgresConfig      `mapstructure:"postgres"              validate:"required"`
	Sandbox              *SandboxConfig       `mapstructure:"sandbox"               validate:"required"`
	Pipeline             *PipelineConfig      `mapstructure:"pipeline"              validate:"required"`
	Logging              *LoggingConfig       `mapstructure:"logging"`
	RateLimit            *RateLimitConfig     `mapstructure:"ratelimit"`
	Jobs                 map[string]JobConfig `mapstructure:"jobs"`
	ListenAddress        string               `mapstructure:"listen_address"        validate:"required"`
	Accounts             []Account            `mapstructure:"accounts"              validate:"required"`
	GracefulShutdownSecs int64                `mapstructure:"graceful_shutdown_secs"`
}

const (
	AppLogLevel                string = "logging.app.level"
	EnvPrefix                  string = "judgeapi"
	GormLogLevel               string = "logging.gorm.level"
	GormTraceQueries           string = "logging.gorm.trace_queries"
	GracefulShutdownSecs       string = "graceful_shutdown_secs"
	ListenAddress              string = "listen_address"
	PipelineClaimBatchLimit    string = "pipeline.claim_batch_limit"
	PipelineMaxAttempts        string = "pipeline.max_attempts"
	PipelineTickSeconds        string = "pipeline.tick_seconds"
	PostgresConnectonTTL       string = "postgres.connection_ttl"
	PostgresDatabase           string = "postgres.database"
	PostgresHost               string = "postgres.host"
	PostgresMaxIdleConnections string = "postgres.max_idle_connections"
	PostgresMaxOpenConnections string = "postgres.max_open_connections"
	PostgresPassword           string = "postgres.password"
	PostgresPort               string = "postgres.port"
	PostgresUser               string = "postgres.user"
	RateLimitFailOpen          string = "ratelimit.fail_open"
	RedisHost                  string = "ratelimit.redis_host"
	SandboxAPIKey              string = "sandbox.api_key"
	SandboxBase64Encoded       string = "sandbox.base64_encoded"
	SandboxHostHeader          string = "sandbox.host_header"
	SandboxRequestTimeout      string = "sandbox.request_timeout"
	SandboxURL                 string = "sandbox.url"
	SubmitPerMinute            string = "ratelimit.submit_per_minute"
	UseOTLP                    string = "logging.use_otlp"
)

var configReady = false
var config Config

func GetConfig() (*Config, error) {
	if configReady {
		logger.Logger.Debug("returning already-loaded config")
		return &config, nil
	}
	logger.Logger.Info("loading config")

	v := viper.New()

	v.SetConfigName("judgeapi")

	v.AddConfigPath("/etc/judgeapi/")
	v.AddConfigPath(".")

	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.AutomaticEnv()

	// workaround for https://github.com/spf13/viper/issues/761
	// bind env vars explicitly so they unmarshal into the nested struct
	err := v.BindEnv(PostgresPassword)
	if err != nil {
		return nil, err
	}
	err = v.BindEnv(SandboxAPIKey)
	if err != nil {
		return nil, err
	}
	err = v.BindEnv(SandboxURL)
	if err != nil {
		return nil, err
	}

	v.SetDefault(ListenAddress, "[::]:1323")
	v.SetDefault(PostgresHost, "localhost")
	v.SetDefault(PostgresPort, 5432)
	v.SetDefault(PostgresMaxIdleConnections, 2)
	v.SetDefault(PostgresMaxOpenConnections, 10)
	v.SetDefault(PostgresConnectonTTL, 10*time.Minute)
	v.SetDefault(GormLogLevel, int(slog.LevelWarn))
	v.SetDefault(GormTraceQueries, false)
	v.SetDefault(AppLogLevel, int(slog.LevelInfo))

	v.SetDefault(SandboxRequestTimeout, 30*time.Second)
	v.SetDefault(SandboxBase64Encoded, true)

	v.SetDefault(PipelineMaxAttempts, 5)
	v.SetDefault(PipelineTickSeconds, 5)
	v.SetDefault(PipelineClaimBatchLimit, 32)

	v.SetDefault(RedisHost, "localhost")
	v.SetDefault(SubmitPerMinute, 0)
	v.SetDefault(RateLimitFailOpen, true)

	v.SetDefault(UseOTLP, false)

	v.SetDefault(GracefulShutdownSecs, 30)

	err = v.ReadInConfig()
	if err != nil {
		// ignore config file not found to allow pure env config
		if _, ok := err.(*viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	err = v.Unmarshal(&config)
	if err != nil {
		configReady = false
		return nil, err
	}

	valid := validator.Create()
	err = valid.Validate(&config)
	if err != nil {
		configReady = false
		return nil, err
	}

	configReady = true
	return &config, nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s",
		url.QueryEscape(c.Postgres.User),
		url.QueryEscape(c.Postgres.Password),
		c.Postgres.Host, c.Postgres.Port,
		url.QueryEscape(c.Postgres.Database),
	)
}

// JobFor returns the schedule gate for a pipeline stage name, disabled when
// the stage has no entry in the config.
func (c *Config) JobFor(stage string) JobConfig {
	job, ok := c.Jobs[stage]
	if !ok {
		return JobConfig{Enabled: false}
	}

	return job
}
