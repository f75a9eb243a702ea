package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the poster service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	LinkedIn  LinkedInConfig  `mapstructure:"linkedin"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json or text
}

// ServerConfig contains HTTP server, trigger and auth settings
type ServerConfig struct {
	Address         string `mapstructure:"address"`
	JWTSecret       string `mapstructure:"jwt_secret"`
	Schedule        string `mapstructure:"schedule"`
	ScheduleEnabled bool   `mapstructure:"schedule_enabled"`
	// LockTTL bounds how long the deployment-wide run lock survives a crashed holder.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address required")
	}
	if s.ScheduleEnabled && strings.TrimSpace(s.Schedule) == "" {
		return fmt.Errorf("server.schedule required when schedule_enabled is set")
	}
	return nil
}

// LLMConfig describes the OpenAI-compatible inference endpoint
type LLMConfig struct {
	BaseURL      string                `mapstructure:"base_url"`
	APIKey       string                `mapstructure:"api_key"`
	Timeout      time.Duration         `mapstructure:"timeout"`
	MaxRetries   int                   `mapstructure:"max_retries"`
	RetryBackoff time.Duration         `mapstructure:"retry_backoff"`
	Models       LLMModels             `mapstructure:"models"`
	ImageSize    string                `mapstructure:"image_size"`
	Pricing      map[string]LLMPricing `mapstructure:"pricing"`
}

// LLMModels routes each call shape to a model
type LLMModels struct {
	Decision string `mapstructure:"decision"` // structured-output completions
	Tools    string `mapstructure:"tools"`    // tool-calling completions
	Image    string `mapstructure:"image"`    // image generation
}

// LLMPricing is used when the endpoint does not report an estimated cost
type LLMPricing struct {
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.BaseURL) == "" {
		return fmt.Errorf("llm.base_url required")
	}
	if l.Models.Decision == "" || l.Models.Tools == "" {
		return fmt.Errorf("llm.models.decision and llm.models.tools are required")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative")
	}
	return nil
}

// SourcesConfig contains news source settings
type SourcesConfig struct {
	Reddit RedditConfig `mapstructure:"reddit"`
	GNews  GNewsConfig  `mapstructure:"gnews"`
}

type RedditConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type GNewsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LinkedInConfig contains publishing client settings
type LinkedInConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WorkflowConfig tunes the posting pipeline
type WorkflowConfig struct {
	Topic             string `mapstructure:"topic"`
	MaxIterations     int    `mapstructure:"max_iterations"`
	MinItems          int    `mapstructure:"min_items"`
	MaxItems          int    `mapstructure:"max_items"`
	RecentPosts       int    `mapstructure:"recent_posts"`
	DefaultVisibility string `mapstructure:"default_visibility"`
	ImageSpoolDir     string `mapstructure:"image_spool_dir"`
}

// Normalize applies defaults for unset workflow values.
func (w WorkflowConfig) Normalize() WorkflowConfig {
	if w.MaxIterations <= 0 {
		w.MaxIterations = 5
	}
	if w.MinItems <= 0 {
		w.MinItems = 1
	}
	if w.MaxItems <= 0 {
		w.MaxItems = 20
	}
	if w.RecentPosts <= 0 {
		w.RecentPosts = 10
	}
	w.DefaultVisibility = strings.ToUpper(strings.TrimSpace(w.DefaultVisibility))
	if w.DefaultVisibility != "CONNECTIONS" {
		w.DefaultVisibility = "PUBLIC"
	}
	if strings.TrimSpace(w.ImageSpoolDir) == "" {
		w.ImageSpoolDir = filepath.Join(os.TempDir(), "autoposter")
	}
	return w
}

func (w WorkflowConfig) Validate() error {
	if w.MinItems > w.MaxItems {
		return fmt.Errorf("workflow.min_items (%d) cannot exceed workflow.max_items (%d)", w.MinItems, w.MaxItems)
	}
	return nil
}

// StorageConfig contains storage configurations
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	S3       S3Config       `mapstructure:"s3"`
}

// RedisConfig is optional; when host is empty the run lock stays in-process
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a redis server was configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres configuration incomplete: host/dbname required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// S3Config contains object storage configuration.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// Enabled reports whether uploads are configured.
func (s S3Config) Enabled() bool { return strings.TrimSpace(s.Bucket) != "" }

func (s S3Config) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" && strings.TrimSpace(s.Bucket) == "" {
		return nil
	}
	if strings.TrimSpace(s.Bucket) == "" {
		return fmt.Errorf("storage.s3.bucket required when endpoint is provided")
	}
	return nil
}

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "json")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.schedule", "0 0,6,12,18 * * *")
	v.SetDefault("server.schedule_enabled", true)
	v.SetDefault("server.lock_ttl", 30*time.Minute)
	v.SetDefault("llm.base_url", "https://api.deepinfra.com/v1/openai")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_backoff", 500*time.Millisecond)
	v.SetDefault("llm.models.decision", "meta-llama/Llama-4-Maverick-17B-128E-Instruct-FP8")
	v.SetDefault("llm.models.tools", "nvidia/Nemotron-3-Nano-30B-A3B")
	v.SetDefault("llm.models.image", "black-forest-labs/FLUX-2-pro")
	v.SetDefault("llm.image_size", "1024x1024")
	v.SetDefault("sources.reddit.base_url", "https://www.reddit.com")
	v.SetDefault("sources.reddit.user_agent", "autoposter/1.0 (News Aggregator)")
	v.SetDefault("sources.reddit.timeout", 10*time.Second)
	v.SetDefault("sources.gnews.base_url", "https://gnews.io/api/v4")
	v.SetDefault("sources.gnews.timeout", 10*time.Second)
	v.SetDefault("linkedin.base_url", "https://api.linkedin.com/v2")
	v.SetDefault("linkedin.timeout", 30*time.Second)
	v.SetDefault("workflow.max_iterations", 5)
	v.SetDefault("workflow.min_items", 1)
	v.SetDefault("workflow.max_items", 20)
	v.SetDefault("workflow.recent_posts", 10)
	v.SetDefault("workflow.default_visibility", "PUBLIC")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("telemetry.service_name", "autoposter")
}

// LoadConfig loads config from file and AUTOPOSTER_* environment variables.
// A missing config file is not an error when path is empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("AUTOPOSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !asNotFound(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Workflow = cfg.Workflow.Normalize()

	for _, validate := range []func() error{
		cfg.Server.Validate,
		cfg.LLM.Validate,
		cfg.Workflow.Validate,
		cfg.Storage.Redis.Validate,
		cfg.Storage.Postgres.Validate,
		cfg.Storage.S3.Validate,
	} {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// secrets usually arrive only through the environment; AutomaticEnv alone
// does not surface keys that are absent from the file during Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"llm.api_key",
		"linkedin.access_token",
		"sources.gnews.api_key",
		"server.jwt_secret",
		"storage.postgres.url",
		"storage.postgres.host",
		"storage.postgres.port",
		"storage.postgres.user",
		"storage.postgres.password",
		"storage.postgres.dbname",
		"storage.redis.host",
		"storage.redis.port",
		"storage.redis.password",
		"storage.s3.endpoint",
		"storage.s3.bucket",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.public_base_url",
		"workflow.topic",
	} {
		_ = v.BindEnv(key)
	}
}

func asNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	nf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = nf
	}
	return ok
}
