package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	IdentityJWKSURL  string `yaml:"identityJwksURL"`
	IdentityIssuer   string `yaml:"identityIssuer"`
	IdentityAudience string `yaml:"identityAudience"`
	IdentityLeeway   string `yaml:"identityLeeway"`

	ServiceTokenAudience      string   `yaml:"serviceTokenAudience"`
	ServiceTokenIssuers       []string `yaml:"serviceTokenIssuers"`
	ServiceTokenPublicKeyPath string   `yaml:"serviceTokenPublicKeyPath"`

	RabbitURL      string `yaml:"rabbitURL"`
	PipelineQueue  string `yaml:"pipelineQueue"`
	DispatchStream string `yaml:"dispatchStream"`
	DispatchGroup  string `yaml:"dispatchGroup"`

	HeadingBaseURL string `yaml:"headingBaseURL"`
	HeadingAPIKey  string `yaml:"headingAPIKey"`
	HeadingModel   string `yaml:"headingModel"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	PresignTTL     string `yaml:"presignTTL"`

	ResearchRateLimitPerMinute int      `yaml:"researchRateLimitPerMinute"`
	ChatRateLimitPerMinute     int      `yaml:"chatRateLimitPerMinute"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("CORE_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CORE_IDENTITY_JWKS_URL"); v != "" {
		cfg.IdentityJWKSURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_IDENTITY_ISSUER"); v != "" {
		cfg.IdentityIssuer = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_IDENTITY_AUDIENCE"); v != "" {
		cfg.IdentityAudience = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_IDENTITY_LEEWAY"); v != "" {
		cfg.IdentityLeeway = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_SERVICE_TOKEN_AUDIENCE"); v != "" {
		cfg.ServiceTokenAudience = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_SERVICE_TOKEN_ISSUERS"); v != "" {
		cfg.ServiceTokenIssuers = splitCSV(v)
	}
	if v := os.Getenv("CORE_SERVICE_TOKEN_PUBLIC_KEY_PATH"); v != "" {
		cfg.ServiceTokenPublicKeyPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("RABBIT_URL"); v != "" {
		cfg.RabbitURL = v
	}
	if v := os.Getenv("CORE_PIPELINE_QUEUE"); v != "" {
		cfg.PipelineQueue = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_DISPATCH_STREAM"); v != "" {
		cfg.DispatchStream = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_DISPATCH_GROUP"); v != "" {
		cfg.DispatchGroup = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_HEADING_BASE_URL"); v != "" {
		cfg.HeadingBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_HEADING_API_KEY"); v != "" {
		cfg.HeadingAPIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_HEADING_MODEL"); v != "" {
		cfg.HeadingModel = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("CORE_PRESIGN_TTL"); v != "" {
		cfg.PresignTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CORE_RESEARCH_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ResearchRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CORE_CHAT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChatRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CORE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.IdentityJWKSURL) == "" {
		return errors.New("config: identityJwksURL is required (set in config.yaml or CORE_IDENTITY_JWKS_URL)")
	}
	if strings.TrimSpace(cfg.ServiceTokenPublicKeyPath) == "" {
		return errors.New("config: serviceTokenPublicKeyPath is required for webhook and pipeline auth")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if cfg.ResearchRateLimitPerMinute < 0 || cfg.ChatRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration string such as presignTTL or
// identityLeeway, returning 0 for empty input.
func ParseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return dur, nil
}
