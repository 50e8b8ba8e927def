package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	Submission RateLimitBucketConfig `yaml:"submission"`
	Verdict    RateLimitBucketConfig `yaml:"verdict"`
	Dispatch   RateLimitBucketConfig `yaml:"dispatch"`
}

type Config struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Storage       string `yaml:"storage"`
	Timezone      string `yaml:"timezone"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	// PlatformAccount receives the platform share and every share whose
	// referral tier is absent.
	PlatformAccount string `yaml:"platformAccount"`

	AdminJwksURL     string `yaml:"adminJwksUrl"`
	AdminIssuer      string `yaml:"adminIssuer"`
	AdminAudience    string `yaml:"adminAudience"`
	AdminStaticToken string `yaml:"adminStaticToken"`

	VerifierJwksURL     string `yaml:"verifierJwksUrl"`
	VerifierIssuer      string `yaml:"verifierIssuer"`
	VerifierAudience    string `yaml:"verifierAudience"`
	VerifierStaticToken string `yaml:"verifierStaticToken"`

	AllowedClockSkewSeconds int `yaml:"allowedClockSkewSeconds"`

	WebhookHmacSecret          string `yaml:"webhookHmacSecret"`
	DispatchMaxAttempts        int    `yaml:"dispatchMaxAttempts"`
	DispatchBackoffPolicy      string `yaml:"dispatchBackoffPolicy"`
	DispatchBaseBackoffSeconds int    `yaml:"dispatchBaseBackoffSeconds"`
	DispatchMaxBackoffSeconds  int    `yaml:"dispatchMaxBackoffSeconds"`

	OwedRetryIntervalSeconds int `yaml:"owedRetryIntervalSeconds"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`

	TracingEnabled     bool    `yaml:"tracingEnabled"`
	TracingServiceName string  `yaml:"tracingServiceName"`
	OTLPEndpoint       string  `yaml:"otlpEndpoint"`
	OTLPInsecure       bool    `yaml:"otlpInsecure"`
	TracingSampleRatio float64 `yaml:"tracingSampleRatio"`
}

func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return parseConfig(data)
}

// LoadConfigOptional behaves like LoadConfig but tolerates an empty or
// missing path: environment variables and defaults alone configure the
// server.
func LoadConfigOptional(filePath string) (*Config, error) {
	if filePath == "" {
		return parseConfig(nil)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return parseConfig(nil)
		}
		return nil, err
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var c Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("STORAGE"); v != "" {
		c.Storage = v
	}
	if v := os.Getenv("PLATFORM_ACCOUNT"); v != "" {
		c.PlatformAccount = v
	}
	if v := os.Getenv("ADMIN_JWKS_URL"); v != "" {
		c.AdminJwksURL = v
	}
	if v := os.Getenv("ADMIN_ISSUER"); v != "" {
		c.AdminIssuer = v
	}
	if v := os.Getenv("ADMIN_AUDIENCE"); v != "" {
		c.AdminAudience = v
	}
	if v := os.Getenv("ADMIN_STATIC_TOKEN"); v != "" {
		c.AdminStaticToken = v
	}
	if v := os.Getenv("VERIFIER_JWKS_URL"); v != "" {
		c.VerifierJwksURL = v
	}
	if v := os.Getenv("VERIFIER_ISSUER"); v != "" {
		c.VerifierIssuer = v
	}
	if v := os.Getenv("VERIFIER_AUDIENCE"); v != "" {
		c.VerifierAudience = v
	}
	if v := os.Getenv("VERIFIER_STATIC_TOKEN"); v != "" {
		c.VerifierStaticToken = v
	}
	if v := os.Getenv("ALLOWED_CLOCK_SKEW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AllowedClockSkewSeconds = n
		}
	}
	if v := os.Getenv("WEBHOOK_HMAC_SECRET"); v != "" {
		c.WebhookHmacSecret = v
	}
	if v := os.Getenv("DISPATCH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DispatchMaxAttempts = n
		}
	}
	if v := os.Getenv("DISPATCH_BACKOFF_POLICY"); v != "" {
		c.DispatchBackoffPolicy = v
	}
	if v := os.Getenv("DISPATCH_BASE_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DispatchBaseBackoffSeconds = n
		}
	}
	if v := os.Getenv("DISPATCH_MAX_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DispatchMaxBackoffSeconds = n
		}
	}
	if v := os.Getenv("OWED_RETRY_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OwedRetryIntervalSeconds = n
		}
	}

	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.Storage == "" {
		c.Storage = "redis"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.PlatformAccount == "" {
		c.PlatformAccount = "platform"
	}
	if c.AllowedClockSkewSeconds <= 0 {
		c.AllowedClockSkewSeconds = 60
	}
	if c.DispatchMaxAttempts <= 0 {
		c.DispatchMaxAttempts = 5
	}
	if c.DispatchBackoffPolicy == "" {
		c.DispatchBackoffPolicy = "exp_equal_jitter"
	}
	if c.DispatchBaseBackoffSeconds <= 0 {
		c.DispatchBaseBackoffSeconds = 2
	}
	if c.DispatchMaxBackoffSeconds <= 0 {
		c.DispatchMaxBackoffSeconds = 60
	}
	if c.OwedRetryIntervalSeconds <= 0 {
		c.OwedRetryIntervalSeconds = 60
	}
	if c.AdminAudience == "" {
		c.AdminAudience = "homare-admin"
	}
	if c.VerifierAudience == "" {
		c.VerifierAudience = "homare-verifier"
	}

	log.Printf("Homare Config: {Port:%d Redis:%s Storage:%s TZ:%s Env:%s}\n",
		c.Port, c.RedisAddr, c.Storage, c.Timezone, c.Env)
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	checkJwks := func(name, jwksURL, issuer, staticToken string) {
		if staticToken != "" {
			if !dev {
				errs = append(errs, name+" static token is dev-only")
			}
			return
		}
		if jwksURL == "" {
			if !dev {
				errs = append(errs, name+"JwksUrl is required in non-dev")
			}
			return
		}
		u, err := url.Parse(jwksURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, name+"JwksUrl must be a valid http(s) URL")
		}
		if issuer == "" && !dev {
			errs = append(errs, name+"Issuer is required in non-dev")
		}
	}
	checkJwks("admin", c.AdminJwksURL, c.AdminIssuer, c.AdminStaticToken)
	checkJwks("verifier", c.VerifierJwksURL, c.VerifierIssuer, c.VerifierStaticToken)

	if strings.TrimSpace(c.WebhookHmacSecret) == "" && !dev {
		errs = append(errs, "webhookHmacSecret is required in non-dev")
	}
	if c.Storage != "redis" && c.Storage != "memory" {
		errs = append(errs, fmt.Sprintf("unknown storage driver %q", c.Storage))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
