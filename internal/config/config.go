// Package config loads the server's settings with viper.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultInstitutionDomain is the email suffix accepted at sign-up when none is configured.
const DefaultInstitutionDomain = "@saividya.ac.in"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret                string  `mapstructure:"JWT_SECRET"`
	Port                     string  `mapstructure:"PORT"`
	DBDriver                 string  `mapstructure:"DB_DRIVER"`
	DBHost                   string  `mapstructure:"DB_HOST"`
	DBPort                   string  `mapstructure:"DB_PORT"`
	DBUser                   string  `mapstructure:"DB_USER"`
	DBPassword               string  `mapstructure:"DB_PASSWORD"`
	DBName                   string  `mapstructure:"DB_NAME"`
	DBSSLMode                string  `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns           int     `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int     `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int     `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	RedisURL                 string  `mapstructure:"REDIS_URL"`
	AllowedOrigins           string  `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags             string  `mapstructure:"FEATURE_FLAGS"`
	Env                      string  `mapstructure:"APP_ENV"`
	InstitutionDomain        string  `mapstructure:"INSTITUTION_EMAIL_DOMAIN"`
	ImageUploadDir           string  `mapstructure:"IMAGE_UPLOAD_DIR"`
	ImageMaxUploadSizeMB     int     `mapstructure:"IMAGE_MAX_UPLOAD_SIZE_MB"`
	PublicMediaURL           string  `mapstructure:"PUBLIC_MEDIA_URL"`
	TracingEnabled           bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter          string  `mapstructure:"TRACING_EXPORTER"`
	TracingSampleRatio       float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
	OTLPEndpoint             string  `mapstructure:"OTLP_ENDPOINT"`
}

// defaults apply to every key a file or the environment leaves unset.
var defaults = map[string]any{
	"PORT":                         "8375",
	"DB_DRIVER":                    "postgres",
	"DB_HOST":                      "localhost",
	"DB_PORT":                      "5432",
	"DB_USER":                      "user",
	"DB_PASSWORD":                  "password",
	"DB_NAME":                      "tracehub",
	"DB_SSLMODE":                   "disable",
	"DB_MAX_OPEN_CONNS":            25,
	"DB_MAX_IDLE_CONNS":            5,
	"DB_CONN_MAX_LIFETIME_MINUTES": 5,
	"REDIS_URL":                    "localhost:6379",
	"JWT_SECRET":                   devJWTSecret,
	"ALLOWED_ORIGINS":              "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173",
	"FEATURE_FLAGS":                "",
	"APP_ENV":                      "development",
	"INSTITUTION_EMAIL_DOMAIN":     DefaultInstitutionDomain,
	"IMAGE_UPLOAD_DIR":             "/tmp/tracehub/uploads",
	"IMAGE_MAX_UPLOAD_SIZE_MB":     10,
	"PUBLIC_MEDIA_URL":             "/media",
	"TRACING_ENABLED":              false,
	"TRACING_EXPORTER":             "stdout",
	"TRACING_SAMPLE_RATIO":         1.0,
	"OTLP_ENDPOINT":                "localhost:4318",
}

const devJWTSecret = "your-secret-key-change-in-production"

// LoadConfig reads, lowest precedence first: defaults, config.yml, the
// config.<APP_ENV>.yml profile, .env, then the process environment. Any
// APP_ENV other than development must ship a profile.
func LoadConfig() (*Config, error) {
	// Most deployments have no .env.
	_ = godotenv.Load()

	v := viper.New()
	for _, dir := range []string{".", "..", "../.."} {
		v.AddConfigPath(dir)
	}
	v.SetConfigType("yml")
	v.SetConfigName("config")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var missing viper.ConfigFileNotFoundError
		if !errors.As(err, &missing) {
			return nil, fmt.Errorf("read config.yml: %w", err)
		}
	}

	if env := v.GetString("APP_ENV"); env != "development" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("profile config.%s.yml: %w", env, err)
		}
		log.Printf("config: merged profile %s", v.ConfigFileUsed())
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	trimLower := func(s *string) { *s = strings.ToLower(strings.TrimSpace(*s)) }
	trimLower(&c.DBDriver)
	trimLower(&c.DBSSLMode)
	trimLower(&c.InstitutionDomain)
	if c.InstitutionDomain != "" && c.InstitutionDomain[0] != '@' {
		c.InstitutionDomain = "@" + c.InstitutionDomain
	}
	c.PublicMediaURL = strings.TrimRight(c.PublicMediaURL, "/")
}

// IsProduction reports whether the configuration targets a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate returns every problem it finds, joined. Production additionally
// requires a real JWT secret, postgres with a password, and SSL.
func (c *Config) Validate() error {
	var problems []error
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, errors.New(msg))
		}
	}

	require(c.Port != "", "PORT is required")
	require(c.JWTSecret != "", "JWT_SECRET is required")
	require(c.InstitutionDomain != "", "INSTITUTION_EMAIL_DOMAIN is required")
	require(c.ImageMaxUploadSizeMB > 0, "IMAGE_MAX_UPLOAD_SIZE_MB must be positive")
	switch c.DBDriver {
	case "", "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}

	if !c.IsProduction() {
		if len(c.JWTSecret) < 32 {
			log.Println("config: JWT_SECRET is shorter than 32 characters; production will refuse it")
		}
		return errors.Join(problems...)
	}

	require(c.JWTSecret != devJWTSecret, "JWT_SECRET must be changed from the default in production")
	require(len(c.JWTSecret) >= 32, "JWT_SECRET must be at least 32 characters in production")
	require(c.DBDriver != "sqlite", "DB_DRIVER sqlite is not supported in production")
	require(c.DBPassword != "" && c.DBPassword != "password", "a strong DB_PASSWORD is required in production")
	require(c.DBSSLMode != "" && c.DBSSLMode != "disable", "DB_SSLMODE must enable SSL in production")
	if c.AllowedOrigins == "*" {
		log.Println("config: ALLOWED_ORIGINS is '*' in production")
	}
	return errors.Join(problems...)
}
