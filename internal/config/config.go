package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	DHIS2BaseURL  string `mapstructure:"DHIS2_BASE_URL"`
	DHIS2Username string `mapstructure:"DHIS2_USERNAME"`
	DHIS2Password string `mapstructure:"DHIS2_PASSWORD"`
	DHIS2Token    string `mapstructure:"DHIS2_TOKEN"`

	ReportConfigDir string `mapstructure:"REPORT_CONFIG_DIR"`
	ExportDir       string `mapstructure:"EXPORT_DIR"`
	MigrationsDir   string `mapstructure:"MIGRATIONS_DIR"`

	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	APIKeys     []string `mapstructure:"API_KEYS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("REPORT_CONFIG_DIR", "configs/reports")
	v.SetDefault("EXPORT_DIR", "exports")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DHIS2_BASE_URL")
	v.BindEnv("DHIS2_USERNAME")
	v.BindEnv("DHIS2_PASSWORD")
	v.BindEnv("DHIS2_TOKEN")
	v.BindEnv("REPORT_CONFIG_DIR")
	v.BindEnv("EXPORT_DIR")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("API_KEYS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.APIKeys == nil {
		if keys := v.GetString("API_KEYS"); keys != "" {
			cfg.APIKeys = strings.Split(keys, ",")
		}
	}

	if cfg.DHIS2BaseURL == "" {
		return nil, fmt.Errorf("DHIS2_BASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: authentication is disabled — do NOT use this configuration in production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// the server refuses to start without credentials for both the DHIS2 API and
// its own HTTP surface.
func (c *Config) Validate() error {
	if c.DHIS2Token == "" && (c.DHIS2Username == "" || c.DHIS2Password == "") {
		return fmt.Errorf("either DHIS2_TOKEN or DHIS2_USERNAME/DHIS2_PASSWORD must be set")
	}

	if c.IsProduction() {
		if c.JWTSecret == "" && len(c.APIKeys) == 0 {
			return fmt.Errorf("JWT_SECRET or API_KEYS is required in production")
		}
		if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.JWTSecret))
		}
	}

	// When TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
