package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken          string
	HFToken           string
	HFBaseURL         string
	GenerationTimeout time.Duration
	DBDriver          string
	DBDSN             string
	MaxImagesFree     int
	MaxImagesPremium  int
	MaxPromptLength   int
	SessionTimeout    time.Duration
	SessionCooldown   time.Duration
	HTTPListenAddr    string
	AdminUsername     string
	AdminPassword     string
	LogLevel          string
	S3Endpoint        string
	S3Region          string
	S3AccessKey       string
	S3SecretKey       string
	S3Bucket          string
	S3PublicBaseURL   string
	S3UsePathStyle    bool
	S3Prefix          string
}

// ArchiveEnabled reports whether generated images should be copied to S3.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultHFBaseURL = "https://api-inference.huggingface.co"

	cfg := Config{
		HFBaseURL:         normalizeBaseURL(getEnv("HF_BASE_URL", defaultHFBaseURL), defaultHFBaseURL),
		GenerationTimeout: time.Second * time.Duration(getInt("GENERATION_TIMEOUT_SECONDS", 120)),
		DBDriver:          strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DBDSN:             os.Getenv("DB_DSN"),
		MaxImagesFree:     getInt("MAX_IMAGES_FREE", 10),
		MaxImagesPremium:  getInt("MAX_IMAGES_PREMIUM", 50),
		MaxPromptLength:   getInt("MAX_PROMPT_LENGTH", 500),
		SessionTimeout:    time.Second * time.Duration(getInt("SESSION_TIMEOUT_SECONDS", 300)),
		SessionCooldown:   time.Second * time.Duration(getInt("SESSION_COOLDOWN_SECONDS", 5)),
		HTTPListenAddr:    ":" + getEnv("PORT", "10000"),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3Region:          os.Getenv("S3_REGION"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:          getEnv("S3_PREFIX", "generations"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.HFToken = os.Getenv("HF_TOKEN")

	if cfg.DBDSN == "" {
		switch cfg.DBDriver {
		case DriverMySQL:
			cfg.DBDSN = os.Getenv("MYSQL_DSN")
		default:
			cfg.DBDSN = "bot_data.db"
		}
	}

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.HFToken == "" {
		missing = append(missing, "HF_TOKEN")
	}
	if cfg.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.ArchiveEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch cfg.DBDriver {
	case DriverSQLite, DriverMySQL:
	default:
		return Config{}, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverMySQL, cfg.DBDriver)
	}
	if cfg.MaxImagesFree <= 0 || cfg.MaxImagesPremium <= 0 {
		return Config{}, errors.New("MAX_IMAGES_FREE and MAX_IMAGES_PREMIUM must be positive")
	}
	if cfg.MaxPromptLength <= 0 {
		return Config{}, errors.New("MAX_PROMPT_LENGTH must be positive")
	}

	return cfg, nil
}

// normalizeBaseURL adds a scheme when missing and strips trailing slashes.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return fallback
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile overlays the first env file found. Running without one is fine.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
