package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"

	ProviderGemini = "gemini"
	ProviderKIE    = "kie"
)

// Channel is a chat users must join before generating. Either ID or
// Username is set.
type Channel struct {
	ID       int64
	Username string
}

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken     string
	AdminID      int64
	AdminContact string
	Channels     []Channel

	StorageDriver string
	MySQLDSN      string

	GeneratorProvider string
	GeminiAPIKey      string
	GeminiModel       string
	KIEAPIKey         string
	KIEBaseURL        string
	RequestTimeout    time.Duration

	FreeDailyGenerations int
	FreeDailyEdits       int
	ReferralGenReward    int
	ReferralEditReward   int

	WorkflowSessionTTL   time.Duration
	HistorySize          int
	HistoryTTL           time.Duration
	MaxConcurrentUpdates int
	BroadcastRate        int

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	LogLevel    string
	LogBotToken string
	LogChatID   int64
	NotifyLevel string

	TelegramPaymentProviderToken string
	PaymentCurrency              string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// S3Configured reports whether the media archive can be enabled.
func (c Config) S3Configured() bool {
	return c.S3Bucket != "" && c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3PublicBaseURL != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		AdminContact:                 getEnv("ADMIN_CONTACT", ""),
		Channels:                     parseChannels(getEnv("CHANNEL_IDS", "")),
		StorageDriver:                strings.ToLower(getEnv("STORAGE_DRIVER", StorageMySQL)),
		GeneratorProvider:            strings.ToLower(getEnv("GENERATOR_PROVIDER", ProviderGemini)),
		GeminiModel:                  getEnv("GEMINI_MODEL", "gemini-2.5-flash-image-preview"),
		KIEBaseURL:                   normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		RequestTimeout:               time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),
		FreeDailyGenerations:         getInt("FREE_DAILY_GENERATIONS", 3),
		FreeDailyEdits:               getInt("FREE_DAILY_EDITS", 1),
		ReferralGenReward:            getInt("DEFAULT_REFERRAL_GEN_REWARD", 3),
		ReferralEditReward:           getInt("DEFAULT_REFERRAL_EDIT_REWARD", 3),
		WorkflowSessionTTL:           getDuration("WORKFLOW_SESSION_TTL", 30*time.Minute),
		HistorySize:                  getInt("HISTORY_SIZE", 5),
		HistoryTTL:                   getDuration("HISTORY_TTL", 2*time.Hour),
		MaxConcurrentUpdates:         getInt("MAX_CONCURRENT_UPDATES", 64),
		BroadcastRate:                getInt("BROADCAST_RATE_PER_SECOND", 25),
		AdminListenAddr:              getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:                getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:                getEnv("ADMIN_PASSWORD", "change-me"),
		LogLevel:                     getEnv("LOG_LEVEL", "info"),
		LogBotToken:                  os.Getenv("LOG_BOT_TOKEN"),
		LogChatID:                    getInt64("LOG_CHAT_ID", 0),
		NotifyLevel:                  strings.ToLower(getEnv("NOTIFY_LEVEL", "all")),
		TelegramPaymentProviderToken: os.Getenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN"),
		PaymentCurrency:              getEnv("PAYMENT_CURRENCY", "RUB"),
		S3Endpoint:                   getEnv("S3_ENDPOINT", ""),
		S3Region:                     os.Getenv("S3_REGION"),
		S3AccessKey:                  os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:                  os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                     os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:              os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:               getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:                     getEnv("S3_PREFIX", "media"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.AdminID = getInt64("ADMIN_ID", 0)
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.AdminID == 0 {
		missing = append(missing, "ADMIN_ID")
	}

	switch c.StorageDriver {
	case StorageMySQL:
		if c.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.GeneratorProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	case ProviderKIE:
		if c.KIEAPIKey == "" {
			missing = append(missing, "KIE_API_KEY")
		}
		// KIE fetches reference images by URL, so they have to be published first.
		for key, v := range map[string]string{
			"S3_REGION":          c.S3Region,
			"S3_ACCESS_KEY":      c.S3AccessKey,
			"S3_SECRET_KEY":      c.S3SecretKey,
			"S3_BUCKET":          c.S3Bucket,
			"S3_PUBLIC_BASE_URL": c.S3PublicBaseURL,
		} {
			if v == "" {
				missing = append(missing, key)
			}
		}
	default:
		return fmt.Errorf("unsupported GENERATOR_PROVIDER %q", c.GeneratorProvider)
	}

	if c.NotifyLevel != "all" && c.NotifyLevel != "errors" {
		return fmt.Errorf("unsupported NOTIFY_LEVEL %q", c.NotifyLevel)
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// normalizeKIEBaseURL ensures we always hit the documented API host. Some docs and UI pages
// use the root kie.ai domain, which returns HTML instead of JSON and causes 404s.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
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

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
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

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
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

// parseChannels splits CHANNEL_IDS. Entries are numeric chat ids, @usernames
// or t.me links.
func parseChannels(raw string) []Channel {
	var out []Channel
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, Channel{ID: id})
			continue
		}
		if username := extractChannelUsername(part); username != "" {
			out = append(out, Channel{Username: username})
		}
	}
	return out
}

func normalizeChannelUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return username
}

func extractChannelUsername(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if parsed, err := url.Parse(raw); err == nil {
			path := strings.Trim(parsed.Path, "/")
			if path != "" {
				return normalizeChannelUsername(path)
			}
		}
	}
	raw = strings.TrimPrefix(raw, "t.me/")
	return normalizeChannelUsername(raw)
}
