package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig
	Server     ServerConfig
	Storage    StorageConfig
	Slack      SlackConfig
	AI         AIConfig
	Scheduler  SchedulerConfig
	Observance ObservanceConfig
	Engagement EngagementConfig
	Canvas     CanvasConfig
}

type AppConfig struct {
	Name        string
	Environment string
}

type ServerConfig struct {
	Port string
}

type StorageConfig struct {
	DataDir        string
	CacheDir       string
	BackupDir      string
	ExternalBackup bool
	LockTimeout    time.Duration
}

type SlackConfig struct {
	BotToken        string
	AppToken        string
	BirthdayChannel string
	OpsChannel      string
}

type AIConfig struct {
	AnthropicAPIKey string
	Model           string
	ImageAPIKey     string
	ImageModel      string
	ImageQuality    string
	ImageSize       string
	UseRefPhoto     bool
	NLPDateParsing  bool
}

type SchedulerConfig struct {
	Enabled               bool
	TimezoneAware         bool
	DailyCheckTime        string // HH:MM, server local
	CacheRefreshTime      string // HH:MM, server local
	TimezoneCelebrationHr int
	CheckInterval         time.Duration
	HeartbeatStale        time.Duration
	StatsFlushEvery       int
	ImageGeneration       bool
	ImageWorkers          int
	LedgerRetention       time.Duration
}

type ObservanceConfig struct {
	UNEnabled           bool
	UNESCOEnabled       bool
	WHOEnabled          bool
	CalendarificEnabled bool
	UNURL               string
	UNESCOURL           string
	WHOURL              string
	UNTTL               time.Duration
	UNESCOTTL           time.Duration
	WHOTTL              time.Duration
	CalendarificKey     string
	CalendarificCountry string
	CalendarificRegion  string
	MonthlyCallBudget   int
	BudgetWarnAt        int
}

type EngagementConfig struct {
	ThreadEngagement      bool
	MentionQA             bool
	ThankYouReplies       bool
	MaxReactionsPerThread int
	ThreadTTL             time.Duration
	TrackingTTLDays       int
	MentionWindow         time.Duration
	MentionMaxRequests    int
}

type CanvasConfig struct {
	Enabled        bool
	UpdateInterval time.Duration
	Debounce       time.Duration
}

func Load() (Config, error) {
	// Load .env file if it exists (ignore error for production where env vars are set directly)
	_ = godotenv.Load()

	cfg := Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "cakeday"),
			Environment: getEnv("APP_ENV", "development"),
		},
		Server: ServerConfig{
			Port: getEnv("APP_PORT", "9070"),
		},
		Storage: StorageConfig{
			DataDir:        getEnv("DATA_DIR", "storage"),
			CacheDir:       getEnv("CACHE_DIR", "cache"),
			BackupDir:      getEnv("BACKUP_DIR", "backups"),
			ExternalBackup: getBool("EXTERNAL_BACKUP_ENABLED", false),
			LockTimeout:    getDuration("FILE_LOCK_TIMEOUT", 10*time.Second),
		},
		Slack: SlackConfig{
			BotToken:        strings.TrimSpace(os.Getenv("SLACK_BOT_TOKEN")),
			AppToken:        strings.TrimSpace(os.Getenv("SLACK_APP_TOKEN")),
			BirthdayChannel: strings.TrimSpace(os.Getenv("BIRTHDAY_CHANNEL_ID")),
			OpsChannel:      strings.TrimSpace(os.Getenv("OPS_CHANNEL_ID")),
		},
		AI: AIConfig{
			AnthropicAPIKey: strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
			Model:           getEnv("LLM_MODEL", "claude-sonnet-4-20250514"),
			ImageAPIKey:     strings.TrimSpace(os.Getenv("IMAGE_API_KEY")),
			ImageModel:      getEnv("IMAGE_MODEL", "gpt-image-1"),
			ImageQuality:    getEnv("IMAGE_QUALITY", "medium"),
			ImageSize:       getEnv("IMAGE_SIZE", "1024x1024"),
			UseRefPhoto:     getBool("IMAGE_USE_REFERENCE_PHOTO", true),
			NLPDateParsing:  getBool("NLP_DATE_PARSING", true),
		},
		Scheduler: SchedulerConfig{
			Enabled:               getBool("SCHEDULER_ENABLED", true),
			TimezoneAware:         getBool("TIMEZONE_AWARE_MODE", false),
			DailyCheckTime:        getEnv("DAILY_CHECK_TIME", "09:00"),
			CacheRefreshTime:      getEnv("CACHE_REFRESH_TIME", "05:30"),
			TimezoneCelebrationHr: getInt("TIMEZONE_CELEBRATION_HOUR", 9),
			CheckInterval:         getDuration("SCHEDULER_CHECK_INTERVAL", time.Minute),
			HeartbeatStale:        getDuration("HEARTBEAT_STALE_THRESHOLD", 120*time.Second),
			StatsFlushEvery:       getInt("STATS_FLUSH_EVERY", 10),
			ImageGeneration:       getBool("IMAGE_GENERATION_ENABLED", true),
			ImageWorkers:          getInt("IMAGE_WORKERS", 4),
			LedgerRetention:       getDuration("LEDGER_RETENTION", 60*24*time.Hour),
		},
		Observance: ObservanceConfig{
			UNEnabled:           getBool("UN_SOURCE_ENABLED", true),
			UNESCOEnabled:       getBool("UNESCO_SOURCE_ENABLED", true),
			WHOEnabled:          getBool("WHO_SOURCE_ENABLED", true),
			CalendarificEnabled: getBool("CALENDARIFIC_ENABLED", false),
			UNURL:               getEnv("UN_OBSERVANCES_URL", "https://www.un.org/en/observances/list-days-weeks"),
			UNESCOURL:           getEnv("UNESCO_OBSERVANCES_URL", "https://www.unesco.org/en/days"),
			WHOURL:              getEnv("WHO_CAMPAIGNS_URL", "https://www.who.int/campaigns"),
			UNTTL:               getDuration("UN_CACHE_TTL", 7*24*time.Hour),
			UNESCOTTL:           getDuration("UNESCO_CACHE_TTL", 30*24*time.Hour),
			WHOTTL:              getDuration("WHO_CACHE_TTL", 30*24*time.Hour),
			CalendarificKey:     strings.TrimSpace(os.Getenv("CALENDARIFIC_API_KEY")),
			CalendarificCountry: getEnv("CALENDARIFIC_COUNTRY", "US"),
			CalendarificRegion:  strings.TrimSpace(os.Getenv("CALENDARIFIC_REGION")),
			MonthlyCallBudget:   getInt("CALENDARIFIC_MONTHLY_BUDGET", 500),
			BudgetWarnAt:        getInt("CALENDARIFIC_BUDGET_WARN_AT", 400),
		},
		Engagement: EngagementConfig{
			ThreadEngagement:      getBool("THREAD_ENGAGEMENT_ENABLED", true),
			MentionQA:             getBool("MENTION_QA_ENABLED", true),
			ThankYouReplies:       getBool("THANK_YOU_REPLIES_ENABLED", false),
			MaxReactionsPerThread: getInt("MAX_REACTIONS_PER_THREAD", 20),
			ThreadTTL:             getDuration("THREAD_REACTION_TTL", 24*time.Hour),
			TrackingTTLDays:       getInt("THREAD_TRACKING_TTL_DAYS", 3),
			MentionWindow:         getDuration("MENTION_RATE_WINDOW", 60*time.Second),
			MentionMaxRequests:    getInt("MENTION_RATE_MAX", 5),
		},
		Canvas: CanvasConfig{
			Enabled:        getBool("CANVAS_DASHBOARD_ENABLED", true),
			UpdateInterval: getDuration("CANVAS_UPDATE_INTERVAL", 30*time.Minute),
			Debounce:       getDuration("CANVAS_DEBOUNCE", 30*time.Second),
		},
	}

	if cfg.Slack.BotToken == "" {
		return Config{}, fmt.Errorf("SLACK_BOT_TOKEN is required")
	}
	if cfg.Slack.BirthdayChannel == "" {
		return Config{}, fmt.Errorf("BIRTHDAY_CHANNEL_ID is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
