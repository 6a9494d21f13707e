package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string

	// Scheduler / sync cycle
	SchedulerEnabled  bool
	SyncInterval      time.Duration
	MaxEmailsPerCycle int
	MailboxConfigPath string

	// External ledger datastore
	LedgerAPIURL    string
	LedgerAPIKey    string
	LedgerTimeout   time.Duration
	StoreHistoryN   int
	DefaultCurrency string

	// Portfolio mapping
	AutoCreatePortfolios bool

	// Duplicate detection
	DuplicateWindow    time.Duration
	DuplicateTolerance float64

	// Symbol resolution
	AILookupEnabled         bool
	GeminiAPIKey            string
	GeminiModel             string
	AILookupTimeout         time.Duration
	AILookupRatePerMinute   int
	MinAutoAcceptConfidence float64

	// Review notifications
	NotifierProvider string // mailgun, smtp, none

	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	MailgunDomain        string
	MailgunPrivateAPIKey string

	SenderEmail    string
	SenderName     string
	ReviewNotifyTo string
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	Cfg = &AppConfig{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./ingest.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		SchedulerEnabled:  getEnvAsBool("SCHEDULER_ENABLED", true),
		SyncInterval:      getEnvAsDuration("SYNC_INTERVAL", 30*time.Minute),
		MaxEmailsPerCycle: getEnvAsInt("MAX_EMAILS_PER_CYCLE", 50),
		MailboxConfigPath: getEnv("MAILBOX_CONFIG_PATH", "mailboxes.yaml"),

		LedgerAPIURL:    getEnv("LEDGER_API_URL", ""),
		LedgerAPIKey:    getEnv("LEDGER_API_KEY", ""),
		LedgerTimeout:   getEnvAsDuration("LEDGER_TIMEOUT", 30*time.Second),
		StoreHistoryN:   getEnvAsInt("RUN_HISTORY_SIZE", 20),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "USD"),

		AutoCreatePortfolios: getEnvAsBool("AUTO_CREATE_PORTFOLIOS", true),

		DuplicateWindow:    getEnvAsDuration("DUPLICATE_WINDOW", 24*time.Hour),
		DuplicateTolerance: getEnvAsFloat("DUPLICATE_TOLERANCE", 0.01),

		AILookupEnabled:         getEnvAsBool("AI_LOOKUP_ENABLED", false),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModel:             getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		AILookupTimeout:         getEnvAsDuration("AI_LOOKUP_TIMEOUT", 5*time.Second),
		AILookupRatePerMinute:   getEnvAsInt("AI_LOOKUP_RATE_PER_MINUTE", 10),
		MinAutoAcceptConfidence: getEnvAsFloat("MIN_AUTO_ACCEPT_CONFIDENCE", 0.6),

		NotifierProvider: getEnv("NOTIFIER_PROVIDER", "none"),

		SMTPServer:   getEnv("SMTP_SERVER", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),

		SenderEmail:    getEnv("SENDER_EMAIL", "noreply@example.com"),
		SenderName:     getEnv("SENDER_NAME", "Investra Ingest"),
		ReviewNotifyTo: getEnv("REVIEW_NOTIFY_TO", ""),
	}

	// Misconfiguration, not transient failure: abort at startup.
	if Cfg.LedgerAPIURL == "" {
		log.Fatalf("FATAL: LEDGER_API_URL is required but not set in environment or .env file.")
	}
	if Cfg.LedgerAPIKey == "" {
		log.Fatalf("FATAL: LEDGER_API_KEY is required but not set in environment or .env file.")
	}
	if Cfg.AILookupEnabled && Cfg.GeminiAPIKey == "" {
		log.Fatalf("FATAL: GEMINI_API_KEY is required when AI_LOOKUP_ENABLED is true.")
	}
	if Cfg.NotifierProvider == "mailgun" {
		if Cfg.MailgunDomain == "" || Cfg.MailgunPrivateAPIKey == "" {
			log.Fatalf("FATAL: MAILGUN_DOMAIN and MAILGUN_PRIVATE_API_KEY are required when NOTIFIER_PROVIDER is 'mailgun'.")
		}
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, SchedulerEnabled=%t, SyncInterval=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.SchedulerEnabled, Cfg.SyncInterval)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	log.Printf("Invalid float value for %s ('%s'), using default: %g", key, valueStr, fallback)
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid boolean value for %s ('%s'), using default: %t", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
