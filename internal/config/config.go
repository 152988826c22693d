package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration, empty disables Redis
	RedisURL string

	// App Store configuration
	AppStoreSharedSecret    string
	AppStoreProductionURL   string
	AppStoreSandboxURL      string
	AppStoreVerifySignature bool

	// Admin API key, empty disables the admin routes
	AdminAPIKey string

	// Verification configuration
	VerifyLockSeconds     int
	NotificationTTLHours  int
	WebhookTimeoutSeconds int
}

var AppConfig *Config

// ClientConfig configures the SDK handle and the purchasectl CLI.
type ClientConfig struct {
	APIURL      string
	ProjectID   string
	APIKey      string
	StoragePath string

	MaxRetries   int
	RetryDelay   time.Duration
	HTTPTimeout  time.Duration
	SuccessDelay time.Duration

	Debug bool
}

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                    getEnv("PORT", "8080"),
		Mode:                    getEnv("GIN_MODE", "debug"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		AppStoreSharedSecret:    getEnv("APPSTORE_SHARED_SECRET", ""),
		AppStoreProductionURL:   getEnv("APPSTORE_PRODUCTION_URL", "https://buy.itunes.apple.com/verifyReceipt"),
		AppStoreSandboxURL:      getEnv("APPSTORE_SANDBOX_URL", "https://sandbox.itunes.apple.com/verifyReceipt"),
		AppStoreVerifySignature: getEnvBool("APPSTORE_VERIFY_SIGNATURE", true),
		AdminAPIKey:             getEnv("ADMIN_API_KEY", ""),
		VerifyLockSeconds:       getEnvInt("VERIFY_LOCK_SECONDS", 30),
		NotificationTTLHours:    getEnvInt("NOTIFICATION_TTL_HOURS", 24),
		WebhookTimeoutSeconds:   getEnvInt("WEBHOOK_TIMEOUT_SECONDS", 10),
	}

	return nil
}

// LoadClientConfig reads the SDK settings. Unlike the server config it is
// returned to the caller instead of being stored globally.
func LoadClientConfig() *ClientConfig {
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	return &ClientConfig{
		APIURL:       getEnv("PURCHASES_API_URL", "http://localhost:8080"),
		ProjectID:    getEnv("PURCHASES_PROJECT_ID", "default"),
		APIKey:       getEnv("PURCHASES_API_KEY", "default-api-key"),
		StoragePath:  getEnv("PURCHASES_STORAGE_PATH", "purchases.db"),
		MaxRetries:   getEnvInt("PURCHASES_MAX_RETRIES", 2),
		RetryDelay:   getEnvDuration("PURCHASES_RETRY_DELAY", 500*time.Millisecond),
		HTTPTimeout:  getEnvDuration("PURCHASES_HTTP_TIMEOUT", 30*time.Second),
		SuccessDelay: getEnvDuration("PURCHASES_SUCCESS_DELAY", 0),
		Debug:        getEnvBool("PURCHASES_DEBUG", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
