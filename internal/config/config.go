package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	BotToken      string

	// External image-stylization API
	ImageAPIURL string
	ImageAPIKey string

	// Where the image API delivers asynchronous results
	CallbackBaseURL      string
	CallbackListenAddr   string
	AllowedCallbackCIDRs []string

	// Pending generations older than this are failed and refunded
	GenerationTimeout time.Duration
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "stylize_bot"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),

		ImageAPIURL: getEnv("IMAGE_API_URL", ""),
		ImageAPIKey: getEnv("IMAGE_API_KEY", ""),

		CallbackBaseURL:      getEnv("CALLBACK_BASE_URL", ""),
		CallbackListenAddr:   getEnv("CALLBACK_LISTEN_ADDR", ":8080"),
		AllowedCallbackCIDRs: getEnvList("CALLBACK_ALLOWED_CIDRS"),

		GenerationTimeout: getEnvMinutes("GENERATION_TIMEOUT_MINUTES", 30),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvList(key string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getEnvMinutes(key string, fallback int) time.Duration {
	minutes := fallback
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			minutes = n
		}
	}
	return time.Duration(minutes) * time.Minute
}
