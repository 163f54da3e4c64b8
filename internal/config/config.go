package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DBUrl          string
	DBMaxConns     int
	DBMinConns     int
	AppEnv         string
	LeadTimeHours  int
	MaxReschedules int
	AutoConfirm    bool
	EnableDocs     bool
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	leadTimeHours := getEnvInt("LEAD_TIME_HOURS", 24)
	if leadTimeHours < 0 {
		return nil, fmt.Errorf("LEAD_TIME_HOURS must not be negative")
	}
	maxReschedules := getEnvInt("MAX_RESCHEDULES", 3)
	if maxReschedules < 0 {
		return nil, fmt.Errorf("MAX_RESCHEDULES must not be negative")
	}
	dbMaxConns := getEnvInt("DB_MAX_CONNS", 10)
	dbMinConns := getEnvInt("DB_MIN_CONNS", 2)
	if dbMaxConns < 1 || dbMinConns < 0 || dbMinConns > dbMaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS/DB_MAX_CONNS must satisfy 0 <= min <= max, max >= 1")
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		DBUrl:          getEnv("DB_URL", ""),
		DBMaxConns:     dbMaxConns,
		DBMinConns:     dbMinConns,
		AppEnv:         normalizeEnv(getEnv("APP_ENV", "production")),
		LeadTimeHours:  leadTimeHours,
		MaxReschedules: maxReschedules,
		AutoConfirm:    getEnvBool("AUTO_CONFIRM", false),
		EnableDocs:     getEnvBool("ENABLE_API_DOCS", false),
	}, nil
}

// DocsEnabled limits the docs surface to development builds.
func (c *Config) DocsEnabled() bool {
	return c != nil && c.EnableDocs && c.AppEnv == "development"
}

// MinimumLead is the lead-time rule as a duration.
func (c *Config) MinimumLead() time.Duration {
	return time.Duration(c.LeadTimeHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}
