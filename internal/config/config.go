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
	App      AppConfig
	Database DatabaseConfig
	Keys     APIKeys
	Ai       AIConfig
	Match    MatchConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	StoreDriver        string // "postgres" or "memory"
	InboundWorkers     int
	ResetStateOnStart  bool
}

type DatabaseConfig struct {
	Connection string
}

type APIKeys struct {
	GoogleGemini string
	HuggingFace  string
}

type AIConfig struct {
	LLMProvider        string // "gemini", "ollama" or "huggingface"
	LLMModel           string
	OllamaBaseURL      string
	HuggingFaceBaseURL string
}

// MatchConfig holds the timing knobs of the matchmaking engine.
type MatchConfig struct {
	SearchTimeout     time.Duration
	OpenerTypingDelay time.Duration
	OpenerSendDelay   time.Duration

	// InactivityStages are cumulative offsets from the moment escalation is scheduled.
	// Every stage but the last sends a nudge; the last one ends the chat.
	InactivityStages []time.Duration

	ReplyBaseDelay    time.Duration
	ReplyPerCharDelay time.Duration
	ReplyMaxJitter    time.Duration
	ReplyMaxDelay     time.Duration

	StoreMaxRetries int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			StoreDriver:        getEnv("STORE_DRIVER", "postgres"),
			InboundWorkers:     getEnvAsInt("INBOUND_WORKERS", 8),
			ResetStateOnStart:  getEnvAsBool("RESET_STATE_ON_START", true),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Keys: APIKeys{
			GoogleGemini: getEnv("GOOGLE_GEMINI_API_KEY", ""),
			HuggingFace:  getEnv("HUGGINGFACE_API_KEY", ""),
		},
		Ai: AIConfig{
			LLMProvider:        getEnv("LLM_PROVIDER", "gemini"),
			LLMModel:           getEnv("LLM_MODEL", "gemini-2.5-flash"),
			OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			HuggingFaceBaseURL: getEnv("HUGGINGFACE_BASE_URL", ""),
		},
		Match: LoadMatchConfig(),
	}
}

// LoadMatchConfig reads only the matchmaking knobs, so tools that do not need the full
// configuration can share the same defaults.
func LoadMatchConfig() MatchConfig {
	return MatchConfig{
		SearchTimeout:     getEnvAsDuration("SEARCH_TIMEOUT", 7*time.Second),
		OpenerTypingDelay: getEnvAsDuration("OPENER_TYPING_DELAY", 1*time.Second),
		OpenerSendDelay:   getEnvAsDuration("OPENER_SEND_DELAY", 2*time.Second),
		InactivityStages: getEnvAsDurations("INACTIVITY_STAGES", []time.Duration{
			1 * time.Minute,
			5 * time.Minute,
			10 * time.Minute,
		}),
		ReplyBaseDelay:    getEnvAsDuration("REPLY_BASE_DELAY", 1500*time.Millisecond),
		ReplyPerCharDelay: getEnvAsDuration("REPLY_PER_CHAR_DELAY", 50*time.Millisecond),
		ReplyMaxJitter:    getEnvAsDuration("REPLY_MAX_JITTER", 1500*time.Millisecond),
		ReplyMaxDelay:     getEnvAsDuration("REPLY_MAX_DELAY", 10*time.Second),
		StoreMaxRetries:   getEnvAsInt("STORE_MAX_RETRIES", 5),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil && value >= 0 {
		return value
	}
	return fallback
}

// getEnvAsDurations parses a comma separated, strictly increasing list of durations.
// Any malformed entry discards the whole value.
func getEnvAsDurations(key string, fallback []time.Duration) []time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}

	parts := strings.Split(strValue, ",")
	values := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			log.Printf("Note: invalid %s entry %q, using defaults", key, part)
			return fallback
		}
		if len(values) > 0 && d <= values[len(values)-1] {
			log.Printf("Note: %s must be increasing, using defaults", key)
			return fallback
		}
		values = append(values, d)
	}
	return values
}
