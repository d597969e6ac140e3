package config

import (
	"os"
	"strconv"
)

type Config struct {
	StoreDriver   string // "mongo" or "memory"
	MongoURI      string
	MongoDatabase string

	OpenAIBaseURL    string // any OpenAI-compatible endpoint
	OpenAIAPIKey     string
	OpenAIChatModel  string
	OpenAIEmbedModel string

	EmbeddingDimensions int
	Temperature         float64
	MaxTokens           int

	Port        string
	Environment string

	ChunkSize    int
	ChunkOverlap int
	TopK         int

	WorkerConcurrency int
	QueueSize         int
}

func Load() *Config {
	getEnv := func(key, defaultValue string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		return defaultValue
	}

	getEnvInt := func(key string, defaultValue int) int {
		valueStr := os.Getenv(key)
		if valueStr == "" {
			return defaultValue
		}
		value, err := strconv.Atoi(valueStr)
		if err != nil {
			return defaultValue
		}
		return value
	}

	getEnvFloat := func(key string, defaultValue float64) float64 {
		valueStr := os.Getenv(key)
		if valueStr == "" {
			return defaultValue
		}
		value, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return defaultValue
		}
		return value
	}

	return &Config{
		StoreDriver:   getEnv("STORE_DRIVER", "mongo"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "answerdesk"),

		// Provider credentials are optional: without them embedding and
		// generation degrade to placeholders rather than failing.
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIChatModel:  getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIEmbedModel: getEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small"),

		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		Temperature:         getEnvFloat("OPENAI_TEMPERATURE", 0.1),
		MaxTokens:           getEnvInt("OPENAI_MAX_TOKENS", 1024),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 2500),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 400),
		TopK:         getEnvInt("TOP_K", 5),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		QueueSize:         getEnvInt("INGEST_QUEUE_SIZE", 64),
	}
}
