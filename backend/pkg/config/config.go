package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendNeo4j  = "neo4j"
	BackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Graph store
	StoreBackend     string
	Neo4jURI         string
	Neo4jUser        string
	Neo4jPassword    string
	Neo4jDatabase    string
	GraphCallTimeout time.Duration
	GraphMaxRetries  int

	// Review queue and job records
	SQLitePath string

	// Search cache invalidation (empty NATSURL disables publishing)
	NATSURL      string
	CacheSubject string

	// Embedding provider (empty QdrantAddr disables the provider)
	QdrantAddr       string
	QdrantCollection string

	// Embedding generation over an OpenAI-compatible API (empty EmbeddingURL disables it)
	EmbeddingURL    string
	EmbeddingAPIKey string
	EmbeddingModel  string

	// Discovery
	MinTagSimilarity float64
	JobBudget        time.Duration
	JobLease         time.Duration
	DefaultWait      time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		StoreBackend:     getEnv("STORE_BACKEND", BackendNeo4j),
		Neo4jURI:         getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:        getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:    getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase:    getEnv("NEO4J_DATABASE", ""),
		GraphCallTimeout: getEnvDuration("GRAPH_CALL_TIMEOUT", 10*time.Second),
		GraphMaxRetries:  getEnvInt("GRAPH_MAX_RETRIES", 4),
		SQLitePath:       getEnv("SQLITE_PATH", "data/contactgraph.db"),
		NATSURL:          getEnv("NATS_URL", ""),
		CacheSubject:     getEnv("CACHE_SUBJECT", "search.cache.invalidate"),
		QdrantAddr:       getEnv("QDRANT_ADDR", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "contact_embeddings"),
		EmbeddingURL:     getEnv("EMBEDDING_URL", ""),
		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "multilingual-e5-large"),
		MinTagSimilarity: getEnvFloat("MIN_TAG_SIMILARITY", 0.3),
		JobBudget:        getEnvDuration("JOB_BUDGET", 10*time.Minute),
		JobLease:         getEnvDuration("JOB_LEASE", 30*time.Second),
		DefaultWait:      getEnvDuration("DEFAULT_WAIT", 5*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendNeo4j:
		if c.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required")
		}
		if c.Neo4jUser == "" {
			return fmt.Errorf("NEO4J_USER is required")
		}
		if c.Neo4jPassword == "" {
			return fmt.Errorf("NEO4J_PASSWORD is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendNeo4j, BackendMemory, c.StoreBackend)
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required")
	}
	if c.MinTagSimilarity < 0 || c.MinTagSimilarity > 1 {
		return fmt.Errorf("MIN_TAG_SIMILARITY must be within [0,1], got %v", c.MinTagSimilarity)
	}
	if c.JobBudget <= 0 {
		return fmt.Errorf("JOB_BUDGET must be positive")
	}
	if c.JobLease < time.Second {
		return fmt.Errorf("JOB_LEASE must be at least 1s, got %v", c.JobLease)
	}
	if c.GraphMaxRetries < 1 {
		return fmt.Errorf("GRAPH_MAX_RETRIES must be at least 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
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
