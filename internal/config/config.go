package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	// VectorBackend selects the index implementation: pgvector, qdrant or
	// memory.
	VectorBackend       string `yaml:"vectorBackend"`
	QdrantAddr          string `yaml:"qdrantAddr"`
	QdrantCollection    string `yaml:"qdrantCollection"`
	EmbeddingProvider   string `yaml:"embeddingProvider"`
	EmbeddingModel      string `yaml:"embeddingModel"`
	EmbeddingDimensions int    `yaml:"embeddingDimensions"`

	OpenAIAPIKey  string `yaml:"openAIAPIKey"`
	OpenAIBaseURL string `yaml:"openAIBaseURL"`
	OllamaURL     string `yaml:"ollamaURL"`

	PrimaryModel  string `yaml:"primaryModel"`
	FallbackModel string `yaml:"fallbackModel"`

	PromptTemplateVersion string `yaml:"promptTemplateVersion"`
	TopK                  int    `yaml:"topK"`
	ContextLimit          int    `yaml:"contextLimit"`
	HistoryLimit          int    `yaml:"historyLimit"`
	MaxRetries            int    `yaml:"maxRetries"`
	RetryBaseDelayMs      int    `yaml:"retryBaseDelayMs"`
	ChunkSize             int    `yaml:"chunkSize"`
	ChunkOverlap          int    `yaml:"chunkOverlap"`

	RedisAddr string `yaml:"redisAddr"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := os.Getenv("QDRANT_ADDR"); v != "" {
		cfg.QdrantAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.VectorBackend == "" {
		cfg.VectorBackend = "pgvector"
	}
	if cfg.EmbeddingProvider == "" {
		cfg.EmbeddingProvider = "openai"
	}
	if cfg.EmbeddingDimensions == 0 {
		cfg.EmbeddingDimensions = 1536
	}
	if cfg.QdrantCollection == "" {
		cfg.QdrantCollection = "chat_memory"
	}
	if cfg.PromptTemplateVersion == "" {
		cfg.PromptTemplateVersion = "current"
	}
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = "chat.events"
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = "chat-images"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.PrimaryModel == "" {
		return errors.New("config: primaryModel is required (set in config.yaml)")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml)")
	}
	switch cfg.VectorBackend {
	case "pgvector", "memory":
	case "qdrant":
		if cfg.QdrantAddr == "" {
			return errors.New("config: qdrantAddr is required when vectorBackend is qdrant")
		}
	default:
		return fmt.Errorf("config: unknown vectorBackend %q", cfg.VectorBackend)
	}
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return errors.New("config: openAIAPIKey is required (set in config.yaml or OPENAI_API_KEY)")
		}
	case "ollama":
		if cfg.OllamaURL == "" {
			return errors.New("config: ollamaURL is required when embeddingProvider is ollama")
		}
	default:
		return fmt.Errorf("config: unknown embeddingProvider %q", cfg.EmbeddingProvider)
	}
	switch cfg.PromptTemplateVersion {
	case "current", "legacy":
	default:
		return fmt.Errorf("config: unknown promptTemplateVersion %q", cfg.PromptTemplateVersion)
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minioAccessKey and minioSecretKey are required when minioEndpoint is set")
	}
	return nil
}
