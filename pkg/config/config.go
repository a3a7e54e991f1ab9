package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Cache     CacheConfig
	LLM       LLMConfig
	RAG       RAGConfig
	Upload    UploadConfig
	Chat      ChatConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host          string
	Port          int
	ReadTimeout   int
	WriteTimeout  int
	BodyLimit     int
	IsDevelopment bool
	AllowOrigins  []string
}

type SQLiteConfig struct {
	Path string
}

// StorageConfig points at the root that raw uploaded files are written under.
// Any URL the afs package understands works (file://, plain paths, mem://).
type StorageConfig struct {
	BaseURL string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	Backend string
	TTLSec  int
	Size    int
}

type LLMConfig struct {
	APIKey             string
	BaseURL            string
	Model              string
	Temperature        float32
	MaxTokens          int
	TimeoutSec         int
	EmbeddingModel     string
	EmbeddingBatchSize int
}

type RAGConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	ChunksPerPage int
	TopK          int
	ExcerptLength int
}

type UploadConfig struct {
	MaxBytes         int
	AllowedMIMETypes []string
}

type ChatConfig struct {
	MaxContentLength int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/docchat")

	v.SetEnvPrefix("DOCCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	// multipart framing on top of the 10MB upload cap
	v.SetDefault("server.bodyLimit", 11*1024*1024)
	v.SetDefault("server.isDevelopment", false)
	v.SetDefault("server.allowOrigins", []string{"*"})

	v.SetDefault("sqlite.path", "./data/docchat.db")

	v.SetDefault("storage.baseURL", "file:///tmp/docchat/uploads")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttlSec", 3600)
	v.SetDefault("cache.size", 1024)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingBatchSize", 100)

	v.SetDefault("rag.chunkSize", 2000)
	v.SetDefault("rag.chunkOverlap", 100)
	v.SetDefault("rag.chunksPerPage", 2)
	v.SetDefault("rag.topK", 3)
	v.SetDefault("rag.excerptLength", 150)

	v.SetDefault("upload.maxBytes", 10*1024*1024)
	v.SetDefault("upload.allowedMIMETypes", []string{"application/pdf"})

	v.SetDefault("chat.maxContentLength", 4000)

	v.SetDefault("ratelimit.requestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
