package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration, shared by both binaries.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Trace     TraceConfig     `mapstructure:"trace"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`

	// StatusBaseURL is the upstream API that receives per-document
	// indexing status reports.
	StatusBaseURL string `mapstructure:"status_base_url"`

	// RagServiceURL is where the indexer sends retriever reload triggers.
	RagServiceURL string `mapstructure:"rag_service_url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QueueConfig struct {
	IndexQueue   string        `mapstructure:"index_queue"`
	DeindexQueue string        `mapstructure:"deindex_queue"`
	Backoff      time.Duration `mapstructure:"backoff"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	Dimensions int    `mapstructure:"dimensions"`
}

type EmbeddingConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type DocumentsConfig struct {
	// Dir is the shared volume where the upstream writer stores uploads.
	Dir          string `mapstructure:"dir"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
}

type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`

	// RRFConstant dampens how strongly top ranks dominate rank fusion.
	RRFConstant int `mapstructure:"rrf_constant"`

	// DrainDelay is how long a replaced vector-store handle is kept open
	// so in-flight searches against it can finish.
	DrainDelay time.Duration `mapstructure:"drain_delay"`
}

type AuthConfig struct {
	// ReloadTTL is the lifetime of one-time reload credentials. Chat
	// credentials are issued by the upstream API, not here.
	ReloadTTL time.Duration `mapstructure:"reload_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TraceConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Documents.ChunkOverlap >= c.Documents.ChunkSize {
		warnings = append(warnings, fmt.Sprintf("chunk overlap %d >= chunk size %d; chunking would not advance", c.Documents.ChunkOverlap, c.Documents.ChunkSize))
	}
	if c.Retrieval.TopK <= 0 {
		warnings = append(warnings, fmt.Sprintf("retrieval top_k %d is not positive", c.Retrieval.TopK))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}
	if c.Auth.ReloadTTL <= 0 {
		warnings = append(warnings, "auth reload_ttl is not positive; reload credentials would expire immediately")
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("queue.index_queue", "document-indexing-queue")
	v.SetDefault("queue.deindex_queue", "document-deindexing-queue")
	v.SetDefault("queue.backoff", 5*time.Second)
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "rag_documents")
	v.SetDefault("vector.dimensions", 1024)
	v.SetDefault("documents.dir", "/var/lib/corpusd/documents")
	v.SetDefault("documents.chunk_size", 1000)
	v.SetDefault("documents.chunk_overlap", 200)
	v.SetDefault("retrieval.top_k", 4)
	v.SetDefault("retrieval.rrf_constant", 60)
	v.SetDefault("retrieval.drain_delay", 30*time.Second)
	v.SetDefault("auth.reload_ttl", 10*time.Second)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("trace.sample_rate", 1.0)
	v.SetDefault("trace.environment", "development")
}

// Load reads configuration from file and environment. A missing config file
// is not an error: defaults plus CORPUSD_* environment variables cover the
// containerized deployment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("CORPUSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
