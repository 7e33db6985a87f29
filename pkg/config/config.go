package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/zerorag/zerorag/pkg/log"
)

// Hard safety cap on upload size regardless of configuration.
const MaxFileSizeHardCap = 100 * 1024 * 1024

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Qdrant     QdrantConfig     `mapstructure:"qdrant"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Document   DocumentConfig   `mapstructure:"document"`
	RAG        RAGConfig        `mapstructure:"rag"`
	Store      StoreConfig      `mapstructure:"store"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type QdrantConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	APIKey         string `mapstructure:"api_key"`
	CollectionName string `mapstructure:"collection_name"`
	VectorDim      int    `mapstructure:"vector_dim"`
}

type EmbeddingConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	BatchSize   int           `mapstructure:"batch_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheSize   int           `mapstructure:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	EnableCache bool          `mapstructure:"enable_cache"`
}

type LLMConfig struct {
	OllamaBaseURL string        `mapstructure:"ollama_base_url"`
	OllamaModel   string        `mapstructure:"ollama_model"`
	OpenAIBaseURL string        `mapstructure:"openai_base_url"`
	OpenAIAPIKey  string        `mapstructure:"openai_api_key"`
	OpenAIModel   string        `mapstructure:"openai_model"`
	Primary       string        `mapstructure:"primary"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type DocumentConfig struct {
	MaxFileSize         int64 `mapstructure:"max_file_size"`
	MaxChunkChars       int   `mapstructure:"max_chunk_chars"`
	ChunkOverlap        int   `mapstructure:"chunk_overlap"`
	MaxChunksPerDoc     int   `mapstructure:"max_chunks_per_doc"`
	MaxConcurrentIngest int   `mapstructure:"max_concurrent_ingest"`
}

type RAGConfig struct {
	TopK            int     `mapstructure:"top_k"`
	ScoreThreshold  float64 `mapstructure:"score_threshold"`
	MaxContextChars int     `mapstructure:"max_context_chars"`
	// Optional YAML file overriding the built-in prompt templates.
	TemplatesFile string `mapstructure:"templates_file"`
}

type StoreConfig struct {
	BatchChunkSize int `mapstructure:"batch_chunk_size"`
	MaxQueueSize   int `mapstructure:"max_queue_size"`
	SlowOpMs       int `mapstructure:"slow_op_ms"`
	MemHighMB      int `mapstructure:"mem_high_mb"`
	QueueHighN     int `mapstructure:"queue_high_n"`
	// Per-op error rate above which an alert fires, 0..1.
	ErrRateHigh float64 `mapstructure:"err_rate_high"`
}

type MonitoringConfig struct {
	HealthIntervalSeconds int  `mapstructure:"health_interval_s"`
	AlertThreshold        int  `mapstructure:"alert_threshold"`
	AutoRecovery          bool `mapstructure:"auto_recovery"`
}

type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	UploadDir    string `mapstructure:"upload_dir"`
	ProcessedDir string `mapstructure:"processed_dir"`
	CacheDir     string `mapstructure:"cache_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StreamingConfig struct {
	IdleTimeoutMinutes int `mapstructure:"idle_timeout_min"`
	SweepIntervalMin   int `mapstructure:"sweep_interval_min"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; matching the deployment convention of the service.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debugf("no .env file loaded: %v", err)
	}

	config := &Config{}

	if configPath != "" {
		absPath, _ := filepath.Abs(configPath)
		viper.SetConfigFile(absPath)
	} else {
		// Check order:
		// 1. ./zerorag.yaml
		// 2. ~/.zerorag/config.yaml
		if _, err := os.Stat("zerorag.yaml"); err == nil {
			abs, _ := filepath.Abs("zerorag.yaml")
			viper.SetConfigFile(abs)
		} else {
			home, err := os.UserHomeDir()
			if err == nil {
				viper.SetConfigFile(filepath.Join(home, ".zerorag", "config.yaml"))
			}
		}
	}

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// Default config file is optional; continue with defaults.
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.expandPaths()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8000)

	viper.SetDefault("qdrant.host", "localhost")
	viper.SetDefault("qdrant.port", 6334)
	viper.SetDefault("qdrant.collection_name", "zero_rag_documents")
	viper.SetDefault("qdrant.vector_dim", 384)

	viper.SetDefault("embedding.base_url", "http://localhost:11434")
	viper.SetDefault("embedding.model", "nomic-embed-text")
	viper.SetDefault("embedding.batch_size", 32)
	viper.SetDefault("embedding.timeout", 30*time.Second)
	viper.SetDefault("embedding.cache_size", 4096)
	viper.SetDefault("embedding.cache_ttl", time.Hour)
	viper.SetDefault("embedding.enable_cache", true)

	viper.SetDefault("llm.ollama_base_url", "http://localhost:11434")
	viper.SetDefault("llm.ollama_model", "llama3.2:1b")
	viper.SetDefault("llm.openai_base_url", "")
	viper.SetDefault("llm.openai_model", "gpt-4o-mini")
	viper.SetDefault("llm.primary", "ollama")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.timeout", 30*time.Second)

	viper.SetDefault("document.max_file_size", int64(50*1024*1024))
	viper.SetDefault("document.max_chunk_chars", 1000)
	viper.SetDefault("document.chunk_overlap", 200)
	viper.SetDefault("document.max_chunks_per_doc", 1000)
	viper.SetDefault("document.max_concurrent_ingest", 4)

	viper.SetDefault("rag.top_k", 5)
	viper.SetDefault("rag.score_threshold", 0.7)
	viper.SetDefault("rag.max_context_chars", 4000)
	viper.SetDefault("rag.templates_file", "")

	viper.SetDefault("store.batch_chunk_size", 10)
	viper.SetDefault("store.max_queue_size", 1000)
	viper.SetDefault("store.slow_op_ms", 1000)
	viper.SetDefault("store.mem_high_mb", 500)
	viper.SetDefault("store.queue_high_n", 100)
	viper.SetDefault("store.err_rate_high", 0.05)

	viper.SetDefault("monitoring.health_interval_s", 30)
	viper.SetDefault("monitoring.alert_threshold", 3)
	viper.SetDefault("monitoring.auto_recovery", true)

	viper.SetDefault("storage.data_dir", "./data")
	viper.SetDefault("storage.upload_dir", "./data/uploads")
	viper.SetDefault("storage.processed_dir", "./data/processed")
	viper.SetDefault("storage.cache_dir", "./data/cache")

	viper.SetDefault("logging.level", "INFO")
	viper.SetDefault("logging.format", "text")

	viper.SetDefault("streaming.idle_timeout_min", 30)
	viper.SetDefault("streaming.sweep_interval_min", 5)
}

func bindEnvVars() {
	viper.SetEnvPrefix("ZERORAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Legacy flat env names kept for deployment compatibility.
	legacy := map[string]string{
		"qdrant.host":              "QDRANT_HOST",
		"qdrant.port":              "QDRANT_PORT",
		"qdrant.api_key":           "QDRANT_API_KEY",
		"qdrant.collection_name":   "QDRANT_COLLECTION_NAME",
		"qdrant.vector_dim":        "VECTOR_DIM",
		"llm.ollama_base_url":      "OLLAMA_HOST",
		"llm.ollama_model":         "OLLAMA_MODEL",
		"llm.openai_api_key":       "OPENAI_API_KEY",
		"llm.temperature":          "TEMPERATURE",
		"llm.max_tokens":           "MAX_TOKENS",
		"document.max_file_size":   "MAX_FILE_SIZE",
		"document.max_chunk_chars": "MAX_CHUNK_CHARS",
		"document.chunk_overlap":   "CHUNK_OVERLAP",
		"rag.top_k":                "TOP_K",
		"rag.score_threshold":      "SCORE_THRESHOLD",
		"rag.max_context_chars":    "MAX_CONTEXT_CHARS",
		"store.max_queue_size":     "MAX_QUEUE_SIZE",
		"storage.upload_dir":       "UPLOAD_DIR",
		"storage.processed_dir":    "PROCESSED_DIR",
		"storage.cache_dir":        "CACHE_DIR",
	}
	for key, env := range legacy {
		if err := viper.BindEnv(key, env); err != nil {
			log.Warnf("failed to bind %s env var: %v", env, err)
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Qdrant.VectorDim <= 0 {
		return fmt.Errorf("vector dim must be positive: %d", c.Qdrant.VectorDim)
	}

	if c.Qdrant.CollectionName == "" {
		return fmt.Errorf("collection name cannot be empty")
	}

	if c.Document.MaxChunkChars <= 0 {
		return fmt.Errorf("chunk size must be positive: %d", c.Document.MaxChunkChars)
	}

	if c.Document.ChunkOverlap < 0 || c.Document.ChunkOverlap >= c.Document.MaxChunkChars {
		return fmt.Errorf("overlap must be between 0 and chunk size: %d", c.Document.ChunkOverlap)
	}

	if c.Document.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive: %d", c.Document.MaxFileSize)
	}
	if c.Document.MaxFileSize > MaxFileSizeHardCap {
		c.Document.MaxFileSize = MaxFileSizeHardCap
	}

	if c.RAG.TopK <= 0 {
		return fmt.Errorf("topK must be positive: %d", c.RAG.TopK)
	}

	if c.RAG.ScoreThreshold < 0 || c.RAG.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be between 0 and 1: %f", c.RAG.ScoreThreshold)
	}

	if c.Store.ErrRateHigh < 0 || c.Store.ErrRateHigh > 1 {
		return fmt.Errorf("err_rate_high must be between 0 and 1: %f", c.Store.ErrRateHigh)
	}

	if c.Store.MaxQueueSize <= 0 {
		return fmt.Errorf("max queue size must be positive: %d", c.Store.MaxQueueSize)
	}

	if c.LLM.Primary != "ollama" && c.LLM.Primary != "openai" {
		return fmt.Errorf("invalid primary llm provider: %s", c.LLM.Primary)
	}

	return nil
}

// MinChunkChars derives the minimum size of an emitted final chunk.
func (c *Config) MinChunkChars() int {
	return c.Document.MaxChunkChars / 4
}

// EnsureDirectories creates the filesystem roots used at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.UploadDir,
		c.Storage.ProcessedDir,
		c.Storage.CacheDir,
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Storage.DataDir = expandHomePath(c.Storage.DataDir)
	c.Storage.UploadDir = expandHomePath(c.Storage.UploadDir)
	c.Storage.ProcessedDir = expandHomePath(c.Storage.ProcessedDir)
	c.Storage.CacheDir = expandHomePath(c.Storage.CacheDir)
}

func expandHomePath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	return path
}
