package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8000},
		Qdrant: QdrantConfig{
			Host:           "localhost",
			Port:           6334,
			CollectionName: "zero_rag_documents",
			VectorDim:      384,
		},
		LLM: LLMConfig{Primary: "ollama"},
		Document: DocumentConfig{
			MaxFileSize:   50 * 1024 * 1024,
			MaxChunkChars: 1000,
			ChunkOverlap:  200,
		},
		RAG:   RAGConfig{TopK: 5, ScoreThreshold: 0.7, MaxContextChars: 4000},
		Store: StoreConfig{MaxQueueSize: 1000, ErrRateHigh: 0.05},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero vector dim", func(c *Config) { c.Qdrant.VectorDim = 0 }, true},
		{"empty collection", func(c *Config) { c.Qdrant.CollectionName = "" }, true},
		{"zero chunk size", func(c *Config) { c.Document.MaxChunkChars = 0 }, true},
		{"overlap >= chunk size", func(c *Config) { c.Document.ChunkOverlap = 1000 }, true},
		{"negative overlap", func(c *Config) { c.Document.ChunkOverlap = -1 }, true},
		{"zero max file size", func(c *Config) { c.Document.MaxFileSize = 0 }, true},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }, true},
		{"threshold above one", func(c *Config) { c.RAG.ScoreThreshold = 1.5 }, true},
		{"err rate above one", func(c *Config) { c.Store.ErrRateHigh = 2 }, true},
		{"zero queue size", func(c *Config) { c.Store.MaxQueueSize = 0 }, true},
		{"unknown llm provider", func(c *Config) { c.LLM.Primary = "anthropic" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateClampsFileSizeToHardCap(t *testing.T) {
	cfg := validConfig()
	cfg.Document.MaxFileSize = MaxFileSizeHardCap + 1

	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(MaxFileSizeHardCap), cfg.Document.MaxFileSize)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zerorag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "zero_rag_documents", cfg.Qdrant.CollectionName)
	assert.Equal(t, 384, cfg.Qdrant.VectorDim)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, 0.7, cfg.RAG.ScoreThreshold)
	assert.Equal(t, "ollama", cfg.LLM.Primary)
	assert.Equal(t, 30, cfg.Streaming.IdleTimeoutMinutes)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadLegacyEnvOverride(t *testing.T) {
	t.Setenv("TOP_K", "9")
	t.Setenv("QDRANT_COLLECTION_NAME", "env_docs")

	dir := t.TempDir()
	path := filepath.Join(dir, "zerorag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9200\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.RAG.TopK)
	assert.Equal(t, "env_docs", cfg.Qdrant.CollectionName)
}

func TestMinChunkChars(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 250, cfg.MinChunkChars())
}

func TestExpandHomePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data"), expandHomePath("~/data"))
	assert.Equal(t, "./data", expandHomePath("./data"))
	assert.Equal(t, "", expandHomePath(""))
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig()
	cfg.Storage = StorageConfig{
		DataDir:   filepath.Join(dir, "data"),
		UploadDir: filepath.Join(dir, "data", "uploads"),
	}

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.Storage.UploadDir)
}
