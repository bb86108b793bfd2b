package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SCRIBE_JWT_SECRET", "test-secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.Extraction.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Jobs.Grace)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "test-secret", cfg.Secrets.JWTSecret)
	assert.Empty(t, cfg.Secrets.OpenAIAPIKey)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(`
server:
  port: 9090
database:
  driver: memory
extraction:
  timeout: 45s
  chunk_size: 400
  chunk_overlap: 40
`), 0o600))
	t.Setenv("SCRIBE_JWT_SECRET", "test-secret")
	t.Setenv("SCRIBE_OPENAI_API_KEY", "sk-test")
	t.Setenv("SCRIBE_SERVER_PORT", "7070")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 45*time.Second, cfg.Extraction.Timeout)
	assert.Equal(t, 400, cfg.Extraction.ChunkSize)
	assert.Equal(t, "sk-test", cfg.Secrets.OpenAIAPIKey)
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("SCRIBE_JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("SCRIBE_JWT_SECRET"))

	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:   DatabaseConfig{Driver: "memory"},
			Extraction: ExtractionConfig{Timeout: time.Minute, ChunkSize: 200},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"zero timeout", func(c *Config) { c.Extraction.Timeout = 0 }},
		{"zero chunk size", func(c *Config) { c.Extraction.ChunkSize = 0 }},
		{"overlap too large", func(c *Config) { c.Extraction.ChunkOverlap = 200 }},
		{"negative overlap", func(c *Config) { c.Extraction.ChunkOverlap = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "scribe", Password: "pw", Name: "scribe", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=scribe password=pw dbname=scribe sslmode=disable", c.DSN())
}
