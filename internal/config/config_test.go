package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://api.anthropic.com", cfg.Anthropic.BaseURL)
	assert.Equal(t, "2023-06-01", cfg.Anthropic.Version)
	assert.Equal(t, 4096, cfg.Anthropic.MaxTokens)
	assert.Equal(t, "https://api.openai.com", cfg.OpenAI.BaseURL)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
}

func TestLoadReadsFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  read_timeout: 30s
storage:
  type: memory
  data_dir: /tmp/talka
anthropic:
  api_key: sk-ant-from-file
  model: claude-3-5-haiku-20241022
  max_tokens: 2048
openai:
  base_url: https://proxy.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "/tmp/talka", cfg.Storage.DataDir)
	assert.Equal(t, "sk-ant-from-file", cfg.Anthropic.APIKey)
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.Anthropic.Model)
	assert.Equal(t, 2048, cfg.Anthropic.MaxTokens)
	assert.Equal(t, "https://proxy.example.com", cfg.OpenAI.BaseURL)
}

func TestLoadFallsBackToEnvForAPIKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")
	t.Setenv("OPENAI_API_KEY", "sk-oai-from-env")

	path := writeConfig(t, `
anthropic:
  api_key: sk-ant-from-file
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// 配置文件优先，未配置的才回退环境变量
	assert.Equal(t, "sk-ant-from-file", cfg.Anthropic.APIKey)
	assert.Equal(t, "sk-oai-from-env", cfg.OpenAI.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
