package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rosa.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "Conversations", cfg.Folders.Conversations)
	assert.Equal(t, "Templates", cfg.Folders.Templates)
	assert.True(t, cfg.UseTimestamps)
	assert.Equal(t, 2000, cfg.AI.MaxTokens)
	assert.Equal(t, 0.7, cfg.AI.Temperature)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "local", cfg.Providers[0].Provider)
	assert.Equal(t, DefaultSystemPrompt, cfg.Personalities[0].SystemPrompt)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
vault_path = "/data/vault"
timezone = "UTC"
use_timestamps = false

[folders]
conversations = "Chats"

[ai]
default_provider = "work"
max_tokens = 1024
temperature = 0.2

[[providers]]
id = "work"
provider = "anthropic"
default_model = "claude-3-sonnet-20240229"
models = ["claude-3-sonnet-20240229"]

[[providers]]
id = "home"
provider = "openai"
api_key = "sk-file"
default_model = "gpt-4"
temperature = 0.0

[[personalities]]
id = "coach"
name = "Coach"
system_prompt = "Push me."
`)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/vault", cfg.VaultPath)
	assert.False(t, cfg.UseTimestamps)
	assert.Equal(t, "Chats", cfg.Folders.Conversations)
	assert.Equal(t, "Templates", cfg.Folders.Templates, "unset keys keep defaults")
	assert.Equal(t, 1024, cfg.AI.MaxTokens)
	require.Len(t, cfg.Providers, 2)

	work, ok := cfg.Provider("work")
	require.True(t, ok)
	assert.Equal(t, "sk-ant-env", work.APIKey, "empty key is filled from the environment")

	home, ok := cfg.Provider("home")
	require.True(t, ok)
	assert.Equal(t, "sk-file", home.APIKey, "file key wins over the environment")
	require.NotNil(t, home.Temperature)
	assert.Equal(t, 0.0, *home.Temperature)

	p, ok := cfg.Personality("unknown")
	require.True(t, ok)
	assert.Equal(t, "coach", p.ID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ROSA_VAULT_PATH", "/tmp/v")
	t.Setenv("ROSA_CONVERSATIONS_FOLDER", "AI")
	t.Setenv("ROSA_MAX_TOKENS", "512")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/v", cfg.VaultPath)
	assert.Equal(t, "AI", cfg.Folders.Conversations)
	assert.Equal(t, 512, cfg.AI.MaxTokens)

	t.Setenv("ROSA_MAX_TOKENS", "lots")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad toml":         "vault_path = ",
		"unknown provider": "[[providers]]\nid = \"x\"\nprovider = \"gemini\"\n",
		"missing id":       "[[providers]]\nprovider = \"openai\"\n",
		"duplicate id":     "[ai]\ndefault_provider = \"a\"\n[[providers]]\nid = \"a\"\nprovider = \"openai\"\n[[providers]]\nid = \"a\"\nprovider = \"local\"\n",
		"dangling default": "[ai]\ndefault_provider = \"nope\"\n[[providers]]\nid = \"a\"\nprovider = \"openai\"\n",
		"bad temperature":  "[ai]\ntemperature = 3.5\n",
		"bad timezone":     "timezone = \"Mars/Olympus\"\n",
		"negative rate":    "[ai]\ndefault_provider = \"a\"\n[[providers]]\nid = \"a\"\nprovider = \"local\"\nrequests_per_minute = -1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestConfig_ProviderFallback(t *testing.T) {
	cfg := Default()
	cfg.Providers = append(cfg.Providers, ProviderConfig{ID: "oa", Provider: "openai"})

	p, ok := cfg.Provider("oa")
	require.True(t, ok)
	assert.Equal(t, "oa", p.ID)

	p, ok = cfg.Provider("")
	require.True(t, ok)
	assert.Equal(t, "local", p.ID)

	cfg.Providers = nil
	_, ok = cfg.Provider("oa")
	assert.False(t, ok)
}

func TestFoldersConfig_Target(t *testing.T) {
	f := Default().Folders
	tests := map[string]string{
		"project": "Projects",
		"People":  "People",
		" task ":  "Tasks",
		"thought": "Thoughts",
		"":        "Thoughts",
		"recipe":  "Thoughts",
	}
	for kind, want := range tests {
		assert.Equal(t, want, f.Target(kind), kind)
	}
}
