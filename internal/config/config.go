// Package config loads service settings from a TOML file, with secrets and
// deployment overrides taken from the environment (and a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const DefaultSystemPrompt = "You are Rosa, a helpful AI assistant integrated into Obsidian. You help users organize their notes, thoughts, and knowledge. Be concise but helpful."

type Config struct {
	VaultPath   string `toml:"vault_path"`
	IndexPath   string `toml:"index_path"`
	ListenAddr  string `toml:"listen_addr"`
	LogFile     string `toml:"log_file"`
	Environment string `toml:"environment"`
	Timezone    string `toml:"timezone"`
	// UseTimestamps prefixes new note file names with the creation time.
	UseTimestamps bool `toml:"use_timestamps"`

	Folders       FoldersConfig    `toml:"folders"`
	AI            AIConfig         `toml:"ai"`
	Providers     []ProviderConfig `toml:"providers"`
	Personalities []Personality    `toml:"personalities"`
}

// FoldersConfig names the vault folders notes are organized into.
type FoldersConfig struct {
	Projects      string `toml:"projects"`
	People        string `toml:"people"`
	Thoughts      string `toml:"thoughts"`
	Tasks         string `toml:"tasks"`
	Conversations string `toml:"conversations"`
	Templates     string `toml:"templates"`
}

// Target returns the folder for notes of kind project, person, thought or
// task. Plurals are accepted; anything else goes to Thoughts.
func (f FoldersConfig) Target(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "project", "projects":
		return f.Projects
	case "person", "people":
		return f.People
	case "task", "tasks":
		return f.Tasks
	default:
		return f.Thoughts
	}
}

type AIConfig struct {
	DefaultProvider    string  `toml:"default_provider"`
	DefaultPersonality string  `toml:"default_personality"`
	MaxTokens          int     `toml:"max_tokens"`
	Temperature        float64 `toml:"temperature"`
	// ContextTokens bounds the conversation history sent with a request.
	ContextTokens int `toml:"context_tokens"`
}

type ProviderConfig struct {
	ID           string   `toml:"id"`
	Provider     string   `toml:"provider"` // openai, anthropic or local
	APIKey       string   `toml:"api_key"`
	BaseURL      string   `toml:"base_url"`
	Models       []string `toml:"models"`
	DefaultModel string   `toml:"default_model"`
	MaxTokens    int      `toml:"max_tokens"`
	Temperature  *float64 `toml:"temperature"`
	// RequestsPerMinute caps calls to the provider; zero means no limit.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

type Personality struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	Description  string `toml:"description"`
	SystemPrompt string `toml:"system_prompt"`
}

func Default() *Config {
	return &Config{
		VaultPath:     "vault",
		IndexPath:     "rosa-index.db",
		ListenAddr:    ":8100",
		LogFile:       "rosa.log",
		Environment:   "development",
		Timezone:      "Local",
		UseTimestamps: true,
		Folders: FoldersConfig{
			Projects:      "Projects",
			People:        "People",
			Thoughts:      "Thoughts",
			Tasks:         "Tasks",
			Conversations: "Conversations",
			Templates:     "Templates",
		},
		AI: AIConfig{
			DefaultProvider:    "local",
			DefaultPersonality: "rosa",
			MaxTokens:          2000,
			Temperature:        0.7,
			ContextTokens:      6000,
		},
		Providers: []ProviderConfig{{
			ID:           "local",
			Provider:     "local",
			BaseURL:      "http://localhost:11434/v1/",
			Models:       []string{"llama3.1:8b"},
			DefaultModel: "llama3.1:8b",
		}},
		Personalities: []Personality{{
			ID:           "rosa",
			Name:         "Rosa",
			Description:  "General note-taking assistant",
			SystemPrompt: DefaultSystemPrompt,
		}},
	}
}

// Load reads path over the defaults. A missing file is not an error, so the
// service can run on defaults and environment alone.
func Load(path string) (*Config, error) {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			// Lists in the file replace the defaults instead of merging.
			cfg.Providers = nil
			cfg.Personalities = nil
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
			if len(cfg.Personalities) == 0 {
				cfg.Personalities = Default().Personalities
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.VaultPath, "ROSA_VAULT_PATH")
	setString(&c.IndexPath, "ROSA_INDEX_PATH")
	setString(&c.ListenAddr, "ROSA_LISTEN_ADDR")
	setString(&c.LogFile, "ROSA_LOG_FILE")
	setString(&c.Environment, "ROSA_ENV")
	setString(&c.Timezone, "ROSA_TIMEZONE")
	setString(&c.Folders.Conversations, "ROSA_CONVERSATIONS_FOLDER")
	setString(&c.AI.DefaultProvider, "ROSA_DEFAULT_PROVIDER")
	if v := os.Getenv("ROSA_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ROSA_MAX_TOKENS %q: %w", v, err)
		}
		c.AI.MaxTokens = n
	}

	keys := map[string]string{
		"openai":    os.Getenv("OPENAI_API_KEY"),
		"anthropic": os.Getenv("ANTHROPIC_API_KEY"),
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if key := keys[p.Provider]; p.APIKey == "" && key != "" {
			p.APIKey = key
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if c.VaultPath == "" {
		return errors.New("config: vault_path is required")
	}
	if c.Folders.Conversations == "" {
		return errors.New("config: folders.conversations is required")
	}
	if c.AI.MaxTokens <= 0 {
		return fmt.Errorf("config: ai.max_tokens must be positive, got %d", c.AI.MaxTokens)
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("config: ai.temperature must be within [0, 2], got %g", c.AI.Temperature)
	}
	seen := map[string]bool{}
	for _, p := range c.Providers {
		switch p.Provider {
		case "openai", "anthropic", "local":
		default:
			return fmt.Errorf("config: provider %q has unsupported type %q", p.ID, p.Provider)
		}
		if p.ID == "" {
			return fmt.Errorf("config: %s provider needs an id", p.Provider)
		}
		if p.RequestsPerMinute < 0 {
			return fmt.Errorf("config: provider %q has negative requests_per_minute", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	if c.AI.DefaultProvider != "" && len(c.Providers) > 0 && !seen[c.AI.DefaultProvider] {
		return fmt.Errorf("config: default provider %q is not configured", c.AI.DefaultProvider)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Provider returns the provider with the given id, falling back to the
// default provider and then to the first one configured.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, candidate := range []string{id, c.AI.DefaultProvider} {
		for _, p := range c.Providers {
			if candidate != "" && p.ID == candidate {
				return p, true
			}
		}
	}
	if len(c.Providers) > 0 {
		return c.Providers[0], true
	}
	return ProviderConfig{}, false
}

// Personality resolves id the same way Provider does.
func (c *Config) Personality(id string) (Personality, bool) {
	for _, candidate := range []string{id, c.AI.DefaultPersonality} {
		for _, p := range c.Personalities {
			if candidate != "" && p.ID == candidate {
				return p, true
			}
		}
	}
	if len(c.Personalities) > 0 {
		return c.Personalities[0], true
	}
	return Personality{}, false
}
