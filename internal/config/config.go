// Package config loads bot configuration from an optional YAML file with
// environment-variable overrides. A .env file in the working directory is
// honored for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all bot configuration.
type Config struct {
	// Required credentials. Missing values are fatal at startup.
	DiscordToken string `yaml:"discord_token"`
	GoogleAPIKey string `yaml:"google_api_key"`

	// UseFunctionCalling selects the AI-backed intent router instead of the
	// keyword router.
	UseFunctionCalling bool `yaml:"use_function_calling"`

	// UseGrounding enables Google Search grounding on text generation.
	UseGrounding bool `yaml:"use_grounding"`

	// RAGAPIURL is the base address of the retrieval backend.
	RAGAPIURL string `yaml:"rag_api_url"`

	// StatusAddr is the listen address of the liveness HTTP server.
	StatusAddr string `yaml:"status_addr"`
}

func defaults() Config {
	return Config{
		RAGAPIURL:  "http://localhost:8000",
		StatusAddr: ":7860",
	}
}

// Load reads the YAML file at path (missing file is fine) and then applies
// environment overrides on top. Call Validate before using the result.
func Load(path string) (Config, error) {
	// Best effort; absence of a .env file is the normal production case.
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.DiscordToken = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.GoogleAPIKey = v
	}
	if v := os.Getenv("USE_FUNCTION_CALLING"); v != "" {
		cfg.UseFunctionCalling = parseBool(v)
	}
	if v := os.Getenv("USE_GROUNDING"); v != "" {
		cfg.UseGrounding = parseBool(v)
	}
	if v := os.Getenv("RAG_API_URL"); v != "" {
		cfg.RAGAPIURL = v
	}
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		cfg.StatusAddr = v
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
	return err == nil && b
}

// Validate reports missing required credentials.
func (c Config) Validate() error {
	var missing []string
	if c.DiscordToken == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if c.GoogleAPIKey == "" {
		missing = append(missing, "GOOGLE_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}
