package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Load reads config from a YAML (or JSON5) file, then overlays env vars and
// file-mounted secrets. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.expandPaths()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Every secret also
// honors a ${NAME}_FILE indirection pointing at a mounted secret file.
func (c *Config) applyEnvOverrides() {
	envStr("DOCSAGE_DATA_ROOT", &c.Global.DataRoot)
	envStr("DOCSAGE_VERBOSITY", &c.Global.Verbosity)
	envSecret("DOCSAGE_ADMIN_TOKEN", &c.Global.AdminToken)
	envSecret("DOCSAGE_EMBEDDING_API_KEY", &c.DataManager.EmbeddingAPIKey)
	envSecret("DOCSAGE_POSTGRES_DSN", &c.Services.Database.PostgresDSN)
	envSecret("DOCSAGE_SSO_PASSWORD", &c.Utils.SSO.Password)
	envStr("DOCSAGE_SSO_USERNAME", &c.Utils.SSO.Username)

	envStr("DOCSAGE_HOST", &c.Services.Host)
	if v := os.Getenv("DOCSAGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Services.Port = port
		}
	}

	envStr("DOCSAGE_TELEMETRY_ENDPOINT", &c.Services.Telemetry.Endpoint)
	envStr("DOCSAGE_TELEMETRY_PROTOCOL", &c.Services.Telemetry.Protocol)
	envStr("DOCSAGE_TELEMETRY_SERVICE_NAME", &c.Services.Telemetry.ServiceName)
	if v := os.Getenv("DOCSAGE_TELEMETRY_ENABLED"); v != "" {
		c.Services.Telemetry.Enabled = v == "true" || v == "1"
	}

	// Per-model API keys: DOCSAGE_MODEL_<HANDLE>_API_KEY overrides the file value.
	for name, m := range c.Assistant.Models {
		key := "DOCSAGE_MODEL_" + strings.ToUpper(name) + "_API_KEY"
		envSecret(key, &m.APIKey)
		c.Assistant.Models[name] = m
	}
}

// expandPaths resolves "~" prefixes and makes derived paths absolute.
func (c *Config) expandPaths() {
	c.Global.DataRoot = expandHome(c.Global.DataRoot)
	if c.DataManager.IndexPath == "" {
		c.DataManager.IndexPath = filepath.Join(c.Global.DataRoot, "index.db")
	} else {
		c.DataManager.IndexPath = expandHome(c.DataManager.IndexPath)
	}
	if c.Services.Database.SQLitePath == "" {
		c.Services.Database.SQLitePath = filepath.Join(c.Global.DataRoot, "chat.db")
	} else {
		c.Services.Database.SQLitePath = expandHome(c.Services.Database.SQLitePath)
	}
	if c.Sources.Uploads.Dir != "" {
		c.Sources.Uploads.Dir = expandHome(c.Sources.Uploads.Dir)
	}
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envSecret reads KEY, falling back to the contents of the file named by
// KEY_FILE. Secret values are never logged.
func envSecret(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
		return
	}
	if path := os.Getenv(key + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			*dst = strings.TrimSpace(string(data))
		}
	}
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") || p == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
