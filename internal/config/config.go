package config

import (
	"fmt"
	"strings"
)

// Config is the full service configuration. The on-disk document uses the
// section names {global, data_manager, a2rchi, services, sources, utils};
// those keys are an external contract consumed by deployment tooling.
type Config struct {
	Global      GlobalConfig    `yaml:"global" json:"global"`
	DataManager DataManager     `yaml:"data_manager" json:"data_manager"`
	Assistant   AssistantConfig `yaml:"a2rchi" json:"a2rchi"`
	Services    ServicesConfig  `yaml:"services" json:"services"`
	Sources     SourcesConfig   `yaml:"sources" json:"sources"`
	Utils       UtilsConfig     `yaml:"utils" json:"utils"`
}

// GlobalConfig holds deployment-wide settings.
type GlobalConfig struct {
	DataRoot   string `yaml:"data_root" json:"data_root"`
	Verbosity  string `yaml:"verbosity" json:"verbosity"` // "debug", "info", "warn"
	AdminToken string `yaml:"admin_token" json:"admin_token"`
}

// DataManager holds the static (restart-required) index settings.
type DataManager struct {
	EmbeddingModel  string  `yaml:"embedding_model" json:"embedding_model"`
	EmbeddingBase   string  `yaml:"embedding_base" json:"embedding_base"`
	EmbeddingAPIKey string  `yaml:"embedding_api_key" json:"embedding_api_key"`
	EmbeddingDim    int     `yaml:"embedding_dim" json:"embedding_dim"`
	ChunkSize       int     `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap    int     `yaml:"chunk_overlap" json:"chunk_overlap"`
	DistanceMetric  string  `yaml:"distance_metric" json:"distance_metric"` // "cosine", "l2", "ip"
	Stemming        bool    `yaml:"stemming" json:"stemming"`
	ParallelWorkers int     `yaml:"parallel_workers" json:"parallel_workers"`
	ResetCollection bool    `yaml:"reset_collection" json:"reset_collection"`
	BM25K1          float64 `yaml:"bm25_k1" json:"bm25_k1"`
	BM25B           float64 `yaml:"bm25_b" json:"bm25_b"`
	IndexPath       string  `yaml:"index_path" json:"index_path"`
}

// ModelConfig identifies one model handle by registry tag.
type ModelConfig struct {
	Class       string  `yaml:"class" json:"class"` // registry tag, e.g. "openai"
	Name        string  `yaml:"name" json:"name"`
	APIBase     string  `yaml:"api_base" json:"api_base"`
	APIKey      string  `yaml:"api_key" json:"api_key"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	TopP        float64 `yaml:"top_p" json:"top_p"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// AssistantConfig holds pipeline, model and prompt settings.
type AssistantConfig struct {
	DefaultPipeline string                 `yaml:"default_pipeline" json:"default_pipeline"`
	Models          map[string]ModelConfig `yaml:"models" json:"models"`
	Prompts         map[string]string      `yaml:"prompts" json:"prompts"` // name → file path or inline text
	ChatModel       string                 `yaml:"chat_model" json:"chat_model"`
	CondenseModel   string                 `yaml:"condense_model" json:"condense_model"`
	VisionModel     string                 `yaml:"vision_model" json:"vision_model"`
	GradingModels   GradingModels          `yaml:"grading_models" json:"grading_models"`
	RetrievalK      int                    `yaml:"retrieval_k" json:"retrieval_k"`
	TokenBudget     TokenBudget            `yaml:"token_budget" json:"token_budget"`
	Agent           AgentConfig            `yaml:"agent" json:"agent"`
	Safety          SafetyConfig           `yaml:"safety" json:"safety"`
	TurnTimeoutSecs int                    `yaml:"turn_timeout_secs" json:"turn_timeout_secs"`
}

// GradingModels names the model handles used by the grading pipeline.
type GradingModels struct {
	Summary    string `yaml:"summary" json:"summary"`
	Analysis   string `yaml:"analysis" json:"analysis"`
	FinalGrade string `yaml:"final_grade" json:"final_grade"`
}

// TokenBudget configures prompt pruning.
type TokenBudget struct {
	MaxTokens          int `yaml:"max_tokens" json:"max_tokens"`
	Reserved           int `yaml:"reserved" json:"reserved"`
	MinHistoryMessages int `yaml:"min_history_messages" json:"min_history_messages"`
	MinDocs            int `yaml:"min_docs" json:"min_docs"`
}

// AgentConfig configures the tool-using agent variant.
type AgentConfig struct {
	Model            string `yaml:"model" json:"model"`
	MaxToolSteps     int    `yaml:"max_tool_steps" json:"max_tool_steps"`
	ToolTimeoutSecs  int    `yaml:"tool_timeout_secs" json:"tool_timeout_secs"`
	ToolPreviewChars int    `yaml:"tool_preview_chars" json:"tool_preview_chars"`
}

// SafetyConfig configures the optional safety hook.
type SafetyConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	BlockedTerms  []string `yaml:"blocked_terms" json:"blocked_terms"`
	CannedMessage string   `yaml:"canned_message" json:"canned_message"`
}

// ServicesConfig holds the HTTP surface and telemetry settings.
type ServicesConfig struct {
	Host      string          `yaml:"host" json:"host"`
	Port      int             `yaml:"port" json:"port"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// DatabaseConfig selects the chat store backend. An empty DSN selects the
// embedded sqlite file under data_root.
type DatabaseConfig struct {
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path" json:"sqlite_path"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	Protocol    string `yaml:"protocol" json:"protocol"` // "http" or "grpc"
	ServiceName string `yaml:"service_name" json:"service_name"`
	Insecure    bool   `yaml:"insecure" json:"insecure"`
}

// LinkSource is one scraper seed list.
type LinkSource struct {
	Name     string   `yaml:"name" json:"name"`
	URLs     []string `yaml:"urls" json:"urls"`
	Depth    int      `yaml:"depth" json:"depth"`
	MaxPages int      `yaml:"max_pages" json:"max_pages"`
	Cron     string   `yaml:"cron" json:"cron"`
	Reset    bool     `yaml:"reset_data" json:"reset_data"`
}

// GitSource is one git repository to ingest.
type GitSource struct {
	Name       string `yaml:"name" json:"name"`
	URL        string `yaml:"url" json:"url"`
	Branch     string `yaml:"branch" json:"branch"`
	MkDocs     bool   `yaml:"mkdocs" json:"mkdocs"`
	Code       bool   `yaml:"code" json:"code"`
	ReadmeOnly bool   `yaml:"readme_only" json:"readme_only"`
	Cron       string `yaml:"cron" json:"cron"`
	Reset      bool   `yaml:"reset_data" json:"reset_data"`
}

// TicketSource is one external ticket system.
type TicketSource struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"` // e.g. "redmine", "jira"
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Project string `yaml:"project" json:"project"`
	Cron    string `yaml:"cron" json:"cron"`
	Reset   bool   `yaml:"reset_data" json:"reset_data"`
}

// SourcesConfig enumerates everything the ingestion orchestrator drives.
type SourcesConfig struct {
	Links   []LinkSource   `yaml:"links" json:"links"`
	Git     []GitSource    `yaml:"git" json:"git"`
	Tickets []TicketSource `yaml:"tickets" json:"tickets"`
	Uploads UploadsConfig  `yaml:"uploads" json:"uploads"`
}

// UploadsConfig configures user-uploaded file intake.
type UploadsConfig struct {
	Dir   string `yaml:"dir" json:"dir"`
	Cron  string `yaml:"cron" json:"cron"`
	Reset bool   `yaml:"reset_data" json:"reset_data"`
}

// SSOConfig configures the authenticated browser session used for
// "sso-" prefixed scrape URLs.
type SSOConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	LoginURL string `yaml:"login_url" json:"login_url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	Headless bool   `yaml:"headless" json:"headless"`
}

// MCPServerConfig declares one external MCP tool server whose tools join
// the agent's registry.
type MCPServerConfig struct {
	Enabled    *bool             `yaml:"enabled" json:"enabled"` // nil means enabled
	Transport  string            `yaml:"transport" json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `yaml:"command" json:"command"`
	Args       []string          `yaml:"args" json:"args"`
	Env        map[string]string `yaml:"env" json:"env"`
	URL        string            `yaml:"url" json:"url"`
	Headers    map[string]string `yaml:"headers" json:"headers"`
	ToolPrefix string            `yaml:"tool_prefix" json:"tool_prefix"`
	TimeoutSec int               `yaml:"timeout_secs" json:"timeout_secs"`
}

func (c MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// UtilsConfig holds shared helper settings.
type UtilsConfig struct {
	ScraperRPS    float64                    `yaml:"scraper_rps" json:"scraper_rps"`
	ScraperBurst  int                        `yaml:"scraper_burst" json:"scraper_burst"`
	RetryAttempts int                        `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBaseMs   int                        `yaml:"retry_base_ms" json:"retry_base_ms"`
	SSO           SSOConfig                  `yaml:"sso" json:"sso"`
	MCPServers    map[string]MCPServerConfig `yaml:"mcp_servers" json:"mcp_servers"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Global: GlobalConfig{
			DataRoot:  "~/.docsage/data",
			Verbosity: "info",
		},
		DataManager: DataManager{
			EmbeddingModel:  "text-embedding-3-small",
			EmbeddingDim:    1536,
			ChunkSize:       1000,
			ChunkOverlap:    150,
			DistanceMetric:  "cosine",
			ParallelWorkers: 4,
			BM25K1:          0.5,
			BM25B:           0.75,
		},
		Assistant: AssistantConfig{
			DefaultPipeline: "qa",
			RetrievalK:      5,
			ChatModel:       "chat",
			CondenseModel:   "condense",
			VisionModel:     "vision",
			TokenBudget: TokenBudget{
				MaxTokens:          7000,
				Reserved:           1000,
				MinHistoryMessages: 2,
				MinDocs:            1,
			},
			Agent: AgentConfig{
				MaxToolSteps:     10,
				ToolTimeoutSecs:  60,
				ToolPreviewChars: 2000,
			},
			TurnTimeoutSecs: 300,
		},
		Services: ServicesConfig{
			Host: "0.0.0.0",
			Port: 7861,
		},
		Utils: UtilsConfig{
			ScraperRPS:    2,
			ScraperBurst:  4,
			RetryAttempts: 3,
			RetryBaseMs:   500,
		},
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	switch c.DataManager.DistanceMetric {
	case "cosine", "l2", "ip":
	default:
		return fmt.Errorf("data_manager.distance_metric: unknown metric %q", c.DataManager.DistanceMetric)
	}
	if c.DataManager.EmbeddingDim <= 0 {
		return fmt.Errorf("data_manager.embedding_dim must be positive")
	}
	if c.DataManager.ChunkSize <= 0 {
		return fmt.Errorf("data_manager.chunk_size must be positive")
	}
	if c.DataManager.ChunkOverlap >= c.DataManager.ChunkSize {
		return fmt.Errorf("data_manager.chunk_overlap must be smaller than chunk_size")
	}
	if c.DataManager.ParallelWorkers < 1 {
		return fmt.Errorf("data_manager.parallel_workers must be >= 1")
	}
	for name, m := range c.Assistant.Models {
		if m.Class == "" {
			return fmt.Errorf("a2rchi.models.%s: missing class", name)
		}
	}
	return nil
}

// ResolveModel returns the model config for a handle name.
func (c *Config) ResolveModel(name string) (ModelConfig, error) {
	m, ok := c.Assistant.Models[name]
	if !ok {
		return ModelConfig{}, fmt.Errorf("unknown model handle %q", name)
	}
	return m, nil
}

// Redacted returns a copy safe for logging: secret fields are masked.
func (c *Config) Redacted() Config {
	cp := *c
	cp.Global.AdminToken = mask(cp.Global.AdminToken)
	cp.DataManager.EmbeddingAPIKey = mask(cp.DataManager.EmbeddingAPIKey)
	cp.Services.Database.PostgresDSN = mask(cp.Services.Database.PostgresDSN)
	cp.Utils.SSO.Password = mask(cp.Utils.SSO.Password)
	models := make(map[string]ModelConfig, len(cp.Assistant.Models))
	for name, m := range cp.Assistant.Models {
		m.APIKey = mask(m.APIKey)
		models[name] = m
	}
	cp.Assistant.Models = models
	tickets := make([]TicketSource, len(cp.Sources.Tickets))
	copy(tickets, cp.Sources.Tickets)
	for i := range tickets {
		tickets[i].APIKey = mask(tickets[i].APIKey)
	}
	cp.Sources.Tickets = tickets
	servers := make(map[string]MCPServerConfig, len(cp.Utils.MCPServers))
	for name, sc := range cp.Utils.MCPServers {
		sc.Headers = maskValues(sc.Headers)
		sc.Env = maskValues(sc.Env)
		servers[name] = sc
	}
	cp.Utils.MCPServers = servers
	return cp
}

func maskValues(m map[string]string) map[string]string {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = mask(v)
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return strings.Repeat("*", 8)
}
