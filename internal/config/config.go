package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Agent() AgentConfig
	LLM() LLMConfig
	Cache() CacheConfig
	Memory() MemoryConfig
	Governor() GovernorConfig
	Live() LiveConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Feedback() FeedbackConfig
	Tuner() TunerConfig
	Sites() SitesConfig
	Database() DatabaseConfig
	Persistence() PersistenceConfig

	SetAgentType(t string)
	SetLiveEnabled(b bool)
	SetServerPort(p int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	ServerCfg      ServerConfig      `mapstructure:"server" yaml:"server"`
	AgentCfg       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	LLMCfg         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	CacheCfg       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	MemoryCfg      MemoryConfig      `mapstructure:"memory" yaml:"memory"`
	GovernorCfg    GovernorConfig    `mapstructure:"governor" yaml:"governor"`
	LiveCfg        LiveConfig        `mapstructure:"live" yaml:"live"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	NetworkCfg     NetworkConfig     `mapstructure:"network" yaml:"network"`
	FeedbackCfg    FeedbackConfig    `mapstructure:"feedback" yaml:"feedback"`
	TunerCfg       TunerConfig       `mapstructure:"tuner" yaml:"tuner"`
	SitesCfg       SitesConfig       `mapstructure:"sites" yaml:"sites"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	PersistenceCfg PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Server() ServerConfig           { return c.ServerCfg }
func (c *Config) Agent() AgentConfig             { return c.AgentCfg }
func (c *Config) LLM() LLMConfig                 { return c.LLMCfg }
func (c *Config) Cache() CacheConfig             { return c.CacheCfg }
func (c *Config) Memory() MemoryConfig           { return c.MemoryCfg }
func (c *Config) Governor() GovernorConfig       { return c.GovernorCfg }
func (c *Config) Live() LiveConfig               { return c.LiveCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig         { return c.NetworkCfg }
func (c *Config) Feedback() FeedbackConfig       { return c.FeedbackCfg }
func (c *Config) Tuner() TunerConfig             { return c.TunerCfg }
func (c *Config) Sites() SitesConfig             { return c.SitesCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Persistence() PersistenceConfig { return c.PersistenceCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAgentType(t string) { c.AgentCfg.Type = t }
func (c *Config) SetLiveEnabled(b bool) { c.LiveCfg.Enabled = b }
func (c *Config) SetServerPort(p int)   { c.ServerCfg.Port = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Version         string        `mapstructure:"version" yaml:"version"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Agent types accepted by AGENT_TYPE.
const (
	AgentTemplate = "template"
	AgentChutes   = "chutes"
	AgentHybrid   = "hybrid"
)

// AgentConfig selects and tunes the synthesis agents.
type AgentConfig struct {
	Type         string `mapstructure:"type" yaml:"type"`
	WebAgentID   string `mapstructure:"web_agent_id" yaml:"web_agent_id"`
	LiveAnalysis bool   `mapstructure:"live_analysis" yaml:"live_analysis"`
	// SelfTestMarkers are prompt substrings that identify synthetic self-test
	// traffic; live analysis is skipped for them.
	SelfTestMarkers   []string `mapstructure:"self_test_markers" yaml:"self_test_markers"`
	DefaultUsername   string   `mapstructure:"default_username" yaml:"default_username"`
	DefaultPassword   string   `mapstructure:"default_password" yaml:"default_password"`
	EnsembleSize      int      `mapstructure:"ensemble_size" yaml:"ensemble_size"`
	MaxScreenshots    int      `mapstructure:"max_screenshots" yaml:"max_screenshots"`
	PatternMinSuccess int      `mapstructure:"pattern_min_success" yaml:"pattern_min_success"`
}

// LLM providers.
const (
	ProviderChutes = "chutes"
	ProviderGemini = "gemini"
)

// LLMConfig configures the remote chat-completions boundary.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"`
	APIKey         string        `mapstructure:"api_key" yaml:"-"`
	APIURL         string        `mapstructure:"api_url" yaml:"api_url"`
	Model          string        `mapstructure:"model" yaml:"model"`
	FallbackModels []string      `mapstructure:"fallback_models" yaml:"fallback_models"`
	Temperature    float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP           float32       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MinRequestInterval is the starting spacing between requests.
	MinRequestInterval time.Duration `mapstructure:"min_request_interval" yaml:"min_request_interval"`
	IntervalStep       time.Duration `mapstructure:"interval_step" yaml:"interval_step"`
	MaxRequestInterval time.Duration `mapstructure:"max_request_interval" yaml:"max_request_interval"`
	// RateLimitBackoff is the 429 schedule indexed by consecutive 429s.
	RateLimitBackoff []time.Duration `mapstructure:"rate_limit_backoff" yaml:"rate_limit_backoff"`
	RateLimitReset   time.Duration   `mapstructure:"rate_limit_reset" yaml:"rate_limit_reset"`
	MaxRetries       int             `mapstructure:"max_retries" yaml:"max_retries"`
	CacheTTL         time.Duration   `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	GeminiAPIKey     string          `mapstructure:"gemini_api_key" yaml:"-"`
	GeminiModel      string          `mapstructure:"gemini_model" yaml:"gemini_model"`
}

// CacheConfig configures the semantic cache and its tuning bounds.
type CacheConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxSize             int           `mapstructure:"max_size" yaml:"max_size"`
	TTL                 time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MinTTL              time.Duration `mapstructure:"min_ttl" yaml:"min_ttl"`
	MaxTTL              time.Duration `mapstructure:"max_ttl" yaml:"max_ttl"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	MinThreshold        float64       `mapstructure:"min_threshold" yaml:"min_threshold"`
	MaxThreshold        float64       `mapstructure:"max_threshold" yaml:"max_threshold"`
	KeywordCacheSize    int           `mapstructure:"keyword_cache_size" yaml:"keyword_cache_size"`
}

// MemoryConfig configures vector memory and the pattern learner.
type MemoryConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Capacity       int     `mapstructure:"capacity" yaml:"capacity"`
	TopK           int     `mapstructure:"top_k" yaml:"top_k"`
	UseTFIDF       bool    `mapstructure:"use_tfidf" yaml:"use_tfidf"`
	TFIDFFloor     float64 `mapstructure:"tfidf_floor" yaml:"tfidf_floor"`
	JaccardFloor   float64 `mapstructure:"jaccard_floor" yaml:"jaccard_floor"`
	MinSuccessRate float64 `mapstructure:"min_success_rate" yaml:"min_success_rate"`
}

// GovernorConfig configures the anti-overfitting guard.
type GovernorConfig struct {
	Enabled               bool    `mapstructure:"enabled" yaml:"enabled"`
	DiversityWindow       int     `mapstructure:"diversity_window" yaml:"diversity_window"`
	UsageWindow           int     `mapstructure:"usage_window" yaml:"usage_window"`
	MinConfidence         float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	HighSimilarity        float64 `mapstructure:"high_similarity" yaml:"high_similarity"`
	ForceFreshProbability float64 `mapstructure:"force_fresh_probability" yaml:"force_fresh_probability"`
	PerturbBelow          float64 `mapstructure:"perturb_below" yaml:"perturb_below"`
}

// LiveConfig configures the live DOM analyzer.
type LiveConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Mode            string        `mapstructure:"mode" yaml:"mode"`
	BrowserTimeout  time.Duration `mapstructure:"browser_timeout" yaml:"browser_timeout"`
	AnalysisTimeout time.Duration `mapstructure:"analysis_timeout" yaml:"analysis_timeout"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	MaxResults      int           `mapstructure:"max_results" yaml:"max_results"`
	MinConfidence   float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// BrowserConfig holds settings for the shared headless browser.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Concurrency     int      `mapstructure:"concurrency" yaml:"concurrency"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string `mapstructure:"args" yaml:"args"`
	BlockedDomains  []string `mapstructure:"blocked_domains" yaml:"blocked_domains"`
	MaxElements     int      `mapstructure:"max_elements" yaml:"max_elements"`
}

// NetworkConfig configures the HTTP fetch client used by the live analyzer.
type NetworkConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	EnableHTTP2     bool          `mapstructure:"enable_http2" yaml:"enable_http2"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// FeedbackConfig configures outcome recording.
type FeedbackConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// TunerConfig configures the periodic performance tuner.
type TunerConfig struct {
	Enabled            bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval           time.Duration `mapstructure:"interval" yaml:"interval"`
	TargetResponseTime time.Duration `mapstructure:"target_response_time" yaml:"target_response_time"`
	TTLStep            time.Duration `mapstructure:"ttl_step" yaml:"ttl_step"`
	ThresholdStep      float64       `mapstructure:"threshold_step" yaml:"threshold_step"`
}

// SitesConfig maps demo-site names to their base URLs.
type SitesConfig struct {
	Hosts map[string]string `mapstructure:"hosts" yaml:"hosts"`
	// DefaultSite is used when the prompt gives no hint at all.
	DefaultSite string `mapstructure:"default_site" yaml:"default_site"`
}

// Host returns the base URL for a site name, or "" if unknown.
func (s SitesConfig) Host(name string) string {
	return s.Hosts[strings.ToLower(name)]
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// PersistenceConfig configures advisory on-disk state.
type PersistenceConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Dir           string        `mapstructure:"dir" yaml:"dir"`
	FeedbackFile  string        `mapstructure:"feedback_file" yaml:"feedback_file"`
	PatternsFile  string        `mapstructure:"patterns_file" yaml:"patterns_file"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// ResolvedDir expands a leading ~ in Dir.
func (p PersistenceConfig) ResolvedDir() (string, error) {
	return homedir.Expand(p.Dir)
}

// DefaultSiteHosts are the demo web projects served by the evaluator sandbox.
var DefaultSiteHosts = map[string]string{
	"autocinema":   "http://localhost:8000",
	"autobooks":    "http://localhost:8001",
	"autozone":     "http://localhost:8002",
	"autodining":   "http://localhost:8003",
	"autocrm":      "http://localhost:8004",
	"automail":     "http://localhost:8005",
	"autodelivery": "http://localhost:8006",
	"autolodge":    "http://localhost:8007",
	"autoconnect":  "http://localhost:8008",
	"autowork":     "http://localhost:8009",
	"autocalendar": "http://localhost:8010",
	"autolist":     "http://localhost:8011",
	"autodrive":    "http://localhost:8012",
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autoppia-miner")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Server --
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.version", "1.0.0")

	// -- Agent --
	v.SetDefault("agent.type", AgentHybrid)
	v.SetDefault("agent.web_agent_id", "autoppia-miner")
	v.SetDefault("agent.live_analysis", true)
	v.SetDefault("agent.self_test_markers", []string{"self-test", "selftest", "health check"})
	v.SetDefault("agent.default_username", "user")
	v.SetDefault("agent.default_password", "password123")
	v.SetDefault("agent.ensemble_size", 2)
	v.SetDefault("agent.max_screenshots", 3)
	v.SetDefault("agent.pattern_min_success", 2)

	// -- LLM --
	v.SetDefault("llm.provider", ProviderChutes)
	v.SetDefault("llm.api_url", "https://llm.chutes.ai/v1/chat/completions")
	v.SetDefault("llm.model", "deepseek-ai/DeepSeek-V3-0324")
	v.SetDefault("llm.fallback_models", []string{
		"deepseek-ai/DeepSeek-V3-0324",
		"Qwen/Qwen2.5-72B-Instruct",
		"meta-llama/Llama-3.3-70B-Instruct",
		"chutesai/Mistral-Small-3.1-24B-Instruct-2503:free",
		"deepseek-ai/DeepSeek-R1:free",
	})
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.top_p", 0.9)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.min_request_interval", "5s")
	v.SetDefault("llm.interval_step", "1s")
	v.SetDefault("llm.max_request_interval", "10s")
	v.SetDefault("llm.rate_limit_backoff", []string{"60s", "120s", "240s", "480s", "600s"})
	v.SetDefault("llm.rate_limit_reset", "5m")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.cache_ttl", "5m")
	v.SetDefault("llm.gemini_model", "gemini-2.5-flash")

	// -- Cache --
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_size", 500)
	v.SetDefault("cache.ttl", "1200s")
	v.SetDefault("cache.min_ttl", "600s")
	v.SetDefault("cache.max_ttl", "1800s")
	v.SetDefault("cache.similarity_threshold", 0.95)
	v.SetDefault("cache.min_threshold", 0.90)
	v.SetDefault("cache.max_threshold", 0.98)
	v.SetDefault("cache.keyword_cache_size", 1000)

	// -- Memory --
	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.capacity", 1000)
	v.SetDefault("memory.top_k", 5)
	v.SetDefault("memory.use_tfidf", true)
	v.SetDefault("memory.tfidf_floor", 0.3)
	v.SetDefault("memory.jaccard_floor", 0.2)
	v.SetDefault("memory.min_success_rate", 0.7)

	// -- Governor --
	v.SetDefault("governor.enabled", true)
	v.SetDefault("governor.diversity_window", 20)
	v.SetDefault("governor.usage_window", 50)
	v.SetDefault("governor.min_confidence", 0.5)
	v.SetDefault("governor.high_similarity", 0.9)
	v.SetDefault("governor.force_fresh_probability", 0.1)
	v.SetDefault("governor.perturb_below", 0.7)

	// -- Live Analyzer --
	v.SetDefault("live.enabled", true)
	v.SetDefault("live.mode", "auto")
	v.SetDefault("live.browser_timeout", "5s")
	v.SetDefault("live.analysis_timeout", "2s")
	v.SetDefault("live.http_timeout", "3s")
	v.SetDefault("live.max_results", 10)
	v.SetDefault("live.min_confidence", 0.4)
	v.SetDefault("live.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.concurrency", 4)
	v.SetDefault("browser.max_elements", 30)
	v.SetDefault("browser.blocked_domains", []string{
		"google-analytics.com", "googletagmanager.com", "doubleclick.net",
		"facebook.net", "hotjar.com", "segment.io", "mixpanel.com",
	})

	// -- Network --
	v.SetDefault("network.timeout", "3s")
	v.SetDefault("network.idle_conn_timeout", "90s")
	v.SetDefault("network.max_idle_conns", 50)
	v.SetDefault("network.enable_http2", true)
	v.SetDefault("network.ignore_tls_errors", true)
	v.SetDefault("network.max_body_bytes", 2<<20)

	// -- Feedback / Tuner --
	v.SetDefault("feedback.enabled", true)
	v.SetDefault("tuner.enabled", true)
	v.SetDefault("tuner.interval", "5m")
	v.SetDefault("tuner.target_response_time", "1500ms")
	v.SetDefault("tuner.ttl_step", "60s")
	v.SetDefault("tuner.threshold_step", 0.01)

	// -- Sites --
	v.SetDefault("sites.hosts", DefaultSiteHosts)
	v.SetDefault("sites.default_site", "autobooks")

	// -- Persistence --
	v.SetDefault("persistence.enabled", true)
	v.SetDefault("persistence.dir", "~/.autoppia-miner")
	v.SetDefault("persistence.feedback_file", "feedback.json")
	v.SetDefault("persistence.patterns_file", "patterns.json")
	v.SetDefault("persistence.flush_interval", "1m")
}

// BindEnvironment wires the recognised environment variables onto their keys.
// The first non-empty name in each list wins.
func BindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix("MINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("llm.api_key", "CHUTES_API_KEY")
	v.BindEnv("llm.api_url", "CHUTES_API_URL")
	v.BindEnv("llm.model", "CHUTES_MODEL")
	v.BindEnv("llm.gemini_api_key", "GEMINI_API_KEY")
	v.BindEnv("agent.type", "AGENT_TYPE")
	v.BindEnv("server.host", "API_HOST")
	v.BindEnv("server.port", "PORT", "API_PORT")
	v.BindEnv("logger.level", "LOG_LEVEL")
	v.BindEnv("database.url", "DATABASE_URL", "MINER_DATABASE_URL")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	BindEnvironment(v)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Nested map defaults are replaced wholesale by a config file; keep the
	// built-in hosts for any site the file does not mention.
	if cfg.SitesCfg.Hosts == nil {
		cfg.SitesCfg.Hosts = map[string]string{}
	}
	for name, host := range DefaultSiteHosts {
		if _, ok := cfg.SitesCfg.Hosts[name]; !ok {
			cfg.SitesCfg.Hosts[name] = host
		}
	}

	if cfg.LLMCfg.APIKey == "" {
		cfg.LLMCfg.APIKey = os.Getenv("CHUTES_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.AgentCfg.Type {
	case AgentTemplate, AgentChutes, AgentHybrid:
	default:
		return fmt.Errorf("agent.type must be one of template, chutes, hybrid (got %q)", c.AgentCfg.Type)
	}
	if c.ServerCfg.Port <= 0 || c.ServerCfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.BrowserCfg.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if err := c.CacheCfg.Validate(); err != nil {
		return fmt.Errorf("cache configuration invalid: %w", err)
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.GovernorCfg.MinConfidence < 0 || c.GovernorCfg.MinConfidence > 1 {
		return fmt.Errorf("governor.min_confidence must be between 0.0 and 1.0")
	}
	return nil
}

// Validate checks the semantic cache bounds.
func (c *CacheConfig) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("max_size must be a positive integer")
	}
	if c.MinThreshold > c.MaxThreshold {
		return fmt.Errorf("min_threshold must not exceed max_threshold")
	}
	if c.SimilarityThreshold < c.MinThreshold || c.SimilarityThreshold > c.MaxThreshold {
		return fmt.Errorf("similarity_threshold must lie within [min_threshold, max_threshold]")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be a positive duration")
	}
	return nil
}

// Validate checks the LLM rate-limit arithmetic.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderChutes, ProviderGemini:
	default:
		return fmt.Errorf("provider must be chutes or gemini (got %q)", l.Provider)
	}
	if l.MinRequestInterval < 0 {
		return fmt.Errorf("min_request_interval must not be negative")
	}
	if l.MaxRequestInterval < l.MinRequestInterval {
		return fmt.Errorf("max_request_interval must be at least min_request_interval")
	}
	if len(l.RateLimitBackoff) == 0 {
		return fmt.Errorf("rate_limit_backoff must have at least one step")
	}
	return nil
}
