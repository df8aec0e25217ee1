package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

type ServerConfig struct {
	Port string `toml:"port" env:"PORT"`
}

type LogConfig struct {
	Mode string `toml:"mode" env:"LOG_MODE"`
}

type Neo4jConfig struct {
	URI         string `toml:"uri" env:"NEO4J_URI"`
	User        string `toml:"user" env:"NEO4J_USER"`
	Password    string `toml:"password" env:"NEO4J_PASSWORD"`
	Database    string `toml:"database" env:"NEO4J_DATABASE"`
	MaxPoolSize int    `toml:"max_pool_size" env:"NEO4J_MAX_POOL_SIZE"`
}

type RedisConfig struct {
	Addr          string `toml:"addr" env:"REDIS_ADDR"`
	LockTTLSecond int    `toml:"lock_ttl_seconds"`
}

type LLMConfig struct {
	Provider       string `toml:"provider" env:"LLM_PROVIDER"`
	Model          string `toml:"model" env:"LLM_MODEL"`
	EmbeddingModel string `toml:"embedding_model" env:"LLM_EMBEDDING_MODEL"`
	APIKey         string `toml:"api_key" env:"LLM_API_KEY"`
	BaseURL        string `toml:"base_url" env:"LLM_BASE_URL"`
}

type ImageConfig struct {
	Provider string `toml:"provider" env:"IMAGE_PROVIDER"`
	Model    string `toml:"model" env:"IMAGE_MODEL"`
	APIKey   string `toml:"api_key" env:"IMAGE_API_KEY"`
	BaseURL  string `toml:"base_url" env:"IMAGE_BASE_URL"`
	Size     string `toml:"size"`
}

type VideoConfig struct {
	Enabled        bool    `toml:"enabled" env:"VIDEO_ENABLED"`
	BaseURL        string  `toml:"base_url" env:"VIDEO_BASE_URL"`
	APIKey         string  `toml:"api_key" env:"VIDEO_API_KEY"`
	TargetSeconds  float64 `toml:"target_seconds"`
	ClimaxSegments int     `toml:"climax_segments"`
}

type VisionConfig struct {
	Enabled         bool   `toml:"enabled" env:"VISION_ENABLED"`
	CredentialsFile string `toml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

// Thresholds are safety scores in [0,1]; 1 is fully safe.
type Thresholds struct {
	Accept float64 `toml:"accept"`
	Review float64 `toml:"review"`
}

type ModerationConfig struct {
	Text            Thresholds `toml:"text"`
	Image           Thresholds `toml:"image"`
	TextClassifier  string     `toml:"text_classifier"`
	APIKey          string     `toml:"api_key" env:"MODERATION_API_KEY"`
	Blocklist       []string   `toml:"blocklist"`
	VerdictCacheLen int        `toml:"verdict_cache_size"`
}

type GenerationConfig struct {
	Timezone              string `toml:"timezone"`
	HistoryDays           int    `toml:"history_days"`
	HistoryLimit          int    `toml:"history_limit"`
	ScriptSchemaRetries   int    `toml:"script_schema_retries"`
	ScriptRegenerations   int    `toml:"script_regenerations"`
	PanelRetries          int    `toml:"panel_retries"`
	MaxPanels             int    `toml:"max_panels"`
	CallTimeoutSeconds    int    `toml:"call_timeout_seconds"`
	BackoffInitialMillis  int    `toml:"backoff_initial_millis"`
	BackoffMaxMillis      int    `toml:"backoff_max_millis"`
	ExternalRetries       int    `toml:"external_retries"`
	SequenceConflictRetry int    `toml:"sequence_conflict_retries"`
}

type StoryletConfig struct {
	Path       string  `toml:"path" env:"STORYLETS_PATH"`
	WindowDays int     `toml:"window_days"`
	ArcBias    float64 `toml:"arc_bias"`
	Seed       uint64  `toml:"seed"`
}

type AuditorConfig struct {
	Threshold         float64 `toml:"threshold"`
	RequireDirector   bool    `toml:"require_director"`
	NoveltySimilarity float64 `toml:"novelty_similarity"`
	LookbackHours     int     `toml:"lookback_hours"`
}

type BudgetConfig struct {
	TextPerMinute   float64 `toml:"text_per_minute"`
	ImagePerMinute  float64 `toml:"image_per_minute"`
	VideoPerMinute  float64 `toml:"video_per_minute"`
	Burst           int     `toml:"burst"`
	MaxWaitSeconds  int     `toml:"max_wait_seconds"`
	PerHeroDaily    float64 `toml:"per_hero_daily"`
	GlobalDaily     float64 `toml:"global_daily"`
	VideoFloorRatio float64 `toml:"video_floor_ratio"`
}

type ScheduleConfig struct {
	Daily       string `toml:"daily"`
	Nightly     string `toml:"nightly"`
	Concurrency int    `toml:"concurrency"`
}

type PromptsConfig struct {
	Script       string `toml:"script"`
	WorldSummary string `toml:"world_summary"`
}

// ExclusivePair names two world states that may not hold at the same
// location over overlapping windows.
type ExclusivePair struct {
	A string `toml:"a"`
	B string `toml:"b"`
}

type CanonConfig struct {
	Exclusive []ExclusivePair `toml:"exclusive"`
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
	Neo4j      Neo4jConfig      `toml:"neo4j"`
	Redis      RedisConfig      `toml:"redis"`
	LLM        LLMConfig        `toml:"llm"`
	Image      ImageConfig      `toml:"image"`
	Video      VideoConfig      `toml:"video"`
	Vision     VisionConfig     `toml:"vision"`
	Moderation ModerationConfig `toml:"moderation"`
	Generation GenerationConfig `toml:"generation"`
	Storylets  StoryletConfig   `toml:"storylets"`
	Auditor    AuditorConfig    `toml:"auditor"`
	Budget     BudgetConfig     `toml:"budget"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Prompts    PromptsConfig    `toml:"prompts"`
	Canon      CanonConfig      `toml:"canon"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Log:    LogConfig{Mode: "dev"},
		Neo4j: Neo4jConfig{
			URI:         "bolt://localhost:7687",
			User:        "neo4j",
			Database:    "neo4j",
			MaxPoolSize: 50,
		},
		Redis: RedisConfig{LockTTLSecond: 900},
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "gpt-oss:latest",
			BaseURL:  "http://localhost:11434",
		},
		Image: ImageConfig{Provider: "openai", Model: "dall-e-3", Size: "1024x1024"},
		Video: VideoConfig{TargetSeconds: 60, ClimaxSegments: 2},
		Moderation: ModerationConfig{
			Text:            Thresholds{Accept: 0.85, Review: 0.5},
			Image:           Thresholds{Accept: 0.75, Review: 0.4},
			TextClassifier:  "lexicon",
			VerdictCacheLen: 4096,
		},
		Generation: GenerationConfig{
			Timezone:              "UTC",
			HistoryDays:           30,
			HistoryLimit:          10,
			ScriptSchemaRetries:   2,
			ScriptRegenerations:   2,
			PanelRetries:          3,
			MaxPanels:             12,
			CallTimeoutSeconds:    60,
			BackoffInitialMillis:  500,
			BackoffMaxMillis:      8000,
			ExternalRetries:       2,
			SequenceConflictRetry: 1,
		},
		Storylets: StoryletConfig{Path: "config/storylets.toml", WindowDays: 30, ArcBias: 3.0, Seed: 1},
		Auditor: AuditorConfig{
			Threshold:         50,
			RequireDirector:   true,
			NoveltySimilarity: 0.92,
			LookbackHours:     24,
		},
		Budget: BudgetConfig{
			TextPerMinute:   120,
			ImagePerMinute:  60,
			VideoPerMinute:  10,
			Burst:           10,
			MaxWaitSeconds:  30,
			VideoFloorRatio: 0.9,
		},
		Schedule: ScheduleConfig{
			Daily:       "0 0 6 * * *",
			Nightly:     "0 0 3 * * *",
			Concurrency: 50,
		},
	}
}

// Load reads the TOML file at path over Default() and applies environment
// overrides. Only variables that are set override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ModerationKey is the OpenAI key for the moderation classifier: the
// dedicated key, else whichever of the image or llm keys belongs to OpenAI.
func (c *Config) ModerationKey() string {
	switch {
	case c.Moderation.APIKey != "":
		return c.Moderation.APIKey
	case strings.EqualFold(c.Image.Provider, "openai") && c.Image.APIKey != "":
		return c.Image.APIKey
	case strings.EqualFold(c.LLM.Provider, "openai"):
		return c.LLM.APIKey
	}
	return ""
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "gemini", "claude", "ollama":
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}
	for name, th := range map[string]Thresholds{"text": c.Moderation.Text, "image": c.Moderation.Image} {
		if th.Review > th.Accept {
			return fmt.Errorf("moderation.%s: review threshold %.2f above accept threshold %.2f", name, th.Review, th.Accept)
		}
		if th.Accept <= 0 || th.Accept > 1 {
			return fmt.Errorf("moderation.%s: accept threshold must be in (0,1]", name)
		}
	}
	if strings.EqualFold(c.Moderation.TextClassifier, "openai") && c.ModerationKey() == "" {
		return fmt.Errorf("moderation: text_classifier openai needs an openai api key")
	}
	g := c.Generation
	if g.ScriptSchemaRetries < 0 || g.ScriptRegenerations < 0 || g.PanelRetries < 1 {
		return fmt.Errorf("generation: retry bounds must be non-negative and panel_retries >= 1")
	}
	if g.MaxPanels < 1 {
		return fmt.Errorf("generation: max_panels must be positive")
	}
	if c.Storylets.WindowDays < 0 {
		return fmt.Errorf("storylets: window_days must not be negative")
	}
	for _, p := range c.Canon.Exclusive {
		if p.A == "" || p.B == "" || p.A == p.B {
			return fmt.Errorf("canon.exclusive: invalid pair %q/%q", p.A, p.B)
		}
	}
	return nil
}

func (g GenerationConfig) CallTimeout() time.Duration {
	return time.Duration(g.CallTimeoutSeconds) * time.Second
}

func (g GenerationConfig) HistoryWindow() time.Duration {
	return time.Duration(g.HistoryDays) * 24 * time.Hour
}

func (g GenerationConfig) Location() *time.Location {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s StoryletConfig) Window() time.Duration {
	return time.Duration(s.WindowDays) * 24 * time.Hour
}

func (r RedisConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSecond) * time.Second
}
