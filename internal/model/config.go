package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Posture names a preset for the grounding and admission knobs.
type Posture string

const (
	// PostureStrict favours grounding: high threshold, few chunks, strict input screening.
	PostureStrict Posture = "strict"

	// PosturePermissive favours recall: near-zero threshold, more chunks, tolerant input.
	PosturePermissive Posture = "permissive"
)

// Config is the complete auditrag configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" mapstructure:"retrieval"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Embedding  EmbeddingConfig  `yaml:"embedding" mapstructure:"embedding"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Tracing    TracingConfig    `yaml:"tracing" mapstructure:"tracing"`
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	DeepHealth      bool          `yaml:"deep_health" mapstructure:"deep_health"`
	HealthTimeout   time.Duration `yaml:"health_timeout" mapstructure:"health_timeout"`
	ComplianceLevel string        `yaml:"compliance_level" mapstructure:"compliance_level"`
	GinMode         string        `yaml:"gin_mode" mapstructure:"gin_mode" validate:"omitempty,oneof=debug release test"`
}

// RateLimitConfig is the per-client sliding window
type RateLimitConfig struct {
	Requests int           `yaml:"requests" mapstructure:"requests" validate:"gte=1"`
	Window   time.Duration `yaml:"window" mapstructure:"window" validate:"gt=0"`
}

// ValidationConfig controls question screening
type ValidationConfig struct {
	Strict    bool `yaml:"strict" mapstructure:"strict"`
	MinLength int  `yaml:"min_length" mapstructure:"min_length" validate:"gte=0"` // 0 = derive from Strict
	MaxLength int  `yaml:"max_length" mapstructure:"max_length" validate:"gte=1"`
}

// RetrievalConfig holds the hallucination-prevention knobs
type RetrievalConfig struct {
	TopK         int     `yaml:"top_k" mapstructure:"top_k" validate:"gte=1,lte=50"`
	MinRelevance float64 `yaml:"min_relevance" mapstructure:"min_relevance" validate:"gte=0,lte=1"`
}

// SearchConfig selects and configures the search backend
type SearchConfig struct {
	Backend  string         `yaml:"backend" mapstructure:"backend" validate:"oneof=weaviate milvus"`
	Timeout  time.Duration  `yaml:"timeout" mapstructure:"timeout"`
	Weaviate WeaviateConfig `yaml:"weaviate" mapstructure:"weaviate"`
	Milvus   MilvusConfig   `yaml:"milvus" mapstructure:"milvus"`
}

// WeaviateConfig configures the hybrid search backend
type WeaviateConfig struct {
	Host   string  `yaml:"host" mapstructure:"host"`
	Scheme string  `yaml:"scheme" mapstructure:"scheme"`
	APIKey string  `yaml:"api_key" mapstructure:"api_key"`
	Class  string  `yaml:"class" mapstructure:"class"`
	Alpha  float32 `yaml:"alpha" mapstructure:"alpha" validate:"gte=0,lte=1"`

	// ScoreSource picks what the relevance gate sees: "vector" is the cosine
	// similarity of each hit to the question, "fusion" the relativeScoreFusion
	// score. Fusion is min-max normalized per query, so its top hit is near 1.
	ScoreSource string `yaml:"score_source" mapstructure:"score_source" validate:"omitempty,oneof=vector fusion"`
}

// Weaviate score sources
const (
	ScoreSourceVector = "vector"
	ScoreSourceFusion = "fusion"
)

// MilvusConfig configures the vector-only backend
type MilvusConfig struct {
	Address     string `yaml:"address" mapstructure:"address"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	Database    string `yaml:"database" mapstructure:"database"`
	Collection  string `yaml:"collection" mapstructure:"collection"`
	VectorField string `yaml:"vector_field" mapstructure:"vector_field"`
}

// EmbeddingConfig configures the embedding collaborator
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider" validate:"oneof=openai azure ollama"`
	Model      string `yaml:"model" mapstructure:"model"`
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	APIVersion string `yaml:"api_version" mapstructure:"api_version"`
	Timeout    int    `yaml:"timeout" mapstructure:"timeout"` // seconds
}

// LLMConfig configures the generative collaborator
type LLMConfig struct {
	Provider        string `yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=openai azure anthropic claude ollama"`
	Model           string `yaml:"model" mapstructure:"model"`
	APIKey          string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	APIVersion      string `yaml:"api_version" mapstructure:"api_version"`
	Timeout         int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens       int    `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=1"`
	StrictCitations bool   `yaml:"strict_citations" mapstructure:"strict_citations"`
}

// CacheConfig configures the embedding cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend string        `yaml:"backend" mapstructure:"backend" validate:"oneof=memory disk redis"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig is the shared cache layer
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// AuditConfig selects the audit sink
type AuditConfig struct {
	Sink  string      `yaml:"sink" mapstructure:"sink" validate:"oneof=log mongo"`
	Mongo MongoConfig `yaml:"mongo" mapstructure:"mongo"`
}

// MongoConfig configures the append-only audit collection
type MongoConfig struct {
	URI        string        `yaml:"uri" mapstructure:"uri"`
	Database   string        `yaml:"database" mapstructure:"database"`
	Collection string        `yaml:"collection" mapstructure:"collection"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// TracingConfig toggles the stdout span exporter
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	Pretty      bool   `yaml:"pretty" mapstructure:"pretty"`
}

// HTTPConfig holds outbound proxy settings for collaborator clients
type HTTPConfig struct {
	HTTPProxy  string `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// DefaultConfig returns the strict posture with local collaborators
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":7071",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			DeepHealth:      true,
			HealthTimeout:   5 * time.Second,
			ComplianceLevel: "CONFIDENTIAL",
			GinMode:         "release",
		},
		RateLimit: RateLimitConfig{
			Requests: 10,
			Window:   time.Minute,
		},
		Validation: ValidationConfig{
			Strict:    true,
			MaxLength: 1000,
		},
		Retrieval: RetrievalConfig{
			TopK:         3,
			MinRelevance: 0.75,
		},
		Search: SearchConfig{
			Backend: "weaviate",
			Timeout: 10 * time.Second,
			Weaviate: WeaviateConfig{
				Host:        "localhost:8080",
				Scheme:      "http",
				Class:       "ComplianceChunk",
				Alpha:       0.5,
				ScoreSource: ScoreSourceVector,
			},
			Milvus: MilvusConfig{
				Address:     "localhost:19530",
				Collection:  "compliance_docs_index",
				VectorField: "content_vector",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "azure",
			Model:      "text-embedding-ada-002",
			APIVersion: "2023-05-15",
			Timeout:    30,
		},
		LLM: LLMConfig{
			Provider:        "azure",
			Model:           "gpt-35-turbo",
			APIVersion:      "2023-05-15",
			Timeout:         30,
			MaxTokens:       500,
			StrictCitations: true,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
			TTL:     24 * time.Hour,
			Dir:     ".auditrag-cache",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Audit: AuditConfig{
			Sink: "log",
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "auditrag",
				Collection: "audit_log",
				Timeout:    5 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "auditrag",
		},
	}
}

// ApplyPosture overwrites the grounding and admission knobs with a preset
func (c *Config) ApplyPosture(p Posture) error {
	switch Posture(strings.ToLower(string(p))) {
	case PostureStrict:
		c.Retrieval.MinRelevance = 0.75
		c.Retrieval.TopK = 3
		c.Validation.Strict = true
		c.RateLimit.Requests = 10
	case PosturePermissive:
		c.Retrieval.MinRelevance = 0.01
		c.Retrieval.TopK = 5
		c.Validation.Strict = false
		c.RateLimit.Requests = 20
	case "":
		// keep whatever the file and env produced
	default:
		return fmt.Errorf("unknown posture: %s (supported: strict, permissive)", p)
	}
	return nil
}

// MinQuestionLength resolves the effective minimum question length
func (v ValidationConfig) MinQuestionLength() int {
	if v.MinLength > 0 {
		return v.MinLength
	}
	if v.Strict {
		return 5
	}
	return 3
}

var configValidator = validator.New()

// Validate checks struct constraints on the loaded configuration
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Search.Backend == "milvus" && c.Search.Milvus.Address == "" {
		return fmt.Errorf("invalid config: search.milvus.address is required for the milvus backend")
	}
	if c.Search.Backend == "weaviate" && c.Search.Weaviate.Host == "" {
		return fmt.Errorf("invalid config: search.weaviate.host is required for the weaviate backend")
	}
	if c.Audit.Sink == "mongo" && c.Audit.Mongo.URI == "" {
		return fmt.Errorf("invalid config: audit.mongo.uri is required for the mongo sink")
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display
func (c *Config) Redacted() *Config {
	out := *c
	out.Search.Weaviate.APIKey = mask(c.Search.Weaviate.APIKey)
	out.Search.Milvus.Password = mask(c.Search.Milvus.Password)
	out.Embedding.APIKey = mask(c.Embedding.APIKey)
	out.LLM.APIKey = mask(c.LLM.APIKey)
	out.Cache.Redis.Password = mask(c.Cache.Redis.Password)
	out.Audit.Mongo.URI = maskURI(c.Audit.Mongo.URI)
	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// maskURI hides the userinfo part of a connection string
func maskURI(uri string) string {
	at := strings.LastIndex(uri, "@")
	scheme := strings.Index(uri, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return uri
	}
	return uri[:scheme+3] + "****" + uri[at:]
}
