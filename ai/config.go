package ai

import (
	"errors"
	"time"

	"github.com/hrygo/memvault/internal/profile"
)

// Config represents AI collaborator configuration.
type Config struct {
	Embedding EmbeddingConfig
	Reranker  RerankerConfig
	LLM       LLMConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// RerankerConfig represents reranker configuration.
type RerankerConfig struct {
	Model   string
	APIKey  string
	BaseURL string
	Enabled bool
	Timeout time.Duration
}

// LLMConfig represents the summarization / entity extraction model configuration.
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.2
}

// NewConfigFromProfile builds the AI configuration from the server profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Model:      p.AIEmbeddingModel,
			APIKey:     p.AIEmbeddingAPIKey,
			BaseURL:    p.AIEmbeddingBaseURL,
			Dimensions: p.AIEmbeddingDimensions,
		},
		Reranker: RerankerConfig{
			Model:   p.AIRerankModel,
			APIKey:  p.AIRerankAPIKey,
			BaseURL: p.AIRerankBaseURL,
			Enabled: p.RerankEnabled,
			Timeout: p.RerankTimeout,
		},
		LLM: LLMConfig{
			Model:   p.AILLMModel,
			APIKey:  p.AILLMAPIKey,
			BaseURL: p.AILLMBaseURL,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Embedding.Model == "" {
		return errors.New("embedding model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	if c.Reranker.Enabled && c.Reranker.Model == "" {
		return errors.New("reranker model is required when reranking is enabled")
	}
	return nil
}
