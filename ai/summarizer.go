package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
)

// SummaryStyle selects the summarization register.
type SummaryStyle string

const (
	SummaryStyleConcise  SummaryStyle = "concise"
	SummaryStyleDetailed SummaryStyle = "detailed"
	SummaryStyleBullets  SummaryStyle = "bullets"
)

// IsValid reports whether the style is a known enum value.
func (s SummaryStyle) IsValid() bool {
	switch s {
	case SummaryStyleConcise, SummaryStyleDetailed, SummaryStyleBullets:
		return true
	}
	return false
}

// SummaryResult is the output of one summarization call.
type SummaryResult struct {
	Summary    string
	TokensUsed int
}

// SummarizerService produces summaries of decrypted chunk text.
type SummarizerService interface {
	Summarize(ctx context.Context, texts []string, style SummaryStyle) (*SummaryResult, error)
}

var stylePrompts = map[SummaryStyle]string{
	SummaryStyleConcise:  "Summarize the following notes in two or three sentences.",
	SummaryStyleDetailed: "Write a thorough summary of the following notes, preserving important details and caveats.",
	SummaryStyleBullets:  "Summarize the following notes as a short bullet list, one fact per bullet.",
}

type summarizerService struct {
	client *openai.Client
	// Model calls are the slowest dependency on the summarize path; the
	// semaphore keeps a burst from pinning every worker on the provider.
	sem       *semaphore.Weighted
	model     string
	maxTokens int
}

// NewSummarizerService creates a SummarizerService over an OpenAI-compatible
// chat completion endpoint.
func NewSummarizerService(cfg *LLMConfig) (SummarizerService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key required for summarization")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &summarizerService{
		client:    openai.NewClientWithConfig(clientConfig),
		sem:       semaphore.NewWeighted(4),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}, nil
}

func (s *summarizerService) Summarize(ctx context.Context, texts []string, style SummaryStyle) (*SummaryResult, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for summarization")
	}
	if !style.IsValid() {
		return nil, fmt.Errorf("unknown summary style: %s", style)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: stylePrompts[style]},
			{Role: openai.ChatMessageRoleUser, Content: strings.Join(texts, "\n---\n")},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty summarization response")
	}

	return &SummaryResult{
		Summary:    strings.TrimSpace(resp.Choices[0].Message.Content),
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
