package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// EntityType filters named-entity extraction output.
type EntityType string

const (
	EntityTypeAny      EntityType = ""
	EntityTypePerson   EntityType = "person"
	EntityTypeOrg      EntityType = "org"
	EntityTypeLocation EntityType = "location"
	EntityTypeDate     EntityType = "date"
	EntityTypeOther    EntityType = "other"
)

// IsValid reports whether the type is a known filter value.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeAny, EntityTypePerson, EntityTypeOrg, EntityTypeLocation, EntityTypeDate, EntityTypeOther:
		return true
	}
	return false
}

// Entity is one extracted named entity.
type Entity struct {
	Text string     `json:"text"`
	Type EntityType `json:"type"`
}

// EntityService extracts named entities from free text.
type EntityService interface {
	Extract(ctx context.Context, texts []string, filter EntityType) ([]Entity, error)
}

const entityPrompt = `Extract the named entities from the text below.
Respond with a JSON array only, no prose. Each element is
{"text": "...", "type": "person|org|location|date|other"}.`

type entityService struct {
	client *openai.Client
	model  string
}

// NewEntityService creates an EntityService over an OpenAI-compatible chat
// completion endpoint.
func NewEntityService(cfg *LLMConfig) (EntityService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key required for entity extraction")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &entityService{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

func (s *entityService) Extract(ctx context.Context, texts []string, filter EntityType) ([]Entity, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for entity extraction")
	}
	if !filter.IsValid() {
		return nil, fmt.Errorf("unknown entity type filter: %s", filter)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: entityPrompt},
			{Role: openai.ChatMessageRoleUser, Content: strings.Join(texts, "\n---\n")},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("entity extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty entity extraction response")
	}

	entities, err := parseEntityResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	if filter == EntityTypeAny {
		return entities, nil
	}
	filtered := entities[:0]
	for _, e := range entities {
		if e.Type == filter {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// parseEntityResponse tolerates markdown fencing around the JSON array,
// which smaller models add despite the prompt.
func parseEntityResponse(content string) ([]Entity, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var entities []Entity
	if err := json.Unmarshal([]byte(content), &entities); err != nil {
		return nil, fmt.Errorf("malformed entity extraction output: %w", err)
	}

	out := entities[:0]
	for _, e := range entities {
		if e.Text == "" {
			continue
		}
		if !e.Type.IsValid() || e.Type == EntityTypeAny {
			e.Type = EntityTypeOther
		}
		out = append(out, e)
	}
	return out, nil
}
