package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini reply provider.
type GeminiConfig struct {
	APIKey       string
	Model        string // e.g. "gemini-2.0-flash-exp"
	SystemPrompt string
	MaxHistory   int // maximum history messages retained (0 = 20)
}

// GeminiProvider generates persona replies through the Gemini API.
type GeminiProvider struct {
	cfg    GeminiConfig
	client *genai.Client

	mu      sync.Mutex
	history []*genai.Content
}

// NewGeminiProvider creates a provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash-exp"
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = 20
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGoogleAI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	log.Printf("[LLM] Gemini provider ready (model: %s)", cfg.Model)
	return &GeminiProvider{
		cfg:    cfg,
		client: client,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Reply generates the persona's answer to userText.
func (p *GeminiProvider) Reply(ctx context.Context, userText string) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "", fmt.Errorf("empty user text")
	}

	p.mu.Lock()
	contents := append(append([]*genai.Content(nil), p.history...), textContent("user", userText))
	p.mu.Unlock()

	resp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, p.requestConfig())
	if err != nil {
		return "", err
	}

	reply := collectText(resp)
	if reply == "" {
		return "", fmt.Errorf("no response from Gemini")
	}

	p.mu.Lock()
	p.history = append(p.history, textContent("user", userText), textContent("model", reply))
	p.history = trimPairs(p.history, p.cfg.MaxHistory)
	p.mu.Unlock()

	return reply, nil
}

// HistoryLength returns the current number of messages in history.
func (p *GeminiProvider) HistoryLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

func (p *GeminiProvider) ClearHistory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
	log.Printf("[LLM] History cleared")
}

func (p *GeminiProvider) requestConfig() *genai.GenerateContentConfig {
	if p.cfg.SystemPrompt == "" {
		return nil
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: p.cfg.SystemPrompt},
			},
		},
	}
}

func textContent(role, text string) *genai.Content {
	return &genai.Content{
		Role:  role,
		Parts: []*genai.Part{{Text: text}},
	}
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var builder strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			builder.WriteString(part.Text)
		}
	}
	return builder.String()
}

var _ ReplyProvider = (*GeminiProvider)(nil)
