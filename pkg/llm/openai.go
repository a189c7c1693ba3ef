package llm

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig holds configuration for the OpenAI reply provider.
type OpenAIConfig struct {
	APIKey       string
	Model        string // e.g. "gpt-4o-mini", "gpt-4o"
	SystemPrompt string
	MaxTokens    int
	MaxHistory   int // maximum history messages retained (0 = 20)
	Streaming    bool

	// OnDelta receives completed sentences during a streaming reply,
	// so the avatar can start speaking before the full reply exists.
	OnDelta func(sentence string)
}

// OpenAIProvider generates persona replies through the OpenAI Chat
// Completion API, with bounded conversation history.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *openai.Client

	mu      sync.Mutex
	history []openai.ChatCompletionMessageParamUnion
}

// NewOpenAIProvider creates a provider. SystemPrompt is usually built
// by BuildSystemPrompt from the session's scenario.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = 20
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	log.Printf("[LLM] OpenAI provider ready (model: %s, streaming: %v)", cfg.Model, cfg.Streaming)
	return &OpenAIProvider{
		cfg:    cfg,
		client: &client,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Reply generates the persona's answer to userText.
func (p *OpenAIProvider) Reply(ctx context.Context, userText string) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "", fmt.Errorf("empty user text")
	}

	p.addToHistory(openai.UserMessage(userText))

	var reply string
	var err error
	if p.cfg.Streaming {
		reply, err = p.replyStreaming(ctx)
	} else {
		reply, err = p.replyNonStreaming(ctx)
	}
	if err != nil {
		return "", err
	}

	p.addToHistory(openai.AssistantMessage(reply))
	return reply, nil
}

func (p *OpenAIProvider) replyNonStreaming(ctx context.Context) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.buildParams())
	if err != nil {
		return "", fmt.Errorf("completion error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}
	return completion.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) replyStreaming(ctx context.Context) (string, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams())

	var builder strings.Builder
	var sentence strings.Builder

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		builder.WriteString(delta)
		sentence.WriteString(delta)

		if sentenceComplete(sentence.String()) {
			p.emitDelta(sentence.String())
			sentence.Reset()
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("streaming error: %w", err)
	}

	if remaining := sentence.String(); strings.TrimSpace(remaining) != "" {
		p.emitDelta(remaining)
	}
	return builder.String(), nil
}

func (p *OpenAIProvider) emitDelta(sentence string) {
	if p.cfg.OnDelta != nil {
		p.cfg.OnDelta(strings.TrimSpace(sentence))
	}
}

func (p *OpenAIProvider) buildParams() openai.ChatCompletionNewParams {
	p.mu.Lock()
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(p.history)+1)
	if p.cfg.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(p.cfg.SystemPrompt))
	}
	messages = append(messages, p.history...)
	p.mu.Unlock()

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    shared.ChatModel(p.cfg.Model),
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.cfg.MaxTokens))
	}
	return params
}

func (p *OpenAIProvider) addToHistory(msg openai.ChatCompletionMessageParamUnion) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, msg)
	p.history = trimPairs(p.history, p.cfg.MaxHistory)
}

// HistoryLength returns the current number of messages in history.
func (p *OpenAIProvider) HistoryLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

func (p *OpenAIProvider) ClearHistory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
	log.Printf("[LLM] History cleared")
}

// sentenceComplete reports whether text ends on sentence-ending
// punctuation. Handles multi-byte punctuation correctly.
func sentenceComplete(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	lastRune, _ := utf8.DecodeLastRuneInString(trimmed)
	if lastRune == utf8.RuneError {
		return false
	}
	return strings.ContainsRune(".!?;:。！？；：", lastRune)
}

var _ ReplyProvider = (*OpenAIProvider)(nil)
