package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"drax-assistant/internal/domain"
)

const defaultLLMHistory = 10

// ErrEmptyReply is returned when a backend answers with no content.
var ErrEmptyReply = errors.New("provider: empty reply")

type ChatClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// LLM is a provider backed by an OpenAI-compatible chat model. The model
// plays the specialist described by the descriptor.
type LLM struct {
	client       ChatClient
	model        string
	descriptor   domain.ProviderDescriptor
	instructions string
	historyLen   int
}

type LLMOption func(*LLM)

// WithInstructions appends provider specific guidance to the system prompt.
func WithInstructions(s string) LLMOption {
	return func(p *LLM) {
		p.instructions = strings.TrimSpace(s)
	}
}

func WithHistoryLen(n int) LLMOption {
	return func(p *LLM) {
		if n > 0 {
			p.historyLen = n
		}
	}
}

func NewLLM(client ChatClient, model string, d domain.ProviderDescriptor, opts ...LLMOption) (*LLM, error) {
	if client == nil {
		return nil, errors.New("provider: chat client must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("provider: model must not be empty")
	}
	p := &LLM{client: client, model: model, descriptor: d, historyLen: defaultLLMHistory}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *LLM) Handle(ctx context.Context, text string, history []domain.Message) (Result, error) {
	raw, err := p.client.Chat(ctx, p.model, p.buildMessages(text, history))
	if err != nil {
		return Result{}, fmt.Errorf("provider: %s chat: %w", p.descriptor.Name, err)
	}
	content := strings.TrimSpace(raw)
	if content == "" {
		return Result{}, fmt.Errorf("%w from %s", ErrEmptyReply, p.descriptor.Name)
	}
	return Result{Content: content}, nil
}

func (p *LLM) buildMessages(text string, history []domain.Message) []domain.ChatMessage {
	messages := []domain.ChatMessage{{Role: "system", Content: p.systemPrompt()}}
	if len(history) > p.historyLen {
		history = history[len(history)-p.historyLen:]
	}
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case domain.RoleUser:
			messages = append(messages, domain.ChatMessage{Role: "user", Content: content})
		case domain.RoleAssistant, domain.RoleProvider:
			// Replies from other members are shared as context.
			if m.ProviderName != "" && m.ProviderName != p.descriptor.Name {
				content = fmt.Sprintf("[%s] %s", m.ProviderName, content)
			}
			messages = append(messages, domain.ChatMessage{Role: "assistant", Content: content})
		}
	}
	return append(messages, domain.ChatMessage{Role: "user", Content: text})
}

func (p *LLM) systemPrompt() string {
	lines := []string{
		fmt.Sprintf("You are %s, a member agent of a personal assistant team.", p.descriptor.Name),
		strings.TrimSpace(p.descriptor.Description),
	}
	if len(p.descriptor.Capabilities) > 0 {
		lines = append(lines, "Capabilities: "+strings.Join(p.descriptor.Capabilities, ", "))
	}
	lines = append(lines,
		"",
		"Behavior Rules:",
		"- Answer only the current request, using prior turns for context.",
		"- If the request is outside your expertise, say so briefly.",
		"- Keep answers concise and neatly structured.",
	)
	if p.instructions != "" {
		lines = append(lines, "", p.instructions)
	}
	return strings.Join(lines, "\n")
}
