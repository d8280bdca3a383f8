package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"drax-assistant/internal/domain"
	"drax-assistant/internal/integrations/openai"
)

const (
	defaultPersona      = "You are DRAX, a friendly personal assistant that manages a team of specialist agents."
	maxScorerHistoryLen = 10
)

// JSONChatter is the slice of the OpenAI-compatible client the LLM scorer uses.
type JSONChatter interface {
	ChatJSON(ctx context.Context, model string, messages []domain.ChatMessage, schema openai.JSONSchema) (string, error)
}

// LLMScorer asks a chat model, acting as the team manager, which single
// provider should take the request.
type LLMScorer struct {
	llm     JSONChatter
	model   string
	persona string
}

// NewLLMScorer creates an LLMScorer. An empty persona uses the default one.
func NewLLMScorer(llm JSONChatter, model, persona string) (*LLMScorer, error) {
	if llm == nil {
		return nil, errors.New("routing: llm client must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("routing: model must not be empty")
	}
	if strings.TrimSpace(persona) == "" {
		persona = defaultPersona
	}
	return &LLMScorer{llm: llm, model: model, persona: persona}, nil
}

type routeAnswer struct {
	Provider   string  `json:"provider"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func (s *LLMScorer) Score(ctx context.Context, q Query, providers []domain.ProviderDescriptor) ([]Candidate, error) {
	raw, err := s.llm.ChatJSON(ctx, s.model, buildRouteMessages(s.persona, q, providers), routeSchema())
	if err != nil {
		return nil, fmt.Errorf("routing: route request: %w", err)
	}
	answer, err := parseRouteAnswer(raw)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(providers))
	for _, p := range providers {
		c := Candidate{Name: p.Name}
		if p.Name == answer.Provider {
			c.Score = answer.Confidence
			c.Rationale = answer.Rationale
		}
		out = append(out, c)
	}
	return out, nil
}

func buildRouteMessages(persona string, q Query, providers []domain.ProviderDescriptor) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildRoutePrompt(persona, providers)},
	}
	history := q.History
	if len(history) > maxScorerHistoryLen {
		history = history[len(history)-maxScorerHistoryLen:]
	}
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case domain.RoleUser:
			messages = append(messages, domain.ChatMessage{Role: "user", Content: content})
		case domain.RoleAssistant:
			if m.ProviderName != "" {
				content = fmt.Sprintf("[%s] %s", m.ProviderName, content)
			}
			messages = append(messages, domain.ChatMessage{Role: "assistant", Content: content})
		}
	}
	messages = append(messages, domain.ChatMessage{Role: "user", Content: q.Text})
	return messages
}

func buildRoutePrompt(persona string, providers []domain.ProviderDescriptor) string {
	roster := make([]string, 0, len(providers))
	for _, p := range providers {
		line := fmt.Sprintf("- %s: %s", p.Name, normalizePromptInput(p.Description))
		if len(p.Capabilities) > 0 {
			line += fmt.Sprintf(" (capabilities: %s)", strings.Join(p.Capabilities, ", "))
		}
		roster = append(roster, line)
	}
	return strings.Join([]string{
		strings.TrimSpace(persona),
		"",
		"Task:",
		"You do not answer the request yourself.",
		"Choose the single member agent best suited to handle the current user request.",
		"Use prior turns only to resolve follow-up questions.",
		"",
		"Member Agents:",
		strings.Join(roster, "\n"),
		"",
		"Output Contract:",
		"Return JSON only with keys provider (string), confidence (number between 0 and 1) and rationale (string).",
		"provider must be exactly one of the member agent names above.",
		"Use a low confidence when no member agent is a good fit.",
	}, "\n")
}

func routeSchema() openai.JSONSchema {
	return openai.JSONSchema{
		Name:   "route_decision",
		Strict: true,
		Schema: json.RawMessage(`{
			"type":"object",
			"additionalProperties":false,
			"properties":{
				"provider":{"type":"string"},
				"confidence":{"type":"number"},
				"rationale":{"type":"string"}
			},
			"required":["provider","confidence","rationale"]
		}`),
	}
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func parseRouteAnswer(raw string) (routeAnswer, error) {
	var out routeAnswer
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return routeAnswer{}, fmt.Errorf("routing: decode route answer: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return routeAnswer{}, errors.New("routing: decode route answer: multiple JSON values")
		}
		return routeAnswer{}, fmt.Errorf("routing: decode route answer trailing data: %w", err)
	}
	out.Provider = strings.TrimSpace(out.Provider)
	if out.Provider == "" {
		return routeAnswer{}, errors.New("routing: route answer missing provider")
	}
	out.Confidence = min(max(out.Confidence, 0), 1)
	return out, nil
}
