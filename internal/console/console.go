// Package console is the interactive loop: it reads requests from a
// terminal, hands them to the coordinator and prints attributed replies.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"drax-assistant/internal/domain"
	"drax-assistant/internal/usecase"
)

type Coordinator interface {
	Handle(ctx context.Context, sessionID, text string) (domain.FormattedResponse, error)
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
	Providers() []domain.ProviderDescriptor
}

type Speech interface {
	CanTranscribe() bool
	CanSynthesize() bool
	SpeechToText(ctx context.Context, audio []byte) (string, error)
	TextToSpeech(ctx context.Context, text string) ([]byte, error)
}

type Console struct {
	coord     Coordinator
	speech    Speech
	out       io.Writer
	logger    *slog.Logger
	outputDir string
	newID     func() string
	readFile  func(string) ([]byte, error)
	writeFile func(string, []byte) error
	now       func() time.Time

	sessionID string
	speak     bool
	spoken    int
}

type Option func(*Console)

func WithSpeech(s Speech) Option {
	return func(c *Console) {
		c.speech = s
	}
}

func WithOutput(w io.Writer) Option {
	return func(c *Console) {
		c.out = w
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Console) {
		c.logger = l
	}
}

// WithOutputDir sets where synthesized replies are written.
func WithOutputDir(dir string) Option {
	return func(c *Console) {
		c.outputDir = dir
	}
}

// WithSessionID skips the session prompt.
func WithSessionID(id string) Option {
	return func(c *Console) {
		c.sessionID = strings.TrimSpace(id)
	}
}

func New(coord Coordinator, opts ...Option) (*Console, error) {
	if coord == nil {
		return nil, errors.New("console: coordinator must not be nil")
	}
	c := &Console{
		coord:     coord,
		out:       os.Stdout,
		logger:    slog.Default(),
		outputDir: ".",
		newID:     uuid.NewString,
		readFile:  os.ReadFile,
		writeFile: func(path string, data []byte) error { return os.WriteFile(path, data, 0o644) },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SessionID returns the active session id once Run has started.
func (c *Console) SessionID() string {
	return c.sessionID
}

// Run drives the loop until the input ends, an exit word is typed or ctx is
// canceled.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if c.sessionID == "" {
		c.printf("Provide the session ID to resume (press Enter to start a new one): ")
		if scanner.Scan() {
			c.sessionID = strings.TrimSpace(scanner.Text())
		}
		if c.sessionID == "" {
			c.sessionID = c.newID()
		}
	}

	c.printf("=== DRAX ===\n")
	c.printf("Session: %s\n", c.sessionID)
	c.printHistory(ctx)
	c.printf("Type /help for commands, exit to quit\n\n")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.printf("You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if isExitWord(input) {
			break
		}

		if strings.HasPrefix(input, "/") {
			text, quit := c.handleCommand(ctx, input)
			if quit {
				break
			}
			if text == "" {
				continue
			}
			input = text
		}
		c.ask(ctx, input)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("console: read input: %w", err)
	}

	c.printf("Goodbye!\n")
	return nil
}

func isExitWord(s string) bool {
	switch strings.ToLower(s) {
	case "exit", "quit", "bye":
		return true
	}
	return false
}

// handleCommand runs a slash command. A non-empty text result is sent to the
// coordinator as a request.
func (c *Console) handleCommand(ctx context.Context, input string) (string, bool) {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return "", true
	case "/record":
		return c.record(ctx, arg), false
	case "/speak":
		if c.speech == nil || !c.speech.CanSynthesize() {
			c.printf("Text-to-speech is not configured.\n")
			return "", false
		}
		c.speak = !c.speak
		state := "off"
		if c.speak {
			state = "on"
		}
		c.printf("Speech output %s.\n", state)
	case "/history":
		c.printHistory(ctx)
	case "/providers":
		for _, p := range c.coord.Providers() {
			line := fmt.Sprintf("  %s: %s", p.Name, p.Description)
			if len(p.Capabilities) > 0 {
				line += fmt.Sprintf(" [%s]", strings.Join(p.Capabilities, ", "))
			}
			c.printf("%s\n", line)
		}
	case "/help":
		c.printf("Commands:\n")
		c.printf("  /record <wav-file>  Transcribe audio and send it as the request\n")
		c.printf("  /speak              Toggle spoken replies\n")
		c.printf("  /history            Show this session's history\n")
		c.printf("  /providers          List member agents\n")
		c.printf("  exit | quit | bye   Leave\n")
	default:
		c.printf("Unknown command: %s (try /help)\n", cmd)
	}
	return "", false
}

func (c *Console) record(ctx context.Context, path string) string {
	if c.speech == nil || !c.speech.CanTranscribe() {
		c.printf("Transcription is not configured.\n")
		return ""
	}
	if path == "" {
		c.printf("Usage: /record <wav-file>\n")
		return ""
	}
	audio, err := c.readFile(path)
	if err != nil {
		c.printf("Error: could not read %s\n", path)
		c.logger.ErrorContext(ctx, "failed to read audio file", "path", path, "err", err)
		return ""
	}
	text, err := c.speech.SpeechToText(ctx, audio)
	if err != nil {
		c.printf("Error: could not transcribe audio\n")
		c.logger.ErrorContext(ctx, "transcription failed", "path", path, "err", err)
		return ""
	}
	c.printf("You said: %s\n", text)
	c.logger.InfoContext(ctx, "transcribed audio", "session_id", c.sessionID, "chars", len(text))
	return text
}

func (c *Console) ask(ctx context.Context, text string) {
	resp, err := c.coord.Handle(ctx, c.sessionID, text)
	if err != nil {
		var uerr *usecase.Error
		if errors.As(err, &uerr) && uerr.Recovered() {
			c.logger.WarnContext(ctx, "request completed with error", "session_id", c.sessionID, "code", uerr.Code, "err", err)
			if uerr.Code == usecase.ErrorNotRecorded {
				c.printf("(warning: this reply was not saved to the session history)\n")
			}
		} else {
			c.logger.ErrorContext(ctx, "request failed", "session_id", c.sessionID, "err", err)
			c.printf("Error: %s\n\n", describe(err))
			return
		}
	}

	c.printf("%s\n\n", resp.String())
	if c.speak {
		c.say(ctx, resp)
	}
}

func (c *Console) say(ctx context.Context, resp domain.FormattedResponse) {
	audio, err := c.speech.TextToSpeech(ctx, resp.Content)
	if err != nil {
		c.printf("(could not generate speech)\n")
		c.logger.ErrorContext(ctx, "speech synthesis failed", "err", err)
		return
	}
	c.spoken++
	path := filepath.Join(c.outputDir, c.speechFileName())
	if err := c.writeFile(path, audio); err != nil {
		c.printf("(could not save speech)\n")
		c.logger.ErrorContext(ctx, "failed to write speech file", "path", path, "err", err)
		return
	}
	c.printf("(speech saved to %s)\n", path)
}

// speechFileName is unique across runs: speech-<session>-<utc time>-<n>.mp3.
func (c *Console) speechFileName() string {
	session := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, c.sessionID)
	return fmt.Sprintf("speech-%s-%s-%d.mp3", session, c.now().UTC().Format("20060102T150405"), c.spoken)
}

func (c *Console) printHistory(ctx context.Context) {
	history, err := c.coord.History(ctx, c.sessionID)
	if err != nil {
		c.printf("Error: could not load history\n")
		c.logger.ErrorContext(ctx, "failed to load history", "session_id", c.sessionID, "err", err)
		return
	}
	if len(history) == 0 {
		c.printf("Welcome! This is a new session.\n")
		return
	}
	type entry struct {
		Role     domain.Role `json:"role"`
		Provider string      `json:"provider,omitempty"`
		Content  string      `json:"content"`
	}
	entries := make([]entry, 0, len(history))
	for _, m := range history {
		entries = append(entries, entry{Role: m.Role, Provider: m.ProviderName, Content: m.Content})
	}
	b, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to render history", "err", err)
		return
	}
	c.printf("Chat history for session %s:\n%s\n", c.sessionID, b)
}

func describe(err error) string {
	switch usecase.CodeOf(err) {
	case usecase.ErrorNoProviders:
		return "no member agents are configured"
	case usecase.ErrorInvalidInput:
		return "the request was empty or too long"
	case usecase.ErrorCanceled:
		return "the request was canceled"
	case usecase.ErrorSessionStore:
		return "the session history is unavailable"
	default:
		return "something went wrong handling that request"
	}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
