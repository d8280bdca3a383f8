// Package config holds the assistant's explicit configuration. Values are
// layered: defaults, then a TOML file, then environment variables, then
// secrets from SSM Parameter Store.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend and option names.
const (
	BackendOpenAI     = "openai"
	BackendGroq       = "groq"
	BackendDeepgram   = "deepgram"
	BackendElevenLabs = "elevenlabs"
	BackendLocal      = "local"
	BackendNone       = "none"

	ScorerKeyword = "keyword"
	ScorerLLM     = "llm"

	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"

	KindLLM       = "llm"
	KindHTTP      = "http"
	KindWebSocket = "websocket"
)

const (
	defaultDispatchTimeout = 60 * time.Second
	defaultHistoryWindow   = 10
	defaultMaxTextLen      = 4000
	defaultThreshold       = 0.1
	defaultGroqModel       = "llama-3.3-70b-versatile"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultWhisperModel    = "whisper-large-v3"
	defaultSQLitePath      = "database/chat_history.db"
	defaultLogDir          = "logs"
	defaultOutputDir       = "."
)

type Config struct {
	ParamPrefix string            `toml:"param_prefix"`
	Routing     RoutingConfig     `toml:"routing"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Speech      SpeechConfig      `toml:"speech"`
	Store       StoreConfig       `toml:"store"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Providers   []ProviderConfig  `toml:"providers"`
	Keys        Keys              `toml:"-"`
}

type RoutingConfig struct {
	// Scorer is "llm" (manager model picks the member) or "keyword".
	Scorer          string  `toml:"scorer"`
	ResponseBackend string  `toml:"response_backend"`
	Model           string  `toml:"model"`
	Persona         string  `toml:"persona"`
	Threshold       float64 `toml:"threshold"`
	DefaultProvider string  `toml:"default_provider"`

	// thresholdSet marks an explicit threshold in a file, so 0 is kept.
	thresholdSet bool
}

type CoordinatorConfig struct {
	DispatchTimeout time.Duration `toml:"dispatch_timeout"`
	HistoryWindow   int           `toml:"history_window"`
	MaxTextLen      int           `toml:"max_text_len"`
}

type SpeechConfig struct {
	Transcription   string `toml:"transcription"`
	TTS             string `toml:"tts"`
	WhisperModel    string `toml:"whisper_model"`
	ElevenLabsVoice string `toml:"elevenlabs_voice"`
	OutputDir       string `toml:"output_dir"`
}

type StoreConfig struct {
	Kind        string        `toml:"kind"`
	SQLitePath  string        `toml:"sqlite_path"`
	DynamoTable string        `toml:"dynamo_table"`
	TTL         time.Duration `toml:"ttl"`
}

type TelemetryConfig struct {
	Enabled bool   `toml:"enabled"`
	LogDir  string `toml:"log_dir"`
	Debug   bool   `toml:"debug"`
}

type ProviderConfig struct {
	Name         string            `toml:"name"`
	Description  string            `toml:"description"`
	Capabilities []string          `toml:"capabilities"`
	Kind         string            `toml:"kind"`
	Model        string            `toml:"model"`
	Endpoint     string            `toml:"endpoint"`
	Instructions string            `toml:"instructions"`
	Headers      map[string]string `toml:"headers"`
}

// Keys are API credentials. They never come from the config file.
type Keys struct {
	OpenAI     string
	Groq       string
	Deepgram   string
	ElevenLabs string
}

func DefaultConfig() Config {
	return Config{
		Routing: RoutingConfig{
			Scorer:          ScorerLLM,
			ResponseBackend: BackendGroq,
			Threshold:       defaultThreshold,
		},
		Coordinator: CoordinatorConfig{
			DispatchTimeout: defaultDispatchTimeout,
			HistoryWindow:   defaultHistoryWindow,
			MaxTextLen:      defaultMaxTextLen,
		},
		Speech: SpeechConfig{
			Transcription: BackendGroq,
			TTS:           BackendDeepgram,
			WhisperModel:  defaultWhisperModel,
			OutputDir:     defaultOutputDir,
		},
		Store: StoreConfig{
			Kind:       StoreSQLite,
			SQLitePath: defaultSQLitePath,
		},
		Telemetry: TelemetryConfig{
			LogDir: defaultLogDir,
		},
	}
}

// Merge applies non-zero values from source into c. A non-empty provider
// list replaces the current one.
func (c *Config) Merge(source *Config) {
	if source.ParamPrefix != "" {
		c.ParamPrefix = source.ParamPrefix
	}

	r := source.Routing
	setString(&c.Routing.Scorer, r.Scorer)
	setString(&c.Routing.ResponseBackend, r.ResponseBackend)
	setString(&c.Routing.Model, r.Model)
	setString(&c.Routing.Persona, r.Persona)
	setString(&c.Routing.DefaultProvider, r.DefaultProvider)
	if r.Threshold != 0 || r.thresholdSet {
		c.Routing.Threshold = r.Threshold
	}

	co := source.Coordinator
	if co.DispatchTimeout != 0 {
		c.Coordinator.DispatchTimeout = co.DispatchTimeout
	}
	if co.HistoryWindow != 0 {
		c.Coordinator.HistoryWindow = co.HistoryWindow
	}
	if co.MaxTextLen != 0 {
		c.Coordinator.MaxTextLen = co.MaxTextLen
	}

	s := source.Speech
	setString(&c.Speech.Transcription, s.Transcription)
	setString(&c.Speech.TTS, s.TTS)
	setString(&c.Speech.WhisperModel, s.WhisperModel)
	setString(&c.Speech.ElevenLabsVoice, s.ElevenLabsVoice)
	setString(&c.Speech.OutputDir, s.OutputDir)

	st := source.Store
	setString(&c.Store.Kind, st.Kind)
	setString(&c.Store.SQLitePath, st.SQLitePath)
	setString(&c.Store.DynamoTable, st.DynamoTable)
	if st.TTL != 0 {
		c.Store.TTL = st.TTL
	}

	if source.Telemetry.Enabled {
		c.Telemetry.Enabled = true
	}
	if source.Telemetry.Debug {
		c.Telemetry.Debug = true
	}
	setString(&c.Telemetry.LogDir, source.Telemetry.LogDir)

	if len(source.Providers) > 0 {
		c.Providers = source.Providers
	}

	setString(&c.Keys.OpenAI, source.Keys.OpenAI)
	setString(&c.Keys.Groq, source.Keys.Groq)
	setString(&c.Keys.Deepgram, source.Keys.Deepgram)
	setString(&c.Keys.ElevenLabs, source.Keys.ElevenLabs)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// LoadFile reads a TOML file and merges it over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	loaded, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.Merge(loaded)
	return &cfg, nil
}

// Parse decodes TOML text without applying defaults. Unknown keys are an
// error so typos do not silently fall back to defaults.
func Parse(text string) (*Config, error) {
	var loaded Config
	md, err := toml.Decode(text, &loaded)
	if err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	loaded.Routing.thresholdSet = md.IsDefined("routing", "threshold")
	return &loaded, nil
}

// ResponseModel returns the configured chat model, or the backend's default.
func (c *Config) ResponseModel() string {
	if c.Routing.Model != "" {
		return c.Routing.Model
	}
	if c.Routing.ResponseBackend == BackendOpenAI {
		return defaultOpenAIModel
	}
	return defaultGroqModel
}

// ResponseKey returns the API key of the configured chat backend.
func (c *Config) ResponseKey() string {
	if c.Routing.ResponseBackend == BackendOpenAI {
		return c.Keys.OpenAI
	}
	return c.Keys.Groq
}

// ResponseKeyParam returns the Parameter Store name holding the chat
// backend's key, or "" when no ParamPrefix is set.
func (c *Config) ResponseKeyParam() string {
	prefix := strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	if prefix == "" {
		return ""
	}
	if c.Routing.ResponseBackend == BackendOpenAI {
		return prefix + "/" + ParamOpenAIKey
	}
	return prefix + "/" + ParamGroqKey
}

// NeedsChat reports whether any component calls the chat backend.
func (c *Config) NeedsChat() bool {
	if c.Routing.Scorer == ScorerLLM {
		return true
	}
	for _, p := range c.Providers {
		if p.Kind == KindLLM {
			return true
		}
	}
	return false
}

// DisableSpeech turns off both speech directions.
func (c *Config) DisableSpeech() {
	c.Speech.Transcription = BackendNone
	c.Speech.TTS = BackendNone
}

// Validate checks the configuration once at startup.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Speech.Transcription {
	case BackendGroq:
		if c.Keys.Groq == "" {
			add("groq api key is required for groq transcription")
		}
	case BackendDeepgram:
		if c.Keys.Deepgram == "" {
			add("deepgram api key is required for deepgram transcription")
		}
	case BackendNone:
	case BackendLocal:
		add("transcription backend %q is not supported; use groq or deepgram", BackendLocal)
	default:
		add("invalid transcription backend %q: must be one of [groq deepgram none]", c.Speech.Transcription)
	}

	switch c.Speech.TTS {
	case BackendDeepgram:
		if c.Keys.Deepgram == "" {
			add("deepgram api key is required for deepgram tts")
		}
	case BackendElevenLabs:
		if c.Keys.ElevenLabs == "" {
			add("elevenlabs api key is required for elevenlabs tts")
		}
	case BackendNone:
	default:
		add("invalid tts backend %q: must be one of [deepgram elevenlabs none]", c.Speech.TTS)
	}

	switch c.Routing.ResponseBackend {
	case BackendOpenAI, BackendGroq:
		// With a ParamPrefix the chat key is read from Parameter Store on first use.
		if c.NeedsChat() && c.ResponseKey() == "" && c.ResponseKeyParam() == "" {
			add("%s api key is required for the response backend", c.Routing.ResponseBackend)
		}
	default:
		add("invalid response backend %q: must be one of [openai groq]", c.Routing.ResponseBackend)
	}

	switch c.Routing.Scorer {
	case ScorerKeyword, ScorerLLM:
	default:
		add("invalid routing scorer %q: must be one of [keyword llm]", c.Routing.Scorer)
	}
	if c.Routing.Threshold < 0 || c.Routing.Threshold > 1 {
		add("routing threshold %v must be within [0,1]", c.Routing.Threshold)
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			add("sqlite store requires sqlite_path")
		}
	case StoreDynamoDB:
		if c.Store.DynamoTable == "" {
			add("dynamodb store requires dynamo_table")
		}
	default:
		add("invalid session store %q: must be one of [memory sqlite dynamodb]", c.Store.Kind)
	}

	if c.Coordinator.DispatchTimeout <= 0 {
		add("dispatch timeout must be positive")
	}
	if c.Coordinator.HistoryWindow <= 0 {
		add("history window must be positive")
	}
	if c.Coordinator.MaxTextLen <= 0 {
		add("max text length must be positive")
	}

	names := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			add("provider %d: name must not be empty", i)
			continue
		}
		if _, dup := names[name]; dup {
			add("provider %q: defined more than once", name)
		}
		names[name] = struct{}{}
		switch p.Kind {
		case KindLLM:
		case KindHTTP, KindWebSocket:
			if strings.TrimSpace(p.Endpoint) == "" {
				add("provider %q: %s kind requires an endpoint", name, p.Kind)
			}
		default:
			add("provider %q: unknown kind %q", name, p.Kind)
		}
	}
	if d := c.Routing.DefaultProvider; d != "" {
		if _, ok := names[d]; !ok {
			add("default provider %q is not defined", d)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
