package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"drax-assistant/internal/integrations/paramstore"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides c from environment variables. Malformed numeric values
// are reported rather than ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	setString(&c.ParamPrefix, get("PARAM_PREFIX"))
	setString(&c.Routing.Scorer, get("DRAX_ROUTING_SCORER"))
	setString(&c.Routing.ResponseBackend, get("DRAX_RESPONSE_BACKEND"))
	setString(&c.Routing.Model, get("DRAX_RESPONSE_MODEL"))
	setString(&c.Routing.DefaultProvider, get("DRAX_DEFAULT_PROVIDER"))
	setString(&c.Speech.Transcription, get("DRAX_TRANSCRIPTION"))
	setString(&c.Speech.TTS, get("DRAX_TTS"))
	setString(&c.Speech.OutputDir, get("DRAX_OUTPUT_DIR"))
	setString(&c.Store.Kind, get("DRAX_STORE"))
	setString(&c.Store.SQLitePath, get("DRAX_SQLITE_PATH"))
	setString(&c.Store.DynamoTable, get("SESSION_TABLE"))
	setString(&c.Telemetry.LogDir, get("DRAX_LOG_DIR"))

	setString(&c.Keys.OpenAI, get("OPENAI_API_KEY"))
	setString(&c.Keys.Groq, get("GROQ_API_KEY"))
	setString(&c.Keys.Deepgram, get("DEEPGRAM_API_KEY"))
	setString(&c.Keys.ElevenLabs, get("ELEVENLABS_API_KEY"))

	if v := get("DRAX_ROUTING_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: DRAX_ROUTING_THRESHOLD: %w", err)
		}
		c.Routing.Threshold = f
	}
	if v := get("DRAX_DISPATCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: DRAX_DISPATCH_TIMEOUT: %w", err)
		}
		c.Coordinator.DispatchTimeout = d
	}
	if v := get("DRAX_HISTORY_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DRAX_HISTORY_WINDOW: %w", err)
		}
		c.Coordinator.HistoryWindow = n
	}
	if v := get("DRAX_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: DRAX_SESSION_TTL: %w", err)
		}
		c.Store.TTL = d
	}
	if v := get("DRAX_TELEMETRY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: DRAX_TELEMETRY: %w", err)
		}
		c.Telemetry.Enabled = b
	}
	return nil
}

// ParamsGetter is the batch read of the parameter store client.
type ParamsGetter interface {
	GetParameters(ctx context.Context, names []string) (map[string]string, error)
}

// Parameter names under the prefix holding API keys.
const (
	ParamOpenAIKey     = "openai_api_key"
	ParamGroqKey       = "groq_api_key"
	ParamDeepgramKey   = "deepgram_api_key"
	ParamElevenLabsKey = "elevenlabs_api_key"
)

// LoadSecrets fills API keys that are still empty from SSM parameters under
// ParamPrefix. Parameters may hold the raw key or {"token": "..."}.
// Missing parameters are left for Validate to report.
func (c *Config) LoadSecrets(ctx context.Context, params ParamsGetter) error {
	prefix := strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	if prefix == "" || params == nil {
		return nil
	}
	targets := map[string]*string{
		prefix + "/" + ParamOpenAIKey:     &c.Keys.OpenAI,
		prefix + "/" + ParamGroqKey:       &c.Keys.Groq,
		prefix + "/" + ParamDeepgramKey:   &c.Keys.Deepgram,
		prefix + "/" + ParamElevenLabsKey: &c.Keys.ElevenLabs,
	}
	var names []string
	for name, dst := range targets {
		if *dst == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}

	values, err := params.GetParameters(ctx, names)
	if err != nil {
		return fmt.Errorf("config: load secrets: %w", err)
	}
	for name, raw := range values {
		dst, ok := targets[name]
		if !ok {
			continue
		}
		key, err := paramstore.DecodeToken(raw)
		if err != nil {
			return fmt.Errorf("config: parameter %s: %w", name, err)
		}
		*dst = key
	}
	return nil
}
