// Package bootstrap wires the coordinator and its collaborators from a
// validated config.Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"drax-assistant/internal/config"
	"drax-assistant/internal/domain"
	"drax-assistant/internal/integrations/openai"
	"drax-assistant/internal/integrations/paramstore"
	"drax-assistant/internal/provider"
	"drax-assistant/internal/registry"
	"drax-assistant/internal/repository"
	"drax-assistant/internal/routing"
	"drax-assistant/internal/session"
	"drax-assistant/internal/speech"
	"drax-assistant/internal/telemetry"
	"drax-assistant/internal/usecase"
)

// Deps are the process-level collaborators supplied by main.
type Deps struct {
	Logger    *slog.Logger
	Telemetry *telemetry.Providers
	// DynamoDB is required when the session store kind is dynamodb.
	DynamoDB repository.DynamoDBAPI
	// Params resolves the chat backend key from Parameter Store when the
	// config carries no key but has a ParamPrefix.
	Params paramstore.Getter
	// HTTPClient, when set, is used by HTTP providers.
	HTTPClient *http.Client
	// ChatBaseURL overrides the chat backend's base URL.
	ChatBaseURL string
	// Speech overrides backend endpoints.
	Speech speech.Options
}

// App is the wired assistant.
type App struct {
	Coordinator *usecase.Coordinator
	Registry    *registry.Registry
	Speech      *speech.Adapter
	Store       session.Store

	closers []io.Closer
}

// Close releases provider connections and the session store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// Build assembles an App. cfg must already be validated.
func Build(ctx context.Context, cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config must not be nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tel := deps.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}

	app := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	var chat *openai.Client
	if cfg.NeedsChat() {
		var err error
		chat, err = newChatClient(cfg, deps)
		if err != nil {
			return nil, err
		}
	}

	reg, err := buildRegistry(cfg, chat, deps, logger, app)
	if err != nil {
		return nil, err
	}
	app.Registry = reg

	var scorer routing.Scorer = routing.KeywordScorer{}
	if cfg.Routing.Scorer == config.ScorerLLM {
		scorer, err = routing.NewLLMScorer(chat, cfg.ResponseModel(), cfg.Routing.Persona)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}
	policy, err := routing.NewPolicy(scorer,
		routing.WithThreshold(cfg.Routing.Threshold),
		routing.WithDefaultProvider(cfg.Routing.DefaultProvider),
		routing.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	store, err := buildStore(cfg, deps, app)
	if err != nil {
		return nil, err
	}
	app.Store = store

	app.Coordinator, err = usecase.NewCoordinator(reg, policy, store,
		usecase.WithDispatchTimeout(cfg.Coordinator.DispatchTimeout),
		usecase.WithHistoryWindow(cfg.Coordinator.HistoryWindow),
		usecase.WithMaxTextLen(cfg.Coordinator.MaxTextLen),
		usecase.WithLogger(logger),
		usecase.WithTracer(tel.Tracer),
		usecase.WithMeter(tel.Meter),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	app.Speech, err = buildSpeech(cfg, deps.Speech)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "assistant ready",
		"providers", reg.Len(),
		"scorer", cfg.Routing.Scorer,
		"store", cfg.Store.Kind,
		"transcription", cfg.Speech.Transcription,
		"tts", cfg.Speech.TTS,
	)
	ok = true
	return app, nil
}

func newChatClient(cfg *config.Config, deps Deps) (*openai.Client, error) {
	baseURL := deps.ChatBaseURL
	if baseURL == "" {
		baseURL = openai.GroqBaseURL
		if cfg.Routing.ResponseBackend == config.BackendOpenAI {
			baseURL = openai.DefaultBaseURL
		}
	}
	opts := []openai.Option{openai.WithBaseURL(baseURL)}
	switch {
	case cfg.ResponseKey() != "":
		opts = append(opts, openai.WithAPIKey(cfg.ResponseKey()))
	case deps.Params != nil && cfg.ResponseKeyParam() != "":
		opts = append(opts, openai.WithParamStoreKey(deps.Params, cfg.ResponseKeyParam()))
	default:
		return nil, fmt.Errorf("bootstrap: no api key for the %s response backend", cfg.Routing.ResponseBackend)
	}
	client, err := openai.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: chat client: %w", err)
	}
	return client, nil
}

func buildRegistry(cfg *config.Config, chat *openai.Client, deps Deps, logger *slog.Logger, app *App) (*registry.Registry, error) {
	reg := registry.New()
	for _, pc := range cfg.Providers {
		d := domain.ProviderDescriptor{
			Name:         strings.TrimSpace(pc.Name),
			Description:  strings.TrimSpace(pc.Description),
			Capabilities: pc.Capabilities,
		}

		var h provider.Provider
		switch pc.Kind {
		case config.KindLLM:
			model := pc.Model
			if model == "" {
				model = cfg.ResponseModel()
			}
			p, err := provider.NewLLM(chat, model, d,
				provider.WithInstructions(pc.Instructions),
				provider.WithHistoryLen(cfg.Coordinator.HistoryWindow),
			)
			if err != nil {
				return nil, fmt.Errorf("bootstrap: provider %q: %w", d.Name, err)
			}
			h = p
		case config.KindHTTP:
			opts := []provider.HTTPOption{provider.WithHTTPClient(deps.HTTPClient)}
			for k, v := range pc.Headers {
				opts = append(opts, provider.WithHeader(k, v))
			}
			p, err := provider.NewHTTP(pc.Endpoint, opts...)
			if err != nil {
				return nil, fmt.Errorf("bootstrap: provider %q: %w", d.Name, err)
			}
			h = p
		case config.KindWebSocket:
			p, err := provider.NewWebSocket(pc.Endpoint, provider.WithWebSocketLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("bootstrap: provider %q: %w", d.Name, err)
			}
			app.closers = append(app.closers, p)
			h = p
		default:
			return nil, fmt.Errorf("bootstrap: provider %q: unknown kind %q", d.Name, pc.Kind)
		}

		if err := reg.Register(d, h); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}
	return reg, nil
}

func buildStore(cfg *config.Config, deps Deps, app *App) (session.Store, error) {
	switch cfg.Store.Kind {
	case config.StoreMemory:
		return session.NewMemoryStore(), nil
	case config.StoreSQLite:
		store, err := repository.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		app.closers = append(app.closers, store)
		return store, nil
	case config.StoreDynamoDB:
		if deps.DynamoDB == nil {
			return nil, errors.New("bootstrap: dynamodb store requires a dynamodb client")
		}
		var opts []repository.DynamoOption
		if cfg.Store.TTL > 0 {
			opts = append(opts, repository.WithTTL(cfg.Store.TTL))
		}
		store, err := repository.NewDynamoStore(deps.DynamoDB, cfg.Store.DynamoTable, opts...)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown session store %q", cfg.Store.Kind)
	}
}

func buildSpeech(cfg *config.Config, opts speech.Options) (*speech.Adapter, error) {
	keys := speech.Keys{Groq: cfg.Keys.Groq, Deepgram: cfg.Keys.Deepgram, ElevenLabs: cfg.Keys.ElevenLabs}
	if opts.WhisperModel == "" {
		opts.WhisperModel = cfg.Speech.WhisperModel
	}
	if opts.ElevenLabsVoice == "" {
		opts.ElevenLabsVoice = cfg.Speech.ElevenLabsVoice
	}

	var stt speech.Transcriber
	if cfg.Speech.Transcription != config.BackendNone {
		t, err := speech.NewTranscriber(cfg.Speech.Transcription, keys, opts)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		stt = t
	}
	var tts speech.Synthesizer
	if cfg.Speech.TTS != config.BackendNone {
		s, err := speech.NewSynthesizer(cfg.Speech.TTS, keys, opts)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		tts = s
	}
	return speech.NewAdapter(stt, tts), nil
}
