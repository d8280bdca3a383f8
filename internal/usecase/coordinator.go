package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"drax-assistant/internal/domain"
	"drax-assistant/internal/provider"
	"drax-assistant/internal/registry"
	"drax-assistant/internal/routing"
	"drax-assistant/internal/session"
)

const (
	DefaultDispatchTimeout = 60 * time.Second
	DefaultHistoryWindow   = 10
	defaultMaxTextLen      = 4000
)

// Outcomes reported on the drax.requests counter.
const (
	outcomeOK             = "ok"
	outcomeProviderFailed = "provider_failed"
	outcomeNotRecorded    = "not_recorded"
	outcomeRejected       = "rejected"
)

type ProviderRegistry interface {
	List() []domain.ProviderDescriptor
	Get(name string) (provider.Provider, error)
}

type Router interface {
	Decide(ctx context.Context, q routing.Query, providers []domain.ProviderDescriptor) (domain.RoutingDecision, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Coordinator routes each request to exactly one provider and records the
// request/response pair in the session history. Requests for the same session
// are handled one at a time; different sessions proceed concurrently.
type Coordinator struct {
	registry        ProviderRegistry
	router          Router
	store           session.Store
	dispatchTimeout time.Duration
	historyWindow   int
	maxTextLen      int
	now             func() time.Time
	logger          *slog.Logger
	tracer          trace.Tracer
	meter           metric.Meter

	requests metric.Int64Counter
	duration metric.Float64Histogram
	locks    *sessionLocks
}

type Option func(*Coordinator)

func WithDispatchTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.dispatchTimeout = d
	}
}

// WithHistoryWindow limits how many trailing history messages are handed to
// the router and the provider.
func WithHistoryWindow(n int) Option {
	return func(c *Coordinator) {
		c.historyWindow = n
	}
}

func WithMaxTextLen(n int) Option {
	return func(c *Coordinator) {
		c.maxTextLen = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

func WithMeter(m metric.Meter) Option {
	return func(c *Coordinator) {
		c.meter = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func NewCoordinator(reg ProviderRegistry, router Router, store session.Store, opts ...Option) (*Coordinator, error) {
	if reg == nil {
		return nil, errors.New("usecase: provider registry must not be nil")
	}
	if router == nil {
		return nil, errors.New("usecase: router must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	c := &Coordinator{
		registry:        reg,
		router:          router,
		store:           store,
		dispatchTimeout: DefaultDispatchTimeout,
		historyWindow:   DefaultHistoryWindow,
		maxTextLen:      defaultMaxTextLen,
		now:             time.Now,
		logger:          slog.Default(),
		tracer:          tracenoop.NewTracerProvider().Tracer("drax"),
		meter:           metricnoop.NewMeterProvider().Meter("drax"),
		locks:           newSessionLocks(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatchTimeout <= 0 {
		return nil, errors.New("usecase: dispatch timeout must be positive")
	}
	if c.historyWindow <= 0 {
		return nil, errors.New("usecase: history window must be positive")
	}

	var err error
	c.requests, err = c.meter.Int64Counter(
		"drax.requests",
		metric.WithDescription("Requests handled by the coordinator"),
	)
	if err != nil {
		return nil, fmt.Errorf("usecase: create request counter: %w", err)
	}
	c.duration, err = c.meter.Float64Histogram(
		"drax.dispatch.duration",
		metric.WithDescription("Provider dispatch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("usecase: create dispatch histogram: %w", err)
	}
	return c, nil
}

// Handle routes text to one provider and returns its attributed reply.
//
// When the provider fails or times out, the failure is recorded as an
// assistant message attributed to that provider and returned as the
// response, together with an ErrorProviderInvocation error. When the reply
// could not be recorded, the response is returned with ErrorNotRecorded.
// Every other error comes with a zero response and leaves the session
// untouched.
func (c *Coordinator) Handle(ctx context.Context, sessionID, text string) (domain.FormattedResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	text = strings.TrimSpace(text)
	if sessionID == "" {
		return domain.FormattedResponse{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if text == "" {
		return domain.FormattedResponse{}, newError(ErrorInvalidInput, "empty_text", nil)
	}
	if len(text) > c.maxTextLen {
		return domain.FormattedResponse{}, newError(ErrorInvalidInput, "text_too_long", nil)
	}

	ctx, span := c.tracer.Start(ctx, "coordinator.handle",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	resp, providerName, outcome, err := c.handle(ctx, span, sessionID, text)
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerName),
		attribute.String("outcome", outcome),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CodeOf(err)))
	}
	return resp, err
}

func (c *Coordinator) handle(ctx context.Context, span trace.Span, sessionID, text string) (domain.FormattedResponse, string, string, error) {
	unlock, err := c.locks.acquire(ctx, sessionID)
	if err != nil {
		return domain.FormattedResponse{}, "", outcomeRejected, newError(ErrorCanceled, "session_busy", err)
	}
	defer unlock()

	span.AddEvent("state.routing")
	providers := c.registry.List()
	if len(providers) == 0 {
		return domain.FormattedResponse{}, "", outcomeRejected, newError(ErrorNoProviders, "registry_empty", routing.ErrNoProviders)
	}

	history, err := c.store.GetHistory(ctx, sessionID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.FormattedResponse{}, "", outcomeRejected, newError(ErrorCanceled, "canceled_before_routing", ctxErr)
		}
		return domain.FormattedResponse{}, "", outcomeRejected, newError(ErrorSessionStore, "history_read_error", err)
	}
	history = tail(history, c.historyWindow)

	decision, err := c.router.Decide(ctx, routing.Query{Text: text, History: history}, providers)
	if err != nil {
		switch {
		case errors.Is(err, routing.ErrNoProviders):
			return domain.FormattedResponse{}, "", outcomeRejected, newError(ErrorNoProviders, "registry_empty", err)
		case ctx.Err() != nil:
			return domain.FormattedResponse{}, "", outcomeRejected, newError(ErrorCanceled, "canceled_during_routing", ctx.Err())
		default:
			return domain.FormattedResponse{}, "", outcomeRejected, newError(ErrorInternal, "routing_error", err)
		}
	}
	name := decision.Selected.Name
	span.SetAttributes(
		attribute.String("provider.name", name),
		attribute.Float64("routing.score", decision.Score),
		attribute.Bool("routing.fallback", decision.Fallback),
	)
	c.logger.InfoContext(ctx, "request routed",
		"session_id", sessionID,
		"provider", name,
		"score", decision.Score,
		"fallback", decision.Fallback,
		"rationale", decision.Rationale,
	)

	handler, err := c.registry.Get(name)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownProvider) {
			return domain.FormattedResponse{}, name, outcomeRejected, newError(ErrorUnknownProvider, "selected_provider_missing", err)
		}
		return domain.FormattedResponse{}, name, outcomeRejected, newError(ErrorInternal, "provider_lookup_error", err)
	}

	span.AddEvent("state.dispatching")
	result, dispatchErr := c.dispatch(ctx, name, handler, text, history)
	if dispatchErr != nil && ctx.Err() != nil {
		// The caller gave up; nothing is recorded.
		return domain.FormattedResponse{}, name, outcomeRejected, newError(ErrorCanceled, "canceled_during_dispatch", ctx.Err())
	}

	outcome := outcomeOK
	var invocationErr *Error
	content := result.Content
	if dispatchErr != nil {
		outcome = outcomeProviderFailed
		invocationErr = c.invocationError(dispatchErr)
		content = c.explainFailure(name, dispatchErr)
		c.logger.WarnContext(ctx, "provider dispatch failed",
			"session_id", sessionID,
			"provider", name,
			"reason", invocationErr.Reason,
			"err", dispatchErr,
		)
	}
	resp := domain.FormattedResponse{ProviderName: name, Content: content}

	if err := ctx.Err(); err != nil {
		return domain.FormattedResponse{}, name, outcomeRejected, newError(ErrorCanceled, "canceled_before_recording", err)
	}
	span.AddEvent("state.recording")
	if err := c.record(ctx, sessionID, text, resp); err != nil {
		c.logger.ErrorContext(ctx, "failed to record session messages",
			"session_id", sessionID,
			"provider", name,
			"err", err,
		)
		return resp, name, outcomeNotRecorded, err
	}

	span.AddEvent("state.idle")
	if invocationErr != nil {
		return resp, name, outcome, invocationErr
	}
	return resp, name, outcome, nil
}

type dispatchResult struct {
	result provider.Result
	err    error
}

func (c *Coordinator) dispatch(ctx context.Context, name string, handler provider.Provider, text string, history []domain.Message) (provider.Result, error) {
	ctx, span := c.tracer.Start(ctx, "provider.dispatch",
		trace.WithAttributes(attribute.String("provider.name", name)))
	defer span.End()

	dctx, cancel := context.WithTimeout(ctx, c.dispatchTimeout)
	defer cancel()

	start := c.now()
	done := make(chan dispatchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- dispatchResult{err: fmt.Errorf("usecase: provider %s panicked: %v", name, r)}
			}
		}()
		res, err := handler.Handle(dctx, text, history)
		done <- dispatchResult{result: res, err: err}
	}()

	var result provider.Result
	var err error
	select {
	case out := <-done:
		result, err = out.result, out.err
		if err == nil && dctx.Err() != nil {
			// A late reply after the deadline still counts as a timeout.
			err = dctx.Err()
		}
	case <-dctx.Done():
		err = dctx.Err()
	}
	elapsed := c.now().Sub(start)
	c.duration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String("provider", name),
		attribute.Bool("error", err != nil),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return provider.Result{}, err
	}
	return result, nil
}

// record appends the user message and the attributed reply as one unit.
// Once recording starts it is no longer cancellable by the caller.
func (c *Coordinator) record(ctx context.Context, sessionID, text string, resp domain.FormattedResponse) error {
	ctx = context.WithoutCancel(ctx)
	now := c.now().UTC()
	request := domain.Message{Role: domain.RoleUser, Content: text, Timestamp: now}
	reply := domain.Message{Role: domain.RoleAssistant, Content: resp.Content, ProviderName: resp.ProviderName, Timestamp: now}

	if pa, ok := c.store.(session.PairAppender); ok {
		if err := pa.AppendPair(ctx, sessionID, request, reply); err != nil {
			return newError(ErrorNotRecorded, "session_write_error", err)
		}
		return nil
	}
	if err := c.store.Append(ctx, sessionID, request); err != nil {
		return newError(ErrorNotRecorded, "session_write_error", err)
	}
	if err := c.store.Append(ctx, sessionID, reply); err != nil {
		return newError(ErrorNotRecorded, "session_partial_write", err)
	}
	return nil
}

func (c *Coordinator) invocationError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorProviderInvocation, "provider_timeout", err)
	}
	return newError(ErrorProviderInvocation, "provider_error", err)
}

func (c *Coordinator) explainFailure(name string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("Sorry, %s did not respond within %s.", name, c.dispatchTimeout)
	}
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return fmt.Sprintf("Sorry, %s is receiving too many requests right now. Please try again shortly.", name)
	}
	return fmt.Sprintf("Sorry, %s could not complete that request.", name)
}

// Providers returns the registered providers in registration order.
func (c *Coordinator) Providers() []domain.ProviderDescriptor {
	return c.registry.List()
}

// History returns the full recorded history of a session.
func (c *Coordinator) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	history, err := c.store.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorSessionStore, "history_read_error", err)
	}
	return history, nil
}

func tail(history []domain.Message, n int) []domain.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
