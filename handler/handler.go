// Package handler exposes the coordinator as an API Gateway Lambda handler.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"drax-assistant/internal/domain"
	"drax-assistant/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Response statuses for requests that produced an attributed reply.
const (
	StatusOK             = "ok"
	StatusProviderFailed = "provider_failed"
	StatusNotRecorded    = "not_recorded"
)

type Coordinator interface {
	Handle(ctx context.Context, sessionID, text string) (domain.FormattedResponse, error)
}

type Handler struct {
	coord  Coordinator
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(coord Coordinator, opts ...Option) (*Handler, error) {
	if coord == nil {
		return nil, errors.New("handler: coordinator must not be nil")
	}
	h := &Handler{coord: coord, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type askRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type askResponse struct {
	SessionID    string `json:"sessionId"`
	ProviderName string `json:"providerName"`
	Content      string `json:"content"`
	Status       string `json:"status"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle serves POST /ask. A missing sessionId starts a new session.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	if event.HTTPMethod != "" && event.HTTPMethod != http.MethodPost {
		return h.writeJSON(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: "METHOD_NOT_ALLOWED"})
	}

	var req askRequest
	dec := json.NewDecoder(strings.NewReader(event.Body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "err", err)
		return h.writeJSON(http.StatusBadRequest, correlationID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := h.coord.Handle(ctx, req.SessionID, req.Text)
	status := StatusOK
	if err != nil {
		var uerr *usecase.Error
		if !errors.As(err, &uerr) || !uerr.Recovered() {
			return h.writeError(ctx, logger, correlationID, err)
		}
		status = StatusProviderFailed
		if uerr.Code == usecase.ErrorNotRecorded {
			status = StatusNotRecorded
		}
		logger.WarnContext(ctx, "request completed with error",
			"session_id", req.SessionID,
			"provider", resp.ProviderName,
			"code", uerr.Code,
			"reason", uerr.Reason,
			"err", err,
		)
	}

	return h.writeJSON(http.StatusOK, correlationID, askResponse{
		SessionID:    req.SessionID,
		ProviderName: resp.ProviderName,
		Content:      resp.Content,
		Status:       status,
	})
}

func (h *Handler) writeError(ctx context.Context, logger *slog.Logger, correlationID string, err error) (events.APIGatewayProxyResponse, error) {
	code := usecase.ErrorInternal
	reason := ""
	var uerr *usecase.Error
	if errors.As(err, &uerr) {
		code = uerr.Code
		reason = uerr.Reason
	}

	status := statusFor(code, reason)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "code", code, "reason", reason, "err", err)
	} else {
		logger.InfoContext(ctx, "request rejected", "code", code, "reason", reason)
	}
	return h.writeJSON(status, correlationID, errorResponse{Error: string(code), Reason: reason})
}

func statusFor(code usecase.ErrorCode, reason string) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorCanceled:
		if reason == "session_busy" {
			return http.StatusConflict
		}
		return http.StatusGatewayTimeout
	case usecase.ErrorNoProviders:
		return http.StatusServiceUnavailable
	case usecase.ErrorSessionStore:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(status int, correlationID string, body any) (events.APIGatewayProxyResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
