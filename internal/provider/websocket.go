package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"drax-assistant/internal/domain"
)

const methodHandle = "handle"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error returned by a remote provider.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider: rpc error %d: %s", e.Code, e.Message)
}

// WebSocket talks JSON-RPC 2.0 to a remote provider over a persistent
// connection. The connection is dialed lazily and redialed after a failure.
// Calls are serialized on the connection.
type WebSocket struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
	closed bool
}

type WebSocketOption func(*WebSocket)

func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(p *WebSocket) {
		if d != nil {
			p.dialer = d
		}
	}
}

func WithWebSocketLogger(l *slog.Logger) WebSocketOption {
	return func(p *WebSocket) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewWebSocket(url string, opts ...WebSocketOption) (*WebSocket, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("provider: websocket url must not be empty")
	}
	p := &WebSocket{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *WebSocket) Handle(ctx context.Context, text string, history []domain.Message) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Result{}, errors.New("provider: websocket provider is closed")
	}
	if p.conn == nil {
		conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
		if err != nil {
			return Result{}, fmt.Errorf("provider: dial %s: %w", p.url, err)
		}
		p.logger.Info("connected websocket provider", "url", p.url)
		p.conn = conn
	}

	result, err := p.call(ctx, text, history)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			p.resetLocked()
		}
		return Result{}, err
	}
	return result, nil
}

func (p *WebSocket) call(ctx context.Context, text string, history []domain.Message) (Result, error) {
	conn := p.conn
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
		_ = conn.SetReadDeadline(time.Time{})
	}
	// Unblock reads when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	p.nextID++
	id := p.nextID
	if history == nil {
		history = []domain.Message{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  methodHandle,
		Params:  httpRequest{Text: text, History: history},
	}
	if err := conn.WriteJSON(req); err != nil {
		return Result{}, p.wrapIOErr(ctx, "write request", err)
	}

	var resp rpcResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return Result{}, p.wrapIOErr(ctx, "read response", err)
	}
	if resp.ID != id {
		return Result{}, fmt.Errorf("provider: response id %d does not match request id %d", resp.ID, id)
	}
	if resp.Error != nil {
		return Result{}, resp.Error
	}

	var out httpResponse
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return Result{}, fmt.Errorf("provider: decode result: %w", err)
	}
	content := strings.TrimSpace(out.Content)
	if content == "" {
		return Result{}, fmt.Errorf("%w from %s", ErrEmptyReply, p.url)
	}
	return Result{Content: content}, nil
}

func (p *WebSocket) wrapIOErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("provider: %s: %w", op, ctxErr)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("provider: %s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("provider: %s: %w", op, err)
}

func (p *WebSocket) resetLocked() {
	if p.conn == nil {
		return
	}
	_ = p.conn.Close()
	p.conn = nil
}

// Close sends a close frame and releases the connection.
func (p *WebSocket) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.conn == nil {
		return nil
	}
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := p.conn.Close()
	p.conn = nil
	return err
}
