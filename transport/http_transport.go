package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"mini-bridge/message"
	"mini-bridge/payload"
	"mini-bridge/protocol"
	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

// HTTP conventions shared with the host.
const (
	// KindHeader names the rpcerr.Kind of a response; absent or "none" on success.
	KindHeader = "X-Bridge-Kind"
	// HandshakePath is reserved; command names cannot start with a dot.
	HandshakePath = "/.bridge/handshake"
)

// CommandPath maps a command name to its URL path: "do_stuff_with_num"
// is served at "/do-stuff-with-num".
func CommandPath(name string) string {
	return "/" + strings.ReplaceAll(name, "_", "-")
}

// CommandName is the inverse of CommandPath.
func CommandName(path string) string {
	return strings.ReplaceAll(strings.TrimPrefix(path, "/"), "-", "_")
}

// HTTPTransport sends each invocation as its own POST request. Responses are
// delivered as the round trips complete, so concurrent invocations can finish
// out of order just as they do on a stream connection.
type HTTPTransport struct {
	base   string
	client *http.Client
	logger *zap.Logger

	ctx    context.Context // cancelled by Close, aborts in-flight requests
	cancel context.CancelFunc

	mu         sync.RWMutex
	closed     bool
	inflight   sync.WaitGroup
	deliveries chan Delivery
}

type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithHTTPLogger sets the logger for transport events.
func WithHTTPLogger(logger *zap.Logger) HTTPOption {
	return func(t *HTTPTransport) { t.logger = logger }
}

// NewHTTPTransport targets a host serving at baseURL (e.g. "http://127.0.0.1:8080").
func NewHTTPTransport(baseURL string, opts ...HTTPOption) *HTTPTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &HTTPTransport{
		base:       strings.TrimRight(baseURL, "/"),
		client:     http.DefaultClient,
		logger:     zap.NewNop(),
		ctx:        ctx,
		cancel:     cancel,
		deliveries: make(chan Delivery, 64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) Send(seq uint32, msg *message.Message) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		resp := t.roundTrip(msg)
		if resp == nil {
			return
		}
		select {
		case t.deliveries <- Delivery{Seq: seq, Msg: resp}:
		case <-t.ctx.Done():
		}
	}()
	return nil
}

// roundTrip returns nil only when the transport was closed mid-request.
func (t *HTTPTransport) roundTrip(msg *message.Message) *message.Message {
	status, header, body, err := t.post(t.ctx, CommandPath(msg.Command), msg.Payload)
	if err != nil {
		if t.ctx.Err() != nil {
			return nil
		}
		t.logger.Debug("round trip failed", zap.String("command", msg.Command), zap.Error(err))
		return message.Failure(msg.Command, rpcerr.New(rpcerr.KindTransport, msg.Command, err))
	}
	return responseMessage(msg.Command, status, header, body)
}

// responseMessage turns an HTTP answer into the equivalent envelope.
func responseMessage(command string, status int, header http.Header, body []byte) *message.Message {
	kind := kindForStatus(status)
	if name := header.Get(KindHeader); name != "" && name != rpcerr.KindNone.String() {
		kind = rpcerr.ParseKind(name)
	}
	if kind == rpcerr.KindNone {
		return &message.Message{Command: command, Payload: body}
	}

	if header.Get("Content-Type") != payload.ContentType || len(body) == 0 {
		// Not from a bridge host (a proxy error page, say): keep the text.
		detail := value.Mapping(map[string]value.Value{
			"message": value.String(strings.ToValidUTF8(strings.TrimSpace(string(body)), "�")),
			"status":  value.Int(int64(status)),
		})
		return message.Failure(command, rpcerr.Remote(kind, command, detail))
	}
	return &message.Message{Command: command, Kind: kind, Payload: body}
}

func kindForStatus(status int) rpcerr.Kind {
	switch status {
	case http.StatusOK:
		return rpcerr.KindNone
	case http.StatusNotFound:
		return rpcerr.KindUnknownCommand
	case http.StatusTooManyRequests:
		return rpcerr.KindRateLimited
	case http.StatusGatewayTimeout:
		return rpcerr.KindTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return rpcerr.KindTransport
	}
	return rpcerr.KindRemote
}

func (t *HTTPTransport) post(ctx context.Context, path string, body []byte) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", payload.ContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(protocol.MaxBodyLen)+1))
	if err != nil {
		return 0, nil, nil, err
	}
	if len(data) > int(protocol.MaxBodyLen) {
		return 0, nil, nil, fmt.Errorf("response body exceeds %d bytes", protocol.MaxBodyLen)
	}
	return resp.StatusCode, resp.Header, data, nil
}

func (t *HTTPTransport) Handshake(ctx context.Context, hello []byte) ([]byte, error) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-t.ctx.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	status, _, body, err := t.post(ctx, HandshakePath, hello)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("transport: handshake rejected with status %d", status)
	}
	return body, nil
}

func (t *HTTPTransport) Deliveries() <-chan Delivery {
	return t.deliveries
}

func (t *HTTPTransport) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	return nil
}

// Close aborts in-flight requests and closes Deliveries once they have
// unwound.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	go func() {
		t.inflight.Wait()
		close(t.deliveries)
	}()
	return nil
}
