package host

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"mini-bridge/message"
	"mini-bridge/payload"
	"mini-bridge/protocol"
	"mini-bridge/rpcerr"
	"mini-bridge/transport"
)

// ServeHTTP serves one invocation per request: POST /{command} with the
// encoded arguments as body, command underscores written as dashes. The
// response body is the encoded result, or the encoded error detail with
// the error kind in the X-Bridge-Kind header.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")

	switch r.Method {
	case http.MethodOptions:
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Expose-Headers", transport.KindHeader)
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		h.Set("Allow", "POST, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(protocol.MaxBodyLen)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Debug("failed to read request body", zap.Error(err))
		return
	}

	if r.URL.Path == transport.HandshakePath {
		reply, err := s.welcome(body)
		if err != nil {
			http.Error(w, "bad handshake", http.StatusBadRequest)
			return
		}
		h.Set("Content-Type", payload.ContentType)
		w.Write(reply)
		return
	}

	resp, ok := s.invokeHTTP(r.Context(), transport.CommandName(r.URL.Path), body)
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	h.Set("Content-Type", payload.ContentType)
	if resp.Failed() {
		h.Set(transport.KindHeader, resp.Kind.String())
	}
	w.WriteHeader(statusFor(resp.Kind))
	if _, err := w.Write(resp.Payload); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// invokeHTTP runs one request on a worker slot. It reports false when the
// server is shutting down or the request went away while waiting.
func (s *Server) invokeHTTP(ctx context.Context, command string, body []byte) (*message.Message, bool) {
	if !s.acquire(ctx) {
		return nil, false
	}
	defer s.release()
	if !s.track() {
		return nil, false
	}
	defer s.wg.Done()

	return s.handle(ctx, &message.Message{Command: command, Payload: body}), true
}

func statusFor(kind rpcerr.Kind) int {
	switch kind {
	case rpcerr.KindNone:
		return http.StatusOK
	case rpcerr.KindUnknownCommand, rpcerr.KindDecoding:
		return http.StatusBadRequest
	case rpcerr.KindRateLimited:
		return http.StatusTooManyRequests
	case rpcerr.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
