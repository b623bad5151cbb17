package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-bridge/message"
	"mini-bridge/payload"
	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

func TestCommandPath(t *testing.T) {
	assert.Equal(t, "/do-stuff-with-num", CommandPath("do_stuff_with_num"))
	assert.Equal(t, "do_stuff_with_num", CommandName("/do-stuff-with-num"))
	assert.Equal(t, "math.add", CommandName(CommandPath("math.add")))
}

func TestHTTPTransportRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case HandshakePath:
			w.Write(append([]byte("welcome:"), body...))
		case "/do-stuff-with-num":
			assert.Equal(t, payload.ContentType, r.Header.Get("Content-Type"))
			args, err := payload.Decode(body)
			require.NoError(t, err)
			num, _ := args.Get("num")
			out, _ := payload.Encode(value.Int(num.Int() + 1))
			w.Header().Set("Content-Type", payload.ContentType)
			w.Write(out)
		case "/slow":
			time.Sleep(50 * time.Millisecond)
			w.Write([]byte{payload.Version, 0xf6})
		default:
			resp := message.Failure("", rpcerr.New(rpcerr.KindUnknownCommand, "", errors.New("no such command")))
			w.Header().Set("Content-Type", payload.ContentType)
			w.Header().Set(KindHeader, resp.Kind.String())
			w.WriteHeader(http.StatusBadRequest)
			w.Write(resp.Payload)
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL + "/")
	defer tr.Close()

	reply, err := tr.Handshake(context.Background(), []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "welcome:hi", string(reply))

	args, err := payload.Marshal(map[string]any{"num": 42})
	require.NoError(t, err)
	require.NoError(t, tr.Send(1, &message.Message{Command: "slow", Payload: args}))
	require.NoError(t, tr.Send(2, &message.Message{Command: "do_stuff_with_num", Payload: args}))
	require.NoError(t, tr.Send(3, &message.Message{Command: "missing", Payload: args}))

	got := map[uint32]*message.Message{}
	for len(got) < 3 {
		d := <-tr.Deliveries()
		got[d.Seq] = d.Msg
	}

	result, err := payload.Decode(got[2].Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(43), result.Int())

	assert.True(t, errors.Is(got[3].Err(), rpcerr.ErrUnknownCommand), "got %v", got[3].Err())
	assert.False(t, got[1].Failed())
}

func TestHTTPTransportForeignError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	defer tr.Close()

	require.NoError(t, tr.Send(7, &message.Message{Command: "x"}))
	d := <-tr.Deliveries()
	assert.Equal(t, uint32(7), d.Seq)

	var re *rpcerr.Error
	require.True(t, errors.As(d.Msg.Err(), &re))
	assert.Equal(t, rpcerr.KindTransport, re.Kind)
	assert.Equal(t, "upstream down", rpcerr.DetailMessage(re.Detail))
}

func TestHTTPTransportUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := NewHTTPTransport(url)
	defer tr.Close()

	require.NoError(t, tr.Send(1, &message.Message{Command: "x"}))
	d := <-tr.Deliveries()
	assert.True(t, errors.Is(d.Msg.Err(), rpcerr.ErrTransport), "got %v", d.Msg.Err())

	_, err := tr.Handshake(context.Background(), nil)
	require.Error(t, err)
}

func TestHTTPTransportClose(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	tr := NewHTTPTransport(srv.URL)
	require.NoError(t, tr.Send(1, &message.Message{Command: "x"}))
	require.NoError(t, tr.Close())

	_, open := <-tr.Deliveries()
	assert.False(t, open)
	assert.True(t, errors.Is(tr.Err(), ErrClosed))
	assert.True(t, errors.Is(tr.Send(2, &message.Message{}), ErrClosed))
}
