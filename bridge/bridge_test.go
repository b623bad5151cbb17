package bridge

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mini-bridge/client"
	"mini-bridge/discovery"
	"mini-bridge/host"
	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

func newHost(t *testing.T, opts ...host.Option) *host.Server {
	reg := host.NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, reg.RegisterFunc("do_stuff_with_num", func(args struct {
		Num int `json:"num"`
	}) int {
		return args.Num + 1
	}))
	require.NoError(t, reg.RegisterFunc("never", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	srv := host.NewServer(reg, opts...)
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	return srv
}

func serveTCP(t testing.TB, srv *host.Server) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.ServeListener(ln)
	return ln.Addr().String()
}

func TestProcessWideSession(t *testing.T) {
	addr := serveTCP(t, newHost(t))
	ctx := context.Background()

	_, err := Encode(1)
	assert.True(t, errors.Is(err, rpcerr.ErrNotInitialized), "got %v", err)
	_, err = Invoke(ctx, "do_stuff_with_num", map[string]any{"num": 42}).Result()
	assert.True(t, errors.Is(err, rpcerr.ErrNotInitialized), "got %v", err)

	require.NoError(t, Configure(Config{Address: addr, Codec: "cbor", Logger: zaptest.NewLogger(t)}))
	require.NoError(t, Init(ctx))
	require.NoError(t, Init(ctx))
	defer Close()

	assert.Error(t, Configure(Config{}))

	v, err := Invoke(ctx, "do_stuff_with_num", map[string]any{"num": 42}).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(43), v.Int())

	v, err = Invoke(ctx, "do_stuff_with_num", value.Mapping(map[string]value.Value{"num": value.Int(1)})).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Int())

	var n int
	require.NoError(t, Call(ctx, "do_stuff_with_num", struct {
		Num int `json:"num"`
	}{Num: 9}, &n))
	assert.Equal(t, 10, n)

	data, err := Encode(map[string]any{"num": 42})
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = Invoke(ctx, "do_stuff_with_num", make(chan int)).Result()
	assert.True(t, errors.Is(err, rpcerr.ErrEncoding), "got %v", err)
}

func TestSessionTimeout(t *testing.T) {
	addr := serveTCP(t, newHost(t))
	s := NewSession(Config{Address: addr, Timeout: 50 * time.Millisecond})
	require.NoError(t, s.Init(context.Background()))
	defer s.Close()

	_, err := s.Invoke(context.Background(), "never", nil).Result()
	assert.True(t, errors.Is(err, rpcerr.ErrTimeout), "got %v", err)

	_, err = s.Invoke(context.Background(), "never", nil, client.WithTimeout(10*time.Millisecond)).Result()
	assert.True(t, errors.Is(err, rpcerr.ErrTimeout), "got %v", err)
	assert.Equal(t, 0, s.Client().Pending())
}

func TestSessionHTTP(t *testing.T) {
	hs := httptest.NewServer(newHost(t))
	defer hs.Close()

	s := NewSession(Config{Transport: "http", URL: hs.URL})
	require.NoError(t, s.Init(context.Background()))
	defer s.Close()

	v, err := s.Invoke(context.Background(), "do_stuff_with_num", map[string]int{"num": 1}).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Int())
}

func TestSessionDiscovery(t *testing.T) {
	disc := discovery.NewMemoryRegistry()
	addr := serveTCP(t, newHost(t, host.WithDiscovery(disc, "bridge", discovery.ServiceInstance{})))
	require.Eventually(t, func() bool {
		instances, _ := disc.Discover(context.Background(), "bridge")
		return len(instances) == 1 && instances[0].Addr == addr
	}, time.Second, 10*time.Millisecond)

	s := NewSession(Config{Transport: "discovery", Discovery: disc, Balancer: "round_robin"})
	require.NoError(t, s.Init(context.Background()))
	defer s.Close()

	v, err := s.Invoke(context.Background(), "do_stuff_with_num", map[string]int{"num": 5}).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(6), v.Int())
}

func TestSessionConnectFailures(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := NewSession(Config{Address: addr})
	err = s.Init(context.Background())
	assert.True(t, errors.Is(err, rpcerr.ErrTransport), "got %v", err)
	assert.Nil(t, s.Client())

	s = NewSession(Config{Transport: "http"})
	assert.Error(t, s.Init(context.Background()))

	s = NewSession(Config{Transport: "discovery", Discovery: discovery.NewMemoryRegistry()})
	assert.Error(t, s.Init(context.Background()))

	s = NewSession(Config{Transport: "carrier-pigeon"})
	assert.Error(t, s.Init(context.Background()))
}

func TestSessionReinitAfterClose(t *testing.T) {
	addr := serveTCP(t, newHost(t))
	s := NewSession(Config{Address: addr})
	ctx := context.Background()

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Close())

	_, err := s.Invoke(ctx, "do_stuff_with_num", map[string]int{"num": 1}).Result()
	assert.True(t, errors.Is(err, rpcerr.ErrNotInitialized), "got %v", err)

	require.NoError(t, s.Init(ctx))
	defer s.Close()
	v, err := s.Invoke(ctx, "do_stuff_with_num", map[string]int{"num": 1}).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Int())
}

// flakyListener hangs up on the first connection it accepts and serves the
// rest; every served connection is reported on conns.
func flakyListener(t *testing.T, srv *host.Server) (string, <-chan net.Conn) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	conns := make(chan net.Conn, 8)
	go func() {
		for n := 0; ; n++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if n == 0 {
				conn.Close()
				continue
			}
			conns <- conn
			go srv.ServeConn(conn)
		}
	}()
	return ln.Addr().String(), conns
}

func TestSessionRedialsAfterDroppedConnection(t *testing.T) {
	addr, conns := flakyListener(t, newHost(t))
	s := NewSession(Config{Address: addr, Logger: zaptest.NewLogger(t)})
	defer s.Close()
	ctx := context.Background()

	err := s.Init(ctx)
	assert.True(t, errors.Is(err, rpcerr.ErrTransport), "got %v", err)
	assert.Nil(t, s.Client())

	require.NoError(t, s.Init(ctx))
	var reply int
	require.NoError(t, s.Call(ctx, "do_stuff_with_num", map[string]int{"num": 1}, &reply))
	assert.Equal(t, 2, reply)

	// The host goes away after the session is ready.
	(<-conns).Close()
	broken := s.Client()
	require.Eventually(t, func() bool { return broken.Err() != nil }, time.Second, 5*time.Millisecond)
	_, err = s.Invoke(ctx, "do_stuff_with_num", map[string]int{"num": 1}).Result()
	assert.True(t, errors.Is(err, rpcerr.ErrTransport), "got %v", err)

	require.NoError(t, s.Init(ctx))
	assert.NotSame(t, broken, s.Client())
	require.NoError(t, s.Call(ctx, "do_stuff_with_num", map[string]int{"num": 41}, &reply))
	assert.Equal(t, 42, reply)
}
