package daemon_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"loopbackd"
	"loopbackd/codec"
	"loopbackd/daemon"
	"loopbackd/internal/runtimedir"
	"loopbackd/internal/wire"
)

type counter struct {
	mu    sync.Mutex
	value int
}

func (c *counter) Inc() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

func (c *counter) Boom() error {
	return errBoom
}

var errBoom = &boomError{"nope"}

type boomError struct{ msg string }

func (e *boomError) Error() string { return e.msg }

func startTestDaemon(t *testing.T, idleTTL time.Duration) (*daemon.Daemon, *runtimedir.Dir, []byte) {
	t.Helper()
	dir, err := runtimedir.Open(t.TempDir(), "testsvc")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cfg := loopbackd.Config{Name: "testsvc", Factory: "fixtures:counter", IdleTTL: idleTTL}
	d, err := daemon.Start(cfg, dir, &counter{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx, true, 0)
	})
	token, err := dir.ReadToken()
	if err != nil {
		t.Fatalf("ReadToken: %v", err)
	}
	return d, dir, token
}

func dialAndHello(t *testing.T, d *daemon.Daemon, token []byte) (net.Conn, codec.Codec) {
	t.Helper()
	conn, err := net.Dial("tcp", d.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c := codec.CBOR{}
	hello := wire.Hello{ProtocolVersion: loopbackd.ProtocolVersion, Token: token, CodecID: c.ID()}
	if err := wire.Send(conn, c, 0, wire.KindHello, hello); err != nil {
		t.Fatalf("Send hello: %v", err)
	}
	env, err := wire.Receive(conn, c, 0)
	if err != nil {
		t.Fatalf("Receive hello response: %v", err)
	}
	if env.Kind != wire.KindHelloOK {
		t.Fatalf("got kind %s, want HELLO_OK", env.Kind)
	}
	return conn, c
}

func TestColdStartPing(t *testing.T) {
	t.Parallel()

	d, dir, token := startTestDaemon(t, time.Minute)
	conn, c := dialAndHello(t, d, token)
	defer conn.Close()

	if err := wire.Send(conn, c, 0, wire.KindPing, wire.Ping{}); err != nil {
		t.Fatalf("Send ping: %v", err)
	}
	env, err := wire.Receive(conn, c, 0)
	if err != nil {
		t.Fatalf("Receive pong: %v", err)
	}
	if env.Kind != wire.KindPong {
		t.Fatalf("got kind %s, want PONG", env.Kind)
	}

	md, ok := dir.ReadMetadata()
	if !ok {
		t.Fatal("expected metadata to be published")
	}
	if md.PID <= 0 {
		t.Fatalf("expected live pid, got %d", md.PID)
	}
}

func TestRaceSpawnConcurrentIncCalls(t *testing.T) {
	t.Parallel()

	d, _, token := startTestDaemon(t, time.Minute)

	const clients = 8
	const perClient = 1
	results := make(chan int, clients*perClient)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, c := dialAndHello(t, d, token)
			defer conn.Close()
			if err := wire.Send(conn, c, 0, wire.KindCall, wire.Call{MethodName: "Inc"}); err != nil {
				t.Errorf("Send call: %v", err)
				return
			}
			env, err := wire.Receive(conn, c, 0)
			if err != nil {
				t.Errorf("Receive result: %v", err)
				return
			}
			if env.Kind != wire.KindResult {
				t.Errorf("got kind %s, want RESULT", env.Kind)
				return
			}
			var result wire.Result
			if err := wire.Decode(c, env, &result); err != nil {
				t.Errorf("Decode result: %v", err)
				return
			}
			v, ok := result.Value.(int64)
			if !ok {
				if f, ok2 := result.Value.(uint64); ok2 {
					v = int64(f)
				}
			}
			results <- int(v)
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for v := range results {
		seen[v] = true
	}
	for i := 1; i <= clients; i++ {
		if !seen[i] {
			t.Fatalf("missing result %d among %v", i, seen)
		}
	}
}

func TestHandshakeRejectsWrongToken(t *testing.T) {
	t.Parallel()

	d, _, _ := startTestDaemon(t, time.Minute)
	conn, err := net.Dial("tcp", d.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	c := codec.CBOR{}
	hello := wire.Hello{ProtocolVersion: loopbackd.ProtocolVersion, Token: []byte("totally-wrong"), CodecID: c.ID()}
	if err := wire.Send(conn, c, 0, wire.KindHello, hello); err != nil {
		t.Fatalf("Send hello: %v", err)
	}
	env, err := wire.Receive(conn, c, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if env.Kind != wire.KindHelloErr {
		t.Fatalf("got kind %s, want HELLO_ERR", env.Kind)
	}

	if err := wire.Send(conn, c, 0, wire.KindCall, wire.Call{MethodName: "Inc"}); err != nil {
		return
	}
	if _, err := wire.Receive(conn, c, 0); err == nil {
		t.Fatal("expected no reply to a CALL sent on a rejected session")
	}
}

func TestRemoteMethodErrorSurfacesAndSessionSurvives(t *testing.T) {
	t.Parallel()

	d, _, token := startTestDaemon(t, time.Minute)
	conn, c := dialAndHello(t, d, token)
	defer conn.Close()

	if err := wire.Send(conn, c, 0, wire.KindCall, wire.Call{MethodName: "Boom"}); err != nil {
		t.Fatalf("Send call: %v", err)
	}
	env, err := wire.Receive(conn, c, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if env.Kind != wire.KindRemoteError {
		t.Fatalf("got kind %s, want REMOTE_ERROR", env.Kind)
	}
	var remoteErr wire.RemoteError
	if err := wire.Decode(c, env, &remoteErr); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if remoteErr.Message != "nope" {
		t.Fatalf("got message %q, want nope", remoteErr.Message)
	}

	// Subsequent calls on the same session must still succeed.
	if err := wire.Send(conn, c, 0, wire.KindCall, wire.Call{MethodName: "Inc"}); err != nil {
		t.Fatalf("Send call: %v", err)
	}
	env2, err := wire.Receive(conn, c, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if env2.Kind != wire.KindResult {
		t.Fatalf("got kind %s, want RESULT", env2.Kind)
	}
}

func TestIdleShutdownClearsMetadata(t *testing.T) {
	t.Parallel()

	d, dir, token := startTestDaemon(t, 200*time.Millisecond)
	conn, c := dialAndHello(t, d, token)
	if err := wire.Send(conn, c, 0, wire.KindPing, wire.Ping{}); err != nil {
		t.Fatalf("Send ping: %v", err)
	}
	if _, err := wire.Receive(conn, c, 0); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := dir.ReadMetadata(); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected metadata to be cleared after idle shutdown")
}
