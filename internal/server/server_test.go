package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/linkwire/linkd/internal/client"
	"github.com/linkwire/linkd/internal/packet"
	"github.com/linkwire/linkd/internal/testutil/testlog"
)

func testConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:0",
		PollInterval:    20 * time.Millisecond,
		HeartbeatProbe:  true,
		ShutdownTimeout: 2 * time.Second,
	}
}

func startServer(t *testing.T, cfg Config) (*Server, chan error) {
	t.Helper()
	srv := NewWithConfig(cfg)
	done := make(chan error, 1)
	go func() {
		done <- srv.Start(context.Background())
	}()
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		return srv.Addr() != ""
	}) {
		t.Fatalf("server did not start listening")
	}
	return srv, done
}

func dialClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Address = addr
	cfg.ReadTimeout = 500 * time.Millisecond
	cfg.MaxConnectAttempts = 1
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func waitForCondition(timeout, interval time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(interval)
	}
	return fn()
}

func TestStartBlocksUntilRegistryEmpty(t *testing.T) {
	testlog.Start(t)
	srv := New("127.0.0.1", 0)
	done := make(chan error, 1)
	go func() {
		done <- srv.Start(context.Background())
	}()
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		return srv.Addr() != ""
	}) {
		t.Fatalf("server did not start listening")
	}

	select {
	case err := <-done:
		t.Fatalf("start returned while still listening: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if srv.RegistrySize() != 1 {
		t.Fatalf("expected one pending acceptor, got %d", srv.RegistrySize())
	}

	if err := srv.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start exit err: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("start did not return after end")
	}
	if srv.RegistrySize() != 0 {
		t.Fatalf("registry not drained: %d", srv.RegistrySize())
	}
}

func TestMessageAndDisconnectLifecycle(t *testing.T) {
	testlog.Start(t)
	srv, done := startServer(t, testConfig())

	c := dialClient(t, srv.Addr())
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		return srv.ActiveWorkers() == 1
	}) {
		t.Fatalf("worker did not become active")
	}
	// The worker became active after re-arming the next acceptor.
	if srv.RegistrySize() != 2 {
		t.Fatalf("expected worker plus pending acceptor, got %d", srv.RegistrySize())
	}

	if err := c.SendMessage("hello"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	// The protocol's only reply is a disconnect echo (probes look the same).
	kind, _, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if kind != packet.KindDisconnect {
		t.Fatalf("unexpected reply kind: %v", kind)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		return srv.ActiveWorkers() == 0
	}) {
		t.Fatalf("worker did not wind down after disconnect")
	}

	if err := srv.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("start exit err: %v", err)
	}
	if srv.RegistrySize() != 0 {
		t.Fatalf("registry not drained: %d", srv.RegistrySize())
	}
}

func TestStartOnOccupiedPortFails(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig()
	cfg.ListenAddr = ln.Addr().String()
	srv := NewWithConfig(cfg)
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected listen failure on occupied port")
	}
	if srv.RegistrySize() != 0 {
		t.Fatalf("no handle should register on listen failure, got %d", srv.RegistrySize())
	}
}

func TestSequentialClientsGetDistinctWorkers(t *testing.T) {
	testlog.Start(t)
	srv, done := startServer(t, testConfig())

	activeWorkerID := func() (uint64, bool) {
		for _, st := range srv.Snapshot() {
			if st.State == StateActive.String() {
				return st.ID, true
			}
		}
		return 0, false
	}

	c1 := dialClient(t, srv.Addr())
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		_, ok := activeWorkerID()
		return ok
	}) {
		t.Fatalf("first worker did not become active")
	}
	id1, _ := activeWorkerID()
	if size := srv.RegistrySize(); size > 2 {
		t.Fatalf("registry exceeds live acceptors+workers: %d", size)
	}

	if err := c1.Disconnect(); err != nil {
		t.Fatalf("disconnect first: %v", err)
	}
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		return srv.ActiveWorkers() == 0
	}) {
		t.Fatalf("first worker did not wind down")
	}

	c2 := dialClient(t, srv.Addr())
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		_, ok := activeWorkerID()
		return ok
	}) {
		t.Fatalf("second worker did not become active")
	}
	id2, _ := activeWorkerID()
	if id1 == id2 {
		t.Fatalf("sequential clients served by the same worker id=%d", id1)
	}
	if size := srv.RegistrySize(); size > 2 {
		t.Fatalf("registry exceeds live acceptors+workers: %d", size)
	}

	if err := c2.Disconnect(); err != nil {
		t.Fatalf("disconnect second: %v", err)
	}
	if err := srv.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("start exit err: %v", err)
	}
}

func TestEndDuringLiveWorkerConverges(t *testing.T) {
	testlog.Start(t)
	srv, done := startServer(t, testConfig())

	c := dialClient(t, srv.Addr())
	defer c.Close()
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		return srv.ActiveWorkers() == 1
	}) {
		t.Fatalf("worker did not become active")
	}

	if err := srv.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start exit err: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("start did not return after end with live worker")
	}
	if srv.RegistrySize() != 0 {
		t.Fatalf("registry not drained: %d", srv.RegistrySize())
	}
}

func TestEndWithoutStartFails(t *testing.T) {
	testlog.Start(t)
	srv := NewWithConfig(testConfig())
	if err := srv.End(); !errors.Is(err, ErrNotListening) {
		t.Fatalf("expected ErrNotListening, got %v", err)
	}
}

func TestStartTwiceFails(t *testing.T) {
	testlog.Start(t)
	srv, done := startServer(t, testConfig())

	if err := srv.Start(context.Background()); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("expected ErrAlreadyListening, got %v", err)
	}

	if err := srv.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("start exit err: %v", err)
	}
}

func TestContextCancelDrainsRegistry(t *testing.T) {
	testlog.Start(t)
	srv := NewWithConfig(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Start(ctx)
	}()
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		return srv.Addr() != ""
	}) {
		t.Fatalf("server did not start listening")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start exit err: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("start did not return after context cancel")
	}
	if srv.RegistrySize() != 0 {
		t.Fatalf("registry not drained: %d", srv.RegistrySize())
	}
}

func TestHeartbeatProbeReachesPeer(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	srv, done := startServer(t, cfg)

	c := dialClient(t, srv.Addr())
	kind, _, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("read probe: %v", err)
	}
	if kind != packet.KindDisconnect {
		t.Fatalf("unexpected probe kind: %v", kind)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := srv.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("start exit err: %v", err)
	}
}
