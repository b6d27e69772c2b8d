package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyListening = errors.New("server: already listening")
	ErrNotListening     = errors.New("server: not listening")
)

// Config controls the listen endpoint and worker pacing.
type Config struct {
	ListenAddr string
	// PollInterval bounds each worker's receive wait and therefore the
	// worst-case latency of both dispatch and cancellation.
	PollInterval time.Duration
	// HeartbeatProbe sends a disconnect probe frame to the peer at the top
	// of every worker tick, matching the protocol's turn-taking scheme.
	HeartbeatProbe bool
	// ShutdownTimeout bounds how long End waits for workers to converge
	// before force-closing their connections.
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":7600",
		PollInterval:    time.Second,
		HeartbeatProbe:  true,
		ShutdownTimeout: 5 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// WorkerStatus is one registry entry snapshot.
type WorkerStatus struct {
	ID         uint64 `json:"id"`
	State      string `json:"state"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// Server owns the listening endpoint and the registry of live worker
// handles. The registry is the sole shared mutable state: acceptors insert,
// terminating workers remove themselves, Start waits on it and End iterates
// it for teardown.
type Server struct {
	cfg Config

	mu      sync.Mutex
	cond    *sync.Cond
	ln      net.Listener
	cancel  context.CancelFunc
	workers []*Worker

	nextID atomic.Uint64
}

// New builds a server listening on (address, port) with default pacing.
func New(address string, port int) *Server {
	cfg := DefaultConfig()
	cfg.ListenAddr = net.JoinHostPort(address, strconv.Itoa(port))
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg Config) *Server {
	s := &Server{cfg: cfg.WithDefaults()}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start binds the listening endpoint, arms the first acceptor, and then
// blocks until the worker registry empties. Its return therefore signals
// "all handles are gone", not "server is listening"; the registry only
// drains after End or after ctx is cancelled, since a pending acceptor is
// itself a registry entry. Transport failures surface immediately with no
// retry.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return ErrAlreadyListening
	}
	s.mu.Unlock()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		log.Error().Err(err).Str("addr", s.cfg.ListenAddr).Msg("listen failed")
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ln = ln
	s.cancel = cancel
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("wait connection")
	s.spawnAcceptor(runCtx)
	go func() {
		<-runCtx.Done()
		s.closeListener()
	}()

	s.mu.Lock()
	for len(s.workers) > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()
	cancel()
	return nil
}

// End shuts the server down: it cancels every worker, tells each live peer
// to disconnect on its own connection, closes the listening endpoint, and
// waits for the registry to converge. Workers that miss the shutdown
// deadline get their connections force-closed; their loops observe the
// dead socket and deregister themselves, so no handle is ever torn down
// under a running worker.
func (s *Server) End() error {
	s.mu.Lock()
	ln := s.ln
	cancel := s.cancel
	s.ln = nil
	s.cancel = nil
	workers := make([]*Worker, len(s.workers))
	copy(workers, s.workers)
	s.mu.Unlock()

	if ln == nil {
		return ErrNotListening
	}
	if cancel != nil {
		cancel()
	}
	for _, w := range workers {
		w.sendDisconnect()
	}
	_ = ln.Close()

	deadline := time.Now().Add(s.cfg.ShutdownTimeout)
	for _, w := range workers {
		if !w.awaitDone(time.Until(deadline)) {
			log.Warn().Uint64("worker", w.id).Msg("worker missed shutdown deadline; closing connection")
			w.forceClose()
		}
	}
	log.Info().Msg("server stopped")
	return nil
}

// Addr reports the bound listen address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// ActiveWorkers counts workers currently serving a connection.
func (s *Server) ActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.workers {
		if w.State() == StateActive {
			n++
		}
	}
	return n
}

// RegistrySize counts all live handles, the pending acceptor included.
func (s *Server) RegistrySize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Snapshot returns the registry in insertion order.
func (s *Server) Snapshot() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.status())
	}
	return out
}

func (s *Server) accept() (net.Conn, error) {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil, net.ErrClosed
	}
	return ln.Accept()
}

func (s *Server) closeListener() {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
}

func (s *Server) register(w *Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, w)
}

// deregister removes the first registry entry matching the worker identity
// and wakes the Start wait when the registry empties.
func (s *Server) deregister(w *Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.workers {
		if cur.id == w.id {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			break
		}
	}
	s.cond.Broadcast()
}
