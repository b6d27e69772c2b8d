package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/linkwire/linkd/internal/observability"
	"github.com/linkwire/linkd/internal/packet"
)

// State is a worker handle's lifecycle state.
type State int32

const (
	// StateWaiting: blocked on accept, no connection yet.
	StateWaiting State = iota
	// StateActive: serving one accepted connection.
	StateActive
	// StateClosed: terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Worker is one live handle in the server registry. It begins as the
// pending acceptor; on accept it arms the next acceptor and continues in
// the same goroutine as the connection worker, so accepting unit and
// serving unit are the same thread of control.
type Worker struct {
	id       uint64
	interval time.Duration
	srv      *Server

	state atomic.Int32

	connMu sync.Mutex
	conn   net.Conn

	done chan struct{}
}

func (s *Server) spawnAcceptor(ctx context.Context) *Worker {
	w := &Worker{
		id:       s.nextID.Add(1),
		interval: s.cfg.PollInterval,
		srv:      s,
		done:     make(chan struct{}),
	}
	s.register(w)
	go w.run(ctx)
	return w
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.srv.deregister(w)

	conn, err := w.srv.accept()
	if err != nil {
		// Listener closed out from under us: the cancellation path. Exit
		// without re-arming.
		w.state.Store(int32(StateClosed))
		log.Debug().Uint64("worker", w.id).Err(err).Msg("accept ended")
		return
	}
	observability.RecordConnectionAccepted()
	log.Info().
		Uint64("worker", w.id).
		Str("remote", conn.RemoteAddr().String()).
		Msg("connection accepted")

	// Keep listening for the next client regardless of this one's state.
	w.srv.spawnAcceptor(ctx)

	w.setConn(conn)
	w.state.Store(int32(StateActive))
	observability.WorkerStarted()
	defer observability.WorkerFinished()
	w.serve(ctx, conn)
}

// serve runs the receive loop until the peer disconnects, a hard receive
// error occurs, or ctx is cancelled. Every wait is bounded by the poll
// interval, so cancellation converges within one tick.
func (w *Worker) serve(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		w.state.Store(int32(StateClosed))
		_ = conn.Close()
		log.Info().Uint64("worker", w.id).Str("remote", remote).Msg("client disconnected")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if w.srv.cfg.HeartbeatProbe {
			_ = conn.SetWriteDeadline(time.Now().Add(w.interval))
			if err := packet.WriteFrame(conn, packet.KindDisconnect, nil); err != nil {
				log.Debug().Uint64("worker", w.id).Err(err).Msg("probe send failed")
				return
			}
			observability.RecordFrameSent(packet.KindDisconnect.String())
		}

		_ = conn.SetReadDeadline(time.Now().Add(w.interval))
		kind, body, err := packet.ReadFrame(conn)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue // no data this tick
			}
			if errors.Is(err, packet.ErrShortFrame) {
				continue // unusable data this tick
			}
			// Hard receive errors close the worker rather than loop on a
			// dead socket.
			log.Debug().Uint64("worker", w.id).Err(err).Msg("receive ended")
			return
		}
		observability.RecordFrameReceived(kind.String())

		switch kind {
		case packet.KindDisconnect:
			log.Info().Uint64("worker", w.id).Str("remote", remote).Msg("goodbye")
			return
		case packet.KindMessage:
			text := packet.Text(body)
			log.Info().
				Uint64("worker", w.id).
				Str("remote", remote).
				Str("message", text).
				Msg("message received")
			observability.RecordMessage()
			_ = conn.SetWriteDeadline(time.Now().Add(w.interval))
			if err := packet.WriteFrame(conn, packet.KindDisconnect, nil); err != nil {
				log.Debug().Uint64("worker", w.id).Err(err).Msg("echo send failed")
				return
			}
			observability.RecordFrameSent(packet.KindDisconnect.String())
		default:
			// Unknown kinds are a no-op.
		}
	}
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setConn(conn net.Conn) {
	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
}

// sendDisconnect tells a serving worker's peer to disconnect on its own
// connection. Waiting and closed handles have no peer to address.
func (w *Worker) sendDisconnect() {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil || w.State() != StateActive {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := packet.WriteFrame(conn, packet.KindDisconnect, nil); err != nil {
		log.Debug().Uint64("worker", w.id).Err(err).Msg("shutdown disconnect send failed")
		return
	}
	observability.RecordFrameSent(packet.KindDisconnect.String())
}

// awaitDone waits up to d for the worker loop to exit.
func (w *Worker) awaitDone(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-w.done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}

// forceClose releases the connection of a worker that missed the shutdown
// deadline. The loop observes the closed socket and deregisters itself.
func (w *Worker) forceClose() {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (w *Worker) status() WorkerStatus {
	st := WorkerStatus{ID: w.id, State: w.State().String()}
	w.connMu.Lock()
	if w.conn != nil {
		st.RemoteAddr = w.conn.RemoteAddr().String()
	}
	w.connMu.Unlock()
	return st
}
