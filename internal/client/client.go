package client

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/linkwire/linkd/internal/packet"
)

var (
	ErrAddressRequired = errors.New("client: server address required")
	ErrNotConnected    = errors.New("client: not connected")
)

// Config defines dial and I/O pacing for one client.
type Config struct {
	Address            string
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		ReadTimeout:        2 * time.Second,
		WriteTimeout:       2 * time.Second,
		MaxConnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// Client is the peer half of the link protocol: it dials the server,
// sends message frames, and consumes probe frames.
type Client struct {
	cfg Config
	rng *rand.Rand

	mu   sync.Mutex
	conn net.Conn
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff = def.Backoff
	}
	return &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Connect dials the server, retrying with backoff up to the configured
// attempt bound. Zero or negative MaxConnectAttempts retries forever.
func (c *Client) Connect(ctx context.Context) error {
	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			log.Debug().Str("addr", c.cfg.Address).Int("attempt", attempt).Msg("connected")
			return nil
		}
		log.Warn().Str("addr", c.cfg.Address).Int("attempt", attempt).Err(err).Msg("dial failed")
		if !c.shouldRetry(attempt) {
			return err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

// SendMessage sends one message frame carrying text.
func (c *Client) SendMessage(text string) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return packet.WriteFrame(conn, packet.KindMessage, []byte(text))
}

// ReadFrame consumes one frame from the server (a probe, or the echo reply
// to a message) within the configured read timeout.
func (c *Client) ReadFrame() (packet.Kind, []byte, error) {
	conn, err := c.current()
	if err != nil {
		return 0, nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	return packet.ReadFrame(conn)
}

// Disconnect announces intent with a disconnect frame, then closes.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	werr := packet.WriteFrame(conn, packet.KindDisconnect, nil)
	cerr := conn.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// Close releases the connection without the disconnect handshake.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) current() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
