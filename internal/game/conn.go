package game

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"pkt.systems/mudgate/core"
	"pkt.systems/mudgate/internal/logx"
	"pkt.systems/mudgate/schema"
	"pkt.systems/pslog"
)

// Config configures the upstream game connection.
type Config struct {
	Addr           string
	ConnectTimeout time.Duration
	Reconnect      time.Duration
}

// Conn maintains the TCP connection to the game server. Every complete line
// it reads goes through the service pipeline; client input is written back
// on the same connection.
type Conn struct {
	cfg     Config
	service *core.Service
	log     pslog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// New constructs an upstream connection manager.
func New(cfg Config, service *core.Service, logger pslog.Logger) *Conn {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 5 * time.Second
	}
	return &Conn{cfg: cfg, service: service, log: logger}
}

// Run dials the game server and pumps lines through the pipeline until the
// context ends. Lost connections are redialed after the reconnect interval.
func (c *Conn) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.session(ctx)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("game connection lost", "addr", c.cfg.Addr, "err", err, "retry_in", c.cfg.Reconnect)
		c.service.SendInternal(ctx, []string{fmt.Sprintf("connection to %s lost, reconnecting", c.cfg.Addr)}, core.RecordOptions{}, "game")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.Reconnect):
		}
	}
}

func (c *Conn) session(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()
	c.log.Info("game connected", "addr", c.cfg.Addr)

	// Close the socket when the context ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := readLine(reader)
		if err != nil {
			// A non-empty remainder is a partial line cut off mid-read;
			// an empty one is just the error.
			if line != "" {
				c.service.ProcessLine(ctx, line, schema.KindOutput)
			}
			if errors.Is(err, io.EOF) {
				return schema.ErrUpstreamClosed
			}
			return err
		}
		// Blank lines are real output: they pace prose and trigger the
		// empty-line event, so they flow through like any other.
		c.service.ProcessLine(ctx, line, schema.KindOutput)
	}
}

// Write sends one line of client input upstream.
func (c *Conn) Write(ctx context.Context, line string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return schema.ErrUpstreamClosed
	}
	if !strings.HasSuffix(line, "\r\n") {
		line = strings.TrimRight(line, "\r\n") + "\r\n"
	}
	if _, err := conn.Write([]byte(line)); err != nil {
		logx.Ctx(ctx).Warn("game write failed", "err", err)
		return err
	}
	return nil
}

// Connected reports whether an upstream session is live.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Telnet protocol bytes stripped from the stream. Option negotiation is
// ignored, not answered; most MUD servers cope.
const (
	telnetIAC  = 255
	telnetSB   = 250
	telnetSE   = 240
	telnetWill = 251
	telnetDont = 254
)

// readLine reads up to the next LF, stripping telnet commands and the
// trailing CR/LF. It returns what it has alongside any read error.
func readLine(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		ch, err := r.ReadByte()
		if err != nil {
			return b.String(), err
		}
		switch ch {
		case telnetIAC:
			if err := skipTelnet(r); err != nil {
				return b.String(), err
			}
		case '\n':
			return strings.TrimRight(b.String(), "\r"), nil
		default:
			b.WriteByte(ch)
		}
	}
}

func skipTelnet(r *bufio.Reader) error {
	cmd, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch {
	case cmd == telnetIAC:
		// Escaped 255 data byte; drop it, binary mode is not supported.
		return nil
	case cmd == telnetSB:
		for {
			ch, err := r.ReadByte()
			if err != nil {
				return err
			}
			if ch == telnetIAC {
				next, err := r.ReadByte()
				if err != nil {
					return err
				}
				if next == telnetSE {
					return nil
				}
			}
		}
	case cmd >= telnetWill && cmd <= telnetDont:
		_, err := r.ReadByte()
		return err
	default:
		return nil
	}
}
