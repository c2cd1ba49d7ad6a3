package sshserver

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/mudgate/core"
	"pkt.systems/mudgate/internal/logx"
	"pkt.systems/mudgate/schema"
)

// session pumps one SSH connection: a writer goroutine drains the client
// queue while the main loop reads input lines.
type session struct {
	sess     gliderssh.Session
	client   *core.Client
	service  *core.Service
	handler  CommandHandler
	upstream Upstream
	clientID schema.ClientID
	viewOnly bool
}

func newSession(sess gliderssh.Session, client *core.Client, service *core.Service, handler CommandHandler, upstream Upstream, clientID schema.ClientID, viewOnly bool) *session {
	return &session{
		sess:     sess,
		client:   client,
		service:  service,
		handler:  handler,
		upstream: upstream,
		clientID: clientID,
		viewOnly: viewOnly,
	}
}

func (s *session) run(ctx context.Context) {
	writerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(writerCtx)
	}()

	s.readLoop(ctx)
	cancel()
	<-writerDone
}

// writeLoop drains the dispatcher queue onto the SSH channel. A write
// failure ends the session; the read loop notices on its next read.
func (s *session) writeLoop(ctx context.Context) {
	log := logx.Ctx(ctx)
	for {
		unit, err := s.client.Receive(ctx)
		if err != nil {
			return
		}
		if _, err := s.sess.Write(unit.Payload); err != nil {
			log.Debug("ssh write failed", "err", err)
			_ = s.sess.Close()
			return
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	log := logx.Ctx(ctx)
	scanner := bufio.NewScanner(s.sess)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if err := ctx.Err(); err != nil {
			return
		}
		s.handleInput(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		log.Debug("ssh read ended", "err", err)
	}
}

func (s *session) handleInput(ctx context.Context, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if s.viewOnly {
		// Observers can't be notified either: internal records never
		// reach view-only clients.
		return
	}
	if s.handler != nil {
		handled, err := s.handler.Handle(ctx, s.clientID, line)
		if err != nil {
			s.notify(ctx, fmt.Sprintf("error: %v", err))
		}
		if handled {
			return
		}
	}
	if s.upstream == nil {
		s.notify(ctx, "no upstream configured")
		return
	}
	if err := s.upstream.Write(ctx, line); err != nil {
		s.notify(ctx, fmt.Sprintf("upstream unavailable: %v", err))
	}
}

func (s *session) notify(ctx context.Context, text string) {
	s.service.SendInternal(ctx, []string{text}, core.RecordOptions{
		Clients: []schema.ClientID{s.clientID},
	}, "sshserver")
}
