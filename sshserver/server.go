package sshserver

import (
	"context"
	"fmt"
	"net"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/mudgate/core"
	"pkt.systems/mudgate/internal/logx"
	"pkt.systems/mudgate/schema"
	"pkt.systems/pslog"
)

// CommandHandler routes operator commands.
type CommandHandler interface {
	Handle(ctx context.Context, clientID schema.ClientID, input string) (bool, error)
}

// Upstream is the game-side write path for client input.
type Upstream interface {
	Write(ctx context.Context, line string) error
	Connected() bool
}

// observerUser is the SSH user name that attaches read-only.
const observerUser = "observer"

// Server exposes the proxy over SSH. Each session becomes one dispatcher
// client; its queue is drained by a per-session writer goroutine.
type Server struct {
	Addr        string
	HostKeyPath string
	Listener    net.Listener
	Service     *core.Service
	Handler     CommandHandler
	Upstream    Upstream
	Logger      pslog.Logger
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Logger == nil {
		s.Logger = pslog.Ctx(ctx)
	}

	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}

	server := &gliderssh.Server{
		Addr:    s.Addr,
		Handler: s.handleSession,
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.Logger
	remote := sess.RemoteAddr().String()
	user := sess.User()
	clientID := clientIDFor(user, sess.Context().SessionID())
	viewOnly := user == observerUser
	log = log.With("client", clientID, "remote", remote, "view_only", viewOnly)

	ctx := logx.ContextWithClientLogger(sess.Context(), log, clientID)

	client, err := s.Service.AttachClient(ctx, clientID, viewOnly)
	if err != nil {
		log.Warn("ssh session rejected", "err", err)
		fmt.Fprintf(sess, "attach failed: %v\r\n", err)
		return
	}
	defer s.Service.DetachClient(ctx, clientID)
	log.Info("ssh session opened")

	s.Service.SendInternal(ctx, []string{
		"connected to mudgate",
		fmt.Sprintf("you are %s; # commands are handled locally", clientID),
	}, core.RecordOptions{Clients: []schema.ClientID{clientID}, PreLogin: true}, "sshserver")
	if err := s.Service.MarkLoggedIn(clientID); err != nil {
		log.Warn("ssh login mark failed", "err", err)
	}

	session := newSession(sess, client, s.Service, s.Handler, s.Upstream, clientID, viewOnly)
	session.run(ctx)
	log.Info("ssh session closed")
}

func clientIDFor(user, sessionID string) schema.ClientID {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	if user == "" {
		user = "anonymous"
	}
	return schema.ClientID(user + "@" + sessionID)
}
