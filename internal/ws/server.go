package ws

import (
	"time"

	"github.com/fathima-sithara/chat-sync/internal/auth"
	"github.com/fathima-sithara/chat-sync/internal/composer"
	"github.com/fathima-sithara/chat-sync/internal/conversation"
	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/fathima-sithara/chat-sync/internal/logger"
	"github.com/fathima-sithara/chat-sync/internal/metrics"
	"github.com/fathima-sithara/chat-sync/internal/roster"
	"github.com/fathima-sithara/chat-sync/internal/session"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

type Options struct {
	RateLimitPerSec     int
	PingInterval        time.Duration
	MaxMessageSizeBytes int64
}

// Server runs one chat session per websocket connection.
type Server struct {
	store store.Store
	pub   composer.EventPublisher
	opts  Options
	log   *zap.SugaredLogger
}

func NewServer(st store.Store, pub composer.EventPublisher, opts Options, log *zap.SugaredLogger) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.MaxMessageSizeBytes <= 0 {
		opts.MaxMessageSizeBytes = 64 * 1024
	}
	return &Server{store: st, pub: pub, opts: opts, log: logger.OrNop(log)}
}

// Handler expects the authenticated principal in the "principal" local.
func (s *Server) Handler() func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		p, ok := conn.Locals(auth.LocalPrincipal).(*domain.Principal)
		if !ok || p == nil {
			_ = conn.Close()
			return
		}
		s.serve(conn, *p)
	}
}

func (s *Server) serve(conn *websocket.Conn, p domain.Principal) {
	log := s.log.With("principal", p.ID)
	c := newClient(conn, s.opts.RateLimitPerSec, s.opts.PingInterval, log)
	provider := auth.NewProvider()
	s.attach(c, provider)

	metrics.Connections.Inc()
	defer metrics.Connections.Dec()

	provider.SignIn(p)
	go c.writePump()
	c.readPump(s.opts.MaxMessageSizeBytes)

	provider.SignOut()
	c.sess.Close()
	c.close()
	log.Debugw("websocket closed")
}

// attach gives c a session driven by provider whose output is pushed to c as frames.
func (s *Server) attach(c *Client, provider *auth.Provider) {
	opts := []session.Option{session.WithLogger(c.log)}
	if s.pub != nil {
		opts = append(opts, session.WithPublisher(s.pub))
	}
	c.sess = session.New(s.store, provider, session.Handlers{
		Roster: roster.Handlers{
			OnUpdate: func(v roster.Snapshot) { c.push(Envelope{Type: TypeRoster, Data: v}) },
			OnError:  func(err error) { c.push(Envelope{Type: TypeError, Error: err.Error()}) },
		},
		Conversation: conversation.Handlers{
			OnUpdate: func(v conversation.View) { c.push(Envelope{Type: TypeMessages, Data: v}) },
			OnScroll: func(latest domain.Message) { c.push(Envelope{Type: TypeScroll, Data: latest.ID}) },
			OnError:  func(err error) { c.push(Envelope{Type: TypeError, Error: err.Error()}) },
		},
		OnBusy: func(busy bool) { c.push(Envelope{Type: TypeBusy, Data: busy}) },
	}, opts...)
}
