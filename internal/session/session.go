package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-sync/internal/apperr"
	"github.com/fathima-sithara/chat-sync/internal/auth"
	"github.com/fathima-sithara/chat-sync/internal/composer"
	"github.com/fathima-sithara/chat-sync/internal/conversation"
	"github.com/fathima-sithara/chat-sync/internal/directory"
	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/fathima-sithara/chat-sync/internal/logger"
	"github.com/fathima-sithara/chat-sync/internal/roster"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"go.uber.org/zap"
)

const offlineTimeout = 3 * time.Second

var errSignedOut = fmt.Errorf("%w: not signed in", apperr.ErrInvalidArgument)

type Handlers struct {
	Roster       roster.Handlers
	Conversation conversation.Handlers
	// OnBusy reports the composer's in-flight state around every send.
	OnBusy func(busy bool)
}

type Option func(*Session)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Session) { s.log = logger.OrNop(l) }
}

func WithPublisher(p composer.EventPublisher) Option {
	return func(s *Session) { s.pub = p }
}

// Session wires the chat components to one identity provider. Signing in registers the
// principal and starts the roster; signing out releases every live subscription.
type Session struct {
	store     store.Store
	provider  *auth.Provider
	h         Handlers
	log       *zap.SugaredLogger
	pub       composer.EventPublisher
	registrar *directory.Registrar
	roster    *roster.Synchronizer
	unwatch   func()

	mu        sync.Mutex
	self      *domain.Principal
	rosterSub *roster.Subscription
	conv      *conversation.Synchronizer
	composer  *composer.Composer
	// ctx lives for the signed-in period; live subscriptions are opened under it.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(st store.Store, provider *auth.Provider, h Handlers, opts ...Option) *Session {
	s := &Session{store: st, provider: provider, h: h, log: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(s)
	}
	s.registrar = directory.NewRegistrar(st, s.log)
	s.roster = roster.New(st, h.Roster, s.log)
	s.unwatch = provider.OnChange(s.onAuthChange)
	if p := provider.Current(); p != nil {
		s.begin(*p)
	}
	return s
}

func (s *Session) onAuthChange(p *domain.Principal) {
	s.end()
	if p != nil {
		s.begin(*p)
	}
}

func (s *Session) begin(p domain.Principal) {
	ctx, cancel := context.WithCancel(context.Background())

	// registration failures only degrade roster visibility
	_ = s.registrar.RegisterSelf(ctx, p)

	sub, err := s.roster.Start(ctx, p.ID)
	if err != nil {
		s.log.Warnw("roster start", "id", p.ID, "error", err)
	}

	opts := []composer.Option{composer.WithLogger(s.log)}
	if s.pub != nil {
		opts = append(opts, composer.WithPublisher(s.pub))
	}

	s.mu.Lock()
	s.self = &p
	s.rosterSub = sub
	s.conv = conversation.NewSynchronizer(s.store, p, s.h.Conversation, s.log)
	s.composer = composer.New(s.store, opts...)
	s.ctx = ctx
	s.cancel = cancel
	s.mu.Unlock()
	s.log.Infow("session started", "id", p.ID)
}

func (s *Session) end() {
	s.mu.Lock()
	self, sub, conv, cancel := s.self, s.rosterSub, s.conv, s.cancel
	s.self, s.rosterSub, s.conv, s.composer, s.ctx, s.cancel = nil, nil, nil, nil, nil, nil
	s.mu.Unlock()
	if self == nil {
		return
	}

	conv.Close()
	s.roster.Stop(sub)
	cancel()

	ctx, done := context.WithTimeout(context.Background(), offlineTimeout)
	defer done()
	_ = s.registrar.MarkOffline(ctx, *self)
	s.log.Infow("session ended", "id", self.ID)
}

// Close signs the session out of its components and detaches from the provider.
func (s *Session) Close() {
	s.unwatch()
	s.end()
}

func (s *Session) Self() *domain.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.self == nil {
		return nil
	}
	p := *s.self
	return &p
}

func (s *Session) Roster() roster.Snapshot { return s.roster.View() }

func (s *Session) Search(query string) roster.Snapshot { return s.roster.Search(query) }

func (s *Session) FindByID(ctx context.Context, id string) (*domain.Principal, error) {
	if s.Self() == nil {
		return nil, errSignedOut
	}
	return s.roster.FindByID(ctx, id)
}

func (s *Session) Refresh(ctx context.Context) (roster.Snapshot, error) {
	if s.Self() == nil {
		return nil, errSignedOut
	}
	return s.roster.Refresh(ctx)
}

// Select opens the conversation with the principal whose id is given. ctx bounds the lookup
// only; the live subscription lasts until Deselect, another Select or sign-out.
func (s *Session) Select(ctx context.Context, counterpartID string) (*domain.Principal, error) {
	p, err := s.FindByID(ctx, counterpartID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	conv, live := s.conv, s.ctx
	s.mu.Unlock()
	if conv == nil {
		return nil, errSignedOut
	}
	if err := conv.Select(live, *p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Session) Deselect() {
	if conv := s.conversation(); conv != nil {
		conv.Deselect()
	}
}

func (s *Session) Messages() []domain.Message {
	if conv := s.conversation(); conv != nil {
		return conv.Messages()
	}
	return []domain.Message{}
}

// Send writes text to the selected counterpart.
func (s *Session) Send(ctx context.Context, text string) (*domain.Message, error) {
	s.mu.Lock()
	self, conv, c := s.self, s.conv, s.composer
	s.mu.Unlock()
	if self == nil {
		return nil, errSignedOut
	}

	if s.h.OnBusy != nil && strings.TrimSpace(text) != "" {
		s.h.OnBusy(true)
		defer s.h.OnBusy(false)
	}
	return c.Send(ctx, self, conv.Counterpart(), text)
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	c := s.composer
	s.mu.Unlock()
	return c != nil && c.Busy()
}

func (s *Session) conversation() *conversation.Synchronizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}
