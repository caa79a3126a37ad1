package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/fathima-sithara/chat-sync/internal/apperr"
	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/fathima-sithara/chat-sync/internal/logger"
	"github.com/fathima-sithara/chat-sync/internal/metrics"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"go.uber.org/zap"
)

// View is the published state of the selected conversation. An empty Key means nothing is
// selected.
type View struct {
	Key         Key               `json:"key"`
	Counterpart *domain.Principal `json:"counterpart,omitempty"`
	Messages    []domain.Message  `json:"messages"`
	Generation  uint64            `json:"generation"`
}

// Handlers receive synchronizer output. They are called with the synchronizer's lock held, so
// they must not call back into the Synchronizer.
type Handlers struct {
	OnUpdate func(View)
	// OnScroll fires after every non-empty republish with the newest message. It is a hint for
	// the presentation layer to keep the latest message in view.
	OnScroll func(latest domain.Message)
	OnError  func(error)
}

// Synchronizer keeps a live ordered view of the conversation between self and one selected
// counterpart. At most one store subscription is active at any time.
type Synchronizer struct {
	store store.ConversationStore
	self  domain.Principal
	h     Handlers
	log   *zap.SugaredLogger

	mu          sync.Mutex
	gen         uint64
	sub         store.Subscription
	key         Key
	counterpart *domain.Principal
	view        []domain.Message
}

func NewSynchronizer(cs store.ConversationStore, self domain.Principal, h Handlers, log *zap.SugaredLogger) *Synchronizer {
	return &Synchronizer{store: cs, self: self, h: h, log: logger.OrNop(log)}
}

// Select swaps the live subscription over to the conversation with counterpart.
func (s *Synchronizer) Select(ctx context.Context, counterpart domain.Principal) error {
	key, err := Resolve(s.self.ID, counterpart.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	old := s.sub
	s.sub = nil
	s.key = key
	s.counterpart = &counterpart
	s.view = nil
	s.mu.Unlock()
	release(old)

	sub, err := s.store.WatchConversation(ctx, key.String(),
		func(msgs []domain.Message) { s.apply(gen, msgs) },
		func(err error) { s.fail(gen, err) },
	)
	if err != nil {
		metrics.Errors.WithLabelValues("sync").Inc()
		return fmt.Errorf("%w: watch %s: %w", apperr.ErrSync, key, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// a newer Select or Deselect ran while this one was subscribing
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	metrics.ConversationSubscriptions.Inc()

	s.log.Debugw("conversation selected", "key", key, "counterpart", counterpart.ID)
	return nil
}

// Deselect tears the subscription down and publishes an empty view.
func (s *Synchronizer) Deselect() {
	s.mu.Lock()
	s.gen++
	old := s.sub
	s.sub = nil
	s.key = ""
	s.counterpart = nil
	s.view = nil
	if s.h.OnUpdate != nil {
		s.h.OnUpdate(View{Messages: []domain.Message{}, Generation: s.gen})
	}
	s.mu.Unlock()
	release(old)
}

// Close releases the live subscription. It is safe to call more than once.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.gen++
	old := s.sub
	s.sub = nil
	s.key = ""
	s.counterpart = nil
	s.view = nil
	s.mu.Unlock()
	release(old)
}

func (s *Synchronizer) Key() Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *Synchronizer) Counterpart() *domain.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counterpart == nil {
		return nil
	}
	cp := *s.counterpart
	return &cp
}

// Messages returns a copy of the current ordered view.
func (s *Synchronizer) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.view))
	copy(out, s.view)
	return out
}

func (s *Synchronizer) apply(gen uint64, msgs []domain.Message) {
	view := make([]domain.Message, len(msgs))
	copy(view, msgs)
	domain.SortMessages(view)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.view = view

	if s.h.OnUpdate != nil {
		out := make([]domain.Message, len(view))
		copy(out, view)
		var cp *domain.Principal
		if s.counterpart != nil {
			c := *s.counterpart
			cp = &c
		}
		s.h.OnUpdate(View{Key: s.key, Counterpart: cp, Messages: out, Generation: gen})
	}
	if s.h.OnScroll != nil && len(view) > 0 {
		s.h.OnScroll(view[len(view)-1])
	}
}

func (s *Synchronizer) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	metrics.Errors.WithLabelValues("sync").Inc()
	err = fmt.Errorf("%w: conversation %s: %w", apperr.ErrSync, s.key, err)
	s.log.Warnw("conversation subscription failed", "key", s.key, "error", err)
	if s.h.OnError != nil {
		s.h.OnError(err)
	}
}

func release(sub store.Subscription) {
	if sub == nil {
		return
	}
	sub.Unsubscribe()
	metrics.ConversationSubscriptions.Dec()
}
