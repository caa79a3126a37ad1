package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fathima-sithara/chat-sync/internal/apperr"
	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/fathima-sithara/chat-sync/internal/logger"
	"github.com/fathima-sithara/chat-sync/internal/metrics"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"go.uber.org/zap"
)

// idQueryMinLen is the length above which a search query is treated as an id lookup.
const idQueryMinLen = 15

// Snapshot is the filtered, ordered roster at one point in time.
type Snapshot []domain.Principal

// Handlers are called with the synchronizer's lock held and must not call back into it.
type Handlers struct {
	OnUpdate func(Snapshot)
	OnError  func(error)
}

// Synchronizer keeps the live list of every known principal except the session's own.
type Synchronizer struct {
	store store.DirectoryStore
	h     Handlers
	log   *zap.SugaredLogger

	mu      sync.Mutex
	gen     uint64
	rev     uint64 // bumped on every published view
	self    string
	sub     *Subscription
	stopped bool
	view    Snapshot
}

// Subscription is the handle returned by Start.
type Subscription struct {
	s    *Synchronizer
	gen  uint64
	once sync.Once
	live store.Subscription
}

// Stop releases the live listener. It is idempotent.
func (sub *Subscription) Stop() {
	if sub == nil {
		return
	}
	sub.s.Stop(sub)
}

func New(ds store.DirectoryStore, h Handlers, log *zap.SugaredLogger) *Synchronizer {
	return &Synchronizer{store: ds, h: h, log: logger.OrNop(log)}
}

// Start begins live observation of the directory on behalf of selfID. Any previous
// subscription from this synchronizer is stopped first.
func (s *Synchronizer) Start(ctx context.Context, selfID string) (*Subscription, error) {
	if selfID == "" {
		return nil, fmt.Errorf("%w: empty principal id", apperr.ErrInvalidArgument)
	}

	s.mu.Lock()
	prev := s.sub
	s.gen++
	gen := s.gen
	s.self = selfID
	s.sub = nil
	s.stopped = false
	s.mu.Unlock()
	if prev != nil {
		prev.release()
	}

	sub := &Subscription{s: s, gen: gen}
	live, err := s.store.WatchDirectory(ctx,
		func(ps []domain.Principal) { s.apply(gen, ps) },
		func(err error) { s.fail(gen, err) },
	)
	if err != nil {
		metrics.Errors.WithLabelValues("sync").Inc()
		return nil, fmt.Errorf("%w: watch directory: %w", apperr.ErrSync, err)
	}
	sub.live = live
	metrics.RosterSubscriptions.Inc()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		sub.release()
		return sub, nil
	}
	s.sub = sub
	s.mu.Unlock()
	return sub, nil
}

// Stop releases sub. Stopping a subscription twice, or one that was already replaced, is a no-op.
func (s *Synchronizer) Stop(sub *Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	if s.gen == sub.gen {
		s.gen++
		s.sub = nil
		s.stopped = true
	}
	s.mu.Unlock()
	sub.release()
}

func (sub *Subscription) release() {
	sub.once.Do(func() {
		if sub.live != nil {
			sub.live.Unsubscribe()
			metrics.RosterSubscriptions.Dec()
		}
	})
}

// Refresh re-reads the whole directory once, outside the live subscription. The result is
// published unless a live update arrived while the read was in flight or the synchronizer has
// been stopped.
func (s *Synchronizer) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	self := s.self
	rev := s.rev
	s.mu.Unlock()

	ps, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list directory: %w", apperr.ErrSync, err)
	}
	view := build(ps, self)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rev == rev && s.self == self && !s.stopped {
		s.publish(view)
	}
	return clone(view), nil
}

// Load binds selfID without opening a live subscription and performs a Refresh. It serves
// one-shot callers that never Start.
func (s *Synchronizer) Load(ctx context.Context, selfID string) (Snapshot, error) {
	if selfID == "" {
		return nil, fmt.Errorf("%w: empty principal id", apperr.ErrInvalidArgument)
	}
	s.mu.Lock()
	if s.sub == nil {
		s.self = selfID
	}
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// View returns the current roster.
func (s *Synchronizer) View() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.view)
}

// Search filters the current roster by a case-insensitive substring of id, email or display
// name. An empty query returns the full roster.
func (s *Synchronizer) Search(query string) Snapshot {
	q := strings.ToLower(strings.TrimSpace(query))
	view := s.View()
	if q == "" {
		return view
	}
	out := make(Snapshot, 0, len(view))
	for _, p := range view {
		if strings.Contains(strings.ToLower(p.ID), q) ||
			strings.Contains(strings.ToLower(p.Email), q) ||
			strings.Contains(strings.ToLower(p.DisplayName), q) {
			out = append(out, p)
		}
	}
	return out
}

// FindByID looks id up directly in the directory, then falls back to the loaded roster
// (id equal, id containing, or email equal).
func (s *Synchronizer) FindByID(ctx context.Context, id string) (*domain.Principal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", apperr.ErrInvalidArgument)
	}
	s.mu.Lock()
	self := s.self
	s.mu.Unlock()
	if id == self {
		return nil, apperr.ErrSelfReference
	}

	p, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		if p.ID == self {
			return nil, apperr.ErrSelfReference
		}
		return p, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: lookup %s: %w", apperr.ErrSync, id, err)
	}

	for _, c := range s.View() {
		if c.ID == id || strings.Contains(c.ID, id) || c.Email == id {
			c := c
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, id)
}

// LooksLikeID reports whether a search query should go straight to FindByID.
func LooksLikeID(query string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(query)) > idQueryMinLen
}

func (s *Synchronizer) apply(gen uint64, ps []domain.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.publish(build(ps, s.self))
}

// publish must be called with s.mu held.
func (s *Synchronizer) publish(view Snapshot) {
	s.rev++
	s.view = view
	if s.h.OnUpdate != nil {
		s.h.OnUpdate(clone(view))
	}
}

func (s *Synchronizer) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	metrics.Errors.WithLabelValues("sync").Inc()
	err = fmt.Errorf("%w: directory: %w", apperr.ErrSync, err)
	s.log.Warnw("roster subscription failed", "error", err)
	if s.h.OnError != nil {
		s.h.OnError(err)
	}
}

// build drops self and orders by lower-cased display name, with id breaking ties so the order
// does not depend on the store's iteration order.
func build(ps []domain.Principal, self string) Snapshot {
	out := make(Snapshot, 0, len(ps))
	for _, p := range ps {
		if p.ID == self {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].DisplayName), strings.ToLower(out[j].DisplayName)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func clone(v Snapshot) Snapshot {
	out := make(Snapshot, len(v))
	copy(out, v)
	return out
}
