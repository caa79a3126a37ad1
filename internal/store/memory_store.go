package store

import (
	"context"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/google/uuid"
)

type Option func(*MemoryStore)

// WithClock replaces the clock used for server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// MemoryStore is an in-process realtime store. Change notifications are coalesced per listener:
// a burst of writes may produce a single snapshot.
type MemoryStore struct {
	mu         sync.RWMutex
	now        func() time.Time
	users      map[string]domain.Principal
	partitions map[string][]domain.Message // conversation key -> msgs
	seq        map[string]int64

	wmu          sync.Mutex
	nextWatcher  uint64
	dirWatchers  map[uint64]*watcher
	convWatchers map[string]map[uint64]*watcher
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		now:          func() time.Time { return time.Now().UTC() },
		users:        make(map[string]domain.Principal),
		partitions:   make(map[string][]domain.Message),
		seq:          make(map[string]int64),
		dirWatchers:  make(map[uint64]*watcher),
		convWatchers: make(map[string]map[uint64]*watcher),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, p domain.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	now := s.now()
	cur, ok := s.users[p.ID]
	if !ok {
		cur = domain.Principal{ID: p.ID, CreatedAt: now}
	}
	cur.Email = p.Email
	cur.DisplayName = p.DisplayName
	cur.PhotoURL = p.PhotoURL
	cur.Status = p.Status
	cur.LastSeen = now
	s.users[p.ID] = cur
	s.mu.Unlock()

	s.notifyDirectory()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.listUsers(), nil
}

func (s *MemoryStore) listUsers() []domain.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Principal, 0, len(s.users))
	for _, p := range s.users {
		out = append(out, p)
	}
	return out
}

func (s *MemoryStore) WatchDirectory(ctx context.Context, onChange func([]domain.Principal), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := newWatcher(func() { onChange(s.listUsers()) })

	s.wmu.Lock()
	s.nextWatcher++
	id := s.nextWatcher
	s.dirWatchers[id] = w
	s.wmu.Unlock()

	w.start()
	return SubscriptionFunc(func() {
		s.wmu.Lock()
		delete(s.dirWatchers, id)
		s.wmu.Unlock()
		w.stop()
	}), nil
}

func (s *MemoryStore) Append(ctx context.Context, key string, m *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.seq[key]++
	m.ID = uuid.NewString()
	m.ConversationKey = key
	m.Timestamp = s.now()
	m.Seq = s.seq[key]
	s.partitions[key] = append(s.partitions[key], *m)
	s.mu.Unlock()

	s.notifyConversation(key)
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, key string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.partition(key), nil
}

func (s *MemoryStore) partition(key string) []domain.Message {
	s.mu.RLock()
	msgs := s.partitions[key]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	s.mu.RUnlock()
	domain.SortMessages(out)
	return out
}

func (s *MemoryStore) WatchConversation(ctx context.Context, key string, onChange func([]domain.Message), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := newWatcher(func() { onChange(s.partition(key)) })

	s.wmu.Lock()
	s.nextWatcher++
	id := s.nextWatcher
	if s.convWatchers[key] == nil {
		s.convWatchers[key] = make(map[uint64]*watcher)
	}
	s.convWatchers[key][id] = w
	s.wmu.Unlock()

	w.start()
	return SubscriptionFunc(func() {
		s.wmu.Lock()
		if ws, ok := s.convWatchers[key]; ok {
			delete(ws, id)
			if len(ws) == 0 {
				delete(s.convWatchers, key)
			}
		}
		s.wmu.Unlock()
		w.stop()
	}), nil
}

// ListenerCount reports the number of registered live listeners.
func (s *MemoryStore) ListenerCount() int {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	n := len(s.dirWatchers)
	for _, ws := range s.convWatchers {
		n += len(ws)
	}
	return n
}

func (s *MemoryStore) notifyDirectory() {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for _, w := range s.dirWatchers {
		w.signal()
	}
}

func (s *MemoryStore) notifyConversation(key string) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for _, w := range s.convWatchers[key] {
		w.signal()
	}
}

// watcher runs deliver on its own goroutine whenever it has been signalled. Pending signals
// collapse into one delivery.
type watcher struct {
	deliver func()
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newWatcher(deliver func()) *watcher {
	return &watcher{
		deliver: deliver,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (w *watcher) start() {
	w.signal()
	go func() {
		for {
			select {
			case <-w.done:
				return
			case <-w.notify:
				select {
				case <-w.done:
					return
				default:
				}
				w.deliver()
			}
		}
	}()
}

func (w *watcher) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}
