package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-sync/internal/apperr"
	"github.com/fathima-sithara/chat-sync/internal/auth"
	"github.com/fathima-sithara/chat-sync/internal/conversation"
	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/fathima-sithara/chat-sync/internal/roster"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type events struct {
	mu     sync.Mutex
	roster roster.Snapshot
	conv   conversation.View
	busy   []bool
}

func (e *events) handlers() Handlers {
	return Handlers{
		Roster: roster.Handlers{OnUpdate: func(v roster.Snapshot) {
			e.mu.Lock()
			e.roster = v
			e.mu.Unlock()
		}},
		Conversation: conversation.Handlers{OnUpdate: func(v conversation.View) {
			e.mu.Lock()
			e.conv = v
			e.mu.Unlock()
		}},
		OnBusy: func(b bool) {
			e.mu.Lock()
			e.busy = append(e.busy, b)
			e.mu.Unlock()
		},
	}
}

func (e *events) rosterIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []string{}
	for _, p := range e.roster {
		out = append(out, p.ID)
	}
	return out
}

func (e *events) messages() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Messages
}

func TestSessionLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Upsert(ctx, domain.Profile{ID: "bob", DisplayName: "Bob"}))

	provider := auth.NewProvider()
	ev := &events{}
	s := New(st, provider, ev.handlers())
	defer s.Close()
	assert.Nil(t, s.Self())

	_, err := s.Send(ctx, "too early")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	provider.SignIn(domain.Principal{ID: "alice", Email: "alice@example.com"})
	require.NotNil(t, s.Self())

	me, err := st.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, me.Status)
	assert.Equal(t, domain.PlaceholderName, me.DisplayName)

	require.Eventually(t, func() bool { return len(ev.rosterIDs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"bob"}, ev.rosterIDs())

	p, err := s.Select(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", p.DisplayName)

	m, err := s.Send(ctx, "hi bob")
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", m.ConversationKey)
	require.Eventually(t, func() bool { return len(ev.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, s.Messages(), 1)

	ev.mu.Lock()
	assert.Equal(t, []bool{true, false}, ev.busy)
	ev.mu.Unlock()

	provider.SignOut()
	assert.Nil(t, s.Self())
	assert.Equal(t, 0, st.ListenerCount())
	assert.Empty(t, s.Messages())

	me, err = st.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, me.Status)
}

func TestSessionSwitchesPrincipal(t *testing.T) {
	st := store.NewMemoryStore()
	provider := auth.NewProvider()
	provider.SignIn(domain.Principal{ID: "alice"})

	ev := &events{}
	s := New(st, provider, ev.handlers())
	defer s.Close()
	require.Equal(t, "alice", s.Self().ID)

	provider.SignIn(domain.Principal{ID: "carol"})
	assert.Equal(t, "carol", s.Self().ID)
	assert.Equal(t, 1, st.ListenerCount())

	require.Eventually(t, func() bool { return len(ev.rosterIDs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice"}, ev.rosterIDs())
}

func TestSelectSelfFails(t *testing.T) {
	st := store.NewMemoryStore()
	provider := auth.NewProvider()
	provider.SignIn(domain.Principal{ID: "alice"})
	s := New(st, provider, Handlers{})
	defer s.Close()

	_, err := s.Select(context.Background(), "alice")
	assert.ErrorIs(t, err, apperr.ErrSelfReference)

	_, err = s.Send(context.Background(), "nobody selected")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

// scopedStore stops delivering conversation snapshots once the subscribing context is done,
// the way the network-backed stores do.
type scopedStore struct {
	*store.MemoryStore
}

func (s scopedStore) WatchConversation(ctx context.Context, key string, onChange func([]domain.Message), onError func(error)) (store.Subscription, error) {
	return s.MemoryStore.WatchConversation(ctx, key, func(msgs []domain.Message) {
		if ctx.Err() == nil {
			onChange(msgs)
		}
	}, onError)
}

func TestSelectOutlivesRequestContext(t *testing.T) {
	st := scopedStore{store.NewMemoryStore()}
	require.NoError(t, st.Upsert(context.Background(), domain.Profile{ID: "bob", DisplayName: "Bob"}))

	provider := auth.NewProvider()
	provider.SignIn(domain.Principal{ID: "alice"})
	ev := &events{}
	s := New(st, provider, ev.handlers())
	defer s.Close()

	reqCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, err := s.Select(reqCtx, "bob")
	cancel()
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "still listening")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(ev.messages()) == 1 }, time.Second, 5*time.Millisecond)

	provider.SignOut()
	assert.Equal(t, 0, st.ListenerCount())
}
