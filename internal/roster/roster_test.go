package roster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-sync/internal/apperr"
	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	views []Snapshot
	errs  []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnUpdate: func(v Snapshot) {
			r.mu.Lock()
			r.views = append(r.views, v)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return nil
	}
	return r.views[len(r.views)-1]
}

func ids(v Snapshot) []string {
	out := make([]string, 0, len(v))
	for _, p := range v {
		out = append(out, p.ID)
	}
	return out
}

func seed(t *testing.T, s store.DirectoryStore, profiles ...domain.Profile) {
	t.Helper()
	for _, p := range profiles {
		require.NoError(t, s.Upsert(context.Background(), p))
	}
}

func TestStartExcludesSelf(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st,
		domain.Profile{ID: "u1", DisplayName: "Me"},
		domain.Profile{ID: "u2", DisplayName: "Bob"},
		domain.Profile{ID: "u3", DisplayName: "Amy"},
	)
	rec := &recorder{}
	r := New(st, rec.handlers(), nil)

	sub, err := r.Start(context.Background(), "u1")
	require.NoError(t, err)
	defer sub.Stop()

	require.Eventually(t, func() bool { return rec.count() > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"u3", "u2"}, ids(rec.last()))

	seed(t, st, domain.Profile{ID: "u4", DisplayName: "Cleo"})
	require.Eventually(t, func() bool { return len(rec.last()) == 3 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, v := range rec.views {
		assert.NotContains(t, ids(v), "u1")
	}
}

func TestOrderIsStableAcrossUpdates(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st,
		domain.Profile{ID: "u1", DisplayName: "Me"},
		domain.Profile{ID: "b", DisplayName: "bob"},
		domain.Profile{ID: "a", DisplayName: "Alice"},
		domain.Profile{ID: "c", DisplayName: "carol"},
	)
	rec := &recorder{}
	r := New(st, rec.handlers(), nil)
	sub, err := r.Start(context.Background(), "u1")
	require.NoError(t, err)
	defer sub.Stop()

	require.Eventually(t, func() bool { return len(rec.last()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, ids(rec.last()))

	seed(t, st, domain.Profile{ID: "z", DisplayName: "Bea"})
	require.Eventually(t, func() bool { return len(rec.last()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "z", "b", "c"}, ids(rec.last()))
}

func TestEmptyDirectoryPublishesEmptyRoster(t *testing.T) {
	st := store.NewMemoryStore()
	rec := &recorder{}
	r := New(st, rec.handlers(), nil)
	sub, err := r.Start(context.Background(), "u1")
	require.NoError(t, err)
	defer sub.Stop()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.last())
	assert.Empty(t, r.View())
}

func TestStartRejectsEmptySelf(t *testing.T) {
	r := New(store.NewMemoryStore(), Handlers{}, nil)
	_, err := r.Start(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestNoUpdatesAfterStop(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, domain.Profile{ID: "u2", DisplayName: "Bob"})
	rec := &recorder{}
	r := New(st, rec.handlers(), nil)

	sub, err := r.Start(context.Background(), "u1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	sub.Stop()
	sub.Stop()
	assert.Equal(t, 0, st.ListenerCount())

	seed(t, st, domain.Profile{ID: "u3", DisplayName: "Cleo"})
	_, err = r.Refresh(context.Background())
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestRestartKeepsSingleListener(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, Handlers{}, nil)

	first, err := r.Start(context.Background(), "u1")
	require.NoError(t, err)
	_, err = r.Start(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.ListenerCount())

	_, err = r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.ListenerCount())

	// stopping a replaced subscription leaves the current one alone
	first.Stop()
	assert.Equal(t, 1, st.ListenerCount())
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st,
		domain.Profile{ID: "u1", DisplayName: "Me"},
		domain.Profile{ID: "u2", DisplayName: "Bob"},
	)
	rec := &recorder{}
	r := New(st, rec.handlers(), nil)

	view, err := r.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, ids(view))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 0, st.ListenerCount())
}

func TestSearch(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st,
		domain.Profile{ID: "u2", DisplayName: "Bob Stone", Email: "bob@example.com"},
		domain.Profile{ID: "u3", DisplayName: "Amy", Email: "amy@corp.io"},
	)
	r := New(st, Handlers{}, nil)
	_, err := r.Load(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, []string{"u2"}, ids(r.Search("STONE")))
	assert.Equal(t, []string{"u3"}, ids(r.Search("corp")))
	assert.Equal(t, []string{"u3"}, ids(r.Search(" u3 ")))
	assert.Len(t, r.Search(""), 2)
	assert.Empty(t, r.Search("nobody"))
}

func TestFindByID(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st,
		domain.Profile{ID: "u1", DisplayName: "Me"},
		domain.Profile{ID: "kH72mQ0xLp", DisplayName: "Bob", Email: "bob@example.com"},
	)
	r := New(st, Handlers{}, nil)
	_, err := r.Load(context.Background(), "u1")
	require.NoError(t, err)
	ctx := context.Background()

	p, err := r.FindByID(ctx, " kH72mQ0xLp ")
	require.NoError(t, err)
	assert.Equal(t, "Bob", p.DisplayName)

	p, err = r.FindByID(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "kH72mQ0xLp", p.ID)

	p, err = r.FindByID(ctx, "mQ0x")
	require.NoError(t, err)
	assert.Equal(t, "kH72mQ0xLp", p.ID)

	_, err = r.FindByID(ctx, "u1")
	assert.ErrorIs(t, err, apperr.ErrSelfReference)

	_, err = r.FindByID(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = r.FindByID(ctx, "  ")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

type brokenDirectory struct {
	*store.MemoryStore
}

func (b brokenDirectory) Get(context.Context, string) (*domain.Principal, error) {
	return nil, errors.New("connection reset")
}

func (b brokenDirectory) WatchDirectory(_ context.Context, _ func([]domain.Principal), onError func(error)) (store.Subscription, error) {
	go onError(errors.New("stream closed"))
	return store.SubscriptionFunc(func() {}), nil
}

func TestStoreFailuresSurfaceAsSyncErrors(t *testing.T) {
	rec := &recorder{}
	r := New(brokenDirectory{store.NewMemoryStore()}, rec.handlers(), nil)

	sub, err := r.Start(context.Background(), "u1")
	require.NoError(t, err)
	defer sub.Stop()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.errs) == 1
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rec.errs[0], apperr.ErrSync)

	_, err = r.FindByID(context.Background(), "u2")
	assert.ErrorIs(t, err, apperr.ErrSync)
}

func TestLooksLikeID(t *testing.T) {
	assert.False(t, LooksLikeID("bob"))
	assert.False(t, LooksLikeID("exactly15chars!"))
	assert.True(t, LooksLikeID("kH72mQ0xLpZ9aB3c"))
}
