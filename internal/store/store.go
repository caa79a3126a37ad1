package store

import (
	"context"
	"errors"

	"github.com/fathima-sithara/chat-sync/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Subscription is a live listener handle. Unsubscribe is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// DirectoryStore holds one profile record per principal.
type DirectoryStore interface {
	Get(ctx context.Context, id string) (*domain.Principal, error)
	// Upsert merges p into the record keyed by p.ID and stamps lastSeen with the store clock.
	Upsert(ctx context.Context, p domain.Profile) error
	List(ctx context.Context) ([]domain.Principal, error)
	// WatchDirectory delivers the full collection once, then again after every change batch.
	// Callbacks for one subscription are never invoked concurrently.
	WatchDirectory(ctx context.Context, onChange func([]domain.Principal), onError func(error)) (Subscription, error)
}

// ConversationStore holds append-only message partitions keyed by conversation key.
type ConversationStore interface {
	// Append assigns ID, Timestamp and Seq and writes m into its partition.
	Append(ctx context.Context, key string, m *domain.Message) error
	// Messages returns the partition ordered by timestamp, then sequence.
	Messages(ctx context.Context, key string) ([]domain.Message, error)
	// WatchConversation delivers the ordered partition once, then after every change batch.
	WatchConversation(ctx context.Context, key string, onChange func([]domain.Message), onError func(error)) (Subscription, error)
}

type Store interface {
	DirectoryStore
	ConversationStore
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }
