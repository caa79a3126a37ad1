package composer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fathima-sithara/chat-sync/internal/apperr"
	"github.com/fathima-sithara/chat-sync/internal/conversation"
	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/fathima-sithara/chat-sync/internal/logger"
	"github.com/fathima-sithara/chat-sync/internal/metrics"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"go.uber.org/zap"
)

// EventPublisher receives every message after it has been stored.
type EventPublisher interface {
	PublishMessageSent(ctx context.Context, m domain.Message) error
}

type Option func(*Composer)

func WithPublisher(p EventPublisher) Option {
	return func(c *Composer) { c.pub = p }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Composer) { c.log = logger.OrNop(l) }
}

// Composer appends outbound messages. A composer allows one send in flight at a time.
type Composer struct {
	store store.ConversationStore
	pub   EventPublisher
	log   *zap.SugaredLogger

	mu   sync.Mutex
	busy bool
}

func New(cs store.ConversationStore, opts ...Option) *Composer {
	c := &Composer{store: cs, log: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Busy reports whether a send is in flight.
func (c *Composer) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Send stores text as a message from sender to counterpart. Invalid input fails with
// ErrInvalidArgument before anything is written; a send while another is in flight fails
// with ErrBusy.
func (c *Composer) Send(ctx context.Context, sender, counterpart *domain.Principal, text string) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	switch {
	case sender == nil:
		return nil, fmt.Errorf("%w: no signed-in sender", apperr.ErrInvalidArgument)
	case counterpart == nil:
		return nil, fmt.Errorf("%w: no counterpart selected", apperr.ErrInvalidArgument)
	case text == "":
		return nil, fmt.Errorf("%w: empty message", apperr.ErrInvalidArgument)
	}
	key, err := conversation.Resolve(sender.ID, counterpart.ID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, apperr.ErrBusy
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	m := &domain.Message{
		SenderID:       sender.ID,
		SenderName:     sender.Label(),
		SenderEmail:    sender.Email,
		SenderPhotoURL: sender.PhotoURL,
		ReceiverID:     counterpart.ID,
		Text:           text,
		Read:           false,
	}
	if err := c.store.Append(ctx, key.String(), m); err != nil {
		metrics.Errors.WithLabelValues("send").Inc()
		c.log.Errorw("send message", "key", key, "error", err)
		return nil, fmt.Errorf("%w: %w", apperr.ErrSend, err)
	}
	metrics.MessagesSent.Inc()

	if c.pub != nil {
		if err := c.pub.PublishMessageSent(ctx, *m); err != nil {
			c.log.Warnw("publish message.sent", "key", key, "id", m.ID, "error", err)
		}
	}
	return m, nil
}
