package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"github.com/redis/go-redis/v9"
)

// Store keeps the directory and the conversation partitions in Redis.
// Keys used:
// - <prefix>:users -> set of principal ids
// - <prefix>:user:<id> -> hash of profile fields
// - <prefix>:conv:<key> -> stream of messages; entry ids carry the server timestamp
// - <prefix>:changes:users, <prefix>:changes:conv:<key> -> pub/sub change notifications
type Store struct {
	client *redis.Client
	prefix string
}

func NewStore(r *redis.Client, prefix string) *Store {
	return &Store{client: r, prefix: prefix}
}

func (s *Store) usersKey() string          { return fmt.Sprintf("%s:users", s.prefix) }
func (s *Store) userKey(id string) string  { return fmt.Sprintf("%s:user:%s", s.prefix, id) }
func (s *Store) convKey(key string) string { return fmt.Sprintf("%s:conv:%s", s.prefix, key) }
func (s *Store) usersChannel() string      { return fmt.Sprintf("%s:changes:users", s.prefix) }
func (s *Store) convChannel(key string) string {
	return fmt.Sprintf("%s:changes:conv:%s", s.prefix, key)
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Principal, error) {
	h, err := s.client.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, store.ErrNotFound
	}
	p := principalFromHash(id, h)
	return &p, nil
}

// Upsert writes only the profile fields, so fields such as createdAt survive.
func (s *Store) Upsert(ctx context.Context, p domain.Profile) error {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return err
	}
	ms := now.UnixMilli()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := s.userKey(p.ID)
		pipe.HSet(ctx, key, map[string]interface{}{
			"email":       p.Email,
			"displayName": p.DisplayName,
			"photoURL":    p.PhotoURL,
			"status":      p.Status,
			"lastSeen":    ms,
		})
		pipe.HSetNX(ctx, key, "createdAt", ms)
		pipe.SAdd(ctx, s.usersKey(), p.ID)
		pipe.Publish(ctx, s.usersChannel(), p.ID)
		return nil
	})
	return err
}

func (s *Store) List(ctx context.Context) ([]domain.Principal, error) {
	ids, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Principal{}, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.userKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Principal, 0, len(ids))
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		out = append(out, principalFromHash(ids[i], h))
	}
	return out, nil
}

func (s *Store) WatchDirectory(ctx context.Context, onChange func([]domain.Principal), onError func(error)) (store.Subscription, error) {
	return s.watch(ctx, s.usersChannel(), func(ctx context.Context) error {
		ps, err := s.List(ctx)
		if err != nil {
			return err
		}
		onChange(ps)
		return nil
	}, onError)
}

// Append adds m to the partition stream. The stream entry id ("<ms>-<seq>") is assigned by the
// server and becomes the message's id, timestamp and tie-break sequence.
func (s *Store) Append(ctx context.Context, key string, m *domain.Message) error {
	read := "0"
	if m.Read {
		read = "1"
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.convKey(key),
		Values: map[string]interface{}{
			"sender_id":        m.SenderID,
			"sender_name":      m.SenderName,
			"sender_email":     m.SenderEmail,
			"sender_photo_url": m.SenderPhotoURL,
			"receiver_id":      m.ReceiverID,
			"text":             m.Text,
			"read":             read,
		},
	}).Result()
	if err != nil {
		return err
	}
	ts, seq, err := parseStreamID(id)
	if err != nil {
		return err
	}
	m.ID = id
	m.ConversationKey = key
	m.Timestamp = ts
	m.Seq = seq

	// the entry is stored; a lost notification only delays listeners until the next change
	_ = s.client.Publish(ctx, s.convChannel(key), id).Err()
	return nil
}

func (s *Store) Messages(ctx context.Context, key string) ([]domain.Message, error) {
	entries, err := s.client.XRange(ctx, s.convKey(key), "-", "+").Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		m, err := messageFromEntry(key, e)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) WatchConversation(ctx context.Context, key string, onChange func([]domain.Message), onError func(error)) (store.Subscription, error) {
	return s.watch(ctx, s.convChannel(key), func(ctx context.Context) error {
		msgs, err := s.Messages(ctx, key)
		if err != nil {
			return err
		}
		onChange(msgs)
		return nil
	}, onError)
}

// watch subscribes to channel, then delivers one snapshot up front and one after every burst
// of notifications. The subscription is confirmed before the first snapshot is read so no
// change falls between the two.
func (s *Store) watch(ctx context.Context, channel string, snapshot func(context.Context) error, onError func(error)) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, err
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			_ = ps.Close()
		})
	}

	go func() {
		ch := ps.Channel()
		deliver := func() bool {
			if err := snapshot(ctx); err != nil {
				if ctx.Err() == nil && onError != nil {
					onError(err)
				}
				return false
			}
			return true
		}
		if !deliver() {
			stop()
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					if ctx.Err() == nil && onError != nil {
						onError(errors.New("redis subscription closed"))
					}
					return
				}
				drain(ch)
				if !deliver() {
					stop()
					return
				}
			}
		}
	}()
	return store.SubscriptionFunc(stop), nil
}

func drain(ch <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func parseStreamID(id string) (time.Time, int64, error) {
	msPart, seqPart, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, 0, fmt.Errorf("malformed stream id %q", id)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	return time.UnixMilli(ms).UTC(), seq, nil
}

func messageFromEntry(key string, e redis.XMessage) (domain.Message, error) {
	ts, seq, err := parseStreamID(e.ID)
	if err != nil {
		return domain.Message{}, err
	}
	str := func(field string) string {
		v, _ := e.Values[field].(string)
		return v
	}
	return domain.Message{
		ID:              e.ID,
		ConversationKey: key,
		SenderID:        str("sender_id"),
		SenderName:      str("sender_name"),
		SenderEmail:     str("sender_email"),
		SenderPhotoURL:  str("sender_photo_url"),
		ReceiverID:      str("receiver_id"),
		Text:            str("text"),
		Timestamp:       ts,
		Seq:             seq,
		Read:            str("read") == "1",
	}, nil
}

func principalFromHash(id string, h map[string]string) domain.Principal {
	return domain.Principal{
		ID:          id,
		Email:       h["email"],
		DisplayName: h["displayName"],
		PhotoURL:    h["photoURL"],
		Status:      h["status"],
		LastSeen:    unixMilli(h["lastSeen"]),
		CreatedAt:   unixMilli(h["createdAt"]),
	}
}

func unixMilli(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
