package redis

import (
	"testing"
	"time"

	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamID(t *testing.T) {
	ts, seq, err := parseStreamID("1735689600000-3")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), ts)
	assert.Equal(t, int64(3), seq)

	for _, bad := range []string{"", "1735689600000", "abc-1", "1-x"} {
		_, _, err := parseStreamID(bad)
		assert.Error(t, err, bad)
	}
}

func TestStreamIDsOrderLikeMessages(t *testing.T) {
	var msgs []domain.Message
	for _, id := range []string{"1000-1", "999-0", "1000-0"} {
		m, err := messageFromEntry("a_b", redis.XMessage{ID: id, Values: map[string]interface{}{"text": id}})
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	domain.SortMessages(msgs)
	assert.Equal(t, []string{"999-0", "1000-0", "1000-1"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
}

func TestMessageFromEntry(t *testing.T) {
	m, err := messageFromEntry("u1_u2", redis.XMessage{
		ID: "1735689600000-0",
		Values: map[string]interface{}{
			"sender_id":    "u1",
			"sender_name":  "Uma",
			"sender_email": "u1@example.com",
			"receiver_id":  "u2",
			"text":         "hello",
			"read":         "0",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "1735689600000-0", m.ID)
	assert.Equal(t, "u1_u2", m.ConversationKey)
	assert.Equal(t, "Uma", m.SenderName)
	assert.Equal(t, "hello", m.Text)
	assert.False(t, m.Read)
	assert.Empty(t, m.SenderPhotoURL)
}

func TestPrincipalFromHash(t *testing.T) {
	p := principalFromHash("u1", map[string]string{
		"email":       "u1@example.com",
		"displayName": "Uma",
		"status":      "online",
		"lastSeen":    "1735689600000",
		"createdAt":   "",
	})
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "Uma", p.DisplayName)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), p.LastSeen)
	assert.True(t, p.CreatedAt.IsZero())
}

func TestKeys(t *testing.T) {
	s := NewStore(nil, "chat")
	assert.Equal(t, "chat:users", s.usersKey())
	assert.Equal(t, "chat:user:u1", s.userKey("u1"))
	assert.Equal(t, "chat:conv:u1_u2", s.convKey("u1_u2"))
	assert.NotEqual(t, s.usersChannel(), s.convChannel("u1_u2"))
}
