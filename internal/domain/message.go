package domain

import (
	"sort"
	"time"
)

// Message is one record of a conversation partition. The sender fields are a snapshot taken at
// send time, not a reference into the directory.
type Message struct {
	ID              string    `json:"id" bson:"_id"`
	ConversationKey string    `json:"conversationKey" bson:"conversation_key"`
	SenderID        string    `json:"senderId" bson:"sender_id"`
	SenderName      string    `json:"senderName" bson:"sender_name"`
	SenderEmail     string    `json:"senderEmail" bson:"sender_email"`
	SenderPhotoURL  string    `json:"senderPhotoURL,omitempty" bson:"sender_photo_url,omitempty"`
	ReceiverID      string    `json:"receiverId" bson:"receiver_id"`
	Text            string    `json:"text" bson:"text"`
	Timestamp       time.Time `json:"timestamp" bson:"timestamp"`
	Seq             int64     `json:"seq" bson:"seq"`
	Read            bool      `json:"read" bson:"read"`
}

// Before reports whether m sorts before o: timestamp first, insertion sequence on ties.
func (m Message) Before(o Message) bool {
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.Before(o.Timestamp)
	}
	return m.Seq < o.Seq
}

func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}
