package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/segmentio/kafka-go"
)

// MessageSent is the payload of the message.sent topic.
type MessageSent struct {
	Event           string    `json:"event"`
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	SenderID        string    `json:"sender_id"`
	ReceiverID      string    `json:"receiver_id"`
	Timestamp       time.Time `json:"timestamp"`
	Seq             int64     `json:"seq"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return &Producer{writer: w, topic: topic}
}

// PublishMessageSent writes an event keyed by conversation key, so a partition's events keep
// their order within one Kafka partition.
func (p *Producer) PublishMessageSent(ctx context.Context, m domain.Message) error {
	b, err := json.Marshal(newMessageSent(m))
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.ConversationKey),
		Value: b,
		Time:  time.Now(),
	})
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func newMessageSent(m domain.Message) MessageSent {
	return MessageSent{
		Event:           "message.sent",
		ID:              m.ID,
		ConversationKey: m.ConversationKey,
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		Timestamp:       m.Timestamp,
		Seq:             m.Seq,
	}
}
