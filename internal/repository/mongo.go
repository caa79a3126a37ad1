package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 3 * time.Second

	countersCollection = "conversation_counters"
)

// MongoRepository implements the directory and conversation stores on MongoDB. Live
// subscriptions use change streams, which need a replica set or sharded cluster.
type MongoRepository struct {
	users    *mongo.Collection
	msgColl  *mongo.Collection
	counters *mongo.Collection
}

func NewMongoClient(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

func NewMongoRepository(db *mongo.Database, usersColl, messagesColl string) *MongoRepository {
	r := &MongoRepository{
		users:    db.Collection(usersColl),
		msgColl:  db.Collection(messagesColl),
		counters: db.Collection(countersCollection),
	}
	_, _ = r.msgColl.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_key", Value: 1}, {Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetName("conversation_order_idx"),
	})
	return r
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*domain.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	var p domain.Principal
	if err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Upsert merges the profile fields; lastSeen takes the server's clock and createdAt is only
// written on insert.
func (r *MongoRepository) Upsert(ctx context.Context, p domain.Profile) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := r.users.UpdateByID(ctx, p.ID, profileUpdate(p, time.Now().UTC()), options.Update().SetUpsert(true))
	return err
}

func profileUpdate(p domain.Profile, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"email":       p.Email,
			"displayName": p.DisplayName,
			"photoURL":    p.PhotoURL,
			"status":      p.Status,
		},
		"$currentDate": bson.M{"lastSeen": true},
		"$setOnInsert": bson.M{"createdAt": now},
	}
}

func (r *MongoRepository) List(ctx context.Context) ([]domain.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	cur, err := r.users.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []domain.Principal{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) WatchDirectory(ctx context.Context, onChange func([]domain.Principal), onError func(error)) (store.Subscription, error) {
	return watch(ctx, changesOf(r.users, mongo.Pipeline{}), func(ctx context.Context) error {
		ps, err := r.List(ctx)
		if err != nil {
			return err
		}
		onChange(ps)
		return nil
	}, onError)
}

// Append draws the next sequence number for the partition, then inserts the message with a
// server-side timestamp.
func (r *MongoRepository) Append(ctx context.Context, key string, m *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": key},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return err
	}

	m.ID = uuid.NewString()
	m.ConversationKey = key
	m.Seq = counter.Seq
	if _, err := r.msgColl.UpdateByID(ctx, m.ID, messageInsert(m), options.Update().SetUpsert(true)); err != nil {
		return err
	}

	var stored domain.Message
	if err := r.msgColl.FindOne(ctx, bson.M{"_id": m.ID}).Decode(&stored); err != nil {
		return err
	}
	m.Timestamp = stored.Timestamp
	return nil
}

func messageInsert(m *domain.Message) bson.M {
	return bson.M{
		"$setOnInsert": bson.M{
			"conversation_key": m.ConversationKey,
			"sender_id":        m.SenderID,
			"sender_name":      m.SenderName,
			"sender_email":     m.SenderEmail,
			"sender_photo_url": m.SenderPhotoURL,
			"receiver_id":      m.ReceiverID,
			"text":             m.Text,
			"seq":              m.Seq,
			"read":             m.Read,
		},
		"$currentDate": bson.M{"timestamp": true},
	}
}

func (r *MongoRepository) Messages(ctx context.Context, key string) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}})
	cur, err := r.msgColl.Find(ctx, bson.M{"conversation_key": key}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []domain.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) WatchConversation(ctx context.Context, key string, onChange func([]domain.Message), onError func(error)) (store.Subscription, error) {
	return watch(ctx, changesOf(r.msgColl, conversationPipeline(key)), func(ctx context.Context) error {
		msgs, err := r.Messages(ctx, key)
		if err != nil {
			return err
		}
		onChange(msgs)
		return nil
	}, onError)
}

func conversationPipeline(key string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "fullDocument.conversation_key", Value: key}}}},
	}
}

// changeStream is the part of *mongo.ChangeStream the watch loop uses.
type changeStream interface {
	Next(ctx context.Context) bool
	TryNext(ctx context.Context) bool
	Err() error
	Close(ctx context.Context) error
}

type streamOpener func(ctx context.Context) (changeStream, error)

func changesOf(coll *mongo.Collection, pipeline mongo.Pipeline) streamOpener {
	return func(ctx context.Context) (changeStream, error) {
		cs, err := coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
		if err != nil {
			return nil, err
		}
		return cs, nil
	}
}

// watch opens the change stream before reading the first snapshot so that no change is missed
// in between. Bursts of events are folded into one re-read. The subscription ends when ctx is
// done or Unsubscribe is called.
func watch(ctx context.Context, open streamOpener, snapshot func(context.Context) error, onError func(error)) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	cs, err := open(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	report := func(err error) {
		if ctx.Err() == nil && onError != nil {
			onError(err)
		}
	}

	go func() {
		defer cs.Close(context.Background())
		if err := snapshot(ctx); err != nil {
			report(err)
			return
		}
		for cs.Next(ctx) {
			for cs.TryNext(ctx) {
			}
			if err := snapshot(ctx); err != nil {
				report(err)
				return
			}
		}
		if err := cs.Err(); err != nil {
			report(err)
		}
	}()

	var once sync.Once
	return store.SubscriptionFunc(func() { once.Do(cancel) }), nil
}
