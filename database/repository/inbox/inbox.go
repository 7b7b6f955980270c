package inboxRepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shutterbook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InboxRepository stores rendered notifications per user.
type InboxRepository interface {
	Save(ctx context.Context, item models.InboxItem) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.InboxItem, error)
}

type MongoInboxRepo struct {
	coll *mongo.Collection
}

func NewMongoInboxRepo(db *mongo.Database) (*MongoInboxRepo, error) {
	coll := db.Collection("notifications")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create notification index: %w", err)
	}
	return &MongoInboxRepo{coll: coll}, nil
}

var _ InboxRepository = (*MongoInboxRepo)(nil)

func (r *MongoInboxRepo) Save(ctx context.Context, item models.InboxItem) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, item); err != nil {
		return fmt.Errorf("failed to store notification for %s: %w", item.UserID, err)
	}
	return nil
}

// ListByUser returns the newest notifications first.
func (r *MongoInboxRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.InboxItem, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	items := []models.InboxItem{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return items, nil
}

type MemoryInboxRepo struct {
	mu    sync.Mutex
	items map[string][]models.InboxItem
}

func NewMemoryInboxRepo() *MemoryInboxRepo {
	return &MemoryInboxRepo{items: make(map[string][]models.InboxItem)}
}

var _ InboxRepository = (*MemoryInboxRepo)(nil)

func (m *MemoryInboxRepo) Save(_ context.Context, item models.InboxItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.UserID] = append(m.items[item.UserID], item)
	return nil
}

func (m *MemoryInboxRepo) ListByUser(_ context.Context, userID string, limit int) ([]models.InboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := append([]models.InboxItem{}, m.items[userID]...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
