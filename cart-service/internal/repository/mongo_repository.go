package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMongoAttempts = 5
	disconnectTimeout    = 5 * time.Second
)

// cartDocument is the whole aggregate in one document. Version guards every write:
// a transaction commits only if nobody replaced the document since it was read.
type cartDocument struct {
	domain.Cart `bson:",inline"`
	Version     int64 `bson:"version"`
	LastItemID  int64 `bson:"last_item_id"`
}

type MongoRepository struct {
	collection  *mongo.Collection
	maxAttempts int
}

func NewMongoRepository(db *mongo.Database, maxAttempts int) *MongoRepository {
	if maxAttempts <= 0 {
		maxAttempts = defaultMongoAttempts
	}
	return &MongoRepository{
		collection:  db.Collection("carts"),
		maxAttempts: maxAttempts,
	}
}

func (m *MongoRepository) CreateCart(ctx context.Context, cart *domain.Cart) error {
	doc := cartDocument{Cart: *cart.Clone()}
	if doc.Items == nil {
		doc.Items = []domain.CartItem{}
	}

	_, err := m.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateCart
		}
		return fmt.Errorf("failed to create cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	doc, err := m.find(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return &doc.Cart, nil
}

// Update re-runs fn against a fresh snapshot when a concurrent writer wins the
// version check, so fn must not have side effects outside tx.
func (m *MongoRepository) Update(ctx context.Context, cartID string, fn func(ctx context.Context, tx CartTx) error) error {
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		doc, err := m.find(ctx, cartID)
		if err != nil {
			return err
		}

		readVersion := doc.Version
		tx := &snapshotTx{cart: &doc.Cart, nextID: func() int64 {
			doc.LastItemID++
			return doc.LastItemID
		}}
		if err := fn(ctx, tx); err != nil {
			return err
		}

		doc.Version = readVersion + 1
		filter := bson.M{"_id": cartID, "version": readVersion}
		result, err := m.collection.ReplaceOne(ctx, filter, doc)
		if err != nil {
			return fmt.Errorf("failed to replace cart: %w", err)
		}
		if result.MatchedCount == 1 {
			return nil
		}
	}
	return domain.ErrConcurrentModification
}

func (m *MongoRepository) find(ctx context.Context, cartID string) (*cartDocument, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": cartID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	if doc.Items == nil {
		doc.Items = []domain.CartItem{}
	}
	for i := range doc.Items {
		doc.Items[i].CartID = doc.ID
	}
	return &doc, nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "customer_id", Value: 1}},
		},
		{
			// carts are kept for analytics; no TTL here
			Keys: bson.D{{Key: "updated_at", Value: 1}},
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

func (m *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return m.collection.Database().Client().Disconnect(ctx)
}
