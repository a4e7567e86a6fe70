// Package mongodb implements storage interfaces using MongoDB
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-punchout/internal/storage"
)

// Store implements storage.Store using MongoDB
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	// Collections
	buyers   *mongo.Collection
	sessions *mongo.Collection
	carts    *mongo.Collection
	logs     *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI      string
	Database string
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	s := &Store{
		client:   client,
		db:       db,
		buyers:   db.Collection("buyers"),
		sessions: db.Collection("sessions"),
		carts:    db.Collection("carts"),
		logs:     db.Collection("transaction_logs"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	// Buyer indexes
	_, err := s.buyers.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "protocol", Value: 1}, {Key: "active", Value: 1}}},
		{Keys: bson.D{
			{Key: "identities.from", Value: 1},
			{Key: "identities.to", Value: 1},
			{Key: "identities.sender", Value: 1},
		}},
	})
	if err != nil {
		return fmt.Errorf("creating buyer indexes: %w", err)
	}

	// Session indexes
	_, err = s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "buyer_id", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating session indexes: %w", err)
	}

	// Cart indexes
	_, err = s.carts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "posted_at", Value: -1}}},
		{Keys: bson.D{{Key: "posted_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating cart indexes: %w", err)
	}

	// Log indexes
	_, err = s.logs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "protocol", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating log indexes: %w", err)
	}

	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// BuyerStore implementation

func (s *Store) CreateBuyer(ctx context.Context, buyer *storage.Buyer) error {
	if buyer.CreatedAt.IsZero() {
		buyer.CreatedAt = time.Now()
	}

	_, err := s.buyers.InsertOne(ctx, buyer)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("buyer %s already exists", buyer.BuyerID)
	}
	return err
}

func (s *Store) GetBuyer(ctx context.Context, buyerID string) (*storage.Buyer, error) {
	var buyer storage.Buyer
	err := s.buyers.FindOne(ctx, bson.M{"_id": buyerID}).Decode(&buyer)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return &buyer, err
}

func (s *Store) UpdateBuyer(ctx context.Context, buyer *storage.Buyer) error {
	_, err := s.buyers.ReplaceOne(ctx, bson.M{"_id": buyer.BuyerID}, buyer)
	return err
}

func (s *Store) TouchBuyer(ctx context.Context, buyerID string, at time.Time) error {
	_, err := s.buyers.UpdateOne(ctx, bson.M{"_id": buyerID}, bson.M{
		"$set": bson.M{"last_activity": at},
	})
	return err
}

func (s *Store) ListBuyers(ctx context.Context, filter *storage.BuyerFilter) ([]*storage.Buyer, error) {
	query := buyerQuery(filter)

	opts := options.Find()
	if filter != nil {
		if filter.Limit > 0 {
			opts.SetLimit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			opts.SetSkip(int64(filter.Offset))
		}
	}

	cursor, err := s.buyers.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var buyers []*storage.Buyer
	if err := cursor.All(ctx, &buyers); err != nil {
		return nil, err
	}
	return buyers, nil
}

func (s *Store) CountBuyers(ctx context.Context, filter *storage.BuyerFilter) (int64, error) {
	return s.buyers.CountDocuments(ctx, buyerQuery(filter))
}

func buyerQuery(filter *storage.BuyerFilter) bson.M {
	query := bson.M{}
	if filter == nil {
		return query
	}
	if filter.Protocol != "" {
		query["protocol"] = filter.Protocol
	}
	if filter.Active != nil {
		query["active"] = *filter.Active
	}
	return query
}

// SessionStore implementation

func (s *Store) CreateSession(ctx context.Context, session *storage.Session) error {
	_, err := s.sessions.InsertOne(ctx, session)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("session %s already exists", session.SID)
	}
	return err
}

func (s *Store) GetSession(ctx context.Context, sid string) (*storage.Session, error) {
	var session storage.Session
	err := s.sessions.FindOne(ctx, bson.M{"_id": sid}).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return &session, err
}

func (s *Store) RemoveSession(ctx context.Context, sid string) error {
	// FindOneAndDelete is atomic: of two concurrent removals for the same
	// sid, exactly one observes the document.
	err := s.sessions.FindOneAndDelete(ctx, bson.M{"_id": sid}).Err()
	if err == mongo.ErrNoDocuments {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time) ([]*storage.Session, error) {
	cursor, err := s.sessions.Find(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*storage.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) CountSessions(ctx context.Context, filter *storage.SessionFilter) (int64, error) {
	query := bson.M{}
	if filter != nil {
		if filter.BuyerID != "" {
			query["buyer_id"] = filter.BuyerID
		}
		created := bson.M{}
		if filter.CreatedAfter != nil {
			created["$gte"] = *filter.CreatedAfter
		}
		if filter.CreatedBefore != nil {
			created["$lt"] = *filter.CreatedBefore
		}
		if len(created) > 0 {
			query["created_at"] = created
		}
		if filter.ActiveAt != nil {
			query["expires_at"] = bson.M{"$gt": *filter.ActiveAt}
		}
	}
	return s.sessions.CountDocuments(ctx, query)
}

// CartStore implementation

func (s *Store) CreateCart(ctx context.Context, cart *storage.Cart) error {
	if cart.ID == "" {
		cart.ID = primitive.NewObjectID().Hex()
	}
	_, err := s.carts.InsertOne(ctx, cart)
	return err
}

func (s *Store) ListCarts(ctx context.Context, filter *storage.CartFilter) ([]*storage.Cart, error) {
	query := cartQuery(filter)

	opts := options.Find().SetSort(bson.D{{Key: "posted_at", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			opts.SetLimit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			opts.SetSkip(int64(filter.Offset))
		}
	}

	cursor, err := s.carts.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var carts []*storage.Cart
	if err := cursor.All(ctx, &carts); err != nil {
		return nil, err
	}
	return carts, nil
}

func (s *Store) CountCarts(ctx context.Context, filter *storage.CartFilter) (int64, error) {
	return s.carts.CountDocuments(ctx, cartQuery(filter))
}

func cartQuery(filter *storage.CartFilter) bson.M {
	query := bson.M{}
	if filter == nil {
		return query
	}
	if filter.BuyerID != "" {
		query["buyer_id"] = filter.BuyerID
	}
	posted := bson.M{}
	if filter.PostedAfter != nil {
		posted["$gte"] = *filter.PostedAfter
	}
	if filter.PostedBefore != nil {
		posted["$lte"] = *filter.PostedBefore
	}
	if len(posted) > 0 {
		query["posted_at"] = posted
	}
	return query
}

// LogStore implementation

func (s *Store) AppendLog(ctx context.Context, entry *storage.LogEntry) error {
	if entry.ID == "" {
		entry.ID = primitive.NewObjectID().Hex()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_, err := s.logs.InsertOne(ctx, entry)
	return err
}

func (s *Store) ListLogs(ctx context.Context, filter *storage.LogFilter) ([]*storage.LogEntry, error) {
	query := bson.M{}
	if filter != nil {
		if filter.Protocol != "" {
			query["protocol"] = filter.Protocol
		}
		if filter.BuyerID != "" {
			query["buyer_id"] = filter.BuyerID
		}
		ts := bson.M{}
		if filter.After != nil {
			ts["$gte"] = *filter.After
		}
		if filter.Before != nil {
			ts["$lte"] = *filter.Before
		}
		if len(ts) > 0 {
			query["timestamp"] = ts
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			opts.SetLimit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			opts.SetSkip(int64(filter.Offset))
		}
	}

	cursor, err := s.logs.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*storage.LogEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) PurgeLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.logs.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
