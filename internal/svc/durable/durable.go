package durable

import (
	"context"
	"errors"
	"time"

	"github.com/farmlink/presence/internal/instance"
	"github.com/farmlink/presence/internal/structures"
	"github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type store struct {
	coll *mongo.Collection
	c    *cache.Cache
}

type Options struct {
	Collection *mongo.Collection
	CacheTTL   time.Duration
}

// New returns a DurableStore backed by the users collection. Reads are cached for CacheTTL
// and every write through this store invalidates the cached record.
func New(opt Options) instance.DurableStore {
	ttl := opt.CacheTTL
	if ttl <= 0 {
		ttl = time.Second * 5
	}

	return &store{
		coll: opt.Collection,
		c:    cache.New(ttl, ttl*5),
	}
}

// UpsertMerge implements instance.DurableStore
func (s *store) UpsertMerge(ctx context.Context, userID string, update structures.RecordUpdate) error {
	doc := updateDocument(update)
	if len(doc) == 0 {
		return nil
	}

	s.c.Delete(userID)

	_, err := s.coll.UpdateOne(ctx, bson.M{
		"_id": userID,
	}, doc, options.Update().SetUpsert(true))

	return err
}

// Get implements instance.DurableStore
func (s *store) Get(ctx context.Context, userID string) (structures.PresenceRecord, bool, error) {
	if v, ok := s.c.Get(userID); ok {
		return v.(structures.PresenceRecord), true, nil
	}

	rec := structures.PresenceRecord{}

	err := s.coll.FindOne(ctx, bson.M{
		"_id": userID,
	}, options.FindOne().SetProjection(bson.M{
		"isOnline": 1,
		"lastSeen": 1,
	})).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, false, nil
	}

	if err != nil {
		return rec, false, err
	}

	s.c.SetDefault(userID, rec)

	return rec, true, nil
}

// updateDocument builds the merge update. lastSeen uses $max so a stale writer
// never moves it backwards.
func updateDocument(update structures.RecordUpdate) bson.M {
	doc := bson.M{}

	if update.IsOnline != nil {
		doc["$set"] = bson.M{"isOnline": *update.IsOnline}
	}

	if update.LastSeen != nil {
		doc["$max"] = bson.M{"lastSeen": *update.LastSeen}
	}

	return doc
}
