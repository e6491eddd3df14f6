package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aagnone3/toolqueue"
)

// TryLock takes or renews the named lease for owner. The upsert only
// matches a lease held by owner or one that has expired; when another
// owner holds it the insert collides on _id and the call reports false.
func (s *Store) TryLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	t := s.now()
	filter := bson.M{
		"_id": name,
		"$or": bson.A{
			bson.M{"owner": owner},
			bson.M{"until": bson.M{"$lte": t}},
		},
	}
	doc := &lockModel{Name: name, Owner: owner, Until: t.Add(ttl)}

	_, err := s.db.Collection(colLocks).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("toolqueue/mongo: try lock %s: %w", name, err)
	}
	return true, nil
}

// Unlock releases the named lease if owner holds it.
func (s *Store) Unlock(ctx context.Context, name, owner string) error {
	res, err := s.db.Collection(colLocks).DeleteOne(ctx, bson.M{"_id": name, "owner": owner})
	if err != nil {
		return fmt.Errorf("toolqueue/mongo: unlock %s: %w", name, err)
	}
	if res.DeletedCount == 0 {
		return toolqueue.ErrLockNotHeld
	}
	return nil
}
