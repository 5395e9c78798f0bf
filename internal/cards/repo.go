package cards

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repo stores cards in MongoDB, one document per card with its blocks
// embedded.
type Repo struct {
	coll *mongo.Collection
}

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{coll: db.Collection("cards")}
}

// EnsureIndexes creates necessary indexes for the cards collection
func (r *Repo) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "title", Value: "text"},
				{Key: "content", Value: "text"},
			},
		},
		{
			Keys: bson.D{
				{Key: "userId", Value: 1},
				{Key: "isArchived", Value: 1},
				{Key: "createdAt", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "projectId", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "folderId", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "userId", Value: 1},
				{Key: "status", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "tags", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "dueDate", Value: 1}},
		},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Insert creates a new card at version 0.
func (r *Repo) Insert(ctx context.Context, c *Card) error {
	c.ID = primitive.NewObjectID()
	c.Version = 0

	_, err := r.coll.InsertOne(ctx, c)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

// FindOwned retrieves a live card owned by userID.
func (r *Repo) FindOwned(ctx context.Context, id primitive.ObjectID, userID string) (*Card, error) {
	var card Card
	err := r.coll.FindOne(ctx, ownedFilter(id, userID)).Decode(&card)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find card %s: %w", id.Hex(), err)
	}
	return &card, nil
}

// Replace writes c back if nobody else wrote it since it was read, and
// bumps its version.
func (r *Repo) Replace(ctx context.Context, c *Card) error {
	filter := ownedFilter(c.ID, c.UserID)
	filter["version"] = c.Version

	next := *c
	next.Version++
	res, err := r.coll.ReplaceOne(ctx, filter, &next)
	if err != nil {
		return fmt.Errorf("replace card %s: %w", c.ID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, ownedFilter(c.ID, c.UserID))
		if err != nil {
			return fmt.Errorf("check card %s: %w", c.ID.Hex(), err)
		}
		if n == 0 {
			return ErrCardNotFound
		}
		return ErrVersionConflict
	}
	c.Version = next.Version
	return nil
}

// List returns one page of the user's live cards, newest first, and the
// total number of matches.
func (r *Repo) List(ctx context.Context, userID string, q ListQuery) ([]*Card, int64, error) {
	filter := bson.M{"userId": userID, "deletedAt": nil}
	if q.AreaID != nil {
		filter["areaId"] = *q.AreaID
	}
	if q.FolderID != nil {
		filter["folderId"] = *q.FolderID
	}
	if q.ProjectID != nil {
		filter["projectId"] = *q.ProjectID
	}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	if q.Archived != nil {
		filter["isArchived"] = *q.Archived
	}
	if q.Search != "" {
		filter["$text"] = bson.M{"$search": q.Search}
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count cards: %w", err)
	}

	opts := options.Find().
		SetLimit(int64(q.Limit)).
		SetSkip(int64((q.Page - 1) * q.Limit)).
		SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list cards: %w", err)
	}
	defer cursor.Close(ctx)

	var cards []*Card
	if err := cursor.All(ctx, &cards); err != nil {
		return nil, 0, fmt.Errorf("decode cards: %w", err)
	}
	return cards, total, nil
}

func ownedFilter(id primitive.ObjectID, userID string) bson.M {
	return bson.M{"_id": id, "userId": userID, "deletedAt": nil}
}
