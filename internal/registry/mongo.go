package registry

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRegistry stores descriptors in a MongoDB collection. Atomic field
// updates use single-document $set operations, which the server
// serializes per document.
type MongoRegistry struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoRegistry connects to the document store at endpoint (a mongodb://
// connection string) and prepares the pyramids collection.
func NewMongoRegistry(ctx context.Context, endpoint string) (*MongoRegistry, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrStorage, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", ErrStorage, err)
	}

	coll := client.Database("zoomtile").Collection("pyramids")
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "uuid", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create index: %v", ErrStorage, err)
	}

	return &MongoRegistry{client: client, coll: coll}, nil
}

func (r *MongoRegistry) Create(ctx context.Context, d *Descriptor) error {
	if _, err := r.coll.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateUUID, d.UUID)
		}
		return fmt.Errorf("%w: insert: %v", ErrStorage, err)
	}
	return nil
}

func (r *MongoRegistry) Find(ctx context.Context, uuid string) (*Descriptor, error) {
	var d Descriptor
	err := r.coll.FindOne(ctx, bson.D{{Key: "uuid", Value: uuid}}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find: %v", ErrStorage, err)
	}
	return &d, nil
}

func (r *MongoRegistry) List(ctx context.Context) ([]*Descriptor, error) {
	cursor, err := r.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStorage, err)
	}
	defer cursor.Close(ctx)

	var out []*Descriptor
	for cursor.Next(ctx) {
		var d Descriptor
		if err := cursor.Decode(&d); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrStorage, err)
		}
		out = append(out, &d)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: cursor: %v", ErrStorage, err)
	}
	return out, nil
}

func (r *MongoRegistry) SetTiles(ctx context.Context, uuid string, ts TileSet) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "uuid", Value: uuid}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "tiles", Value: ts}}}})
	if err != nil {
		return fmt.Errorf("%w: update: %v", ErrStorage, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	return nil
}

func (r *MongoRegistry) Claim(ctx context.Context, uuid string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.D{
			{Key: "uuid", Value: uuid},
			{Key: "tiles", Value: string(TilePending)},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "tiles", Value: string(TileProcessing)}}}})
	if err != nil {
		return fmt.Errorf("%w: claim: %v", ErrStorage, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s not claimable", ErrNotFound, uuid)
	}
	return nil
}

func (r *MongoRegistry) Delete(ctx context.Context, uuid string) (*Descriptor, error) {
	var d Descriptor
	err := r.coll.FindOneAndDelete(ctx, bson.D{{Key: "uuid", Value: uuid}}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: delete: %v", ErrStorage, err)
	}
	return &d, nil
}

func (r *MongoRegistry) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
