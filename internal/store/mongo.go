package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	// DefaultTimeout bounds a single document-store operation.
	DefaultTimeout = 10 * time.Second
	// DefaultConnectTimeout bounds the initial connection handshake.
	DefaultConnectTimeout = 10 * time.Second
)

// Client wraps a mongo.Client plus the database the gateway's collections
// live in, mirroring the bootstrap shape of
// getaxonflow-axonflow/platform/connectors/mongodb.Connect.
type Client struct {
	raw *mongo.Client
	db  *mongo.Database
}

// Connect dials uri and pings the server, failing fast on a bad DSN rather
// than deferring the error to the first query.
func Connect(ctx context.Context, uri, dbName string) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	opts := options.Client().ApplyURI(uri).SetMaxPoolSize(100).SetMinPoolSize(5)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}

	return &Client{raw: client, db: client.Database(dbName)}, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.raw.Disconnect(ctx)
}

// MongoRepository implements Repository[T] over a single collection.
type MongoRepository[T any] struct {
	coll *mongo.Collection
}

// Collection returns (creating if necessary) a typed repository over name.
func Collection[T any](c *Client, name string) *MongoRepository[T] {
	return &MongoRepository[T]{coll: c.db.Collection(name)}
}

func toBsonM(filter map[string]any) bson.M {
	m := bson.M{}
	for k, v := range filter {
		m[k] = v
	}
	return m
}

func (r *MongoRepository[T]) FindOne(ctx context.Context, filter map[string]any) (T, error) {
	var out T
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	err := r.coll.FindOne(ctx, toBsonM(filter)).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return out, ErrNotFound
	}
	return out, err
}

type mongoCursor[T any] struct {
	cur *mongo.Cursor
}

func (c *mongoCursor[T]) Next(ctx context.Context) bool { return c.cur.Next(ctx) }

func (c *mongoCursor[T]) Decode() (T, error) {
	var out T
	err := c.cur.Decode(&out)
	return out, err
}

func (c *mongoCursor[T]) Close(ctx context.Context) error { return c.cur.Close(ctx) }

func (r *MongoRepository[T]) Iterate(ctx context.Context, filter map[string]any) (Cursor[T], error) {
	cur, err := r.coll.Find(ctx, toBsonM(filter))
	if err != nil {
		return nil, err
	}
	return &mongoCursor[T]{cur: cur}, nil
}

func (r *MongoRepository[T]) Insert(ctx context.Context, doc T) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	_, err := r.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return doc, &ErrDuplicateKey{}
	}
	return doc, err
}

func (r *MongoRepository[T]) Update(ctx context.Context, filter map[string]any, fields map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx, toBsonM(filter), bson.M{"$set": toBsonM(fields)})
	return err
}

func (r *MongoRepository[T]) Delete(ctx context.Context, filter map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	_, err := r.coll.DeleteOne(ctx, toBsonM(filter))
	return err
}

func (r *MongoRepository[T]) CreateIndexes(ctx context.Context, specs []IndexSpec) error {
	models := make([]mongo.IndexModel, 0, len(specs))
	for _, spec := range specs {
		keys := bson.D{}
		for _, k := range spec.Keys {
			keys = append(keys, bson.E{Key: k, Value: 1})
		}

		idxOpts := options.Index().SetName(spec.Name)
		if spec.Unique {
			idxOpts.SetUnique(true)
		}
		if spec.TTL {
			idxOpts.SetExpireAfterSeconds(int32(spec.TTLAfter))
			keys = bson.D{{Key: spec.TTLField, Value: 1}}
		}

		models = append(models, mongo.IndexModel{Keys: keys, Options: idxOpts})
	}

	if len(models) == 0 {
		return nil
	}

	_, err := r.coll.Indexes().CreateMany(ctx, models)
	return err
}
