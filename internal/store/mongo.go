package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dicetables-db/internal/docid"
)

// MongoConfig configures a MongoStore.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// MongoStore is a collection in a MongoDB database. Ids are native object
// ids.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	cfg    MongoConfig
	closed atomic.Bool
}

// OpenMongo connects, creates the collection when missing and rejects a
// collection holding non object id keys.
func OpenMongo(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		cfg:    cfg,
	}
	if err := s.setUp(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) setUp(ctx context.Context) error {
	names, err := s.coll.Database().ListCollectionNames(ctx, bson.D{{Key: "name", Value: s.cfg.Collection}})
	if err != nil {
		return fmt.Errorf("mongo list collections: %w", err)
	}
	if len(names) == 0 {
		if err := s.coll.Database().CreateCollection(ctx, s.cfg.Collection); err != nil {
			return fmt.Errorf("mongo create collection: %w", err)
		}
		return nil
	}

	err = s.coll.FindOne(ctx, bson.M{IDField: bson.M{"$not": bson.M{"$type": "objectId"}}}).Err()
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil
	case err != nil:
		return fmt.Errorf("mongo check shape: %w", err)
	}
	return fmt.Errorf("%w: %s holds documents without object ids", ErrIncompatibleSchema, s.cfg.Collection)
}

func (s *MongoStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func mongoValue(v any) any {
	v = normalize(v)
	if id, ok := v.(docid.ID); ok {
		return id.ObjectID()
	}
	return v
}

func mongoFilter(f Filter) bson.D {
	out := bson.D{}
	for _, col := range sortedKeys(f) {
		c, ok := f[col].(Cond)
		if !ok {
			out = append(out, bson.E{Key: col, Value: mongoValue(f[col])})
			continue
		}
		cond := bson.D{{Key: string(c.Op), Value: mongoValue(c.Value)}}
		if c.Op == OpNe {
			cond = append(cond, bson.E{Key: "$exists", Value: true})
		}
		out = append(out, bson.E{Key: col, Value: cond})
	}
	return out
}

func mongoProjection(p Projection, mode projectionMode) bson.D {
	if mode == projectAll {
		return nil
	}
	out := bson.D{}
	for _, col := range sortedKeys(p) {
		v := 0
		if p[col] {
			v = 1
		}
		out = append(out, bson.E{Key: col, Value: v})
	}
	if _, named := p[IDField]; mode == projectInclude && !named {
		out = append(out, bson.E{Key: IDField, Value: 0})
	}
	return out
}

func (s *MongoStore) find(ctx context.Context, f Filter, p Projection, limit int64) ([]Document, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	mode, err := checkQuery(f, p)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: IDField, Value: 1}})
	if proj := mongoProjection(p, mode); proj != nil {
		opts.SetProjection(proj)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.coll.Find(ctx, mongoFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("mongo decode: %w", err)
	}

	var out []Document
	for _, m := range raw {
		if len(m) == 0 {
			continue
		}
		out = append(out, fromBSON(m))
	}
	return out, nil
}

func (s *MongoStore) Find(ctx context.Context, f Filter, p Projection) ([]Document, error) {
	return s.find(ctx, f, p, 0)
}

func (s *MongoStore) FindOne(ctx context.Context, f Filter, p Projection) (Document, bool, error) {
	docs, err := s.find(ctx, f, p, 1)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

func (s *MongoStore) Insert(ctx context.Context, doc Document) (docid.ID, error) {
	if err := s.check(ctx); err != nil {
		return docid.ID{}, err
	}
	stored := copyDocument(doc)
	id := docid.New()
	stored[IDField] = id
	if _, err := s.coll.InsertOne(ctx, toBSON(stored)); err != nil {
		return docid.ID{}, fmt.Errorf("mongo insert: %w", err)
	}
	return id, nil
}

func (s *MongoStore) DeclareColumn(ctx context.Context, _ string, _ Kind) error {
	return s.check(ctx)
}

func (s *MongoStore) CreateIndex(ctx context.Context, cols ...string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	keys := bson.D{}
	for _, c := range cols {
		keys = append(keys, bson.E{Key: c, Value: 1})
	}
	if _, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys}); err != nil {
		return fmt.Errorf("mongo create index: %w", err)
	}
	return nil
}

func (s *MongoStore) indices(ctx context.Context) ([][]string, error) {
	cur, err := s.coll.Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("mongo list indexes: %w", err)
	}
	var specs []struct {
		Name string `bson:"name"`
		Key  bson.D `bson:"key"`
	}
	if err := cur.All(ctx, &specs); err != nil {
		return nil, fmt.Errorf("mongo decode indexes: %w", err)
	}

	out := [][]string{}
	for _, spec := range specs {
		if spec.Name == "_id_" {
			continue
		}
		cols := make([]string, len(spec.Key))
		for i, e := range spec.Key {
			cols[i] = e.Key
		}
		out = append(out, cols)
	}
	sortIndices(out)
	return out, nil
}

func (s *MongoStore) HasIndex(ctx context.Context, cols ...string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	indices, err := s.indices(ctx)
	if err != nil {
		return false, err
	}
	return containsIndex(indices, cols), nil
}

func (s *MongoStore) IsEmpty(ctx context.Context) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	n, err := s.coll.CountDocuments(ctx, bson.D{}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongo count: %w", err)
	}
	return n == 0, nil
}

func (s *MongoStore) Drop(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := s.coll.Drop(ctx); err != nil {
		return fmt.Errorf("mongo drop: %w", err)
	}
	return nil
}

func (s *MongoStore) Reset(ctx context.Context) error {
	if err := s.Drop(ctx); err != nil {
		return err
	}
	return s.setUp(ctx)
}

func (s *MongoStore) Info(ctx context.Context) (Info, error) {
	if err := s.check(ctx); err != nil {
		return Info{}, err
	}
	names, err := s.coll.Database().ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return Info{}, fmt.Errorf("mongo list collections: %w", err)
	}
	sort.Strings(names)
	indices, err := s.indices(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Backend:     BackendMongo,
		Database:    s.cfg.Database,
		Collections: names,
		Collection:  s.cfg.Collection,
		Indices:     indices,
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Disconnect(ctx)
}
