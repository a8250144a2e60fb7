package store

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"dicetables-db/internal/docid"
)

// toBSON converts a document for the bson-encoded adapters.
func toBSON(doc Document) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if id, ok := v.(docid.ID); ok {
			out[k] = id.ObjectID()
			continue
		}
		out[k] = v
	}
	return out
}

func fromBSON(m bson.M) Document {
	out := make(Document, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func marshalDocument(doc Document) ([]byte, error) {
	raw, err := bson.Marshal(toBSON(doc))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

func unmarshalDocument(raw []byte) (Document, error) {
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return fromBSON(m), nil
}

// collectionMeta is what the key-value adapters keep per collection.
type collectionMeta struct {
	Format  string     `bson:"format"`
	Indices [][]string `bson:"indices"`
}

const metaFormat = "dicetables/1"

func unmarshalMeta(raw []byte) (collectionMeta, error) {
	var m collectionMeta
	if err := bson.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrIncompatibleSchema, err)
	}
	if m.Format != metaFormat {
		return m, fmt.Errorf("%w: format %q", ErrIncompatibleSchema, m.Format)
	}
	return m, nil
}
