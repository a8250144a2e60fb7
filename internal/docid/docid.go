// Package docid defines the identifier every stored table document carries.
//
// IDs are 12-byte object ids: unique, totally ordered, and in creation order
// when minted by one process. They print as 24 hex characters.
package docid

import (
	"bytes"
	"database/sql/driver"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrInvalidID = errors.New("docid: invalid id")

type ID [12]byte

// New mints a fresh id.
func New() ID {
	return ID(primitive.NewObjectID())
}

// FromString parses the 24 character hex form.
func FromString(s string) (ID, error) {
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(oid), nil
}

func FromObjectID(oid primitive.ObjectID) ID {
	return ID(oid)
}

func (id ID) ObjectID() primitive.ObjectID {
	return primitive.ObjectID(id)
}

func (id ID) String() string {
	return primitive.ObjectID(id).Hex()
}

func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := FromString(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value stores the id as its hex string.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	}
	return fmt.Errorf("%w: cannot scan %T", ErrInvalidID, src)
}
