package docid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsOrdered(t *testing.T) {
	a := New()
	b := New()
	assert.Less(t, a.Compare(b), 0)
	assert.False(t, a.IsZero())
	assert.True(t, ID{}.IsZero())
}

func TestStringRoundTrip(t *testing.T) {
	id := New()
	s := id.String()
	assert.Len(t, s, 24)

	parsed, err := FromString(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = FromString("not-an-id")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestJSONAndScan(t *testing.T) {
	id := New()
	raw, err := json.Marshal(map[string]ID{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(raw))

	var scanned ID
	require.NoError(t, scanned.Scan([]byte(id.String())))
	assert.Equal(t, id, scanned)
	assert.Error(t, scanned.Scan(42))
}
