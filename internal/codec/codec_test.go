package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicetables-db/internal/dice"
)

func TestRoundTrip(t *testing.T) {
	table, err := dice.NewTable().Add(dice.Must(dice.NewDie(6)), 40)
	require.NoError(t, err)
	table, err = table.Add(dice.Must(dice.NewWeightedDie(map[int]int64{1: 3, 4: 1})), 2)
	require.NoError(t, err)

	blob, err := Encode(table)
	require.NoError(t, err)

	back, err := Decode(blob)
	require.NoError(t, err)
	assert.True(t, table.Equal(back))
	assert.Equal(t, table.String(), back.String())
}

func TestIdentityRoundTrip(t *testing.T) {
	blob, err := Encode(dice.NewTable())
	require.NoError(t, err)
	back, err := Decode(blob)
	require.NoError(t, err)
	assert.True(t, back.IsIdentity())
}

func TestDecodeCorrupt(t *testing.T) {
	_, err := Decode([]byte("definitely not zstd"))
	assert.ErrorIs(t, err, ErrCorrupt)
}
