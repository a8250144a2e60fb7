package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dicetables-db/internal/docid"
)

func TestMatches(t *testing.T) {
	id := docid.New()
	doc := Document{IDField: id, "group": "Die(6)", "score": int64(30), "Die(6)": int64(5)}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"exact int from int", Filter{"score": 30}, true},
		{"exact string", Filter{"group": "Die(6)"}, true},
		{"by id", Filter{IDField: id}, true},
		{"lte", Filter{"Die(6)": Lte(5)}, true},
		{"lt fails", Filter{"Die(6)": Lt(5)}, false},
		{"kind mismatch", Filter{"score": "30"}, false},
		{"missing column", Filter{"Die(4)": Lte(3)}, false},
		{"ne missing column", Filter{"Die(4)": Ne(3)}, false},
		{"ne other kind", Filter{"score": Ne("x")}, true},
		{"all must hold", Filter{"group": "Die(6)", "score": Gt(30)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matches(doc, tt.filter))
		})
	}
}

func TestCheckProjection(t *testing.T) {
	mode, err := checkProjection(nil)
	assert.NoError(t, err)
	assert.Equal(t, projectAll, mode)

	mode, err = checkProjection(Projection{"a": true, "b": true})
	assert.NoError(t, err)
	assert.Equal(t, projectInclude, mode)

	mode, err = checkProjection(Projection{"a": false})
	assert.NoError(t, err)
	assert.Equal(t, projectExclude, mode)

	_, err = checkProjection(Projection{"a": true, "b": false})
	assert.ErrorIs(t, err, ErrBadProjection)
}

func TestProjectCopiesBytes(t *testing.T) {
	blob := []byte{1, 2}
	out := project(Document{"b": blob}, nil, projectAll)
	out["b"].([]byte)[0] = 9
	assert.Equal(t, byte(1), blob[0])
}
