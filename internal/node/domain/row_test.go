package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(cols ...Column) *Row {
	r := NewRow("users", "k1")
	for _, c := range cols {
		r.Columns[c.Name] = c
	}
	return r
}

func TestRowMerge_NewestWins(t *testing.T) {
	a := row(Column{Name: "name", Value: []byte("old"), Timestamp: 1}, Column{Name: "age", Value: []byte("30"), Timestamp: 5})
	b := row(Column{Name: "name", Value: []byte("new"), Timestamp: 2}, Column{Name: "age", Value: []byte("29"), Timestamp: 4})

	changed := a.Merge(b)
	assert.True(t, changed)
	assert.Equal(t, "new", string(a.Columns["name"].Value))
	assert.Equal(t, "30", string(a.Columns["age"].Value))

	assert.False(t, a.Merge(b), "merging the same data twice is a no-op")
}

func TestRowMerge_TombstoneWinsTie(t *testing.T) {
	a := row(Column{Name: "c", Value: []byte("v"), Timestamp: 3})
	b := row(Column{Name: "c", Timestamp: 3, Deleted: true})
	a.Merge(b)
	assert.True(t, a.Columns["c"].Deleted)
}

func TestRowDigest(t *testing.T) {
	a := row(Column{Name: "x", Value: []byte("1"), Timestamp: 1}, Column{Name: "y", Value: []byte("2"), Timestamp: 1})
	b := a.Clone()
	assert.Equal(t, a.Digest(), b.Digest())

	b.Columns["y"] = Column{Name: "y", Value: []byte("2"), Timestamp: 2}
	assert.NotEqual(t, a.Digest(), b.Digest())

	// Column boundaries matter.
	c := row(Column{Name: "ab", Value: []byte("c"), Timestamp: 1})
	d := row(Column{Name: "a", Value: []byte("bc"), Timestamp: 1})
	assert.NotEqual(t, c.Digest(), d.Digest())
}

func TestRowDelta(t *testing.T) {
	merged := row(Column{Name: "x", Value: []byte("1"), Timestamp: 2}, Column{Name: "y", Value: []byte("2"), Timestamp: 1})
	replica := row(Column{Name: "y", Value: []byte("2"), Timestamp: 1})

	delta := merged.Delta(replica)
	require.NotNil(t, delta)
	assert.Len(t, delta.Columns, 1)
	assert.Contains(t, delta.Columns, "x")

	assert.Nil(t, merged.Delta(merged.Clone()))
	assert.Len(t, merged.Delta(nil).Columns, 2)
}

func TestCloneIsDeep(t *testing.T) {
	a := row(Column{Name: "x", Value: []byte("1"), Timestamp: 1})
	b := a.Clone()
	b.Columns["x"].Value[0] = '9'
	assert.Equal(t, "1", string(a.Columns["x"].Value))
}

func TestConsistencyLevel(t *testing.T) {
	lvl, err := ParseConsistencyLevel("quorum")
	require.NoError(t, err)
	assert.Equal(t, 2, lvl.Required(3))
	assert.Equal(t, 3, ConsistencyAll.Required(3))
	assert.Equal(t, 1, ConsistencyOne.Required(3))

	_, err = ParseConsistencyLevel("two")
	assert.Error(t, err)
}

func TestMutationRow(t *testing.T) {
	m := Mutation{Table: "users", Key: "k", Columns: []Column{
		{Name: "a", Value: []byte("1"), Timestamp: 2},
		{Name: "a", Value: []byte("0"), Timestamp: 1},
	}}
	require.NoError(t, m.Validate())
	assert.Equal(t, "1", string(m.Row().Columns["a"].Value))

	assert.ErrorIs(t, Mutation{Table: "t", Key: "k"}.Validate(), ErrEmptyMutation)
	assert.Error(t, Mutation{Key: "k"}.Validate())
}
