package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libjukebox-go/fault"
	"github.com/bitfsorg/libjukebox-go/store"
)

func makeID(seed byte) ID {
	var id ID
	for i := range id {
		id[i] = seed
	}
	return id
}

func TestParseID(t *testing.T) {
	id := makeID(0xAB)
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Equal(t, "abababab", id.Short())

	_, err = ParseID("zz")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = ParseID("abcd")
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestRoster(t *testing.T) {
	r := &Roster{Members: []Principal{"alice", "bob", "carol"}}
	assert.True(t, r.Contains("bob"))
	assert.True(t, r.Remove("bob"))
	assert.False(t, r.Remove("bob"))
	assert.Equal(t, []Principal{"alice", "carol"}, r.Members)
}

func TestSettlementPending(t *testing.T) {
	s := &Settlement{Lines: []PayoutLine{{Paid: true}, {Paid: false}, {Paid: false}}}
	assert.Equal(t, 1, s.Pending())
	s.Lines[1].Paid, s.Lines[2].Paid = true, true
	assert.Equal(t, -1, s.Pending())
}

func TestLoadTable(t *testing.T) {
	s := store.NewMemStore()
	tbl := &Table{
		ID:        makeID(1),
		Name:      "friday",
		Owner:     "alice",
		Current:   makeID(9),
		Queue:     []ID{makeID(2), makeID(3)},
		SkipVotes: map[Principal]bool{"bob": true},
		Active:    true,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
	b := store.NewBatch()
	require.NoError(t, Put(b, TableKey(tbl.ID), tbl))
	require.NoError(t, s.Commit(b))

	got, err := LoadTable(s, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, tbl.Queue, got.Queue)
	assert.Equal(t, tbl.SkipVotes, got.SkipVotes)
	assert.True(t, got.Playing())
	assert.NotZero(t, got.Version)

	_, err = LoadTable(s, makeID(7))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoadOptional(t *testing.T) {
	s := store.NewMemStore()
	u, version, err := LoadOptional[User](s, UserKey("nobody"))
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.Equal(t, store.Absent, version)
}

func TestDecode_Corrupt(t *testing.T) {
	var u User
	assert.ErrorIs(t, Decode([]byte{0xFF, 0x00}, &u), ErrDecode)
}
