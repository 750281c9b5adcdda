package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libjukebox-go/counter"
	"github.com/bitfsorg/libjukebox-go/fault"
	"github.com/bitfsorg/libjukebox-go/identity"
	"github.com/bitfsorg/libjukebox-go/idgen"
	"github.com/bitfsorg/libjukebox-go/notify"
	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/royalty"
	"github.com/bitfsorg/libjukebox-go/store"
)

type fixture struct {
	store   store.Store
	owners  *identity.StaticOwnership
	events  *notify.Recorder
	catalog *Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemStore()
	f := &fixture{
		store:  s,
		owners: identity.NewStaticOwnership(),
		events: &notify.Recorder{},
	}
	f.catalog = New(Deps{
		Store:    s,
		Counters: counter.New(s),
		IDs:      idgen.New(idgen.SHA256{}, nil),
		Owners:   f.owners,
		Sink:     f.events,
	})
	return f
}

func (f *fixture) artist(t *testing.T, p record.Principal) {
	t.Helper()
	ctx := context.Background()
	f.owners.Assign("nft-"+string(p), p)
	require.NoError(t, f.catalog.RegisterUser(ctx, p, "nft-"+string(p), ""))
	require.NoError(t, f.catalog.RegisterArtist(ctx, p, "Artist "+string(p)))
}

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.owners.Assign("nft-1", "alice")
	f.owners.Assign("nft-2", "bob")

	require.NoError(t, f.catalog.RegisterUser(ctx, "alice", "nft-1", "ipfs://avatar"))
	u, err := f.catalog.User("alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(InitialReputation), u.Reputation)
	assert.True(t, u.Active)
	assert.Equal(t, "ipfs://avatar", u.AvatarURI)

	ok, err := f.catalog.IsRegistered("alice")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, f.catalog.RegisterUser(ctx, "alice", "nft-1", ""), ErrUserExists)
	assert.ErrorIs(t, f.catalog.RegisterUser(ctx, "carol", "nft-2", ""), identity.ErrNotOwner)

	// bob owns nft-2 but nft-1 is already bound to alice.
	f.owners.Assign("nft-1", "bob")
	assert.ErrorIs(t, f.catalog.RegisterUser(ctx, "bob", "nft-1", ""), ErrAssetBound)
	require.NoError(t, f.catalog.RegisterUser(ctx, "bob", "nft-2", ""))

	users, err := counter.New(f.store).Current(counter.User)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), users)

	assert.Equal(t, []notify.Kind{notify.UserRegistered, notify.UserRegistered}, f.events.Kinds())
}

func TestRegisterUser_CounterFailureRegistersNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.owners.Assign("nft-1", "alice")
	require.NoError(t, f.store.Commit(store.NewBatch().Put(record.CounterKey(string(counter.User)), []byte{1})))

	err := f.catalog.RegisterUser(ctx, "alice", "nft-1", "")
	assert.ErrorIs(t, err, counter.ErrCorrupt)

	ok, err := f.catalog.IsRegistered("alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.events.Events())
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.catalog.UpdateProfile(ctx, "ghost", "x"), ErrUserNotFound)

	f.owners.Assign("nft", "alice")
	require.NoError(t, f.catalog.RegisterUser(ctx, "alice", "nft", "old"))
	require.NoError(t, f.catalog.UpdateProfile(ctx, "alice", "new"))
	u, err := f.catalog.User("alice")
	require.NoError(t, err)
	assert.Equal(t, "new", u.AvatarURI)
}

func TestRegisterArtist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.catalog.RegisterArtist(ctx, "alice", "Alice"), ErrUserNotFound)
	f.artist(t, "alice")
	assert.ErrorIs(t, f.catalog.RegisterArtist(ctx, "alice", "Again"), ErrArtistExists)
	assert.ErrorIs(t, f.catalog.RegisterArtist(ctx, "alice", ""), fault.ErrValidation)

	a, err := f.catalog.Artist("alice")
	require.NoError(t, err)
	assert.Equal(t, "Artist alice", a.Name)
	assert.False(t, a.Verified)
}

func TestSetArtistVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.artist(t, "alice")

	assert.ErrorIs(t, f.catalog.SetArtistVerified(ctx, "admin", "alice", true), ErrNotInitialized)

	b := store.NewBatch()
	require.NoError(t, record.Put(b, record.PlatformKey(), &record.Platform{Admin: "admin"}))
	require.NoError(t, f.store.Commit(b))

	assert.ErrorIs(t, f.catalog.SetArtistVerified(ctx, "alice", "alice", true), ErrNotAdmin)
	assert.ErrorIs(t, f.catalog.SetArtistVerified(ctx, "admin", "bob", true), ErrArtistNotFound)
	require.NoError(t, f.catalog.SetArtistVerified(ctx, "admin", "alice", true))

	a, err := f.catalog.Artist("alice")
	require.NoError(t, err)
	assert.True(t, a.Verified)
}

func spec(title string) TrackSpec {
	return TrackSpec{
		Asset:        "asset-" + title,
		Title:        title,
		BasePrice:    100,
		Licenses:     10,
		RoyaltySplit: []record.Split{{Principal: "alice", Percent: 70}, {Principal: "bob", Percent: 30}},
	}
}

func TestMintTrack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.MintTrack(ctx, "alice", spec("one"))
	assert.ErrorIs(t, err, ErrArtistNotFound)

	f.artist(t, "alice")
	f.artist(t, "zed")

	bad := spec("bad")
	bad.RoyaltySplit = []record.Split{{Principal: "alice", Percent: 90}}
	_, err = f.catalog.MintTrack(ctx, "alice", bad)
	assert.ErrorIs(t, err, royalty.ErrInvalidSplit)

	id1, err := f.catalog.MintTrack(ctx, "alice", spec("one"))
	require.NoError(t, err)
	id2, err := f.catalog.MintTrack(ctx, "alice", spec("two"))
	require.NoError(t, err)
	idZ, err := f.catalog.MintTrack(ctx, "zed", spec("zed"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	tr, err := f.catalog.Track(id1)
	require.NoError(t, err)
	assert.Equal(t, "one", tr.Title)
	assert.Equal(t, record.Principal("alice"), tr.Artist)
	assert.Equal(t, uint32(10), tr.LicensesRemaining)

	tracks, err := f.catalog.ArtistTracks("alice")
	require.NoError(t, err)
	got := make(map[record.ID]bool)
	for _, tr := range tracks {
		got[tr.ID] = true
	}
	assert.Equal(t, map[record.ID]bool{id1: true, id2: true}, got)
	assert.NotContains(t, got, idZ)

	none, err := f.catalog.ArtistTracks("nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	last, ok := f.events.Last(notify.TrackMinted)
	require.True(t, ok)
	assert.Equal(t, idZ.String(), last.Subject)
}

func TestUpdateTrack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.artist(t, "alice")
	f.artist(t, "bob")

	id, err := f.catalog.MintTrack(ctx, "alice", spec("one"))
	require.NoError(t, err)

	price, licenses := uint64(250), uint32(0)
	assert.ErrorIs(t, f.catalog.UpdateTrack(ctx, "bob", id, TrackUpdate{BasePrice: &price}), ErrNotTrackOwner)
	assert.ErrorIs(t, f.catalog.UpdateTrack(ctx, "alice", record.ID{9}, TrackUpdate{}), ErrTrackNotFound)

	require.NoError(t, f.catalog.UpdateTrack(ctx, "alice", id, TrackUpdate{BasePrice: &price, Licenses: &licenses}))
	tr, err := f.catalog.Track(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), tr.BasePrice)
	assert.Zero(t, tr.LicensesRemaining)
	assert.Empty(t, tr.MetadataURI)
}
