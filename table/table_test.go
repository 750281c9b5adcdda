package table

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libjukebox-go/counter"
	"github.com/bitfsorg/libjukebox-go/fault"
	"github.com/bitfsorg/libjukebox-go/idgen"
	"github.com/bitfsorg/libjukebox-go/notify"
	"github.com/bitfsorg/libjukebox-go/payment"
	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/royalty"
	"github.com/bitfsorg/libjukebox-go/store"
)

const (
	owner = record.Principal("owner")
	alice = record.Principal("alice")
	bob   = record.Principal("bob")
	carol = record.Principal("carol")
)

var song = record.ID{0x01}

// flakyStore fails the next commit with a conflict when armed. Counters
// bypass it so only entity commits are affected.
//
// holdCommits makes every commit wait until a key has been read a number of
// times, which lines concurrent writers up on the same version.
type flakyStore struct {
	store.Store
	fail atomic.Bool

	mu       sync.Mutex
	holdKey  store.Key
	holdLeft int
	released chan struct{}
}

func (s *flakyStore) holdCommits(key store.Key, reads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdKey, s.holdLeft, s.released = key, reads, make(chan struct{})
}

func (s *flakyStore) Get(key store.Key) (store.Item, error) {
	s.mu.Lock()
	if s.holdLeft > 0 && bytes.Equal(key, s.holdKey) {
		s.holdLeft--
		if s.holdLeft == 0 {
			close(s.released)
		}
	}
	s.mu.Unlock()
	return s.Store.Get(key)
}

func (s *flakyStore) Commit(b *store.Batch) error {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released != nil {
		<-released
	}
	if s.fail.CompareAndSwap(true, false) {
		return store.ErrConflict
	}
	return s.Store.Commit(b)
}

type fixture struct {
	store  *flakyStore
	rail   *payment.Memory
	events *notify.Recorder
	ledger *royalty.Ledger
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := &flakyStore{Store: store.NewMemStore()}
	f := &fixture{
		store:  s,
		rail:   payment.NewMemory(),
		events: &notify.Recorder{},
	}
	f.ledger = royalty.New(royalty.Deps{Store: s, Rail: f.rail, Sink: f.events}, royalty.Options{})
	f.engine = New(Deps{
		Store:    s,
		Counters: counter.New(s.Store),
		IDs:      idgen.New(idgen.SHA256{}, nil),
		Rail:     f.rail,
		Ledger:   f.ledger,
		Sink:     f.events,
	})

	b := store.NewBatch()
	require.NoError(t, record.Put(b, record.PlatformKey(), &record.Platform{Admin: "admin", Escrow: "escrow", FeeBps: 250}))
	for _, p := range []record.Principal{owner, alice, bob, carol} {
		require.NoError(t, record.Put(b, record.UserKey(p), &record.User{Principal: p, Active: true}))
		f.rail.Fund(p, 10_000)
	}
	require.NoError(t, record.Put(b, record.ArtistKey("A"), &record.Artist{Principal: "A"}))
	require.NoError(t, record.Put(b, record.TrackKey(song), &record.Track{
		ID:                song,
		Title:             "song",
		Artist:            "A",
		BasePrice:         1000,
		LicensesRemaining: 5,
		RoyaltySplit:      []record.Split{{Principal: "A", Percent: 60}, {Principal: "B", Percent: 40}},
	}))
	require.NoError(t, s.Commit(b))
	return f
}

func (f *fixture) table(t *testing.T, threshold uint32, members ...record.Principal) record.ID {
	t.Helper()
	ctx := context.Background()
	id, err := f.engine.CreateTable(ctx, owner, "lounge", threshold, 100)
	require.NoError(t, err)
	for _, m := range members {
		require.NoError(t, f.engine.Join(ctx, id, m))
	}
	return id
}

func (f *fixture) request(t *testing.T, table record.ID, p record.Principal) record.ID {
	t.Helper()
	id, err := f.engine.RequestTrack(context.Background(), p, song, table)
	require.NoError(t, err)
	return id
}

func TestCreateTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateTable(ctx, "stranger", "x", 1, 100)
	assert.ErrorIs(t, err, ErrNotRegistered)
	_, err = f.engine.CreateTable(ctx, owner, "", 1, 100)
	assert.ErrorIs(t, err, fault.ErrValidation)

	id := f.table(t, 2)
	tb, err := f.engine.Table(id)
	require.NoError(t, err)
	assert.Equal(t, "lounge", tb.Name)
	assert.Equal(t, owner, tb.Owner)
	assert.True(t, tb.Active)
	assert.False(t, tb.Playing())
	assert.Zero(t, tb.MemberCount)

	other := f.table(t, 2)
	assert.NotEqual(t, id, other)

	require.NoError(t, f.engine.UpdateTable(ctx, owner, id, "den", 4, 150))
	assert.ErrorIs(t, f.engine.UpdateTable(ctx, alice, id, "mine", 1, 1), ErrNotOwner)
	tb, err = f.engine.Table(id)
	require.NoError(t, err)
	assert.Equal(t, "den", tb.Name)
	assert.Equal(t, uint32(4), tb.SkipThreshold)
	assert.Equal(t, uint32(150), tb.PriceMultiplier)

	_, err = f.engine.Table(record.ID{0xff})
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestJoinLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	id := f.table(t, 2)

	require.NoError(t, f.engine.Join(ctx, id, alice))
	require.NoError(t, f.engine.Join(ctx, id, bob))
	assert.ErrorIs(t, f.engine.Join(ctx, id, alice), ErrAlreadyMember)
	assert.ErrorIs(t, f.engine.Join(ctx, id, "stranger"), ErrNotRegistered)
	assert.ErrorIs(t, f.engine.Join(ctx, record.ID{0xff}, alice), ErrTableNotFound)

	members, err := f.engine.Members(id)
	require.NoError(t, err)
	assert.Equal(t, []record.Principal{alice, bob}, members)
	count, err := f.engine.MemberCount(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), count)

	first, err := f.engine.Membership(id, alice)
	require.NoError(t, err)
	assert.False(t, first.IsAdmin)

	tables, err := f.engine.UserTables(alice)
	require.NoError(t, err)
	assert.Equal(t, []record.ID{id}, tables)

	require.NoError(t, f.engine.Leave(ctx, id, alice))
	assert.ErrorIs(t, f.engine.Leave(ctx, id, alice), ErrMemberNotFound)
	ok, err := f.engine.IsMember(id, alice)
	require.NoError(t, err)
	assert.False(t, ok)
	members, err = f.engine.Members(id)
	require.NoError(t, err)
	assert.Equal(t, []record.Principal{bob}, members)
	tables, err = f.engine.UserTables(alice)
	require.NoError(t, err)
	assert.Empty(t, tables)

	require.NoError(t, f.engine.Join(ctx, id, alice))
	again, err := f.engine.Membership(id, alice)
	require.NoError(t, err)
	assert.True(t, again.JoinedAt.After(first.JoinedAt), "rejoining resets joined_at")
	count, err = f.engine.MemberCount(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), count)

	last, ok := f.events.Last(notify.MembershipChanged)
	require.True(t, ok)
	assert.Equal(t, true, last.Payload["joined"])
	assert.Equal(t, false, last.Payload["admin"])
}

func TestAdminAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 5, alice, bob)

	assert.ErrorIs(t, f.engine.GrantAdmin(ctx, alice, id, bob), ErrNotOwner)
	assert.ErrorIs(t, f.engine.GrantAdmin(ctx, owner, id, carol), ErrMemberNotFound)

	_, err := f.engine.Advance(ctx, alice, id)
	assert.ErrorIs(t, err, ErrNoAuthority)

	require.NoError(t, f.engine.GrantAdmin(ctx, owner, id, alice))
	ok, err := f.engine.IsAdmin(id, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = f.engine.Advance(ctx, alice, id)
	assert.NoError(t, err)

	require.NoError(t, f.engine.RevokeAdmin(ctx, owner, id, alice))
	_, err = f.engine.Advance(ctx, alice, id)
	assert.ErrorIs(t, err, ErrNoAuthority)
	ok, err = f.engine.IsMember(id, alice)
	require.NoError(t, err)
	assert.True(t, ok, "revoking keeps membership")

	_, err = f.engine.Advance(ctx, owner, id)
	assert.NoError(t, err, "owner has authority without a membership")

	_, ok = f.events.Last(notify.AdminChanged)
	assert.True(t, ok)
}

func TestQueue_FIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 2, alice)

	r1 := f.request(t, id, alice)
	r2 := f.request(t, id, alice)
	r3 := f.request(t, id, alice)
	queue, err := f.engine.Queue(id)
	require.NoError(t, err)
	assert.Equal(t, []record.ID{r1, r2, r3}, queue)

	for _, want := range []record.ID{r1, r2, r3} {
		got, err := f.engine.Advance(ctx, owner, id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		playing, ok, err := f.engine.NowPlaying(id)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, playing)
	}

	got, err := f.engine.Advance(ctx, owner, id)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
	_, ok, err := f.engine.NowPlaying(id)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, r := range []record.ID{r1, r2, r3} {
		req, err := f.engine.Request(r)
		require.NoError(t, err)
		assert.True(t, req.Fulfilled)
		assert.Equal(t, uint64(1000), req.AmountPaid)
	}

	tr, _, err := record.Load[record.Track](f.store, record.TrackKey(song))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), tr.PlayCount)
	assert.Equal(t, uint32(2), tr.LicensesRemaining)

	// Every finished play was settled: fee 25, shares 585/390 each time.
	assert.Equal(t, uint64(75), f.rail.Balance("admin"))
	assert.Equal(t, uint64(1755), f.rail.Balance("A"))
	assert.Equal(t, uint64(1170), f.rail.Balance("B"))
	assert.Zero(t, f.rail.Balance("escrow"))
	pending, err := f.ledger.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestQueue_LicensesSaturate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 2, alice)

	for range 6 {
		f.request(t, id, alice)
	}
	// Licenses are only consumed by plays, so all six requests were accepted.
	for range 6 {
		_, err := f.engine.Advance(ctx, owner, id)
		require.NoError(t, err)
	}
	tr, _, err := record.Load[record.Track](f.store, record.TrackKey(song))
	require.NoError(t, err)
	assert.Zero(t, tr.LicensesRemaining)
	assert.Equal(t, uint32(6), tr.PlayCount)

	_, err = f.engine.RequestTrack(ctx, alice, song, id)
	assert.ErrorIs(t, err, ErrNoLicenses)
}

func TestVote_ThresholdExactness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 2, alice, bob)

	_, err := f.engine.VoteToSkip(ctx, id, alice)
	assert.ErrorIs(t, err, ErrNothingPlaying)
	_, err = f.engine.VoteToSkip(ctx, id, carol)
	assert.ErrorIs(t, err, ErrNotMember)

	r1 := f.request(t, id, alice)
	r2 := f.request(t, id, bob)
	_, err = f.engine.Advance(ctx, owner, id)
	require.NoError(t, err)

	advanced, err := f.engine.VoteToSkip(ctx, id, alice)
	require.NoError(t, err)
	assert.False(t, advanced)
	advanced, err = f.engine.VoteToSkip(ctx, id, alice)
	require.NoError(t, err)
	assert.False(t, advanced, "a repeated vote does not count twice")

	voted, err := f.engine.HasVotedToSkip(id, alice)
	require.NoError(t, err)
	assert.True(t, voted)

	advanced, err = f.engine.VoteToSkip(ctx, id, bob)
	require.NoError(t, err)
	assert.True(t, advanced)

	playing, _, err := f.engine.NowPlaying(id)
	require.NoError(t, err)
	assert.Equal(t, r2, playing)
	assert.NotEqual(t, r1, playing)

	tb, err := f.engine.Table(id)
	require.NoError(t, err)
	assert.Empty(t, tb.SkipVotes, "votes never carry over")

	// The skipped request is still settled.
	s, err := f.ledger.Settlement(r1)
	require.NoError(t, err)
	assert.True(t, s.Completed)
}

func TestVote_ResetOnAuthorityAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 3, alice, bob)

	f.request(t, id, alice)
	f.request(t, id, alice)
	_, err := f.engine.Advance(ctx, owner, id)
	require.NoError(t, err)

	for _, p := range []record.Principal{alice, bob} {
		_, err := f.engine.VoteToSkip(ctx, id, p)
		require.NoError(t, err)
	}
	_, err = f.engine.Advance(ctx, owner, id)
	require.NoError(t, err)

	for _, p := range []record.Principal{alice, bob} {
		voted, err := f.engine.HasVotedToSkip(id, p)
		require.NoError(t, err)
		assert.False(t, voted)
	}
}

func TestVote_ZeroThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 0, alice)

	f.request(t, id, alice)
	_, err := f.engine.Advance(ctx, owner, id)
	require.NoError(t, err)

	advanced, err := f.engine.VoteToSkip(ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, advanced)
	_, ok, err := f.engine.NowPlaying(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeave_StripsVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 3, alice, bob)

	f.request(t, id, alice)
	_, err := f.engine.Advance(ctx, owner, id)
	require.NoError(t, err)
	_, err = f.engine.VoteToSkip(ctx, id, bob)
	require.NoError(t, err)

	require.NoError(t, f.engine.Leave(ctx, id, bob))
	voted, err := f.engine.HasVotedToSkip(id, bob)
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestVote_ConcurrentRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 2, alice, bob)

	f.request(t, id, alice)
	r2 := f.request(t, id, bob)
	_, err := f.engine.Advance(ctx, owner, id)
	require.NoError(t, err)

	// Both voters read the table at the same version before either commits.
	f.store.holdCommits(record.TableKey(id), 2)

	var (
		wg        sync.WaitGroup
		advances  atomic.Int32
		conflicts atomic.Int32
	)
	for _, p := range []record.Principal{alice, bob} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				advanced, err := f.engine.VoteToSkip(ctx, id, p)
				if errors.Is(err, fault.ErrConflict) {
					conflicts.Add(1)
					continue
				}
				if assert.NoError(t, err) && advanced {
					advances.Add(1)
				}
				return
			}
			t.Error("vote kept conflicting")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), conflicts.Load())
	assert.Equal(t, int32(1), advances.Load())
	playing, _, err := f.engine.NowPlaying(id)
	require.NoError(t, err)
	assert.Equal(t, r2, playing)
	queue, err := f.engine.Queue(id)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestRequestTrack_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 2, alice)

	_, err := f.engine.RequestTrack(ctx, alice, song, record.ID{0xff})
	assert.ErrorIs(t, err, ErrTableNotFound)
	_, err = f.engine.RequestTrack(ctx, carol, song, id)
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = f.engine.RequestTrack(ctx, alice, record.ID{0xee}, id)
	assert.ErrorIs(t, err, ErrTrackNotFound)

	poor := f.table(t, 2)
	require.NoError(t, f.engine.UpdateTable(ctx, owner, poor, "pricey", 2, 100_000))
	require.NoError(t, f.engine.Join(ctx, poor, carol))
	_, err = f.engine.RequestTrack(ctx, carol, song, poor)
	assert.ErrorIs(t, err, fault.ErrPaymentFailed)
	assert.Equal(t, uint64(10_000), f.rail.Balance(carol))
	queue, err := f.engine.Queue(poor)
	require.NoError(t, err)
	assert.Empty(t, queue)

	require.NoError(t, f.engine.SetStatus(ctx, owner, id, false))
	_, err = f.engine.RequestTrack(ctx, alice, song, id)
	assert.ErrorIs(t, err, ErrInactive)
}

func TestRequestTrack_PriceMultiplier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 2, alice)
	require.NoError(t, f.engine.UpdateTable(ctx, owner, id, "lounge", 2, 150))

	r := f.request(t, id, alice)
	req, err := f.engine.Request(r)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), req.AmountPaid)
	assert.False(t, req.Fulfilled)
	assert.Equal(t, uint64(8500), f.rail.Balance(alice))
	assert.Equal(t, uint64(1500), f.rail.Balance("escrow"))

	last, ok := f.events.Last(notify.TrackRequested)
	require.True(t, ok)
	assert.Equal(t, r.String(), last.Subject)
}

func TestRequestTrack_RefundOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 2, alice)

	f.store.fail.Store(true)
	_, err := f.engine.RequestTrack(ctx, alice, song, id)
	assert.ErrorIs(t, err, fault.ErrConflict)
	assert.True(t, fault.Retryable(err))

	assert.Equal(t, uint64(10_000), f.rail.Balance(alice), "charge refunded")
	assert.Zero(t, f.rail.Balance("escrow"))
	queue, err := f.engine.Queue(id)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestTableRequests(t *testing.T) {
	f := newFixture(t)
	id := f.table(t, 2, alice, bob)
	other := f.table(t, 2, alice)

	r1 := f.request(t, id, alice)
	f.request(t, other, alice)
	r2 := f.request(t, id, bob)
	r3 := f.request(t, id, alice)

	reqs, err := f.engine.TableRequests(id)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, r1, reqs[0].ID)
	assert.Equal(t, r2, reqs[1].ID)
	assert.Equal(t, r3, reqs[2].ID)
	assert.Equal(t, bob, reqs[1].Requester)
}

func TestSetStatus_DeactivateRefundsQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.table(t, 2, alice, bob)

	r1 := f.request(t, id, alice)
	r2 := f.request(t, id, bob)
	r3 := f.request(t, id, bob)
	_, err := f.engine.Advance(ctx, owner, id)
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.SetStatus(ctx, alice, id, false), ErrNotOwner)
	require.NoError(t, f.engine.SetStatus(ctx, owner, id, false))

	tb, err := f.engine.Table(id)
	require.NoError(t, err)
	assert.False(t, tb.Active)
	assert.False(t, tb.Playing())
	assert.Empty(t, tb.Queue)
	assert.Empty(t, tb.SkipVotes)

	royaltySettlement, err := f.ledger.Settlement(r1)
	require.NoError(t, err)
	assert.Equal(t, record.SettlementRoyalty, royaltySettlement.Kind)
	assert.True(t, royaltySettlement.Completed)
	for _, r := range []record.ID{r2, r3} {
		s, err := f.ledger.Settlement(r)
		require.NoError(t, err)
		assert.Equal(t, record.SettlementRefund, s.Kind)
		assert.True(t, s.Completed)
	}
	assert.Equal(t, uint64(9000), f.rail.Balance(alice))
	assert.Equal(t, uint64(10_000), f.rail.Balance(bob))
	assert.Zero(t, f.rail.Balance("escrow"))

	assert.ErrorIs(t, f.engine.Join(ctx, id, carol), ErrInactive)
	_, err = f.engine.Advance(ctx, owner, id)
	assert.ErrorIs(t, err, ErrInactive)

	require.NoError(t, f.engine.SetStatus(ctx, owner, id, true))
	require.NoError(t, f.engine.Join(ctx, id, carol))

	last, ok := f.events.Last(notify.TableStatusChanged)
	require.True(t, ok)
	assert.Equal(t, true, last.Payload["active"])
}
