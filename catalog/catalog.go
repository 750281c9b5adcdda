// Package catalog keeps the registries around the listening tables: users,
// artist accounts and minted tracks.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/bitfsorg/libjukebox-go/counter"
	"github.com/bitfsorg/libjukebox-go/identity"
	"github.com/bitfsorg/libjukebox-go/idgen"
	"github.com/bitfsorg/libjukebox-go/notify"
	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/store"
)

var log = logging.Logger("jukebox/catalog")

// InitialReputation is the reputation of a newly registered user.
const InitialReputation = 100

// Deps are the collaborators of a Catalog. Nil Auth and Sink fall back to
// identity.AllowAll and notify.Discard.
type Deps struct {
	Store    store.Store
	Counters *counter.Service
	IDs      *idgen.Generator
	Auth     identity.Authorizer
	Owners   identity.OwnershipVerifier
	Sink     notify.Sink
}

// Catalog manages users, artists and tracks.
type Catalog struct {
	store    store.Store
	counters *counter.Service
	ids      *idgen.Generator
	auth     identity.Authorizer
	owners   identity.OwnershipVerifier
	sink     notify.Sink
	now      func() time.Time
}

// New returns a catalog.
func New(d Deps) *Catalog {
	c := &Catalog{
		store:    d.Store,
		counters: d.Counters,
		ids:      d.IDs,
		auth:     d.Auth,
		owners:   d.Owners,
		sink:     d.Sink,
		now:      time.Now,
	}
	if c.auth == nil {
		c.auth = identity.AllowAll{}
	}
	if c.sink == nil {
		c.sink = notify.Discard{}
	}
	return c
}

// RegisterUser registers p after checking that p controls profileAsset.
// Each asset can back one user only.
func (c *Catalog) RegisterUser(ctx context.Context, p record.Principal, profileAsset, avatarURI string) error {
	if err := c.auth.RequireCaller(ctx, p); err != nil {
		return err
	}
	if p == "" || profileAsset == "" {
		return fmt.Errorf("%w: principal and profile asset are required", ErrInvalidInput)
	}
	if err := c.owners.VerifyOwnership(ctx, p, profileAsset); err != nil {
		return err
	}

	if ok, err := c.store.Has(record.UserKey(p)); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrUserExists, p)
	}
	if ok, err := c.store.Has(record.AssetOwnerKey(profileAsset)); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAssetBound, profileAsset)
	}

	u := &record.User{
		Principal:    p,
		ProfileAsset: profileAsset,
		AvatarURI:    avatarURI,
		Reputation:   InitialReputation,
		Active:       true,
		RegisteredAt: c.now().UTC(),
	}
	b := store.NewBatch().
		Expect(record.UserKey(p), store.Absent).
		Expect(record.AssetOwnerKey(profileAsset), store.Absent).
		Put(record.AssetOwnerKey(profileAsset), []byte(p))
	if err := record.Put(b, record.UserKey(p), u); err != nil {
		return err
	}
	// The user counter moves in the same commit so it never drifts from
	// the registered users.
	if _, err := c.counters.Increment(b, counter.User); err != nil {
		return err
	}
	if err := c.store.Commit(b); err != nil {
		return err
	}

	c.sink.Publish(ctx, notify.New(notify.UserRegistered, string(p), map[string]any{"asset": profileAsset}))
	log.Infow("user registered", "principal", p, "asset", profileAsset)
	return nil
}

// UpdateProfile changes the avatar of a registered user.
func (c *Catalog) UpdateProfile(ctx context.Context, p record.Principal, avatarURI string) error {
	if err := c.auth.RequireCaller(ctx, p); err != nil {
		return err
	}
	u, version, err := c.loadUser(p)
	if err != nil {
		return err
	}
	u.AvatarURI = avatarURI
	b := store.NewBatch().Expect(record.UserKey(p), version)
	if err := record.Put(b, record.UserKey(p), u); err != nil {
		return err
	}
	return c.store.Commit(b)
}

// User returns a registered user.
func (c *Catalog) User(p record.Principal) (*record.User, error) {
	u, _, err := c.loadUser(p)
	return u, err
}

// IsRegistered reports whether p is a registered, active user.
func (c *Catalog) IsRegistered(p record.Principal) (bool, error) {
	u, _, err := record.LoadOptional[record.User](c.store, record.UserKey(p))
	if err != nil {
		return false, err
	}
	return u != nil && u.Active, nil
}

func (c *Catalog) loadUser(p record.Principal) (*record.User, uint64, error) {
	u, version, err := record.Load[record.User](c.store, record.UserKey(p))
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", ErrUserNotFound, p)
	}
	return u, version, err
}

// RegisterArtist opens an artist account for a registered user.
func (c *Catalog) RegisterArtist(ctx context.Context, p record.Principal, name string) error {
	if err := c.auth.RequireCaller(ctx, p); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: artist name is required", ErrInvalidInput)
	}
	if _, _, err := c.loadUser(p); err != nil {
		return err
	}

	b := store.NewBatch().Expect(record.ArtistKey(p), store.Absent)
	if err := record.Put(b, record.ArtistKey(p), &record.Artist{Principal: p, Name: name}); err != nil {
		return err
	}
	if err := c.store.Commit(b); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: %s", ErrArtistExists, p)
		}
		return err
	}

	c.sink.Publish(ctx, notify.New(notify.ArtistRegistered, string(p), map[string]any{"name": name}))
	log.Infow("artist registered", "principal", p, "name", name)
	return nil
}

// Artist returns an artist account.
func (c *Catalog) Artist(p record.Principal) (*record.Artist, error) {
	a, _, err := record.Load[record.Artist](c.store, record.ArtistKey(p))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrArtistNotFound, p)
	}
	return a, err
}

// SetArtistVerified sets the verified flag of an artist. Only the platform
// admin may call it.
func (c *Catalog) SetArtistVerified(ctx context.Context, admin, artist record.Principal, verified bool) error {
	if err := c.auth.RequireCaller(ctx, admin); err != nil {
		return err
	}
	p, _, err := record.Load[record.Platform](c.store, record.PlatformKey())
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotInitialized
	}
	if err != nil {
		return err
	}
	if p.Admin != admin {
		return fmt.Errorf("%w: %s", ErrNotAdmin, admin)
	}

	a, version, err := record.Load[record.Artist](c.store, record.ArtistKey(artist))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrArtistNotFound, artist)
	}
	if err != nil {
		return err
	}
	a.Verified = verified
	b := store.NewBatch().Expect(record.ArtistKey(artist), version)
	if err := record.Put(b, record.ArtistKey(artist), a); err != nil {
		return err
	}
	return c.store.Commit(b)
}
