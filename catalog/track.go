package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfsorg/libjukebox-go/counter"
	"github.com/bitfsorg/libjukebox-go/notify"
	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/royalty"
	"github.com/bitfsorg/libjukebox-go/store"
)

// TrackSpec describes a track to mint.
type TrackSpec struct {
	Asset         string
	Title         string
	Collaborators []record.Principal
	BasePrice     uint64
	Licenses      uint32
	MetadataURI   string
	RoyaltySplit  []record.Split
}

// TrackUpdate holds the mutable track fields. Nil fields are left unchanged.
type TrackUpdate struct {
	BasePrice   *uint64
	Licenses    *uint32
	MetadataURI *string
}

// MintTrack creates a track owned by artist and indexes it under the artist.
func (c *Catalog) MintTrack(ctx context.Context, artist record.Principal, spec TrackSpec) (record.ID, error) {
	if err := c.auth.RequireCaller(ctx, artist); err != nil {
		return record.ID{}, err
	}
	if spec.Title == "" || spec.Asset == "" {
		return record.ID{}, fmt.Errorf("%w: title and asset are required", ErrInvalidInput)
	}
	if err := royalty.ValidateSplit(spec.RoyaltySplit); err != nil {
		return record.ID{}, err
	}
	if _, err := c.Artist(artist); err != nil {
		return record.ID{}, err
	}

	seq, err := c.counters.Next(counter.Track)
	if err != nil {
		return record.ID{}, err
	}
	t := &record.Track{
		ID:                c.ids.TrackID(artist, seq),
		Asset:             spec.Asset,
		Title:             spec.Title,
		Artist:            artist,
		Collaborators:     append([]record.Principal(nil), spec.Collaborators...),
		BasePrice:         spec.BasePrice,
		LicensesRemaining: spec.Licenses,
		MetadataURI:       spec.MetadataURI,
		RoyaltySplit:      append([]record.Split(nil), spec.RoyaltySplit...),
		MintedAt:          c.now().UTC(),
	}

	b := store.NewBatch().
		Expect(record.TrackKey(t.ID), store.Absent).
		Put(record.ArtistTrackKey(artist, t.ID), nil)
	if err := record.Put(b, record.TrackKey(t.ID), t); err != nil {
		return record.ID{}, err
	}
	if err := c.store.Commit(b); err != nil {
		return record.ID{}, err
	}

	c.sink.Publish(ctx, notify.New(notify.TrackMinted, t.ID.String(), map[string]any{
		"artist": string(artist),
		"title":  t.Title,
		"price":  t.BasePrice,
	}))
	log.Infow("track minted", "track", t.ID.Short(), "artist", artist, "title", t.Title, "licenses", t.LicensesRemaining)
	return t.ID, nil
}

// UpdateTrack changes price, licenses or metadata. Only the minting artist
// may call it.
func (c *Catalog) UpdateTrack(ctx context.Context, artist record.Principal, id record.ID, u TrackUpdate) error {
	if err := c.auth.RequireCaller(ctx, artist); err != nil {
		return err
	}
	t, version, err := record.Load[record.Track](c.store, record.TrackKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, id.Short())
	}
	if err != nil {
		return err
	}
	if t.Artist != artist {
		return fmt.Errorf("%w: %s", ErrNotTrackOwner, id.Short())
	}

	if u.BasePrice != nil {
		t.BasePrice = *u.BasePrice
	}
	if u.Licenses != nil {
		t.LicensesRemaining = *u.Licenses
	}
	if u.MetadataURI != nil {
		t.MetadataURI = *u.MetadataURI
	}
	b := store.NewBatch().Expect(record.TrackKey(id), version)
	if err := record.Put(b, record.TrackKey(id), t); err != nil {
		return err
	}
	return c.store.Commit(b)
}

// Track returns a track.
func (c *Catalog) Track(id record.ID) (*record.Track, error) {
	t, _, err := record.Load[record.Track](c.store, record.TrackKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, id.Short())
	}
	return t, err
}

// ArtistTracks returns the tracks minted by artist, in id order.
func (c *Catalog) ArtistTracks(artist record.Principal) ([]*record.Track, error) {
	var ids []record.ID
	err := c.store.Scan(record.ArtistTracksPrefix(artist), func(k store.Key, _ store.Item) error {
		parts := k.Parts()
		if len(parts) != 2 || len(parts[1]) != record.IDSize {
			return fmt.Errorf("catalog: malformed index key %s", k)
		}
		ids = append(ids, record.ID(parts[1]))
		return nil
	})
	if err != nil {
		return nil, err
	}

	tracks := make([]*record.Track, 0, len(ids))
	for _, id := range ids {
		t, err := c.Track(id)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}
