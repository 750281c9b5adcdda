// Package table runs shared listening tables: the member roster, the FIFO
// request queue with its skip-vote consensus, and paid request intake.
//
// Every mutation reads the table record with its store version and commits
// one batch that expects that version, so concurrent writers to the same
// table serialize through ErrConflict. Tables never lock each other.
package table

import (
	"context"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/bitfsorg/libjukebox-go/counter"
	"github.com/bitfsorg/libjukebox-go/identity"
	"github.com/bitfsorg/libjukebox-go/idgen"
	"github.com/bitfsorg/libjukebox-go/metrics"
	"github.com/bitfsorg/libjukebox-go/notify"
	"github.com/bitfsorg/libjukebox-go/payment"
	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/royalty"
	"github.com/bitfsorg/libjukebox-go/store"
)

var log = logging.Logger("jukebox/table")

// Deps are the collaborators of an Engine. Nil Auth and Sink fall back to
// identity.AllowAll and notify.Discard; nil Metrics records nothing.
type Deps struct {
	Store    store.Store
	Counters *counter.Service
	IDs      *idgen.Generator
	Rail     payment.Rail
	Ledger   *royalty.Ledger
	Auth     identity.Authorizer
	Sink     notify.Sink
	Metrics  *metrics.Metrics
}

// Engine operates every table of a store.
type Engine struct {
	store    store.Store
	counters *counter.Service
	ids      *idgen.Generator
	rail     payment.Rail
	ledger   *royalty.Ledger
	auth     identity.Authorizer
	sink     notify.Sink
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New returns an engine.
func New(d Deps) *Engine {
	e := &Engine{
		store:    d.Store,
		counters: d.Counters,
		ids:      d.IDs,
		rail:     d.Rail,
		ledger:   d.Ledger,
		auth:     d.Auth,
		sink:     d.Sink,
		metrics:  d.Metrics,
		now:      time.Now,
	}
	if e.auth == nil {
		e.auth = identity.AllowAll{}
	}
	if e.sink == nil {
		e.sink = notify.Discard{}
	}
	return e
}

// CreateTable opens an active table owned by a registered user.
// priceMultiplier is in hundredths: 100 charges the track's base price.
func (e *Engine) CreateTable(ctx context.Context, owner record.Principal, name string, skipThreshold, priceMultiplier uint32) (record.ID, error) {
	if err := e.auth.RequireCaller(ctx, owner); err != nil {
		return record.ID{}, err
	}
	if name == "" {
		return record.ID{}, fmt.Errorf("%w: table name is required", ErrInvalidInput)
	}
	if err := e.requireRegistered(owner); err != nil {
		return record.ID{}, err
	}

	seq, err := e.counters.Next(counter.Table)
	if err != nil {
		return record.ID{}, err
	}
	t := &record.Table{
		ID:              e.ids.TableID(owner, seq),
		Name:            name,
		Owner:           owner,
		SkipThreshold:   skipThreshold,
		PriceMultiplier: priceMultiplier,
		Active:          true,
		CreatedAt:       e.now().UTC(),
		Version:         store.Absent,
	}
	b := store.NewBatch()
	if err := putTable(b, t); err != nil {
		return record.ID{}, err
	}
	if err := e.commit("create_table", b); err != nil {
		return record.ID{}, err
	}

	e.sink.Publish(ctx, notify.New(notify.TableCreated, t.ID.String(), map[string]any{
		"owner":     string(owner),
		"name":      name,
		"threshold": skipThreshold,
	}))
	log.Infow("table created", "table", t.ID.Short(), "owner", owner, "name", name)
	return t.ID, nil
}

// UpdateTable changes the name, skip threshold and price multiplier.
func (e *Engine) UpdateTable(ctx context.Context, owner record.Principal, id record.ID, name string, skipThreshold, priceMultiplier uint32) error {
	if err := e.auth.RequireCaller(ctx, owner); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidInput)
	}
	t, err := e.loadTable(id)
	if err != nil {
		return err
	}
	if t.Owner != owner {
		return ErrNotOwner
	}
	t.Name = name
	t.SkipThreshold = skipThreshold
	t.PriceMultiplier = priceMultiplier

	b := store.NewBatch()
	if err := putTable(b, t); err != nil {
		return err
	}
	if err := e.commit("update_table", b); err != nil {
		return err
	}
	e.sink.Publish(ctx, notify.New(notify.TableUpdated, id.String(), map[string]any{
		"name":       name,
		"threshold":  skipThreshold,
		"multiplier": priceMultiplier,
	}))
	return nil
}

// Table returns a table.
func (e *Engine) Table(id record.ID) (*record.Table, error) {
	return e.loadTable(id)
}

// Queue returns the queued request ids, head first.
func (e *Engine) Queue(id record.ID) ([]record.ID, error) {
	t, err := e.loadTable(id)
	if err != nil {
		return nil, err
	}
	return t.Queue, nil
}

// NowPlaying returns the request in the now-playing slot; ok is false when
// the table is empty.
func (e *Engine) NowPlaying(id record.ID) (req record.ID, ok bool, err error) {
	t, err := e.loadTable(id)
	if err != nil {
		return record.ID{}, false, err
	}
	return t.Current, t.Playing(), nil
}

// HasVotedToSkip reports whether p has a pending skip vote.
func (e *Engine) HasVotedToSkip(id record.ID, p record.Principal) (bool, error) {
	t, err := e.loadTable(id)
	if err != nil {
		return false, err
	}
	return t.SkipVotes[p], nil
}

func (e *Engine) loadTable(id record.ID) (*record.Table, error) {
	t, err := record.LoadTable(e.store, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, id.Short())
	}
	return t, err
}

func (e *Engine) loadPlatform() (*record.Platform, error) {
	p, _, err := record.Load[record.Platform](e.store, record.PlatformKey())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	return p, err
}

func (e *Engine) requireRegistered(p record.Principal) error {
	u, _, err := record.LoadOptional[record.User](e.store, record.UserKey(p))
	if err != nil {
		return err
	}
	if u == nil || !u.Active {
		return fmt.Errorf("%w: %s", ErrNotRegistered, p)
	}
	return nil
}

// putTable adds the table write, guarded by the version it was loaded at.
func putTable(b *store.Batch, t *record.Table) error {
	b.Expect(record.TableKey(t.ID), t.Version)
	return record.Put(b, record.TableKey(t.ID), t)
}

func (e *Engine) commit(op string, b *store.Batch) error {
	err := e.store.Commit(b)
	if errors.Is(err, store.ErrConflict) {
		e.metrics.Conflict(op)
		log.Debugw("commit conflict", "op", op)
	}
	return err
}
