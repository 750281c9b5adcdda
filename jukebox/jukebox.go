// Package jukebox wires the listening-table engine together: the store, id
// generation, payment rail, ledger, catalog and table engine, plus the
// one-time platform setup and fee administration.
package jukebox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bitfsorg/libjukebox-go/catalog"
	"github.com/bitfsorg/libjukebox-go/config"
	"github.com/bitfsorg/libjukebox-go/counter"
	"github.com/bitfsorg/libjukebox-go/fault"
	"github.com/bitfsorg/libjukebox-go/identity"
	"github.com/bitfsorg/libjukebox-go/idgen"
	"github.com/bitfsorg/libjukebox-go/metrics"
	"github.com/bitfsorg/libjukebox-go/notify"
	"github.com/bitfsorg/libjukebox-go/payment"
	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/royalty"
	"github.com/bitfsorg/libjukebox-go/store"
	"github.com/bitfsorg/libjukebox-go/table"
)

var log = logging.Logger("jukebox")

// Deps are the collaborators of a Service. Store and Rail are required.
// Nil Hasher uses SHA-256, nil Random uses crypto/rand, nil Auth allows every
// caller, nil Owners checks DNSSEC TXT proofs and nil Sink discards events.
type Deps struct {
	Store   store.Store
	Rail    payment.Rail
	Hasher  idgen.Hasher
	Random  idgen.Random
	Auth    identity.Authorizer
	Owners  identity.OwnershipVerifier
	Sink    notify.Sink
	Metrics *metrics.Metrics
	Ledger  royalty.Options
}

// Service is a fully wired jukebox platform.
type Service struct {
	store    store.Store
	counters *counter.Service
	ids      *idgen.Generator
	rail     payment.Rail
	auth     identity.Authorizer
	sink     notify.Sink
	metrics  *metrics.Metrics
	ledger   *royalty.Ledger
	catalog  *catalog.Catalog
	tables   *table.Engine
	bus      *notify.Bus
	now      func() time.Time
}

// New wires a Service from d.
func New(d Deps) *Service {
	if d.Hasher == nil {
		d.Hasher = idgen.SHA256{}
	}
	if d.Auth == nil {
		d.Auth = identity.AllowAll{}
	}
	if d.Owners == nil {
		d.Owners = &identity.DNSProof{Resolver: identity.NewDNSSECResolver("")}
	}
	if d.Sink == nil {
		d.Sink = notify.Discard{}
	}

	s := &Service{
		store:    d.Store,
		counters: counter.New(d.Store),
		ids:      idgen.New(d.Hasher, d.Random),
		rail:     d.Rail,
		auth:     d.Auth,
		sink:     d.Sink,
		metrics:  d.Metrics,
		now:      time.Now,
	}
	s.ledger = royalty.New(royalty.Deps{
		Store:   d.Store,
		Rail:    d.Rail,
		Auth:    d.Auth,
		Sink:    d.Sink,
		Metrics: d.Metrics,
	}, d.Ledger)
	s.catalog = catalog.New(catalog.Deps{
		Store:    d.Store,
		Counters: s.counters,
		IDs:      s.ids,
		Auth:     d.Auth,
		Owners:   d.Owners,
		Sink:     d.Sink,
	})
	s.tables = table.New(table.Deps{
		Store:    d.Store,
		Counters: s.counters,
		IDs:      s.ids,
		Rail:     d.Rail,
		Ledger:   s.ledger,
		Auth:     d.Auth,
		Sink:     d.Sink,
		Metrics:  d.Metrics,
	})
	return s
}

// OpenOptions supply the collaborators a configuration file cannot describe.
type OpenOptions struct {
	// Rail defaults to an empty in-memory rail.
	Rail payment.Rail

	Auth   identity.Authorizer
	Owners identity.OwnershipVerifier

	// Registerer receives the engine metrics. Nil disables registration.
	Registerer prometheus.Registerer

	// Sinks receive events in addition to the log sink.
	Sinks []notify.Sink
}

// Open builds a Service from cfg: it opens the configured store backend,
// selects the hash, sets log levels and starts the event bus.
func Open(cfg config.Config, opts OpenOptions) (*Service, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if err := logging.SetLogLevelRegex("jukebox.*", strings.ToLower(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("jukebox: log level: %w", err)
	}

	hasher, err := idgen.NewHasher(strings.ToLower(cfg.Hash))
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New(opts.Registerer)
	sinks := append([]notify.Sink{notify.LogSink{}}, opts.Sinks...)
	bus := notify.NewBus(cfg.EventBuffer, 0, m, sinks...)

	rail := opts.Rail
	if rail == nil {
		rail = payment.NewMemory()
	}
	owners := opts.Owners
	if owners == nil {
		owners = &identity.DNSProof{Resolver: identity.NewDNSSECResolver(cfg.DNSUpstream)}
	}

	s := New(Deps{
		Store:   st,
		Rail:    rail,
		Hasher:  hasher,
		Auth:    opts.Auth,
		Owners:  owners,
		Sink:    bus,
		Metrics: m,
		Ledger:  royalty.Options{AccrueOnly: cfg.AccrueOnly},
	})
	s.bus = bus

	log.Infow("jukebox opened",
		"backend", cfg.Backend,
		"path", config.StorePath(cfg),
		"hash", cfg.Hash,
		"accrueOnly", cfg.AccrueOnly,
	)
	return s, nil
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemStore(), nil
	case config.BackendBolt:
		s, err := store.OpenBoltStore(config.StorePath(cfg))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendBadger:
		s, err := store.OpenBadgerStore(config.StorePath(cfg))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, config.ErrInvalidBackend
	}
}

// Close drains the event bus and closes the store.
func (s *Service) Close() error {
	if s.bus != nil {
		s.bus.Close()
	}
	return s.store.Close()
}

// Catalog returns the user, artist and track registry.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Tables returns the table engine.
func (s *Service) Tables() *table.Engine { return s.tables }

// Ledger returns the royalty ledger.
func (s *Service) Ledger() *royalty.Ledger { return s.ledger }

// Counters returns the counter service.
func (s *Service) Counters() *counter.Service { return s.counters }

// Rail returns the payment rail.
func (s *Service) Rail() payment.Rail { return s.rail }

// Initialize records the platform admin, payment token, escrow account and
// fee. It succeeds once; later calls fail with ErrAlreadyInitialized.
func (s *Service) Initialize(ctx context.Context, admin record.Principal, token string, escrow record.Principal, feeBps uint32) error {
	if err := s.auth.RequireCaller(ctx, admin); err != nil {
		return err
	}
	if admin == "" || escrow == "" {
		return fmt.Errorf("%w: admin and escrow are required", ErrInvalidInput)
	}
	if err := validateFee(feeBps); err != nil {
		return err
	}

	ok, err := s.store.Has(record.PlatformKey())
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}

	p := &record.Platform{
		Admin:         admin,
		Token:         token,
		Escrow:        escrow,
		FeeBps:        feeBps,
		InitializedAt: s.now().UTC(),
	}
	b := store.NewBatch().Expect(record.PlatformKey(), store.Absent)
	if err := record.Put(b, record.PlatformKey(), p); err != nil {
		return err
	}
	if err := s.counters.Seed(b, counter.All...); err != nil {
		return err
	}
	if err := s.store.Commit(b); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		// A counter created meanwhile also conflicts; only a platform
		// record means another Initialize won.
		if ok, herr := s.store.Has(record.PlatformKey()); herr == nil && ok {
			return ErrAlreadyInitialized
		}
		s.metrics.Conflict("initialize")
		return err
	}

	log.Infow("platform initialized", "admin", admin, "escrow", escrow, "feeBps", feeBps)
	s.sink.Publish(ctx, notify.New(notify.PlatformUpdated, string(admin), map[string]any{
		"token":  token,
		"escrow": string(escrow),
		"feeBps": feeBps,
	}))
	return nil
}

// UpdatePlatformFee changes the platform fee. Only the admin may call it.
func (s *Service) UpdatePlatformFee(ctx context.Context, caller record.Principal, feeBps uint32) error {
	if err := s.auth.RequireCaller(ctx, caller); err != nil {
		return err
	}
	p, version, err := s.loadPlatform()
	if err != nil {
		return err
	}
	if caller != p.Admin {
		return ErrNotAdmin
	}
	if err := validateFee(feeBps); err != nil {
		return err
	}

	old := p.FeeBps
	p.FeeBps = feeBps
	b := store.NewBatch().Expect(record.PlatformKey(), version)
	if err := record.Put(b, record.PlatformKey(), p); err != nil {
		return err
	}
	if err := s.store.Commit(b); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.metrics.Conflict("update_platform_fee")
		}
		return err
	}

	log.Infow("platform fee updated", "old", old, "new", feeBps)
	s.sink.Publish(ctx, notify.New(notify.PlatformUpdated, string(caller), map[string]any{
		"feeBps": feeBps,
	}))
	return nil
}

// Platform returns the platform record.
func (s *Service) Platform() (*record.Platform, error) {
	p, _, err := s.loadPlatform()
	return p, err
}

func (s *Service) loadPlatform() (*record.Platform, uint64, error) {
	p, version, err := record.Load[record.Platform](s.store, record.PlatformKey())
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, ErrNotInitialized
	}
	return p, version, err
}

func validateFee(feeBps uint32) error {
	if err := royalty.ValidateFee(feeBps, royalty.PlatformFeeCap); err != nil {
		return fmt.Errorf("%w: %d bps", ErrFeeTooHigh, feeBps)
	}
	return nil
}

// Stats are the platform-wide counters.
type Stats struct {
	Tracks   uint32
	Tables   uint32
	Requests uint32
	Users    uint32
}

// Stats reads the counters.
func (s *Service) Stats() (Stats, error) {
	var st Stats
	for _, c := range []struct {
		name counter.Name
		dst  *uint32
	}{
		{counter.Track, &st.Tracks},
		{counter.Table, &st.Tables},
		{counter.Request, &st.Requests},
		{counter.User, &st.Users},
	} {
		v, err := s.counters.Current(c.name)
		if err != nil {
			return Stats{}, err
		}
		*c.dst = v
	}
	return st, nil
}

// Retry runs fn until it succeeds, fails with a non-conflict error or has
// been attempted attempts times. Attempts below 1 run fn once.
func Retry(ctx context.Context, attempts int, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := range attempts {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(ctx); err == nil || !fault.Retryable(err) {
			return err
		}
		log.Debugw("retrying after conflict", "attempt", i+1, "err", err)
	}
	return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
}
