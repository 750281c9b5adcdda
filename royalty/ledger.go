// Package royalty splits request payments into a platform fee and
// per-collaborator shares, and pays them out through the payment rail.
//
// Every payout is driven by a durable Settlement record holding one line per
// transfer. A line is claimed (marked paid, crediting the payee's artist
// account when there is one) in a versioned commit before its transfer runs;
// a failed transfer releases the claim again. Interrupted settlements stay
// pending and are finished by Settle or SettlePending.
package royalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/bitfsorg/libjukebox-go/identity"
	"github.com/bitfsorg/libjukebox-go/metrics"
	"github.com/bitfsorg/libjukebox-go/notify"
	"github.com/bitfsorg/libjukebox-go/payment"
	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/store"
)

var log = logging.Logger("jukebox/royalty")

// commitAttempts bounds the CAS retry loops of the ledger.
const commitAttempts = 16

// Options tune payout behaviour.
type Options struct {
	// AccrueOnly credits shares owed to artist accounts without transferring
	// them; artists collect through Withdraw. Shares owed to principals
	// without an artist account are always transferred.
	AccrueOnly bool
}

// Ledger settles payments.
type Ledger struct {
	store   store.Store
	rail    payment.Rail
	auth    identity.Authorizer
	sink    notify.Sink
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time
}

// Deps are the collaborators of a Ledger. Nil Auth, Sink and Metrics fall
// back to identity.AllowAll, notify.Discard and no metrics.
type Deps struct {
	Store   store.Store
	Rail    payment.Rail
	Auth    identity.Authorizer
	Sink    notify.Sink
	Metrics *metrics.Metrics
}

// New returns a ledger.
func New(d Deps, opts Options) *Ledger {
	l := &Ledger{
		store:   d.Store,
		rail:    d.Rail,
		auth:    d.Auth,
		sink:    d.Sink,
		metrics: d.Metrics,
		opts:    opts,
		now:     time.Now,
	}
	if l.auth == nil {
		l.auth = identity.AllowAll{}
	}
	if l.sink == nil {
		l.sink = notify.Discard{}
	}
	return l
}

// Options returns the ledger options.
func (l *Ledger) Options() Options { return l.opts }

func (l *Ledger) platform() (*record.Platform, error) {
	p, _, err := record.Load[record.Platform](l.store, record.PlatformKey())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	return p, err
}

// PlanRoyalty builds the royalty settlement for a finished request. The
// caller commits it, usually in the batch that finishes the request.
func (l *Ledger) PlanRoyalty(p *record.Platform, req *record.TrackRequest, track *record.Track) (*record.Settlement, error) {
	d, err := Split(req.AmountPaid, p.FeeBps, track.RoyaltySplit)
	if err != nil {
		return nil, fmt.Errorf("royalty: track %s: %w", track.ID.Short(), err)
	}
	s := &record.Settlement{
		Ref:       req.ID,
		Kind:      record.SettlementRoyalty,
		Track:     track.ID,
		Amount:    d.Payment,
		Fee:       d.Fee,
		Residual:  d.Residual,
		CreatedAt: l.now().UTC(),
	}
	if d.Fee > 0 {
		s.Lines = append(s.Lines, record.PayoutLine{Payee: p.Admin, Amount: d.Fee, Role: record.RoleFee})
	}
	for _, sh := range d.Shares {
		if sh.Amount > 0 {
			s.Lines = append(s.Lines, record.PayoutLine{Payee: sh.Principal, Amount: sh.Amount, Role: record.RoleShare})
		}
	}
	s.Completed = len(s.Lines) == 0
	return s, nil
}

// PlanRefund builds a settlement returning a request's full payment to its
// requester.
func (l *Ledger) PlanRefund(req *record.TrackRequest) *record.Settlement {
	s := &record.Settlement{
		Ref:       req.ID,
		Kind:      record.SettlementRefund,
		Track:     req.Track,
		Amount:    req.AmountPaid,
		CreatedAt: l.now().UTC(),
	}
	if req.AmountPaid > 0 {
		s.Lines = []record.PayoutLine{{Payee: req.Requester, Amount: req.AmountPaid, Role: record.RoleRefund}}
	}
	s.Completed = len(s.Lines) == 0
	return s
}

// Distribute splits payment for ref according to split and pays it out. A
// settlement already recorded for ref is resumed instead of re-planned.
func (l *Ledger) Distribute(ctx context.Context, ref, track record.ID, amount uint64, split []record.Split) (*record.Settlement, error) {
	p, err := l.platform()
	if err != nil {
		return nil, err
	}
	s, err := l.PlanRoyalty(p,
		&record.TrackRequest{ID: ref, Track: track, AmountPaid: amount},
		&record.Track{ID: track, RoyaltySplit: split})
	if err != nil {
		return nil, err
	}
	if err := l.record(s); err != nil {
		return nil, err
	}
	return l.Settle(ctx, ref)
}

// Refund returns amount to requester under ref.
func (l *Ledger) Refund(ctx context.Context, ref record.ID, requester record.Principal, amount uint64) (*record.Settlement, error) {
	if err := l.record(l.PlanRefund(&record.TrackRequest{ID: ref, Requester: requester, AmountPaid: amount})); err != nil {
		return nil, err
	}
	return l.Settle(ctx, ref)
}

// record stores s unless a settlement for its ref already exists.
func (l *Ledger) record(s *record.Settlement) error {
	b := store.NewBatch().Expect(record.SettlementKey(s.Ref), store.Absent)
	if err := record.Put(b, record.SettlementKey(s.Ref), s); err != nil {
		return err
	}
	err := l.store.Commit(b)
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}

// Settle pays every unpaid line of the settlement for ref in order. It stops
// at the first failed transfer, leaving the settlement pending.
func (l *Ledger) Settle(ctx context.Context, ref record.ID) (*record.Settlement, error) {
	p, err := l.platform()
	if err != nil {
		return nil, err
	}
	key := record.SettlementKey(ref)

	for attempt := 0; attempt < commitAttempts; {
		s, version, err := record.Load[record.Settlement](l.store, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSettlementNotFound, ref.Short())
		}
		if err != nil {
			return nil, err
		}
		if s.Completed {
			return s, nil
		}

		i := s.Pending()
		if i < 0 {
			s.Completed = true
			done, err := l.commitSettlement(s, key, version, nil)
			if err != nil {
				return nil, err
			}
			if !done {
				attempt++
				continue
			}
			l.metrics.Settled(s.Kind.String(), true)
			l.sink.Publish(ctx, notify.New(notify.SettlementDone, ref.String(), map[string]any{
				"kind":     s.Kind.String(),
				"amount":   s.Amount,
				"residual": s.Residual,
			}))
			log.Infow("settlement completed", "ref", ref.Short(), "kind", s.Kind, "amount", s.Amount, "residual", s.Residual)
			return s, nil
		}

		claimed, transfer, err := l.claim(s, i, key, version)
		if err != nil {
			return nil, err
		}
		if !claimed {
			attempt++
			continue
		}

		line := s.Lines[i]
		if transfer {
			if err := l.rail.Transfer(ctx, p.Escrow, line.Payee, line.Amount); err != nil {
				l.metrics.Settled(s.Kind.String(), false)
				log.Warnw("payout failed", "ref", ref.Short(), "line", i, "payee", line.Payee, "amount", line.Amount, "err", err)
				if rerr := l.release(ref, i); rerr != nil {
					log.Errorw("releasing payout claim", "ref", ref.Short(), "line", i, "err", rerr)
					return nil, errors.Join(err, rerr)
				}
				return nil, err
			}
		}
		l.metrics.Distributed(line.Amount)
		log.Debugw("payout line paid", "ref", ref.Short(), "line", i, "role", line.Role, "payee", line.Payee,
			"amount", line.Amount, "credited", s.Lines[i].Credited, "transferred", transfer)
	}
	l.metrics.Conflict("settle")
	return nil, fmt.Errorf("%w: settlement %s", ErrContention, ref.Short())
}

// claim marks line i paid, crediting the payee's artist account for share
// lines. It reports whether the commit won and whether the line still needs
// a transfer.
func (l *Ledger) claim(s *record.Settlement, i int, key store.Key, version uint64) (claimed, transfer bool, err error) {
	line := &s.Lines[i]
	extra := store.NewBatch()
	transfer = true

	if line.Role == record.RoleShare {
		artist, aversion, err := record.LoadOptional[record.Artist](l.store, record.ArtistKey(line.Payee))
		if err != nil {
			return false, false, err
		}
		if artist != nil {
			if artist.RevenueBalance+line.Amount < artist.RevenueBalance {
				return false, false, fmt.Errorf("%w: balance of %s", ErrOverflow, line.Payee)
			}
			artist.RevenueBalance += line.Amount
			extra.Expect(record.ArtistKey(line.Payee), aversion)
			if err := record.Put(extra, record.ArtistKey(line.Payee), artist); err != nil {
				return false, false, err
			}
			line.Credited = true
			transfer = !l.opts.AccrueOnly
		}
	}
	line.Paid = true

	claimed, err = l.commitSettlement(s, key, version, extra)
	return claimed, transfer && line.Amount > 0, err
}

// release undoes the claim on line i after its transfer failed.
func (l *Ledger) release(ref record.ID, i int) error {
	key := record.SettlementKey(ref)
	for range commitAttempts {
		s, version, err := record.Load[record.Settlement](l.store, key)
		if err != nil {
			return err
		}
		line := &s.Lines[i]
		extra := store.NewBatch()
		if line.Credited {
			artist, aversion, err := record.Load[record.Artist](l.store, record.ArtistKey(line.Payee))
			if err != nil {
				return err
			}
			if artist.RevenueBalance < line.Amount {
				log.Warnw("artist balance below released credit", "artist", line.Payee,
					"balance", artist.RevenueBalance, "credit", line.Amount)
				artist.RevenueBalance = 0
			} else {
				artist.RevenueBalance -= line.Amount
			}
			extra.Expect(record.ArtistKey(line.Payee), aversion)
			if err := record.Put(extra, record.ArtistKey(line.Payee), artist); err != nil {
				return err
			}
		}
		line.Paid = false
		line.Credited = false
		done, err := l.commitSettlement(s, key, version, extra)
		if err != nil || done {
			return err
		}
	}
	return fmt.Errorf("%w: releasing settlement %s", ErrContention, ref.Short())
}

// commitSettlement writes s guarded by version plus the writes in extra. It
// returns false, nil on a version conflict.
func (l *Ledger) commitSettlement(s *record.Settlement, key store.Key, version uint64, extra *store.Batch) (bool, error) {
	b := store.NewBatch().Expect(key, version)
	if err := record.Put(b, key, s); err != nil {
		return false, err
	}
	err := l.store.Commit(b.Append(extra))
	if errors.Is(err, store.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

// SettlePending retries every incomplete settlement. It returns the number
// completed and the errors of those that are still pending.
func (l *Ledger) SettlePending(ctx context.Context) (int, error) {
	refs, err := l.Pending()
	if err != nil {
		return 0, err
	}
	var (
		completed int
		errs      []error
	)
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := l.Settle(ctx, ref); err != nil {
			errs = append(errs, fmt.Errorf("settlement %s: %w", ref.Short(), err))
			continue
		}
		completed++
	}
	return completed, errors.Join(errs...)
}

// Pending returns the refs of incomplete settlements in key order.
func (l *Ledger) Pending() ([]record.ID, error) {
	var refs []record.ID
	err := l.store.Scan(record.SettlementsPrefix(), func(_ store.Key, it store.Item) error {
		var s record.Settlement
		if err := record.Decode(it.Value, &s); err != nil {
			return err
		}
		if !s.Completed {
			refs = append(refs, s.Ref)
		}
		return nil
	})
	return refs, err
}

// Settlement returns the settlement recorded for ref.
func (l *Ledger) Settlement(ref record.ID) (*record.Settlement, error) {
	s, _, err := record.Load[record.Settlement](l.store, record.SettlementKey(ref))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSettlementNotFound, ref.Short())
	}
	return s, err
}

// Balance returns the withdrawable balance of an artist.
func (l *Ledger) Balance(artist record.Principal) (uint64, error) {
	a, _, err := record.Load[record.Artist](l.store, record.ArtistKey(artist))
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrNotArtist, artist)
	}
	if err != nil {
		return 0, err
	}
	return a.RevenueBalance, nil
}

// Withdraw zeroes the artist's balance and transfers it from escrow. If the
// transfer fails the balance is restored and the payment error returned.
func (l *Ledger) Withdraw(ctx context.Context, artist record.Principal) (uint64, error) {
	if err := l.auth.RequireCaller(ctx, artist); err != nil {
		return 0, err
	}
	p, err := l.platform()
	if err != nil {
		return 0, err
	}

	amount, err := l.adjustBalance(artist, func(a *record.Artist) (uint64, bool) {
		v := a.RevenueBalance
		a.RevenueBalance = 0
		return v, v > 0
	})
	if err != nil || amount == 0 {
		return 0, err
	}

	if err := l.rail.Transfer(ctx, p.Escrow, artist, amount); err != nil {
		log.Warnw("withdraw transfer failed, restoring balance", "artist", artist, "amount", amount, "err", err)
		_, rerr := l.adjustBalance(artist, func(a *record.Artist) (uint64, bool) {
			a.RevenueBalance += amount
			return amount, true
		})
		if rerr != nil {
			log.Errorw("restoring artist balance", "artist", artist, "amount", amount, "err", rerr)
			return 0, errors.Join(err, rerr)
		}
		return 0, err
	}

	l.metrics.Withdrawn(amount)
	l.sink.Publish(ctx, notify.New(notify.Withdrawal, string(artist), map[string]any{"amount": amount}))
	log.Infow("revenue withdrawn", "artist", artist, "amount", amount)
	return amount, nil
}

// adjustBalance applies fn to the artist account under CAS. fn returns a
// value to hand back and whether the account must be written.
func (l *Ledger) adjustBalance(artist record.Principal, fn func(*record.Artist) (uint64, bool)) (uint64, error) {
	key := record.ArtistKey(artist)
	for range commitAttempts {
		a, version, err := record.Load[record.Artist](l.store, key)
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrNotArtist, artist)
		}
		if err != nil {
			return 0, err
		}
		v, write := fn(a)
		if !write {
			return v, nil
		}
		b := store.NewBatch().Expect(key, version)
		if err := record.Put(b, key, a); err != nil {
			return 0, err
		}
		err = l.store.Commit(b)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return 0, err
		}
	}
	l.metrics.Conflict("withdraw")
	return 0, fmt.Errorf("%w: artist %s", ErrContention, artist)
}
