package table

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

// RequestTrack charges requester for a play of track at the table and
// appends the request to the queue. The charge is the track's base price
// scaled by the table's price multiplier and is held in the platform escrow
// until the request is settled. If the request cannot be committed the
// charge is refunded.
func (e *Engine) RequestTrack(ctx context.Context, requester record.Principal, trackID, tableID record.ID) (record.ID, error) {
	if err := e.auth.RequireCaller(ctx, requester); err != nil {
		return record.ID{}, err
	}
	t, err := e.loadTable(tableID)
	if err != nil {
		return record.ID{}, err
	}
	if !t.Active {
		return record.ID{}, ErrInactive
	}
	b, err := e.requireMember(tableID, requester)
	if err != nil {
		return record.ID{}, err
	}
	track, _, err := record.Load[record.Track](e.store, record.TrackKey(trackID))
	if errors.Is(err, store.ErrNotFound) {
		return record.ID{}, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID.Short())
	}
	if err != nil {
		return record.ID{}, err
	}
	if track.LicensesRemaining == 0 {
		return record.ID{}, fmt.Errorf("%w: %s", ErrNoLicenses, trackID.Short())
	}
	charge, err := royalty.Charge(track.BasePrice, t.PriceMultiplier)
	if err != nil {
		return record.ID{}, err
	}
	p, err := e.loadPlatform()
	if err != nil {
		return record.ID{}, err
	}

	seq, err := e.counters.Next(counter.Request)
	if err != nil {
		return record.ID{}, err
	}
	reqID, err := e.ids.RequestID(tableID, trackID)
	if err != nil {
		return record.ID{}, err
	}
	req := &record.TrackRequest{
		ID:         reqID,
		Requester:  requester,
		Track:      trackID,
		Table:      tableID,
		Seq:        seq,
		CreatedAt:  e.now().UTC(),
		AmountPaid: charge,
	}
	t.Queue = append(t.Queue, reqID)

	b.Expect(record.RequestKey(reqID), store.Absent).
		Put(record.TableRequestKey(tableID, seq, reqID), nil)
	if err := record.Put(b, record.RequestKey(reqID), req); err != nil {
		return record.ID{}, err
	}
	if err := putTable(b, t); err != nil {
		return record.ID{}, err
	}

	if err := e.rail.Transfer(ctx, requester, p.Escrow, charge); err != nil {
		log.Infow("request payment rejected", "table", tableID.Short(), "requester", requester, "amount", charge, "err", err)
		return record.ID{}, err
	}
	if err := e.commit("request", b); err != nil {
		if _, rerr := e.ledger.Refund(ctx, reqID, requester, charge); rerr != nil {
			log.Errorw("refunding uncommitted request", "request", reqID.Short(), "requester", requester, "amount", charge, "err", rerr)
			return record.ID{}, errors.Join(err, rerr)
		}
		return record.ID{}, err
	}

	e.metrics.RequestAccepted(charge)
	e.sink.Publish(ctx, notify.New(notify.TrackRequested, reqID.String(), map[string]any{
		"table":     tableID.String(),
		"track":     trackID.String(),
		"requester": string(requester),
		"amount":    charge,
	}))
	log.Infow("track requested", "table", tableID.Short(), "track", trackID.Short(),
		"request", reqID.Short(), "requester", requester, "amount", charge, "position", len(t.Queue))
	return reqID, nil
}

// Request returns a request record.
func (e *Engine) Request(id record.ID) (*record.TrackRequest, error) {
	req, _, err := e.loadRequest(id)
	return req, err
}

// TableRequests returns every request made at the table, oldest first.
func (e *Engine) TableRequests(id record.ID) ([]*record.TrackRequest, error) {
	if _, err := e.loadTable(id); err != nil {
		return nil, err
	}
	var reqs []*record.TrackRequest
	err := e.store.Scan(record.TableRequestsPrefix(id), func(k store.Key, _ store.Item) error {
		parts := k.Parts()
		if len(parts) != 3 || len(parts[2]) != record.IDSize {
			return fmt.Errorf("table: malformed index key %s", k)
		}
		req, err := e.Request(record.ID(parts[2]))
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
		return nil
	})
	return reqs, err
}
