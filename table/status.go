package table

import (
	"context"

	"github.com/bitfsorg/libjukebox-go/notify"
	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/store"
)

// SetStatus opens or closes the table. Closing empties the now-playing slot
// and the queue: the playing request is settled as a royalty and every
// queued request is refunded.
func (e *Engine) SetStatus(ctx context.Context, owner record.Principal, id record.ID, active bool) error {
	if err := e.auth.RequireCaller(ctx, owner); err != nil {
		return err
	}
	t, err := e.loadTable(id)
	if err != nil {
		return err
	}
	if t.Owner != owner {
		return ErrNotOwner
	}
	if t.Active == active {
		return nil
	}

	b := store.NewBatch()
	finished := t.Current
	refunds := t.Queue
	if !active {
		if !finished.IsZero() {
			if err := e.planRoyalty(b, finished); err != nil {
				return err
			}
		}
		for _, reqID := range refunds {
			req, _, err := e.loadRequest(reqID)
			if err != nil {
				return err
			}
			b.Expect(record.SettlementKey(reqID), store.Absent)
			if err := record.Put(b, record.SettlementKey(reqID), e.ledger.PlanRefund(req)); err != nil {
				return err
			}
		}
		t.Current = record.ID{}
		t.Queue = nil
		t.SkipVotes = nil
	}
	t.Active = active

	if err := putTable(b, t); err != nil {
		return err
	}
	if err := e.commit("set_status", b); err != nil {
		return err
	}

	e.sink.Publish(ctx, notify.New(notify.TableStatusChanged, id.String(), map[string]any{"active": active}))
	log.Infow("table status changed", "table", id.Short(), "active", active, "refunds", len(refunds))
	if active {
		return nil
	}
	if !finished.IsZero() {
		e.metrics.Advanced("close")
		e.settle(ctx, finished)
	}
	for _, reqID := range refunds {
		e.settle(ctx, reqID)
	}
	return nil
}
