package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfsorg/libjukebox-go/notify"
	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/store"
)

// VoteToSkip records p's vote against the playing track. Votes are a set:
// repeating a vote changes nothing. When the distinct votes reach the skip
// threshold the queue advances in the same commit, and advanced is true.
func (e *Engine) VoteToSkip(ctx context.Context, id record.ID, p record.Principal) (advanced bool, err error) {
	if err := e.auth.RequireCaller(ctx, p); err != nil {
		return false, err
	}
	t, err := e.loadTable(id)
	if err != nil {
		return false, err
	}
	b, err := e.requireMember(id, p)
	if err != nil {
		return false, err
	}
	if !t.Playing() {
		return false, ErrNothingPlaying
	}

	fresh := !t.SkipVotes[p]
	if t.SkipVotes == nil {
		t.SkipVotes = make(map[record.Principal]bool)
	}
	t.SkipVotes[p] = true
	tally := countVotes(t.SkipVotes)
	skip := uint32(tally) >= t.SkipThreshold
	if !fresh && !skip {
		return false, nil
	}

	var adv *advanceResult
	if skip {
		if adv, err = e.advance(b, t); err != nil {
			return false, err
		}
	}
	if err := putTable(b, t); err != nil {
		return false, err
	}
	if err := e.commit("vote", b); err != nil {
		return false, err
	}

	e.metrics.SkipVote()
	e.sink.Publish(ctx, notify.New(notify.SkipVoted, id.String(), map[string]any{
		"voter":     string(p),
		"votes":     tally,
		"threshold": t.SkipThreshold,
	}))
	log.Debugw("skip vote", "table", id.Short(), "voter", p, "votes", tally, "threshold", t.SkipThreshold)
	if adv != nil {
		e.afterAdvance(ctx, t, adv, "vote")
	}
	return skip, nil
}

func countVotes(votes map[record.Principal]bool) int {
	n := 0
	for _, v := range votes {
		if v {
			n++
		}
	}
	return n
}

// Advance moves the queue on by the caller's authority as owner or admin.
// It returns the request now playing, or the zero ID when the table is
// empty afterwards.
func (e *Engine) Advance(ctx context.Context, caller record.Principal, id record.ID) (record.ID, error) {
	if err := e.auth.RequireCaller(ctx, caller); err != nil {
		return record.ID{}, err
	}
	t, err := e.loadTable(id)
	if err != nil {
		return record.ID{}, err
	}
	b, err := e.authority(t, caller)
	if err != nil {
		return record.ID{}, err
	}
	if !t.Active {
		return record.ID{}, ErrInactive
	}

	adv, err := e.advance(b, t)
	if err != nil {
		return record.ID{}, err
	}
	if err := putTable(b, t); err != nil {
		return record.ID{}, err
	}
	if err := e.commit("advance", b); err != nil {
		return record.ID{}, err
	}
	e.afterAdvance(ctx, t, adv, "authority")
	return t.Current, nil
}

// advanceResult is what an advance leaves to do after its commit.
type advanceResult struct {
	finished record.ID // zero when nothing was playing
	started  record.ID // zero when the queue was empty
}

// advance pops the queue head into the now-playing slot and clears every
// skip vote. The popped request is marked fulfilled and its track's play
// count and licenses updated. A finished request gets its royalty
// settlement. All writes go into b.
func (e *Engine) advance(b *store.Batch, t *record.Table) (*advanceResult, error) {
	res := &advanceResult{finished: t.Current}

	if !res.finished.IsZero() {
		if err := e.planRoyalty(b, res.finished); err != nil {
			return nil, err
		}
	}

	t.Current = record.ID{}
	if len(t.Queue) > 0 {
		next := t.Queue[0]
		t.Queue = t.Queue[1:]
		if err := e.fulfil(b, next); err != nil {
			return nil, err
		}
		t.Current = next
		res.started = next
	}
	t.SkipVotes = nil
	return res, nil
}

// fulfil marks request id fulfilled and records the play on its track.
func (e *Engine) fulfil(b *store.Batch, id record.ID) error {
	req, rversion, err := e.loadRequest(id)
	if err != nil {
		return err
	}
	track, tversion, err := record.Load[record.Track](e.store, record.TrackKey(req.Track))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, req.Track.Short())
	}
	if err != nil {
		return err
	}

	req.Fulfilled = true
	track.PlayCount++
	if track.LicensesRemaining > 0 {
		track.LicensesRemaining--
	}

	b.Expect(record.RequestKey(id), rversion).Expect(record.TrackKey(track.ID), tversion)
	return putAll(b,
		entry{record.RequestKey(id), req},
		entry{record.TrackKey(track.ID), track},
	)
}

// planRoyalty adds the royalty settlement of finished request id to b.
func (e *Engine) planRoyalty(b *store.Batch, id record.ID) error {
	req, _, err := e.loadRequest(id)
	if err != nil {
		return err
	}
	track, _, err := record.Load[record.Track](e.store, record.TrackKey(req.Track))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, req.Track.Short())
	}
	if err != nil {
		return err
	}
	p, err := e.loadPlatform()
	if err != nil {
		return err
	}
	s, err := e.ledger.PlanRoyalty(p, req, track)
	if err != nil {
		return err
	}
	b.Expect(record.SettlementKey(id), store.Absent)
	return record.Put(b, record.SettlementKey(id), s)
}

func (e *Engine) loadRequest(id record.ID) (*record.TrackRequest, uint64, error) {
	req, version, err := record.Load[record.TrackRequest](e.store, record.RequestKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", ErrRequestNotFound, id.Short())
	}
	return req, version, err
}

// afterAdvance publishes the advance and pays out the finished request.
// A failed payout leaves its settlement pending; the advance stands.
func (e *Engine) afterAdvance(ctx context.Context, t *record.Table, adv *advanceResult, cause string) {
	e.metrics.Advanced(cause)
	e.sink.Publish(ctx, notify.New(notify.QueueAdvanced, t.ID.String(), map[string]any{
		"finished": idOrEmpty(adv.finished),
		"playing":  idOrEmpty(adv.started),
		"cause":    cause,
	}))
	log.Infow("queue advanced", "table", t.ID.Short(), "cause", cause,
		"finished", idOrEmpty(adv.finished), "playing", idOrEmpty(adv.started), "queued", len(t.Queue))

	if !adv.finished.IsZero() {
		e.settle(ctx, adv.finished)
	}
}

func (e *Engine) settle(ctx context.Context, ref record.ID) {
	if _, err := e.ledger.Settle(ctx, ref); err != nil {
		log.Warnw("settlement left pending", "ref", ref.Short(), "err", err)
	}
}

func idOrEmpty(id record.ID) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}
