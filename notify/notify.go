// Package notify publishes best-effort state-change notices.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("jukebox/notify")

// Kind names a notice.
type Kind string

const (
	TrackMinted        Kind = "track_minted"
	TrackRequested     Kind = "track_requested"
	TableCreated       Kind = "table_created"
	TableUpdated       Kind = "table_updated"
	MembershipChanged  Kind = "membership_changed"
	AdminChanged       Kind = "admin_changed"
	TableStatusChanged Kind = "table_status_changed"
	SkipVoted          Kind = "skip_voted"
	QueueAdvanced      Kind = "queue_advanced"
	SettlementDone     Kind = "settlement_completed"
	Withdrawal         Kind = "revenue_withdrawn"
	UserRegistered     Kind = "user_registered"
	ArtistRegistered   Kind = "artist_registered"
	PlatformUpdated    Kind = "platform_updated"
)

// Event is one notice: a kind, the id of the entity it concerns and a small
// payload.
type Event struct {
	ID      string
	Kind    Kind
	Subject string
	Payload map[string]any
	At      time.Time
}

// Sink receives notices. Publish never fails; delivery is not guaranteed.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// New builds an event.
func New(kind Kind, subject string, payload map[string]any) Event {
	return Event{Kind: kind, Subject: subject, Payload: payload}
}

// stamp fills in the id and timestamp if unset.
func stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}

// Discard drops every notice.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}

// LogSink writes notices to the structured log.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, e Event) {
	e = stamp(e)
	log.Infow("event", "id", e.ID, "kind", e.Kind, "subject", e.Subject, "payload", e.Payload)
}

// Recorder keeps every notice in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, stamp(e))
}

// Events returns the recorded notices in publication order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded notices.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Last returns the most recent notice of kind.
func (r *Recorder) Last(kind Kind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}
