// Package record defines the persisted jukebox entities, their store keys and
// their encoding.
package record

import (
	"encoding/hex"
	"fmt"
	"time"
)

// IDSize is the length of an entity identifier (a 32-byte hash).
const IDSize = 32

// ID identifies a track, table or request.
type ID [IDSize]byte

// ParseID decodes a hex identifier.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if len(b) != IDSize {
		return id, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidID, IDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IsZero reports whether id is unset.
func (id ID) IsZero() bool { return id == ID{} }

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Short returns the first 8 hex characters, for logs.
func (id ID) Short() string { return id.String()[:8] }

// Principal identifies a user, artist or platform account.
type Principal string

// Platform holds the one-time initialization state.
type Platform struct {
	Admin         Principal
	Token         string    // payment asset handled by the rail
	Escrow        Principal // account the engine collects payments into
	FeeBps        uint32
	InitializedAt time.Time
}

// User is a registered principal.
type User struct {
	Principal    Principal
	ProfileAsset string
	AvatarURI    string
	Reputation   uint32
	Active       bool
	RegisteredAt time.Time
}

// Artist is the revenue account of a registered user.
type Artist struct {
	Principal      Principal
	Name           string
	RevenueBalance uint64
	Verified       bool
}

// Split is one entry of a royalty split table.
type Split struct {
	Principal Principal
	Percent   uint32
}

// Track is a minted, licensable track.
type Track struct {
	ID                ID
	Asset             string
	Title             string
	Artist            Principal
	Collaborators     []Principal
	PlayCount         uint32
	BasePrice         uint64
	LicensesRemaining uint32
	MetadataURI       string
	RoyaltySplit      []Split
	MintedAt          time.Time
}

// Table is a shared listening queue.
//
// Queue holds request ids, not track ids, so an advance knows exactly which
// request it fulfils. SkipVotes only holds entries while Current is set and
// is reset whenever Current changes.
type Table struct {
	ID              ID
	Name            string
	Owner           Principal
	Current         ID // zero when nothing is playing
	Queue           []ID
	SkipVotes       map[Principal]bool
	SkipThreshold   uint32
	PriceMultiplier uint32 // hundredths: 100 is 1.00x
	MemberCount     uint32
	Active          bool
	CreatedAt       time.Time

	// Version is the store version the record was loaded at.
	Version uint64
}

// Playing reports whether a track is in the now-playing slot.
func (t *Table) Playing() bool { return !t.Current.IsZero() }

// Membership is the per (table, principal) record.
type Membership struct {
	Table    ID
	Member   Principal
	JoinedAt time.Time
	IsAdmin  bool
}

// Roster is the ordered member list of a table.
type Roster struct {
	Members []Principal
}

// Contains reports whether p is on the roster.
func (r *Roster) Contains(p Principal) bool {
	for _, m := range r.Members {
		if m == p {
			return true
		}
	}
	return false
}

// Remove drops p from the roster, keeping order.
func (r *Roster) Remove(p Principal) bool {
	for i, m := range r.Members {
		if m == p {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

// TrackRequest is the immutable audit record of a paid play request.
// Only Fulfilled changes after creation.
type TrackRequest struct {
	ID         ID
	Requester  Principal
	Track      ID
	Table      ID
	Seq        uint32
	CreatedAt  time.Time
	AmountPaid uint64
	Fulfilled  bool
}

// SettlementKind distinguishes royalty payouts from refunds.
type SettlementKind uint8

const (
	SettlementRoyalty SettlementKind = iota + 1
	SettlementRefund
)

func (k SettlementKind) String() string {
	switch k {
	case SettlementRoyalty:
		return "royalty"
	case SettlementRefund:
		return "refund"
	default:
		return "unknown"
	}
}

// LineRole says why a payout line exists.
type LineRole uint8

const (
	RoleFee LineRole = iota + 1
	RoleShare
	RoleRefund
)

func (r LineRole) String() string {
	switch r {
	case RoleFee:
		return "fee"
	case RoleShare:
		return "share"
	case RoleRefund:
		return "refund"
	default:
		return "unknown"
	}
}

// PayoutLine is one transfer of a settlement. Credited records that the
// payee's artist account was credited when the line was paid.
type PayoutLine struct {
	Payee    Principal
	Amount   uint64
	Role     LineRole
	Paid     bool
	Credited bool
}

// Settlement is the payout plan for one request's payment. Lines are paid
// in order; a settlement is Completed once every line is paid.
type Settlement struct {
	Ref       ID
	Kind      SettlementKind
	Track     ID
	Amount    uint64
	Fee       uint64
	Residual  uint64
	Lines     []PayoutLine
	CreatedAt time.Time
	Completed bool
}

// Pending returns the index of the first unpaid line, or -1.
func (s *Settlement) Pending() int {
	for i := range s.Lines {
		if !s.Lines[i].Paid {
			return i
		}
	}
	return -1
}
