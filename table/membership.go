package table

import (
	"context"
	"fmt"

	"github.com/bitfsorg/libjukebox-go/notify"
	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/store"
)

// Join adds p to the table roster as a non-admin member.
func (e *Engine) Join(ctx context.Context, id record.ID, p record.Principal) error {
	if err := e.auth.RequireCaller(ctx, p); err != nil {
		return err
	}
	t, err := e.loadTable(id)
	if err != nil {
		return err
	}
	if !t.Active {
		return ErrInactive
	}
	if err := e.requireRegistered(p); err != nil {
		return err
	}
	m, mversion, err := e.membership(id, p)
	if err != nil {
		return err
	}
	if m != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyMember, p)
	}
	roster, rversion, err := e.roster(id)
	if err != nil {
		return err
	}

	m = &record.Membership{Table: id, Member: p, JoinedAt: e.now().UTC()}
	roster.Members = append(roster.Members, p)
	t.MemberCount++

	b := store.NewBatch().
		Expect(record.MembershipKey(id, p), mversion).
		Expect(record.RosterKey(id), rversion).
		Put(record.UserTableKey(p, id), nil)
	if err := putAll(b,
		entry{record.MembershipKey(id, p), m},
		entry{record.RosterKey(id), roster},
	); err != nil {
		return err
	}
	if err := putTable(b, t); err != nil {
		return err
	}
	if err := e.commit("join", b); err != nil {
		return err
	}

	e.publishMembership(ctx, id, p, true, false)
	log.Infow("member joined", "table", id.Short(), "member", p, "members", t.MemberCount)
	return nil
}

// Leave removes p from the table, dropping any skip vote p cast.
func (e *Engine) Leave(ctx context.Context, id record.ID, p record.Principal) error {
	if err := e.auth.RequireCaller(ctx, p); err != nil {
		return err
	}
	t, err := e.loadTable(id)
	if err != nil {
		return err
	}
	m, mversion, err := e.membership(id, p)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, p)
	}
	roster, rversion, err := e.roster(id)
	if err != nil {
		return err
	}

	roster.Remove(p)
	delete(t.SkipVotes, p)
	if t.MemberCount > 0 {
		t.MemberCount--
	}

	b := store.NewBatch().
		Expect(record.MembershipKey(id, p), mversion).
		Expect(record.RosterKey(id), rversion).
		Delete(record.MembershipKey(id, p)).
		Delete(record.UserTableKey(p, id))
	if err := record.Put(b, record.RosterKey(id), roster); err != nil {
		return err
	}
	if err := putTable(b, t); err != nil {
		return err
	}
	if err := e.commit("leave", b); err != nil {
		return err
	}

	e.publishMembership(ctx, id, p, false, false)
	log.Infow("member left", "table", id.Short(), "member", p, "members", t.MemberCount)
	return nil
}

// GrantAdmin gives member p table authority. Only the owner may call it.
func (e *Engine) GrantAdmin(ctx context.Context, owner record.Principal, id record.ID, p record.Principal) error {
	return e.setAdmin(ctx, owner, id, p, true)
}

// RevokeAdmin takes table authority away from member p. Membership stays.
func (e *Engine) RevokeAdmin(ctx context.Context, owner record.Principal, id record.ID, p record.Principal) error {
	return e.setAdmin(ctx, owner, id, p, false)
}

func (e *Engine) setAdmin(ctx context.Context, owner record.Principal, id record.ID, p record.Principal, admin bool) error {
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
	m, mversion, err := e.membership(id, p)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, p)
	}
	if m.IsAdmin == admin {
		return nil
	}
	m.IsAdmin = admin

	b := store.NewBatch().Expect(record.MembershipKey(id, p), mversion)
	if err := record.Put(b, record.MembershipKey(id, p), m); err != nil {
		return err
	}
	if err := e.commit("set_admin", b); err != nil {
		return err
	}

	e.sink.Publish(ctx, notify.New(notify.AdminChanged, id.String(), map[string]any{
		"member": string(p),
		"admin":  admin,
	}))
	log.Infow("admin changed", "table", id.Short(), "member", p, "admin", admin)
	return nil
}

// IsMember reports whether p belongs to the table.
func (e *Engine) IsMember(id record.ID, p record.Principal) (bool, error) {
	m, _, err := e.membership(id, p)
	return m != nil, err
}

// IsAdmin reports whether p is a member holding the admin flag.
func (e *Engine) IsAdmin(id record.ID, p record.Principal) (bool, error) {
	m, _, err := e.membership(id, p)
	return m != nil && m.IsAdmin, err
}

// Membership returns the membership of p, or ErrMemberNotFound.
func (e *Engine) Membership(id record.ID, p record.Principal) (*record.Membership, error) {
	m, _, err := e.membership(id, p)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, p)
	}
	return m, nil
}

// Members returns the roster in join order.
func (e *Engine) Members(id record.ID) ([]record.Principal, error) {
	if _, err := e.loadTable(id); err != nil {
		return nil, err
	}
	r, _, err := e.roster(id)
	if err != nil {
		return nil, err
	}
	return r.Members, nil
}

// MemberCount returns the cached member count of the table.
func (e *Engine) MemberCount(id record.ID) (uint32, error) {
	t, err := e.loadTable(id)
	if err != nil {
		return 0, err
	}
	return t.MemberCount, nil
}

// UserTables returns the ids of the tables p belongs to.
func (e *Engine) UserTables(p record.Principal) ([]record.ID, error) {
	var ids []record.ID
	err := e.store.Scan(record.UserTablesPrefix(p), func(k store.Key, _ store.Item) error {
		parts := k.Parts()
		if len(parts) != 2 || len(parts[1]) != record.IDSize {
			return fmt.Errorf("table: malformed index key %s", k)
		}
		ids = append(ids, record.ID(parts[1]))
		return nil
	})
	return ids, err
}

// authority checks that p is the owner or an admin member. The returned
// batch expects the admin membership to be unchanged at commit.
func (e *Engine) authority(t *record.Table, p record.Principal) (*store.Batch, error) {
	b := store.NewBatch()
	if t.Owner == p {
		return b, nil
	}
	m, mversion, err := e.membership(t.ID, p)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.IsAdmin {
		return nil, fmt.Errorf("%w: %s", ErrNoAuthority, p)
	}
	return b.Expect(record.MembershipKey(t.ID, p), mversion), nil
}

// requireMember returns a batch expecting p's membership to be unchanged.
func (e *Engine) requireMember(id record.ID, p record.Principal) (*store.Batch, error) {
	m, mversion, err := e.membership(id, p)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, p)
	}
	return store.NewBatch().Expect(record.MembershipKey(id, p), mversion), nil
}

func (e *Engine) membership(id record.ID, p record.Principal) (*record.Membership, uint64, error) {
	return record.LoadOptional[record.Membership](e.store, record.MembershipKey(id, p))
}

func (e *Engine) roster(id record.ID) (*record.Roster, uint64, error) {
	r, version, err := record.LoadOptional[record.Roster](e.store, record.RosterKey(id))
	if err != nil {
		return nil, 0, err
	}
	if r == nil {
		r = &record.Roster{}
	}
	return r, version, nil
}

func (e *Engine) publishMembership(ctx context.Context, id record.ID, p record.Principal, joined, admin bool) {
	e.sink.Publish(ctx, notify.New(notify.MembershipChanged, id.String(), map[string]any{
		"member": string(p),
		"joined": joined,
		"admin":  admin,
	}))
}

type entry struct {
	key   store.Key
	value any
}

func putAll(b *store.Batch, entries ...entry) error {
	for _, en := range entries {
		if err := record.Put(b, en.key, en.value); err != nil {
			return err
		}
	}
	return nil
}
