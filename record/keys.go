package record

import (
	"github.com/bitfsorg/libjukebox-go/store"
)

var platformKey = store.NewKey(store.KindPlatform)

// PlatformKey is the key of the singleton platform record.
func PlatformKey() store.Key { return platformKey }

// CounterKey is the key of an id counter.
func CounterKey(name string) store.Key {
	return store.NewKey(store.KindCounter, []byte(name))
}

func UserKey(p Principal) store.Key {
	return store.NewKey(store.KindUser, []byte(p))
}

// AssetOwnerKey maps a profile asset to the user bound to it.
func AssetOwnerKey(asset string) store.Key {
	return store.NewKey(store.KindAssetOwner, []byte(asset))
}

func ArtistKey(p Principal) store.Key {
	return store.NewKey(store.KindArtist, []byte(p))
}

func TrackKey(id ID) store.Key {
	return store.NewKey(store.KindTrack, id[:])
}

// ArtistTrackKey indexes a track under its minting artist.
func ArtistTrackKey(p Principal, track ID) store.Key {
	return store.NewKey(store.KindArtistTrack, []byte(p), track[:])
}

// ArtistTracksPrefix is the scan prefix of an artist's tracks.
func ArtistTracksPrefix(p Principal) store.Key {
	return store.NewKey(store.KindArtistTrack, []byte(p))
}

func TableKey(id ID) store.Key {
	return store.NewKey(store.KindTable, id[:])
}

func RosterKey(table ID) store.Key {
	return store.NewKey(store.KindRoster, table[:])
}

func MembershipKey(table ID, p Principal) store.Key {
	return store.NewKey(store.KindMembership, table[:], []byte(p))
}

// UserTableKey indexes a table under a member.
func UserTableKey(p Principal, table ID) store.Key {
	return store.NewKey(store.KindUserTable, []byte(p), table[:])
}

// UserTablesPrefix is the scan prefix of a user's tables.
func UserTablesPrefix(p Principal) store.Key {
	return store.NewKey(store.KindUserTable, []byte(p))
}

func RequestKey(id ID) store.Key {
	return store.NewKey(store.KindRequest, id[:])
}

// TableRequestKey indexes a request under its table in creation order.
func TableRequestKey(table ID, seq uint32, req ID) store.Key {
	return store.NewKey(store.KindTableRequest, table[:], store.Uint32Part(seq), req[:])
}

// TableRequestsPrefix is the scan prefix of a table's requests.
func TableRequestsPrefix(table ID) store.Key {
	return store.NewKey(store.KindTableRequest, table[:])
}

func SettlementKey(ref ID) store.Key {
	return store.NewKey(store.KindSettlement, ref[:])
}

// SettlementsPrefix is the scan prefix of all settlements.
func SettlementsPrefix() store.Key {
	return store.NewKey(store.KindSettlement)
}
