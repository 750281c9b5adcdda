package store

import (
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Kind tags the entity a key belongs to. The tag is the first byte of every
// key, so records of different kinds never share a key space.
type Kind byte

const (
	KindPlatform Kind = iota + 1
	KindCounter
	KindUser
	KindAssetOwner
	KindArtist
	KindTrack
	KindArtistTrack
	KindTable
	KindRoster
	KindMembership
	KindUserTable
	KindRequest
	KindTableRequest
	KindSettlement
)

var kindNames = map[Kind]string{
	KindPlatform:     "platform",
	KindCounter:      "counter",
	KindUser:         "user",
	KindAssetOwner:   "asset_owner",
	KindArtist:       "artist",
	KindTrack:        "track",
	KindArtistTrack:  "artist_track",
	KindTable:        "table",
	KindRoster:       "roster",
	KindMembership:   "membership",
	KindUserTable:    "user_table",
	KindRequest:      "request",
	KindTableRequest: "table_request",
	KindSettlement:   "settlement",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Key is an encoded compound key: kind(1) followed by each part as
// len(2, big-endian) || bytes. Length prefixes keep compound keys injective,
// and a key built from the leading parts of another is a byte prefix of it.
type Key []byte

// NewKey encodes a key. It panics only if a part is longer than 65535 bytes,
// which no caller in this module produces; use BuildKey for untrusted input.
func NewKey(kind Kind, parts ...[]byte) Key {
	k, err := BuildKey(kind, parts...)
	if err != nil {
		panic(err)
	}
	return k
}

// BuildKey encodes a key, rejecting parts that do not fit the length prefix.
func BuildKey(kind Kind, parts ...[]byte) (Key, error) {
	size := 1
	for _, p := range parts {
		if len(p) > math.MaxUint16 {
			return nil, ErrKeyPartTooLong
		}
		size += 2 + len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, byte(kind))
	for _, p := range parts {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(p)))
		buf = append(buf, p...)
	}
	return Key(buf), nil
}

// Kind returns the key's kind tag.
func (k Key) Kind() Kind {
	if len(k) == 0 {
		return 0
	}
	return Kind(k[0])
}

// Parts decodes the key's components. It returns nil for a malformed key.
func (k Key) Parts() [][]byte {
	if len(k) == 0 {
		return nil
	}
	var parts [][]byte
	rest := k[1:]
	for len(rest) > 0 {
		if len(rest) < 2 {
			return nil
		}
		n := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < n {
			return nil
		}
		parts = append(parts, rest[:n])
		rest = rest[n:]
	}
	return parts
}

func (k Key) String() string {
	return k.Kind().String() + ":" + hex.EncodeToString(k[min(1, len(k)):])
}

// Uint32Part encodes v as a fixed-width big-endian key part so numeric parts
// sort in numeric order.
func Uint32Part(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}
