// Package idgen derives entity identifiers from the hashing and randomness
// services.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
	"golang.org/x/crypto/blake2b"

	"github.com/bitfsorg/libjukebox-go/record"
)

// NonceSize is the number of random bytes mixed into every request id.
const NonceSize = 16

var (
	// ErrUnknownHash indicates an unsupported hash algorithm name.
	ErrUnknownHash = errors.New("idgen: unknown hash algorithm")

	// ErrRandom indicates the randomness source failed.
	ErrRandom = errors.New("idgen: randomness unavailable")
)

// Hasher is a one-way, deterministic hash with a 32-byte output.
type Hasher interface {
	Sum(parts ...[]byte) record.ID
}

// Random supplies unpredictable bytes.
type Random interface {
	Read(p []byte) (int, error)
}

// SHA256 hashes with SHA-256.
type SHA256 struct{}

func (SHA256) Sum(parts ...[]byte) record.ID {
	var id record.ID
	copy(id[:], bsvhash.Sha256(concat(parts)))
	return id
}

// BLAKE2b hashes with BLAKE2b-256.
type BLAKE2b struct{}

func (BLAKE2b) Sum(parts ...[]byte) record.ID {
	return blake2b.Sum256(concat(parts))
}

func concat(parts [][]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// NewHasher returns the hasher for name ("sha256" or "blake2b").
func NewHasher(name string) (Hasher, error) {
	switch name {
	case "", "sha256":
		return SHA256{}, nil
	case "blake2b":
		return BLAKE2b{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHash, name)
	}
}

// Generator derives ids.
type Generator struct {
	hash Hasher
	rand io.Reader
}

// New returns a Generator. A nil rnd uses crypto/rand.
func New(h Hasher, rnd Random) *Generator {
	g := &Generator{hash: h, rand: rand.Reader}
	if rnd != nil {
		g.rand = rnd
	}
	return g
}

// Hasher returns the underlying hasher.
func (g *Generator) Hasher() Hasher { return g.hash }

// TrackID derives the id of the seq-th track minted by artist.
func (g *Generator) TrackID(artist record.Principal, seq uint32) record.ID {
	return g.hash.Sum([]byte("track"), lengthPrefixed(artist), be32(seq))
}

// TableID derives the id of the seq-th table created by owner.
func (g *Generator) TableID(owner record.Principal, seq uint32) record.ID {
	return g.hash.Sum([]byte("table"), lengthPrefixed(owner), be32(seq))
}

// RequestID derives a fresh, unpredictable request id for (table, track).
func (g *Generator) RequestID(table, track record.ID) (record.ID, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(g.rand, nonce); err != nil {
		return record.ID{}, fmt.Errorf("%w: %w", ErrRandom, err)
	}
	return g.hash.Sum(table[:], track[:], nonce), nil
}

func be32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func lengthPrefixed(p record.Principal) []byte {
	b := binary.BigEndian.AppendUint16(nil, uint16(len(p)))
	return append(b, p...)
}
