// Package identity answers the two identity questions the engine asks: is
// the caller who it claims to be, and does a principal control an asset.
package identity

import (
	"context"
	"encoding/hex"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"

	"github.com/bitfsorg/libjukebox-go/record"
)

// Authorizer checks that the caller of an operation is the given principal.
// It runs before every state-changing operation.
type Authorizer interface {
	RequireCaller(ctx context.Context, p record.Principal) error
}

// AllowAll trusts every caller. Use it when authentication happens upstream.
type AllowAll struct{}

func (AllowAll) RequireCaller(context.Context, record.Principal) error { return nil }

// Credential proves possession of a secp256k1 key: a DER signature over
// SHA-256(Challenge) by the compressed public key PubKey.
type Credential struct {
	PubKey    []byte
	Challenge []byte
	Signature []byte
}

type credentialKey struct{}

// WithCredential attaches the caller credential to ctx.
func WithCredential(ctx context.Context, c Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, c)
}

// CredentialFrom returns the credential attached to ctx.
func CredentialFrom(ctx context.Context) (Credential, bool) {
	c, ok := ctx.Value(credentialKey{}).(Credential)
	return c, ok
}

// PrincipalOf returns the principal controlled by pub: the hex HASH160 of
// its compressed encoding.
func PrincipalOf(pub *ec.PublicKey) record.Principal {
	return record.Principal(hex.EncodeToString(bsvhash.Hash160(pub.Compressed())))
}

// Sign produces a credential for challenge.
func Sign(priv *ec.PrivateKey, challenge []byte) (Credential, error) {
	sig, err := priv.Sign(bsvhash.Sha256(challenge))
	if err != nil {
		return Credential{}, fmt.Errorf("identity: sign challenge: %w", err)
	}
	return Credential{
		PubKey:    priv.PubKey().Compressed(),
		Challenge: challenge,
		Signature: sig.Serialize(),
	}, nil
}

// SignedCaller authenticates callers by the Credential in the context.
//
// Challenge, when set, is called with the credential challenge and must
// accept it; deployments use it to bind credentials to a session nonce.
type SignedCaller struct {
	Challenge func(challenge []byte) error
}

// Compile-time interface check.
var _ Authorizer = SignedCaller{}

func (s SignedCaller) RequireCaller(ctx context.Context, p record.Principal) error {
	c, ok := CredentialFrom(ctx)
	if !ok {
		return ErrNoCredential
	}
	pub, err := ec.PublicKeyFromBytes(c.PubKey)
	if err != nil {
		return fmt.Errorf("%w: public key: %w", ErrBadSignature, err)
	}
	sig, err := ec.ParseDERSignature(c.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if !sig.Verify(bsvhash.Sha256(c.Challenge), pub) {
		return ErrBadSignature
	}
	if s.Challenge != nil {
		if err := s.Challenge(c.Challenge); err != nil {
			return fmt.Errorf("%w: challenge: %w", ErrBadSignature, err)
		}
	}
	if got := PrincipalOf(pub); got != p {
		return fmt.Errorf("%w: signed by %s, need %s", ErrCallerMismatch, got, p)
	}
	return nil
}
