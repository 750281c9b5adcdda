package identity

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libjukebox-go/fault"
)

var (
	// ErrCallerMismatch indicates the authenticated caller is not the required principal.
	ErrCallerMismatch = fmt.Errorf("identity: caller mismatch: %w", fault.ErrUnauthorized)

	// ErrNoCredential indicates the context carries no caller credential.
	ErrNoCredential = fmt.Errorf("identity: no credential: %w", fault.ErrUnauthorized)

	// ErrBadSignature indicates the credential signature does not verify.
	ErrBadSignature = fmt.Errorf("identity: bad signature: %w", fault.ErrUnauthorized)

	// ErrNotOwner indicates the principal does not control the asset.
	ErrNotOwner = fmt.Errorf("identity: asset not owned by principal: %w", fault.ErrUnauthorized)

	// ErrInvalidAsset indicates an asset reference the verifier cannot check.
	ErrInvalidAsset = fmt.Errorf("identity: invalid asset: %w", fault.ErrValidation)

	// ErrDNSLookupFailed indicates a DNS TXT lookup failed.
	ErrDNSLookupFailed = errors.New("identity: DNS lookup failed")

	// ErrDNSSECValidationFailed indicates the response lacked the AD flag.
	ErrDNSSECValidationFailed = errors.New("identity: DNSSEC validation failed")
)
