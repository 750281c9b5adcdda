package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/bitfsorg/libjukebox-go/record"
)

// OwnershipVerifier reports whether a principal controls an asset.
// It returns nil when it does and ErrNotOwner when it does not.
type OwnershipVerifier interface {
	VerifyOwnership(ctx context.Context, p record.Principal, asset string) error
}

// StaticOwnership is an in-memory asset → owner table.
type StaticOwnership struct {
	mu     sync.RWMutex
	owners map[string]record.Principal
}

// NewStaticOwnership returns an empty table.
func NewStaticOwnership() *StaticOwnership {
	return &StaticOwnership{owners: make(map[string]record.Principal)}
}

// Assign records p as the owner of asset.
func (s *StaticOwnership) Assign(asset string, p record.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[asset] = p
}

func (s *StaticOwnership) VerifyOwnership(_ context.Context, p record.Principal, asset string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if owner, ok := s.owners[asset]; !ok || owner != p {
		return fmt.Errorf("%w: %s", ErrNotOwner, asset)
	}
	return nil
}

const (
	// defaultUpstream is the default recursive resolver for DNSSEC queries.
	defaultUpstream = "8.8.8.8:53"

	dnssecTimeout = 10 * time.Second
	edns0BufSize  = 4096

	proofLabel  = "_jukebox."
	proofPrefix = "jukebox="
)

// TXTResolver looks up TXT records.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DNSSECResolver resolves TXT records through a validating recursive
// resolver and requires the AD (Authenticated Data) flag on every answer.
type DNSSECResolver struct {
	Upstream string
	Timeout  time.Duration
}

// NewDNSSECResolver creates a resolver. An empty upstream uses 8.8.8.8:53.
func NewDNSSECResolver(upstream string) *DNSSECResolver {
	if upstream == "" {
		upstream = defaultUpstream
	}
	return &DNSSECResolver{Upstream: upstream, Timeout: dnssecTimeout}
}

// LookupTXT returns the TXT strings at name. A missing name yields an empty
// result, not an error.
func (r *DNSSECResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.RecursionDesired = true
	msg.SetEdns0(edns0BufSize, true)

	client := &dns.Client{Timeout: r.Timeout}
	resp, _, err := client.ExchangeContext(ctx, msg, r.Upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: TXT %s: %w", ErrDNSLookupFailed, name, err)
	}
	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("%w: TXT %s: rcode %s", ErrDNSLookupFailed, name, dns.RcodeToString[resp.Rcode])
	}
	if !resp.AuthenticatedData {
		return nil, fmt.Errorf("%w: AD flag not set for TXT %s", ErrDNSSECValidationFailed, name)
	}

	var txts []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			txts = append(txts, strings.Join(txt.Txt, ""))
		}
	}
	return txts, nil
}

// DNSProof treats an asset as a domain name and accepts a principal as its
// owner when _jukebox.<asset> carries a TXT record "jukebox=<principal>".
type DNSProof struct {
	Resolver TXTResolver
}

// Compile-time interface check.
var _ OwnershipVerifier = (*DNSProof)(nil)

func (d *DNSProof) VerifyOwnership(ctx context.Context, p record.Principal, asset string) error {
	if _, ok := dns.IsDomainName(asset); !ok || asset == "" {
		return fmt.Errorf("%w: %q is not a domain name", ErrInvalidAsset, asset)
	}
	name := proofLabel + strings.TrimSuffix(asset, ".")
	txts, err := d.Resolver.LookupTXT(ctx, name)
	if err != nil {
		return err
	}
	for _, txt := range txts {
		txt = strings.TrimSpace(txt)
		if v, ok := strings.CutPrefix(txt, proofPrefix); ok && strings.TrimSpace(v) == string(p) {
			return nil
		}
	}
	return fmt.Errorf("%w: no %s%s record at %s", ErrNotOwner, proofPrefix, p, name)
}
