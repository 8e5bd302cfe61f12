package cidr

import (
	"net/netip"

	"github.com/gaissmai/bart"
)

// Unattributed is the marker for addresses no provider's prefix contains.
// It is a valid lookup outcome, not an error.
const Unattributed = "UNKNOWN"

// Provider is a named owner of a set of CIDR prefixes. The prefix set is
// taken as-is from the input data and may contain duplicates and overlaps.
type Provider struct {
	Name     string
	Prefixes []netip.Prefix
}

// Index answers IP-to-provider attribution queries over a fixed provider
// set. It is built once and immutable afterwards, so lookups are safe from
// any number of goroutines without locking.
//
// Attribution is longest-prefix-match. When providers declare the exact
// same prefix, the provider whose name sorts first lexicographically wins.
// That rule is a documented limitation of overlapping input data, chosen
// only because it is deterministic and reproducible across runs.
type Index struct {
	table     bart.Table[string]
	providers []Provider
}

// Build constructs an Index from the given providers. Prefixes are
// normalized (host bits masked off) and identical (provider, prefix) pairs
// are dropped, but distinct overlapping prefixes within one provider are
// retained so capacity merging still sees them.
func Build(providers []Provider) *Index {
	idx := &Index{}

	for _, p := range providers {
		seen := make(map[netip.Prefix]struct{}, len(p.Prefixes))
		kept := make([]netip.Prefix, 0, len(p.Prefixes))
		for _, pfx := range p.Prefixes {
			pfx = pfx.Masked()
			if _, dup := seen[pfx]; dup {
				continue
			}
			seen[pfx] = struct{}{}
			kept = append(kept, pfx)

			if cur, ok := idx.table.Get(pfx); ok {
				// Same prefix from two providers: lexicographically
				// first name wins, independent of input order.
				if p.Name < cur {
					idx.table.Insert(pfx, p.Name)
				}
				continue
			}
			idx.table.Insert(pfx, p.Name)
		}
		idx.providers = append(idx.providers, Provider{Name: p.Name, Prefixes: kept})
	}

	return idx
}

// Lookup attributes an address to its owning provider. The second return
// is false when no prefix contains the address; IPv4 addresses never match
// IPv6 prefixes and vice versa.
func (idx *Index) Lookup(ip netip.Addr) (string, bool) {
	return idx.table.Lookup(ip)
}

// LookupString parses and attributes an address in one call, mapping both
// parse failures and misses to Unattributed.
func (idx *Index) LookupString(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Unattributed
	}
	if name, ok := idx.Lookup(addr); ok {
		return name
	}
	return Unattributed
}

// Providers returns the normalized, deduplicated provider set in input
// order.
func (idx *Index) Providers() []Provider {
	return idx.providers
}
