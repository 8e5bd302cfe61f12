package cidr

import (
	"math/big"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func prefixes(t *testing.T, ss ...string) []netip.Prefix {
	t.Helper()
	out := make([]netip.Prefix, 0, len(ss))
	for _, s := range ss {
		out = append(out, mustPrefix(t, s))
	}
	return out
}

func TestComputeCapacity_Empty(t *testing.T) {
	c := ComputeCapacity(nil)
	assert.Equal(t, uint64(0), c.IPv4)
	assert.Equal(t, 0, c.IPv6.Sign())
	assert.Equal(t, 0, c.Prefixes)
}

func TestComputeCapacity_Disjoint(t *testing.T) {
	c := ComputeCapacity(prefixes(t, "10.0.0.0/24", "10.0.2.0/24"))
	assert.Equal(t, uint64(512), c.IPv4)
}

func TestComputeCapacity_FullyOverlapping(t *testing.T) {
	// /25 nested in /24: 256, not 384.
	c := ComputeCapacity(prefixes(t, "10.0.0.0/24", "10.0.0.0/25"))
	assert.Equal(t, uint64(256), c.IPv4)
}

func TestComputeCapacity_Duplicates(t *testing.T) {
	c := ComputeCapacity(prefixes(t, "10.0.0.0/24", "10.0.0.0/24"))
	assert.Equal(t, uint64(256), c.IPv4)
}

func TestComputeCapacity_AdjacentMerge(t *testing.T) {
	// Adjacent runs merge into one; count is unchanged either way.
	c := ComputeCapacity(prefixes(t, "10.0.0.0/25", "10.0.0.128/25"))
	assert.Equal(t, uint64(256), c.IPv4)
}

func TestComputeCapacity_PartialOverlap(t *testing.T) {
	// [10.0.0.0/23] covers [10.0.0.0/24, 10.0.1.0/24]; adding a /24 that
	// sits inside must not inflate the total.
	c := ComputeCapacity(prefixes(t, "10.0.0.0/23", "10.0.1.0/24"))
	assert.Equal(t, uint64(512), c.IPv4)
}

func TestComputeCapacity_FamiliesNeverSummed(t *testing.T) {
	c := ComputeCapacity(prefixes(t, "10.0.0.0/24", "2001:db8::/64"))
	assert.Equal(t, uint64(256), c.IPv4)

	want := new(big.Int).Lsh(big.NewInt(1), 64)
	assert.Equal(t, 0, c.IPv6.Cmp(want))
	assert.Equal(t, 2, c.Prefixes)
}

func TestComputeCapacity_IPv6Overlap(t *testing.T) {
	c := ComputeCapacity(prefixes(t, "2001:db8::/64", "2001:db8::/96"))
	want := new(big.Int).Lsh(big.NewInt(1), 64)
	assert.Equal(t, 0, c.IPv6.Cmp(want))
}

func TestComputeCapacity_FullIPv4Space(t *testing.T) {
	c := ComputeCapacity(prefixes(t, "0.0.0.0/0"))
	assert.Equal(t, uint64(1)<<32, c.IPv4)
}
