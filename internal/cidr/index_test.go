package cidr

import (
	"net/netip"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	pfx, err := ParsePrefix(s)
	require.NoError(t, err)
	return pfx
}

func TestParsePrefix_Normalizes(t *testing.T) {
	pfx, err := ParsePrefix("192.0.2.77/24")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.0/24", pfx.String())

	pfx, err = ParsePrefix("2001:db8::1/32")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::/32", pfx.String())
}

func TestParsePrefix_BareAddress(t *testing.T) {
	pfx, err := ParsePrefix("203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9/32", pfx.String())
}

func TestParsePrefix_Malformed(t *testing.T) {
	for _, s := range []string{"", "not-a-cidr", "10.0.0.0/33", "300.1.1.1/8", "2001:db8::/129"} {
		_, err := ParsePrefix(s)
		require.Error(t, err, s)
		assert.True(t, eris.Is(err, ErrMalformedPrefix), s)
	}
}

func TestLookup_NonOverlapping(t *testing.T) {
	idx := Build([]Provider{
		{Name: "Alpha", Prefixes: []netip.Prefix{mustPrefix(t, "10.0.0.0/8")}},
		{Name: "Beta", Prefixes: []netip.Prefix{mustPrefix(t, "192.0.2.0/24")}},
	})

	assert.Equal(t, "Alpha", idx.LookupString("10.20.30.40"))
	assert.Equal(t, "Beta", idx.LookupString("192.0.2.200"))
	assert.Equal(t, Unattributed, idx.LookupString("203.0.113.1"))
	assert.Equal(t, Unattributed, idx.LookupString("garbage"))
}

func TestLookup_LongestPrefixWins(t *testing.T) {
	idx := Build([]Provider{
		{Name: "Coarse", Prefixes: []netip.Prefix{mustPrefix(t, "192.0.2.0/24")}},
		{Name: "Fine", Prefixes: []netip.Prefix{mustPrefix(t, "192.0.2.128/25")}},
	})

	assert.Equal(t, "Fine", idx.LookupString("192.0.2.200"))
	assert.Equal(t, "Coarse", idx.LookupString("192.0.2.1"))
}

func TestLookup_IdenticalPrefixTieBreak(t *testing.T) {
	// Identical prefixes from different providers resolve to the
	// lexicographically first name, regardless of input order.
	forward := Build([]Provider{
		{Name: "Zeta", Prefixes: []netip.Prefix{mustPrefix(t, "198.51.100.0/24")}},
		{Name: "Acme", Prefixes: []netip.Prefix{mustPrefix(t, "198.51.100.0/24")}},
	})
	reverse := Build([]Provider{
		{Name: "Acme", Prefixes: []netip.Prefix{mustPrefix(t, "198.51.100.0/24")}},
		{Name: "Zeta", Prefixes: []netip.Prefix{mustPrefix(t, "198.51.100.0/24")}},
	})

	assert.Equal(t, "Acme", forward.LookupString("198.51.100.7"))
	assert.Equal(t, "Acme", reverse.LookupString("198.51.100.7"))
}

func TestLookup_StableAcrossRebuilds(t *testing.T) {
	providers := []Provider{
		{Name: "Hoster-B", Prefixes: []netip.Prefix{mustPrefix(t, "10.1.0.0/16"), mustPrefix(t, "10.0.0.0/8")}},
		{Name: "Hoster-A", Prefixes: []netip.Prefix{mustPrefix(t, "10.1.0.0/16")}},
	}

	want := Build(providers).LookupString("10.1.2.3")
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, Build(providers).LookupString("10.1.2.3"))
	}
	assert.Equal(t, "Hoster-A", want)
}

func TestLookup_FamiliesIndexedSeparately(t *testing.T) {
	idx := Build([]Provider{
		{Name: "V4Only", Prefixes: []netip.Prefix{mustPrefix(t, "0.0.0.0/0")}},
	})

	assert.Equal(t, "V4Only", idx.LookupString("8.8.8.8"))
	assert.Equal(t, Unattributed, idx.LookupString("2001:db8::1"))
}

func TestBuild_DeduplicatesIdenticalPairs(t *testing.T) {
	idx := Build([]Provider{
		{Name: "Dup", Prefixes: []netip.Prefix{
			mustPrefix(t, "10.0.0.0/24"),
			mustPrefix(t, "10.0.0.128/24"), // normalizes to 10.0.0.0/24
			mustPrefix(t, "10.0.0.0/25"),   // overlap kept: distinct prefix
		}},
	})

	require.Len(t, idx.Providers(), 1)
	assert.Len(t, idx.Providers()[0].Prefixes, 2)
}

func TestParseRangeList_AllFormsEquivalent(t *testing.T) {
	want := []string{"10.0.0.0/8", "192.0.2.0/24"}

	forms := []string{
		`["10.0.0.0/8", "192.0.2.0/24"]`,
		`['10.0.0.0/8', '192.0.2.0/24']`,
		`10.0.0.0/8,192.0.2.0/24`,
		`10.0.0.0/8|192.0.2.0/24`,
	}
	for _, f := range forms {
		assert.Equal(t, want, ParseRangeList(f), f)
	}
}

func TestParseRangeList_Messy(t *testing.T) {
	assert.Empty(t, ParseRangeList(""))
	assert.Empty(t, ParseRangeList("   "))
	assert.Equal(t, []string{"10.0.0.0/8"}, ParseRangeList(` "10.0.0.0/8" `))
	assert.Equal(t, []string{"10.0.0.0/8"}, ParseRangeList(`[u'10.0.0.0/8']`))
	// Free text falls back to regex extraction.
	assert.Equal(t, []string{"192.0.2.0/24"}, ParseRangeList("ranges: 192.0.2.0/24 (approx)"))
}
