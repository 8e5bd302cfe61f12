package hosters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMap(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosters.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_PipeDelimited(t *testing.T) {
	path := writeMap(t, "Organization|Ranges\nTransIP|192.0.2.0/24,198.51.100.0/24\nOVH|10.0.0.0/8\n")

	providers, stats, err := Load(path, true)
	require.NoError(t, err)
	require.Len(t, providers, 2)

	assert.Equal(t, "TransIP", providers[0].Name)
	assert.Len(t, providers[0].Prefixes, 2)
	assert.Equal(t, "OVH", providers[1].Name)
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, 3, stats.Prefixes)
	assert.Equal(t, 0, stats.Malformed)
}

func TestLoad_CommaDelimitedWithBracketedList(t *testing.T) {
	path := writeMap(t, "Organization,Ranges\nAcme,\"[\"\"192.0.2.0/24\"\", \"\"2001:db8::/32\"\"]\"\n")

	providers, _, err := Load(path, true)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Len(t, providers[0].Prefixes, 2)
}

func TestLoad_MalformedPrefixIsPerRecord(t *testing.T) {
	path := writeMap(t, "Organization|Ranges\nGood|192.0.2.0/24\nMessy|not-a-cidr,198.51.100.0/24\n")

	providers, stats, err := Load(path, true)
	require.NoError(t, err)
	require.Len(t, providers, 2)

	assert.Len(t, providers[1].Prefixes, 1)
	assert.Equal(t, 1, stats.Malformed)
}

func TestLoad_CommentsAndBlankNames(t *testing.T) {
	path := writeMap(t, "# hoster map\nOrganization|Ranges\nAcme|10.0.0.0/8\n|192.0.2.0/24\n")

	providers, stats, err := Load(path, true)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, 1, stats.Skipped)
}

func TestLoad_RepeatedProviderRowsMerge(t *testing.T) {
	path := writeMap(t, "Organization|Ranges\nAcme|10.0.0.0/8\nAcme|192.0.2.0/24\n")

	providers, _, err := Load(path, true)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Len(t, providers[0].Prefixes, 2)
}

func TestLoad_QuotedNamesNormalize(t *testing.T) {
	path := writeMap(t, "Organization|Ranges\n'Acme Hosting'|10.0.0.0/8\n")

	providers, _, err := Load(path, true)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "Acme Hosting", providers[0].Name)
}

func TestLoad_HeaderlessNamePrefix(t *testing.T) {
	path := writeMap(t, "Acme|10.0.0.0/8\nBeta|192.0.2.0/24\n")

	providers, _, err := Load(path, true)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "Acme", providers[0].Name)
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.csv"), true)
	require.Error(t, err)
}

func TestLoad_IPv6ExcludedByDefaultPolicy(t *testing.T) {
	path := writeMap(t, "Organization|Ranges\nAcme|192.0.2.0/24,2001:db8::/32\n")

	providers, stats, err := Load(path, false)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Len(t, providers[0].Prefixes, 1)
	// The gate has its own counter; it is not a skipped row.
	assert.Equal(t, 1, stats.IPv6Dropped)
	assert.Equal(t, 0, stats.Skipped)
}
