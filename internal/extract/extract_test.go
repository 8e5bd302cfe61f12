package extract

import (
	"bufio"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGzLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	for _, l := range lines {
		_, err := zw.Write([]byte(l + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func readGzLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	var out []string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRun_ExtractsDomainIPPairs(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()

	writeGzLines(t, filepath.Join(inDir, "dump1.jsonl.gz"), []string{
		`{"rrname": "www.example.com.", "rdata": ["192.0.2.10", "192.0.2.11"]}`,
		`{"rrname": "mail.example.co.uk.", "rdata": "198.51.100.1"}`,
		`{"rrname": "", "rdata": ["192.0.2.1"]}`,
		`{"rrname": "noips.example.com.", "rdata": ["2001:db8::1", "not-an-ip"]}`,
		`{"rrname": "bad..domain.com.", "rdata": ["192.0.2.2"]}`,
		`this is not json`,
	})

	stats, err := Run(context.Background(), filepath.Join(inDir, "*.gz"), outDir, 2)
	require.NoError(t, err)
	require.Len(t, stats, 1)

	st := stats[0]
	assert.Equal(t, 6, st.Lines)
	assert.Equal(t, 3, st.Written)
	assert.Equal(t, 1, st.SkippedNoFQDN)
	assert.Equal(t, 1, st.SkippedDomain)
	assert.Equal(t, 1, st.SkippedNoIPs)
	assert.Equal(t, 1, st.Errors)

	lines := readGzLines(t, filepath.Join(outDir, "2lds_dump1.jsonl.gz"))
	assert.Equal(t, []string{
		"example.com|192.0.2.10",
		"example.com|192.0.2.11",
		"example.co.uk|198.51.100.1",
	}, lines)
}

func TestRun_NoMatchesIsNotAnError(t *testing.T) {
	stats, err := Run(context.Background(), filepath.Join(t.TempDir(), "*.gz"), t.TempDir(), 1)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestRun_MissingGlobIsFatal(t *testing.T) {
	_, err := Run(context.Background(), "", t.TempDir(), 1)
	require.Error(t, err)
}

func TestRun_HonorsCancellation(t *testing.T) {
	inDir := t.TempDir()
	writeGzLines(t, filepath.Join(inDir, "dump1.jsonl.gz"), []string{
		`{"rrname": "www.example.com.", "rdata": ["192.0.2.10"]}`,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, filepath.Join(inDir, "*.gz"), t.TempDir(), 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegistrable(t *testing.T) {
	d, ok := registrable("deep.sub.example.com")
	require.True(t, ok)
	assert.Equal(t, "example.com", d)

	d, ok = registrable("foo.example.co.uk")
	require.True(t, ok)
	assert.Equal(t, "example.co.uk", d)

	_, ok = registrable("-bad-.example.com")
	assert.False(t, ok)
}
