package feeds

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hosterbench/internal/cidr"
	"github.com/sells-group/hosterbench/internal/ledger"
)

// HitCount is one row of the abuse-hit counts table.
type HitCount struct {
	Organization string
	Source       string
	UniqueHits   int64
}

// HitCounts reads deduplicated hit counts from the ledger. Every
// (provider, source) pair is present, zero-filled when the pair never
// matched, so downstream joins never drop a provider.
func HitCounts(ctx context.Context, led ledger.Ledger, providers []cidr.Provider, sources []string) ([]HitCount, error) {
	scoped, err := led.Counts(ctx, ledger.HitScopePrefix)
	if err != nil {
		return nil, err
	}

	counts := make(map[[2]string]int64)
	for scope, n := range scoped {
		parts := strings.SplitN(scope, ":", 3)
		if len(parts) != 3 {
			continue
		}
		counts[[2]string{parts[2], parts[1]}] = n
	}

	seen := make(map[[2]string]bool, len(counts))
	var rows []HitCount
	for _, p := range providers {
		for _, src := range sources {
			key := [2]string{p.Name, src}
			seen[key] = true
			rows = append(rows, HitCount{Organization: p.Name, Source: src, UniqueHits: counts[key]})
		}
	}
	// Keep any scope rows outside the configured provider×source grid
	// (e.g. counts resumed from an earlier run).
	for key, n := range counts {
		if !seen[key] {
			rows = append(rows, HitCount{Organization: key[0], Source: key[1], UniqueHits: n})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Organization != rows[j].Organization {
			return rows[i].Organization < rows[j].Organization
		}
		return rows[i].Source < rows[j].Source
	})
	return rows, nil
}

// WriteHitCountsCSV writes the abuse-hit counts table: one row per
// provider and feed source.
func WriteHitCountsCSV(path string, rows []HitCount) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "feeds: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "feeds: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Organization", "source", "unique_hits"}); err != nil {
		return eris.Wrap(err, "feeds: write header")
	}
	for _, row := range rows {
		rec := []string{row.Organization, row.Source, strconv.FormatInt(row.UniqueHits, 10)}
		if err := w.Write(rec); err != nil {
			return eris.Wrapf(err, "feeds: write %s/%s", row.Organization, row.Source)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "feeds: flush %s", path)
	}

	zap.L().Info("feeds: wrote hit counts table", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}
