package enrich

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hosterbench/internal/cidr"
	"github.com/sells-group/hosterbench/internal/ledger"
)

// OrgCount is one row of the unique-domain counts table.
type OrgCount struct {
	Organization string
	DomainCount  int64
	CIDRs        []string
}

// SLDCounts derives per-provider unique-domain counts from the ledger.
// Every known provider appears, zero-filled if it never matched; the
// unattributed bucket appears only when it has counts. No threshold is
// applied here: intermediate outputs keep sub-threshold rows.
func SLDCounts(ctx context.Context, led ledger.Ledger, providers []cidr.Provider) ([]OrgCount, error) {
	scoped, err := led.Counts(ctx, ledger.SLDScopePrefix)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(scoped))
	for scope, n := range scoped {
		counts[scope[len(ledger.SLDScopePrefix):]] = n
	}

	prefixesByName := make(map[string][]string, len(providers))
	for _, p := range providers {
		strs := make([]string, 0, len(p.Prefixes))
		for _, pfx := range p.Prefixes {
			strs = append(strs, pfx.String())
		}
		prefixesByName[p.Name] = strs
		if _, ok := counts[p.Name]; !ok {
			counts[p.Name] = 0
		}
	}

	out := make([]OrgCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, OrgCount{
			Organization: name,
			DomainCount:  n,
			CIDRs:        prefixesByName[name],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DomainCount != out[j].DomainCount {
			return out[i].DomainCount > out[j].DomainCount
		}
		return out[i].Organization < out[j].Organization
	})
	return out, nil
}

// WriteOrgsCSV writes the unique-domain counts table as pipe-delimited
// CSV with the CIDR list packed into a single JSON cell.
func WriteOrgsCSV(path string, rows []OrgCount) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "slds: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "slds: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '|'

	if err := w.Write([]string{"Organization", "domaincount", "cidrs"}); err != nil {
		return eris.Wrap(err, "slds: write header")
	}
	for _, row := range rows {
		cidrs := row.CIDRs
		if cidrs == nil {
			cidrs = []string{}
		}
		cell, err := json.Marshal(cidrs)
		if err != nil {
			return eris.Wrap(err, "slds: marshal cidrs")
		}
		rec := []string{row.Organization, strconv.FormatInt(row.DomainCount, 10), string(cell)}
		if err := w.Write(rec); err != nil {
			return eris.Wrapf(err, "slds: write %s", row.Organization)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "slds: flush %s", path)
	}

	zap.L().Info("slds: wrote counts table", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}
