// Package capacity produces the per-provider address-capacity table.
package capacity

import (
	"encoding/csv"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hosterbench/internal/cidr"
)

// Row is one provider's capacity record. IPv4 and IPv6 counts stay in
// separate columns: the address-space magnitudes differ so much that a
// combined number would be meaningless.
type Row struct {
	Organization    string
	DomainCount     int64
	CIDRCount       int
	IPv4Capacity    uint64
	IPv6Capacity    *big.Int
	AvgDomainsPerIP float64
	CIDRs           []string
}

// Compute derives capacity rows for every provider. Capacity merges only
// a provider's own prefixes: overlap across different providers is an
// attribution concern, not a capacity one. domainCounts come from the
// unique-domain step and may be missing for a provider (zero).
func Compute(providers []cidr.Provider, domainCounts map[string]int64) []Row {
	rows := make([]Row, 0, len(providers))
	for _, p := range providers {
		c := cidr.ComputeCapacity(p.Prefixes)

		strs := make([]string, 0, len(p.Prefixes))
		for _, pfx := range p.Prefixes {
			strs = append(strs, pfx.String())
		}

		row := Row{
			Organization: p.Name,
			DomainCount:  domainCounts[p.Name],
			CIDRCount:    c.Prefixes,
			IPv4Capacity: c.IPv4,
			IPv6Capacity: c.IPv6,
			CIDRs:        strs,
		}
		if row.IPv4Capacity > 0 {
			row.AvgDomainsPerIP = float64(row.DomainCount) / float64(row.IPv4Capacity)
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DomainCount != rows[j].DomainCount {
			return rows[i].DomainCount > rows[j].DomainCount
		}
		return rows[i].Organization < rows[j].Organization
	})
	return rows
}

// WriteCSV writes the capacity table.
func WriteCSV(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "capacity: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "capacity: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"Organization", "domaincount", "cidr_count",
		"ipv4_capacity", "ipv6_capacity", "avg_domains_per_ip", "cidrs",
	}
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "capacity: write header")
	}

	for _, row := range rows {
		cidrs := row.CIDRs
		if cidrs == nil {
			cidrs = []string{}
		}
		cell, err := json.Marshal(cidrs)
		if err != nil {
			return eris.Wrap(err, "capacity: marshal cidrs")
		}
		v6 := "0"
		if row.IPv6Capacity != nil {
			v6 = row.IPv6Capacity.String()
		}
		rec := []string{
			row.Organization,
			strconv.FormatInt(row.DomainCount, 10),
			strconv.Itoa(row.CIDRCount),
			strconv.FormatUint(row.IPv4Capacity, 10),
			v6,
			strconv.FormatFloat(row.AvgDomainsPerIP, 'g', -1, 64),
			string(cell),
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrapf(err, "capacity: write %s", row.Organization)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "capacity: flush %s", path)
	}

	zap.L().Info("capacity: wrote table", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

// ReadDomainCounts loads the Organization→domaincount column of the
// unique-domain counts table written by the slds step.
func ReadDomainCounts(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "capacity: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '|'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	recs, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "capacity: parse %s", path)
	}

	out := make(map[string]int64)
	for i, rec := range recs {
		if i == 0 || len(rec) < 2 {
			continue // header
		}
		n, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			continue
		}
		out[rec[0]] = n
	}
	return out, nil
}
