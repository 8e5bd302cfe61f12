// Package merge joins the per-step output tables into the final
// benchmark table.
package merge

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// Row is one provider's merged record. Capacity cells pass through from
// the capacity table untouched; the merge joins, it never recomputes.
type Row struct {
	Organization    string
	DomainCount     int64
	CIDRCount       string
	IPv4Capacity    string
	IPv6Capacity    string
	AvgDomainsPerIP string
	CIDRs           string
	Hits            []int64 // parallel to Table.Sources
}

// Table is the merged benchmark table: one row per provider, one hit
// column per feed source.
type Table struct {
	Sources []string
	Rows    []Row
}

// Build left-joins the unique-domain counts, capacity, and abuse-hit
// tables on provider name. The base is the union of providers from all
// three inputs; missing capacity or hit data is zero-filled, never
// dropped. Providers whose unique-domain count falls below threshold are
// excluded here and only here: intermediate tables keep every row.
func Build(orgsPath, capacityPath, hitsPath string, threshold int64) (*Table, error) {
	orgs, orgOrder, err := readOrgs(orgsPath)
	if err != nil {
		return nil, err
	}
	caps, capOrder, err := readCapacity(capacityPath)
	if err != nil {
		return nil, err
	}
	hits, sources, err := readHits(hitsPath)
	if err != nil {
		return nil, err
	}

	names := unionOrder(orgOrder, capOrder, hits)

	t := &Table{Sources: sources}
	dropped := 0
	for _, name := range names {
		o := orgs[name]
		if o.count < threshold {
			dropped++
			continue
		}

		row := Row{
			Organization:    name,
			DomainCount:     o.count,
			CIDRCount:       "0",
			IPv4Capacity:    "0",
			IPv6Capacity:    "0",
			AvgDomainsPerIP: "0",
			CIDRs:           o.cidrs,
			Hits:            make([]int64, len(sources)),
		}
		if c, ok := caps[name]; ok {
			row.CIDRCount = c.cidrCount
			row.IPv4Capacity = c.ipv4
			row.IPv6Capacity = c.ipv6
			row.AvgDomainsPerIP = c.avg
			if c.cidrs != "" {
				row.CIDRs = c.cidrs
			}
		}
		if row.CIDRs == "" {
			row.CIDRs = "[]"
		}
		for i, src := range sources {
			row.Hits[i] = hits[name][src]
		}
		t.Rows = append(t.Rows, row)
	}

	sort.SliceStable(t.Rows, func(i, j int) bool {
		if t.Rows[i].DomainCount != t.Rows[j].DomainCount {
			return t.Rows[i].DomainCount > t.Rows[j].DomainCount
		}
		return t.Rows[i].Organization < t.Rows[j].Organization
	})

	zap.L().Info("merge: built table",
		zap.Int("rows", len(t.Rows)),
		zap.Int("below_threshold", dropped),
		zap.Int64("threshold", threshold),
		zap.Strings("sources", sources),
	)
	return t, nil
}

func (t *Table) header() []string {
	h := []string{
		"Organization", "domaincount", "cidr_count",
		"ipv4_capacity", "ipv6_capacity", "avg_domains_per_ip",
	}
	for _, src := range t.Sources {
		h = append(h, src+"_unique_hits")
	}
	return append(h, "cidrs")
}

func (t *Table) record(row Row) []string {
	rec := []string{
		row.Organization,
		strconv.FormatInt(row.DomainCount, 10),
		row.CIDRCount,
		row.IPv4Capacity,
		row.IPv6Capacity,
		row.AvgDomainsPerIP,
	}
	for _, n := range row.Hits {
		rec = append(rec, strconv.FormatInt(n, 10))
	}
	return append(rec, row.CIDRs)
}

// WriteCSV writes the merged table.
func (t *Table) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "merge: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "merge: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.header()); err != nil {
		return eris.Wrap(err, "merge: write header")
	}
	for _, row := range t.Rows {
		if err := w.Write(t.record(row)); err != nil {
			return eris.Wrapf(err, "merge: write %s", row.Organization)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "merge: flush %s", path)
	}

	zap.L().Info("merge: wrote csv", zap.String("path", path), zap.Int("rows", len(t.Rows)))
	return nil
}

// WriteXLSX writes the merged table as a spreadsheet.
func (t *Table) WriteXLSX(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "merge: create dir for %s", path)
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("merged")
	if err != nil {
		return eris.Wrap(err, "merge: add sheet")
	}

	hdr := sheet.AddRow()
	for _, h := range t.header() {
		hdr.AddCell().SetString(h)
	}
	for _, row := range t.Rows {
		r := sheet.AddRow()
		for _, cell := range t.record(row) {
			r.AddCell().SetString(cell)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "merge: save %s", path)
	}
	zap.L().Info("merge: wrote xlsx", zap.String("path", path), zap.Int("rows", len(t.Rows)))
	return nil
}

type orgRow struct {
	count int64
	cidrs string
}

func readOrgs(path string) (map[string]orgRow, []string, error) {
	recs, err := readTable(path, '|')
	if err != nil {
		return nil, nil, err
	}

	out := make(map[string]orgRow)
	var order []string
	for _, rec := range recs {
		if len(rec) < 2 {
			continue
		}
		n, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			continue
		}
		row := orgRow{count: n}
		if len(rec) > 2 {
			row.cidrs = rec[2]
		}
		if _, ok := out[rec[0]]; !ok {
			order = append(order, rec[0])
		}
		out[rec[0]] = row
	}
	return out, order, nil
}

type capRow struct {
	cidrCount, ipv4, ipv6, avg, cidrs string
}

func readCapacity(path string) (map[string]capRow, []string, error) {
	recs, err := readTable(path, ',')
	if err != nil {
		return nil, nil, err
	}

	out := make(map[string]capRow)
	var order []string
	for _, rec := range recs {
		if len(rec) < 7 {
			continue
		}
		if _, ok := out[rec[0]]; !ok {
			order = append(order, rec[0])
		}
		out[rec[0]] = capRow{
			cidrCount: rec[2],
			ipv4:      rec[3],
			ipv6:      rec[4],
			avg:       rec[5],
			cidrs:     rec[6],
		}
	}
	return out, order, nil
}

// readHits loads the long-format hit table and pivots it to one column
// per source.
func readHits(path string) (map[string]map[string]int64, []string, error) {
	recs, err := readTable(path, ',')
	if err != nil {
		return nil, nil, err
	}

	out := make(map[string]map[string]int64)
	seen := make(map[string]bool)
	var sources []string
	for _, rec := range recs {
		if len(rec) < 3 {
			continue
		}
		n, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			continue
		}
		if out[rec[0]] == nil {
			out[rec[0]] = make(map[string]int64)
		}
		out[rec[0]][rec[1]] = n
		if !seen[rec[1]] {
			seen[rec[1]] = true
			sources = append(sources, rec[1])
		}
	}
	sort.Strings(sources)
	return out, sources, nil
}

// readTable reads a delimited file and strips the header row. A missing
// file reads as an empty table so a pipeline run without that step still
// merges.
func readTable(path string, comma rune) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			zap.L().Warn("merge: input table missing, treating as empty", zap.String("path", path))
			return nil, nil
		}
		return nil, eris.Wrapf(err, "merge: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = comma
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	recs, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "merge: parse %s", path)
	}
	if len(recs) > 0 {
		recs = recs[1:]
	}
	return recs, nil
}

// unionOrder lists every provider once: counts-table order first, then
// capacity-only providers, then any provider seen only in the hit table.
func unionOrder(orgOrder, capOrder []string, hits map[string]map[string]int64) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, n := range orgOrder {
		add(n)
	}
	for _, n := range capOrder {
		add(n)
	}
	var hitOnly []string
	for n := range hits {
		if !seen[n] {
			hitOnly = append(hitOnly, n)
		}
	}
	sort.Strings(hitOnly)
	for _, n := range hitOnly {
		add(n)
	}
	return names
}
