// Package hosters loads the provider→CIDR map that drives attribution.
package hosters

import (
	"encoding/csv"
	"net/netip"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hosterbench/internal/cidr"
)

// LoadStats reports data-quality counters from a map load. They feed the
// run-end summary so bad input rows are visible without aborting.
type LoadStats struct {
	Rows        int
	Prefixes    int
	Malformed   int
	Skipped     int
	IPv6Dropped int
}

// Load reads a provider→CIDR map file. The file is pipe- or comma-
// delimited (sniffed from the header), with case-insensitive name and
// ranges columns. Ranges cells may be a bracketed quoted list, a JSON
// array, or a comma/pipe-separated list. Malformed prefixes are logged
// and skipped per record; only an unreadable file or unusable header is
// fatal. When includeIPv6 is false, IPv6 prefixes are dropped at load
// time and the whole pipeline runs IPv4-only.
func Load(path string, includeIPv6 bool) ([]cidr.Provider, LoadStats, error) {
	var stats LoadStats

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, eris.Wrapf(err, "hosters: open %s", path)
	}
	defer f.Close()

	head, err := readHeaderLine(f)
	if err != nil {
		return nil, stats, eris.Wrapf(err, "hosters: read header of %s", path)
	}
	delim := ','
	if strings.Count(head, "|") >= strings.Count(head, ",") {
		delim = '|'
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, stats, eris.Wrap(err, "hosters: rewind")
	}

	r := csv.NewReader(f)
	r.Comma = delim
	r.Comment = '#'
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, stats, eris.Wrapf(err, "hosters: parse %s", path)
	}
	if len(rows) == 0 {
		return nil, stats, eris.Errorf("hosters: %s is empty", path)
	}

	nameCol, rangeCol, hasHeader := detectColumns(rows[0])
	if hasHeader {
		rows = rows[1:]
	}

	log := zap.L().With(zap.String("file", path))

	// Preserve first-seen order; merge repeated rows for one provider.
	byName := make(map[string]int)
	var providers []cidr.Provider

	for _, row := range rows {
		if len(row) <= rangeCol || len(row) <= nameCol {
			stats.Skipped++
			continue
		}
		name := cleanName(row[nameCol])
		if name == "" {
			stats.Skipped++
			continue
		}
		stats.Rows++

		var pfxs []netip.Prefix
		for _, tok := range cidr.ParseRangeList(row[rangeCol]) {
			pfx, err := cidr.ParsePrefix(tok)
			if err != nil {
				stats.Malformed++
				log.Warn("skipping malformed prefix",
					zap.String("provider", name),
					zap.String("prefix", tok),
				)
				continue
			}
			if !includeIPv6 && pfx.Addr().Is6() {
				stats.IPv6Dropped++
				continue
			}
			pfxs = append(pfxs, pfx)
			stats.Prefixes++
		}

		if i, ok := byName[name]; ok {
			providers[i].Prefixes = append(providers[i].Prefixes, pfxs...)
			continue
		}
		byName[name] = len(providers)
		providers = append(providers, cidr.Provider{Name: name, Prefixes: pfxs})
	}

	return providers, stats, nil
}

func readHeaderLine(f *os.File) (string, error) {
	buf := make([]byte, 64*1024)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return "", err
	}
	s := string(buf[:n])
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s, nil
}

// detectColumns finds the name and ranges columns, case-insensitively.
// When no known header is present the file is treated as headerless
// name|ranges.
func detectColumns(header []string) (nameCol, rangeCol int, hasHeader bool) {
	nameCol, rangeCol = 0, 1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "organization", "org", "hoster", "name":
			nameCol = i
			hasHeader = true
		case "ranges", "cidrs", "prefixes", "prefix":
			rangeCol = i
			hasHeader = true
		}
	}
	return nameCol, rangeCol, hasHeader
}

// cleanName strips stray quoting that survives CSV round-trips, so names
// join consistently across the map, capacity, and feed tables.
func cleanName(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}
