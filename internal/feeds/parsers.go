package feeds

import (
	"context"
	"net/netip"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var ipv4Re = regexp.MustCompile(`(?:\d{1,3}\.){3}\d{1,3}`)

// APWGCSVIP parses APWG CSV exports: no header, IPs embedded in the 4th
// column as a stringified list. IP-only.
type APWGCSVIP struct{}

func (p *APWGCSVIP) Name() string       { return "apwg_csv_ip" }
func (p *APWGCSVIP) CountDomains() bool { return false }

func (p *APWGCSVIP) Produce(ctx context.Context, path string) (<-chan Record, <-chan Result) {
	lf := &lineFeed{name: p.Name(), parse: parseAPWGLine}
	return lf.Produce(ctx, path)
}

func parseAPWGLine(line string) ([]Record, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) < 4 {
		return nil, eris.Errorf("want >= 4 columns, got %d", len(parts))
	}
	// Column 4 looks like "[u'1.2.3.4', u'5.6.7.8']" and carries commas
	// of its own, so rejoin from the 4th column through the closing
	// bracket before pulling out anything IPv4-shaped.
	cell := strings.Join(parts[3:], ",")
	if i := strings.IndexByte(cell, ']'); i >= 0 {
		cell = cell[:i+1]
	}
	var ips []netip.Addr
	for _, m := range ipv4Re.FindAllString(cell, -1) {
		if addr, err := netip.ParseAddr(m); err == nil && addr.Is4() {
			ips = append(ips, addr)
		}
	}
	if len(ips) == 0 {
		return nil, nil
	}
	return []Record{{IPs: ips}}, nil
}

// DShieldDaily parses DShield daily_sources TSV: source IP in the first
// column, comment and header lines skipped. IP-only.
type DShieldDaily struct{}

func (p *DShieldDaily) Name() string       { return "dshield_daily" }
func (p *DShieldDaily) CountDomains() bool { return false }

func (p *DShieldDaily) Produce(ctx context.Context, path string) (<-chan Record, <-chan Result) {
	lf := &lineFeed{name: p.Name(), parse: parseDShieldLine}
	return lf.Produce(ctx, path)
}

func parseDShieldLine(line string) ([]Record, error) {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(s, "#") || strings.HasPrefix(strings.ToLower(s), "source ip") {
		return nil, nil
	}
	first := s
	if i := strings.IndexByte(s, '\t'); i >= 0 {
		first = s[:i]
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(first))
	if err != nil || !addr.Is4() {
		return nil, eris.Errorf("first column is not an IPv4 address: %q", first)
	}
	return []Record{{IPs: []netip.Addr{addr}}}, nil
}

// GenericCSV parses simple CSV feeds with a header of
// timestamp,source_ip,... and the IP in the second column. IP-only.
type GenericCSV struct{}

func (p *GenericCSV) Name() string       { return "generic_csv" }
func (p *GenericCSV) CountDomains() bool { return false }

func (p *GenericCSV) Produce(ctx context.Context, path string) (<-chan Record, <-chan Result) {
	lf := &lineFeed{name: p.Name(), parse: parseGenericCSVLine}
	return lf.Produce(ctx, path)
}

func parseGenericCSVLine(line string) ([]Record, error) {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(strings.ToLower(s), "timestamp") {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return nil, eris.Errorf("want >= 2 columns, got %d", len(parts))
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(parts[1]))
	if err != nil || !addr.Is4() {
		return nil, eris.Errorf("second column is not an IPv4 address: %q", parts[1])
	}
	return []Record{{IPs: []netip.Addr{addr}}}, nil
}
