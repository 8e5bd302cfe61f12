// Package extract implements step 1: pulling registrable-domain/IP pairs
// out of gzipped DNSDB JSONL dumps.
package extract

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
)

// hostnameLabelRe matches a single DNS label (RFC 1035-ish).
var hostnameLabelRe = regexp.MustCompile(`^(?i)[a-z\d]([a-z\d-]{0,61}[a-z\d])?$`)

// FileStats reports per-file outcomes for the run-end summary.
type FileStats struct {
	File          string
	Lines         int
	Written       int
	SkippedNoFQDN int
	SkippedDomain int
	SkippedNoIPs  int
	Errors        int
}

// record is the subset of a DNSDB JSONL line we consume.
type record struct {
	RRName string          `json:"rrname"`
	RData  json.RawMessage `json:"rdata"`
}

// Run extracts all files matching the glob into outDir, one gzipped
// output per input, processing up to parallel files at once. Lines that
// cannot be used are skipped and counted, never fatal for the file.
func Run(ctx context.Context, globPat, outDir string, parallel int) ([]FileStats, error) {
	if globPat == "" {
		return nil, eris.New("extract: paths.dnsdb_glob is not set")
	}
	files, err := expandGlob(globPat)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		zap.L().Warn("extract: no input files matched", zap.String("glob", globPat))
		return nil, nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "extract: create %s", outDir)
	}
	if parallel <= 0 {
		parallel = 1
	}

	zap.L().Info("extract: starting",
		zap.Int("files", len(files)),
		zap.Int("parallel", parallel),
	)

	stats := make([]FileStats, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, f := range files {
		g.Go(func() error {
			st, err := processFile(gctx, f, outDir)
			if err != nil {
				return err
			}
			stats[i] = st
			zap.L().Info("extract: file done",
				zap.String("file", st.File),
				zap.Int("lines", st.Lines),
				zap.Int("written", st.Written),
				zap.Int("no_fqdn", st.SkippedNoFQDN),
				zap.Int("bad_domain", st.SkippedDomain),
				zap.Int("no_ips", st.SkippedNoIPs),
				zap.Int("errors", st.Errors),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func expandGlob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: bad glob %q", pattern)
	}
	var files []string
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	return files, nil
}

func processFile(ctx context.Context, path, outDir string) (FileStats, error) {
	base := filepath.Base(path)
	stats := FileStats{File: base}

	in, err := os.Open(path)
	if err != nil {
		return stats, eris.Wrapf(err, "extract: open %s", path)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return stats, eris.Wrapf(err, "extract: gunzip %s", path)
	}
	defer zr.Close()

	outPath := filepath.Join(outDir, "2lds_"+base)
	out, err := os.Create(outPath)
	if err != nil {
		return stats, eris.Wrapf(err, "extract: create %s", outPath)
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	w := bufio.NewWriter(zw)

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Lines++

		var rec record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			stats.Errors++
			continue
		}

		fqdn := strings.TrimSuffix(strings.TrimSpace(rec.RRName), ".")
		if fqdn == "" || strings.Contains(fqdn, "|") {
			stats.SkippedNoFQDN++
			continue
		}

		domain, ok := registrable(fqdn)
		if !ok {
			stats.SkippedDomain++
			continue
		}

		ips := rdataIPs(rec.RData)
		if len(ips) == 0 {
			stats.SkippedNoIPs++
			continue
		}

		for _, ip := range ips {
			w.WriteString(domain)
			w.WriteByte('|')
			w.WriteString(ip)
			w.WriteByte('\n')
			stats.Written++
		}
	}
	if err := sc.Err(); err != nil {
		return stats, eris.Wrapf(err, "extract: read %s", path)
	}

	if err := w.Flush(); err != nil {
		return stats, eris.Wrapf(err, "extract: flush %s", outPath)
	}
	if err := zw.Close(); err != nil {
		return stats, eris.Wrapf(err, "extract: close %s", outPath)
	}
	return stats, nil
}

// registrable reduces an FQDN to its registrable domain (eTLD+1) and
// validates the labels.
func registrable(fqdn string) (string, bool) {
	fqdn = strings.ToLower(fqdn)
	if !validHostname(fqdn) {
		return "", false
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(fqdn)
	if err != nil {
		return "", false
	}
	return domain, true
}

func validHostname(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if host == "" || strings.Contains(host, "..") || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if !hostnameLabelRe.MatchString(label) {
			return false
		}
	}
	return true
}

// rdataIPs extracts IPv4 strings from the rdata field, which may be a
// JSON array or a single string.
func rdataIPs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var cand []string
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		cand = list
	} else {
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			cand = []string{single}
		}
	}

	var out []string
	for _, s := range cand {
		s = strings.TrimSpace(s)
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			continue
		}
		out = append(out, addr.String())
	}
	return out
}
