// Package enrich implements step 2: streaming attribution of extracted
// domain|ip pairs, and the derived unique-domain counts.
package enrich

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hosterbench/internal/cidr"
	"github.com/sells-group/hosterbench/internal/ledger"
)

// FileStats reports per-file outcomes for the run-end summary.
type FileStats struct {
	File         string
	Lines        int
	Written      int
	Unattributed int
	Skipped      int
}

// Processor attributes extracted records against an immutable CIDR index
// and registers (provider, SLD) pairs in the ledger so unique-domain
// counts can be derived later. It holds no per-record state: input is
// consumed as a one-pass stream of any length.
type Processor struct {
	index *cidr.Index
	led   ledger.Ledger
}

// New creates a Processor.
func New(index *cidr.Index, led ledger.Ledger) *Processor {
	return &Processor{index: index, led: led}
}

// Run enriches every step-1 output file in step1Dir into step2Dir,
// processing up to parallel files concurrently. Ledger marks from
// concurrent files serialize inside the ledger.
func (p *Processor) Run(ctx context.Context, step1Dir, step2Dir string, parallel int) ([]FileStats, error) {
	pattern := filepath.Join(step1Dir, "2lds_*")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: bad glob %q", pattern)
	}
	if len(files) == 0 {
		zap.L().Warn("enrich: no input files matched", zap.String("glob", pattern))
		return nil, nil
	}
	if err := os.MkdirAll(step2Dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "enrich: create %s", step2Dir)
	}
	if parallel <= 0 {
		parallel = 1
	}

	zap.L().Info("enrich: starting",
		zap.Int("files", len(files)),
		zap.Int("parallel", parallel),
	)

	stats := make([]FileStats, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, f := range files {
		g.Go(func() error {
			st, err := p.processFile(gctx, f, step2Dir)
			if err != nil {
				return err
			}
			stats[i] = st
			zap.L().Info("enrich: file done",
				zap.String("file", st.File),
				zap.Int("lines", st.Lines),
				zap.Int("written", st.Written),
				zap.Int("unattributed", st.Unattributed),
				zap.Int("skipped", st.Skipped),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (p *Processor) processFile(ctx context.Context, path, outDir string) (FileStats, error) {
	base := filepath.Base(path)
	stats := FileStats{File: base}

	in, err := os.Open(path)
	if err != nil {
		return stats, eris.Wrapf(err, "enrich: open %s", path)
	}
	defer in.Close()

	var r io.Reader = in
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(in)
		if err != nil {
			return stats, eris.Wrapf(err, "enrich: gunzip %s", path)
		}
		defer zr.Close()
		r = zr
	}

	outName := "step3_enriched_" + base
	if strings.HasSuffix(outName, ".gz") {
		outName = strings.TrimSuffix(outName, ".gz") + ".txt"
	}
	out, err := os.Create(filepath.Join(outDir, outName))
	if err != nil {
		return stats, eris.Wrapf(err, "enrich: create %s", outName)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	st, err := p.Process(ctx, r, w)
	st.File = base
	if err != nil {
		return st, eris.Wrapf(err, "enrich: process %s", base)
	}
	if err := w.Flush(); err != nil {
		return st, eris.Wrapf(err, "enrich: flush %s", outName)
	}
	return st, nil
}

// Process consumes a stream of "domain|ip" lines and emits enriched
// "domain | ip | provider" lines in one pass. Unattributed records are
// passed through with the explicit marker, never dropped; whether they
// are excluded is a downstream, post-count decision. Each record also
// marks (provider, SLD) in the ledger.
func (p *Processor) Process(ctx context.Context, r io.Reader, w io.Writer) (FileStats, error) {
	var stats FileStats
	bw := bufio.NewWriter(w)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for sc.Scan() {
		stats.Lines++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		domain, ip, ok := strings.Cut(line, "|")
		if !ok {
			stats.Skipped++
			continue
		}
		domain = strings.TrimSpace(domain)
		ip = strings.TrimSpace(ip)
		if domain == "" || ip == "" {
			stats.Skipped++
			continue
		}

		provider := p.index.LookupString(ip)
		if provider == cidr.Unattributed {
			stats.Unattributed++
		}

		if _, err := bw.WriteString(domain + " | " + ip + " | " + provider + "\n"); err != nil {
			return stats, eris.Wrap(err, "enrich: write")
		}
		stats.Written++

		if sld := ToSLD(domain); sld != "" {
			if _, err := p.led.Mark(ctx, ledger.SLDScope(provider), []byte(sld)); err != nil {
				return stats, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return stats, eris.Wrap(err, "enrich: read")
	}
	return stats, eris.Wrap(bw.Flush(), "enrich: flush")
}

// ToSLD reduces a domain to its registrable form (eTLD+1), falling back
// to the last two labels when the public suffix list cannot place it.
func ToSLD(domain string) string {
	d := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	if d == "" {
		return ""
	}
	if sld, err := publicsuffix.EffectiveTLDPlusOne(d); err == nil {
		return sld
	}
	parts := strings.Split(d, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "." + parts[len(parts)-1]
	}
	return d
}
