// Package feeds ingests abuse-feed files, attributes their IPs, and
// produces deduplicated per-provider hit counts through the ledger.
package feeds

import (
	"bufio"
	"context"
	"net/netip"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Record is one event produced by a feed parser.
type Record struct {
	// Domain is optional; only feeds that declare CountDomains use it
	// for dedup keys.
	Domain string
	IPs    []netip.Addr
}

// Result is the terminal summary of producing one file.
type Result struct {
	Lines   int
	Skipped int // unparseable lines, warn-counted but never fatal
	Err     error
}

// Parser is the capability interface every feed format implements.
// Produce streams records lazily: the file is never held in memory.
type Parser interface {
	// Name is the registry key for this format.
	Name() string

	// CountDomains reports whether dedup keys include the domain in
	// addition to the IP.
	CountDomains() bool

	// Produce parses one file. Records arrive on the first channel; a
	// single Result arrives on the second after the record channel
	// closes. A file that cannot be opened at all is reported through
	// Result.Err.
	Produce(ctx context.Context, path string) (<-chan Record, <-chan Result)
}

// Registry maps feed format names to parsers. It is constructed once at
// startup and passed to the ingestor; there is no process-wide mutable
// parser table.
type Registry struct {
	parsers map[string]Parser
	order   []string
}

// NewRegistry creates a registry populated with the built-in formats.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(&APWGCSVIP{})
	r.Register(&DShieldDaily{})
	r.Register(&GenericCSV{})
	return r
}

// Register adds a parser to the registry.
func (r *Registry) Register(p Parser) {
	name := p.Name()
	r.parsers[name] = p
	r.order = append(r.order, name)
}

// Get returns a parser by format name.
func (r *Registry) Get(name string) (Parser, error) {
	p, ok := r.parsers[name]
	if !ok {
		return nil, eris.Errorf("feeds: unknown feed format %q", name)
	}
	return p, nil
}

// AllNames returns registered format names in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// lineFeed adapts a per-line parse function into a streaming Parser.
// parse returns (nil, nil) for lines that carry no data (headers,
// comments), records for data lines, and an error for malformed lines,
// which are skipped and counted.
type lineFeed struct {
	name         string
	countDomains bool
	parse        func(line string) ([]Record, error)
}

func (f *lineFeed) Name() string       { return f.name }
func (f *lineFeed) CountDomains() bool { return f.countDomains }

func (f *lineFeed) Produce(ctx context.Context, path string) (<-chan Record, <-chan Result) {
	recCh := make(chan Record, 64)
	resCh := make(chan Result, 1)

	go func() {
		defer close(resCh)
		defer close(recCh)

		var res Result

		file, err := os.Open(path)
		if err != nil {
			res.Err = eris.Wrapf(err, "feeds: open %s", path)
			resCh <- res
			return
		}
		defer file.Close()

		log := zap.L().With(zap.String("feed", f.name), zap.String("file", path))

		sc := bufio.NewScanner(file)
		sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
		for sc.Scan() {
			res.Lines++
			recs, err := f.parse(sc.Text())
			if err != nil {
				res.Skipped++
				log.Warn("skipping unparseable line", zap.Int("line", res.Lines), zap.Error(err))
				continue
			}
			for _, rec := range recs {
				select {
				case recCh <- rec:
				case <-ctx.Done():
					res.Err = ctx.Err()
					resCh <- res
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			res.Err = eris.Wrapf(err, "feeds: read %s", path)
		}
		resCh <- res
	}()

	return recCh, resCh
}
