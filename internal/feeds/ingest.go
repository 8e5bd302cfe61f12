package feeds

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/hosterbench/internal/cidr"
	"github.com/sells-group/hosterbench/internal/ledger"
)

// Spec is one configured feed: a registered format applied to a path or
// glob. Source labels the feed in outputs and defaults to the format
// name.
type Spec struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Source string `yaml:"source"`
}

// LoadSpecs reads the feeds YAML file. An empty path means zero feeds,
// which is a valid configuration.
func LoadSpecs(path string) ([]Spec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: read %s", path)
	}

	var doc struct {
		Feeds []Spec `yaml:"feeds"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "feeds: parse %s", path)
	}

	for i := range doc.Feeds {
		if doc.Feeds[i].Name == "" || doc.Feeds[i].Path == "" {
			return nil, eris.Errorf("feeds: entry %d needs both name and path", i)
		}
		if doc.Feeds[i].Source == "" {
			doc.Feeds[i].Source = doc.Feeds[i].Name
		}
	}
	return doc.Feeds, nil
}

// FeedStats summarizes one feed's ingestion for the run-end report.
type FeedStats struct {
	Source       string
	Files        int
	Lines        int
	Records      int
	Marked       int64
	Duplicate    int64
	Unattributed int
	SkippedLines int
	Err          error // fatal for this feed only
}

// Ingestor attributes feed records and registers deduplicated hits in
// the ledger, scoped per feed source and provider.
type Ingestor struct {
	index *cidr.Index
	led   ledger.Ledger
	reg   *Registry
}

// NewIngestor creates an Ingestor.
func NewIngestor(index *cidr.Index, led ledger.Ledger, reg *Registry) *Ingestor {
	return &Ingestor{index: index, led: led, reg: reg}
}

// IngestAll processes every configured feed. Feed-level failures (an
// unknown format is caught before this; an unopenable file here) abort
// only that feed; the error is recorded in its stats and the remaining
// feeds still run. Ledger failures abort the whole run.
func (ing *Ingestor) IngestAll(ctx context.Context, specs []Spec) ([]FeedStats, error) {
	// Unknown formats are configuration errors: fail before touching
	// any data.
	for _, spec := range specs {
		if _, err := ing.reg.Get(spec.Name); err != nil {
			return nil, err
		}
	}

	stats := make([]FeedStats, 0, len(specs))
	for _, spec := range specs {
		st, err := ing.ingestFeed(ctx, spec)
		if err != nil {
			return stats, err
		}
		stats = append(stats, st)
	}

	if err := ing.led.Flush(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

func (ing *Ingestor) ingestFeed(ctx context.Context, spec Spec) (FeedStats, error) {
	st := FeedStats{Source: spec.Source}
	log := zap.L().With(zap.String("feed", spec.Source))

	parser, err := ing.reg.Get(spec.Name)
	if err != nil {
		return st, err
	}

	files, err := expandFiles(spec.Path)
	if err != nil {
		st.Err = err
		log.Error("feed failed", zap.Error(err))
		return st, nil
	}
	log.Info("ingesting feed", zap.Int("files", len(files)), zap.String("path", spec.Path))

	// Ledger failures must not strand the producer goroutine mid-send:
	// cancel its context and drain both channels before returning.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, file := range files {
		recCh, resCh := parser.Produce(ctx, file)

		var markErr error
		for rec := range recCh {
			if markErr != nil {
				continue // drain
			}
			st.Records++
			if err := ing.ingestRecord(ctx, spec.Source, parser.CountDomains(), rec, &st); err != nil {
				markErr = err
				cancel()
			}
		}

		res := <-resCh
		if markErr != nil {
			return st, markErr
		}
		st.Files++
		st.Lines += res.Lines
		st.SkippedLines += res.Skipped
		if res.Err != nil {
			// Fatal for this feed only: a feed file that cannot be
			// read at all aborts the feed, not the run.
			st.Err = res.Err
			log.Error("feed failed", zap.String("file", file), zap.Error(res.Err))
			return st, nil
		}
		log.Info("feed file done",
			zap.String("file", filepath.Base(file)),
			zap.Int("lines", res.Lines),
			zap.Int("skipped", res.Skipped),
		)
	}

	return st, nil
}

func (ing *Ingestor) ingestRecord(ctx context.Context, source string, countDomains bool, rec Record, st *FeedStats) error {
	for _, addr := range rec.IPs {
		provider, ok := ing.index.Lookup(addr)
		if !ok {
			st.Unattributed++
			continue
		}

		key := addr.AsSlice()
		if countDomains && rec.Domain != "" {
			key = append(key, 0)
			key = append(key, rec.Domain...)
		}

		first, err := ing.led.Mark(ctx, ledger.HitScope(source, provider), key)
		if err != nil {
			return err
		}
		if first {
			st.Marked++
		} else {
			st.Duplicate++
		}
	}
	return nil
}

// expandFiles turns a directory or glob into a sorted file list. A path
// that matches no readable file is the feed's fatal error: a configured
// feed whose input is missing must surface, not count zero silently.
func expandFiles(pathlike string) ([]string, error) {
	var files []string
	if fi, err := os.Stat(pathlike); err == nil && fi.IsDir() {
		entries, err := os.ReadDir(pathlike)
		if err != nil {
			return nil, eris.Wrapf(err, "feeds: read dir %s", pathlike)
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, filepath.Join(pathlike, e.Name()))
			}
		}
	} else {
		matches, err := filepath.Glob(pathlike)
		if err != nil {
			return nil, eris.Wrapf(err, "feeds: bad glob %q", pathlike)
		}
		for _, m := range matches {
			if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return nil, eris.Errorf("feeds: no input files match %q", pathlike)
	}
	sort.Strings(files)
	return files, nil
}
