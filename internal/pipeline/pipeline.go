// Package pipeline wires the processing steps together and runs them in
// order.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hosterbench/internal/capacity"
	"github.com/sells-group/hosterbench/internal/cidr"
	"github.com/sells-group/hosterbench/internal/config"
	"github.com/sells-group/hosterbench/internal/enrich"
	"github.com/sells-group/hosterbench/internal/extract"
	"github.com/sells-group/hosterbench/internal/feeds"
	"github.com/sells-group/hosterbench/internal/hosters"
	"github.com/sells-group/hosterbench/internal/ledger"
	"github.com/sells-group/hosterbench/internal/merge"
)

// Pipeline executes the benchmark steps against one configuration.
// Within a single process the steps share the loaded hoster map, the
// attribution index, and the ledger; across processes a pinned
// params.run_id points later steps at an earlier run's ledger.
type Pipeline struct {
	cfg *config.Config

	runID     string
	providers []cidr.Provider
	mapStats  *hosters.LoadStats
	index     *cidr.Index
	led       *ledger.SQLite

	// data-quality counters for the run-end summary
	extractStats []extract.FileStats
	enrichStats  []enrich.FileStats
	feedStats    []feeds.FeedStats
}

// New creates a Pipeline. Nothing is loaded until a step needs it.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// RunID returns the ledger namespace for this run. An empty configured
// run_id gets a generated one, logged so the run can be resumed later by
// pinning it.
func (p *Pipeline) RunID() string {
	if p.runID != "" {
		return p.runID
	}
	p.runID = p.cfg.Params.RunID
	if p.runID == "" {
		p.runID = uuid.NewString()
		zap.L().Info("generated run id; pin params.run_id to resume this run",
			zap.String("run_id", p.runID))
	}
	return p.runID
}

// LedgerPath returns the ledger database file for this run.
func (p *Pipeline) LedgerPath() string {
	return filepath.Join(p.cfg.Paths.LedgerDir, p.RunID()+".db")
}

// Close releases the ledger if a step opened it.
func (p *Pipeline) Close() error {
	if p.led == nil {
		return nil
	}
	led := p.led
	p.led = nil
	return led.Close()
}

func (p *Pipeline) loadProviders() ([]cidr.Provider, error) {
	if p.providers != nil {
		return p.providers, nil
	}
	providers, stats, err := hosters.Load(p.cfg.Paths.CIDRMap, p.cfg.Params.IncludeIPv6)
	if err != nil {
		return nil, err
	}
	zap.L().Info("loaded hoster map",
		zap.String("path", p.cfg.Paths.CIDRMap),
		zap.Int("providers", len(providers)),
		zap.Int("prefixes", stats.Prefixes),
		zap.Int("malformed", stats.Malformed),
	)
	p.providers = providers
	p.mapStats = &stats
	return providers, nil
}

func (p *Pipeline) buildIndex() (*cidr.Index, error) {
	if p.index != nil {
		return p.index, nil
	}
	providers, err := p.loadProviders()
	if err != nil {
		return nil, err
	}
	p.index = cidr.Build(providers)
	return p.index, nil
}

func (p *Pipeline) openLedger() (*ledger.SQLite, error) {
	if p.led != nil {
		return p.led, nil
	}
	if err := os.MkdirAll(p.cfg.Paths.LedgerDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s", p.cfg.Paths.LedgerDir)
	}
	led, err := ledger.NewSQLite(p.LedgerPath(), ledger.Options{
		CommitEvery: p.cfg.Params.CommitEvery,
		MaxSizeGB:   p.cfg.Params.LedgerSizeGB,
	})
	if err != nil {
		return nil, err
	}
	p.led = led
	return led, nil
}

// Extract runs step 1: pull (registrable domain, IPv4) pairs out of the
// raw passive-DNS dumps.
func (p *Pipeline) Extract(ctx context.Context) error {
	stats, err := extract.Run(ctx, p.cfg.Paths.DNSDBGlob, p.cfg.Paths.Step1Dir, p.cfg.Params.Processes)
	p.extractStats = stats
	return err
}

// Enrich runs step 2: attribute each extracted record to a provider and
// register unique domains in the ledger.
func (p *Pipeline) Enrich(ctx context.Context) error {
	index, err := p.buildIndex()
	if err != nil {
		return err
	}
	led, err := p.openLedger()
	if err != nil {
		return err
	}

	stats, err := enrich.New(index, led).Run(ctx, p.cfg.Paths.Step1Dir, p.cfg.Paths.Step2Dir, p.cfg.Params.Processes)
	p.enrichStats = stats
	if err != nil {
		return err
	}
	return led.Flush(ctx)
}

// SLDs runs step 3: export the per-provider unique-domain counts table.
func (p *Pipeline) SLDs(ctx context.Context) error {
	providers, err := p.loadProviders()
	if err != nil {
		return err
	}
	led, err := p.openLedger()
	if err != nil {
		return err
	}

	rows, err := enrich.SLDCounts(ctx, led, providers)
	if err != nil {
		return err
	}
	return enrich.WriteOrgsCSV(p.cfg.Outputs.OrgsCSV, rows)
}

// Capacity runs step 4: compute and export per-provider address
// capacity.
func (p *Pipeline) Capacity(ctx context.Context) error {
	_ = ctx
	providers, err := p.loadProviders()
	if err != nil {
		return err
	}
	counts, err := capacity.ReadDomainCounts(p.cfg.Outputs.OrgsCSV)
	if err != nil {
		return err
	}
	return capacity.WriteCSV(p.cfg.Outputs.CapacityCSV, capacity.Compute(providers, counts))
}

// Ingest runs step 5: attribute abuse-feed hits and export the
// per-source unique hit counts.
func (p *Pipeline) Ingest(ctx context.Context) error {
	specs, err := feeds.LoadSpecs(p.cfg.FeedsFile)
	if err != nil {
		return err
	}
	index, err := p.buildIndex()
	if err != nil {
		return err
	}
	led, err := p.openLedger()
	if err != nil {
		return err
	}

	stats, err := feeds.NewIngestor(index, led, feeds.NewRegistry()).IngestAll(ctx, specs)
	p.feedStats = stats
	if err != nil {
		return err
	}

	sources := make([]string, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if !seen[spec.Source] {
			seen[spec.Source] = true
			sources = append(sources, spec.Source)
		}
	}

	rows, err := feeds.HitCounts(ctx, led, index.Providers(), sources)
	if err != nil {
		return err
	}
	return feeds.WriteHitCountsCSV(p.cfg.Outputs.FeedCountsCSV, rows)
}

// Merge runs step 6: join the three tables into the final benchmark
// table, applying the unique-domain threshold.
func (p *Pipeline) Merge(ctx context.Context) error {
	_ = ctx
	table, err := merge.Build(
		p.cfg.Outputs.OrgsCSV,
		p.cfg.Outputs.CapacityCSV,
		p.cfg.Outputs.FeedCountsCSV,
		p.cfg.Params.ThresholdSLDCount,
	)
	if err != nil {
		return err
	}
	if err := table.WriteCSV(p.cfg.Outputs.MergedCSV); err != nil {
		return err
	}
	if p.cfg.Outputs.MergedXLSX != "" {
		return table.WriteXLSX(p.cfg.Outputs.MergedXLSX)
	}
	return nil
}

// Step is one named pipeline stage.
type Step struct {
	Name string
	Fn   func(context.Context) error
}

// Steps returns the full pipeline in execution order.
func (p *Pipeline) Steps() []Step {
	return []Step{
		{"extract", p.Extract},
		{"enrich", p.Enrich},
		{"slds", p.SLDs},
		{"capacity", p.Capacity},
		{"ingest", p.Ingest},
		{"merge", p.Merge},
	}
}

// Run executes every step in order. The first failing step aborts the
// run; its name rides on the returned error so the CLI can report it.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()
	for _, step := range p.Steps() {
		log := zap.L().With(zap.String("step", step.Name))
		log.Info("step starting")
		t0 := time.Now()
		if err := step.Fn(ctx); err != nil {
			log.Error("step failed", zap.Error(err), zap.Duration("elapsed", time.Since(t0)))
			return eris.Wrapf(err, "step %s", step.Name)
		}
		log.Info("step done", zap.Duration("elapsed", time.Since(t0)))
	}
	p.logSummary()
	zap.L().Info("run complete",
		zap.String("run_id", p.RunID()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// logSummary reports data-quality counters gathered across the run so
// silently skipped input is visible without digging through per-file
// logs.
func (p *Pipeline) logSummary() {
	if p.mapStats != nil {
		zap.L().Info("summary: hoster map",
			zap.Int("providers", len(p.providers)),
			zap.Int("prefixes", p.mapStats.Prefixes),
			zap.Int("malformed", p.mapStats.Malformed),
			zap.Int("skipped", p.mapStats.Skipped),
			zap.Int("ipv6_dropped", p.mapStats.IPv6Dropped),
		)
	}

	var exLines, exWritten, exSkipped, exErrors int
	for _, st := range p.extractStats {
		exLines += st.Lines
		exWritten += st.Written
		exSkipped += st.SkippedNoFQDN + st.SkippedDomain + st.SkippedNoIPs
		exErrors += st.Errors
	}
	if len(p.extractStats) > 0 {
		zap.L().Info("summary: extract",
			zap.Int("files", len(p.extractStats)),
			zap.Int("lines", exLines),
			zap.Int("written", exWritten),
			zap.Int("skipped", exSkipped),
			zap.Int("errors", exErrors),
		)
	}

	var enLines, enWritten, enUnattributed, enSkipped int
	for _, st := range p.enrichStats {
		enLines += st.Lines
		enWritten += st.Written
		enUnattributed += st.Unattributed
		enSkipped += st.Skipped
	}
	if len(p.enrichStats) > 0 {
		zap.L().Info("summary: enrich",
			zap.Int("files", len(p.enrichStats)),
			zap.Int("lines", enLines),
			zap.Int("written", enWritten),
			zap.Int("unattributed", enUnattributed),
			zap.Int("skipped", enSkipped),
		)
	}

	for _, st := range p.feedStats {
		zap.L().Info("summary: feed",
			zap.String("source", st.Source),
			zap.Int("files", st.Files),
			zap.Int("lines", st.Lines),
			zap.Int64("marked", st.Marked),
			zap.Int64("duplicate", st.Duplicate),
			zap.Int("unattributed", st.Unattributed),
			zap.Int("skipped_lines", st.SkippedLines),
			zap.Bool("failed", st.Err != nil),
		)
	}
}
