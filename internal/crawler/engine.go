package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/havaian/sud-ai/internal/catalog"
	"github.com/havaian/sud-ai/internal/metrics"
)

const (
	// betweenPagePause is the fixed pause between pages while the error
	// streak is zero; the adaptive delay applies otherwise.
	betweenPagePause = 100 * time.Millisecond

	// largeVolumeThreshold triggers the informational size forecast.
	largeVolumeThreshold = 50000
	estimatedDocBytes    = 100 * 1024
)

// Engine is the sequential driver of the crawl: sections in order, pages
// strictly in increasing order, attachments fanned out within a page.
type Engine struct {
	cfg     Config
	api     Catalog
	norm    *catalog.Normalizer
	store   Store
	proc    Processor
	limiter Limiter
	clock   Clock
	logger  *zap.Logger
}

// New creates an Engine.
func New(
	cfg Config,
	api Catalog,
	norm *catalog.Normalizer,
	store Store,
	proc Processor,
	limiter Limiter,
	clock Clock,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		api:     api,
		norm:    norm,
		store:   store,
		proc:    proc,
		limiter: limiter,
		clock:   clock,
		logger:  logger,
	}
}

// Run crawls every requested section and returns the run statistics and
// all collected records. Failures below run granularity are absorbed
// and counted; only context cancellation ends the run early.
func (e *Engine) Run(ctx context.Context) (Stats, []*catalog.Decision, error) {
	stats := Stats{StartedAt: e.clock.Now()}
	var all []*catalog.Decision

	for _, section := range e.cfg.Sections {
		if err := ctx.Err(); err != nil {
			e.logSummary(stats)
			return stats, all, err
		}
		records := e.runSection(ctx, section, &stats)
		all = append(all, records...)
	}

	if len(all) > 0 {
		if err := e.store.WriteCombined(all); err != nil {
			stats.Errors++
			e.logger.Error("combined metadata write failed", zap.Error(err))
		}
	}

	e.logSummary(stats)
	return stats, all, ctx.Err()
}

// runSection processes one section; a first-page failure skips the
// whole section and the run continues.
func (e *Engine) runSection(ctx context.Context, section catalog.Section, stats *Stats) []*catalog.Decision {
	log := e.logger.With(zap.String("section", string(section)))
	log.Info("starting section")

	first, err := e.api.ListPage(ctx, section, 0, e.cfg.PageSize, e.cfg.CourtType)
	if err != nil {
		stats.Errors++
		metrics.ObservePage(string(section), "section_failed")
		log.Error("failed to get first page, skipping section", zap.Error(err))
		return nil
	}

	totalPages := first.TotalPages
	log.Info("section discovered",
		zap.Int("total_pages", totalPages),
		zap.Int("total_elements", first.TotalElements))

	if first.TotalElements > largeVolumeThreshold {
		sizeGB := float64(first.TotalElements) * estimatedDocBytes / (1 << 30)
		days := float64(first.TotalElements) * e.cfg.BaseDelay.Seconds() / (24 * 3600)
		log.Warn("large result set, consider limiting pages",
			zap.Float64("estimated_size_gb", sizeGB),
			zap.Float64("estimated_days", days),
			zap.Int("total_elements", first.TotalElements))
	}

	if e.cfg.MaxPages > 0 && totalPages > e.cfg.MaxPages {
		totalPages = e.cfg.MaxPages
		log.Info("limiting section", zap.Int("max_pages", totalPages))
	}

	// end is exclusive; EndPage from config is inclusive.
	end := totalPages
	if e.cfg.EndPage >= 0 && e.cfg.EndPage+1 < end {
		end = e.cfg.EndPage + 1
	}
	start := e.cfg.StartPage
	if start > 0 {
		log.Info("resuming", zap.Int("start_page", start))
	}
	if start >= end {
		log.Warn("start page beyond section range, skipping section",
			zap.Int("start_page", start),
			zap.Int("total_pages", totalPages))
		return nil
	}

	var collected []*catalog.Decision
	for page := start; page < end; page++ {
		if ctx.Err() != nil {
			return collected
		}
		records, skipped := e.runPage(ctx, section, page, start, first, stats, log)
		collected = append(collected, records...)

		// Resume-skipped pages cost no request, so they need no pause.
		if page < end-1 && !skipped {
			e.pauseBetweenPages(ctx)
		}
	}

	log.Info("section completed")
	return collected
}

func (e *Engine) runPage(
	ctx context.Context,
	section catalog.Section,
	page, start int,
	first *catalog.PageResult,
	stats *Stats,
	log *zap.Logger,
) ([]*catalog.Decision, bool) {
	pid := catalog.PageID{Section: section, Index: page}
	log = log.With(zap.Int("page", page))

	if !e.cfg.Overwrite && e.store.Exists(pid) {
		stats.PagesProcessed++
		metrics.ObservePage(string(section), "skipped")
		log.Info("page already materialized, skipping")
		return nil, true
	}

	result := first
	if page != start || start != 0 {
		var err error
		result, err = e.api.ListPage(ctx, section, page, e.cfg.PageSize, e.cfg.CourtType)
		if err != nil {
			stats.Errors++
			metrics.ObservePage(string(section), "failed")
			log.Warn("page listing failed, skipping page", zap.Error(err))
			return nil, false
		}
	}

	records := make([]*catalog.Decision, 0, len(result.Content))
	for _, raw := range result.Content {
		d, err := e.norm.Normalize(raw, section)
		if err != nil {
			log.Warn("dropping entry", zap.Error(err))
			continue
		}
		records = append(records, d)
	}
	stats.DecisionsFound += len(records)
	metrics.ObserveDecisions(string(section), len(records))

	// Metadata is durably written before any attachment task starts:
	// resume correctness depends on "metadata exists" meaning "page
	// fully attempted".
	if err := e.store.WriteMetadata(pid, records); err != nil {
		stats.Errors++
		metrics.ObservePage(string(section), "failed")
		log.Error("metadata write failed", zap.Error(err))
		return records, false
	}

	if e.cfg.Attachments && len(records) > 0 {
		stats.add(e.proc.Process(ctx, section, records))
		// Text-path patches land in the artifact before the loop
		// advances to the next page.
		if err := e.store.WriteMetadata(pid, records); err != nil {
			stats.Errors++
			log.Error("metadata patch failed", zap.Error(err))
		}
	}

	stats.PagesProcessed++
	metrics.ObservePage(string(section), "processed")
	return records, false
}

func (e *Engine) pauseBetweenPages(ctx context.Context) {
	if e.limiter.Snapshot().ConsecutiveErrors == 0 {
		timer := time.NewTimer(betweenPagePause)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		return
	}
	_ = e.limiter.Wait(ctx)
}

func (e *Engine) logSummary(stats Stats) {
	elapsed := e.clock.Now().Sub(stats.StartedAt)
	throughput := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(stats.DecisionsFound) / secs
	}

	snapshot := e.limiter.Snapshot()
	e.logger.Info("crawl finished",
		zap.Int("pages_processed", stats.PagesProcessed),
		zap.Int("decisions_found", stats.DecisionsFound),
		zap.Int("attachments_processed", stats.AttachmentsProcessed),
		zap.Int("texts_extracted", stats.TextsExtracted),
		zap.Int("extraction_errors", stats.ExtractionErrors),
		zap.Int("errors", stats.Errors),
		zap.Duration("elapsed", elapsed),
		zap.String("throughput", fmt.Sprintf("%.2f decisions/sec", throughput)),
		zap.Duration("current_delay", snapshot.CurrentDelay),
		zap.Int("consecutive_errors", snapshot.ConsecutiveErrors),
	)

	if stats.TextsExtracted > 0 {
		// Rough forecast only: text artifacts run ~10x smaller than the
		// attachments they replace.
		savedKB := stats.AttachmentsProcessed*100 - stats.TextsExtracted*10
		if savedKB > 0 {
			e.logger.Info("estimated space saved",
				zap.Int("kb", savedKB))
		}
	}
}
