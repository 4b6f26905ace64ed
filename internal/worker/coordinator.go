// Package worker runs the bounded-concurrency attachment pipeline for
// one page of records.
package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/havaian/sud-ai/internal/catalog"
	"github.com/havaian/sud-ai/internal/extract"
	"github.com/havaian/sud-ai/internal/metrics"
)

// AttachmentFetcher downloads raw attachment bytes.
type AttachmentFetcher interface {
	FetchAttachment(ctx context.Context, section catalog.Section, attachmentID string) ([]byte, error)
}

// TextExtractor turns attachment bytes into text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// TextWriter persists one record's extracted text and returns the
// root-relative and metadata-relative artifact paths.
type TextWriter interface {
	WriteText(d *catalog.Decision) (string, string, error)
}

// Result aggregates per-batch outcome counts.
type Result struct {
	AttachmentsProcessed int
	TextsExtracted       int
	ExtractionErrors     int
	Errors               int
}

// Coordinator fans out one fetch-extract-persist task per record,
// bounded to the configured concurrency. Every failure is per-record:
// it marks that record unextracted and never touches its siblings.
type Coordinator struct {
	fetcher   AttachmentFetcher
	extractor TextExtractor
	writer    TextWriter
	limit     int
	logger    *zap.Logger
}

// New creates a Coordinator.
func New(fetcher AttachmentFetcher, extractor TextExtractor, writer TextWriter, limit int, logger *zap.Logger) *Coordinator {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		fetcher:   fetcher,
		extractor: extractor,
		writer:    writer,
		limit:     limit,
		logger:    logger,
	}
}

// Process runs the batch and blocks until every task finishes. Records
// are enriched in place, so the input order is preserved for the
// downstream metadata write.
func (c *Coordinator) Process(ctx context.Context, section catalog.Section, records []*catalog.Decision) Result {
	var (
		mu     sync.Mutex
		result Result
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)

	for _, record := range records {
		record := record
		g.Go(func() error {
			metrics.IncAttachmentWorkers()
			defer metrics.DecAttachmentWorkers()

			outcome := c.processOne(ctx, section, record)

			mu.Lock()
			result.AttachmentsProcessed++
			switch outcome {
			case outcomeExtracted:
				result.TextsExtracted++
			case outcomeExtractionFailed:
				result.ExtractionErrors++
			case outcomeError:
				result.Errors++
			}
			mu.Unlock()
			return nil
		})
	}
	// Tasks never return errors; failures are absorbed per record.
	_ = g.Wait()
	return result
}

type outcome int

const (
	outcomeExtracted outcome = iota
	outcomeExtractionFailed
	outcomeError
)

func (c *Coordinator) processOne(ctx context.Context, section catalog.Section, d *catalog.Decision) outcome {
	markFailed := func() {
		d.TextExtracted = false
		d.TextPath = nil
		d.TextRelativePath = nil
	}

	data, err := c.fetcher.FetchAttachment(ctx, section, d.PDFID)
	if err != nil {
		markFailed()
		metrics.ObserveAttachment(string(section), "fetch_error")
		c.logger.Warn("attachment fetch failed",
			zap.String("case", d.CaseNumber),
			zap.String("attachment_id", d.PDFID),
			zap.Error(err))
		return outcomeError
	}

	text, err := c.extractor.Extract(ctx, data)
	if err != nil {
		markFailed()
		metrics.ObserveAttachment(string(section), "extraction_error")
		metrics.ObserveExtractionError()
		if errors.Is(err, extract.ErrTextTooShort) {
			c.logger.Warn("too little text extracted, document may need OCR",
				zap.String("case", d.CaseNumber))
		} else {
			c.logger.Warn("text extraction failed",
				zap.String("case", d.CaseNumber),
				zap.Error(err))
		}
		return outcomeExtractionFailed
	}

	d.ExtractedText = text
	path, relPath, err := c.writer.WriteText(d)
	if err != nil {
		markFailed()
		metrics.ObserveAttachment(string(section), "write_error")
		c.logger.Error("text artifact write failed",
			zap.String("case", d.CaseNumber),
			zap.Error(err))
		return outcomeError
	}

	d.TextPath = &path
	d.TextRelativePath = &relPath
	d.TextExtracted = true
	metrics.ObserveAttachment(string(section), "ok")
	c.logger.Info("text extracted",
		zap.String("case", d.CaseNumber),
		zap.Int("chars", len(text)))
	return outcomeExtracted
}
