// Package crawler drives the section/page crawl loop.
package crawler

import (
	"context"
	"time"

	"github.com/havaian/sud-ai/internal/catalog"
	"github.com/havaian/sud-ai/internal/policy/ratelimit"
	"github.com/havaian/sud-ai/internal/worker"
)

// Catalog lists pages of the publication APIs.
type Catalog interface {
	ListPage(ctx context.Context, section catalog.Section, page, size int, courtType string) (*catalog.PageResult, error)
}

// Store is the persistence surface the engine drives. Exists is the
// resume rule: a page whose metadata artifact exists is not re-fetched
// unless overwrite is requested.
type Store interface {
	Exists(page catalog.PageID) bool
	WriteMetadata(page catalog.PageID, records []*catalog.Decision) error
	WriteCombined(records []*catalog.Decision) error
}

// Processor runs the attachment pipeline for one page's records.
type Processor interface {
	Process(ctx context.Context, section catalog.Section, records []*catalog.Decision) worker.Result
}

// Limiter is the engine's view of the rate controller.
type Limiter interface {
	Wait(ctx context.Context) error
	Snapshot() ratelimit.State
}

// Clock abstracts time for run statistics.
type Clock interface {
	Now() time.Time
}

// Config controls one crawl run.
type Config struct {
	Sections    []catalog.Section
	CourtType   string
	PageSize    int
	MaxPages    int
	StartPage   int
	EndPage     int // inclusive; -1 means last page
	Overwrite   bool
	Attachments bool

	// BaseDelay is only used for the informational crawl-time forecast
	// on very large sections.
	BaseDelay time.Duration
}

// Stats are the monotonically incremented run counters. They are owned
// by the engine; components report outcomes through return values.
type Stats struct {
	PagesProcessed       int
	DecisionsFound       int
	AttachmentsProcessed int
	TextsExtracted       int
	ExtractionErrors     int
	Errors               int
	StartedAt            time.Time
}

func (s *Stats) add(r worker.Result) {
	s.AttachmentsProcessed += r.AttachmentsProcessed
	s.TextsExtracted += r.TextsExtracted
	s.ExtractionErrors += r.ExtractionErrors
	s.Errors += r.Errors
}
