package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/havaian/sud-ai/internal/catalog"
	"github.com/havaian/sud-ai/internal/policy/ratelimit"
	"github.com/havaian/sud-ai/internal/worker"
)

type fakeCatalog struct {
	mu    sync.Mutex
	pages map[string]*catalog.PageResult
	fail  map[string]bool
	calls []string
}

func pageKey(section catalog.Section, page int) string {
	return fmt.Sprintf("%s_%d", section, page)
}

func (c *fakeCatalog) ListPage(_ context.Context, section catalog.Section, page, _ int, _ string) (*catalog.PageResult, error) {
	key := pageKey(section, page)
	c.mu.Lock()
	c.calls = append(c.calls, key)
	c.mu.Unlock()
	if c.fail[key] {
		return nil, fmt.Errorf("list %s: status 500", key)
	}
	result, ok := c.pages[key]
	if !ok {
		return nil, fmt.Errorf("list %s: status 404", key)
	}
	return result, nil
}

type fakeStore struct {
	mu       sync.Mutex
	existing map[string]bool
	writes   map[string]int
	lastMeta map[string][]*catalog.Decision
	combined []*catalog.Decision
}

func newFakeStore(existing ...string) *fakeStore {
	s := &fakeStore{
		existing: map[string]bool{},
		writes:   map[string]int{},
		lastMeta: map[string][]*catalog.Decision{},
	}
	for _, slug := range existing {
		s.existing[slug] = true
	}
	return s
}

func (s *fakeStore) Exists(page catalog.PageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[page.Slug()]
}

func (s *fakeStore) WriteMetadata(page catalog.PageID, records []*catalog.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existing[page.Slug()] = true
	s.writes[page.Slug()]++
	s.lastMeta[page.Slug()] = append([]*catalog.Decision(nil), records...)
	return nil
}

func (s *fakeStore) WriteCombined(records []*catalog.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.combined = append([]*catalog.Decision(nil), records...)
	return nil
}

type fakeProcessor struct {
	mu      sync.Mutex
	batches int
}

func (p *fakeProcessor) Process(_ context.Context, _ catalog.Section, records []*catalog.Decision) worker.Result {
	p.mu.Lock()
	p.batches++
	p.mu.Unlock()
	for _, d := range records {
		path := "extracted_text/" + d.ID + ".txt"
		rel := "../" + path
		d.TextPath, d.TextRelativePath, d.TextExtracted = &path, &rel, true
	}
	return worker.Result{AttachmentsProcessed: len(records), TextsExtracted: len(records)}
}

type stubLimiter struct{}

func (stubLimiter) Wait(ctx context.Context) error { return ctx.Err() }
func (stubLimiter) Snapshot() ratelimit.State      { return ratelimit.State{} }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newEntry(id string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"id":           id,
		"case_number":  "4-10-2301/" + id,
		"court_names":  map[string]string{"uz": "Toshkent sudi", "ru": "Ташкентский суд"},
		"hearing_date": "2024-03-15",
		"result":       "Qanoatlantirilgan",
		"instance":     "FIRST",
		"pdf":          map[string]any{"id": "pdf-" + id, "name": "d.pdf", "size": 1024},
	})
	return raw
}

func oldEntry(id int) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"id":          id,
		"caseNumber":  fmt.Sprintf("2-08-1901/%d", id),
		"dbName":      "Samarqand sudi",
		"hearingDate": int64(1700000000000),
		"result":      "Rad etilgan",
		"category":    "Mulkiy nizolar",
		"attachmentsList": []map[string]any{
			{"fileData": map[string]any{"id": id * 10, "name": "d.pdf", "size": 512}},
		},
	})
	return raw
}

func pageOf(total, elements int, entries ...json.RawMessage) *catalog.PageResult {
	return &catalog.PageResult{Content: entries, TotalPages: total, TotalElements: elements}
}

func testNormalizer() *catalog.Normalizer {
	return &catalog.Normalizer{NewBase: "https://new.example", OldBase: "https://old.example"}
}

func testConfig(sections ...catalog.Section) Config {
	return Config{
		Sections:  sections,
		CourtType: "ECONOMIC",
		PageSize:  30,
		EndPage:   -1,
		BaseDelay: 300 * time.Millisecond,
	}
}

func newTestEngine(cfg Config, api Catalog, store Store, proc Processor) *Engine {
	return New(cfg, api, testNormalizer(), store, proc, stubLimiter{}, fixedClock{t: time.Unix(1700000000, 0)}, zap.NewNop())
}

func TestRunResumesAfterExistingPages(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{}}
	for i := 0; i < 6; i++ {
		api.pages[pageKey(catalog.SectionNew, i)] = pageOf(6, 180, newEntry(fmt.Sprintf("r%d", i)))
	}
	store := newFakeStore("new_0000", "new_0001", "new_0002", "new_0003")

	engine := newTestEngine(testConfig(catalog.SectionNew), api, store, &fakeProcessor{})
	stats, records, err := engine.Run(context.Background())
	require.NoError(t, err)

	// Skipped pages still count as processed; only 4 and 5 are fetched
	// after the discovery call.
	require.Equal(t, 6, stats.PagesProcessed)
	require.Equal(t, 2, stats.DecisionsFound)
	require.Zero(t, stats.Errors)
	require.Len(t, records, 2)
	require.Equal(t, []string{"new_0", "new_4", "new_5"}, api.calls)
}

func TestRunSkippedPagesDoNotPause(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{
		pageKey(catalog.SectionNew, 0): pageOf(25, 750, newEntry("a")),
	}}
	existing := make([]string, 25)
	for i := range existing {
		existing[i] = fmt.Sprintf("new_%04d", i)
	}
	store := newFakeStore(existing...)

	engine := newTestEngine(testConfig(catalog.SectionNew), api, store, &fakeProcessor{})

	start := time.Now()
	stats, _, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 25, stats.PagesProcessed)
	require.Equal(t, []string{"new_0"}, api.calls)
	// Skipping 25 materialized pages must not serve the between-page
	// pause for each of them.
	require.Less(t, time.Since(start), time.Second)
}

func TestRunFirstPageReusedForPageZero(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{
		pageKey(catalog.SectionNew, 0): pageOf(2, 60, newEntry("a")),
		pageKey(catalog.SectionNew, 1): pageOf(2, 60, newEntry("b")),
	}}
	store := newFakeStore()

	engine := newTestEngine(testConfig(catalog.SectionNew), api, store, &fakeProcessor{})
	stats, _, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.PagesProcessed)
	require.Equal(t, []string{"new_0", "new_1"}, api.calls)
}

func TestRunSectionSkippedOnFirstPageFailure(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{
		pages: map[string]*catalog.PageResult{
			pageKey(catalog.SectionOld, 0): pageOf(1, 1, oldEntry(1)),
		},
		fail: map[string]bool{pageKey(catalog.SectionNew, 0): true},
	}
	store := newFakeStore()

	engine := newTestEngine(testConfig(catalog.SectionNew, catalog.SectionOld), api, store, &fakeProcessor{})
	stats, records, err := engine.Run(context.Background())
	require.NoError(t, err)

	// The failed section contributes one error; the next section is
	// crawled normally.
	require.Equal(t, 1, stats.Errors)
	require.Equal(t, 1, stats.PagesProcessed)
	require.Len(t, records, 1)
	require.Equal(t, "2-08-1901/1", records[0].CaseNumber)
}

func TestRunStartPageBeyondRangeSkipsSection(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{
		pageKey(catalog.SectionNew, 0): pageOf(3, 90, newEntry("a")),
	}}
	store := newFakeStore()

	cfg := testConfig(catalog.SectionNew)
	cfg.StartPage = 3
	engine := newTestEngine(cfg, api, store, &fakeProcessor{})
	stats, records, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.PagesProcessed)
	require.Empty(t, records)
	require.Equal(t, []string{"new_0"}, api.calls)
}

func TestRunMaxPagesClampsSection(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{}}
	for i := 0; i < 5; i++ {
		api.pages[pageKey(catalog.SectionNew, i)] = pageOf(5, 150, newEntry(fmt.Sprintf("r%d", i)))
	}
	store := newFakeStore()

	cfg := testConfig(catalog.SectionNew)
	cfg.MaxPages = 2
	engine := newTestEngine(cfg, api, store, &fakeProcessor{})
	stats, _, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.PagesProcessed)
	require.Equal(t, []string{"new_0", "new_1"}, api.calls)
}

func TestRunEndPageInclusive(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{}}
	for i := 0; i < 5; i++ {
		api.pages[pageKey(catalog.SectionNew, i)] = pageOf(5, 150, newEntry(fmt.Sprintf("r%d", i)))
	}
	store := newFakeStore()

	cfg := testConfig(catalog.SectionNew)
	cfg.StartPage = 1
	cfg.EndPage = 3
	engine := newTestEngine(cfg, api, store, &fakeProcessor{})
	stats, _, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.PagesProcessed)
	require.Equal(t, []string{"new_0", "new_1", "new_2", "new_3"}, api.calls)
}

func TestRunOverwriteRefetchesExistingPages(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{
		pageKey(catalog.SectionNew, 0): pageOf(1, 30, newEntry("a")),
	}}
	store := newFakeStore("new_0000")

	cfg := testConfig(catalog.SectionNew)
	cfg.Overwrite = true
	engine := newTestEngine(cfg, api, store, &fakeProcessor{})
	stats, _, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.PagesProcessed)
	require.Equal(t, 1, stats.DecisionsFound)
	require.Equal(t, 1, store.writes["new_0000"])
}

func TestRunAttachmentsPatchMetadata(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{
		pageKey(catalog.SectionNew, 0): pageOf(1, 30, newEntry("a"), newEntry("b")),
	}}
	store := newFakeStore()
	proc := &fakeProcessor{}

	cfg := testConfig(catalog.SectionNew)
	cfg.Attachments = true
	engine := newTestEngine(cfg, api, store, proc)
	stats, _, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, proc.batches)
	require.Equal(t, 2, stats.AttachmentsProcessed)
	require.Equal(t, 2, stats.TextsExtracted)

	// Written once before the fan-out, re-written with text paths after.
	require.Equal(t, 2, store.writes["new_0000"])
	for _, d := range store.lastMeta["new_0000"] {
		require.True(t, d.TextExtracted)
		require.NotNil(t, d.TextPath)
	}
}

func TestRunAttachmentsDisabledSingleWrite(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{
		pageKey(catalog.SectionNew, 0): pageOf(1, 30, newEntry("a")),
	}}
	store := newFakeStore()
	proc := &fakeProcessor{}

	engine := newTestEngine(testConfig(catalog.SectionNew), api, store, proc)
	_, _, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, proc.batches)
	require.Equal(t, 1, store.writes["new_0000"])
	require.False(t, store.lastMeta["new_0000"][0].TextExtracted)
}

func TestRunMalformedEntriesDropped(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{
		pageKey(catalog.SectionNew, 0): pageOf(1, 30,
			newEntry("good"),
			json.RawMessage(`{"id":"no-required-fields"}`),
			newEntry("also-good"),
		),
	}}
	store := newFakeStore()

	engine := newTestEngine(testConfig(catalog.SectionNew), api, store, &fakeProcessor{})
	stats, records, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.DecisionsFound)
	require.Len(t, records, 2)
	require.Equal(t, "good", records[0].ID)
	require.Equal(t, "also-good", records[1].ID)
}

func TestRunOldSectionEndToEnd(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{
		pageKey(catalog.SectionOld, 0): pageOf(2, 5, oldEntry(1), oldEntry(2), oldEntry(3)),
		pageKey(catalog.SectionOld, 1): pageOf(2, 5, oldEntry(4), oldEntry(5)),
	}}
	store := newFakeStore()

	engine := newTestEngine(testConfig(catalog.SectionOld), api, store, &fakeProcessor{})
	stats, records, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, stats.PagesProcessed)
	require.Equal(t, 5, stats.DecisionsFound)
	require.Len(t, records, 5)
	require.Equal(t, "2023-11-14T22:13:20Z", records[0].HearingDate)
	require.Equal(t, "https://old.example/api/file/download/10/", records[0].PDFURL)
	require.Len(t, store.combined, 5)
}

func TestRunCancelledContext(t *testing.T) {
	t.Parallel()

	api := &fakeCatalog{pages: map[string]*catalog.PageResult{}}
	store := newFakeStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newTestEngine(testConfig(catalog.SectionNew), api, store, &fakeProcessor{})
	_, _, err := engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, api.calls)
}
