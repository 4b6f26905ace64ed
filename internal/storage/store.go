// Package storage writes per-page metadata and per-record text artifacts
// to the local filesystem.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/havaian/sud-ai/internal/catalog"
)

const (
	metadataDirName = "metadata"
	textDirName     = "extracted_text"
	combinedName    = "all_decisions.json"

	headerSeparator = 80
)

// Config captures the parameters for the artifact store.
type Config struct {
	// OutputDir is the root directory where artifacts will be stored.
	OutputDir string `mapstructure:"output_dir"`
}

// Store persists crawl artifacts. Writes are idempotent: re-writing a
// page produces the same artifact, and Exists lets the orchestrator
// skip pages already materialized.
type Store struct {
	baseDir     string
	metadataDir string
	textDir     string
	logger      *zap.Logger
}

// New creates the store and its directory layout.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		baseDir:     cfg.OutputDir,
		metadataDir: filepath.Join(cfg.OutputDir, metadataDirName),
		textDir:     filepath.Join(cfg.OutputDir, textDirName),
		logger:      logger,
	}
	for _, dir := range []string{s.baseDir, s.metadataDir, s.textDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// Exists reports whether the metadata artifact for a page has been
// written. "Metadata exists" means "page fully attempted": the resume
// rule is built on this.
func (s *Store) Exists(page catalog.PageID) bool {
	_, err := os.Stat(s.metadataPath(page))
	return err == nil
}

// WriteMetadata writes the whole-page metadata artifact: one JSON array
// with every Decision field except the transient raw text.
func (s *Store) WriteMetadata(page catalog.PageID, records []*catalog.Decision) error {
	if err := s.writeJSON(s.metadataPath(page), records); err != nil {
		return fmt.Errorf("write metadata %s: %w", page.Slug(), err)
	}
	s.logger.Debug("metadata saved", zap.String("page", page.Slug()), zap.Int("records", len(records)))
	return nil
}

// WriteCombined writes the single whole-run artifact.
func (s *Store) WriteCombined(records []*catalog.Decision) error {
	path := filepath.Join(s.baseDir, combinedName)
	if err := s.writeJSON(path, records); err != nil {
		return fmt.Errorf("write combined metadata: %w", err)
	}
	s.logger.Info("combined metadata saved", zap.String("path", path), zap.Int("records", len(records)))
	return nil
}

// WriteText writes the extracted text artifact for one record and
// returns the root-relative and metadata-relative paths to it.
func (s *Store) WriteText(d *catalog.Decision) (string, string, error) {
	name := SafeFileName(d) + ".txt"

	var b strings.Builder
	judge := "Not specified"
	if d.ResponsibleJudge != nil && *d.ResponsibleJudge != "" {
		judge = *d.ResponsibleJudge
	}
	fmt.Fprintf(&b, "CASE: %s\n", d.CaseNumber)
	fmt.Fprintf(&b, "COURT: %s\n", d.CourtNameUZ)
	fmt.Fprintf(&b, "JUDGE: %s\n", judge)
	fmt.Fprintf(&b, "DATE: %s\n", d.HearingDate)
	fmt.Fprintf(&b, "RESULT: %s\n", d.Result)
	b.WriteString(strings.Repeat("=", headerSeparator) + "\n\n")
	b.WriteString(d.ExtractedText)

	path := filepath.Join(s.textDir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return "", "", fmt.Errorf("write text %s: %w", name, err)
	}

	relPath := textDirName + "/" + name
	metaRelPath := "../" + textDirName + "/" + name
	s.logger.Debug("text saved", zap.String("file", name))
	return relPath, metaRelPath, nil
}

func (s *Store) metadataPath(page catalog.PageID) string {
	return filepath.Join(s.metadataDir, fmt.Sprintf("page_%s.json", page.Slug()))
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// SafeFileName derives a reproducible, filesystem-safe name from the
// case number and a short id prefix.
func SafeFileName(d *catalog.Decision) string {
	idPrefix := d.ID
	if len(idPrefix) > 8 {
		idPrefix = idPrefix[:8]
	}
	name := d.CaseNumber + "_" + idPrefix
	for _, ch := range `/\<>:"|?*` {
		name = strings.ReplaceAll(name, string(ch), "_")
	}
	return name
}
