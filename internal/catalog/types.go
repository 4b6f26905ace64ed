// Package catalog defines the canonical decision record and the client
// for the two court publication APIs.
package catalog

import (
	"encoding/json"
	"fmt"
)

// Section identifies one of the two historical API eras.
type Section string

// Supported catalog sections.
const (
	SectionNew Section = "new"
	SectionOld Section = "old"
)

// ParseSection validates a section name.
func ParseSection(s string) (Section, error) {
	switch Section(s) {
	case SectionNew, SectionOld:
		return Section(s), nil
	default:
		return "", fmt.Errorf("unknown section %q", s)
	}
}

// PageID identifies one fixed-size slice of a section's listing. It is
// the resume and idempotency key: one metadata artifact exists per PageID.
type PageID struct {
	Section Section
	Index   int
}

// Slug returns the stable artifact identifier for the page.
func (p PageID) Slug() string {
	return fmt.Sprintf("%s_%04d", p.Section, p.Index)
}

// Category maps a locale code to a category label.
type Category map[string]string

// Decision is the canonical record for one published court decision.
// ExtractedText is transient: it exists only between extraction and the
// text-file write and is never serialized with the record.
type Decision struct {
	ID               string     `json:"id"`
	CaseNumber       string     `json:"case_number"`
	CourtNameUZ      string     `json:"court_name_uz"`
	CourtNameRU      string     `json:"court_name_ru"`
	ResponsibleJudge *string    `json:"responsible_judge"`
	SpeakerJudge     *string    `json:"speaker_judge"`
	HearingDate      string     `json:"hearing_date"`
	Result           string     `json:"result"`
	Instance         string     `json:"instance"`
	Categories       []Category `json:"categories"`
	PDFID            string     `json:"pdf_id"`
	PDFName          string     `json:"pdf_name"`
	PDFSize          int64      `json:"pdf_size"`
	PDFURL           string     `json:"pdf_url"`
	TextPath         *string    `json:"text_file_path"`
	TextRelativePath *string    `json:"text_file_relative_path"`
	TextExtracted    bool       `json:"text_extraction_success"`

	ExtractedText string `json:"-"`
}

// PageResult is the uniform listing shape returned by ListPage for both
// sections. Content entries stay raw until the normalizer maps them.
type PageResult struct {
	Content       []json.RawMessage `json:"content"`
	TotalPages    int               `json:"totalPages"`
	TotalElements int               `json:"totalElements"`
}
