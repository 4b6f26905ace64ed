package catalog

import (
	"encoding/json"
	"fmt"
	"time"
)

// oldInstance is the instance value assigned to every legacy record:
// the old API has no instance concept.
const oldInstance = "FIRST"

// Normalizer maps raw listing entries from either schema into the
// canonical Decision. Base URLs are needed to derive attachment links.
type Normalizer struct {
	NewBase string
	OldBase string
}

// Normalize maps one raw entry. A nil Decision with a non-nil error
// means the entry is dropped; the caller logs it and moves on, sibling
// entries are unaffected.
func (n *Normalizer) Normalize(raw json.RawMessage, section Section) (*Decision, error) {
	if section == SectionOld {
		return n.normalizeOld(raw)
	}
	return n.normalizeNew(raw)
}

type newEntry struct {
	ID               *string           `json:"id"`
	CaseNumber       *string           `json:"case_number"`
	CourtNames       map[string]string `json:"court_names"`
	ResponsibleJudge *string           `json:"responsible_judge_name"`
	SpeakerJudge     *string           `json:"speaker_judge_name"`
	HearingDate      *string           `json:"hearing_date"`
	Result           *string           `json:"result"`
	Instance         *string           `json:"instance"`
	Categories       []Category        `json:"categories"`
	PDF              *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"pdf"`
}

func (n *Normalizer) normalizeNew(raw json.RawMessage) (*Decision, error) {
	var e newEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode new entry: %w", err)
	}
	switch {
	case e.ID == nil:
		return nil, fmt.Errorf("new entry missing id")
	case e.CaseNumber == nil:
		return nil, fmt.Errorf("new entry missing case_number")
	case e.CourtNames == nil:
		return nil, fmt.Errorf("new entry missing court_names")
	case e.HearingDate == nil:
		return nil, fmt.Errorf("new entry missing hearing_date")
	case e.Result == nil:
		return nil, fmt.Errorf("new entry missing result")
	case e.Instance == nil:
		return nil, fmt.Errorf("new entry missing instance")
	case e.PDF == nil || e.PDF.ID == "":
		return nil, fmt.Errorf("new entry missing pdf descriptor")
	}

	categories := e.Categories
	if categories == nil {
		categories = []Category{}
	}

	return &Decision{
		ID:               *e.ID,
		CaseNumber:       *e.CaseNumber,
		CourtNameUZ:      e.CourtNames["uz"],
		CourtNameRU:      e.CourtNames["ru"],
		ResponsibleJudge: e.ResponsibleJudge,
		SpeakerJudge:     e.SpeakerJudge,
		HearingDate:      *e.HearingDate,
		Result:           *e.Result,
		Instance:         *e.Instance,
		Categories:       categories,
		PDFID:            e.PDF.ID,
		PDFName:          e.PDF.Name,
		PDFSize:          e.PDF.Size,
		PDFURL:           n.NewBase + newAttachmentPath + e.PDF.ID,
	}, nil
}

type oldEntry struct {
	ID              *json.Number `json:"id"`
	CaseNumber      string       `json:"caseNumber"`
	DBName          string       `json:"dbName"`
	Judge           *string      `json:"judge"`
	HearingDate     *int64       `json:"hearingDate"`
	Result          string       `json:"result"`
	Category        string       `json:"category"`
	AttachmentsList []struct {
		FileData struct {
			ID   json.Number `json:"id"`
			Name string      `json:"name"`
			Size int64       `json:"size"`
		} `json:"fileData"`
	} `json:"attachmentsList"`
}

func (n *Normalizer) normalizeOld(raw json.RawMessage) (*Decision, error) {
	var e oldEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode old entry: %w", err)
	}
	if e.ID == nil {
		return nil, fmt.Errorf("old entry missing id")
	}
	if len(e.AttachmentsList) == 0 {
		return nil, fmt.Errorf("old entry %s has no attachments", e.ID.String())
	}

	fileData := e.AttachmentsList[0].FileData
	if fileData.ID.String() == "" {
		return nil, fmt.Errorf("old entry %s attachment has no file id", e.ID.String())
	}
	attachmentID := fileData.ID.String()

	// Legacy dates come as epoch milliseconds; missing dates stay empty.
	hearingDate := ""
	if e.HearingDate != nil {
		hearingDate = time.UnixMilli(*e.HearingDate).UTC().Format(time.RFC3339)
	}

	categories := []Category{}
	if e.Category != "" {
		categories = append(categories, Category{"uz": e.Category})
	}

	return &Decision{
		ID:               e.ID.String(),
		CaseNumber:       e.CaseNumber,
		CourtNameUZ:      e.DBName,
		CourtNameRU:      e.DBName,
		ResponsibleJudge: e.Judge,
		SpeakerJudge:     nil,
		HearingDate:      hearingDate,
		Result:           e.Result,
		Instance:         oldInstance,
		Categories:       categories,
		PDFID:            attachmentID,
		PDFName:          fileData.Name,
		PDFSize:          fileData.Size,
		PDFURL:           n.OldBase + oldAttachmentPath + attachmentID + "/",
	}, nil
}
