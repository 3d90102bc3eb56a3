package pipeline

import (
	"time"

	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

// Request is one author-profile capture.
type Request struct {
	Platform        researcher.Source
	Query           string
	ProfileURL      string
	ExportArtifact  bool
	MaxPublications int
}

// ResearcherInfo is the record without its publications.
type ResearcherInfo struct {
	Source            researcher.Source  `json:"source"`
	SourceID          string             `json:"sourceId"`
	ProfileURL        string             `json:"profileUrl"`
	Name              string             `json:"name"`
	Affiliation       string             `json:"affiliation"`
	Metrics           researcher.Metrics `json:"metrics"`
	Areas             []string           `json:"areas"`
	LastProfileUpdate string             `json:"lastProfileUpdate,omitempty"`
	CapturedAt        time.Time          `json:"capturedAt"`
	Retained          bool               `json:"retained"`
	MatchedTerms      []string           `json:"matchedTerms"`
	RetentionReason   string             `json:"retentionReason,omitempty"`
	FallbackUsed      bool               `json:"fallbackUsed"`
}

// Data wraps the publication list.
type Data struct {
	Publications []researcher.Publication `json:"publications"`
}

// ErrorInfo describes why a capture produced no record.
type ErrorInfo struct {
	Kind    researcher.ErrorKind `json:"kind"`
	Message string               `json:"message"`
}

// Response is the result of a capture.
type Response struct {
	Success        bool                    `json:"success"`
	Platform       researcher.Source       `json:"platform"`
	Query          string                  `json:"query"`
	ResearcherInfo *ResearcherInfo         `json:"researcherInfo,omitempty"`
	Data           Data                    `json:"data"`
	TotalResults   int                     `json:"totalResults"`
	ExecutionTime  float64                 `json:"executionTime"`
	ArtifactHandle string                  `json:"artifactHandle,omitempty"`
	Persisted      bool                    `json:"persisted"`
	Truncated      bool                    `json:"truncated"`
	Diagnostics    []researcher.Diagnostic `json:"diagnostics"`
	Error          *ErrorInfo              `json:"error,omitempty"`
	Blocked        *researcher.Blocked     `json:"blocked,omitempty"`
	Handoff        *researcher.Handoff     `json:"handoff,omitempty"`

	// Record is the sealed record of a successful capture.
	Record *researcher.Record `json:"-"`
}

func newResponse(req Request) Response {
	query := req.Query
	if query == "" {
		query = req.ProfileURL
	}
	return Response{
		Platform:    req.Platform,
		Query:       query,
		Data:        Data{Publications: []researcher.Publication{}},
		Diagnostics: []researcher.Diagnostic{},
	}
}

func (r *Response) fail(kind researcher.ErrorKind, err error) {
	r.Success = false
	r.Error = &ErrorInfo{Kind: kind, Message: err.Error()}
}

func (r *Response) setRecord(rec researcher.Record) {
	r.Success = true
	r.Record = &rec
	r.ResearcherInfo = &ResearcherInfo{
		Source:            rec.Source,
		SourceID:          rec.SourceID,
		ProfileURL:        rec.ProfileURL,
		Name:              rec.Name,
		Affiliation:       rec.Affiliation,
		Metrics:           rec.Metrics,
		Areas:             rec.Areas,
		LastProfileUpdate: rec.LastProfileUpdate,
		CapturedAt:        rec.CapturedAt,
		Retained:          rec.Retained,
		MatchedTerms:      rec.MatchedTerms,
		RetentionReason:   rec.RetentionReason,
		FallbackUsed:      rec.FallbackUsed,
	}
	r.Data.Publications = rec.Publications
	r.TotalResults = len(rec.Publications)
	r.Truncated = rec.Truncated
	r.Diagnostics = append(append([]researcher.Diagnostic{}, rec.Diagnostics...), r.Diagnostics...)
}

// Notification is the capture message published after a successful capture.
type Notification struct {
	Source       researcher.Source `json:"source"`
	SourceID     string            `json:"sourceId"`
	CapturedAt   time.Time         `json:"capturedAt"`
	Retained     bool              `json:"retained"`
	Persisted    bool              `json:"persisted"`
	Publications int               `json:"publications"`
}

func newNotification(rec researcher.Record, persisted bool) Notification {
	return Notification{
		Source:       rec.Source,
		SourceID:     rec.SourceID,
		CapturedAt:   rec.CapturedAt,
		Retained:     rec.Retained,
		Persisted:    persisted,
		Publications: len(rec.Publications),
	}
}

// Attributes exposes routing attributes for subscription filters.
func (n Notification) Attributes() map[string]string {
	retained := "false"
	if n.Retained {
		retained = "true"
	}
	return map[string]string{"source": string(n.Source), "retained": retained}
}
