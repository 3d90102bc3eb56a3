package researcher

import "time"

// RawMetrics carries metric values exactly as a source rendered them ("1.234", "N/A", "").
type RawMetrics struct {
	HIndex         string
	I10Index       string
	TotalCitations string
}

// RawPublication is a publication before coercion. Joined marks an unsplit "Authors - Venue" blob
// held in Authors.
type RawPublication struct {
	Title       string
	Authors     string
	Venue       string
	Year        string
	Citations   string
	Type        string
	SourceTag   string
	Link        string
	PublishedOn string
	Snippet     string
	Joined      bool
}

// Fallback is the secondary data set gathered from the paid search API for a Scholar profile.
// The normalizer uses it to fill metrics that HTML left at zero and publications when HTML found none.
type Fallback struct {
	Metrics      RawMetrics
	Publications []RawPublication
}

// RawRecord is what an extractor hands to the normalizer.
type RawRecord struct {
	Source       Source
	SourceID     string
	ProfileURL   string
	Name         string
	Affiliation  string
	Areas        []string
	LastUpdate   string
	Metrics      RawMetrics
	Publications []RawPublication
	Fallback     *Fallback
	CapturedAt   time.Time
	Truncated    bool
	FallbackUsed bool
	Diagnostics  []Diagnostic
}

// AddDiagnostic appends a diagnostic entry.
func (r *RawRecord) AddDiagnostic(code, field, message string) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Code: code, Field: field, Message: message})
}

// Query is the input of one extraction.
type Query struct {
	Platform        Source
	Name            string
	ProfileURL      string
	MaxPublications int
}

// DefaultMaxPublications applies when a query leaves MaxPublications unset.
const DefaultMaxPublications = 20

// Limit returns the effective publication cap of the query.
func (q Query) Limit() int {
	if q.MaxPublications <= 0 {
		return DefaultMaxPublications
	}
	return q.MaxPublications
}
