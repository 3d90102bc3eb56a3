package researcher

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the system a record was captured from.
type Source string

const (
	// SourceBR is the Brazilian curriculum registry (Lattes).
	SourceBR Source = "BR"
	// SourceINT is the international researcher identifier registry (ORCID).
	SourceINT Source = "INT"
	// SourceScholar is the citation search engine (Google Scholar).
	SourceScholar Source = "Scholar"
)

// Unknown is the sentinel stored for missing names and affiliations.
const Unknown = "unknown"

// Publication source tags.
const (
	TagLattes     = "lattes"
	TagORCID      = "orcid"
	TagScholar    = "scholar"
	TagScholarAPI = "scholar-api"
)

// Retention reasons recorded by the keyword filter.
const (
	RetainedByKeyword       = "keyword"
	RetainedByScholarBypass = "scholar-bypass"
)

// ParseSource maps a platform name onto a Source. Common aliases are accepted.
func ParseSource(raw string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "br", "lattes":
		return SourceBR, nil
	case "int", "orcid":
		return SourceINT, nil
	case "scholar", "google_scholar", "google-scholar", "googlescholar":
		return SourceScholar, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, raw)
	}
}

// Metrics holds the bibliometric indices of a researcher. Unresolved values are 0.
type Metrics struct {
	HIndex         int `json:"hIndex"`
	I10Index       int `json:"i10Index"`
	TotalCitations int `json:"totalCitations"`
}

// Publication is one bibliographic entry inside a Record.
type Publication struct {
	Title        string   `json:"title"`
	Authors      string   `json:"authors"`
	Venue        string   `json:"venue"`
	Year         *int     `json:"year"`
	Citations    int      `json:"citations"`
	Type         string   `json:"type"`
	SourceTag    string   `json:"sourceTag"`
	Link         string   `json:"link"`
	PublishedOn  string   `json:"publishedOn,omitempty"`
	Snippet      string   `json:"snippet,omitempty"`
	MatchedTerms []string `json:"matchedTerms,omitempty"`
}

// Diagnostic reports a value that was downgraded, skipped or could not be resolved.
type Diagnostic struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Diagnostic codes.
const (
	DiagMetricSuspect    = "metric_suspect"
	DiagMetricOutOfRange = "metric_out_of_range"
	DiagMetricUnresolved = "metric_unresolved"
	DiagYearOutOfRange   = "year_out_of_range"
	DiagTitleMissing     = "title_missing"
	DiagPageFailed       = "page_failed"
	DiagTruncated        = "truncated"
	DiagFallbackUsed     = "fallback_used"
	DiagFallbackFailed   = "fallback_failed"
	DiagFieldMissing     = "field_missing"
)

// Record is the canonical researcher record produced by the normalizer.
type Record struct {
	Source            Source        `json:"source"`
	SourceID          string        `json:"sourceId"`
	ProfileURL        string        `json:"profileUrl"`
	Name              string        `json:"name"`
	Affiliation       string        `json:"affiliation"`
	Metrics           Metrics       `json:"metrics"`
	Areas             []string      `json:"areas"`
	LastProfileUpdate string        `json:"lastProfileUpdate,omitempty"`
	Publications      []Publication `json:"publications"`
	CapturedAt        time.Time     `json:"capturedAt"`
	Retained          bool          `json:"retained"`
	MatchedTerms      []string      `json:"matchedTerms,omitempty"`
	RetentionReason   string        `json:"retentionReason,omitempty"`
	FallbackUsed      bool          `json:"fallbackUsed"`
	Truncated         bool          `json:"truncated"`
	ExecutionSeconds  float64       `json:"executionSeconds"`
	Diagnostics       []Diagnostic  `json:"diagnostics,omitempty"`
}

// Key is the idempotency key of a stored record.
type Key struct {
	Source   Source
	SourceID string
	Date     string
}

// CaptureDate returns the UTC calendar day of the capture as YYYY-MM-DD.
func (r Record) CaptureDate() string {
	return r.CapturedAt.UTC().Format(time.DateOnly)
}

// Key returns the (source, sourceId, day) idempotency key.
func (r Record) Key() Key {
	return Key{Source: r.Source, SourceID: r.SourceID, Date: r.CaptureDate()}
}

// Clone returns a deep copy. The pipeline seals a record by cloning it before it is persisted.
func (r Record) Clone() Record {
	out := r
	out.Areas = cloneStrings(r.Areas)
	out.MatchedTerms = cloneStrings(r.MatchedTerms)
	if r.Diagnostics != nil {
		out.Diagnostics = append([]Diagnostic(nil), r.Diagnostics...)
	}
	if r.Publications != nil {
		out.Publications = make([]Publication, len(r.Publications))
		for i, p := range r.Publications {
			out.Publications[i] = p.clone()
		}
	}
	return out
}

func (p Publication) clone() Publication {
	out := p
	if p.Year != nil {
		y := *p.Year
		out.Year = &y
	}
	out.MatchedTerms = cloneStrings(p.MatchedTerms)
	return out
}

// Raw converts a normalized record back into normalizer input. Filter annotations are dropped.
func (r Record) Raw() RawRecord {
	raw := RawRecord{
		Source:       r.Source,
		SourceID:     r.SourceID,
		ProfileURL:   r.ProfileURL,
		Name:         r.Name,
		Affiliation:  r.Affiliation,
		Areas:        cloneStrings(r.Areas),
		LastUpdate:   r.LastProfileUpdate,
		CapturedAt:   r.CapturedAt,
		Truncated:    r.Truncated,
		FallbackUsed: r.FallbackUsed,
		Metrics: RawMetrics{
			HIndex:         fmt.Sprint(r.Metrics.HIndex),
			I10Index:       fmt.Sprint(r.Metrics.I10Index),
			TotalCitations: fmt.Sprint(r.Metrics.TotalCitations),
		},
	}
	if r.Diagnostics != nil {
		raw.Diagnostics = append([]Diagnostic(nil), r.Diagnostics...)
	}
	if r.Publications != nil {
		raw.Publications = make([]RawPublication, 0, len(r.Publications))
	}
	for _, p := range r.Publications {
		year := ""
		if p.Year != nil {
			year = fmt.Sprint(*p.Year)
		}
		raw.Publications = append(raw.Publications, RawPublication{
			Title:       p.Title,
			Authors:     p.Authors,
			Venue:       p.Venue,
			Year:        year,
			Citations:   fmt.Sprint(p.Citations),
			Type:        p.Type,
			SourceTag:   p.SourceTag,
			Link:        p.Link,
			PublishedOn: p.PublishedOn,
			Snippet:     p.Snippet,
		})
	}
	return raw
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	return append([]string(nil), src...)
}
