// Package normalize turns extractor output into canonical researcher records. Normalize is a fixed
// point: feeding a normalized record back through Record.Raw yields the same record.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

const (
	// DefaultHIndexMax bounds plausible h-index values.
	DefaultHIndexMax = 500
	// DefaultI10IndexMax bounds plausible i10-index values.
	DefaultI10IndexMax = 1000
	// MaxAreas caps research areas per record.
	MaxAreas = 5

	minYear = 1900
)

var (
	sentinels = map[string]struct{}{
		"":     {},
		"n/a":  {},
		"-":    {},
		"null": {},
		"none": {},
		"—":    {},
	}
	trailingYears = regexp.MustCompile(`(?:,\s*(?:19|20)\d{2}\s*)+$`)
	yearToken     = regexp.MustCompile(`(19|20)\d{2}`)
	groupSep      = strings.NewReplacer(".", "", ",", "", " ", "")
)

// Config bounds the metric values accepted as plausible.
type Config struct {
	HIndexMax   int
	I10IndexMax int
}

// Normalizer applies Config. The clock supplies the current year for year validation.
type Normalizer struct {
	cfg   Config
	clock researcher.Clock
}

// New builds a Normalizer; zero bounds take the defaults.
func New(cfg Config, clock researcher.Clock) *Normalizer {
	if cfg.HIndexMax <= 0 {
		cfg.HIndexMax = DefaultHIndexMax
	}
	if cfg.I10IndexMax <= 0 {
		cfg.I10IndexMax = DefaultI10IndexMax
	}
	return &Normalizer{cfg: cfg, clock: clock}
}

// Normalize converts a raw record. Values that cannot be trusted are downgraded and reported as
// diagnostics; nothing is invented.
func (n *Normalizer) Normalize(raw researcher.RawRecord) researcher.Record {
	rec := researcher.Record{
		Source:            raw.Source,
		SourceID:          Text(raw.SourceID),
		ProfileURL:        Text(raw.ProfileURL),
		Name:              orUnknown(Text(raw.Name)),
		Affiliation:       orUnknown(Text(raw.Affiliation)),
		Areas:             areas(raw.Areas),
		LastProfileUpdate: Text(raw.LastUpdate),
		CapturedAt:        raw.CapturedAt.UTC(),
		Truncated:         raw.Truncated,
		FallbackUsed:      raw.FallbackUsed,
	}
	if raw.Diagnostics != nil {
		rec.Diagnostics = append([]researcher.Diagnostic(nil), raw.Diagnostics...)
	}
	diag := func(code, field, format string, args ...any) {
		rec.Diagnostics = append(rec.Diagnostics, researcher.Diagnostic{
			Code:    code,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	pubs := raw.Publications
	if len(pubs) == 0 && raw.Fallback != nil {
		pubs = raw.Fallback.Publications
	}
	rec.Publications = make([]researcher.Publication, 0, len(pubs))
	maxYear := n.clock.Now().UTC().Year() + 1
	for i, p := range pubs {
		pub, ok := n.publication(p, maxYear, func(code, field, msg string) {
			diag(code, field, "publication %d: %s", i, msg)
		})
		if ok {
			rec.Publications = append(rec.Publications, pub)
		}
	}

	var fallback *researcher.RawMetrics
	if raw.Fallback != nil {
		fallback = &raw.Fallback.Metrics
	}
	rec.Metrics = n.metrics(raw.Metrics, fallback, diag)
	return rec
}

type diagFunc func(code, field, format string, args ...any)

func (n *Normalizer) metrics(primary researcher.RawMetrics, fallback *researcher.RawMetrics, diag diagFunc) researcher.Metrics {
	pick := func(field string, raw string, fb func(researcher.RawMetrics) string, limit int) int {
		v := n.bounded(field, raw, limit, diag)
		if v == 0 && fallback != nil {
			v = n.bounded(field, fb(*fallback), limit, diag)
		}
		return v
	}
	m := researcher.Metrics{
		HIndex:         pick("hIndex", primary.HIndex, func(r researcher.RawMetrics) string { return r.HIndex }, n.cfg.HIndexMax),
		I10Index:       pick("i10Index", primary.I10Index, func(r researcher.RawMetrics) string { return r.I10Index }, n.cfg.I10IndexMax),
		TotalCitations: pick("totalCitations", primary.TotalCitations, func(r researcher.RawMetrics) string { return r.TotalCitations }, 0),
	}
	if m.HIndex > 0 && m.TotalCitations > 0 && m.HIndex > m.TotalCitations {
		diag(researcher.DiagMetricSuspect, "hIndex", "h-index %d exceeds total citations %d", m.HIndex, m.TotalCitations)
		m.HIndex = 0
	}
	return m
}

// bounded coerces raw and drops values above limit (0 means unbounded).
func (n *Normalizer) bounded(field, raw string, limit int, diag diagFunc) int {
	v, ok := ParseCount(raw)
	if !ok {
		if Text(raw) != "" {
			diag(researcher.DiagMetricUnresolved, field, "value %q is not a count", Text(raw))
		}
		return 0
	}
	if limit > 0 && v > limit {
		diag(researcher.DiagMetricOutOfRange, field, "value %d above bound %d", v, limit)
		return 0
	}
	return v
}

func (n *Normalizer) publication(p researcher.RawPublication, maxYear int, diag func(code, field, msg string)) (researcher.Publication, bool) {
	title := Text(p.Title)
	if title == "" {
		diag(researcher.DiagTitleMissing, "title", "dropped entry without title")
		return researcher.Publication{}, false
	}

	authors, venue := Text(p.Authors), Text(p.Venue)
	if p.Joined {
		authors, venue = splitJoined(authors)
	}
	yearText := Text(p.Year)
	if loc := trailingYears.FindStringIndex(venue); loc != nil {
		tail := yearToken.FindAllString(venue[loc[0]:], -1)
		if yearText == "" && len(tail) > 0 {
			yearText = tail[len(tail)-1]
		}
		venue = strings.TrimSpace(venue[:loc[0]])
	}

	pub := researcher.Publication{
		Title:       title,
		Authors:     authors,
		Venue:       venue,
		Type:        Text(p.Type),
		SourceTag:   Text(p.SourceTag),
		Link:        Text(p.Link),
		PublishedOn: Text(p.PublishedOn),
		Snippet:     Text(p.Snippet),
	}
	if citations, ok := ParseCount(p.Citations); ok {
		pub.Citations = citations
	}
	if yearText != "" {
		year, err := strconv.Atoi(yearText)
		switch {
		case err != nil:
			diag(researcher.DiagYearOutOfRange, "year", fmt.Sprintf("unparseable year %q", yearText))
		case year < minYear || year > maxYear:
			diag(researcher.DiagYearOutOfRange, "year", fmt.Sprintf("year %d outside [%d, %d]", year, minYear, maxYear))
		default:
			pub.Year = &year
		}
	}
	return pub, true
}

// splitJoined separates an "Authors - Venue" blob on the first " - ".
func splitJoined(blob string) (string, string) {
	authors, venue, found := strings.Cut(blob, " - ")
	if !found {
		return blob, ""
	}
	return strings.TrimSpace(authors), strings.TrimSpace(venue)
}

func areas(raw []string) []string {
	out := make([]string, 0, min(len(raw), MaxAreas))
	seen := make(map[string]struct{}, len(raw))
	for _, a := range raw {
		a = Text(a)
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
		if len(out) == MaxAreas {
			break
		}
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return researcher.Unknown
	}
	return s
}

// Text applies NFC, collapses whitespace and maps sentinel placeholders to "".
func Text(s string) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	if _, ok := sentinels[strings.ToLower(s)]; ok {
		return ""
	}
	return s
}

// ParseCount coerces a rendered count ("1.234", "1,234", "1 234") into an int. ok is false for
// empty, sentinel or non-numeric input.
func ParseCount(s string) (int, bool) {
	s = groupSep.Replace(Text(s))
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
