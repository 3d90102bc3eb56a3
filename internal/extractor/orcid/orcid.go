// Package orcid captures researchers from the international identifier registry's public JSON API.
package orcid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/extractor"
	"github.com/JakeFAU/scholar-crawler/internal/fetcher"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

const (
	// DefaultBaseURL is the public API host.
	DefaultBaseURL = "https://pub.orcid.org"
	// DefaultSearchRows is how many hits a name search asks for.
	DefaultSearchRows = 5

	apiVersion = "/v3.0"
)

var (
	idPattern      = regexp.MustCompile(`\b(\d{4}-\d{4}-\d{4}-\d{3}[\dX])\b`)
	exactIDPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)
)

// Config configures the extractor.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	SearchRows int
}

// Extractor implements researcher.Extractor for the INT source.
type Extractor struct {
	fetcher fetcher.Fetcher
	cfg     Config
	clock   researcher.Clock
	logger  *zap.Logger
}

var _ researcher.Extractor = (*Extractor)(nil)

// New builds an extractor.
func New(f fetcher.Fetcher, cfg Config, clock researcher.Clock, logger *zap.Logger) *Extractor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SearchRows <= 0 {
		cfg.SearchRows = DefaultSearchRows
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: f, cfg: cfg, clock: clock, logger: logger}
}

// Source implements researcher.Extractor.
func (e *Extractor) Source() researcher.Source { return researcher.SourceINT }

// Extract implements researcher.Extractor.
func (e *Extractor) Extract(ctx context.Context, q researcher.Query) researcher.Outcome {
	var id string
	switch {
	case strings.TrimSpace(q.ProfileURL) != "":
		parsed, err := ParseID(q.ProfileURL)
		if err != nil {
			return extractor.FailedFrom(researcher.SourceINT, err)
		}
		id = parsed
	case strings.TrimSpace(q.Name) != "":
		found, outcome := e.search(ctx, strings.TrimSpace(q.Name))
		if outcome != nil {
			return outcome
		}
		id = found
	default:
		return researcher.Failed{
			Source: researcher.SourceINT,
			Kind:   researcher.KindInvalidInput,
			Err:    fmt.Errorf("%w: profile url or name required", researcher.ErrInvalidInput),
		}
	}

	resp, err := e.fetcher.Fetch(ctx, e.jsonRequest(apiVersion+"/"+id, nil))
	if err != nil {
		if extractor.IsNotFound(err) {
			return researcher.NotFound{Source: researcher.SourceINT, Identifier: id, Reason: "no record for identifier"}
		}
		e.logger.Warn("record fetch failed", zap.String("source_id", id), zap.Error(err))
		return extractor.FailedFrom(researcher.SourceINT, fmt.Errorf("fetch record %s: %w", id, err))
	}

	var rec record
	if err := json.Unmarshal(resp.Body, &rec); err != nil {
		return extractor.FailedFrom(researcher.SourceINT, fmt.Errorf("decode record %s: %w", id, err))
	}
	raw := toRaw(rec, q.Limit())
	raw.Source = researcher.SourceINT
	raw.SourceID = id
	raw.ProfileURL = "https://orcid.org/" + id
	raw.CapturedAt = e.clock.Now()
	return researcher.Extracted{Raw: raw}
}

// search resolves a name to the first matching identifier. A non-nil outcome ends the capture.
func (e *Extractor) search(ctx context.Context, name string) (string, researcher.Outcome) {
	term := strings.ReplaceAll(name, `"`, "")
	query := fmt.Sprintf(`given-names:"%[1]s" OR family-name:"%[1]s" OR credit-name:"%[1]s" OR other-names:"%[1]s"`, term)
	params := url.Values{"q": {query}, "rows": {fmt.Sprint(e.cfg.SearchRows)}}

	resp, err := e.fetcher.Fetch(ctx, e.jsonRequest(apiVersion+"/search", params))
	if err != nil {
		return "", extractor.FailedFrom(researcher.SourceINT, fmt.Errorf("search %q: %w", name, err))
	}
	var result searchResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return "", extractor.FailedFrom(researcher.SourceINT, fmt.Errorf("decode search: %w", err))
	}
	for _, hit := range result.Result {
		if exactIDPattern.MatchString(hit.Identifier.Path) {
			e.logger.Debug("name resolved", zap.String("query", name), zap.String("source_id", hit.Identifier.Path))
			return hit.Identifier.Path, nil
		}
	}
	return "", researcher.NotFound{Source: researcher.SourceINT, Identifier: name, Reason: "search returned no records"}
}

func (e *Extractor) jsonRequest(path string, params url.Values) fetcher.Request {
	return fetcher.Request{
		URL:     e.cfg.BaseURL + path,
		Params:  params,
		Timeout: e.cfg.Timeout,
		Profile: fetcher.Aggressive,
		JSON:    true,
	}
}

// ParseID extracts and validates an identifier from a bare id or a profile URL.
func ParseID(raw string) (string, error) {
	id := idPattern.FindString(strings.ToUpper(strings.TrimSpace(raw)))
	if id == "" {
		return "", fmt.Errorf("%w: no identifier in %q", researcher.ErrInvalidInput, raw)
	}
	if !ValidChecksum(id) {
		return "", fmt.Errorf("%w: identifier %s fails its check digit", researcher.ErrInvalidInput, id)
	}
	return id, nil
}

// ValidChecksum verifies the ISO 7064 11,2 check character of a dashed identifier.
func ValidChecksum(id string) bool {
	digits := strings.ReplaceAll(id, "-", "")
	if len(digits) != 16 {
		return false
	}
	total := 0
	for _, r := range digits[:15] {
		if r < '0' || r > '9' {
			return false
		}
		total = (total + int(r-'0')) * 2
	}
	result := (12 - total%11) % 11
	want := byte('0' + result)
	if result == 10 {
		want = 'X'
	}
	return digits[15] == want
}

func toRaw(rec record, limit int) researcher.RawRecord {
	raw := researcher.RawRecord{}
	if p := rec.Person; p != nil {
		if n := p.Name; n != nil {
			raw.Name = displayName(n.CreditName, n.GivenNames, n.FamilyName)
		}
		if p.Keywords != nil {
			for _, kw := range p.Keywords.Keyword {
				raw.Areas = append(raw.Areas, kw.Content)
			}
		}
	}
	if a := rec.Activities; a != nil {
		raw.Affiliation = firstAffiliation(a.Employments, a.Educations)
		if a.Works != nil {
			raw.Publications = works(a.Works.Group, limit)
		}
	}
	switch {
	case rec.History != nil && rec.History.LastModified != nil:
		raw.LastUpdate = formatEpoch(rec.History.LastModified.Value)
	case rec.Activities != nil && rec.Activities.LastModified != nil:
		raw.LastUpdate = formatEpoch(rec.Activities.LastModified.Value)
	}
	return raw
}

func displayName(credit, given, family *value) string {
	if credit != nil && strings.TrimSpace(credit.Value) != "" {
		return credit.Value
	}
	var parts []string
	for _, v := range []*value{given, family} {
		if v != nil && strings.TrimSpace(v.Value) != "" {
			parts = append(parts, strings.TrimSpace(v.Value))
		}
	}
	return strings.Join(parts, " ")
}

func firstAffiliation(employments, educations *groups) string {
	for _, g := range []*groups{employments, educations} {
		if g == nil {
			continue
		}
		for _, group := range g.Group {
			for _, s := range group.Summaries {
				for _, a := range []*affiliation{s.Employment, s.Education} {
					if a != nil && strings.TrimSpace(a.Organization.Name) != "" {
						return a.Organization.Name
					}
				}
			}
		}
	}
	return ""
}

func works(groups []workGroup, limit int) []researcher.RawPublication {
	var out []researcher.RawPublication
	for _, g := range groups {
		if len(out) >= limit {
			break
		}
		if len(g.Summaries) == 0 {
			continue
		}
		w := g.Summaries[0]
		pub := researcher.RawPublication{
			Type:      w.Type,
			SourceTag: researcher.TagORCID,
		}
		if w.Title != nil && w.Title.Title != nil {
			pub.Title = w.Title.Title.Value
		}
		if w.JournalTitle != nil {
			pub.Venue = w.JournalTitle.Value
		}
		if d := w.PublicationDate; d != nil {
			if d.Year != nil {
				pub.Year = d.Year.Value
			}
			pub.PublishedOn = formatFuzzyDate(d)
		}
		pub.Link = workLink(w)
		out = append(out, pub)
	}
	return out
}

func workLink(w workSummary) string {
	if w.URL != nil && w.URL.Value != "" {
		return w.URL.Value
	}
	if w.ExternalIDs != nil {
		for _, ext := range w.ExternalIDs.ExternalID {
			if strings.EqualFold(ext.Type, "doi") && ext.Value != "" {
				return "https://doi.org/" + ext.Value
			}
		}
	}
	return ""
}

// formatFuzzyDate renders DD/MM/YYYY, MM/YYYY or YYYY depending on the parts present.
func formatFuzzyDate(d *fuzzyDate) string {
	if d == nil || d.Year == nil || d.Year.Value == "" {
		return ""
	}
	year := d.Year.Value
	if d.Month == nil || d.Month.Value == "" {
		return year
	}
	month := pad2(d.Month.Value)
	if d.Day == nil || d.Day.Value == "" {
		return month + "/" + year
	}
	return pad2(d.Day.Value) + "/" + month + "/" + year
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func formatEpoch(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("02/01/2006")
}
