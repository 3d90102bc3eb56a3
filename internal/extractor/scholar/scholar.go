// Package scholar captures researcher profiles from the citation search engine. HTML pages are the
// primary path; the paid search API fills in when the HTML path is blocked, empty or incomplete.
package scholar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/extractor"
	"github.com/JakeFAU/scholar-crawler/internal/fetcher"
	"github.com/JakeFAU/scholar-crawler/internal/metrics"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
	"github.com/JakeFAU/scholar-crawler/internal/serpapi"
)

const (
	// DefaultBaseURL is the public host.
	DefaultBaseURL = "https://scholar.google.com"
	// DefaultMaxPages caps pagination regardless of the requested maximum.
	DefaultMaxPages = 50
	// PageSize is the number of rows per profile page.
	PageSize = 20

	language       = "pt-BR"
	acceptLanguage = "pt-BR,pt;q=0.9,en;q=0.8"
)

// Fallback triggers, used as metric labels and diagnostics.
const (
	TriggerCaptcha        = "captcha"
	TriggerLoginWall      = "login_wall"
	TriggerNoPublications = "no_publications"
	TriggerFetchFailed    = "fetch_failed"
	TriggerMissingMetrics = "missing_metrics"
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)

// Config configures the extractor.
type Config struct {
	BaseURL                  string
	Timeout                  time.Duration
	MaxPages                 int
	FallbackOnMissingMetrics bool
	Bounds                   Bounds
}

// Extractor implements researcher.Extractor for the Scholar source.
type Extractor struct {
	fetcher fetcher.Fetcher
	api     *serpapi.Client
	cfg     Config
	base    *url.URL
	clock   researcher.Clock
	logger  *zap.Logger
}

var _ researcher.Extractor = (*Extractor)(nil)

// New builds an extractor. api may be nil or disabled, which turns the fallback off.
func New(f fetcher.Fetcher, api *serpapi.Client, cfg Config, clock researcher.Clock, logger *zap.Logger) (*Extractor, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	base, err := url.Parse(cfg.BaseURL + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: f, api: api, cfg: cfg, base: base, clock: clock, logger: logger}, nil
}

// Source implements researcher.Extractor.
func (e *Extractor) Source() researcher.Source { return researcher.SourceScholar }

// Extract implements researcher.Extractor.
func (e *Extractor) Extract(ctx context.Context, q researcher.Query) researcher.Outcome {
	var token string
	switch {
	case strings.TrimSpace(q.ProfileURL) != "":
		parsed, err := ParseUser(q.ProfileURL)
		if err != nil {
			return extractor.FailedFrom(researcher.SourceScholar, err)
		}
		token = parsed
	case strings.TrimSpace(q.Name) != "":
		found, outcome := e.searchAuthor(ctx, strings.TrimSpace(q.Name))
		if outcome != nil {
			return outcome
		}
		token = found
	default:
		return researcher.Failed{
			Source: researcher.SourceScholar,
			Kind:   researcher.KindInvalidInput,
			Err:    fmt.Errorf("%w: profile url or name required", researcher.ErrInvalidInput),
		}
	}
	return e.profile(ctx, token, q.Limit())
}

// ParseUser extracts the account token from a profile URL or accepts a bare token.
func ParseUser(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if tokenPattern.MatchString(raw) {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: profile url %q: %v", researcher.ErrInvalidInput, raw, err)
	}
	token := u.Query().Get("user")
	if !tokenPattern.MatchString(token) {
		return "", fmt.Errorf("%w: no account token in %q", researcher.ErrInvalidInput, raw)
	}
	return token, nil
}

// ProfileURL returns the canonical profile link for token.
func (e *Extractor) ProfileURL(token string) string {
	return e.cfg.BaseURL + "/citations?user=" + url.QueryEscape(token)
}

func (e *Extractor) request(params url.Values) fetcher.Request {
	params.Set("hl", language)
	return fetcher.Request{
		URL:            e.cfg.BaseURL + "/citations",
		Params:         params,
		Timeout:        e.cfg.Timeout,
		Profile:        fetcher.Polite,
		AcceptLanguage: acceptLanguage,
		Referer:        e.cfg.BaseURL + "/",
	}
}

func (e *Extractor) searchAuthor(ctx context.Context, name string) (string, researcher.Outcome) {
	logger := e.logger.With(zap.String("platform", string(researcher.SourceScholar)), zap.String("query", name))
	resp, err := e.fetcher.Fetch(ctx, e.request(url.Values{
		"view_op":  {"search_authors"},
		"mauthors": {name},
	}))
	if err != nil {
		if !errors.Is(err, fetcher.ErrBlocked) {
			return "", extractor.FailedFrom(researcher.SourceScholar, fmt.Errorf("author search: %w", err))
		}
		if !e.api.Enabled() {
			return "", researcher.Blocked{
				Source:     researcher.SourceScholar,
				Identifier: name,
				Manual:     true,
				Guidance:   "author search requires sign-in; submit the profile URL instead",
			}
		}
		logger.Info("author search blocked, using paid profile search")
		profiles, apiErr := e.api.SearchProfiles(ctx, name)
		if apiErr != nil {
			metrics.ObserveFallback(TriggerLoginWall, "failed")
			if errors.Is(apiErr, researcher.ErrProfileNotFound) {
				return "", researcher.NotFound{Source: researcher.SourceScholar, Identifier: name, Reason: apiErr.Error()}
			}
			return "", extractor.FailedFrom(researcher.SourceScholar, fmt.Errorf("author search blocked, profile search failed: %w", apiErr))
		}
		metrics.ObserveFallback(TriggerLoginWall, "ok")
		for _, p := range profiles {
			if p.AuthorID != "" {
				return p.AuthorID, nil
			}
		}
		return "", researcher.NotFound{Source: researcher.SourceScholar, Identifier: name, Reason: "profile search returned no authors"}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return "", extractor.FailedFrom(researcher.SourceScholar, fmt.Errorf("parse author search: %w", err))
	}
	token := firstAuthorToken(doc)
	if token == "" {
		return "", researcher.NotFound{Source: researcher.SourceScholar, Identifier: name, Reason: "no author cards"}
	}
	logger.Debug("author resolved", zap.String("source_id", token))
	return token, nil
}

// capture accumulates one profile walk.
type capture struct {
	raw        researcher.RawRecord
	header     *header
	trigger    string
	primaryErr error
}

func (e *Extractor) profile(ctx context.Context, token string, limit int) researcher.Outcome {
	logger := e.logger.With(zap.String("platform", string(researcher.SourceScholar)), zap.String("source_id", token))
	c := &capture{raw: researcher.RawRecord{
		Source:     researcher.SourceScholar,
		SourceID:   token,
		ProfileURL: e.ProfileURL(token),
	}}

	if outcome := e.paginate(ctx, c, token, limit, logger); outcome != nil {
		return outcome
	}

	if c.trigger == "" && c.header != nil {
		switch {
		case len(c.raw.Publications) == 0 && !c.raw.Truncated:
			c.trigger = TriggerNoPublications
		case !c.header.Resolved() && e.cfg.FallbackOnMissingMetrics:
			c.trigger = TriggerMissingMetrics
		}
	}
	if c.header != nil {
		for _, field := range c.header.Unresolved {
			c.raw.AddDiagnostic(researcher.DiagMetricUnresolved, field, "no statistics strategy produced a plausible value")
		}
	}

	if c.trigger != "" {
		if outcome := e.fallback(ctx, c, token, limit, logger); outcome != nil {
			return outcome
		}
	}
	c.raw.CapturedAt = e.clock.Now()
	return researcher.Extracted{Raw: c.raw}
}

// paginate walks the profile pages. It returns a non-nil outcome only when the capture must end
// without a fallback attempt.
func (e *Extractor) paginate(ctx context.Context, c *capture, token string, limit int, logger *zap.Logger) researcher.Outcome {
	for page := 0; page < e.cfg.MaxPages && len(c.raw.Publications) < limit; page++ {
		cstart := page * PageSize
		resp, err := e.fetcher.Fetch(ctx, e.request(url.Values{
			"user":     {token},
			"cstart":   {strconv.Itoa(cstart)},
			"pagesize": {strconv.Itoa(PageSize)},
		}))
		if err != nil {
			switch {
			case errors.Is(err, fetcher.ErrBlocked):
				c.trigger = TriggerCaptcha
				c.primaryErr = err
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				if page == 0 {
					return extractor.FailedFrom(researcher.SourceScholar, fmt.Errorf("profile page: %w", err))
				}
				c.raw.Truncated = true
				c.raw.AddDiagnostic(researcher.DiagTruncated, "publications",
					fmt.Sprintf("deadline reached after %d pages", page))
			case page == 0 && extractor.IsNotFound(err):
				return researcher.NotFound{Source: researcher.SourceScholar, Identifier: token, Reason: "no profile for account token"}
			case page == 0:
				c.trigger = TriggerFetchFailed
				c.primaryErr = err
			default:
				c.raw.AddDiagnostic(researcher.DiagPageFailed, "publications",
					fmt.Sprintf("page at cstart=%d failed: %v", cstart, err))
			}
			logger.Info("profile pagination stopped", zap.Int("cstart", cstart), zap.Error(err))
			return nil
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			c.raw.AddDiagnostic(researcher.DiagPageFailed, "publications", fmt.Sprintf("page at cstart=%d: %v", cstart, err))
			return nil
		}
		if hasCaptcha(doc) {
			c.trigger = TriggerCaptcha
			c.primaryErr = fmt.Errorf("captcha element on page at cstart=%d: %w", cstart, researcher.ErrProfileBlocked)
			return nil
		}
		if page == 0 {
			h := parseHeader(doc, e.cfg.Bounds)
			c.header = &h
			c.raw.Name, c.raw.Affiliation, c.raw.Areas, c.raw.Metrics = h.Name, h.Affiliation, h.Areas, h.Metrics
			logger.Debug("profile header parsed", zap.Any("metric_strategies", h.Strategies), zap.Strings("unresolved", h.Unresolved))
		}

		rows := parsePublications(doc, e.base)
		for _, row := range rows {
			if len(c.raw.Publications) >= limit {
				break
			}
			c.raw.Publications = append(c.raw.Publications, row)
		}
		if len(rows) < PageSize {
			return nil
		}
	}
	return nil
}

// fallback queries the paid API. A non-nil outcome means both paths failed.
func (e *Extractor) fallback(ctx context.Context, c *capture, token string, limit int, logger *zap.Logger) researcher.Outcome {
	primaryFailed := c.header == nil
	if !e.api.Enabled() || ctx.Err() != nil {
		if primaryFailed {
			return e.primaryFailure(c, token)
		}
		if c.trigger == TriggerCaptcha {
			c.truncate("paid api unavailable")
		}
		return nil
	}

	logger.Info("using paid api fallback", zap.String("trigger", c.trigger))
	author, err := e.api.Author(ctx, token, limit)
	if err != nil {
		metrics.ObserveFallback(c.trigger, "failed")
		logger.Warn("paid api fallback failed", zap.String("trigger", c.trigger), zap.Error(err))
		if primaryFailed {
			if errors.Is(err, researcher.ErrProfileNotFound) {
				return researcher.NotFound{Source: researcher.SourceScholar, Identifier: token, Reason: err.Error()}
			}
			return e.primaryFailure(c, token)
		}
		c.raw.AddDiagnostic(researcher.DiagFallbackFailed, "", fmt.Sprintf("%s: %v", c.trigger, err))
		if c.trigger == TriggerCaptcha {
			c.truncate("paid api fallback failed")
		}
		return nil
	}

	metrics.ObserveFallback(c.trigger, "ok")
	c.raw.Fallback = author.Fallback()
	c.raw.FallbackUsed = true
	c.raw.AddDiagnostic(researcher.DiagFallbackUsed, "", c.trigger)
	if c.raw.Name == "" {
		c.raw.Name = author.Name
	}
	if c.raw.Affiliation == "" {
		c.raw.Affiliation = author.Affiliation
	}
	if len(c.raw.Areas) == 0 {
		c.raw.Areas = author.Interests
	}
	if c.trigger == TriggerCaptcha {
		c.extend(author.Publications, limit)
	}
	return nil
}

// truncate marks a walk cut short by a CAPTCHA that nothing could fill in.
func (c *capture) truncate(reason string) {
	c.raw.Truncated = true
	c.raw.AddDiagnostic(researcher.DiagTruncated, "publications",
		fmt.Sprintf("captcha after %d publications, %s", len(c.raw.Publications), reason))
}

// extend appends the fallback publications past those the HTML pages already produced. Both lists
// share the profile's order, so the first len(HTML) fallback entries are the pages already read.
func (c *capture) extend(pubs []researcher.RawPublication, limit int) {
	if len(c.raw.Publications) == 0 {
		return
	}
	for _, p := range pubs[min(len(c.raw.Publications), len(pubs)):] {
		if len(c.raw.Publications) >= limit {
			break
		}
		c.raw.Publications = append(c.raw.Publications, p)
	}
}

func (e *Extractor) primaryFailure(c *capture, token string) researcher.Outcome {
	if c.trigger == TriggerCaptcha {
		return researcher.Blocked{
			Source:     researcher.SourceScholar,
			Identifier: token,
			ProfileURL: e.ProfileURL(token),
			Manual:     true,
			Guidance:   "profile is behind a CAPTCHA; configure a paid API key or retry later",
		}
	}
	return extractor.FailedFrom(researcher.SourceScholar, fmt.Errorf("profile page: %w", c.primaryErr))
}
