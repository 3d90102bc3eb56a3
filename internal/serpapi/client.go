// Package serpapi is a client for the paid search API used when the citation search engine refuses
// to serve HTML. Calls go through the shared fetcher for pacing and retries; a token bucket keeps
// the account quota.
package serpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/scholar-crawler/internal/fetcher"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

const (
	// DefaultBaseURL is the API host.
	DefaultBaseURL = "https://serpapi.com"
	// DefaultRatePerSecond is the sustained request rate against the account quota.
	DefaultRatePerSecond = 1.0
	// MaxPageSize is the largest page the author endpoint serves.
	MaxPageSize = 100
)

var (
	// ErrDisabled is returned when no API key is configured.
	ErrDisabled = errors.New("paid search api disabled")
	// ErrAPI wraps error messages reported in the response body.
	ErrAPI = errors.New("search api error")
)

// Config configures the client.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
}

// Client calls the author and profile-search engines.
type Client struct {
	fetcher fetcher.Fetcher
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger
}

// New builds a client. A client without API key reports Enabled() == false.
func New(f fetcher.Fetcher, cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher: f,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		cfg:     cfg,
		logger:  logger,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.APIKey != ""
}

// Author is the reconciled result of the author engine.
type Author struct {
	Name         string
	Affiliation  string
	Interests    []string
	HIndex       int
	I10Index     int
	Citations    int
	Publications []researcher.RawPublication
}

// Author fetches the profile of authorID, paging until maxPublications articles were read or the
// engine returns a short page.
func (c *Client) Author(ctx context.Context, authorID string, maxPublications int) (*Author, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if maxPublications <= 0 {
		maxPublications = researcher.DefaultMaxPublications
	}

	var out *Author
	for start := 0; start < maxPublications; {
		num := min(MaxPageSize, maxPublications-start)
		var page authorResponse
		err := c.call(ctx, url.Values{
			"engine":    {"google_scholar_author"},
			"author_id": {authorID},
			"num":       {strconv.Itoa(num)},
			"start":     {strconv.Itoa(start)},
		}, &page)
		if err != nil {
			if out != nil {
				c.logger.Warn("author page failed, keeping earlier pages", zap.Int("start", start), zap.Error(err))
				return out, nil
			}
			return nil, err
		}
		if out == nil {
			out = authorFromPage(page)
		}
		for _, a := range page.Articles {
			out.Publications = append(out.Publications, toPublication(a))
		}
		if len(page.Articles) < num {
			break
		}
		start += num
	}
	if len(out.Publications) > maxPublications {
		out.Publications = out.Publications[:maxPublications]
	}
	return out, nil
}

// SearchProfiles runs a profile search by name.
func (c *Client) SearchProfiles(ctx context.Context, name string) ([]Profile, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	var resp profilesResponse
	if err := c.call(ctx, url.Values{
		"engine":   {"google_scholar_profiles"},
		"mauthors": {name},
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Profiles, nil
}

func (c *Client) call(ctx context.Context, params url.Values, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("api quota wait: %w", err)
	}
	params.Set("api_key", c.cfg.APIKey)
	resp, err := c.fetcher.Fetch(ctx, fetcher.Request{
		URL:     c.cfg.BaseURL + "/search",
		Params:  params,
		Timeout: c.cfg.Timeout,
		Profile: fetcher.Aggressive,
		JSON:    true,
	})
	if err != nil {
		return fmt.Errorf("%s request: %w", params.Get("engine"), err)
	}
	if err := json.Unmarshal(resp.Body, dst); err != nil {
		return fmt.Errorf("decode %s response: %w", params.Get("engine"), err)
	}
	if msg := apiError(dst); msg != "" {
		if strings.Contains(strings.ToLower(msg), "returned any results") {
			return fmt.Errorf("%s: %w", msg, researcher.ErrProfileNotFound)
		}
		return fmt.Errorf("%w: %s", ErrAPI, msg)
	}
	return nil
}

func apiError(v any) string {
	switch r := v.(type) {
	case *authorResponse:
		return r.Error
	case *profilesResponse:
		return r.Error
	default:
		return ""
	}
}

func authorFromPage(page authorResponse) *Author {
	out := &Author{}
	if a := page.Author; a != nil {
		out.Name = a.Name
		out.Affiliation = a.Affiliations
		for _, in := range a.Interests {
			out.Interests = append(out.Interests, in.Title)
		}
	}
	if cb := page.CitedBy; cb != nil {
		allTime := 0
		for _, row := range cb.Table {
			switch {
			case row.Citations != nil:
				allTime = row.Citations.All
			case row.HIndex != nil:
				out.HIndex = row.HIndex.All
			case row.I10Index != nil:
				out.I10Index = row.I10Index.All
			}
		}
		sum := 0
		for _, g := range cb.Graph {
			sum += g.Citations
		}
		out.Citations = sum
		if sum == 0 {
			out.Citations = allTime
		}
	}
	return out
}

func toPublication(a article) researcher.RawPublication {
	pub := researcher.RawPublication{
		Title:     a.Title,
		Authors:   a.Authors,
		Venue:     a.Publication,
		Year:      a.Year,
		SourceTag: researcher.TagScholarAPI,
		Link:      a.Link,
	}
	if a.CitedBy != nil && a.CitedBy.Value != nil {
		pub.Citations = strconv.Itoa(*a.CitedBy.Value)
	}
	return pub
}

// Fallback converts the author into the normalizer's secondary data set.
func (a *Author) Fallback() *researcher.Fallback {
	if a == nil {
		return nil
	}
	return &researcher.Fallback{
		Metrics: researcher.RawMetrics{
			HIndex:         strconv.Itoa(a.HIndex),
			I10Index:       strconv.Itoa(a.I10Index),
			TotalCitations: strconv.Itoa(a.Citations),
		},
		Publications: append([]researcher.RawPublication(nil), a.Publications...),
	}
}
