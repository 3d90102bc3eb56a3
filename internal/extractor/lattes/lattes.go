// Package lattes captures researchers from the Brazilian curriculum registry. Profiles are read from
// the public CV page; name queries are handed back as a search URL because the result listing sits
// behind a CAPTCHA.
package lattes

import (
	"context"
	"errors"
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
	// DefaultBaseURL hosts the CV viewer and the search form.
	DefaultBaseURL = "http://buscatextual.cnpq.br"
	// ProfileHost is the host of the short profile links.
	ProfileHost = "lattes.cnpq.br"

	sessionName    = "lattes"
	charset        = "iso-8859-1"
	acceptLanguage = "pt-BR,pt;q=0.9"
	maxPerType     = 20
)

var idPattern = regexp.MustCompile(`^\d{16}$`)

// Config configures the extractor.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Extractor implements researcher.Extractor for the BR source.
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
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: f, cfg: cfg, clock: clock, logger: logger}
}

// Source implements researcher.Extractor.
func (e *Extractor) Source() researcher.Source { return researcher.SourceBR }

// Extract implements researcher.Extractor.
func (e *Extractor) Extract(ctx context.Context, q researcher.Query) researcher.Outcome {
	if strings.TrimSpace(q.ProfileURL) == "" {
		name := strings.TrimSpace(q.Name)
		if name == "" {
			return researcher.Failed{
				Source: researcher.SourceBR,
				Kind:   researcher.KindInvalidInput,
				Err:    fmt.Errorf("%w: profile url or name required", researcher.ErrInvalidInput),
			}
		}
		return researcher.Handoff{
			Source:    researcher.SourceBR,
			Query:     name,
			SearchURL: e.SearchURL(name),
			Message:   "name search requires solving a CAPTCHA; open the search URL and submit the profile URL instead",
		}
	}

	id, err := ParseID(q.ProfileURL)
	if err != nil {
		return extractor.FailedFrom(researcher.SourceBR, err)
	}
	logger := e.logger.With(zap.String("platform", string(researcher.SourceBR)), zap.String("source_id", id))

	resp, err := e.fetcher.Fetch(ctx, e.cvRequest(id))
	if err != nil {
		switch {
		case errors.Is(err, fetcher.ErrBlocked):
			logger.Info("curriculum page blocked", zap.Error(err))
			return researcher.Blocked{
				Source:     researcher.SourceBR,
				Identifier: id,
				ProfileURL: ProfileURL(id),
				Manual:     true,
				Guidance:   "open the profile URL in a browser, solve the CAPTCHA and retry later",
			}
		case extractor.IsNotFound(err):
			return researcher.NotFound{Source: researcher.SourceBR, Identifier: id, Reason: err.Error()}
		default:
			logger.Warn("curriculum fetch failed", zap.Error(err))
			return extractor.FailedFrom(researcher.SourceBR, fmt.Errorf("fetch curriculum %s: %w", id, err))
		}
	}

	raw, err := Parse(resp.Body, perTypeLimit(q))
	if err != nil {
		return extractor.FailedFrom(researcher.SourceBR, fmt.Errorf("parse curriculum %s: %w", id, err))
	}
	if raw.Name == "" {
		return researcher.NotFound{Source: researcher.SourceBR, Identifier: id, Reason: "page carries no curriculum"}
	}
	raw.Source = researcher.SourceBR
	raw.SourceID = id
	raw.ProfileURL = ProfileURL(id)
	raw.CapturedAt = e.clock.Now()
	logger.Debug("curriculum parsed", zap.Int("publications", len(raw.Publications)))
	return researcher.Extracted{Raw: raw}
}

func (e *Extractor) cvRequest(id string) fetcher.Request {
	return fetcher.Request{
		URL:            e.cfg.BaseURL + "/buscatextual/visualizacv.do",
		Params:         url.Values{"metodo": {"apresentar"}, "id": {id}},
		Timeout:        e.cfg.Timeout,
		Profile:        fetcher.Polite,
		Session:        sessionName,
		WarmupURL:      e.cfg.BaseURL + "/buscatextual/busca.do",
		Charset:        charset,
		AcceptLanguage: acceptLanguage,
		Referer:        e.cfg.BaseURL + "/buscatextual/busca.do",
	}
}

// SearchURL returns the registry search form URL for a researcher name.
func (e *Extractor) SearchURL(name string) string {
	params := url.Values{
		"metodo":         {"forwardPaginaResultados"},
		"registros":      {"0;10"},
		"query":          {"( +idx_nme_pessoa:(" + name + ") )"},
		"buscarDoutores": {"true"},
		"buscarDemais":   {"true"},
		"textoBusca":     {name},
	}
	return e.cfg.BaseURL + "/buscatextual/busca.do?" + params.Encode()
}

// ProfileURL returns the canonical short profile link.
func ProfileURL(id string) string {
	return "http://" + ProfileHost + "/" + id
}

// ParseID extracts the 16-digit identifier from a short or long profile URL, or a bare identifier.
func ParseID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if idPattern.MatchString(raw) {
		return raw, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: profile url %q: %v", researcher.ErrInvalidInput, raw, err)
	}
	if id := u.Query().Get("id"); id != "" {
		if idPattern.MatchString(id) {
			return id, nil
		}
		return "", fmt.Errorf("%w: identifier %q is not 16 digits", researcher.ErrInvalidInput, id)
	}
	if strings.EqualFold(u.Hostname(), ProfileHost) {
		id := strings.Trim(u.Path, "/")
		if idPattern.MatchString(id) {
			return id, nil
		}
		return "", fmt.Errorf("%w: identifier %q is not 16 digits", researcher.ErrInvalidInput, id)
	}
	return "", fmt.Errorf("%w: %q is not a curriculum url", researcher.ErrInvalidInput, raw)
}

func perTypeLimit(q researcher.Query) int {
	return min(maxPerType, q.Limit())
}
