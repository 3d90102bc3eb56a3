// Package fetcher defines the outbound HTTP contract used by every source extractor: the request and
// response shapes, the pacing profiles, the error taxonomy and the rotating user-agent set.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Profile selects the minimum inter-request interval window for a host.
type Profile int

const (
	// Polite is used for HTML sources (2-6s by default).
	Polite Profile = iota
	// Aggressive is used for JSON APIs (1-3s by default).
	Aggressive
)

func (p Profile) String() string {
	if p == Aggressive {
		return "aggressive"
	}
	return "polite"
}

// Request describes one outbound GET.
type Request struct {
	URL     string
	Params  url.Values
	Headers http.Header
	Timeout time.Duration
	Profile Profile
	// Session names the cookie jar used for the host. Empty means the host default session.
	Session string
	// WarmupURL is fetched once per session before the first real request.
	WarmupURL string
	// Charset declares the response encoding instead of trusting the parser's sniffing.
	Charset        string
	AcceptLanguage string
	Referer        string
	// JSON requests send Accept: application/json and skip HTML block markers.
	JSON bool
}

// FullURL merges Params into the query string of URL.
func (r Request) FullURL() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", r.URL)
	}
	if len(r.Params) > 0 {
		q := u.Query()
		for key, values := range r.Params {
			q.Del(key)
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// HostKey returns the logical host (scheme://host[:port]) pacing and sessions are keyed by.
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Scheme + "://" + u.Host
}

// Response is the result of a successful fetch.
type Response struct {
	Status   int
	Body     []byte
	FinalURL string
	Headers  http.Header
	Duration time.Duration
}

// Fetcher performs paced, retried, session-aware GET requests.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

var secretParams = []string{"api_key", "apikey", "key", "token"}

// Redact masks credential query parameters so URLs can be logged.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return rawURL
	}
	q := u.Query()
	changed := false
	for _, name := range secretParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}
