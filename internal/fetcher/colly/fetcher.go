// Package collyfetcher implements fetcher.Fetcher on top of gocolly. Every outbound request of the
// service goes through it: it paces each host, rotates user agents, keeps one cookie jar per
// (host, session), warms sessions, retries transient failures and reports login or CAPTCHA walls as
// fetcher.ErrBlocked.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/detector"
	"github.com/JakeFAU/scholar-crawler/internal/fetcher"
	"github.com/JakeFAU/scholar-crawler/internal/metrics"
	"github.com/JakeFAU/scholar-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/scholar-crawler/internal/policy/retry"
)

const (
	defaultTimeout = 30 * time.Second
	maxRedirects   = 10
)

// Config controls collector behavior.
type Config struct {
	Timeout    time.Duration
	UserAgents []string
	Intervals  ratelimit.Config
	Retry      retry.Config
	Block      detector.Config
}

// Fetcher implements fetcher.Fetcher using Colly collectors.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	gate      *ratelimit.Gate
	retry     *retry.ExponentialPolicy
	agents    *fetcher.UserAgents
	detector  *detector.Block
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

type sessionKey struct {
	host string
	name string
}

// session owns a collector (and therefore a cookie jar). Its fields are only touched while the
// host slot is held.
type session struct {
	collector    *colly.Collector
	warmed       bool
	lastRedirect string
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		gate:      ratelimit.New(cfg.Intervals),
		retry:     retry.NewExponential(cfg.Retry),
		agents:    fetcher.NewUserAgents(cfg.UserAgents),
		detector:  detector.NewBlock(cfg.Block),
		logger:    logger,
		sessions:  make(map[sessionKey]*session),
	}
}

// Fetch executes a paced GET, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	target, err := req.FullURL()
	if err != nil {
		return fetcher.Response{}, &fetcher.Error{Kind: fetcher.KindPermanent, URL: fetcher.Redact(req.URL), Err: err}
	}
	host := fetcher.HostKey(target)

	for attempt := 1; ; attempt++ {
		resp, err := f.attempt(ctx, host, target, req)
		if err == nil {
			return resp, nil
		}
		if !f.retry.ShouldRetry(err, attempt) {
			return fetcher.Response{}, err
		}
		delay := f.retry.Backoff(attempt)
		metrics.ObserveRetry(host)
		f.logger.Debug("retrying transient failure",
			zap.String("host", host),
			zap.String("url", fetcher.Redact(target)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return fetcher.Response{}, contextError(host, target, err)
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, host, target string, req fetcher.Request) (fetcher.Response, error) {
	ticket, err := f.gate.Acquire(ctx, host)
	if err != nil {
		return fetcher.Response{}, contextError(host, target, err)
	}
	defer ticket.Release()

	sess := f.session(host, req.Session)
	if req.WarmupURL != "" && !sess.warmed {
		if err := f.warmUp(ctx, ticket, sess, req); err != nil {
			return fetcher.Response{}, err
		}
	}
	if _, err := ticket.Wait(ctx, req.Profile); err != nil {
		return fetcher.Response{}, contextError(host, target, err)
	}
	return f.do(ctx, sess, host, target, req)
}

// warmUp fetches the landing page once per session. A failed warm-up is retried once; a second
// failure leaves the session uninitialized and fails the request.
func (f *Fetcher) warmUp(ctx context.Context, ticket *ratelimit.Ticket, sess *session, req fetcher.Request) error {
	warm := fetcher.Request{
		URL:            req.WarmupURL,
		Timeout:        req.Timeout,
		Profile:        req.Profile,
		Charset:        req.Charset,
		AcceptLanguage: req.AcceptLanguage,
	}
	host := fetcher.HostKey(req.WarmupURL)
	var lastErr error
	for try := 0; try < 2; try++ {
		if _, err := ticket.Wait(ctx, req.Profile); err != nil {
			return contextError(host, req.WarmupURL, err)
		}
		_, err := f.do(ctx, sess, host, req.WarmupURL, warm)
		if err == nil {
			sess.warmed = true
			f.logger.Debug("session warmed", zap.String("host", host), zap.String("session", req.Session))
			return nil
		}
		lastErr = err
		if errors.Is(err, fetcher.ErrBlocked) || ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("session not initialized: %w", lastErr)
}

func (f *Fetcher) session(host, name string) *session {
	key := sessionKey{host: host, name: name}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[key]; ok {
		return s
	}
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(f.transport)
	if jar, err := cookiejar.New(nil); err == nil {
		c.SetCookieJar(jar)
	}
	s := &session{collector: c}
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		s.lastRedirect = req.URL.String()
		return nil
	})
	f.sessions[key] = s
	return s
}

func (f *Fetcher) do(
	ctx context.Context,
	sess *session,
	host string,
	target string,
	req fetcher.Request,
) (fetcher.Response, error) {
	var (
		result   fetcher.Response
		fetchErr error
	)
	start := time.Now()
	sess.lastRedirect = ""
	collector := sess.collector.Clone()
	collector.UserAgent = f.agents.Next()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)
	f.configureCollectorHooks(collector, req, start, &result, &fetchErr)

	if err := runCollector(ctx, collector, target, &fetchErr); err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = fetcher.Redact(urlErr.URL)
		}
		kind := classifyTransportError(err)
		if ctx.Err() != nil {
			kind = fetcher.KindTimeout
		}
		metrics.ObserveFetch(host, kind.String(), 0)
		return fetcher.Response{}, &fetcher.Error{Kind: kind, Host: host, URL: fetcher.Redact(target), Err: err}
	}
	if sess.lastRedirect != "" {
		result.FinalURL = sess.lastRedirect
	}
	if result.FinalURL == "" {
		result.FinalURL = target
	}

	f.logger.Debug("fetched",
		zap.String("host", host),
		zap.String("url", fetcher.Redact(target)),
		zap.String("final_url", fetcher.Redact(result.FinalURL)),
		zap.Int("status", result.Status),
		zap.Duration("duration", result.Duration),
	)

	if reason, blocked := f.detector.Detect(result.FinalURL, result.Body, !req.JSON); blocked {
		metrics.ObserveFetch(host, fetcher.KindBlocked.String(), len(result.Body))
		return fetcher.Response{}, &fetcher.Error{
			Kind:   fetcher.KindBlocked,
			Host:   host,
			URL:    fetcher.Redact(target),
			Status: result.Status,
			Err:    errors.New(reason),
		}
	}
	if result.Status < 200 || result.Status >= 300 {
		kind := fetcher.KindForStatus(result.Status)
		metrics.ObserveFetch(host, kind.String(), len(result.Body))
		return fetcher.Response{}, &fetcher.Error{
			Kind:   kind,
			Host:   host,
			URL:    fetcher.Redact(target),
			Status: result.Status,
			Err:    errors.New(http.StatusText(result.Status)),
		}
	}
	metrics.ObserveFetch(host, "ok", len(result.Body))
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	req fetcher.Request,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		applyHeaders(req, r)
		if req.Charset != "" {
			r.ResponseCharacterEncoding = req.Charset
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = fetcher.Response{
			Status:   r.StatusCode,
			Body:     append([]byte(nil), r.Body...),
			Duration: time.Since(start),
		}
		if r.Headers != nil {
			result.Headers = r.Headers.Clone()
		}
		if r.Request != nil && r.Request.URL != nil {
			result.FinalURL = r.Request.URL.String()
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func applyHeaders(req fetcher.Request, r *colly.Request) {
	for key, values := range req.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	if req.AcceptLanguage != "" {
		r.Headers.Set("Accept-Language", req.AcceptLanguage)
	}
	if req.Referer != "" {
		r.Headers.Set("Referer", req.Referer)
	}
	if req.JSON {
		r.Headers.Set("Accept", "application/json")
	} else if r.Headers.Get("Accept") == "" || r.Headers.Get("Accept") == "*/*" {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
}

func classifyTransportError(err error) fetcher.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fetcher.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fetcher.KindTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fetcher.KindTransient
	}
	return fetcher.KindUnreachable
}

func contextError(host, target string, err error) error {
	return &fetcher.Error{Kind: fetcher.KindTimeout, Host: host, URL: fetcher.Redact(target), Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
