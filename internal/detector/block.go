// Package detector recognizes login walls and CAPTCHA interstitials so the fetcher can report
// Blocked instead of handing a challenge page to a parser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultLoginPrefixes are URL fragments of login and consent walls.
var DefaultLoginPrefixes = []string{
	"accounts.google.com/ServiceLogin",
	"accounts.google.com/v3/signin",
	"consent.google.com",
	"/sorry/index",
	"/ServiceLogin",
}

// DefaultBodyMarkers are lowercase byte markers of CAPTCHA pages.
var DefaultBodyMarkers = []string{
	"gs_captcha_ccl",
	"g-recaptcha",
	"recaptcha/api.js",
	"our systems have detected unusual traffic",
	"tokencaptchar",
}

// DefaultSelectors are CAPTCHA elements probed with goquery.
var DefaultSelectors = []string{
	"#gs_captcha_ccl",
	"#gs_captcha_f",
	"form#captcha-form",
	"div.g-recaptcha",
	"#recaptcha",
	"#tokenCaptchar",
	"img#image_captcha",
}

// Config lists what counts as a block.
type Config struct {
	LoginPrefixes []string
	BodyMarkers   []string
	Selectors     []string
}

// Block implements the URL, marker and element checks.
type Block struct {
	loginPrefixes []string
	markers       [][]byte
	selectors     []string
}

// NewBlock creates a detector. Empty lists fall back to the defaults.
func NewBlock(cfg Config) *Block {
	if len(cfg.LoginPrefixes) == 0 {
		cfg.LoginPrefixes = DefaultLoginPrefixes
	}
	if len(cfg.BodyMarkers) == 0 {
		cfg.BodyMarkers = DefaultBodyMarkers
	}
	if len(cfg.Selectors) == 0 {
		cfg.Selectors = DefaultSelectors
	}
	markers := make([][]byte, 0, len(cfg.BodyMarkers))
	for _, m := range cfg.BodyMarkers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, []byte(strings.ToLower(m)))
		}
	}
	return &Block{
		loginPrefixes: append([]string(nil), cfg.LoginPrefixes...),
		markers:       markers,
		selectors:     append([]string(nil), cfg.Selectors...),
	}
}

// LoginWall reports whether finalURL points at a login or consent page.
func (b *Block) LoginWall(finalURL string) (string, bool) {
	for _, prefix := range b.loginPrefixes {
		if prefix != "" && strings.Contains(finalURL, prefix) {
			return "login wall " + prefix, true
		}
	}
	return "", false
}

// Detect checks the final URL and, for HTML bodies, the CAPTCHA markers and elements.
// It returns a short reason when blocked.
func (b *Block) Detect(finalURL string, body []byte, html bool) (string, bool) {
	if reason, ok := b.LoginWall(finalURL); ok {
		return reason, true
	}
	if !html || len(body) == 0 {
		return "", false
	}
	lower := bytes.ToLower(body)
	for _, marker := range b.markers {
		if bytes.Contains(lower, marker) {
			return "captcha marker " + string(marker), true
		}
	}
	return b.HasCaptchaElement(body)
}

// HasCaptchaElement probes the document for a known CAPTCHA element.
func (b *Block) HasCaptchaElement(body []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	for _, sel := range b.selectors {
		if doc.Find(sel).Length() > 0 {
			return "captcha element " + sel, true
		}
	}
	return "", false
}
