// Package filter decides which records are in scope by matching publications against an aging and
// gerontology vocabulary.
package filter

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

// Config controls retention.
type Config struct {
	// ScholarBypass retains Scholar records even when no publication matched.
	ScholarBypass bool
	Vocabulary    []Term
	Markers       []string
}

type compiledTerm struct {
	Term
	re *regexp.Regexp
}

// Filter matches publication text against the vocabulary. It is safe for concurrent use.
type Filter struct {
	bypass  bool
	terms   []compiledTerm
	markers []*regexp.Regexp
}

// New compiles the vocabulary. Empty lists take the defaults.
func New(cfg Config) *Filter {
	if len(cfg.Vocabulary) == 0 {
		cfg.Vocabulary = DefaultVocabulary
	}
	if len(cfg.Markers) == 0 {
		cfg.Markers = DefaultContextMarkers
	}
	f := &Filter{bypass: cfg.ScholarBypass}
	for _, t := range cfg.Vocabulary {
		f.terms = append(f.terms, compiledTerm{Term: t, re: wordPattern(t.Text)})
	}
	for _, m := range cfg.Markers {
		f.markers = append(f.markers, wordPattern(m))
	}
	return f
}

// wordPattern matches term case-insensitively between non-word runes. \b is ASCII-only in RE2, so
// accented terms need explicit letter classes.
func wordPattern(term string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(norm.NFC.String(strings.ToLower(term)))
	quoted = strings.ReplaceAll(quoted, " ", `\s+`)
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])` + quoted + `(?:$|[^\p{L}\p{N}_])`)
}

// Match returns the vocabulary entries found in text, in vocabulary order.
func (f *Filter) Match(text string) []string {
	text = norm.NFC.String(text)
	nonHuman := false
	for _, m := range f.markers {
		if m.MatchString(text) {
			nonHuman = true
			break
		}
	}
	var out []string
	for _, t := range f.terms {
		if t.Group == Process && nonHuman {
			continue
		}
		if t.re.MatchString(text) {
			out = append(out, t.Text)
		}
	}
	return out
}

// Apply annotates a copy of rec with matched terms and the retention decision.
func (f *Filter) Apply(rec researcher.Record) researcher.Record {
	out := rec.Clone()
	out.MatchedTerms = nil
	seen := make(map[string]struct{})
	for i := range out.Publications {
		p := &out.Publications[i]
		p.MatchedTerms = f.Match(strings.Join([]string{p.Title, p.Authors, p.Venue, p.Snippet}, " "))
		for _, term := range p.MatchedTerms {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			out.MatchedTerms = append(out.MatchedTerms, term)
		}
	}

	switch {
	case len(out.MatchedTerms) > 0:
		out.Retained = true
		out.RetentionReason = researcher.RetainedByKeyword
	case out.Source == researcher.SourceScholar && f.bypass:
		out.Retained = true
		out.RetentionReason = researcher.RetainedByScholarBypass
	default:
		out.Retained = false
		out.RetentionReason = ""
	}
	return out
}
