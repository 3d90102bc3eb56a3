package scholar

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scholar-crawler/internal/extractor"
	"github.com/JakeFAU/scholar-crawler/internal/normalize"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

// Bounds are the plausibility limits each resolved metric is checked against.
type Bounds struct {
	HIndexMax   int
	I10IndexMax int
}

// Metric field names, as reported in diagnostics.
const (
	fieldCitations = "totalCitations"
	fieldHIndex    = "hIndex"
	fieldI10Index  = "i10Index"
)

// header is what the first profile page carries besides publications.
type header struct {
	Name        string
	Affiliation string
	Areas       []string
	Metrics     researcher.RawMetrics
	// Strategies maps each resolved metric to the index of the strategy that produced it.
	Strategies map[string]int
	Unresolved []string
}

// Resolved reports whether every metric was resolved.
func (h header) Resolved() bool { return len(h.Unresolved) == 0 }

var (
	hIndexText    = regexp.MustCompile(`(?i)(h[- ]?index|índice h)[:\s]*(\d+)`)
	i10IndexText  = regexp.MustCompile(`(?i)(i10[- ]?index|índice i10)[:\s]*(\d+)`)
	citationsText = regexp.MustCompile(`(?i)(citations|citações|citas|cited by)[:\s]*([\d.,]+)`)
)

func parseHeader(doc *goquery.Document, bounds Bounds) header {
	root := doc.Selection
	h := header{
		Name: extractor.SelectorText(root, 1, 200, "#gsc_prf_in", "#gsc_prf_inw", "title"),
		Affiliation: extractor.SelectorText(root, 2, 300,
			"#gsc_prf_i div.gsc_prf_il:not(#gsc_prf_ivh):not(#gsc_prf_int)",
			"#gsc_prf_i a.gsc_prf_ila",
			".gsc_prf_il"),
	}
	h.Name = strings.TrimSuffix(h.Name, " - Google Scholar")
	h.Name = strings.TrimSuffix(h.Name, " - Google Acadêmico")
	root.Find("#gsc_prf_int a").Each(func(_ int, s *goquery.Selection) {
		if area := extractor.CleanText(s.Text()); area != "" {
			h.Areas = append(h.Areas, area)
		}
	})
	h.Metrics, h.Strategies, h.Unresolved = resolveMetrics(root, bounds)
	return h
}

// resolveMetrics runs the statistics strategies once per metric, so a value one strategy gets wrong
// leaves only that metric to the next strategy. Unresolved metrics stay empty.
func resolveMetrics(root *goquery.Selection, b Bounds) (researcher.RawMetrics, map[string]int, []string) {
	var (
		candidates [3]researcher.RawMetrics
		found      [3]bool
	)
	candidates[0], found[0] = labeledMetrics(root)
	candidates[1], found[1] = positionalMetrics(root)
	found[1] = found[1] && ordered(candidates[1])
	candidates[2], found[2] = textualMetrics(root)

	strategies := make(map[string]int, 3)
	var unresolved []string
	resolve := func(field string, limit int, get func(researcher.RawMetrics) string) string {
		cascade := make([]extractor.Strategy[string], len(candidates))
		for i := range candidates {
			cascade[i] = func() (string, bool) { return get(candidates[i]), found[i] }
		}
		value, idx, ok := extractor.First(inRange(limit), cascade...)
		if !ok {
			unresolved = append(unresolved, field)
			return ""
		}
		strategies[field] = idx
		return value
	}

	var m researcher.RawMetrics
	m.TotalCitations = resolve(fieldCitations, 0, func(r researcher.RawMetrics) string { return r.TotalCitations })
	m.HIndex = resolve(fieldHIndex, b.HIndexMax, func(r researcher.RawMetrics) string { return r.HIndex })
	h, okH := normalize.ParseCount(m.HIndex)
	c, okC := normalize.ParseCount(m.TotalCitations)
	if okH && okC && h > c {
		m.HIndex = ""
		delete(strategies, fieldHIndex)
		unresolved = append(unresolved, fieldHIndex)
	}
	m.I10Index = resolve(fieldI10Index, b.I10IndexMax, func(r researcher.RawMetrics) string { return r.I10Index })
	return m, strategies, unresolved
}

// inRange accepts counts not above limit (0 means unbounded).
func inRange(limit int) func(string) bool {
	return func(raw string) bool {
		v, ok := normalize.ParseCount(raw)
		return ok && (limit <= 0 || v <= limit)
	}
}

// ordered guards the positional strategy: cells in an unexpected order rarely keep h below citations.
func ordered(m researcher.RawMetrics) bool {
	h, okH := normalize.ParseCount(m.HIndex)
	c, okC := normalize.ParseCount(m.TotalCitations)
	if !okH || !okC {
		return false
	}
	return (c == 0 && h == 0) || h < c
}

// labeledMetrics reads the statistics table by row label, in any of the served locales.
func labeledMetrics(root *goquery.Selection) (researcher.RawMetrics, bool) {
	var m researcher.RawMetrics
	found := false
	root.Find("#gsc_rsb_st tbody tr").Each(func(_ int, row *goquery.Selection) {
		label := strings.ToLower(extractor.CleanText(row.Find("td").First().Text()))
		value := extractor.CleanText(row.Find("td.gsc_rsb_std").First().Text())
		switch {
		case strings.Contains(label, "i10"):
			m.I10Index, found = value, true
		case strings.Contains(label, "h-index"), strings.Contains(label, "h index"),
			strings.Contains(label, "índice h"), strings.Contains(label, "indice h"):
			m.HIndex, found = value, true
		case strings.Contains(label, "citations"), strings.Contains(label, "citações"),
			strings.Contains(label, "citacoes"), strings.Contains(label, "citas"):
			m.TotalCitations, found = value, true
		}
	})
	return m, found
}

// positionalMetrics assumes the usual cell order: citations, h-index, i10-index, each with an
// all-time and a recent column.
func positionalMetrics(root *goquery.Selection) (researcher.RawMetrics, bool) {
	var cells []string
	root.Find("td.gsc_rsb_std").Each(func(_ int, s *goquery.Selection) {
		cells = append(cells, extractor.CleanText(s.Text()))
	})
	switch len(cells) {
	case 6:
		return researcher.RawMetrics{TotalCitations: cells[0], HIndex: cells[2], I10Index: cells[4]}, true
	case 3:
		return researcher.RawMetrics{TotalCitations: cells[0], HIndex: cells[1], I10Index: cells[2]}, true
	default:
		return researcher.RawMetrics{}, false
	}
}

func textualMetrics(root *goquery.Selection) (researcher.RawMetrics, bool) {
	text := extractor.CleanText(root.Find("#gsc_rsb").Text())
	if text == "" {
		text = extractor.CleanText(root.Text())
	}
	var m researcher.RawMetrics
	if match := hIndexText.FindStringSubmatch(text); match != nil {
		m.HIndex = match[2]
	}
	if match := i10IndexText.FindStringSubmatch(text); match != nil {
		m.I10Index = match[2]
	}
	if match := citationsText.FindStringSubmatch(text); match != nil {
		m.TotalCitations = match[2]
	}
	return m, m != researcher.RawMetrics{}
}

// parsePublications reads the rows of one page. Relative links are resolved against base.
func parsePublications(doc *goquery.Document, base *url.URL) []researcher.RawPublication {
	var out []researcher.RawPublication
	doc.Find("tr.gsc_a_tr").Each(func(_ int, row *goquery.Selection) {
		titleLink := row.Find("a.gsc_a_at").First()
		pub := researcher.RawPublication{
			Title:     extractor.CleanText(titleLink.Text()),
			Citations: extractor.CleanText(row.Find("a.gsc_a_ac").First().Text()),
			Year:      extractor.CleanText(row.Find("span.gsc_a_h").First().Text()),
			SourceTag: researcher.TagScholar,
		}
		if href, ok := titleLink.Attr("href"); ok {
			if ref, err := url.Parse(href); err == nil {
				pub.Link = base.ResolveReference(ref).String()
			}
		}
		grays := row.Find("div.gs_gray")
		switch grays.Length() {
		case 0:
		case 1:
			pub.Authors = extractor.CleanText(grays.First().Text())
			pub.Joined = strings.Contains(pub.Authors, " - ")
		default:
			pub.Authors = extractor.CleanText(grays.Eq(0).Text())
			pub.Venue = extractor.CleanText(grays.Eq(1).Text())
		}
		out = append(out, pub)
	})
	return out
}

// firstAuthorToken returns the account token of the first author card on a search page.
func firstAuthorToken(doc *goquery.Document) string {
	var token string
	doc.Find(".gsc_1usr a.gs_ai_name, h3.gs_ai_name a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		if u, err := url.Parse(href); err == nil {
			token = u.Query().Get("user")
		}
		return token == ""
	})
	return token
}

func hasCaptcha(doc *goquery.Document) bool {
	return doc.Find("#gs_captcha_ccl, #gs_captcha_f, form#captcha-form").Length() > 0
}
