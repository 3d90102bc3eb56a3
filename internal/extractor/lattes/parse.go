package lattes

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scholar-crawler/internal/extractor"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

// section is one bibliographic block of the CV, located by its anchor name.
type section struct {
	anchor string
	label  string
}

var sections = []section{
	{anchor: "ArtigosCompletos", label: "Journal article"},
	{anchor: "TrabalhosPublicadosAnaisCongresso", label: "Conference paper"},
	{anchor: "CapitulosLivrosPublicados", label: "Book chapter"},
	{anchor: "LivrosPublicados", label: "Book"},
}

const sectionEnd = "div.cita-artigos, div.inst_back, div.title-wrapper"

var (
	updatePattern    = regexp.MustCompile(`(\d{2}/\d{2}/\d{4})`)
	numberingPattern = regexp.MustCompile(`^\d+\.\s*`)
	areaLabelPattern = regexp.MustCompile(`(?i)^(grande área|área|subárea|especialidade)\s*:\s*`)
)

// Parse reads a decoded CV page. perType caps each publication section.
func Parse(body []byte, perType int) (researcher.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return researcher.RawRecord{}, fmt.Errorf("parse html: %w", err)
	}
	root := doc.Selection

	raw := researcher.RawRecord{
		Name:        parseName(root),
		Affiliation: parseAffiliation(root),
		Areas:       parseAreas(root),
		LastUpdate:  parseLastUpdate(root),
	}
	for _, sec := range sections {
		raw.Publications = append(raw.Publications, parseSection(root, sec, perType)...)
	}
	return raw, nil
}

func parseName(root *goquery.Selection) string {
	strategies := []extractor.Strategy[string]{
		extractor.Selector(root, "div.infpessoa h2.nome"),
		extractor.Selector(root, "h2.nome"),
		func() (string, bool) {
			// "Currículo do Sistema de Currículos Lattes (Maria da Silva)"
			title := extractor.CleanText(root.Find("title").First().Text())
			open := strings.LastIndex(title, "(")
			if open < 0 || !strings.HasSuffix(title, ")") {
				return "", false
			}
			name := strings.TrimSpace(title[open+1 : len(title)-1])
			return name, name != ""
		},
	}
	name, _, _ := extractor.First(extractor.Length(3, 200), strategies...)
	return name
}

func parseAffiliation(root *goquery.Selection) string {
	strategies := []extractor.Strategy[string]{
		func() (string, bool) {
			cell := sectionBody(root, "Endereco").Find("div.layout-cell-9 .layout-cell-pad-5").First()
			text := extractor.CleanText(cell.Text())
			if i := strings.Index(text, ". "); i > 0 {
				text = text[:i]
			}
			return strings.TrimSuffix(text, "."), text != ""
		},
		func() (string, bool) {
			text := extractor.CleanText(sectionBody(root, "AtuacaoProfissional").Find("div.inst_back b").First().Text())
			return text, text != ""
		},
	}
	affiliation, _, _ := extractor.First(extractor.Length(3, 300), strategies...)
	return affiliation
}

func parseAreas(root *goquery.Selection) []string {
	strategies := []extractor.Strategy[[]string]{
		func() ([]string, bool) {
			areas := areaCells(sectionBody(root, "AreasAtuacao"))
			return areas, len(areas) > 0
		},
		func() ([]string, bool) {
			var areas []string
			root.Find("div.title-wrapper").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if !strings.Contains(strings.ToLower(s.Find("h1").First().Text()), "áreas de atuação") {
					return true
				}
				areas = areaCells(s)
				return false
			})
			return areas, len(areas) > 0
		},
	}
	areas, _, _ := extractor.First(nil, strategies...)
	return areas
}

// areaCells turns "Grande área: X / Área: Y / Subárea: Z." rows into their most specific label.
func areaCells(s *goquery.Selection) []string {
	var areas []string
	s.Find("div.layout-cell-9 .layout-cell-pad-5, div.layout-cell-11 .layout-cell-pad-5").Each(func(_ int, cell *goquery.Selection) {
		text := numberingPattern.ReplaceAllString(extractor.CleanText(cell.Text()), "")
		parts := strings.Split(text, "/")
		last := strings.TrimSpace(parts[len(parts)-1])
		last = strings.TrimSuffix(areaLabelPattern.ReplaceAllString(last, ""), ".")
		if last = strings.TrimSpace(last); last != "" {
			areas = append(areas, last)
		}
	})
	return areas
}

func parseLastUpdate(root *goquery.Selection) string {
	var found string
	root.Find("ul.informacoes-autor li, span.rodape-cv").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(strings.ToLower(text), "atualiza") {
			return true
		}
		found = updatePattern.FindString(text)
		return found == ""
	})
	return found
}

// sectionBody returns the title wrapper holding the anchor.
func sectionBody(root *goquery.Selection, anchor string) *goquery.Selection {
	return root.Find(`a[name="` + anchor + `"]`).First().Closest("div.title-wrapper")
}

func parseSection(root *goquery.Selection, sec section, limit int) []researcher.RawPublication {
	header := root.Find(`a[name="` + sec.anchor + `"]`).First().Closest("div.cita-artigos")
	if header.Length() == 0 {
		return nil
	}
	entries := header.NextUntil(sectionEnd)
	cells := entries.Filter("div.layout-cell-11").AddSelection(entries.Find("div.layout-cell-11"))

	var out []researcher.RawPublication
	cells.EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if len(out) >= limit {
			return false
		}
		if pub, ok := parseEntry(cell, sec.label); ok {
			out = append(out, pub)
		}
		return true
	})
	return out
}

// parseEntry splits an ABNT-style reference: "AUTHOR, A. ; OTHER, B. . Title. Venue, v. 1, p. 2, 2020."
func parseEntry(cell *goquery.Selection, label string) (researcher.RawPublication, bool) {
	scope := cell.Closest("div.artigo-completo")
	if scope.Length() == 0 {
		scope = cell
	}
	year := strings.TrimSpace(scope.Find(`span[data-tipo-ordenacao="ano"]`).First().Text())

	content := cell.Find(".layout-cell-pad-5").First()
	if content.Length() == 0 {
		content = cell
	}
	content.Find("span.informacao-artigo, img, script").Remove()
	text := extractor.CleanText(numberingPattern.ReplaceAllString(extractor.CleanText(content.Text()), ""))
	if text == "" {
		return researcher.RawPublication{}, false
	}

	authors, rest := "", text
	if i := strings.Index(text, " . "); i > 0 {
		authors, rest = text[:i], text[i+3:]
	}
	title, venue := rest, ""
	if i := strings.Index(rest, ". "); i > 0 {
		title, venue = rest[:i], rest[i+2:]
	}
	if i := strings.Index(venue, ","); i > 0 {
		venue = venue[:i]
	}

	if year == "" {
		year = extractor.FirstYear(rest)
	}

	link, _ := scope.Find("a.icone-doi").First().Attr("href")
	return researcher.RawPublication{
		Title:     strings.TrimSuffix(strings.TrimSpace(title), "."),
		Authors:   strings.TrimSpace(authors),
		Venue:     strings.TrimSuffix(strings.TrimSpace(venue), "."),
		Year:      year,
		Type:      label,
		SourceTag: researcher.TagLattes,
		Link:      link,
	}, true
}
