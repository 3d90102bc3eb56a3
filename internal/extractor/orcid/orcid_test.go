package orcid

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/fetcher"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

const recordJSON = `{
  "orcid-identifier": {"path": "0000-0002-1825-0097"},
  "person": {
    "name": {"given-names": {"value": "Josiah"}, "family-name": {"value": "Carberry"}, "credit-name": null},
    "keywords": {"keyword": [{"content": "gerontology"}, {"content": "psychoceramics"}]}
  },
  "activities-summary": {
    "employments": {"affiliation-group": [
      {"summaries": [{"employment-summary": {"department-name": "Psychoceramics", "organization": {"name": "Brown University"}}}]}
    ]},
    "educations": {"affiliation-group": [
      {"summaries": [{"education-summary": {"organization": {"name": "Wesleyan University"}}}]}
    ]},
    "works": {"group": [
      {"work-summary": [
        {"title": {"title": {"value": "Healthy aging and cracked pots"}}, "journal-title": {"value": "Journal of Psychoceramics"},
         "type": "journal-article", "publication-date": {"year": {"value": "2019"}, "month": {"value": "03"}, "day": {"value": "7"}},
         "external-ids": {"external-id": [{"external-id-type": "doi", "external-id-value": "10.5555/12345678"}]}},
        {"title": {"title": {"value": "Duplicate summary"}}}
      ]},
      {"work-summary": [
        {"title": {"title": {"value": "Ceramics in old age"}}, "type": "book",
         "publication-date": {"year": {"value": "2015"}, "month": {"value": "11"}}, "url": {"value": "https://example.org/book"}}
      ]},
      {"work-summary": [
        {"title": {"title": {"value": "Undated note"}}, "type": "other"}
      ]}
    ]}
  },
  "history": {"last-modified-date": {"value": 1710201600000}}
}`

type routeFetcher struct {
	routes   map[string]fetcher.Response
	errs     map[string]error
	requests []fetcher.Request
}

func (r *routeFetcher) Fetch(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
	r.requests = append(r.requests, req)
	path := strings.TrimPrefix(req.URL, "https://api.test")
	if err, ok := r.errs[path]; ok {
		return fetcher.Response{}, err
	}
	if resp, ok := r.routes[path]; ok {
		return resp, nil
	}
	return fetcher.Response{}, &fetcher.Error{Kind: fetcher.KindPermanent, Status: 404}
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestExtractor(f fetcher.Fetcher) *Extractor {
	return New(f, Config{BaseURL: "https://api.test/"}, fixedClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}, zap.NewNop())
}

func TestValidChecksum(t *testing.T) {
	t.Parallel()

	require.True(t, ValidChecksum("0000-0002-1825-0097"))
	require.True(t, ValidChecksum("0000-0001-5109-3700"))
	require.True(t, ValidChecksum("0000-0002-1694-233X"))
	require.False(t, ValidChecksum("0000-0002-1825-0098"))
	require.False(t, ValidChecksum("0000-0002-1825"))
}

func TestParseID(t *testing.T) {
	t.Parallel()

	id, err := ParseID("https://orcid.org/0000-0002-1825-0097")
	require.NoError(t, err)
	require.Equal(t, "0000-0002-1825-0097", id)

	id, err = ParseID("0000-0002-1694-233x")
	require.NoError(t, err)
	require.Equal(t, "0000-0002-1694-233X", id)

	_, err = ParseID("https://orcid.org/0000-0002-1825-0098")
	require.ErrorIs(t, err, researcher.ErrInvalidInput)
	_, err = ParseID("not an id")
	require.ErrorIs(t, err, researcher.ErrInvalidInput)
}

func TestExtractRecord(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{routes: map[string]fetcher.Response{
		"/v3.0/0000-0002-1825-0097": {Status: 200, Body: []byte(recordJSON)},
	}}
	out := newTestExtractor(f).Extract(context.Background(), researcher.Query{
		ProfileURL: "https://orcid.org/0000-0002-1825-0097",
	})
	extracted, ok := out.(researcher.Extracted)
	require.True(t, ok, "got %T", out)
	raw := extracted.Raw

	require.Equal(t, researcher.SourceINT, raw.Source)
	require.Equal(t, "0000-0002-1825-0097", raw.SourceID)
	require.Equal(t, "https://orcid.org/0000-0002-1825-0097", raw.ProfileURL)
	require.Equal(t, "Josiah Carberry", raw.Name)
	require.Equal(t, "Brown University", raw.Affiliation)
	require.Equal(t, []string{"gerontology", "psychoceramics"}, raw.Areas)
	require.Equal(t, "12/03/2024", raw.LastUpdate)

	require.Len(t, raw.Publications, 3, "first summary per group only")
	first := raw.Publications[0]
	require.Equal(t, "Healthy aging and cracked pots", first.Title)
	require.Equal(t, "Journal of Psychoceramics", first.Venue)
	require.Equal(t, "2019", first.Year)
	require.Equal(t, "07/03/2019", first.PublishedOn)
	require.Equal(t, "https://doi.org/10.5555/12345678", first.Link)
	require.Equal(t, researcher.TagORCID, first.SourceTag)
	require.Empty(t, first.Citations)

	require.Equal(t, "11/2015", raw.Publications[1].PublishedOn)
	require.Equal(t, "https://example.org/book", raw.Publications[1].Link)
	require.Empty(t, raw.Publications[2].Year)
	require.Empty(t, raw.Publications[2].PublishedOn)

	require.Len(t, f.requests, 1)
	require.True(t, f.requests[0].JSON)
	require.Equal(t, fetcher.Aggressive, f.requests[0].Profile)
}

func TestExtractRespectsLimit(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{routes: map[string]fetcher.Response{
		"/v3.0/0000-0002-1825-0097": {Status: 200, Body: []byte(recordJSON)},
	}}
	out := newTestExtractor(f).Extract(context.Background(), researcher.Query{
		ProfileURL:      "0000-0002-1825-0097",
		MaxPublications: 1,
	})
	extracted, ok := out.(researcher.Extracted)
	require.True(t, ok)
	require.Len(t, extracted.Raw.Publications, 1)
}

func TestExtractByNameUsesFirstHit(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{routes: map[string]fetcher.Response{
		"/v3.0/search": {Status: 200, Body: []byte(`{"num-found": 2, "result": [
			{"orcid-identifier": {"path": "0000-0002-1825-0097"}},
			{"orcid-identifier": {"path": "0000-0001-5109-3700"}}]}`)},
		"/v3.0/0000-0002-1825-0097": {Status: 200, Body: []byte(recordJSON)},
	}}
	out := newTestExtractor(f).Extract(context.Background(), researcher.Query{Name: `Josiah "Carberry"`})
	extracted, ok := out.(researcher.Extracted)
	require.True(t, ok, "got %T", out)
	require.Equal(t, "0000-0002-1825-0097", extracted.Raw.SourceID)

	require.Len(t, f.requests, 2)
	q := f.requests[0].Params.Get("q")
	require.Contains(t, q, `given-names:"Josiah Carberry"`)
	require.Contains(t, q, `other-names:"Josiah Carberry"`)
	require.Equal(t, "5", f.requests[0].Params.Get("rows"))
}

func TestExtractByNameWithoutHits(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{routes: map[string]fetcher.Response{
		"/v3.0/search": {Status: 200, Body: []byte(`{"num-found": 0, "result": null}`)},
	}}
	out := newTestExtractor(f).Extract(context.Background(), researcher.Query{Name: "Nobody"})
	notFound, ok := out.(researcher.NotFound)
	require.True(t, ok, "got %T", out)
	require.ErrorIs(t, notFound, researcher.ErrProfileNotFound)
}

func TestExtractUnknownIdentifier(t *testing.T) {
	t.Parallel()

	out := newTestExtractor(&routeFetcher{}).Extract(context.Background(), researcher.Query{ProfileURL: "0000-0001-5109-3700"})
	_, ok := out.(researcher.NotFound)
	require.True(t, ok, "got %T", out)
}

func TestExtractSurfacesFetchKind(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{errs: map[string]error{
		"/v3.0/0000-0001-5109-3700": &fetcher.Error{Kind: fetcher.KindTimeout},
	}}
	out := newTestExtractor(f).Extract(context.Background(), researcher.Query{ProfileURL: "0000-0001-5109-3700"})
	failed, ok := out.(researcher.Failed)
	require.True(t, ok, "got %T", out)
	require.Equal(t, researcher.KindTimeout, failed.Kind)
}
