package lattes

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/fetcher"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

type stubFetcher struct {
	resp     fetcher.Response
	err      error
	requests []fetcher.Request
}

func (s *stubFetcher) Fetch(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
	s.requests = append(s.requests, req)
	return s.resp, s.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var captureTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestExtractor(f fetcher.Fetcher) *Extractor {
	return New(f, Config{BaseURL: "http://registry.test/"}, fixedClock{t: captureTime}, zap.NewNop())
}

func TestParseID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://lattes.cnpq.br/1234567890123456", want: "1234567890123456"},
		{in: "lattes.cnpq.br/1234567890123456/", want: "1234567890123456"},
		{in: "http://buscatextual.cnpq.br/buscatextual/visualizacv.do?metodo=apresentar&id=1234567890123456", want: "1234567890123456"},
		{in: "1234567890123456", want: "1234567890123456"},
		{in: "http://lattes.cnpq.br/12345", wantErr: true},
		{in: "http://buscatextual.cnpq.br/buscatextual/visualizacv.do?id=K4763543A5", wantErr: true},
		{in: "https://example.com/profile", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseID(tc.in)
		if tc.wantErr {
			require.ErrorIs(t, err, researcher.ErrInvalidInput, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestExtractParsesCurriculum(t *testing.T) {
	t.Parallel()

	body, err := os.ReadFile("testdata/cv.html")
	require.NoError(t, err)
	f := &stubFetcher{resp: fetcher.Response{Status: 200, Body: body}}

	out := newTestExtractor(f).Extract(context.Background(), researcher.Query{
		Platform:   researcher.SourceBR,
		ProfileURL: "http://lattes.cnpq.br/1234567890123456",
	})
	extracted, ok := out.(researcher.Extracted)
	require.True(t, ok, "got %T", out)
	raw := extracted.Raw

	require.Equal(t, researcher.SourceBR, raw.Source)
	require.Equal(t, "1234567890123456", raw.SourceID)
	require.Equal(t, "http://lattes.cnpq.br/1234567890123456", raw.ProfileURL)
	require.Equal(t, "Maria Aparecida da Silva", raw.Name)
	require.Equal(t, "Universidade Federal de Minas Gerais, Faculdade de Medicina", raw.Affiliation)
	require.Equal(t, []string{"Geriatria", "Saúde Coletiva"}, raw.Areas)
	require.Equal(t, "12/03/2024", raw.LastUpdate)
	require.Equal(t, researcher.RawMetrics{}, raw.Metrics)
	require.Equal(t, captureTime, raw.CapturedAt)

	require.Len(t, raw.Publications, 4)
	first := raw.Publications[0]
	require.Equal(t, "Envelhecimento ativo e fragilidade em idosos", first.Title)
	require.Equal(t, "SILVA, M. A. ; SOUZA, J.", first.Authors)
	require.Equal(t, "Revista Brasileira de Geriatria", first.Venue)
	require.Equal(t, "2021", first.Year)
	require.Equal(t, "Journal article", first.Type)
	require.Equal(t, researcher.TagLattes, first.SourceTag)
	require.Equal(t, "https://doi.org/10.1590/xyz", first.Link)

	require.Equal(t, "2018", raw.Publications[1].Year)
	require.Equal(t, "Conference paper", raw.Publications[2].Type)
	require.Equal(t, "2019", raw.Publications[2].Year)
	require.Equal(t, "Book", raw.Publications[3].Type)
	require.Equal(t, "2015", raw.Publications[3].Year)

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	require.Equal(t, "http://registry.test/buscatextual/visualizacv.do", req.URL)
	require.Equal(t, "1234567890123456", req.Params.Get("id"))
	require.Equal(t, "apresentar", req.Params.Get("metodo"))
	require.Equal(t, "http://registry.test/buscatextual/busca.do", req.WarmupURL)
	require.Equal(t, "iso-8859-1", req.Charset)
	require.Equal(t, "lattes", req.Session)
	require.Equal(t, fetcher.Polite, req.Profile)
}

func TestExtractCapsEachSection(t *testing.T) {
	t.Parallel()

	body, err := os.ReadFile("testdata/cv.html")
	require.NoError(t, err)
	raw, err := Parse(body, 1)
	require.NoError(t, err)
	require.Len(t, raw.Publications, 3, "one per populated section")
}

func TestExtractBlockedReturnsManualOutcome(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{err: &fetcher.Error{Kind: fetcher.KindBlocked}}
	out := newTestExtractor(f).Extract(context.Background(), researcher.Query{ProfileURL: "1234567890123456"})

	blocked, ok := out.(researcher.Blocked)
	require.True(t, ok, "got %T", out)
	require.True(t, blocked.Manual)
	require.Equal(t, "1234567890123456", blocked.Identifier)
	require.NotEmpty(t, blocked.Guidance)
	require.ErrorIs(t, blocked, researcher.ErrProfileBlocked)
}

func TestExtractMissingCurriculum(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{resp: fetcher.Response{Status: 200, Body: []byte("<html><body>Currículo não encontrado</body></html>")}}
	out := newTestExtractor(f).Extract(context.Background(), researcher.Query{ProfileURL: "1234567890123456"})
	_, ok := out.(researcher.NotFound)
	require.True(t, ok, "got %T", out)

	f = &stubFetcher{err: &fetcher.Error{Kind: fetcher.KindPermanent, Status: 404}}
	out = newTestExtractor(f).Extract(context.Background(), researcher.Query{ProfileURL: "1234567890123456"})
	_, ok = out.(researcher.NotFound)
	require.True(t, ok, "got %T", out)
}

func TestExtractFailurePropagatesKind(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{err: &fetcher.Error{Kind: fetcher.KindUnreachable}}
	out := newTestExtractor(f).Extract(context.Background(), researcher.Query{ProfileURL: "1234567890123456"})
	failed, ok := out.(researcher.Failed)
	require.True(t, ok, "got %T", out)
	require.Equal(t, researcher.KindUnreachable, failed.Kind)
}

func TestExtractNameQueryHandsOff(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{}
	out := newTestExtractor(f).Extract(context.Background(), researcher.Query{Name: "Maria Silva"})
	handoff, ok := out.(researcher.Handoff)
	require.True(t, ok, "got %T", out)
	require.Contains(t, handoff.SearchURL, "http://registry.test/buscatextual/busca.do?")
	require.Contains(t, handoff.SearchURL, "textoBusca=Maria+Silva")
	require.Empty(t, f.requests, "the search listing is never fetched")

	out = newTestExtractor(f).Extract(context.Background(), researcher.Query{})
	failed, ok := out.(researcher.Failed)
	require.True(t, ok)
	require.Equal(t, researcher.KindInvalidInput, failed.Kind)
}
