package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/config"
	"github.com/JakeFAU/scholar-crawler/internal/export"
	"github.com/JakeFAU/scholar-crawler/internal/pipeline"
	"github.com/JakeFAU/scholar-crawler/internal/queue"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
	"github.com/JakeFAU/scholar-crawler/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestServer_AuthorProfile_Succeeds(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{respond: func(req pipeline.Request) pipeline.Response {
		return pipeline.Response{
			Success:      true,
			Platform:     req.Platform,
			Query:        req.Query,
			Data:         pipeline.Data{Publications: []researcher.Publication{{Title: "Frailty in older adults"}}},
			TotalResults: 1,
			Persisted:    true,
			Diagnostics:  []researcher.Diagnostic{},
		}
	}}
	fx := newFixture(t, capturer, config.AuthConfig{})

	body := `{"query":"0000-0002-1825-0097","platforms":"orcid","exportArtifact":true}`
	rec := fx.do(http.MethodPost, "/v1/author-profile", body, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
	require.Equal(t, "INT", resp["platform"])
	require.InDelta(t, 1, resp["totalResults"], 0)
	require.NotContains(t, resp, "error")

	req := capturer.last()
	require.Equal(t, researcher.SourceINT, req.Platform)
	require.Equal(t, researcher.DefaultMaxPublications, req.MaxPublications)
	require.True(t, req.ExportArtifact)
}

func TestServer_AuthorProfile_FailedCaptureIsStillOK(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{respond: func(req pipeline.Request) pipeline.Response {
		return pipeline.Response{
			Platform: req.Platform,
			Error:    &pipeline.ErrorInfo{Kind: researcher.KindBlocked, Message: "captcha"},
			Blocked:  &researcher.Blocked{Source: researcher.SourceBR, Identifier: "Ana Souza", Guidance: "solve the captcha"},
		}
	}}
	fx := newFixture(t, capturer, config.AuthConfig{})

	rec := fx.do(http.MethodPost, "/v1/author-profile", `{"query":"Ana Souza","platforms":"BR","maxPublications":5}`, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"blocked"`)
	require.Equal(t, 5, capturer.last().MaxPublications)
}

func TestServer_AuthorProfile_InvalidInput(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{respond: func(req pipeline.Request) pipeline.Response {
		return pipeline.Response{
			Platform: req.Platform,
			Error:    &pipeline.ErrorInfo{Kind: researcher.KindInvalidInput, Message: "query or profileUrl required"},
		}
	}}
	fx := newFixture(t, capturer, config.AuthConfig{})

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: "{invalid"},
		{name: "unknown platform", body: `{"query":"x","platforms":"scopus"}`},
		{name: "zero max publications", body: `{"query":"x","platforms":"INT","maxPublications":0}`},
		{name: "pipeline rejects", body: `{"platforms":"INT"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fx.do(http.MethodPost, "/v1/author-profile", tt.body, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServer_AuthorProfile_SubmitErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "queue closed", err: fmt.Errorf("queue enqueue: %w", queue.ErrClosed), want: http.StatusServiceUnavailable},
		{name: "deadline", err: fmt.Errorf("await capture: %w", context.DeadlineExceeded), want: http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fx := newFixture(t, &fakeCapturer{err: tt.err}, config.AuthConfig{})
			rec := fx.do(http.MethodPost, "/v1/author-profile", `{"query":"Ana","platforms":"Scholar"}`, "")
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakeCapturer{}, config.AuthConfig{})
	rec := fx.do(http.MethodGet, "/healthz", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","capturedAt":"2026-03-02T12:00:00Z"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakeCapturer{}, config.AuthConfig{})
	require.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/readyz", "", "").Code)

	fx.server.deps.Store = downStore{}
	require.Equal(t, http.StatusServiceUnavailable, fx.do(http.MethodGet, "/readyz", "", "").Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakeCapturer{}, config.AuthConfig{})
	fx.do(http.MethodGet, "/healthz", "", "")
	rec := fx.do(http.MethodGet, "/metrics", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# TYPE")
}

func TestServer_ListRecords(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakeCapturer{}, config.AuthConfig{})
	fx.seed(t,
		record(researcher.SourceINT, "0000-0002-1825-0097", true, 0),
		record(researcher.SourceBR, "1234567890123456", true, time.Hour),
		record(researcher.SourceBR, "6543210987654321", false, 2*time.Hour),
	)

	rec := fx.do(http.MethodGet, "/v1/records", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all struct {
		Records []researcher.Record `json:"records"`
		Total   int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Equal(t, 2, all.Total)
	require.Equal(t, "1234567890123456", all.Records[0].SourceID)

	rec = fx.do(http.MethodGet, "/v1/records?source=orcid&limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "0000-0002-1825-0097")
	require.NotContains(t, rec.Body.String(), "1234567890123456")

	require.Equal(t, http.StatusBadRequest, fx.do(http.MethodGet, "/v1/records?limit=-1", "", "").Code)
	require.Equal(t, http.StatusBadRequest, fx.do(http.MethodGet, "/v1/records?source=dblp", "", "").Code)
}

func TestServer_ExportRoundTrip(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakeCapturer{}, config.AuthConfig{})
	fx.seed(t,
		record(researcher.SourceINT, "0000-0002-1825-0097", true, 0),
		record(researcher.SourceBR, "1234567890123456", true, time.Hour),
	)

	rec := fx.do(http.MethodPost, "/v1/exports", `{"source":"INT"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var artifact export.Artifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifact))
	require.True(t, export.ValidHandle(artifact.Handle))
	require.Contains(t, artifact.Handle, "researchers_INT_")
	require.Equal(t, 1, artifact.Records)
	require.Equal(t, 1, artifact.Publications)

	rec = fx.do(http.MethodGet, "/v1/exports/"+artifact.Handle, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), artifact.Handle)

	sheets, err := export.Read(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Len(t, sheets[export.SheetResearchers], 2)
	require.Equal(t, "Ana Souza", sheets[export.SheetResearchers][1][0])
}

func TestServer_ExportEmptyBodyExportsAllSources(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakeCapturer{}, config.AuthConfig{})
	fx.seed(t, record(researcher.SourceScholar, "JicYPdAAAAAJ", true, 0))

	rec := fx.do(http.MethodPost, "/v1/exports", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "researchers_all_")
}

func TestServer_DownloadExportErrors(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakeCapturer{}, config.AuthConfig{})

	rec := fx.do(http.MethodGet, "/v1/exports/not-a-handle.xlsx", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	missing := export.Handle(researcher.SourceBR, testNow, "0190f0f6-0000-7000-8000-000000000000")
	rec = fx.do(http.MethodGet, "/v1/exports/"+missing, "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakeCapturer{}, config.AuthConfig{Enabled: true, APIKey: "secret"})

	require.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/healthz", "", "").Code)
	require.Equal(t, http.StatusForbidden, fx.do(http.MethodGet, "/v1/records", "", "").Code)
	require.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/v1/records", "", "secret").Code)
	require.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/v1/records?api_key=secret", "", "").Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakeCapturer{}, config.AuthConfig{})
	require.NotEmpty(t, fx.do(http.MethodGet, "/healthz", "", "").Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fixture struct {
	server *Server
	store  *memory.RecordStore
}

func newFixture(t *testing.T, capturer Capturer, auth config.AuthConfig) *fixture {
	t.Helper()

	store := memory.NewRecordStore()
	blobs := memory.NewBlobStore()
	clock := fakeClock{now: testNow}
	cfg := config.Config{
		Auth:    auth,
		Request: config.RequestConfig{TimeoutSeconds: 5},
	}
	deps := Deps{
		Capturer:  capturer,
		Store:     store,
		Exporter:  export.NewBuilder(blobs, &fakeIDGen{}, clock, zap.NewNop()),
		Artifacts: blobs,
		Clock:     clock,
	}
	return &fixture{server: NewServer(deps, cfg, zap.NewNop()), store: store}
}

func (f *fixture) do(method, path, body, apiKey string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seed(t *testing.T, records ...researcher.Record) {
	t.Helper()
	for _, rec := range records {
		_, err := f.store.Put(context.Background(), rec)
		require.NoError(t, err)
	}
}

func record(source researcher.Source, id string, retained bool, offset time.Duration) researcher.Record {
	return researcher.Record{
		Source:      source,
		SourceID:    id,
		Name:        "Ana Souza",
		Affiliation: "USP",
		Publications: []researcher.Publication{
			{Title: "Healthy ageing cohorts", SourceTag: "orcid"},
		},
		CapturedAt: testNow.Add(offset),
		Retained:   retained,
	}
}

type fakeCapturer struct {
	mu       sync.Mutex
	requests []pipeline.Request
	respond  func(pipeline.Request) pipeline.Response
	err      error
}

func (f *fakeCapturer) Submit(_ context.Context, req pipeline.Request) (pipeline.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return pipeline.Response{}, f.err
	}
	return f.respond(req), nil
}

func (f *fakeCapturer) last() pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type downStore struct{ researcher.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("0190f0f6-0000-7000-8000-%012d", f.n), nil
}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	return c.now
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
