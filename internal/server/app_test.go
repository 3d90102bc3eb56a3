package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/scholar-crawler/internal/config"
	"github.com/JakeFAU/scholar-crawler/internal/pipeline"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
	localstorage "github.com/JakeFAU/scholar-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/scholar-crawler/internal/storage/memory"
)

const orcidRecord = `{
  "orcid-identifier": {"path": "0000-0002-1825-0097"},
  "person": {"name": {"given-names": {"value": "Josiah"}, "family-name": {"value": "Carberry"}}},
  "activities-summary": {
    "employments": {"affiliation-group": [
      {"summaries": [{"employment-summary": {"organization": {"name": "Brown University"}}}]}
    ]},
    "works": {"group": [
      {"work-summary": [{"title": {"title": {"value": "Healthy aging in community cohorts"}}, "type": "journal-article",
        "publication-date": {"year": {"value": "2019"}}}]}
    ]}
  }
}`

func testConfig(t *testing.T, upstream string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Fetcher.Interval = config.IntervalConfig{}
	cfg.Fetcher.Retry.Max = 1
	cfg.Request.TimeoutSeconds = 5
	cfg.Worker.Concurrency = 1
	cfg.Sources.INT.BaseURL = upstream
	return cfg
}

func orcidUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3.0/0000-0002-1825-0097" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(orcidRecord))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startDispatcher(t *testing.T, app *App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.dispatch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		app.Close()
	})
}

func postCapture(t *testing.T, h http.Handler, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/author-profile", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestBuildDefaultsToInProcessBackends(t *testing.T) {
	cfg := testConfig(t, "https://pub.orcid.org")
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	require.IsType(t, &memoryStorage.RecordStore{}, app.Store())
	require.IsType(t, &memoryStorage.BlobStore{}, app.artifacts)
	require.NotNil(t, app.pipeline)
	require.NotNil(t, app.exporter)
	require.NotNil(t, app.Handler())
	require.Nil(t, app.pubsubClient)
}

func TestBuildUsesLocalArtifactDir(t *testing.T) {
	cfg := testConfig(t, "https://pub.orcid.org")
	cfg.Export.Dir = filepath.Join(t.TempDir(), "exports")

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()
	require.IsType(t, &localstorage.BlobStore{}, app.artifacts)
}

func TestBuildRejectsBadStoreURL(t *testing.T) {
	cfg := testConfig(t, "https://pub.orcid.org")
	cfg.Store.URL = "postgres://%zz"

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "record store init failed")
}

func TestCaptureEndToEnd(t *testing.T) {
	upstream := orcidUpstream(t)
	app, err := Build(context.Background(), testConfig(t, upstream.URL), zap.NewNop())
	require.NoError(t, err)
	startDispatcher(t, app)

	out := postCapture(t, app.Handler(),
		`{"platforms":"INT","profileUrl":"https://orcid.org/0000-0002-1825-0097","exportArtifact":true}`)
	require.Equal(t, true, out["success"], out)
	require.Equal(t, true, out["persisted"])
	require.NotEmpty(t, out["artifactHandle"])
	info := out["researcherInfo"].(map[string]any)
	require.Equal(t, "Josiah Carberry", info["name"])
	require.Equal(t, true, info["retained"])

	records, err := app.Store().Query(context.Background(), researcher.RetainedOnly())
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Same-day recapture overwrites the stored document.
	out = postCapture(t, app.Handler(), `{"platforms":"orcid","profileUrl":"0000-0002-1825-0097"}`)
	require.Equal(t, true, out["success"])
	records, err = app.Store().Query(context.Background(), researcher.RetainedOnly())
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestCaptureNotFoundEndToEnd(t *testing.T) {
	upstream := orcidUpstream(t)
	app, err := Build(context.Background(), testConfig(t, upstream.URL), zap.NewNop())
	require.NoError(t, err)
	startDispatcher(t, app)

	out := postCapture(t, app.Handler(), `{"platforms":"INT","profileUrl":"0000-0001-5109-3700"}`)
	require.Equal(t, false, out["success"])
	require.Equal(t, "not_found", out["error"].(map[string]any)["kind"])
}

func TestBuildPublishesToPubSub(t *testing.T) {
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	orig := newPubSubClient
	newPubSubClient = func(ctx context.Context, project string) (*pubsub.Client, error) {
		return pubsub.NewClient(ctx, project, option.WithGRPCConn(conn))
	}
	t.Cleanup(func() { newPubSubClient = orig })

	upstream := orcidUpstream(t)
	cfg := testConfig(t, upstream.URL)
	cfg.Publisher = config.PublisherConfig{ProjectID: "test-project", Topic: "captures"}

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, app.pubsubClient)
	_, err = app.pubsubClient.CreateTopic(context.Background(), "captures")
	require.NoError(t, err)
	startDispatcher(t, app)

	out := postCapture(t, app.Handler(), `{"platforms":"INT","profileUrl":"0000-0002-1825-0097"}`)
	require.Equal(t, true, out["success"])

	require.Eventually(t, func() bool { return len(srv.Messages()) == 1 }, 2*time.Second, 20*time.Millisecond)
	msg := srv.Messages()[0]
	require.Equal(t, "INT", msg.Attributes["source"])
	require.Contains(t, string(msg.Data), `"sourceId":"0000-0002-1825-0097"`)
}

func TestCaptureAndExportWithoutHTTP(t *testing.T) {
	upstream := orcidUpstream(t)
	app, err := Build(context.Background(), testConfig(t, upstream.URL), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	resp := app.Capture(context.Background(), pipeline.Request{
		Platform:   researcher.SourceINT,
		ProfileURL: "0000-0002-1825-0097",
	})
	require.True(t, resp.Success)
	require.True(t, resp.Persisted)

	artifact, err := app.ExportRecords(context.Background(), researcher.SourceINT, 0)
	require.NoError(t, err)
	require.Equal(t, 1, artifact.Records)
	require.Contains(t, artifact.Handle, "researchers_INT_")

	empty, err := app.ExportRecords(context.Background(), researcher.SourceBR, 0)
	require.NoError(t, err)
	require.Zero(t, empty.Records)
}
