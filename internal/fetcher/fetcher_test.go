package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestFullURLMergesParams(t *testing.T) {
	t.Parallel()

	req := Request{
		URL:    "https://scholar.example/citations?hl=en",
		Params: url.Values{"user": {"JicYPdAAAAAJ"}, "hl": {"pt-BR"}},
	}
	got, err := req.FullURL()
	require.NoError(t, err)
	u, err := url.Parse(got)
	require.NoError(t, err)
	require.Equal(t, "JicYPdAAAAAJ", u.Query().Get("user"))
	require.Equal(t, "pt-BR", u.Query().Get("hl"))

	_, err = Request{URL: "/relative"}.FullURL()
	require.Error(t, err)
}

func TestHostKeyIncludesPort(t *testing.T) {
	t.Parallel()

	require.Equal(t, "http://127.0.0.1:8080", HostKey("http://127.0.0.1:8080/a?b=c"))
	require.Equal(t, "https://pub.orcid.org", HostKey("https://pub.orcid.org/v3.0/x"))
	require.Equal(t, "unknown", HostKey("::bad"))
}

func TestErrorMatchesKindSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindBlocked, URL: "https://x", Status: 200})
	require.ErrorIs(t, err, ErrBlocked)
	require.NotErrorIs(t, err, ErrPermanent)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindBlocked, kind)
	require.Equal(t, 200, StatusOf(err))

	kind, ok = KindOf(context.DeadlineExceeded)
	require.True(t, ok)
	require.Equal(t, KindTimeout, kind)

	_, ok = KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestKindForStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindTransient, KindForStatus(503))
	assert.Equal(t, KindTransient, KindForStatus(429))
	assert.Equal(t, KindPermanent, KindForStatus(404))
	assert.Equal(t, KindPermanent, KindForStatus(403))
}

func TestUserAgentsRotate(t *testing.T) {
	t.Parallel()

	ua := NewUserAgents([]string{"a", "b", "c"})
	require.Equal(t, []string{"a", "b", "c", "a"}, []string{ua.Next(), ua.Next(), ua.Next(), ua.Next()})
}

func TestUserAgentsConcurrentUse(t *testing.T) {
	t.Parallel()

	ua := NewUserAgents(nil)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotEmpty(t, ua.Next())
		}()
	}
	wg.Wait()
}

func TestRedactMasksCredentials(t *testing.T) {
	t.Parallel()

	got := Redact("https://api.example/search?engine=google_scholar_author&api_key=s3cret&author_id=x")
	require.NotContains(t, got, "s3cret")
	require.Contains(t, got, "api_key=REDACTED")
	require.Contains(t, got, "author_id=x")

	plain := "https://pub.example/v3.0/search?q=a"
	require.Equal(t, plain, Redact(plain))
}
