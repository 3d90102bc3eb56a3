package detector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlock_LoginRedirect(t *testing.T) {
	t.Parallel()

	b := NewBlock(Config{})
	reason, blocked := b.Detect("https://accounts.google.com/ServiceLogin?continue=x", nil, true)
	require.True(t, blocked)
	require.Contains(t, reason, "login wall")
}

func TestBlock_CaptchaMarkerIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	b := NewBlock(Config{})
	body := []byte(`<html><body>Our systems have detected UNUSUAL traffic from your computer network</body></html>`)
	_, blocked := b.Detect("https://scholar.example/citations?user=x", body, true)
	require.True(t, blocked)
}

func TestBlock_CaptchaElement(t *testing.T) {
	t.Parallel()

	b := NewBlock(Config{BodyMarkers: []string{"never-present"}})
	body := []byte(`<html><body><form id="captcha-form"><input name="q"></form></body></html>`)
	reason, blocked := b.Detect("https://scholar.example/", body, true)
	require.True(t, blocked)
	require.Contains(t, reason, "captcha-form")
}

func TestBlock_JSONBodiesSkipMarkers(t *testing.T) {
	t.Parallel()

	b := NewBlock(Config{})
	body := []byte(`{"title":"Detecting g-recaptcha abuse"}`)
	_, blocked := b.Detect("https://api.example/search", body, false)
	require.False(t, blocked)
}

func TestBlock_OrdinaryProfilePage(t *testing.T) {
	t.Parallel()

	b := NewBlock(Config{})
	body := []byte(`<html><body><div id="gsc_prf_in">Ada Lovelace</div></body></html>`)
	_, blocked := b.Detect("https://scholar.example/citations?user=abc", body, true)
	require.False(t, blocked)
}

func TestBlock_CustomPrefixes(t *testing.T) {
	t.Parallel()

	b := NewBlock(Config{LoginPrefixes: []string{"/login"}})
	_, blocked := b.LoginWall("http://127.0.0.1:9999/login?next=/x")
	require.True(t, blocked)
	_, blocked = b.LoginWall("https://accounts.google.com/ServiceLogin")
	require.False(t, blocked, "custom list replaces defaults")
}
