package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips fragment", "https://example.com/page#section", "https://example.com/page"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"keeps explicit port", "https://example.com:8443/a", "https://example.com:8443/a"},
		{"sorts query params", "https://example.com/?b=2&a=1", "https://example.com/?a=1&b=2"},
		{"trims whitespace", "  https://example.com/x  ", "https://example.com/x"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURL_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "ftp://example.com/file", "mailto:a@b.c", "/relative/only"} {
		_, err := NormalizeURL(in)
		require.Error(t, err, "input %q", in)
	}
}

func TestLooksLikeSitemap(t *testing.T) {
	t.Parallel()

	require.True(t, LooksLikeSitemap("https://example.com/sitemap.xml"))
	require.True(t, LooksLikeSitemap("https://example.com/feed.XML"))
	require.True(t, LooksLikeSitemap("https://example.com/sitemap-1.xml.gz"))
	require.True(t, LooksLikeSitemap("https://example.com/Sitemap_index"))
	require.False(t, LooksLikeSitemap("https://example.com/blog/post"))
	require.False(t, LooksLikeSitemap("https://example.com/xmlparser-docs"))
}

func TestDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Domain("https://www.Example.com/a/b"))
	require.Equal(t, "sub.example.com", Domain("https://sub.example.com"))
	require.Equal(t, "", Domain("://bad"))
}

func TestDomainPrefix(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com/blog", DomainPrefix("https://www.example.com/blog/post-1"))
	require.Equal(t, "example.com", DomainPrefix("https://example.com/"))
	require.Equal(t, "example.com", DomainPrefix("https://example.com"))
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	require.True(t, CanTransition(StatusPending, StatusPaused))
	require.True(t, CanTransition(StatusPaused, StatusPending))
	require.True(t, CanTransition(StatusError, StatusPending), "operator override")
	require.True(t, CanTransition(StatusPaused, StatusPaused), "same-state is a no-op")

	require.False(t, CanTransition(StatusVisited, StatusPending))
	require.False(t, CanTransition(StatusVisited, StatusPaused))
	require.False(t, CanTransition(StatusError, StatusPaused))
	require.False(t, CanTransition(StatusPaused, StatusError))
}
