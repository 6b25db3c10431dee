package crawl

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
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"keeps custom port", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"drops fragment", "https://example.com/a#section", "https://example.com/a"},
		{"adds root path", "https://example.com", "https://example.com/"},
		{"trims trailing slash on non-root", "https://example.com/a/b/", "https://example.com/a/b"},
		{"keeps root slash", "https://example.com/", "https://example.com/"},
		{"sorts query params", "https://example.com/a?z=1&a=2", "https://example.com/a?a=2&z=1"},
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

func TestNormalizeURLRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "not a url at all ::", "ftp://example.com/x", "/relative/path"} {
		_, err := NormalizeURL(in)
		require.Error(t, err, "input %q", in)
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	t.Parallel()

	first, err := NormalizeURL("HTTP://Example.com:80/a/?b=1&a=2#frag")
	require.NoError(t, err)
	second, err := NormalizeURL(first)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDomain(t *testing.T) {
	t.Parallel()

	got, err := Domain("HTTPS://Example.COM:8443/path?q=1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com:8443", got)

	_, err = Domain("relative/only")
	require.Error(t, err)
}
