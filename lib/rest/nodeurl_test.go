package rest

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeURL(t *testing.T) {
	base, err := url.Parse("http://example.com/dav/")
	require.NoError(t, err)

	for i, test := range []struct {
		nodePath string
		name     string
		want     string
	}{
		{"", "", "http://example.com/dav/"},
		{"file.txt", "", "http://example.com/dav/file.txt"},
		{"dir/", "", "http://example.com/dav/dir/"},
		{"dir/", "child", "http://example.com/dav/dir/child"},
		{"with space", "", "http://example.com/dav/with%20space"},
		{"semi;colon", "", "http://example.com/dav/semi%3Bcolon"},
		{"colon:name", "", "http://example.com/dav/colon%3Aname"},
		{"quest?ion", "", "http://example.com/dav/quest%3Fion"},
		{"per%cent", "", "http://example.com/dav/per%25cent"},
	} {
		got, err := NodeURL(base, test.nodePath, test.name)
		require.NoError(t, err, fmt.Sprintf("test %d", i))
		assert.Equal(t, test.want, got.String(), fmt.Sprintf("test %d nodePath=%q name=%q", i, test.nodePath, test.name))
	}
}

// composed URLs must percent-decode back to the raw node path
func TestNodeURLRoundTrip(t *testing.T) {
	base, err := url.Parse("http://example.com/dav/")
	require.NoError(t, err)

	for _, nodePath := range []string{
		"plain.txt",
		"with space",
		"per%cent",
		"semi;colon",
		"colon:name",
		"quest?ion",
		"ünïcode/fïle",
		"dir/",
	} {
		u, err := NodeURL(base, nodePath, "")
		require.NoError(t, err, nodePath)
		decoded, err := url.PathUnescape(u.EscapedPath())
		require.NoError(t, err, nodePath)
		assert.Equal(t, "/dav/"+nodePath, decoded, nodePath)
	}

	// the base-URL-only case is the base URL itself, byte for byte
	u, err := NodeURL(base, "", "")
	require.NoError(t, err)
	assert.Equal(t, base.String(), u.String())
}
