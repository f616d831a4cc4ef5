// Package rest implements URL composition helpers for building request
// URLs from a base URL and node paths.
package rest

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// URLPathEscape escapes URL path the way defined for rest apis: reserved
// characters stay, illegal ones are percent-encoded, and a leading
// segment containing a colon is protected with "./" so it cannot be
// mistaken for a scheme.
func URLPathEscape(in string) string {
	var u url.URL
	u.Path = in
	return u.String()
}

// URLPathEscapeAll escapes every byte that is not unreserved or a path
// separator, including the characters URLPathEscape leaves alone.
func URLPathEscapeAll(in string) string {
	const upperhex = "0123456789ABCDEF"
	var out strings.Builder
	for i := 0; i < len(in); i++ {
		c := in[i]
		if c == '/' ||
			('A' <= c && c <= 'Z') ||
			('a' <= c && c <= 'z') ||
			('0' <= c && c <= '9') {
			out.WriteByte(c)
			continue
		}
		out.WriteByte('%')
		out.WriteByte(upperhex[c>>4])
		out.WriteByte(upperhex[c&0xf])
	}
	return out.String()
}

// URLJoin joins a URL and a path returning a new URL
//
// path should be URL escaped
func URLJoin(base *url.URL, path string) (*url.URL, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Error parsing %q as URL", path)
	}
	return base.ResolveReference(rel), nil
}

// nodePathEscape percent-encodes everything not permitted in a URL path,
// additionally escaping ":", ";" and "?". ":" is escaped so that names in
// the root collection cannot look like absolute URLs with some weird
// scheme; ";" and "?" are not legal pchar characters.
func nodePathEscape(in string) string {
	u := url.URL{Path: in}
	escaped := u.EscapedPath()
	escaped = strings.ReplaceAll(escaped, ":", "%3A")
	escaped = strings.ReplaceAll(escaped, ";", "%3B")
	return escaped
}

// NodeURL composes the absolute request URL for the node path given,
// optionally extended with a child name. nodePath is the raw UTF-8 path
// relative to base (directories end in "/"); name is appended as raw
// bytes before escaping. An empty relative path yields base itself.
func NodeURL(base *url.URL, nodePath, name string) (*url.URL, error) {
	rel := nodePath + name
	if rel == "" {
		return base, nil
	}
	return URLJoin(base, nodePathEscape(rel))
}
