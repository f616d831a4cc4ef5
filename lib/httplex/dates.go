// Package httplex implements the small lexical pieces of the HTTP and
// WebDAV grammars: date parsing and formatting, and the token, LWS and
// Coded-URL scanners used when picking apart header field values.
package httplex

import (
	"time"

	"github.com/pkg/errors"
)

// rfc1123GMT is time.RFC1123 with the zone fixed to GMT, which is what
// RFC 2616 requires on the wire.
const rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

// Possible date formats to parse HTTP dates with. RFC 2616 section 3.3.1
// requires accepting RFC 1123, RFC 850 and asctime dates; the tail of the
// list covers servers that send a numeric zone or drop leading zeros.
var dateFormats = []string{
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
	time.RFC1123Z,
	"Mon, _2 Jan 2006 15:04:05 MST",
}

// ParseHTTPDate parses an RFC 850, RFC 1123 or asctime formatted
// date/time string.
func ParseHTTPDate(s string) (time.Time, error) {
	var err error
	for _, format := range dateFormats {
		var t time.Time
		t, err = time.Parse(format, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Wrapf(err, "couldn't parse HTTP date %q", s)
}

// FormatRFC1123 formats t as an RFC 1123 date in GMT, the only form a
// client should ever send.
func FormatRFC1123(t time.Time) string {
	return t.UTC().Format(rfc1123GMT)
}
