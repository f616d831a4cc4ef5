package webdav

import (
	"github.com/apple-oss-distributions/webdavfs/lib/httplex"
)

// ParseDAVLevel parses a DAV header's field-value (if any) to get the
// DAV level (0 = DAV not supported).
//
// The rules for the header are (RFC 2518, section 9.1):
//
//	DAV    = "DAV" ":" "1" ["," "2"] ["," 1#extend]
//	extend = Coded-URL | token
//
// Coded-URLs appear here because Apache 2.0 servers put them in DAV
// headers. Malformed fragments end the parse; the level degrades to the
// highest successfully parsed value.
func ParseDAVLevel(fieldValue string) int {
	level := 0
	i := 0
	for i < len(fieldValue) {
		// find first non-LWS character
		i = httplex.SkipLWS(fieldValue, i)
		if i >= len(fieldValue) {
			break
		}

		// is the value a token or a Coded-URL?
		if fieldValue[i] == '<' {
			// it's a Coded-URL, so eat it
			i++
			i = httplex.SkipCodedURL(fieldValue, i)
			if i < len(fieldValue) {
				// skip over '>'
				i++
			}
		} else {
			start := i
			i = httplex.SkipToken(fieldValue, i)

			// could this token be '1' or '2'?
			if i-start == 1 {
				if fieldValue[start] == '1' && level < 1 {
					level = 1
				} else if fieldValue[start] == '2' && level < 2 {
					level = 2
				}
			}
		}

		// skip over LWS (if any)
		i = httplex.SkipLWS(fieldValue, i)

		// if there's any string left after the LWS, it should be one or
		// more commas
		if i < len(fieldValue) {
			if fieldValue[i] != ',' {
				break
			}
			for i < len(fieldValue) && fieldValue[i] == ',' {
				i++
			}
		}
	}
	return level
}
