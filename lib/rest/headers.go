package rest

import (
	"net/http"
	"strconv"
	"strings"
)

// ParseSizeFromHeaders parses the size of the object from the
// Content-Length or Content-Range headers, returning -1 if it is
// unknown. A Content-Range header, when present, takes precedence since
// it carries the complete length of a partial response.
func ParseSizeFromHeaders(headers http.Header) int64 {
	if contentRange := headers.Get("Content-Range"); contentRange != "" {
		// Content-Range: bytes 22-33/42
		if !strings.HasPrefix(contentRange, "bytes ") {
			return -1
		}
		slash := strings.IndexByte(contentRange, '/')
		if slash < 0 {
			return -1
		}
		size, err := strconv.ParseInt(contentRange[slash+1:], 10, 64)
		if err != nil {
			return -1
		}
		return size
	}
	if contentLength := headers.Get("Content-Length"); contentLength != "" {
		size, err := strconv.ParseInt(contentLength, 10, 64)
		if err != nil {
			return -1
		}
		return size
	}
	return -1
}
