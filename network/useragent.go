package network

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/apple-oss-distributions/webdavfs/fs"
)

// mirroredHost is the origin for which the X-Source-Id header is sent.
const mirroredHost = "idisk.mac.com"

// userAgent builds the User-Agent request-header value sent with every
// request. The value MUST start with the product token "WebDAVFS"
// because some WebDAV servers special case this client:
//
//	WebDAVFS/2.0.0 (mirrored) linux/go1.21 (amd64)
func userAgent(mirrored bool) string {
	comment := ""
	if mirrored {
		comment = "(mirrored) "
	}
	return fmt.Sprintf("WebDAVFS/%s %s%s/%s (%s)",
		fs.Version, comment, runtime.GOOS, runtime.Version(), runtime.GOARCH)
}

// xSourceID returns the X-Source-Id header value for base, or "" when the
// origin doesn't want one.
func xSourceID(base *url.URL) string {
	if !strings.EqualFold(base.Hostname(), mirroredHost) {
		return ""
	}
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
