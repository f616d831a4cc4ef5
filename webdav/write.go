package webdav

import (
	"fmt"
	"io"
	"time"

	"github.com/apple-oss-distributions/webdavfs/network"
	"github.com/apple-oss-distributions/webdavfs/node"
)

// lockTokenIf formats a lock token for the If header.
func lockTokenIf(token string) string {
	return fmt.Sprintf("(<%s>)", token)
}

// Create makes an empty file on the server with a bodyless PUT. PUTs
// cannot be automatically redirected, see RFC 2616 section 10.3. The
// server's Date header is recorded as the creation time.
func (o *Operations) Create(uid uint32, parent *node.Node, name string) (time.Time, error) {
	u, err := o.urlFromNode(parent, name)
	if err != nil {
		return time.Time{}, err
	}
	_, resp, err := o.nw.Transaction(&network.Request{
		UID:          uid,
		Method:       "PUT",
		URL:          u,
		Headers:      []network.Header{acceptHeader()},
		AutoRedirect: false,
	})
	if err != nil {
		return time.Time{}, err
	}
	return dateOrNow(resp), nil
}

// Mkdir makes a collection on the server.
func (o *Operations) Mkdir(uid uint32, parent *node.Node, name string) (time.Time, error) {
	u, err := o.urlFromNode(parent, name)
	if err != nil {
		return time.Time{}, err
	}
	_, resp, err := o.nw.Transaction(&network.Request{
		UID:          uid,
		Method:       "MKCOL",
		URL:          u,
		Headers:      []network.Header{acceptHeader()},
		AutoRedirect: false,
	})
	if err != nil {
		return time.Time{}, err
	}
	return dateOrNow(resp), nil
}

// Fsync writes the node's cache file back to the server with a PUT. If
// the node holds a lock token it is sent in the If header. On success
// the new validators are captured from the response headers, or fetched
// with a follow-up PROPFIND when the server sent neither. The file
// length and last-modified time are returned for the kernel shim.
func (o *Operations) Fsync(uid uint32, n *node.Node) (fileLength int64, lastModified int64, err error) {
	u, err := o.urlFromNode(n, "")
	if err != nil {
		return -1, -1, err
	}

	headers := []network.Header{acceptHeader()}
	if n.LockToken != "" {
		headers = append(headers, network.Header{Field: "If", Value: lockTokenIf(n.LockToken)})
	}
	resp, err := o.nw.TransactionFromFile(&network.Request{
		UID:          uid,
		Method:       "PUT",
		URL:          u,
		Headers:      headers,
		AutoRedirect: false,
	}, n.CacheFile)
	if err != nil {
		return -1, -1, err
	}

	lastModified = headerTime(resp, "Last-Modified")
	etag := resp.Header.Get("ETag")

	if lastModified == -1 && etag == "" {
		// Some servers answer a PUT with neither validator; ask for them
		// explicitly so the cache file stays usable.
		body, _, perr := o.nw.Transaction(&network.Request{
			UID:    uid,
			Method: "PROPFIND",
			URL:    u,
			Body:   []byte(propfindValidators),
			Headers: []network.Header{
				acceptHeader(),
				{Field: "Content-Type", Value: "text/xml"},
				{Field: "Depth", Value: "0"},
			},
			AutoRedirect: true,
		})
		if perr == nil {
			lastModified, etag, _ = o.parser.CacheValidators(body)
		}
	}

	n.LastModified = lastModified
	n.ETag = etag
	n.ValidatedAt = time.Now()

	fileLength, err = n.CacheFile.Seek(0, io.SeekEnd)
	if err != nil {
		return -1, lastModified, err
	}
	return fileLength, lastModified, nil
}
