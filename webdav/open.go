package webdav

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apple-oss-distributions/webdavfs/fs"
	"github.com/apple-oss-distributions/webdavfs/lib/httplex"
	"github.com/apple-oss-distributions/webdavfs/network"
	"github.com/apple-oss-distributions/webdavfs/node"
)

// recentlyCreatedWindow is how long after creation a fully downloaded
// file skips the server check on open for write.
const recentlyCreatedWindow = 5 * time.Second

// fresh reports whether the node's validators were confirmed recently
// enough for an open for read to skip the server round-trip.
func (o *Operations) fresh(n *node.Node) bool {
	if n.ValidatedAt.IsZero() {
		return false
	}
	return time.Since(n.ValidatedAt) < o.opt.FreshnessWindow
}

// fromAttrCache serves the open from the cached appledoubleheader blob,
// if it is valid for (node, uid). Used in mirrored-disk mode where the
// whole file content is the header.
func (o *Operations) fromAttrCache(n *node.Node, uid uint32) bool {
	if o.attrs == nil || !o.cache.ADHeaderValid(n, uid) {
		return false
	}
	blob, ok := o.attrs.Get(n, uid)
	if !ok || n.CacheFile == nil {
		return false
	}
	if err := n.CacheFile.Truncate(0); err != nil {
		return false
	}
	if _, err := n.CacheFile.Seek(0, io.SeekStart); err != nil {
		return false
	}
	if _, err := n.CacheFile.Write(blob); err != nil {
		fs.Debugf(n, "couldn't write cached attributes: %v", err)
		// make sure the file is empty again and reset its status
		_, _ = n.CacheFile.Seek(0, io.SeekStart)
		_ = n.CacheFile.Truncate(0)
		n.SetStatus(node.DownloadNever)
		n.ValidatedAt = time.Time{}
		n.LastModified = -1
		n.ETag = ""
		return false
	}
	n.SetStatus(node.DownloadFinished)
	n.ValidatedAt = n.ADHeaderTime
	n.ETag = ""
	return true
}

// Open validates or populates the node's cache file for an open. With a
// finished download and fresh validators the server round-trip is
// skipped; otherwise a conditional GET revalidates or refetches the
// body, possibly handing a large body off for background download.
func (o *Operations) Open(uid uint32, n *node.Node, writeAccess bool) error {
	askServer := true
	if !writeAccess {
		if n.Status() == node.DownloadFinished && o.fresh(n) {
			// the file was completely downloaded very recently, skip the
			// server check
			askServer = false
		} else if o.fromAttrCache(n, uid) {
			askServer = false
		}
	} else {
		// if we just created the file and it's completely downloaded, we
		// won't check
		if !n.CreatedAt.IsZero() && time.Since(n.CreatedAt) < recentlyCreatedWindow &&
			n.Status() == node.DownloadFinished {
			askServer = false
		}
	}
	if !askServer {
		// what we have cached is OK
		return nil
	}

	u, err := o.urlFromNode(n, "")
	if err != nil {
		return err
	}
	resp, err := o.nw.GetTransaction(&network.Request{
		UID:          uid,
		Method:       "GET",
		URL:          u,
		Headers:      []network.Header{acceptHeader()},
		AutoRedirect: true,
		// The conditional headers depend on node state that changes
		// between attempts, so they are applied per attempt. If adding
		// them fails the request continues without them; it'll just
		// force the file to be downloaded.
		Prepare: func(hreq *http.Request) error {
			if n.Status() == node.DownloadNever || n.LastModified == -1 {
				return nil
			}
			date := httplex.FormatRFC1123(time.Unix(n.LastModified, 0))
			if n.Status() == node.DownloadFinished {
				hreq.Header.Set("If-Modified-Since", date)
				return nil
			}
			if n.CacheFile == nil {
				return nil
			}
			currentLength, err := n.CacheFile.Seek(0, io.SeekEnd)
			if err != nil {
				return nil
			}
			hreq.Header.Set("If-Range", date)
			hreq.Header.Set("Range", fmt.Sprintf("bytes=%d-", currentLength))
			return nil
		},
	}, n)
	if err != nil {
		return err
	}

	n.ValidatedAt = time.Now()
	if when := headerTime(resp, "Last-Modified"); when != -1 {
		n.LastModified = when
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		n.ETag = etag
	}
	return nil
}

// Read fetches one byte range of the node without touching the cache
// file. The Range header uses the inclusive-inclusive form for spot
// reads; the open-ended form is reserved for resuming downloads.
func (o *Operations) Read(uid uint32, n *node.Node, offset int64, count int64) ([]byte, error) {
	u, err := o.urlFromNode(n, "")
	if err != nil {
		return nil, err
	}
	body, _, err := o.nw.Transaction(&network.Request{
		UID:    uid,
		Method: "GET",
		URL:    u,
		Headers: []network.Header{
			acceptHeader(),
			{Field: "Range", Value: fmt.Sprintf("bytes=%d-%d", offset, offset+count-1)},
		},
		AutoRedirect: true,
	})
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > count {
		// don't return more than we asked for
		body = body[:count]
	}
	return body, nil
}
