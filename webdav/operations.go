// Package webdav implements one function per filesystem verb, each
// composed of a request URL, headers, an optional XML body and a call
// into the transaction engine.
package webdav

import (
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/apple-oss-distributions/webdavfs/fs"
	"github.com/apple-oss-distributions/webdavfs/lib/httplex"
	"github.com/apple-oss-distributions/webdavfs/lib/rest"
	"github.com/apple-oss-distributions/webdavfs/network"
	"github.com/apple-oss-distributions/webdavfs/node"
)

// The XML bodies sent with PROPFIND requests.
const (
	propfindStat = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
<D:prop>
<D:getlastmodified/>
<D:getcontentlength/>
<D:resourcetype/>
</D:prop>
</D:propfind>
`
	propfindResourceType = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
<D:prop>
<D:resourcetype/>
</D:prop>
</D:propfind>
`
	propfindValidators = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
<D:prop>
<D:getlastmodified/>
<D:getetag/>
</D:prop>
</D:propfind>
`
	propfindQuota = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
<D:prop>
<D:quota/>
<D:quotaused/>
</D:prop>
</D:propfind>
`
)

// Operations binds the WebDAV verbs to a network context and the cache
// layer.
type Operations struct {
	nw     *network.Network
	cache  node.Cache
	parser Parser
	attrs  *node.AttrCache
	opt    *fs.Options
}

// New returns the operation set for the network context. cache is the
// external cache layer; attrs may be nil when mirrored-disk mode is off.
func New(nw *network.Network, cache node.Cache, attrs *node.AttrCache) *Operations {
	return &Operations{
		nw:     nw,
		cache:  cache,
		parser: XMLParser{},
		attrs:  attrs,
		opt:    nw.Options(),
	}
}

// SetParser substitutes the response body parser.
func (o *Operations) SetParser(p Parser) {
	o.parser = p
}

// Network returns the network context the operations run on.
func (o *Operations) Network() *network.Network {
	return o.nw
}

// urlFromNode composes the absolute URL for the node, or for its named
// child when name is not empty.
func (o *Operations) urlFromNode(n *node.Node, name string) (*url.URL, error) {
	nodePath, err := o.cache.PathFromNode(n)
	if err != nil {
		return nil, err
	}
	return rest.NodeURL(o.nw.BaseURL(), nodePath, name)
}

func acceptHeader() network.Header {
	return network.Header{Field: "Accept", Value: "*/*"}
}

// headerTime parses an HTTP date response header into epoch seconds,
// returning -1 when absent or unparsable.
func headerTime(resp *http.Response, field string) int64 {
	v := resp.Header.Get(field)
	if v == "" {
		return -1
	}
	t, err := httplex.ParseHTTPDate(v)
	if err != nil {
		return -1
	}
	return t.Unix()
}

// stat issues a depth-0 PROPFIND for the three properties every stat
// needs.
func (o *Operations) stat(uid uint32, u *url.URL) (ResourceInfo, error) {
	body, _, err := o.nw.Transaction(&network.Request{
		UID:    uid,
		Method: "PROPFIND",
		URL:    u,
		Body:   []byte(propfindStat),
		Headers: []network.Header{
			acceptHeader(),
			{Field: "Content-Type", Value: "text/xml"},
			{Field: "Depth", Value: "0"},
		},
		AutoRedirect: true,
	})
	if err != nil {
		return ResourceInfo{}, err
	}
	return o.parser.Stat(body)
}

// Lookup stats the named child of the parent node.
func (o *Operations) Lookup(uid uint32, parent *node.Node, name string) (ResourceInfo, error) {
	u, err := o.urlFromNode(parent, name)
	if err != nil {
		return ResourceInfo{}, err
	}
	return o.stat(uid, u)
}

// GetAttr stats the node itself. The fileid is filled in from the node
// since the server doesn't know it.
func (o *Operations) GetAttr(uid uint32, n *node.Node) (ResourceInfo, uint64, error) {
	u, err := o.urlFromNode(n, "")
	if err != nil {
		return ResourceInfo{}, 0, err
	}
	info, err := o.stat(uid, u)
	if err != nil {
		return ResourceInfo{}, 0, err
	}
	return info, n.FileID, nil
}

// dirIsEmpty checks that the collection at u has no members. An empty
// collection has exactly one entry, for itself, as far as the server is
// concerned.
func (o *Operations) dirIsEmpty(uid uint32, u *url.URL) error {
	body, _, err := o.nw.Transaction(&network.Request{
		UID:    uid,
		Method: "PROPFIND",
		URL:    u,
		Body:   []byte(propfindResourceType),
		Headers: []network.Header{
			acceptHeader(),
			{Field: "Content-Type", Value: "text/xml"},
			{Field: "Depth", Value: "1"},
		},
		AutoRedirect: true,
	})
	if err != nil {
		return err
	}
	count, err := o.parser.FileCount(body)
	if err != nil {
		return err
	}
	if count > 1 {
		return fs.ErrNotEmpty
	}
	return nil
}

// getDAVLevel issues an OPTIONS request on u and parses the DAV header.
func (o *Operations) getDAVLevel(uid uint32, u *url.URL) (int, error) {
	_, resp, err := o.nw.Transaction(&network.Request{
		UID:          uid,
		Method:       "OPTIONS",
		URL:          u,
		Headers:      []network.Header{acceptHeader()},
		AutoRedirect: true,
	})
	if err != nil {
		return 0, err
	}
	return ParseDAVLevel(resp.Header.Get("DAV")), nil
}

// MountInfo is what a successful mount learns about the server.
type MountInfo struct {
	// ReadOnly is set when the server only speaks DAV level 1, which has
	// no locking; the mount should be read-only.
	ReadOnly bool

	// LockingEnabled is set when the server speaks DAV level 2.
	LockingEnabled bool
}

// cancelled reports whether an operation failed because the user
// couldn't or wouldn't authenticate.
func cancelled(err error) bool {
	return errors.Is(err, fs.ErrCancelled) ||
		errors.Is(err, fs.ErrAuthNeeded) ||
		errors.Is(err, fs.ErrPermission)
}

// Mount checks that the base URL speaks DAV and is a collection. The
// only errors it returns are ErrCancelled (the user could not
// authenticate and cancelled the mount) and ErrNotConfigured (we could
// not talk DAV to the server).
func (o *Operations) Mount(uid uint32) (MountInfo, error) {
	var info MountInfo
	u := o.nw.BaseURL()

	level, err := o.getDAVLevel(uid, u)
	if err != nil {
		if cancelled(err) {
			fs.Debugf(nil, "mount cancelled by user")
			return info, fs.ErrCancelled
		}
		fs.Debugf(nil, "mount: OPTIONS failed: %v", err)
		return info, fs.ErrNotConfigured
	}
	if level > 2 {
		// pin it to 2 -- the highest we care about
		level = 2
	}
	switch level {
	case 1:
		info.ReadOnly = true
	case 2:
		info.LockingEnabled = true
	default:
		fs.Debugf(nil, "mount: WebDAV protocol not supported")
		return info, fs.ErrNotConfigured
	}

	stat, err := o.stat(uid, u)
	if err != nil {
		if cancelled(err) {
			fs.Debugf(nil, "mount cancelled by user")
			return info, fs.ErrCancelled
		}
		fs.Debugf(nil, "mount: PROPFIND failed: %v", err)
		return info, fs.ErrNotConfigured
	}
	if !stat.IsDir {
		// the PROPFIND was successful, but the URL was to a file, not a
		// collection
		fs.Debugf(nil, "mount: URL is not a collection resource")
		return info, fs.ErrNotConfigured
	}
	return info, nil
}

// Statfs asks the server for its quota properties.
func (o *Operations) Statfs(uid uint32, n *node.Node) (Quota, error) {
	u, err := o.urlFromNode(n, "")
	if err != nil {
		return Quota{}, err
	}
	body, _, err := o.nw.Transaction(&network.Request{
		UID:    uid,
		Method: "PROPFIND",
		URL:    u,
		Body:   []byte(propfindQuota),
		Headers: []network.Header{
			acceptHeader(),
			{Field: "Content-Type", Value: "text/xml"},
			{Field: "Depth", Value: "0"},
		},
		AutoRedirect: true,
	})
	if err != nil {
		return Quota{}, err
	}
	return o.parser.Statfs(body)
}

// dateOrNow extracts the server's Date header, falling back to local
// time; operations that create things report it as the creation time.
func dateOrNow(resp *http.Response) time.Time {
	if when := headerTime(resp, "Date"); when != -1 {
		return time.Unix(when, 0)
	}
	return time.Now()
}
