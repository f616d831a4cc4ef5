package webdav

import (
	"github.com/apple-oss-distributions/webdavfs/network"
	"github.com/apple-oss-distributions/webdavfs/node"
)

// propfindReaddir asks for the three properties of every member.
const propfindReaddir = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
<D:prop>
<D:getlastmodified/>
<D:getcontentlength/>
<D:resourcetype/>
</D:prop>
</D:propfind>
`

// propfindReaddirMirrored additionally asks for the appledoubleheader
// blobs so mirrored-disk mode can fill the attribute cache from one
// listing.
const propfindReaddirMirrored = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
<D:prop xmlns:A="http://www.apple.com/webdav_fs/props/">
<D:getlastmodified/>
<D:getcontentlength/>
<D:resourcetype/>
<A:appledoubleheader/>
</D:prop>
</D:propfind>
`

// Readdir lists the members of the collection node. In mirrored-disk
// mode the appledoubleheader blobs returned with the listing are put in
// the attribute cache.
func (o *Operations) Readdir(uid uint32, n *node.Node) ([]DirEntry, error) {
	u, err := o.urlFromNode(n, "")
	if err != nil {
		return nil, err
	}

	body := propfindReaddir
	if o.opt.Mirrored {
		body = propfindReaddirMirrored
	}

	respBody, _, err := o.nw.Transaction(&network.Request{
		UID:    uid,
		Method: "PROPFIND",
		URL:    u,
		Body:   []byte(body),
		Headers: []network.Header{
			acceptHeader(),
			{Field: "Content-Type", Value: "text/xml"},
			{Field: "Depth", Value: "1"},
		},
		AutoRedirect: true,
	})
	if err != nil {
		return nil, err
	}

	entries, err := o.parser.Dir(respBody, u)
	if err != nil {
		return nil, err
	}

	if o.opt.Mirrored && o.attrs != nil {
		nodePath, perr := o.cache.PathFromNode(n)
		if perr == nil {
			for _, entry := range entries {
				if entry.ADHeader == nil || entry.IsDir {
					continue
				}
				child := node.New(nodePath+entry.Name, node.FileType)
				o.attrs.Put(child, uid, entry.ADHeader)
			}
		}
	}
	return entries, nil
}
