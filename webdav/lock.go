package webdav

import (
	"fmt"

	"github.com/apple-oss-distributions/webdavfs/network"
	"github.com/apple-oss-distributions/webdavfs/node"
)

// lockBody is the lockinfo sent when taking a fresh lock. Refreshes send
// no body.
const lockBody = `<?xml version="1.0" encoding="utf-8"?>
<D:lockinfo xmlns:D="DAV:">
<D:lockscope><D:exclusive/></D:lockscope>
<D:locktype><D:write/></D:locktype>
<D:owner>
<D:href>http://www.apple.com/webdav_fs/</D:href>
</D:owner>
</D:lockinfo>
`

// Lock takes or refreshes an exclusive write lock on the node. A fresh
// lock is taken for uid; a refresh runs under the uid that acquired the
// token. The returned token replaces any previous one on the node.
func (o *Operations) Lock(uid uint32, refresh bool, n *node.Node) error {
	u, err := o.urlFromNode(n, "")
	if err != nil {
		return err
	}

	headers := []network.Header{
		acceptHeader(),
		{Field: "Depth", Value: "0"},
		{Field: "Timeout", Value: fmt.Sprintf("Second-%d", o.opt.LockTimeoutSeconds)},
	}
	var body []byte
	if refresh {
		// if refreshing, use the uid associated with the lock token and
		// send no message body
		uid = n.LockUID
		headers = append(headers,
			network.Header{Field: "Content-Type", Value: "text/xml"},
			network.Header{Field: "If", Value: lockTokenIf(n.LockToken)})
	} else {
		body = []byte(lockBody)
		headers = append(headers,
			network.Header{Field: "Content-Type", Value: `text/xml; charset="utf-8"`})
	}

	respBody, _, err := o.nw.Transaction(&network.Request{
		UID:          uid,
		Method:       "LOCK",
		URL:          u,
		Body:         body,
		Headers:      headers,
		AutoRedirect: false,
	})
	if err != nil {
		return err
	}

	token, err := o.parser.LockToken(respBody)
	if err != nil {
		return err
	}
	n.LockToken = token
	if !refresh {
		n.LockUID = uid
	}
	return nil
}

// Unlock releases the node's lock using the credentials of the user that
// obtained it. The token is cleared even if the server refused, since a
// failed UNLOCK leaves nothing usable behind.
func (o *Operations) Unlock(n *node.Node) error {
	u, err := o.urlFromNode(n, "")
	if err != nil {
		return err
	}
	_, _, err = o.nw.Transaction(&network.Request{
		UID:    n.LockUID,
		Method: "UNLOCK",
		URL:    u,
		Headers: []network.Header{
			acceptHeader(),
			{Field: "Lock-Token", Value: fmt.Sprintf("<%s>", n.LockToken)},
		},
		AutoRedirect: false,
	})
	n.LockToken = ""
	n.LockUID = 0
	return err
}
