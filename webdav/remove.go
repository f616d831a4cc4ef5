package webdav

import (
	"net/url"
	"time"

	"github.com/apple-oss-distributions/webdavfs/network"
	"github.com/apple-oss-distributions/webdavfs/node"
)

// delete issues the DELETE for a file or collection. A held lock token
// rides along in the If header.
func (o *Operations) delete(uid uint32, u *url.URL, n *node.Node) (time.Time, error) {
	headers := []network.Header{acceptHeader()}
	if n.LockToken != "" {
		headers = append(headers, network.Header{Field: "If", Value: lockTokenIf(n.LockToken)})
	}
	_, resp, err := o.nw.Transaction(&network.Request{
		UID:          uid,
		Method:       "DELETE",
		URL:          u,
		Headers:      headers,
		AutoRedirect: false,
	})
	if err != nil {
		return time.Time{}, err
	}
	return dateOrNow(resp), nil
}

// Remove deletes a file on the server, returning the removal date.
func (o *Operations) Remove(uid uint32, n *node.Node) (time.Time, error) {
	u, err := o.urlFromNode(n, "")
	if err != nil {
		return time.Time{}, err
	}
	return o.delete(uid, u, n)
}

// Rmdir deletes a collection, refusing if it has anything in it.
func (o *Operations) Rmdir(uid uint32, n *node.Node) (time.Time, error) {
	u, err := o.urlFromNode(n, "")
	if err != nil {
		return time.Time{}, err
	}
	if err := o.dirIsEmpty(uid, u); err != nil {
		return time.Time{}, err
	}
	return o.delete(uid, u, n)
}

// Rename moves fromNode. When toNode is non-nil it is the node being
// moved over (pre-checked empty if a directory); otherwise the
// destination is toDirNode's child toName. A destination equal to the
// source is a no-op.
func (o *Operations) Rename(uid uint32, fromNode, toNode, toDirNode *node.Node, toName string) (time.Time, error) {
	u, err := o.urlFromNode(fromNode, "")
	if err != nil {
		return time.Time{}, err
	}

	var destination *url.URL
	if toNode != nil {
		destination, err = o.urlFromNode(toNode, "")
		if err != nil {
			return time.Time{}, err
		}
		// if source and destination are equal there's nothing to do
		if destination.String() == u.String() {
			return time.Time{}, nil
		}
		if toNode.Type == node.DirType {
			// make sure the directory is empty before moving over it
			if err := o.dirIsEmpty(uid, destination); err != nil {
				return time.Time{}, err
			}
		}
	} else {
		destination, err = o.urlFromNode(toDirNode, toName)
		if err != nil {
			return time.Time{}, err
		}
		if destination.String() == u.String() {
			return time.Time{}, nil
		}
	}

	_, resp, err := o.nw.Transaction(&network.Request{
		UID:    uid,
		Method: "MOVE",
		URL:    u,
		Headers: []network.Header{
			acceptHeader(),
			{Field: "Destination", Value: destination.String()},
		},
		AutoRedirect: false,
	})
	if err != nil {
		return time.Time{}, err
	}
	return dateOrNow(resp), nil
}
