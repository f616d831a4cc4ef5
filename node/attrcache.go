package node

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ADHeaderLength is the fixed size of an appledoubleheader blob.
const ADHeaderLength = 82

// AttrCache remembers appledoubleheader blobs per (path, uid) for a
// short while so an open for read can be served without a round trip in
// mirrored-disk mode.
type AttrCache struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewAttrCache returns a cache whose entries expire after ttl.
func NewAttrCache(ttl time.Duration) *AttrCache {
	return &AttrCache{
		c:   gocache.New(ttl, 2*ttl),
		ttl: ttl,
	}
}

func attrKey(n *Node, uid uint32) string {
	return fmt.Sprintf("%d:%s", uid, n.Path)
}

// Put stores the blob for (node, uid) and mirrors it onto the node.
func (a *AttrCache) Put(n *Node, uid uint32, blob []byte) {
	if len(blob) != ADHeaderLength {
		return
	}
	copied := make([]byte, len(blob))
	copy(copied, blob)
	n.ADHeader = copied
	n.ADHeaderTime = time.Now()
	a.c.Set(attrKey(n, uid), copied, a.ttl)
}

// Get returns the cached blob for (node, uid), if still fresh.
func (a *AttrCache) Get(n *Node, uid uint32) ([]byte, bool) {
	v, ok := a.c.Get(attrKey(n, uid))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Valid reports whether a fresh blob exists for (node, uid).
func (a *AttrCache) Valid(n *Node, uid uint32) bool {
	_, ok := a.Get(n, uid)
	return ok
}

// SimpleCache is a minimal Cache implementation backed by the node's own
// fields and an AttrCache. The production daemon replaces it with the
// real cache layer.
type SimpleCache struct {
	Attrs *AttrCache
}

// PathFromNode implements Cache.
func (s *SimpleCache) PathFromNode(n *Node) (string, error) {
	return n.Path, nil
}

// ADHeaderValid implements Cache.
func (s *SimpleCache) ADHeaderValid(n *Node, uid uint32) bool {
	if s.Attrs == nil {
		return false
	}
	return s.Attrs.Valid(n, uid)
}
