// Package auth defines the credential cache contract used by the
// transaction engine, plus a basic-auth implementation for mounts that
// carry a username and password.
package auth

import (
	"net/http"
	"sync"

	"github.com/apple-oss-distributions/webdavfs/fs"
)

// Cache applies credentials to outgoing requests and learns from the
// engine whether they worked.
//
// Apply adds or refreshes the Authorization / Proxy-Authorization headers
// of req. On the first attempt of a transaction lastStatus is 0 and
// lastResp is nil; on retries after a 401 or 407 the engine passes the
// previous status and response through so the cache can pick a new
// scheme or realm. The returned generation is an opaque monotonically
// increasing value identifying the credentials applied.
//
// Valid tells the cache that the transaction the credentials were applied
// to succeeded, so it may mark them valid and persist them. The
// generation lets it detect that another transaction refreshed the entry
// in the meantime.
//
// ProxyInvalidate drops all proxy credentials. It is called whenever the
// system proxy settings change.
type Cache interface {
	Apply(uid uint32, req *http.Request, lastStatus int, lastResp *http.Response) (generation uint64, err error)
	Valid(uid uint32, req *http.Request, generation uint64)
	ProxyInvalidate()
}

// Basic is a Cache that answers Basic challenges with a fixed username
// and password per origin and, optionally, per proxy.
type Basic struct {
	mu         sync.Mutex
	user, pass string
	proxyUser  string
	proxyPass  string
	generation uint64
	validated  bool
}

// NewBasic returns a Basic cache holding the given origin credentials.
func NewBasic(user, pass string) *Basic {
	return &Basic{user: user, pass: pass}
}

// SetProxyCredentials installs credentials for Proxy-Authorization.
func (b *Basic) SetProxyCredentials(user, pass string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.proxyUser, b.proxyPass = user, pass
	b.generation++
}

// Apply implements Cache.
func (b *Basic) Apply(uid uint32, req *http.Request, lastStatus int, lastResp *http.Response) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch lastStatus {
	case http.StatusUnauthorized:
		// The server rejected the only credentials we hold; there is no
		// other scheme to fall back to.
		if b.user == "" {
			return b.generation, fs.ErrAuthNeeded
		}
		if req.Header.Get("Authorization") != "" || b.appliedOrigin(lastResp) {
			return b.generation, fs.ErrAuthNeeded
		}
	case http.StatusProxyAuthRequired:
		if b.proxyUser == "" || b.appliedProxy(lastResp) {
			return b.generation, fs.ErrAuthNeeded
		}
	}

	if b.user != "" {
		req.SetBasicAuth(b.user, b.pass)
	}
	if b.proxyUser != "" {
		// SetBasicAuth only covers Authorization; build the proxy header
		// the same way.
		proxyReq := http.Request{Header: http.Header{}}
		proxyReq.SetBasicAuth(b.proxyUser, b.proxyPass)
		req.Header.Set("Proxy-Authorization", proxyReq.Header.Get("Authorization"))
	}
	return b.generation, nil
}

// appliedOrigin reports whether the previous attempt already carried our
// origin credentials, meaning a retry cannot do better.
func (b *Basic) appliedOrigin(lastResp *http.Response) bool {
	return lastResp != nil && lastResp.Request != nil &&
		lastResp.Request.Header.Get("Authorization") != ""
}

func (b *Basic) appliedProxy(lastResp *http.Response) bool {
	return lastResp != nil && lastResp.Request != nil &&
		lastResp.Request.Header.Get("Proxy-Authorization") != ""
}

// Valid implements Cache.
func (b *Basic) Valid(uid uint32, req *http.Request, generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if generation == b.generation {
		b.validated = true
	}
}

// ProxyInvalidate implements Cache.
func (b *Basic) ProxyInvalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.proxyUser, b.proxyPass = "", ""
	b.generation++
}
