// Package fs holds the small core shared by every part of webdavfs: the
// option set built once at daemon init, the error kinds surfaced to the
// kernel shim, and the logging wrappers.
package fs

import "time"

// Version is the release version of webdavfs. It is the product-version
// part of the User-Agent header.
const Version = "2.0.0"

// Options is the configuration handle built at daemon init and passed by
// reference to the network subsystem and the WebDAV operations. It is
// read-only after startup.
type Options struct {
	// BaseURL is the absolute URL of the remote collection. Immutable for
	// the mount lifetime.
	BaseURL string

	// RequestThreads is the number of worker threads dequeuing requests.
	// The stream slot pool is sized RequestThreads+1 (one extra for the
	// keep-alive pulse).
	RequestThreads int

	// LockTimeoutSeconds is the value sent in the Timeout header of LOCK
	// requests, as Second-<n>.
	LockTimeoutSeconds int

	// Mirrored enables mirrored-disk mode: readdir additionally asks for
	// the appledoubleheader property and the User-Agent carries the
	// (mirrored) marker.
	Mirrored bool

	// SuppressUI disables the certificate confirmation helper. While the
	// connection state is down, transactions fail fast instead of
	// reopening streams.
	SuppressUI bool

	// CertUIHelper is the path of the certificate confirmation helper
	// executable. Empty means no helper is available.
	CertUIHelper string

	// ProxyStorePath is the path of the system proxy settings file
	// mirrored by the proxy watcher. Empty disables proxying.
	ProxyStorePath string

	// FreshnessWindow is how long validators confirmed by the server are
	// trusted before an open for read must revalidate.
	FreshnessWindow time.Duration
}

// DefaultOptions returns the option set used when the front-end passes
// nothing else.
func DefaultOptions() *Options {
	return &Options{
		RequestThreads:     5,
		LockTimeoutSeconds: 600,
		FreshnessWindow:    60 * time.Second,
	}
}
