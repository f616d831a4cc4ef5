// Package network implements the HTTP transaction engine of webdavfs:
// persistent-connection stream slots, the proxy mirror, the SSL trust
// negotiator and the authenticated retry loop every WebDAV operation
// runs through.
package network

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/apple-oss-distributions/webdavfs/auth"
	"github.com/apple-oss-distributions/webdavfs/fs"
	"github.com/apple-oss-distributions/webdavfs/node"
)

// bodyBufferSize is the initial size of the buffer used to read an HTTP
// entity body. The largest bodies are typically the XML data returned by
// PROPFIND for a large collection; 64K handles directories with 100-150
// items without growing.
const bodyBufferSize = 64 * 1024

// Header is one request header field. Operations pass them as a list so
// a header can be conditionally included.
type Header struct {
	Field string
	Value string
}

// Request describes one WebDAV transaction for the engine.
type Request struct {
	// UID of the user making the request; passed through to the auth
	// cache.
	UID uint32

	Method string
	URL    *url.URL

	// Body is the message body, or nil.
	Body []byte

	// Headers are set on every attempt after User-Agent and X-Source-Id.
	Headers []Header

	// AutoRedirect enables following redirects. PUT must not set it, see
	// RFC 2616 section 10.3.
	AutoRedirect bool

	// Prepare, if set, runs on every attempt after the fixed headers are
	// applied. Conditional headers that depend on mutable node state are
	// added here so retries see current values.
	Prepare func(req *http.Request) error
}

// DownloadQueuer takes ownership of a partially read GET body together
// with its slot and finishes the download in the background.
type DownloadQueuer interface {
	EnqueueDownload(n *node.Node, slot *Slot) error
}

// Network is the context handle owning all process-wide network state:
// the base URL, the slot pool, the proxy snapshot, the SSL property bag,
// the auth cache and the connection state.
type Network struct {
	opt            *fs.Options
	base           *url.URL
	userAgentValue string
	xSourceIDValue string
	pool           *SlotPool
	proxy          *ProxyWatcher
	trust          *Trust
	authCache      auth.Cache
	state          connectionState
	firstReadLen   int
	queue          DownloadQueuer

	// newTransport builds a slot's transport; tests replace it to script
	// transport behavior.
	newTransport func() transport
}

// New builds the network context from the options. The base URL is fixed
// for the mount lifetime.
func New(opt *fs.Options, authCache auth.Cache) (*Network, error) {
	base, err := url.Parse(opt.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't parse base URL")
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, errors.Errorf("base URL %q is not absolute", opt.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	proxy, err := NewProxyWatcher(opt.ProxyStorePath, authCache)
	if err != nil {
		return nil, err
	}

	nw := &Network{
		opt:            opt,
		base:           base,
		userAgentValue: userAgent(opt.Mirrored),
		xSourceIDValue: xSourceID(base),
		pool:           NewSlotPool(opt.RequestThreads),
		proxy:          proxy,
		trust:          NewTrust(opt.CertUIHelper, base.Hostname(), opt.SuppressUI),
		authCache:      authCache,
		firstReadLen:   firstReadLen(),
	}
	nw.newTransport = nw.defaultTransport
	return nw, nil
}

// firstReadLen is how much of a GET body is read before the response is
// returned to the foreground, so a first read at offset 0 doesn't stall.
// The page size is used, clamped to a sane window in case the platform
// reports something exotic.
func firstReadLen() int {
	n := os.Getpagesize()
	if n < 4096 {
		n = 4096
	}
	if n > 65536 {
		n = 65536
	}
	return n
}

// BaseURL returns the mount's base URL.
func (nw *Network) BaseURL() *url.URL {
	return nw.base
}

// Options returns the option handle the network was built with.
func (nw *Network) Options() *fs.Options {
	return nw.opt
}

// Trust returns the SSL trust negotiator.
func (nw *Network) Trust() *Trust {
	return nw.trust
}

// Proxy returns the proxy watcher.
func (nw *Network) Proxy() *ProxyWatcher {
	return nw.proxy
}

// FirstReadLen returns the foreground read length for GET bodies.
func (nw *Network) FirstReadLen() int {
	return nw.firstReadLen
}

// SetDownloadQueuer installs the background download handoff target.
func (nw *Network) SetDownloadQueuer(q DownloadQueuer) {
	nw.queue = q
}

// Close releases the watcher resources.
func (nw *Network) Close() error {
	return nw.proxy.Close()
}

func (nw *Network) defaultTransport() transport {
	return &http.Transport{
		Proxy:               nw.proxy.Func(),
		TLSClientConfig:     nw.trust.TLSConfig(),
		MaxConnsPerHost:     1,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     60 * time.Second,
		DisableCompression:  true,
	}
}

// prepareSlot makes sure the slot has a transport built against the
// current trust configuration. A stale or closed transport is replaced,
// dropping its persistent connection.
func (nw *Network) prepareSlot(s *Slot) {
	gen := nw.trust.Generation()
	if s.transport == nil || s.transportGen != gen || s.connectionClose {
		s.closeTransport()
		s.transport = nw.newTransport()
		s.transportGen = gen
	}
}

// buildRequest creates the http.Request for one attempt.
func (nw *Network) buildRequest(r *Request) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	hreq, err := http.NewRequest(r.Method, r.URL.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't build request")
	}
	hreq.Header.Set("User-Agent", nw.userAgentValue)
	if nw.xSourceIDValue != "" {
		hreq.Header.Set("X-Source-Id", nw.xSourceIDValue)
	}
	for _, h := range r.Headers {
		hreq.Header.Set(h.Field, h.Value)
	}
	if r.Prepare != nil {
		if err := r.Prepare(hreq); err != nil {
			return nil, err
		}
	}
	return hreq, nil
}

// openStream leases a slot and sends the request on its persistent
// connection. On failure the slot is already released; the returned
// error is errAgain when the whole transaction should be retried.
func (nw *Network) openStream(hreq *http.Request, autoRedirect bool, retry *bool) (*http.Response, *Slot, error) {
	// If we're down and the mount is supposed to fail on disconnects
	// instead of retrying, just return an error.
	if nw.opt.SuppressUI && nw.state.get() == ConnectionDown {
		return nil, nil, errors.Wrap(fs.ErrIO, "connection is down")
	}

	slot, err := nw.pool.Acquire()
	if err != nil {
		// The request queue bounds concurrency, so this cannot happen.
		return nil, nil, err
	}
	nw.prepareSlot(slot)
	hreq.Header.Set("X-Webdav-Connection", slot.tag)

	client := &http.Client{Transport: slot.transport}
	if !autoRedirect {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	resp, err := client.Do(hreq)
	if err != nil {
		slot.closeTransport()
		nw.pool.Release(slot)
		return nil, nil, nw.classifyStreamError("open stream", err, retry)
	}
	return resp, slot, nil
}

// classifyStreamError decides what a transport failure means: a trust
// negotiation retry, the one EPIPE retry, or a connection-down IO error.
func (nw *Network) classifyStreamError(where string, err error, retry *bool) error {
	switch nw.trust.HandleError(err) {
	case TrustRetry:
		retriesTotal.WithLabelValues("tls").Inc()
		return errAgain
	case TrustCancelled:
		return fs.ErrCancelled
	}
	if *retry && isEPIPE(err) {
		fs.Infof(nil, "%s: %v -- retrying", where, err)
		*retry = false
		retriesTotal.WithLabelValues("epipe").Inc()
		return errAgain
	}
	if nw.state.get() == ConnectionUp {
		fs.Errorf(nil, "%s: %v", where, err)
	}
	nw.state.set(ConnectionDown)
	return errors.Wrap(fs.ErrIO, err.Error())
}

// connectionClosed reports whether the server asked to close this
// persistent connection.
func connectionClosed(resp *http.Response) bool {
	return resp.Close || strings.EqualFold(resp.Header.Get("Connection"), "close")
}

// finishSlot records the connection disposition and returns the slot to
// the pool.
func (nw *Network) finishSlot(slot *Slot, resp *http.Response) {
	slot.connectionClose = connectionClosed(resp)
	if slot.connectionClose {
		slot.closeTransport()
	}
	nw.pool.Release(slot)
}

// failSlot tears the stream down after an error.
func (nw *Network) failSlot(slot *Slot, body io.Closer) {
	if body != nil {
		_ = body.Close()
	}
	slot.closeTransport()
	nw.pool.Release(slot)
}

// streamTransaction sends the request and reads the whole response body
// into a growable buffer.
func (nw *Network) streamTransaction(hreq *http.Request, autoRedirect bool, retry *bool) ([]byte, *http.Response, error) {
	resp, slot, err := nw.openStream(hreq, autoRedirect, retry)
	if err != nil {
		return nil, nil, err
	}

	buf := make([]byte, bodyBufferSize)
	total := 0
	for {
		if len(buf)-total < bodyBufferSize/2 {
			grown := make([]byte, len(buf)+bodyBufferSize)
			copy(grown, buf[:total])
			buf = grown
		}
		n, rerr := resp.Body.Read(buf[total:])
		total += n
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			nw.failSlot(slot, resp.Body)
			return nil, nil, nw.classifyStreamError("stream transaction", rerr, retry)
		}
	}
	_ = resp.Body.Close()

	nw.state.set(ConnectionUp)
	nw.finishSlot(slot, resp)
	return buf[:total], resp, nil
}

// Transaction runs the full transaction/authentication loop for a
// request whose response body fits in memory. It returns the body and
// the response on success; the status code has already been translated.
func (nw *Network) Transaction(r *Request) ([]byte, *http.Response, error) {
	var (
		statusCode int
		resp       *http.Response
		respBody   []byte
		generation uint64
		lastReq    *http.Request
	)
	retry := true
	for {
		hreq, err := nw.buildRequest(r)
		if err != nil {
			return nil, nil, err
		}
		// statusCode is 401 or 407 and resp non-nil if we've been through
		// the loop; 0 and nil the first time through.
		generation, err = nw.authCache.Apply(r.UID, hreq, statusCode, resp)
		if err != nil {
			return nil, nil, err
		}
		lastReq = hreq
		respBody, resp, err = nw.streamTransaction(hreq, r.AutoRedirect, &retry)
		if errors.Is(err, errAgain) {
			statusCode, resp = 0, nil
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		statusCode = resp.StatusCode
		if statusCode == http.StatusUnauthorized || statusCode == http.StatusProxyAuthRequired {
			retriesTotal.WithLabelValues("auth").Inc()
			continue
		}
		break
	}
	countTransaction(r.Method, statusCode)
	if err := TranslateStatus(statusCode); err != nil {
		return nil, resp, err
	}
	nw.authCache.Valid(r.UID, lastReq, generation)
	return respBody, resp, nil
}

// readCloser glues the buffered remainder of a body to its closer for
// the background download handoff.
type readCloser struct {
	io.Reader
	io.Closer
}

// streamGetTransaction sends a GET and writes the first firstReadLen
// bytes of the body into the node's cache file. If more bytes remain the
// node and slot are handed to the download queuer and the response is
// returned to the foreground immediately.
func (nw *Network) streamGetTransaction(hreq *http.Request, n *node.Node, retry *bool) (*http.Response, error) {
	resp, slot, err := nw.openStream(hreq, true, retry)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(resp.Body, 512)
	buf := make([]byte, nw.firstReadLen)
	total, rerr := io.ReadFull(br, buf)
	backgroundLoad := false
	switch rerr {
	case nil:
		// The buffer filled; is there more data to read?
		if _, perr := br.Peek(1); perr == nil {
			backgroundLoad = true
		} else if perr != io.EOF {
			rerr = perr
		}
	case io.EOF, io.ErrUnexpectedEOF:
		rerr = nil
	}
	if rerr != nil {
		nw.failSlot(slot, resp.Body)
		return nil, nw.classifyStreamError("stream get transaction", rerr, retry)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// download whole file from the beginning
		err = rewriteCache(n.CacheFile, buf[:total])
	case http.StatusPartialContent:
		// download continues from EOF
		err = appendCache(n.CacheFile, buf[:total])
	case http.StatusNotModified:
		// the cache file is still good
		backgroundLoad = false
	default:
		backgroundLoad = false
	}
	if err != nil {
		nw.failSlot(slot, resp.Body)
		return nil, err
	}

	nw.state.set(ConnectionUp)
	slot.connectionClose = connectionClosed(resp)

	if backgroundLoad {
		n.SetStatus(node.DownloadInProgress)
		slot.body = readCloser{Reader: br, Closer: resp.Body}
		downloadsHandedOff.Inc()
		if nw.queue == nil {
			nw.failSlot(slot, slot.body)
			slot.body = nil
			return nil, errors.New("no download queue configured")
		}
		// The slot travels with the node; the foreground must not
		// release it.
		if qerr := nw.queue.EnqueueDownload(n, slot); qerr != nil {
			nw.failSlot(slot, slot.body)
			slot.body = nil
			return nil, qerr
		}
	} else {
		switch resp.StatusCode {
		case http.StatusOK, http.StatusPartialContent, http.StatusNotModified:
			n.SetStatus(node.DownloadFinished)
		}
		_ = resp.Body.Close()
		if slot.connectionClose {
			slot.closeTransport()
		}
		nw.pool.Release(slot)
	}
	return resp, nil
}

func rewriteCache(f *os.File, p []byte) error {
	if f == nil {
		return errors.New("node has no cache file")
	}
	if err := f.Truncate(0); err != nil {
		return errors.Wrap(err, "couldn't truncate cache file")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := f.Write(p)
	return err
}

func appendCache(f *os.File, p []byte) error {
	if f == nil {
		return errors.New("node has no cache file")
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	_, err := f.Write(p)
	return err
}

// GetTransaction runs the transaction/authentication loop for a GET
// whose body lands in the node's cache file. A 304 is success: the
// cached copy is still good.
func (nw *Network) GetTransaction(r *Request, n *node.Node) (*http.Response, error) {
	var (
		statusCode int
		resp       *http.Response
		generation uint64
		lastReq    *http.Request
	)
	retry := true
	for {
		hreq, err := nw.buildRequest(r)
		if err != nil {
			return nil, err
		}
		generation, err = nw.authCache.Apply(r.UID, hreq, statusCode, resp)
		if err != nil {
			return nil, err
		}
		lastReq = hreq
		resp, err = nw.streamGetTransaction(hreq, n, &retry)
		if errors.Is(err, errAgain) {
			statusCode, resp = 0, nil
			continue
		}
		if err != nil {
			return nil, err
		}
		statusCode = resp.StatusCode
		if statusCode == http.StatusUnauthorized || statusCode == http.StatusProxyAuthRequired {
			retriesTotal.WithLabelValues("auth").Inc()
			continue
		}
		break
	}
	countTransaction(r.Method, statusCode)
	// 304 Not Modified means the cache file is still good, so treat it
	// as 200 before translating.
	if statusCode == http.StatusNotModified {
		statusCode = http.StatusOK
	}
	if err := TranslateStatus(statusCode); err != nil {
		return resp, err
	}
	nw.authCache.Valid(r.UID, lastReq, generation)
	return resp, nil
}

// streamDrainTransaction sends the request and reads and discards the
// response body.
func (nw *Network) streamDrainTransaction(hreq *http.Request, autoRedirect bool, retry *bool) (*http.Response, error) {
	resp, slot, err := nw.openStream(hreq, autoRedirect, retry)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, bodyBufferSize)
	for {
		_, rerr := resp.Body.Read(buf)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			nw.failSlot(slot, resp.Body)
			return nil, nw.classifyStreamError("stream transaction from file", rerr, retry)
		}
	}
	_ = resp.Body.Close()

	nw.state.set(ConnectionUp)
	nw.finishSlot(slot, resp)
	return resp, nil
}

// TransactionFromFile runs the transaction/authentication loop for a
// request whose body is the node's cache file. The Content-Length is set
// from the file size and the body is read from offset 0 on every attempt.
func (nw *Network) TransactionFromFile(r *Request, f *os.File) (*http.Response, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't size cache file")
	}

	var (
		statusCode int
		resp       *http.Response
		generation uint64
		lastReq    *http.Request
	)
	retry := true
	for {
		hreq, err := nw.buildRequest(r)
		if err != nil {
			return nil, err
		}
		hreq.Body = io.NopCloser(io.NewSectionReader(f, 0, size))
		hreq.ContentLength = size
		hreq.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(io.NewSectionReader(f, 0, size)), nil
		}
		generation, err = nw.authCache.Apply(r.UID, hreq, statusCode, resp)
		if err != nil {
			return nil, err
		}
		lastReq = hreq
		resp, err = nw.streamDrainTransaction(hreq, r.AutoRedirect, &retry)
		if errors.Is(err, errAgain) {
			statusCode, resp = 0, nil
			continue
		}
		if err != nil {
			return nil, err
		}
		statusCode = resp.StatusCode
		if statusCode == http.StatusUnauthorized || statusCode == http.StatusProxyAuthRequired {
			retriesTotal.WithLabelValues("auth").Inc()
			continue
		}
		break
	}
	countTransaction(r.Method, statusCode)
	if err := TranslateStatus(statusCode); err != nil {
		return resp, err
	}
	nw.authCache.Valid(r.UID, lastReq, generation)
	return resp, nil
}
