package network

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"howett.net/plist"

	"github.com/apple-oss-distributions/webdavfs/auth"
	"github.com/apple-oss-distributions/webdavfs/fs"
)

const (
	httpDefaultPort  = 80
	httpsDefaultPort = 443
)

// proxyStore is the dictionary shape of the system proxy settings file.
type proxyStore struct {
	HTTPEnable  int    `plist:"HTTPEnable"`
	HTTPProxy   string `plist:"HTTPProxy"`
	HTTPPort    int    `plist:"HTTPPort"`
	HTTPSEnable int    `plist:"HTTPSEnable"`
	HTTPSProxy  string `plist:"HTTPSProxy"`
	HTTPSPort   int    `plist:"HTTPSPort"`
}

// ProxySnapshot is the current proxy configuration. Readers get a copy.
type ProxySnapshot struct {
	HTTPEnabled  bool
	HTTPHost     string
	HTTPPort     int
	HTTPSEnabled bool
	HTTPSHost    string
	HTTPSPort    int
}

// ProxyWatcher mirrors the system proxy settings into a snapshot and
// refreshes it when the settings file changes. After every refresh the
// proxy credentials in the auth cache are invalidated.
type ProxyWatcher struct {
	mu   sync.Mutex
	snap ProxySnapshot

	path      string
	watcher   *fsnotify.Watcher
	authCache auth.Cache
	changes   chan struct{}
	done      chan struct{}
}

// NewProxyWatcher reads the settings file at path (empty for none) and
// starts watching it for changes.
func NewProxyWatcher(path string, authCache auth.Cache) (*ProxyWatcher, error) {
	w := &ProxyWatcher{
		path:      path,
		authCache: authCache,
		changes:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if err := w.Refresh(); err != nil {
		return nil, err
	}
	if path == "" {
		return w, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "couldn't create proxy settings watcher")
	}
	// Watch the directory: editors and configuration tools replace the
	// file rather than rewriting it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, errors.Wrap(err, "couldn't watch proxy settings")
	}
	w.watcher = watcher
	go w.run()
	return w, nil
}

func (w *ProxyWatcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.Refresh(); err != nil {
				fs.Errorf(nil, "proxy settings refresh failed: %v", err)
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			fs.Errorf(nil, "proxy settings watcher: %v", err)
		}
	}
}

// Refresh rereads the settings file and atomically rewrites the
// snapshot. A missing file leaves everything disabled; a file that
// cannot be read or parsed is an error and leaves the snapshot as it was.
func (w *ProxyWatcher) Refresh() error {
	var snap ProxySnapshot

	if w.path != "" {
		data, err := os.ReadFile(w.path)
		switch {
		case os.IsNotExist(err):
			// no settings -- everything stays disabled
		case err != nil:
			return errors.Wrap(err, "couldn't read proxy settings")
		default:
			var store proxyStore
			if _, err := plist.Unmarshal(data, &store); err != nil {
				return errors.Wrap(err, "couldn't parse proxy settings")
			}
			if store.HTTPEnable != 0 && store.HTTPProxy != "" {
				snap.HTTPEnabled = true
				snap.HTTPHost = store.HTTPProxy
				snap.HTTPPort = store.HTTPPort
				if snap.HTTPPort == 0 {
					snap.HTTPPort = httpDefaultPort
				}
			}
			if store.HTTPSEnable != 0 && store.HTTPSProxy != "" {
				snap.HTTPSEnabled = true
				snap.HTTPSHost = store.HTTPSProxy
				snap.HTTPSPort = store.HTTPSPort
				if snap.HTTPSPort == 0 {
					snap.HTTPSPort = httpsDefaultPort
				}
			}
		}
	}

	w.mu.Lock()
	w.snap = snap
	w.mu.Unlock()

	if w.authCache != nil {
		w.authCache.ProxyInvalidate()
	}
	return nil
}

// Snapshot returns a copy of the current proxy configuration.
func (w *ProxyWatcher) Snapshot() ProxySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Changes is signalled whenever the settings were refreshed, so the main
// loop can select on it alongside its other handles.
func (w *ProxyWatcher) Changes() <-chan struct{} {
	return w.changes
}

// Func returns a proxy selector for http.Transport reading the snapshot
// under the watcher's mutex on every request.
func (w *ProxyWatcher) Func() func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		snap := w.Snapshot()
		var host string
		var port int
		if strings.EqualFold(req.URL.Scheme, "https") {
			if !snap.HTTPSEnabled {
				return nil, nil
			}
			host, port = snap.HTTPSHost, snap.HTTPSPort
		} else {
			if !snap.HTTPEnabled {
				return nil, nil
			}
			host, port = snap.HTTPHost, snap.HTTPPort
		}
		return url.Parse(fmt.Sprintf("http://%s:%d", host, port))
	}
}

// Close stops the watcher.
func (w *ProxyWatcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
