package network

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

func writeProxyStore(t *testing.T, path string, store proxyStore) {
	t.Helper()
	data, err := plist.Marshal(store, plist.XMLFormat)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestProxyWatcherSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.plist")
	writeProxyStore(t, path, proxyStore{
		HTTPEnable: 1,
		HTTPProxy:  "proxy.example.com",
		HTTPPort:   3128,
	})

	authCache := &recordingAuth{}
	w, err := NewProxyWatcher(path, authCache)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	snap := w.Snapshot()
	assert.True(t, snap.HTTPEnabled)
	assert.Equal(t, "proxy.example.com", snap.HTTPHost)
	assert.Equal(t, 3128, snap.HTTPPort)
	assert.False(t, snap.HTTPSEnabled)
	assert.Empty(t, snap.HTTPSHost)

	// every refresh invalidates the proxy credentials
	assert.Equal(t, 1, authCache.invalidates)
}

func TestProxyWatcherPortDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.plist")
	writeProxyStore(t, path, proxyStore{
		HTTPEnable:  1,
		HTTPProxy:   "p1",
		HTTPSEnable: 1,
		HTTPSProxy:  "p2",
	})

	w, err := NewProxyWatcher(path, &recordingAuth{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	snap := w.Snapshot()
	assert.Equal(t, 80, snap.HTTPPort)
	assert.Equal(t, 443, snap.HTTPSPort)
}

func TestProxyWatcherDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.plist")
	writeProxyStore(t, path, proxyStore{
		HTTPEnable: 0,
		HTTPProxy:  "ignored",
		HTTPPort:   8080,
	})

	w, err := NewProxyWatcher(path, &recordingAuth{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	snap := w.Snapshot()
	assert.False(t, snap.HTTPEnabled)
	assert.Empty(t, snap.HTTPHost)
}

func TestProxyWatcherMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.plist")
	w, err := NewProxyWatcher(path, &recordingAuth{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.False(t, w.Snapshot().HTTPEnabled)
}

func TestProxyWatcherRefreshPicksUpChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.plist")
	writeProxyStore(t, path, proxyStore{})

	authCache := &recordingAuth{}
	w, err := NewProxyWatcher(path, authCache)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.False(t, w.Snapshot().HTTPEnabled)

	writeProxyStore(t, path, proxyStore{HTTPEnable: 1, HTTPProxy: "p", HTTPPort: 80})
	require.NoError(t, w.Refresh())
	assert.True(t, w.Snapshot().HTTPEnabled)
	// the file watcher may have refreshed as well
	assert.GreaterOrEqual(t, authCache.invalidates, 2)
}

func TestProxyFunc(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.plist")
	writeProxyStore(t, path, proxyStore{
		HTTPEnable: 1,
		HTTPProxy:  "proxy.example.com",
		HTTPPort:   3128,
	})

	w, err := NewProxyWatcher(path, &recordingAuth{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	proxyFor := func(rawurl string) *url.URL {
		u, err := url.Parse(rawurl)
		require.NoError(t, err)
		got, err := w.Func()(&http.Request{URL: u})
		require.NoError(t, err)
		return got
	}

	assert.Equal(t, "http://proxy.example.com:3128", proxyFor("http://h/x").String())
	assert.Nil(t, proxyFor("https://h/x"), "https proxying is not enabled")
}
