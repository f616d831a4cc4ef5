package webdav

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apple-oss-distributions/webdavfs/auth"
	"github.com/apple-oss-distributions/webdavfs/fs"
	"github.com/apple-oss-distributions/webdavfs/network"
	"github.com/apple-oss-distributions/webdavfs/node"
)

func newTestOps(t *testing.T, handler http.Handler) *Operations {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	opt := fs.DefaultOptions()
	opt.BaseURL = ts.URL + "/a/"
	nw, err := network.New(opt, auth.NewBasic("", ""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = nw.Close() })

	return New(nw, &node.SimpleCache{}, nil)
}

func tempCacheFile(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cache")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	return f
}

// OPTIONS+PROPFIND mount against a level 2 server: locking enabled, not
// read-only.
func TestMountLevel2(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "OPTIONS":
			w.Header().Set("DAV", "1, 2")
			w.WriteHeader(http.StatusOK)
		case "PROPFIND":
			assert.Equal(t, "0", r.Header.Get("Depth"))
			w.WriteHeader(207)
			_, _ = io.WriteString(w, statResponse)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))

	info, err := ops.Mount(0)
	require.NoError(t, err)
	assert.False(t, info.ReadOnly)
	assert.True(t, info.LockingEnabled)
}

// A level 1 server mounts read-only.
func TestMountLevel1ReadOnly(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "OPTIONS":
			w.Header().Set("DAV", "1")
			w.WriteHeader(http.StatusOK)
		case "PROPFIND":
			w.WriteHeader(207)
			_, _ = io.WriteString(w, statResponse)
		}
	}))

	info, err := ops.Mount(0)
	require.NoError(t, err)
	assert.True(t, info.ReadOnly)
	assert.False(t, info.LockingEnabled)
}

// No DAV header at all: device not configured.
func TestMountNoDAV(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	_, err := ops.Mount(0)
	assert.ErrorIs(t, err, fs.ErrNotConfigured)
}

const lockTokenResponse = `<?xml version="1.0" encoding="utf-8"?>
<D:prop xmlns:D="DAV:">
<D:lockdiscovery>
<D:activelock>
<D:locktoken><D:href>opaquelocktoken:1</D:href></D:locktoken>
</D:activelock>
</D:lockdiscovery>
</D:prop>`

// Write with lock: the PUT carries the If header with the token and the
// node captures the returned validators.
func TestLockThenPut(t *testing.T) {
	var sawPut bool
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "LOCK":
			assert.Equal(t, "0", r.Header.Get("Depth"))
			assert.Equal(t, "Second-600", r.Header.Get("Timeout"))
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), "lockinfo")
			assert.Contains(t, string(body), "exclusive")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, lockTokenResponse)
		case "PUT":
			sawPut = true
			assert.Equal(t, "(<opaquelocktoken:1>)", r.Header.Get("If"))
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "hello", string(body))
			w.Header().Set("ETag", `"v2"`)
			w.Header().Set("Last-Modified", "Tue, 15 Jan 2013 21:47:38 GMT")
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))

	n := node.New("file.txt", node.FileType)
	n.CacheFile = tempCacheFile(t, "hello")

	require.NoError(t, ops.Lock(501, false, n))
	assert.Equal(t, "opaquelocktoken:1", n.LockToken)
	assert.Equal(t, uint32(501), n.LockUID)

	length, lastModified, err := ops.Fsync(501, n)
	require.NoError(t, err)
	assert.True(t, sawPut)
	assert.Equal(t, int64(5), length)
	assert.Equal(t, int64(1358286458), lastModified)
	assert.Equal(t, `"v2"`, n.ETag)
	assert.Equal(t, int64(1358286458), n.LastModified)
}

// Conditional GET not modified: the cache file is untouched and the
// download status stays finished.
func TestOpenNotModified(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GET", r.Method)
		assert.Equal(t, "Tue, 15 Jan 2013 21:47:38 GMT", r.Header.Get("If-Modified-Since"))
		w.WriteHeader(http.StatusNotModified)
	}))

	n := node.New("file.txt", node.FileType)
	n.CacheFile = tempCacheFile(t, "cached contents")
	n.SetStatus(node.DownloadFinished)
	n.LastModified = 1358286458

	require.NoError(t, ops.Open(0, n, false))
	assert.Equal(t, node.DownloadFinished, n.Status())

	_, err := n.CacheFile.Seek(0, io.SeekStart)
	require.NoError(t, err)
	data, err := io.ReadAll(n.CacheFile)
	require.NoError(t, err)
	assert.Equal(t, "cached contents", string(data))
}

type recordingQueue struct {
	calls int
	node  *node.Node
	slot  *network.Slot
}

func (q *recordingQueue) EnqueueDownload(n *node.Node, slot *network.Slot) error {
	q.calls++
	q.node = n
	q.slot = slot
	return nil
}

// Background download: a 10 MiB GET hands off after the first read and
// the open returns before the transfer completes.
func TestOpenBackgroundDownload(t *testing.T) {
	payload := strings.Repeat("x", 10*1024*1024)
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GET", r.Method)
		_, _ = io.WriteString(w, payload)
	}))
	queue := &recordingQueue{}
	ops.Network().SetDownloadQueuer(queue)

	n := node.New("big.bin", node.FileType)
	n.CacheFile = tempCacheFile(t, "")

	require.NoError(t, ops.Open(0, n, false))
	require.Equal(t, 1, queue.calls, "enqueue_download is invoked once")
	assert.Equal(t, node.DownloadInProgress, n.Status())

	size, err := n.CacheFile.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(ops.Network().FirstReadLen()), size)

	require.NoError(t, ops.Network().FinishDownload(queue.node, queue.slot))
	assert.Equal(t, node.DownloadFinished, n.Status())
	size, err = n.CacheFile.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)
}

// Rename over a non-empty directory fails without issuing the MOVE.
func TestRenameOverNonEmptyDir(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			assert.Equal(t, "1", r.Header.Get("Depth"))
			w.WriteHeader(207)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
<D:response><D:href>/a/g/</D:href><D:propstat>
<D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop>
<D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>
<D:response><D:href>/a/g/member</D:href><D:propstat>
<D:prop><D:resourcetype/></D:prop>
<D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>
</D:multistatus>`)
		case "MOVE":
			t.Error("MOVE must not be issued for a non-empty destination")
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))

	from := node.New("f/", node.DirType)
	to := node.New("g/", node.DirType)
	_, err := ops.Rename(0, from, to, nil, "")
	assert.ErrorIs(t, err, fs.ErrNotEmpty)
}

// Rename to itself is a no-op: no request goes out.
func TestRenameNoOp(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.Method)
	}))
	n := node.New("f.txt", node.FileType)
	_, err := ops.Rename(0, n, n, nil, "")
	assert.NoError(t, err)
}

// MOVE carries the absolute destination URL.
func TestRenameDestinationHeader(t *testing.T) {
	var destination string
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "MOVE", r.Method)
		destination = r.Header.Get("Destination")
		w.WriteHeader(http.StatusCreated)
	}))
	from := node.New("old name.txt", node.FileType)
	toDir := node.New("", node.DirType)
	_, err := ops.Rename(0, from, nil, toDir, "new name.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(destination, "/a/new%20name.txt"), destination)
}

// rmdir of a non-empty collection is refused before the DELETE.
func TestRmdirNotEmpty(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			w.WriteHeader(207)
			_, _ = io.WriteString(w, dirResponse)
		case "DELETE":
			t.Error("DELETE must not be issued for a non-empty collection")
		}
	}))
	n := node.New("dir/", node.DirType)
	_, err := ops.Rmdir(0, n)
	assert.ErrorIs(t, err, fs.ErrNotEmpty)
}

// Create is a bodyless PUT recording the server date.
func TestCreate(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PUT", r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		w.Header().Set("Date", "Tue, 15 Jan 2013 21:47:38 GMT")
		w.WriteHeader(http.StatusCreated)
	}))
	parent := node.New("", node.DirType)
	created, err := ops.Create(0, parent, "new.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1358286458), created.Unix())
}

// Unlock sends the Lock-Token header and clears the node's token.
func TestUnlock(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "UNLOCK", r.Method)
		assert.Equal(t, "<opaquelocktoken:1>", r.Header.Get("Lock-Token"))
		w.WriteHeader(http.StatusNoContent)
	}))
	n := node.New("file.txt", node.FileType)
	n.LockToken = "opaquelocktoken:1"
	n.LockUID = 501
	require.NoError(t, ops.Unlock(n))
	assert.Empty(t, n.LockToken)
	assert.Equal(t, uint32(0), n.LockUID)
}

// Readdir lists members via depth-1 PROPFIND.
func TestReaddir(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "1", r.Header.Get("Depth"))
		w.WriteHeader(207)
		_, _ = io.WriteString(w, strings.ReplaceAll(dirResponse, "/dav/dir/", "/a/dir/"))
	}))
	n := node.New("dir/", node.DirType)
	entries, err := ops.Readdir(0, n)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "file.txt", entries[0].Name)
	assert.Equal(t, "sub", entries[1].Name)
}

// Statfs asks for the quota properties.
func TestStatfs(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PROPFIND", r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "quotaused")
		w.WriteHeader(207)
		_, _ = io.WriteString(w, quotaResponse)
	}))
	n := node.New("", node.DirType)
	quota, err := ops.Statfs(0, n)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), quota.Available)
	assert.Equal(t, int64(250000), quota.Used)
}

// Spot reads use the inclusive-inclusive Range form.
func TestReadByteRange(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GET", r.Method)
		assert.Equal(t, "bytes=10-19", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.WriteString(w, "0123456789")
	}))
	n := node.New("file.txt", node.FileType)
	data, err := ops.Read(0, n, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

// Lookup of a missing child maps 404 to not-found.
func TestLookupNotFound(t *testing.T) {
	ops := newTestOps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	parent := node.New("", node.DirType)
	_, err := ops.Lookup(0, parent, "missing.txt")
	assert.ErrorIs(t, err, fs.ErrNotFound)
}
