package webdav

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statResponse = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
<D:response>
<D:href>/dav/</D:href>
<D:propstat>
<D:prop>
<D:getlastmodified>Tue, 15 Jan 2013 21:47:38 GMT</D:getlastmodified>
<D:resourcetype><D:collection/></D:resourcetype>
</D:prop>
<D:status>HTTP/1.1 200 OK</D:status>
</D:propstat>
</D:response>
</D:multistatus>`

const dirResponse = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
<D:response>
<D:href>/dav/dir/</D:href>
<D:propstat>
<D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop>
<D:status>HTTP/1.1 200 OK</D:status>
</D:propstat>
</D:response>
<D:response>
<D:href>/dav/dir/file.txt</D:href>
<D:propstat>
<D:prop>
<D:getlastmodified>Tue, 15 Jan 2013 21:47:38 GMT</D:getlastmodified>
<D:getcontentlength>42</D:getcontentlength>
<D:resourcetype/>
</D:prop>
<D:status>HTTP/1.1 200 OK</D:status>
</D:propstat>
</D:response>
<D:response>
<D:href>/dav/dir/sub/</D:href>
<D:propstat>
<D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop>
<D:status>HTTP/1.1 200 OK</D:status>
</D:propstat>
</D:response>
</D:multistatus>`

const lockResponseBody = `<?xml version="1.0" encoding="utf-8"?>
<D:prop xmlns:D="DAV:">
<D:lockdiscovery>
<D:activelock>
<D:locktype><D:write/></D:locktype>
<D:lockscope><D:exclusive/></D:lockscope>
<D:depth>0</D:depth>
<D:timeout>Second-600</D:timeout>
<D:locktoken>
<D:href>opaquelocktoken:e71d4fae-5dec-22d6-fea5-00a0c91e6be4</D:href>
</D:locktoken>
</D:activelock>
</D:lockdiscovery>
</D:prop>`

const quotaResponse = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
<D:response>
<D:href>/dav/</D:href>
<D:propstat>
<D:prop>
<D:quota>1000000</D:quota>
<D:quotaused>250000</D:quotaused>
</D:prop>
<D:status>HTTP/1.1 200 OK</D:status>
</D:propstat>
</D:response>
</D:multistatus>`

func TestParserStat(t *testing.T) {
	var p XMLParser
	info, err := p.Stat([]byte(statResponse))
	require.NoError(t, err)
	assert.True(t, info.IsDir)
	assert.Equal(t, int64(1358286458), info.Modified)
}

func TestParserFileCount(t *testing.T) {
	var p XMLParser
	count, err := p.FileCount([]byte(dirResponse))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestParserDir(t *testing.T) {
	var p XMLParser
	dirURL, err := url.Parse("http://h/dav/dir/")
	require.NoError(t, err)
	entries, err := p.Dir([]byte(dirResponse), dirURL)
	require.NoError(t, err)
	require.Len(t, entries, 2, "the collection itself is excluded")

	assert.Equal(t, "file.txt", entries[0].Name)
	assert.False(t, entries[0].IsDir)
	assert.Equal(t, int64(42), entries[0].Size)
	assert.Equal(t, int64(1358286458), entries[0].Modified)

	assert.Equal(t, "sub", entries[1].Name)
	assert.True(t, entries[1].IsDir)
}

func TestParserLockToken(t *testing.T) {
	var p XMLParser
	token, err := p.LockToken([]byte(lockResponseBody))
	require.NoError(t, err)
	assert.Equal(t, "opaquelocktoken:e71d4fae-5dec-22d6-fea5-00a0c91e6be4", token)

	_, err = p.LockToken([]byte(`<?xml version="1.0"?><D:prop xmlns:D="DAV:"/>`))
	assert.Error(t, err)
}

func TestParserStatfs(t *testing.T) {
	var p XMLParser
	quota, err := p.Statfs([]byte(quotaResponse))
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), quota.Available)
	assert.Equal(t, int64(250000), quota.Used)
}

func TestParserCacheValidators(t *testing.T) {
	var p XMLParser
	lastModified, etag, err := p.CacheValidators([]byte(`<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
<D:response>
<D:href>/dav/file.txt</D:href>
<D:propstat>
<D:prop>
<D:getlastmodified>Tue, 15 Jan 2013 21:47:38 GMT</D:getlastmodified>
<D:getetag>"v2"</D:getetag>
</D:prop>
<D:status>HTTP/1.1 200 OK</D:status>
</D:propstat>
</D:response>
</D:multistatus>`))
	require.NoError(t, err)
	assert.Equal(t, int64(1358286458), lastModified)
	assert.Equal(t, `"v2"`, etag)
}
