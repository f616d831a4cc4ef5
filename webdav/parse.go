package webdav

import (
	"encoding/base64"
	"encoding/xml"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/apple-oss-distributions/webdavfs/fs"
	"github.com/apple-oss-distributions/webdavfs/lib/rest"
	"github.com/apple-oss-distributions/webdavfs/webdav/api"
)

// ResourceInfo is the result of a depth-0 PROPFIND.
type ResourceInfo struct {
	IsDir    bool
	Size     int64
	Modified int64 // epoch seconds, -1 unknown
}

// DirEntry is one member of a collection listing.
type DirEntry struct {
	Name     string
	IsDir    bool
	Size     int64
	Modified int64
	ADHeader []byte
}

// Quota is the result of a quota PROPFIND, in bytes. Zero means the
// server didn't say.
type Quota struct {
	Available int64
	Used      int64
}

// Parser turns PROPFIND and LOCK response bodies into values. The
// default implementation decodes the XML with encoding/xml; the daemon
// may substitute another one.
type Parser interface {
	// Stat parses a depth-0 PROPFIND response.
	Stat(body []byte) (ResourceInfo, error)

	// FileCount parses a depth-1 PROPFIND response and returns the
	// number of entries, the collection itself included.
	FileCount(body []byte) (int, error)

	// CacheValidators parses a depth-0 PROPFIND response asking for
	// getlastmodified and getetag.
	CacheValidators(body []byte) (lastModified int64, etag string, err error)

	// LockToken parses a LOCK response body.
	LockToken(body []byte) (string, error)

	// Dir parses a depth-1 PROPFIND response into the members of the
	// collection at dirURL, itself excluded.
	Dir(body []byte, dirURL *url.URL) ([]DirEntry, error)

	// Statfs parses a quota PROPFIND response.
	Statfs(body []byte) (Quota, error)
}

// XMLParser is the default Parser.
type XMLParser struct{}

func unmarshalMultistatus(body []byte) (*api.Multistatus, error) {
	var result api.Multistatus
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "couldn't parse multistatus response")
	}
	return &result, nil
}

func propModified(p *api.Prop) int64 {
	t := time.Time(p.Modified)
	if t.IsZero() {
		return -1
	}
	return t.Unix()
}

// Stat implements Parser.
func (XMLParser) Stat(body []byte) (ResourceInfo, error) {
	result, err := unmarshalMultistatus(body)
	if err != nil {
		return ResourceInfo{}, err
	}
	if len(result.Responses) < 1 {
		return ResourceInfo{}, fs.ErrNotFound
	}
	props := &result.Responses[0].Props
	if !props.StatusOK() {
		return ResourceInfo{}, fs.ErrNotFound
	}
	return ResourceInfo{
		IsDir:    props.IsCollection(),
		Size:     props.Size,
		Modified: propModified(props),
	}, nil
}

// FileCount implements Parser.
func (XMLParser) FileCount(body []byte) (int, error) {
	result, err := unmarshalMultistatus(body)
	if err != nil {
		return 0, err
	}
	return len(result.Responses), nil
}

// CacheValidators implements Parser.
func (XMLParser) CacheValidators(body []byte) (int64, string, error) {
	result, err := unmarshalMultistatus(body)
	if err != nil {
		return -1, "", err
	}
	if len(result.Responses) < 1 {
		return -1, "", fs.ErrNotFound
	}
	props := &result.Responses[0].Props
	return propModified(props), props.ETag, nil
}

// LockToken implements Parser.
func (XMLParser) LockToken(body []byte) (string, error) {
	var result api.LockResponse
	if err := xml.Unmarshal(body, &result); err != nil {
		return "", errors.Wrap(err, "couldn't parse lock response")
	}
	if result.Token == "" {
		return "", errors.New("no lock token in response")
	}
	return result.Token, nil
}

// Dir implements Parser.
func (XMLParser) Dir(body []byte, dirURL *url.URL) ([]DirEntry, error) {
	result, err := unmarshalMultistatus(body)
	if err != nil {
		return nil, err
	}
	var entries []DirEntry
	for i := range result.Responses {
		item := &result.Responses[i]
		props := &item.Props
		isDir := props.IsCollection()

		u, err := rest.URLJoin(dirURL, item.Href)
		if err != nil {
			fs.Errorf(nil, "URL Join failed for %q and %q: %v", dirURL, item.Href, err)
			continue
		}
		if isDir && !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		if !strings.HasPrefix(u.Path, dirURL.Path) {
			fs.Debugf(nil, "Item with unknown path received: %q, %q", u.Path, dirURL.Path)
			continue
		}
		name := strings.TrimSuffix(u.Path[len(dirURL.Path):], "/")

		// the listing contains info about itself which is skipped
		if name == "" {
			continue
		}
		if !props.StatusOK() {
			fs.Debugf(name, "Ignoring item with bad status %q", props.Status)
			continue
		}

		entry := DirEntry{
			Name:     path.Base(name),
			IsDir:    isDir,
			Size:     props.Size,
			Modified: propModified(props),
		}
		if props.ADHeader != "" {
			blob, err := base64.StdEncoding.DecodeString(props.ADHeader)
			if err == nil {
				entry.ADHeader = blob
			} else {
				fs.Debugf(name, "Ignoring bad appledoubleheader: %v", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Statfs implements Parser.
func (XMLParser) Statfs(body []byte) (Quota, error) {
	result, err := unmarshalMultistatus(body)
	if err != nil {
		return Quota{}, err
	}
	if len(result.Responses) < 1 {
		return Quota{}, fs.ErrNotFound
	}
	props := &result.Responses[0].Props
	var q Quota
	if props.Quota != "" {
		q.Available, _ = strconv.ParseInt(strings.TrimSpace(props.Quota), 10, 64)
	}
	if props.QuotaUsed != "" {
		q.Used, _ = strconv.ParseInt(strings.TrimSpace(props.QuotaUsed), 10, 64)
	}
	return q, nil
}
