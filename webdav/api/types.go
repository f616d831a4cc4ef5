// Package api has type definitions for the webdav XML bodies.
package api

import (
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apple-oss-distributions/webdavfs/fs"
	"github.com/apple-oss-distributions/webdavfs/lib/httplex"
)

// Multistatus contains responses returned from an HTTP 207 return code
type Multistatus struct {
	Responses []Response `xml:"response"`
}

// Response contains an Href the response is about and its properties
type Response struct {
	Href  string `xml:"href"`
	Props Prop   `xml:"propstat"`
}

// Prop is the properties of a response
//
// This is a lazy way of decoding the multiple <propstat> in the
// response: the array of <propstat> and within that the array of <prop>
// are elided into one struct. Status collects all the status values, of
// which only the first is checked.
type Prop struct {
	Status    []string  `xml:"DAV: status"`
	Name      string    `xml:"DAV: prop>displayname,omitempty"`
	Type      *xml.Name `xml:"DAV: prop>resourcetype>collection,omitempty"`
	Size      int64     `xml:"DAV: prop>getcontentlength,omitempty"`
	Modified  Time      `xml:"DAV: prop>getlastmodified,omitempty"`
	ETag      string    `xml:"DAV: prop>getetag,omitempty"`
	Quota     string    `xml:"DAV: prop>quota,omitempty"`
	QuotaUsed string    `xml:"DAV: prop>quotaused,omitempty"`
	ADHeader  string    `xml:"prop>appledoubleheader,omitempty"`
}

// Parse a status of the form "HTTP/1.1 200 OK" or "HTTP/1.1 200"
var parseStatus = regexp.MustCompile(`^HTTP/[0-9.]+\s+(\d+)`)

// StatusOK examines the Status and returns an OK flag
func (p *Prop) StatusOK() bool {
	// Assume OK if no statuses received
	if len(p.Status) == 0 {
		return true
	}
	match := parseStatus.FindStringSubmatch(p.Status[0])
	if len(match) < 2 {
		return false
	}
	code, err := strconv.Atoi(match[1])
	if err != nil {
		return false
	}
	return code >= 200 && code < 300
}

// IsCollection reports whether the resourcetype marks a collection.
//
// When a client sees a resourcetype it doesn't recognize it should
// assume it is a regular non-collection resource.
func (p *Prop) IsCollection() bool {
	if t := p.Type; t != nil {
		if t.Space == "DAV:" && t.Local == "collection" {
			return true
		}
		fs.Debugf(nil, "Unknown resource type %q/%q on %q", t.Space, t.Local, p.Name)
	}
	return false
}

// LockResponse is the body of a successful LOCK response:
//
//	<D:prop xmlns:D="DAV:">
//	  <D:lockdiscovery>
//	    <D:activelock>
//	      ...
//	      <D:locktoken><D:href>opaquelocktoken:...</D:href></D:locktoken>
//	    </D:activelock>
//	  </D:lockdiscovery>
//	</D:prop>
type LockResponse struct {
	Token string `xml:"DAV: lockdiscovery>activelock>locktoken>href"`
}

// Error is used to describe webdav errors
//
//	<d:error xmlns:d="DAV:" xmlns:s="http://sabredav.org/ns">
//	  <s:exception>Sabre\DAV\Exception\NotFound</s:exception>
//	  <s:message>File with name Photo could not be located</s:message>
//	</d:error>
type Error struct {
	Exception  string `xml:"exception,omitempty"`
	Message    string `xml:"message,omitempty"`
	Status     string
	StatusCode int
}

// Error returns a string for the error and satisfies the error interface
func (e *Error) Error() string {
	var out []string
	if e.Message != "" {
		out = append(out, e.Message)
	}
	if e.Exception != "" {
		out = append(out, e.Exception)
	}
	if e.Status != "" {
		out = append(out, e.Status)
	}
	if len(out) == 0 {
		return "Webdav Error"
	}
	return strings.Join(out, ": ")
}

// Time represents date and time information for the webdav API
type Time time.Time

// MarshalXML turns a Time into XML
func (t *Time) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	timeString := httplex.FormatRFC1123(time.Time(*t))
	return e.EncodeElement(timeString, start)
}

var oneTimeError sync.Once

// UnmarshalXML turns XML into a Time
func (t *Time) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var v string
	err := d.DecodeElement(&v, &start)
	if err != nil {
		return err
	}

	// If time is missing then return the epoch
	if v == "" {
		*t = Time(time.Unix(0, 0))
		return nil
	}

	newT, err := httplex.ParseHTTPDate(v)
	if err != nil {
		oneTimeError.Do(func() {
			fs.Errorf(nil, "Failed to parse time %q - using the epoch", v)
		})
		// Return the epoch instead
		*t = Time(time.Unix(0, 0))
		return nil
	}
	*t = Time(newT)
	return nil
}
