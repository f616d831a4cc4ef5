package network

import (
	"net/http"

	"github.com/apple-oss-distributions/webdavfs/fs"
)

// TranslateStatus maps an HTTP status code onto the error kind surfaced
// to the filesystem layer. 2xx is success. 401/407 are normally consumed
// by the auth loop; they only reach this table when the loop gave up.
func TranslateStatus(statusCode int) error {
	switch statusCode / 100 {
	case 1: // Informational 1xx
		// the HTTP library eats 1xx responses so this should never happen
		fs.Errorf(nil, "unexpected status code %d", statusCode)
		return fs.ErrNotFound
	case 2: // Successful 2xx
		return nil
	case 3: // Redirection 3xx
		fs.Errorf(nil, "unexpected status code %d", statusCode)
		return fs.ErrNotFound
	case 4: // Client Error 4xx
		switch statusCode {
		case http.StatusUnauthorized, http.StatusProxyAuthRequired:
			return fs.ErrAuthNeeded
		case http.StatusPaymentRequired, http.StatusForbidden:
			return fs.ErrPermission
		case http.StatusNotFound, http.StatusConflict, http.StatusGone:
			return fs.ErrNotFound
		case http.StatusRequestURITooLong:
			return fs.ErrNameTooLong
		case http.StatusLocked, http.StatusFailedDependency:
			// 424 is what some servers answer when a directory cannot be
			// moved
			return fs.ErrBusy
		default:
			fs.Errorf(nil, "unexpected status code %d", statusCode)
			return fs.ErrInvalid
		}
	case 5: // Server Error 5xx
		if statusCode == http.StatusInsufficientStorage {
			return fs.ErrNoSpace
		}
		fs.Errorf(nil, "unexpected status code %d", statusCode)
		return fs.ErrNotFound
	default:
		fs.Errorf(nil, "unexpected status code %d", statusCode)
		return fs.ErrIO
	}
}
