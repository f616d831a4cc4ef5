package fs

import "errors"

// Sentinel errors returned by the network subsystem and the WebDAV
// operations. These are the error kinds the kernel shim layer maps back
// to errno values, so code should compare with errors.Is rather than
// wrapping them out of reach.
var (
	// ErrAuthNeeded is returned when the auth loop exhausts its scheme
	// options without the server accepting any credentials.
	ErrAuthNeeded = errors.New("authentication required")

	// ErrPermission is returned for 402 and 403 responses.
	ErrPermission = errors.New("permission denied")

	// ErrNotFound is returned for 404, 409 and 410 responses.
	ErrNotFound = errors.New("object not found")

	// ErrNameTooLong is returned for 414 responses.
	ErrNameTooLong = errors.New("name too long")

	// ErrBusy is returned for 423 and 424 responses.
	ErrBusy = errors.New("resource busy")

	// ErrNoSpace is returned for 507 responses.
	ErrNoSpace = errors.New("no space on server")

	// ErrInvalid is returned for unexpected 4xx responses.
	ErrInvalid = errors.New("invalid request")

	// ErrIO is returned for transport failures, including an EPIPE that
	// survived its one retry.
	ErrIO = errors.New("input/output error")

	// ErrNotConfigured is returned when the base URL does not speak DAV.
	ErrNotConfigured = errors.New("device not configured")

	// ErrCancelled is returned when the user declined the certificate UI
	// or cancelled authentication.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNotEmpty is returned when a directory that must be empty is not.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrOutOfMemory is kept for parity with the errno surface of the
	// kernel shim. It is not expected in practice.
	ErrOutOfMemory = errors.New("out of memory")
)
