package network

import (
	"crypto/x509"
	stderrors "errors"
	"syscall"
)

var errAgain = stderrors.New("transaction should be retried")

func asError[T any](err error, target *T) bool {
	return stderrors.As(err, target)
}

func asCertInvalid(err error, target *x509.CertificateInvalidError) bool {
	return stderrors.As(err, target)
}

func asHostname(err error, target *x509.HostnameError) bool {
	return stderrors.As(err, target)
}

func asUnknownAuthority(err error, target *x509.UnknownAuthorityError) bool {
	return stderrors.As(err, target)
}

// isEPIPE reports whether a POSIX EPIPE surfaced from the underlying
// stream, however deeply wrapped.
func isEPIPE(err error) bool {
	return stderrors.Is(err, syscall.EPIPE)
}
