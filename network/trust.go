package network

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"howett.net/plist"

	"github.com/apple-oss-distributions/webdavfs/fs"
)

// TrustAction is the outcome of classifying a TLS-domain stream error.
type TrustAction int

const (
	// TrustRetry means the property bag changed and the whole
	// transaction should be retried.
	TrustRetry TrustAction = iota
	// TrustCancelled means the user declined the certificate UI.
	TrustCancelled
	// TrustIOError means the error was not recoverable at the TLS level.
	TrustIOError
)

// Trust status codes handed to the certificate UI helper. These are the
// SecureTransport errSSLxxxx values the helper understands.
const (
	tlsStatusCertExpired      int32 = -9814
	tlsStatusBadCert          int32 = -9808
	tlsStatusUnknownRootCert  int32 = -9812
	tlsStatusHostNameMismatch int32 = -9843
)

// certConfirmation is the property list written to the UI helper's
// stdin.
type certConfirmation struct {
	Chain  [][]byte `plist:"TLSServerCertificateChain"`
	Status int32    `plist:"TLSTrustClientStatus"`
	Host   string   `plist:"TLSServerHostName"`
}

// Trust holds the per-mount SSL property overrides. Entries are set
// incrementally as the user accepts exceptions and never unset, so a
// second fault in an already overridden class fails instead of
// re-prompting.
type Trust struct {
	mu sync.Mutex

	// generation changes whenever the bag changes, so slots know their
	// transport's TLS configuration is stale.
	generation uint64

	versionPinned      bool
	allowsExpiredCerts bool
	allowsExpiredRoots bool
	validatesChain     bool
	allowsAnyRoot      bool

	helperPath string
	hostname   string
	suppressUI bool
}

// NewTrust returns a negotiator for the given server hostname. helperPath
// is the certificate confirmation executable; suppressUI makes every
// confirmation a decline.
func NewTrust(helperPath, hostname string, suppressUI bool) *Trust {
	return &Trust{
		helperPath:     helperPath,
		hostname:       hostname,
		suppressUI:     suppressUI,
		validatesChain: true,
		generation:     1,
	}
}

// Generation identifies the current contents of the property bag.
func (t *Trust) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// TLSConfig builds a tls.Config reflecting the property bag.
func (t *Trust) TLSConfig() *tls.Config {
	t.mu.Lock()
	defer t.mu.Unlock()

	cfg := &tls.Config{ServerName: t.hostname}
	if t.versionPinned {
		// The protocol fallback: stop offering the newest TLS version
		// and accept the oldest one still dialable.
		cfg.MinVersion = tls.VersionTLS10
		cfg.MaxVersion = tls.VersionTLS12
	}
	if !t.validatesChain {
		cfg.InsecureSkipVerify = true
		return cfg
	}
	if t.allowsExpiredCerts || t.allowsAnyRoot {
		// Verification still happens, just with the accepted exceptions;
		// the standard verifier can't express them, so it is replaced.
		allowExpired := t.allowsExpiredCerts
		anyRoot := t.allowsAnyRoot
		hostname := t.hostname
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyRelaxed(rawCerts, hostname, allowExpired, anyRoot)
		}
	}
	return cfg
}

// verifyRelaxed verifies the presented chain while honoring the accepted
// exceptions.
func verifyRelaxed(rawCerts [][]byte, hostname string, allowExpired, anyRoot bool) error {
	if len(rawCerts) == 0 {
		return fs.ErrIO
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return err
		}
		certs = append(certs, cert)
	}
	leaf := certs[0]
	opts := x509.VerifyOptions{
		DNSName:       hostname,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range certs[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if allowExpired {
		// Verify at the midpoint of the leaf's validity window so both
		// expired and not-yet-valid certificates pass.
		opts.CurrentTime = leaf.NotBefore.Add(leaf.NotAfter.Sub(leaf.NotBefore) / 2)
	}
	if anyRoot {
		roots := x509.NewCertPool()
		for _, cert := range certs {
			roots.AddCert(cert)
		}
		opts.Roots = roots
	}
	_, err := leaf.Verify(opts)
	return err
}

// HandleError classifies a TLS-domain stream error. TrustRetry means the
// property bag was updated and the transaction should run again.
func (t *Trust) HandleError(err error) TrustAction {
	if err == nil || !isTLSError(err) {
		return TrustIOError
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Protocol or handshake level trouble that a version fallback might
	// fix, tried once.
	if !t.versionPinned && isProtocolError(err) {
		t.versionPinned = true
		t.generation++
		return TrustRetry
	}

	chain := chainFromError(err)

	var invalidErr x509.CertificateInvalidError
	var hostnameErr x509.HostnameError
	var unknownAuthorityErr x509.UnknownAuthorityError

	switch {
	case asCertInvalid(err, &invalidErr) && invalidErr.Reason == x509.Expired:
		// The certificate for this server has expired or is not yet
		// valid.
		if t.allowsExpiredCerts {
			return TrustIOError
		}
		if t.confirm(tlsStatusCertExpired, chain) {
			t.allowsExpiredCerts = true
			t.allowsExpiredRoots = true
			t.generation++
			return TrustRetry
		}
		return TrustCancelled

	case asHostname(err, &hostnameErr):
		if !t.validatesChain {
			return TrustIOError
		}
		if t.confirm(tlsStatusHostNameMismatch, chain) {
			t.validatesChain = false
			t.generation++
			return TrustRetry
		}
		return TrustCancelled

	case asCertInvalid(err, &invalidErr):
		// The certificate for this server is invalid.
		if !t.validatesChain {
			return TrustIOError
		}
		if t.confirm(tlsStatusBadCert, chain) {
			t.validatesChain = false
			t.generation++
			return TrustRetry
		}
		return TrustCancelled

	case asUnknownAuthority(err, &unknownAuthorityErr):
		// The certificate was signed by an unknown certifying authority.
		if t.allowsAnyRoot {
			return TrustIOError
		}
		if t.confirm(tlsStatusUnknownRootCert, chain) {
			t.allowsAnyRoot = true
			t.generation++
			return TrustRetry
		}
		return TrustCancelled
	}

	return TrustIOError
}

// confirm serializes the certificate details to a binary property list,
// forks the UI helper with its stdin bound to the read end of a pipe,
// writes the plist and waits. A zero exit status is an accept.
func (t *Trust) confirm(status int32, chain [][]byte) bool {
	if t.suppressUI || t.helperPath == "" {
		return false
	}
	payload := certConfirmation{
		Chain:  chain,
		Status: status,
		Host:   t.hostname,
	}
	data, err := plist.Marshal(payload, plist.BinaryFormat)
	if err != nil {
		fs.Errorf(nil, "couldn't build certificate confirmation: %v", err)
		return false
	}
	cmd := exec.Command(t.helperPath)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("__CF_USER_TEXT_ENCODING=0x%X:0:0", os.Getuid()))
	if err := cmd.Run(); err != nil {
		return false
	}
	return true
}

// chainFromError digs the presented certificates out of the verification
// error for the UI helper.
func chainFromError(err error) [][]byte {
	var verifyErr *tls.CertificateVerificationError
	if asError(err, &verifyErr) {
		chain := make([][]byte, 0, len(verifyErr.UnverifiedCertificates))
		for _, cert := range verifyErr.UnverifiedCertificates {
			chain = append(chain, cert.Raw)
		}
		return chain
	}
	var invalidErr x509.CertificateInvalidError
	if asCertInvalid(err, &invalidErr) && invalidErr.Cert != nil {
		return [][]byte{invalidErr.Cert.Raw}
	}
	var hostnameErr x509.HostnameError
	if asHostname(err, &hostnameErr) && hostnameErr.Certificate != nil {
		return [][]byte{hostnameErr.Certificate.Raw}
	}
	var unknownAuthorityErr x509.UnknownAuthorityError
	if asUnknownAuthority(err, &unknownAuthorityErr) && unknownAuthorityErr.Cert != nil {
		return [][]byte{unknownAuthorityErr.Cert.Raw}
	}
	return nil
}

// isTLSError reports whether the stream error belongs to the TLS domain.
func isTLSError(err error) bool {
	var (
		recordErr           tls.RecordHeaderError
		verifyErr           *tls.CertificateVerificationError
		invalidErr          x509.CertificateInvalidError
		hostnameErr         x509.HostnameError
		unknownAuthorityErr x509.UnknownAuthorityError
	)
	if asError(err, &recordErr) || asError(err, &verifyErr) ||
		asCertInvalid(err, &invalidErr) || asHostname(err, &hostnameErr) ||
		asUnknownAuthority(err, &unknownAuthorityErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}

// isProtocolError reports whether the error looks like protocol or
// handshake level breakage a version fallback might cure.
func isProtocolError(err error) bool {
	var recordErr tls.RecordHeaderError
	if asError(err, &recordErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "handshake failure") ||
		strings.Contains(msg, "protocol version not supported") ||
		strings.Contains(msg, "no supported versions") ||
		strings.Contains(msg, "unsupported SSLv")
}
