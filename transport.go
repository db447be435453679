package compassone

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// transport performs exactly one attempt per Send call. Retries belong to
// the retry controller; the transport only enforces the TLS floor, the
// per-call timeout and the client-side rate limit.
type transport struct {
	httpClient *http.Client
	limiter    *RateLimiter

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig
}

// newTransport builds the single-attempt transport. The per-call deadline is
// enforced via context in Send, so http.Client.Timeout stays unset: a
// Request timeout override may exceed the configured default.
func newTransport() *transport {
	return &transport{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		logger: NoopLogger{},
	}
}

// Send executes req with the given timeout. The call either completes or is
// aborted at the deadline; it is never left running. Errors are classified
// as Timeout, TlsError, ConnectionError or RateLimited; HTTP status codes
// are not interpreted here.
func (t *transport) Send(req *http.Request, timeout time.Duration) (*http.Response, error) {
	if t.limiter != nil {
		if !t.limiter.Allow() {
			if t.debug != nil && t.debug.Enabled && t.debug.LogRateLimit {
				t.logger.Warn("Client-side rate limit exceeded", "url", req.URL.Redacted())
			}
			return nil, newError(ErrorTypeRateLimited, "client-side rate limit exceeded", ErrRateLimited)
		}
		if t.metrics != nil {
			t.metrics.RecordRateLimiterTokens(t.limiter.Tokens())
		}
	}

	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	req = req.WithContext(ctx)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, classifyTransportError(err)
	}

	// The deadline must keep covering the body read; cancel fires when the
	// caller closes the body.
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// CloseIdleConnections releases pooled connections.
func (t *transport) CloseIdleConnections() {
	t.httpClient.CloseIdleConnections()
}

type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// classifyTransportError maps connection-level failures onto the error
// taxonomy. TLS problems are distinguished from generic connection errors so
// a policy violation (downgrade, bad certificate) is never retried.
func classifyTransportError(err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorTypeTimeout, "request deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(ErrorTypeTimeout, "request canceled", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ErrorTypeTimeout, "request timed out", err)
	}

	if isTLSError(err) {
		return newError(ErrorTypeTLS, "TLS negotiation failed", err)
	}

	return newError(ErrorTypeConnection, "connection failed", err)
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		return true
	}
	// tls alert errors surface as *url.Error wrapping a plain string.
	return strings.Contains(err.Error(), "tls:")
}
