// Package transport provides the HTTP round trippers used to reach the
// storefront API.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// New returns the base round tripper for API calls. With chrome set it
// presents a Chrome TLS fingerprint; otherwise it is a clone of
// http.DefaultTransport with the given dial timeout.
func New(timeout time.Duration, chrome bool) http.RoundTripper {
	if chrome {
		return NewChromeTransport(timeout)
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = timeout
	return t
}

// =============================================================================
// TLS FINGERPRINT TRANSPORT
// =============================================================================
//
// Storefronts fronted by bot-management CDNs rate limit Go's default TLS
// ClientHello. This transport dials with uTLS (HelloChrome_Auto), lets ALPN
// pick h2 or http/1.1, and frames HTTP/2 with x/net/http2.
//
// =============================================================================

// errNoH2 means the server declined h2 during ALPN. Nothing was sent, so the
// request can be replayed over HTTP/1.1.
var errNoH2 = errors.New("server did not negotiate h2")

// NewChromeTransport creates an http.RoundTripper with Chrome's TLS
// fingerprint. HTTP/2 is tried first; HTTP/1.1 is used only when the server
// declines h2.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}

	h2Transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			conn, err := dialChromeTLS(ctx, dialer, network, addr)
			if err != nil {
				return nil, err
			}
			if proto := conn.ConnectionState().NegotiatedProtocol; proto != http2.NextProtoTLS {
				conn.Close()
				return nil, fmt.Errorf("%w (got %q)", errNoH2, proto)
			}
			return conn, nil
		},
	}

	h1Transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialChromeTLS(ctx, dialer, network, addr)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		ForceAttemptHTTP2: false,
	}

	return &chromeTransport{h2: h2Transport, h1: h1Transport}
}

type chromeTransport struct {
	h2 http.RoundTripper
	h1 http.RoundTripper
}

// RoundTrip implements http.RoundTripper. Plain-http URLs (local dev
// servers) skip the fingerprinting entirely. Any h2 failure other than a
// declined ALPN is returned as is: the request may already have reached the
// server, and replaying a cart mutation would apply it twice.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == "http" {
		return t.h1.RoundTrip(req)
	}
	resp, err := t.h2.RoundTrip(req)
	if err == nil || !errors.Is(err, errNoH2) {
		return resp, err
	}
	// A request with a consumed body can't be replayed over h1.
	if req.Body != nil && req.GetBody == nil {
		return nil, err
	}
	if req.GetBody != nil {
		body, gerr := req.GetBody()
		if gerr != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (*utls.UConn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}
