package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"
	"golang.org/x/mod/semver"
)

// Header names attached to every storefront request.
const (
	HeaderSessionID      = "x-session-id"
	HeaderClient         = "Storefront-Client"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Credentials supplies the per-request session context.
type Credentials interface {
	SessionID() string
	Token() string
}

// HeaderTransport decorates requests with session id, bearer token, client
// identification and, for mutations, a fresh idempotency key.
type HeaderTransport struct {
	Base   http.RoundTripper
	Creds  Credentials
	Client string // pre-encoded Storefront-Client value; see ClientHeader

	// NewKey generates idempotency keys. Defaults to uuid.NewString.
	NewKey func() string
}

// NewHeaderTransport wraps base. An invalid client name/version is an error.
func NewHeaderTransport(base http.RoundTripper, creds Credentials, clientName, clientVersion string) (*HeaderTransport, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	client, err := ClientHeader(clientName, clientVersion)
	if err != nil {
		return nil, err
	}
	return &HeaderTransport{Base: base, Creds: creds, Client: client, NewKey: uuid.NewString}, nil
}

// RoundTrip implements http.RoundTripper. The caller's request is cloned,
// never modified.
func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())

	if t.Creds != nil {
		if id := t.Creds.SessionID(); id != "" {
			out.Header.Set(HeaderSessionID, id)
		}
		if tok := t.Creds.Token(); tok != "" && out.Header.Get("Authorization") == "" {
			out.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	if t.Client != "" {
		out.Header.Set(HeaderClient, t.Client)
	}
	if isMutation(out.Method) && out.Header.Get(HeaderIdempotencyKey) == "" {
		newKey := t.NewKey
		if newKey == nil {
			newKey = uuid.NewString
		}
		out.Header.Set(HeaderIdempotencyKey, newKey())
	}

	return t.Base.RoundTrip(out)
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// ClientHeader encodes the Storefront-Client header as an RFC 8941 dictionary:
// name="storefront-cli", version="1.2.0". A non-empty version must be semver,
// with or without the leading "v".
func ClientHeader(name, version string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("client name is required")
	}
	if version != "" && !semver.IsValid(normalizeVersion(version)) {
		return "", fmt.Errorf("client version %q is not semver", version)
	}
	dict := httpsfv.NewDictionary()
	dict.Add("name", httpsfv.NewItem(name))
	if version != "" {
		dict.Add("version", httpsfv.NewItem(version))
	}
	v, err := httpsfv.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("encoding %s header: %w", HeaderClient, err)
	}
	return v, nil
}

// normalizeVersion adds the "v" prefix semver expects.
func normalizeVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
