package connectors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies connector failures for callers that branch on them:
// the HTTP boundary maps kinds to status codes, the orchestrator treats
// SourceEmpty as success.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectorNotFound
	KindMissingCredentials
	KindAuthExpired
	KindRateLimited
	KindTransientUpstream
	KindSourceEmpty
)

func (k Kind) String() string {
	switch k {
	case KindConnectorNotFound:
		return "connector_not_found"
	case KindMissingCredentials:
		return "missing_credentials"
	case KindAuthExpired:
		return "auth_expired"
	case KindRateLimited:
		return "rate_limited"
	case KindTransientUpstream:
		return "transient_upstream"
	case KindSourceEmpty:
		return "source_empty"
	default:
		return "unknown"
	}
}

// Error is the typed connector failure.
type Error struct {
	Kind      Kind
	Connector string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Connector, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Connector, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, connector string, err error, message string) *Error {
	return &Error{Kind: kind, Connector: connector, Message: message, Err: err}
}

// KindOf extracts the failure kind, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// classifyStatus maps an upstream HTTP status to a typed error. Callers
// handle their own source-specific skips (forbidden channels and the
// like) before reaching for this.
func classifyStatus(connector string, status int, context string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(KindAuthExpired, connector, nil, fmt.Sprintf("%s returned %d", context, status))
	case status == http.StatusTooManyRequests:
		return newError(KindRateLimited, connector, nil, fmt.Sprintf("%s rate limited", context))
	case status >= 500:
		return newError(KindTransientUpstream, connector, nil, fmt.Sprintf("%s returned %d", context, status))
	default:
		return newError(KindUnknown, connector, nil, fmt.Sprintf("%s returned %d", context, status))
	}
}
