package waste

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies pipeline errors so callers can pick a fallback policy.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork: remote fetch failed (transport error or non-2xx). Recoverable via cache.
	KindNetwork
	// KindParse: response body is not a GeoJSON FeatureCollection.
	KindParse
	// KindCacheCorrupt: a local cache file exists but cannot be decoded.
	KindCacheCorrupt
	// KindValidation: a record or request violates schema invariants.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	case KindCacheCorrupt:
		return "cache corrupt"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a typed pipeline error
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Sentinels for errors.Is matching on kind only.
var (
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrParse        = &Error{Kind: KindParse}
	ErrCacheCorrupt = &Error{Kind: KindCacheCorrupt}
	ErrValidation   = &Error{Kind: KindValidation}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so errors.Is(err, ErrNetwork) works
// through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus maps the error kind to a response code for the HTTP surface.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNetwork, KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
