package client

import (
	"errors"
	"fmt"
)

// Kind says which network exchange failed.
type Kind string

// Transport error kinds.
const (
	KindSubmit Kind = "submit"
	KindStream Kind = "stream"
	KindQuery  Kind = "query"
)

// TransportError wraps every failure talking to the server: unreachable
// host, non-2xx status, broken stream or an unusable response body.
type TransportError struct {
	Kind       Kind
	StatusCode int
	// Message is the server's {"message": ...} text, if any.
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind) + ": transport error"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a TransportError of the given kind.
func IsKind(err error, kind Kind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == kind
}
