package interop

import (
	"errors"
	"fmt"
)

// Security rejections. Each maps to a 4xx on the inbox endpoint and an
// episodic deny event.
var (
	ErrTargetMismatch = errors.New("envelope target mismatch")
	ErrSkew           = errors.New("envelope timestamp outside allowed skew window")
	ErrBadSignature   = errors.New("envelope signature invalid")
	ErrIdentity       = errors.New("envelope identity signature invalid")
	ErrReplay         = errors.New("replay detected: nonce already seen")
	ErrSourceSpoof    = errors.New("relay envelope source mismatch")
)

// SchemaError reports an envelope that fails structural validation.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string {
	return "envelope schema invalid: " + e.Detail
}

// IsSecurityError reports whether err is a rejection the inbox should answer
// with a 4xx rather than a 5xx.
func IsSecurityError(err error) bool {
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return true
	}
	for _, sentinel := range []error{
		ErrTargetMismatch, ErrSkew, ErrBadSignature, ErrIdentity, ErrReplay, ErrSourceSpoof,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// TransportError reports a failed delivery attempt: connection failure,
// non-2xx peer response, or an undecodable peer body.
type TransportError struct {
	Host     string
	Status   int // 0 when the request never completed
	PeerBody string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("peer %s rejected envelope: status %d: %s", e.Host, e.Status, e.PeerBody)
	}
	return fmt.Sprintf("post to %s failed: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
