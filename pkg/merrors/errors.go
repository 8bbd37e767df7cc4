// Package merrors represents the small set of error kinds the core
// needs to distinguish, carried as a tag on every error the pipeline,
// tracker and executor can produce.
package merrors

import (
	"encoding/json"
	"fmt"
)

// Kind tags an error with the reason a deployment stopped, so that
// callers (the pipeline runner, the tracker, the HTTP layer) can decide
// whether to retry, fail, or hide the error from the user.
type Kind string

const (
	MissingField                  Kind = "missing-field"
	UpstreamNotFound               Kind = "upstream-not-found"
	UpstreamFaultHTTP              Kind = "upstream-fault-http"
	UpstreamFaultStore             Kind = "upstream-fault-store"
	MismatchedImage                Kind = "mismatched-image"
	IncompatibleInstanceType       Kind = "incompatible-instance-type"
	UnknownSecurityGroups          Kind = "unknown-security-groups"
	MissingLoadBalancers           Kind = "missing-load-balancers"
	NoSubnets                      Kind = "no-subnets"
	NoMatchingZones                Kind = "no-matching-zones"
	UnexpectedRemoteStatus         Kind = "unexpected-remote-status"
	ASGNotFound                    Kind = "asg-not-found"
	ConfigurationMissing           Kind = "configuration-missing"
	ConfigurationUnexpectedResponse Kind = "configuration-unexpected-response"
	PolicyDenied                   Kind = "policy-denied"
)

// Retryable reports whether a pipeline step returning an error of this
// kind should instead be interpreted as a request to retry. Only
// check-configuration's upstream response-parse fault is retried; see
// spec.md §4.3 step 14.
func (k Kind) Retryable() bool {
	return k == ConfigurationUnexpectedResponse
}

// Error is the structured error the pipeline and executor return. Err
// is the underlying cause (loggable, not necessarily for users); Payload
// carries kind-specific detail, e.g. the list of unresolved security
// group names.
type Error struct {
	Kind    Kind
	Err     error
	Payload []string
}

func (e *Error) Error() string {
	if len(e.Payload) > 0 {
		return fmt.Sprintf("%s: %s %v", e.Kind, e.Err, e.Payload)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WithPayload attaches kind-specific detail (e.g. unresolved names) to
// an already-built error.
func WithPayload(kind Kind, err error, payload ...string) *Error {
	return &Error{Kind: kind, Err: err, Payload: payload}
}

// MissingFieldError builds the error the validate-* pipeline steps raise
// when a required field is absent.
func MissingFieldError(field string) *Error {
	return New(MissingField, fmt.Errorf("%s is required", field))
}

// Is lets errors.Is match on Kind, so callers can write
// errors.Is(err, merrors.New(merrors.ASGNotFound, nil)) in tests.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var msg string
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(&struct {
		Kind    string   `json:"kind"`
		Error   string   `json:"error,omitempty"`
		Payload []string `json:"payload,omitempty"`
	}{
		Kind:    string(e.Kind),
		Error:   msg,
		Payload: e.Payload,
	})
}

// KindOf extracts the Kind of err, if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	type causer interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		c, ok := err.(causer)
		if !ok {
			return "", false
		}
		err = c.Unwrap()
	}
	return "", false
}
