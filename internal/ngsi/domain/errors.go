package ngsi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies translation and exchange failures.
type ErrorKind string

const (
	KindTransport         ErrorKind = "TransportError"
	KindBrokerRejected    ErrorKind = "BrokerRejected"
	KindAccessForbidden   ErrorKind = "AccessForbidden"
	KindDeviceNotFound    ErrorKind = "DeviceNotFound"
	KindAttributeNotFound ErrorKind = "AttributeNotFound"
	KindEntityGeneric     ErrorKind = "EntityGenericError"
	KindBadAnswer         ErrorKind = "BadAnswer"
	KindBadTimestamp      ErrorKind = "BadTimestamp"
	KindBadGeocoordinates ErrorKind = "BadGeocoordinates"
	KindBadRequest        ErrorKind = "BadRequest"
)

// Sentinels for errors.Is. Any *Error with the same kind matches.
var (
	ErrTransport         = &Error{Kind: KindTransport}
	ErrBrokerRejected    = &Error{Kind: KindBrokerRejected}
	ErrAccessForbidden   = &Error{Kind: KindAccessForbidden}
	ErrDeviceNotFound    = &Error{Kind: KindDeviceNotFound}
	ErrAttributeNotFound = &Error{Kind: KindAttributeNotFound}
	ErrEntityGeneric     = &Error{Kind: KindEntityGeneric}
	ErrBadAnswer         = &Error{Kind: KindBadAnswer}
	ErrBadTimestamp      = &Error{Kind: KindBadTimestamp}
	ErrBadGeocoordinates = &Error{Kind: KindBadGeocoordinates}
	ErrBadRequest        = &Error{Kind: KindBadRequest}
)

// Error is a typed failure surfaced to callers of the translation core.
type Error struct {
	Kind   ErrorKind
	Entity string
	Status int
	Detail string
	Err    error
}

// NewError builds an error of the given kind.
func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind ErrorKind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := "ngsi: " + string(e.Kind)
	if e.Entity != "" {
		msg += " entity=" + e.Entity
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so callers can test against the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not a typed error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
