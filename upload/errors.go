package upload

import (
	"errors"
	"fmt"
)

// Kind classifies everything that can go wrong between the device and the
// collector. The sync loop decides retry policy on the Kind alone; the HTTP
// code and message ride along for reporting.
type Kind int

const (
	KindBadRequest Kind = iota + 1
	KindUnauthorized
	KindForbidden
	KindConflict
	KindEntityNotParsable
	KindInternalServerError
	KindTooManyRequests
	KindUploadSessionExpired
	KindMeasurementTooLarge
	KindUnexpectedResponseCode
	KindHostUnresolvable
	KindServerUnavailable
	KindNetworkUnavailable
	KindSynchronizationInterrupted
	KindAccountNotActivated
)

var kindNames = map[Kind]string{
	KindBadRequest:                 "bad request",
	KindUnauthorized:               "unauthorized",
	KindForbidden:                  "forbidden",
	KindConflict:                   "conflict",
	KindEntityNotParsable:          "entity not parsable",
	KindInternalServerError:        "internal server error",
	KindTooManyRequests:            "too many requests",
	KindUploadSessionExpired:       "upload session expired",
	KindMeasurementTooLarge:        "measurement too large",
	KindUnexpectedResponseCode:     "unexpected response code",
	KindHostUnresolvable:           "host unresolvable",
	KindServerUnavailable:          "server unavailable",
	KindNetworkUnavailable:         "network unavailable",
	KindSynchronizationInterrupted: "synchronization interrupted",
	KindAccountNotActivated:        "account not activated",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ApiError is the one parameterized error type of the taxonomy. Sentinels
// below make conditions matchable with errors.Is without subtyping.
type ApiError struct {
	Kind    Kind
	Code    int // HTTP status when the server answered, 0 for transport faults
	Message string
	cause   error
}

func (e *ApiError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ApiError) Unwrap() error { return e.cause }

// Is matches any ApiError of the same Kind, so errors.Is(err, ErrConflict)
// works no matter which HTTP code or message the instance carries.
func (e *ApiError) Is(target error) bool {
	t, ok := target.(*ApiError)
	return ok && t.Kind == e.Kind
}

func newApiError(kind Kind, code int, msg string, cause error) *ApiError {
	return &ApiError{Kind: kind, Code: code, Message: msg, cause: cause}
}

// Sentinels for errors.Is matching.
var (
	ErrBadRequest                 = &ApiError{Kind: KindBadRequest}
	ErrUnauthorized               = &ApiError{Kind: KindUnauthorized}
	ErrForbidden                  = &ApiError{Kind: KindForbidden}
	ErrConflict                   = &ApiError{Kind: KindConflict}
	ErrEntityNotParsable          = &ApiError{Kind: KindEntityNotParsable}
	ErrInternalServerError        = &ApiError{Kind: KindInternalServerError}
	ErrTooManyRequests            = &ApiError{Kind: KindTooManyRequests}
	ErrUploadSessionExpired       = &ApiError{Kind: KindUploadSessionExpired}
	ErrMeasurementTooLarge        = &ApiError{Kind: KindMeasurementTooLarge}
	ErrUnexpectedResponseCode     = &ApiError{Kind: KindUnexpectedResponseCode}
	ErrHostUnresolvable           = &ApiError{Kind: KindHostUnresolvable}
	ErrServerUnavailable          = &ApiError{Kind: KindServerUnavailable}
	ErrNetworkUnavailable         = &ApiError{Kind: KindNetworkUnavailable}
	ErrSynchronizationInterrupted = &ApiError{Kind: KindSynchronizationInterrupted}
	ErrAccountNotActivated        = &ApiError{Kind: KindAccountNotActivated}
)

// KindOf extracts the taxonomy kind from an error chain, 0 when absent.
func KindOf(err error) Kind {
	var e *ApiError
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
