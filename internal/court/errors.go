package court

import (
	"context"
	"errors"
	"fmt"
)

// Kind tags a failure with its place in the pipeline.
type Kind string

// Error kinds surfaced on failed results.
const (
	KindNavigationTimeout        Kind = "NavigationTimeout"
	KindChallengeUnavailable     Kind = "ChallengeUnavailable"
	KindFieldNotFound            Kind = "FieldNotFound"
	KindSubmitFailed             Kind = "SubmitFailed"
	KindChallengeRejected        Kind = "ChallengeRejected"
	KindReadinessExhausted       Kind = "ReadinessExhausted"
	KindExtractionSchemaMismatch Kind = "ExtractionSchemaMismatch"
	KindPersistenceFailure       Kind = "PersistenceFailure"
	KindInvalidQuery             Kind = "InvalidQuery"
	KindSessionUnavailable       Kind = "SessionUnavailable"
	KindCanceled                 Kind = "Canceled"
	KindInternal                 Kind = "Internal"
)

var messages = map[Kind]string{
	KindNavigationTimeout:        "the case status page did not load in time",
	KindChallengeUnavailable:     "the verification code was not shown on the page",
	KindFieldNotFound:            "the search form has changed and a field could not be found",
	KindSubmitFailed:             "the search form could not be submitted",
	KindChallengeRejected:        "the site rejected the verification code",
	KindReadinessExhausted:       "the results table did not load in time",
	KindExtractionSchemaMismatch: "the results table has an unexpected layout",
	KindPersistenceFailure:       "the result could not be saved",
	KindInvalidQuery:             "the query is incomplete",
	KindSessionUnavailable:       "a browser session could not be started",
	KindCanceled:                 "the request was canceled",
	KindInternal:                 "an internal error occurred",
}

// Sentinels for errors.Is comparisons. Matching is by Kind only.
var (
	ErrNavigationTimeout        = &Error{Kind: KindNavigationTimeout}
	ErrChallengeUnavailable     = &Error{Kind: KindChallengeUnavailable}
	ErrFieldNotFound            = &Error{Kind: KindFieldNotFound}
	ErrSubmitFailed             = &Error{Kind: KindSubmitFailed}
	ErrChallengeRejected        = &Error{Kind: KindChallengeRejected}
	ErrReadinessExhausted       = &Error{Kind: KindReadinessExhausted}
	ErrExtractionSchemaMismatch = &Error{Kind: KindExtractionSchemaMismatch}
	ErrPersistenceFailure       = &Error{Kind: KindPersistenceFailure}
	ErrInvalidQuery             = &Error{Kind: KindInvalidQuery}
	ErrSessionUnavailable       = &Error{Kind: KindSessionUnavailable}
)

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf classifies err. Bare context errors map to Canceled, so stages must
// wrap their own driver timeouts in a typed Error while the request context
// is still live.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// Describe returns a human readable cause suitable for API responses. Driver
// details stay in the logs.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	msg := messages[KindOf(err)]
	var ce *Error
	if !errors.As(err, &ce) || ce.Err == nil {
		return msg
	}
	switch ce.Kind {
	case KindFieldNotFound:
		var fe *FieldError
		if errors.As(ce.Err, &fe) {
			return fmt.Sprintf("%s (%s)", msg, fe.Selector)
		}
	case KindInvalidQuery:
		return fmt.Sprintf("%s: %v", msg, ce.Err)
	}
	return msg
}

// FieldError names a form control that was not on the page.
type FieldError struct {
	Selector string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("control %q not found", e.Selector)
}

func errMissing(field string) error {
	return fmt.Errorf("%s is required", field)
}
