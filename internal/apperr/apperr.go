// Package apperr defines the typed outcomes returned by the roster and matching core.
// Every expected business-rule failure carries a Kind so the service layer can translate
// it without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind uint8

const (
	Internal        Kind = iota // unexpected failure (storage, malformed data)
	NotFound                    // referenced person/course/session does not exist
	AlreadyEnrolled             // reserved: enrolling twice is a no-op success
	NotEnrolled                 // person is not a member of the course
	AlreadyMarked               // attendance already recorded for session+person
	NoMatch                     // no gallery label within threshold
	EmptyGallery                // no enrolled student has stored embeddings
	InvalidRole                 // person's role does not permit the operation
	Conflict                    // duplicate id/name or capacity reached
	Invalid                     // malformed input
)

var kindNames = map[Kind]string{
	Internal:        "internal",
	NotFound:        "not_found",
	AlreadyEnrolled: "already_enrolled",
	NotEnrolled:     "not_enrolled",
	AlreadyMarked:   "already_marked",
	NoMatch:         "no_match",
	EmptyGallery:    "empty_gallery",
	InvalidRole:     "invalid_role",
	Conflict:        "conflict",
	Invalid:         "invalid",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a classified error. Op names the failing operation, Msg is a human readable
// detail, Err is the optional underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInternal        = &Error{Kind: Internal}
	ErrNotFound        = &Error{Kind: NotFound}
	ErrAlreadyEnrolled = &Error{Kind: AlreadyEnrolled}
	ErrNotEnrolled     = &Error{Kind: NotEnrolled}
	ErrAlreadyMarked   = &Error{Kind: AlreadyMarked}
	ErrNoMatch         = &Error{Kind: NoMatch}
	ErrEmptyGallery    = &Error{Kind: EmptyGallery}
	ErrInvalidRole     = &Error{Kind: InvalidRole}
	ErrConflict        = &Error{Kind: Conflict}
	ErrInvalid         = &Error{Kind: Invalid}
)

// E builds a classified error with a formatted message.
func E(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain,
// or Internal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
