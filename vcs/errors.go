package vcs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/internal/engine"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pool"
)

// Kind classifies a failed operation.
type Kind string

const (
	KindNotFound                   Kind = "NOT_FOUND"
	KindAlreadyExists              Kind = "ALREADY_EXISTS"
	KindInvalidOperation           Kind = "INVALID_OPERATION"
	KindInvalidName                Kind = "INVALID_NAME"
	KindRequiresForce              Kind = "REQUIRES_FORCE"
	KindRequiresCommit             Kind = "REQUIRES_COMMIT"
	KindCheckoutVerificationFailed Kind = "CHECKOUT_VERIFICATION_FAILED"
	KindStorageUnavailable         Kind = "STORAGE_UNAVAILABLE"
	KindInternal                   Kind = "INTERNAL"
)

// Retryable reports whether repeating the same call may succeed without
// any change by the caller.
func (k Kind) Retryable() bool {
	return k == KindInternal
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNotFound                   = &Error{Kind: KindNotFound}
	ErrAlreadyExists              = &Error{Kind: KindAlreadyExists}
	ErrInvalidOperation           = &Error{Kind: KindInvalidOperation}
	ErrInvalidName                = &Error{Kind: KindInvalidName}
	ErrRequiresForce              = &Error{Kind: KindRequiresForce}
	ErrRequiresCommit             = &Error{Kind: KindRequiresCommit}
	ErrCheckoutVerificationFailed = &Error{Kind: KindCheckoutVerificationFailed}
	ErrStorageUnavailable         = &Error{Kind: KindStorageUnavailable}
	ErrInternal                   = &Error{Kind: KindInternal}
)

// Error is returned by every Service operation.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Suggestion string
	Paths      []string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Kind == e.Kind
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(op string, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// wrap converts engine, pool and datastore errors into an *Error.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			out := *e
			out.Op = op
			return &out
		}
		return e
	}

	kind := KindInternal
	switch {
	case errors.Is(err, engine.ErrBranchNotFound),
		errors.Is(err, engine.ErrCommitNotFound),
		errors.Is(err, datastore.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, engine.ErrBranchExists):
		kind = KindAlreadyExists
	case errors.Is(err, engine.ErrWouldOverwrite):
		kind = KindRequiresCommit
	case errors.Is(err, engine.ErrMergeInProgress):
		kind = KindInvalidOperation
	case errors.Is(err, engine.ErrInvalidPath),
		errors.Is(err, pool.ErrInvalidProjectID):
		kind = KindInvalidName
	case errors.Is(err, pool.ErrStorageUnavailable),
		errors.Is(err, pool.ErrPoolFull),
		errors.Is(err, pool.ErrPoolClosed),
		errors.Is(err, engine.ErrGitUnavailable),
		errors.Is(err, engine.ErrNotRepository),
		errors.Is(err, engine.ErrCorrupt),
		errors.Is(err, datastore.ErrConnectionFailed):
		kind = KindStorageUnavailable
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}
