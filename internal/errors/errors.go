package errors

import (
	"errors"
	"fmt"
)

// Sync pass errors.
var (
	ErrSyncInProgress       = errors.New("a sync pass is already running")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrNotAuthenticated     = errors.New("not authenticated")
)

// Per-file errors.
var (
	ErrFileAlreadyExists  = errors.New("file already exists")
	ErrDifferentFileTypes = errors.New("source and destination have different file types")
	ErrNoContent          = errors.New("no content")
)

// Backend/transport errors.
var (
	ErrBackendIO   = errors.New("backend I/O error")
	ErrRateLimited = errors.New("rate limited")
	ErrUnexpected  = errors.New("unexpected error")
)

// Kind classifies a SyncError.
type Kind int

const (
	KindUnexpected Kind = iota
	KindInitializationFailed
	KindNotAuthenticated
	KindFileAlreadyExists
	KindDifferentFileTypes
	KindNoContent
	KindBackendIO
	KindRateLimited
)

var kindSentinels = map[Kind]error{
	KindUnexpected:           ErrUnexpected,
	KindInitializationFailed: ErrInitializationFailed,
	KindNotAuthenticated:     ErrNotAuthenticated,
	KindFileAlreadyExists:    ErrFileAlreadyExists,
	KindDifferentFileTypes:   ErrDifferentFileTypes,
	KindNoContent:            ErrNoContent,
	KindBackendIO:            ErrBackendIO,
	KindRateLimited:          ErrRateLimited,
}

func (k Kind) String() string {
	if s, ok := kindSentinels[k]; ok {
		return s.Error()
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// SyncError is a classified failure for a single file or pass.
// Filename and Details are optional.
type SyncError struct {
	Kind     Kind
	Filename string
	Details  string
	Err      error
}

func (e *SyncError) Error() string {
	msg := e.Kind.String()
	if e.Filename != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Filename)
	}

	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind, so callers can use
// errors.Is(err, ErrNoContent) without caring about the concrete type.
func (e *SyncError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func InitializationFailed(details string) error {
	return &SyncError{Kind: KindInitializationFailed, Details: details}
}

func NotAuthenticated() error {
	return &SyncError{Kind: KindNotAuthenticated}
}

func FileAlreadyExists(filename string) error {
	return &SyncError{Kind: KindFileAlreadyExists, Filename: filename}
}

func DifferentFileTypes(source, destination string) error {
	return &SyncError{Kind: KindDifferentFileTypes, Filename: source, Details: "destination " + destination}
}

func NoContent(filename string) error {
	return &SyncError{Kind: KindNoContent, Filename: filename}
}

func BackendIO(filename string, err error) error {
	return &SyncError{Kind: KindBackendIO, Filename: filename, Err: err}
}

func RateLimited(filename string, err error) error {
	return &SyncError{Kind: KindRateLimited, Filename: filename, Err: err}
}

func Unexpected(details string) error {
	return &SyncError{Kind: KindUnexpected, Details: details}
}

// KindOf returns the kind of the first SyncError in err's chain.
// Errors that are not SyncErrors report KindUnexpected.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}

	return KindUnexpected
}

// Flatten expands errors.Join trees into their leaves. A nil error
// yields an empty slice.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}

	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, Flatten(e)...)
	}

	return out
}
