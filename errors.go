package tbf

import (
	"errors"
	"fmt"
	"sync"
)

// Standard errors that backend implementations should use.
var (
	// File errors
	ErrFileNotFound   = errors.New("tbf: file not found")
	ErrReservedFileId = errors.New("tbf: file id is reserved")
	ErrInvalidFileId  = errors.New("tbf: invalid file id")
	ErrInvalidTag     = fmt.Errorf("%w: tag is not valid utf-8", ErrInvalidArgument)

	// State errors
	ErrState    = errors.New("tbf: inconsistent backend state")
	ErrPoisoned = fmt.Errorf("%w: backend poisoned by an earlier failure", ErrState)
	ErrNotOpen  = fmt.Errorf("%w: backend not open", ErrState)

	// Backend errors
	ErrNotDirectory     = errors.New("tbf: path exists and is not a directory")
	ErrObjectTooLarge   = errors.New("tbf: object exceeds backend size limit")
	ErrReadOnly         = errors.New("tbf: backend is read-only")
	ErrInvalidArgument  = errors.New("tbf: invalid argument")
	ErrBackendNotExists = errors.New("tbf: backend storage does not exist")

	// Address errors
	ErrMalformedBackendAddress = errors.New("tbf: malformed backend address")
	ErrUnknownBackendAddress   = errors.New("tbf: unknown backend address protocol")
)

// ErrorKind is the generic classification of an error returned by any backend.
type ErrorKind int

const (
	// KindOther covers backend specific failures, such as a malformed tag stream.
	KindOther ErrorKind = iota
	// KindFileNotFound means the operation referenced an ID that is not live.
	KindFileNotFound
	// KindState means the bookkeeping of the backend is inconsistent.
	KindState
	// KindSource means the underlying storage medium failed.
	KindSource
)

func (k ErrorKind) String() string {
	switch k {
	case KindFileNotFound:
		return "file_not_found"
	case KindState:
		return "state"
	case KindSource:
		return "source"
	default:
		return "other"
	}
}

// FileNotFound returns ErrFileNotFound annotated with the ID.
func FileNotFound(id FileId) error {
	return fmt.Errorf("%w: %s", ErrFileNotFound, id)
}

// SourceError wraps an error raised by the storage medium underneath a backend.
type SourceError struct {
	Op  string
	Err error
}

func (e *SourceError) Error() string {
	if e.Op == "" {
		return "tbf: " + e.Err.Error()
	}

	return fmt.Sprintf("tbf: %s: %v", e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Source wraps err as a storage failure of the named operation. Errors that are
// already classified are returned unchanged, as is nil.
func Source(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *SourceError
	if errors.As(err, &se) || errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrState) {
		return err
	}

	return &SourceError{Op: op, Err: err}
}

// KindOf classifies err into exactly one ErrorKind. A nil error is KindOther.
func KindOf(err error) ErrorKind {
	var se *SourceError

	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, ErrFileNotFound):
		return KindFileNotFound
	case errors.Is(err, ErrState):
		return KindState
	case errors.As(err, &se):
		return KindSource
	default:
		return KindOther
	}
}

// Errors collects multiple errors, mostly during shutdown paths.
type Errors struct {
	mu     sync.RWMutex
	errors []error
}

// Add records err, ignoring nil.
func (e *Errors) Add(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = append(e.errors, err)
}

// Errors joins everything recorded so far, or returns nil.
func (e *Errors) Errors() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.errors) == 0 {
		return nil
	}

	return errors.Join(e.errors...)
}
