// Package errs defines the error taxonomy used across the service. Each
// kind marks one propagation path: what aborts a run, what is reported to
// the API caller, and what is repaired in place.
package errs

import (
	"errors"
	"fmt"
)

// Kind tags an error with its propagation class.
type Kind int

const (
	// KindUnknown marks errors that never got tagged.
	KindUnknown Kind = iota
	// KindConfig is a boot-time configuration problem; fatal.
	KindConfig
	// KindRemoteSource is a failure reaching or reading the watched
	// database; fatal for the run, recorded on the dataset, retried on
	// the next cadence tick.
	KindRemoteSource
	// KindLocalStore is a failure writing the service's own tables; the
	// run's transaction rolls back.
	KindLocalStore
	// KindSchemaMismatch is a dimensional or SRID constraint violation on
	// insert; self-healed once, then surfaces as KindLocalStore.
	KindSchemaMismatch
	// KindValidation is an API input rejection; caller error, not logged
	// as a service failure.
	KindValidation
	// KindConcurrency is a start refused because a run is already in
	// flight for the same dataset.
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindConfig:
		return "config"
	case KindRemoteSource:
		return "remote_source"
	case KindLocalStore:
		return "local_store"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindValidation:
		return "validation"
	case KindConcurrency:
		return "concurrency"
	}
	return "unknown"
}

type Error struct {
	Knd Kind
	Err error
}

func (e *Error) Error() string { return e.Knd.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func New(k Kind, format string, args ...any) error {
	return &Error{Knd: k, Err: fmt.Errorf(format, args...)}
}

func Wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Knd: k, Err: err}
}

// KindOf returns the kind of err, KindUnknown for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Knd
	}
	return KindUnknown
}

func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Knd == k
}
