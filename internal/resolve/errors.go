package resolve

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a reference resolution failure.
type ErrorKind int

const (
	UnknownReferenceKind ErrorKind = iota + 1
	InvalidGlob
	CatalogUnavailable
)

var (
	ErrUnknownReferenceKind = errors.New("unknown reference kind")
	ErrInvalidGlob          = errors.New("invalid glob")
	ErrCatalogUnavailable   = errors.New("catalog unavailable")
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownReferenceKind:
		return "unknown_reference_kind"
	case InvalidGlob:
		return "invalid_glob"
	case CatalogUnavailable:
		return "catalog_unavailable"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case UnknownReferenceKind:
		return ErrUnknownReferenceKind
	case InvalidGlob:
		return ErrInvalidGlob
	case CatalogUnavailable:
		return ErrCatalogUnavailable
	default:
		return nil
	}
}

// ReferenceError is returned for any reference that cannot be expanded.
type ReferenceError struct {
	Kind      ErrorKind
	Reference string
	Err       error
}

func (e *ReferenceError) Error() string {
	msg := fmt.Sprintf("resolve %q: %s", e.Reference, e.Kind.sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReferenceError) Unwrap() error { return e.Err }

func (e *ReferenceError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}
