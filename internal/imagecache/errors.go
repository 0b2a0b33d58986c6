package imagecache

import (
	"errors"
	"fmt"

	"github.com/blueprint-labs/blueprint/internal/domain"
)

// Stage is the step of a load that failed.
type Stage int

const (
	StageFetch Stage = iota + 1
	StageDecode
)

func (s Stage) String() string {
	switch s {
	case StageFetch:
		return "fetch"
	case StageDecode:
		return "decode"
	default:
		return "unknown"
	}
}

var (
	ErrFetch  = errors.New("asset fetch failed")
	ErrDecode = errors.New("asset decode failed")
)

// LoadError reports a failed fetch or decode. It is never cached.
type LoadError struct {
	Locator domain.Locator
	Stage   Stage
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s: %v", e.Locator, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool {
	switch e.Stage {
	case StageFetch:
		return target == ErrFetch
	case StageDecode:
		return target == ErrDecode
	}
	return false
}
