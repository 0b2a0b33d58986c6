package compositor

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// UnboundReference means a layer names an alias the binding does not carry.
	UnboundReference ErrorKind = iota + 1
	// LayerLoad means the layer's raster could not be fetched or decoded.
	LayerLoad
	// InvalidTemplate means the template cannot be rendered at all.
	InvalidTemplate
)

func (k ErrorKind) String() string {
	switch k {
	case UnboundReference:
		return "unbound_reference"
	case LayerLoad:
		return "layer_load"
	case InvalidTemplate:
		return "invalid_template"
	default:
		return "unknown"
	}
}

var (
	ErrUnboundReference = errors.New("unbound reference")
	ErrLayerLoad        = errors.New("layer load failed")
	ErrInvalidTemplate  = errors.New("invalid template")
)

// CompositeError is the failure of one instance render.
type CompositeError struct {
	Kind ErrorKind
	// Layer is the zero-based layer index, or -1 when no layer is involved.
	Layer int
	Alias string
	Err   error
}

func (e *CompositeError) Error() string {
	msg := e.Kind.String()
	if e.Layer >= 0 {
		msg = fmt.Sprintf("layer %d (%s): %s", e.Layer, e.Alias, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompositeError) Unwrap() error { return e.Err }

func (e *CompositeError) Is(target error) bool {
	switch e.Kind {
	case UnboundReference:
		return target == ErrUnboundReference
	case LayerLoad:
		return target == ErrLayerLoad
	case InvalidTemplate:
		return target == ErrInvalidTemplate
	}
	return false
}
