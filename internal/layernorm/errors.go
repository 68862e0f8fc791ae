package layernorm

import (
	"errors"
	"fmt"
)

// Configuration errors. They are returned before anything is launched and are
// never worth retrying.
var (
	ErrNilTensor         = errors.New("required tensor is nil")
	ErrDTypeMismatch     = errors.New("data type mismatch")
	ErrShapeMismatch     = errors.New("shape mismatch")
	ErrInvalidAxis       = errors.New("invalid normalization axis")
	ErrInvalidEpsilon    = errors.New("epsilon must be positive")
	ErrNotContiguous     = errors.New("buffer is not contiguous")
	ErrUnsupportedReq    = errors.New("unsupported output request")
	ErrInPlaceGradient   = errors.New("in-place write is not supported for gradient outputs")
	ErrAliasedOutput     = errors.New("output overlaps an input")
	ErrAliasedAccumulate = errors.New("accumulating into a buffer that overlaps an input")
)

// ConfigError describes a rejected call.
type ConfigError struct {
	Op      string // "forward" or "backward"
	Arg     string // Offending argument, e.g. "scaleGrad"
	Err     error  // One of the sentinel errors above
	Details string // Additional details
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("layernorm %s", e.Op)
	if e.Arg != "" {
		msg += fmt.Sprintf(": %s", e.Arg)
	}
	msg += fmt.Sprintf(": %v", e.Err)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// Unwrap returns the sentinel error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErr(op, arg string, err error, format string, args ...any) *ConfigError {
	return &ConfigError{Op: op, Arg: arg, Err: err, Details: fmt.Sprintf(format, args...)}
}
