package layernorm

import (
	"fmt"

	"github.com/born-ml/fusednorm/internal/tensor"
)

// Req selects how a kernel stores an output.
type Req int

const (
	// Skip leaves the output untouched and skips the work that would produce it.
	Skip Req = iota
	// Overwrite replaces the output's contents.
	Overwrite
	// OverwriteInPlace replaces the output's contents, the output being the
	// same buffer as the input it is computed from.
	OverwriteInPlace
	// AccumulateInto adds the result to the output's existing contents.
	AccumulateInto
)

// String returns the request name.
func (r Req) String() string {
	switch r {
	case Skip:
		return "skip"
	case Overwrite:
		return "overwrite"
	case OverwriteInPlace:
		return "overwrite-inplace"
	case AccumulateInto:
		return "accumulate"
	default:
		return fmt.Sprintf("Req(%d)", int(r))
	}
}

// writeFunc stores src into dst according to a Req.
type writeFunc[T tensor.Float] func(dst, src []T)

func writeOverwrite[T tensor.Float](dst, src []T) {
	copy(dst, src)
}

func writeAccumulate[T tensor.Float](dst, src []T) {
	for i, v := range src {
		dst[i] += v
	}
}

// writerFor returns the store for req, or nil for Skip.
func writerFor[T tensor.Float](req Req) writeFunc[T] {
	switch req {
	case Overwrite, OverwriteInPlace:
		return writeOverwrite[T]
	case AccumulateInto:
		return writeAccumulate[T]
	default:
		return nil
	}
}
