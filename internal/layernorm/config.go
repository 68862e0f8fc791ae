package layernorm

import (
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sys/cpu"

	"github.com/born-ml/fusednorm/internal/parallel"
	"github.com/born-ml/fusednorm/internal/simt"
)

// maxUnroll bounds Config.UnrollChannels; it sizes the per-lane accumulators
// of the parameter-gradient kernel.
const maxUnroll = 8

// Config controls kernel geometry and the generic fallback.
type Config struct {
	// MaxWarpsPerGroup caps the lane-groups of one row's execution group.
	MaxWarpsPerGroup int
	// VectorWidth is the number of consecutive channels a lane processes per step.
	VectorWidth int
	// UnrollChannels is the channel chunk each lane owns in the parameter-gradient kernel.
	UnrollChannels int
	// ParamGradWarps is the number of warps per group in the parameter-gradient kernel.
	ParamGradWarps int
	// Parallel configures the reference implementation used by the default Fallback.
	Parallel parallel.Config
	// Fallback handles calls the fused kernels cannot (nil: Reference).
	Fallback Fallback
	// Logger receives dispatch decisions at debug level (nil: discard).
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration. The vector width follows
// the widest SIMD unit the host CPU reports.
func DefaultConfig() Config {
	return Config{
		MaxWarpsPerGroup: 8,
		VectorWidth:      defaultVectorWidth(),
		UnrollChannels:   4,
		ParamGradWarps:   1,
		Parallel:         parallel.DefaultConfig(),
	}
}

func defaultVectorWidth() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 16
	case cpu.X86.HasAVX2:
		return 8
	default:
		return 4
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxWarpsPerGroup < 1 || c.MaxWarpsPerGroup > simt.MaxWarpsPerGroup {
		return fmt.Errorf("layernorm: MaxWarpsPerGroup %d out of range [1, %d]", c.MaxWarpsPerGroup, simt.MaxWarpsPerGroup)
	}
	if c.VectorWidth < 1 {
		return fmt.Errorf("layernorm: VectorWidth %d must be positive", c.VectorWidth)
	}
	if c.UnrollChannels < 1 || c.UnrollChannels > maxUnroll {
		return fmt.Errorf("layernorm: UnrollChannels %d out of range [1, %d]", c.UnrollChannels, maxUnroll)
	}
	if c.ParamGradWarps < 1 || c.ParamGradWarps > simt.MaxWarpsPerGroup {
		return fmt.Errorf("layernorm: ParamGradWarps %d out of range [1, %d]", c.ParamGradWarps, simt.MaxWarpsPerGroup)
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
