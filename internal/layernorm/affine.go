package layernorm

import "github.com/born-ml/fusednorm/internal/tensor"

// affineFunc writes the normalized chunk x[lo:lo+len(x)] of one row into out.
// scale and shift are full channel vectors indexed from lo. One variant exists
// per combination of present parameters, so the inner loops carry no branches.
type affineFunc[T tensor.Float] func(out, x, scale, shift []T, lo int, mean, invStd T)

func affineBoth[T tensor.Float](out, x, scale, shift []T, lo int, mean, invStd T) {
	scale = scale[lo : lo+len(x)]
	shift = shift[lo : lo+len(x)]
	for i, v := range x {
		out[i] = scale[i]*invStd*(v-mean) + shift[i]
	}
}

func affineScale[T tensor.Float](out, x, scale, _ []T, lo int, mean, invStd T) {
	scale = scale[lo : lo+len(x)]
	for i, v := range x {
		out[i] = scale[i] * invStd * (v - mean)
	}
}

func affineShift[T tensor.Float](out, x, _, shift []T, lo int, mean, invStd T) {
	shift = shift[lo : lo+len(x)]
	for i, v := range x {
		out[i] = invStd*(v-mean) + shift[i]
	}
}

func affineNone[T tensor.Float](out, x, _, _ []T, _ int, mean, invStd T) {
	for i, v := range x {
		out[i] = invStd * (v - mean)
	}
}

func selectAffine[T tensor.Float](hasScale, hasShift bool) affineFunc[T] {
	switch {
	case hasScale && hasShift:
		return affineBoth[T]
	case hasScale:
		return affineScale[T]
	case hasShift:
		return affineShift[T]
	default:
		return affineNone[T]
	}
}
