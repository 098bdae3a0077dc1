// Package kernels provides the batch-parallel index primitives the thin
// stack is built from: per-lane gathers and scatters over flat arrays,
// with all addressing done by computed linear offset. Every function
// operates over independent lanes (one per batch element) with no
// cross-lane data dependency.
package kernels

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a computed per-lane address falls
// outside the target array. It signals a malformed transition sequence
// (or a caller bug), never a condition to retry.
var ErrOutOfBounds = errors.New("kernels: computed address out of bounds")

// GatherColumns copies, for each lane i, the dim-length vector at row
//
//	addr = base + offsetScale*offsets[i] + strideScale*extra[i]
//
// of src into dst[i*dim : (i+1)*dim]. src is interpreted as srcRows rows
// of dim contiguous float32 values. extra may be nil, in which case the
// strideScale term is dropped. Any address outside [0, srcRows) is a
// contract violation and aborts the whole gather.
func GatherColumns(dst, src []float32, offsets []int32, dim, srcRows int, base, offsetScale, strideScale int32, extra []int32) error {
	lanes := len(offsets)
	if len(dst) < lanes*dim {
		return fmt.Errorf("kernels: gather dst too small: %d < %d", len(dst), lanes*dim)
	}
	for i := 0; i < lanes; i++ {
		addr := base + offsetScale*offsets[i]
		if extra != nil {
			addr += strideScale * extra[i]
		}
		if addr < 0 || int(addr) >= srcRows {
			return fmt.Errorf("%w: lane %d address %d (rows %d)", ErrOutOfBounds, i, addr, srcRows)
		}
		copy(dst[i*dim:(i+1)*dim], src[int(addr)*dim:(int(addr)+1)*dim])
	}
	return nil
}

// GatherIndices reads one index per lane from a lane-strided int32 array:
//
//	dst[i] = src[i*stride + clamp(offsets[i]+base, 0, stride-1)]
//
// The in-lane position is clamped rather than rejected: for a well-formed
// transition sequence the only below-range positions occur on lanes whose
// gathered value is never committed (a SHIFT lane at the start of a
// sequence), and the clamp keeps the address inside the lane's own region.
func GatherIndices(dst, src, offsets []int32, stride, base int32) error {
	lanes := len(offsets)
	if len(src) < lanes*int(stride) {
		return fmt.Errorf("kernels: gather src too small: %d < %d", len(src), lanes*int(stride))
	}
	for i := 0; i < lanes; i++ {
		pos := offsets[i] + base
		if pos < 0 {
			pos = 0
		} else if pos >= stride {
			pos = stride - 1
		}
		dst[i] = src[int32(i)*stride+pos]
	}
	return nil
}

// SwitchColumns writes, for each lane i, onTrue[i*dim:(i+1)*dim] into
// dst[i*dim:(i+1)*dim] if mask[i] is nonzero, else onFalse[i*dim:(i+1)*dim].
// Total function: the only failure mode is a shape mismatch, which panics.
func SwitchColumns(dst []float32, mask []int32, onTrue, onFalse []float32, dim int) {
	lanes := len(mask)
	if len(dst) < lanes*dim || len(onTrue) < lanes*dim || len(onFalse) < lanes*dim {
		panic("kernels: SwitchColumns shape mismatch")
	}
	for i := 0; i < lanes; i++ {
		src := onFalse
		if mask[i] != 0 {
			src = onTrue
		}
		copy(dst[i*dim:(i+1)*dim], src[i*dim:(i+1)*dim])
	}
}

// SetIndexed writes a single scalar to a computed per-lane position in a
// lane-strided int32 array: dst[i*stride + offsets[i]] = value.
func SetIndexed(dst []int32, value int32, offsets []int32, stride int32) error {
	lanes := len(offsets)
	if len(dst) < lanes*int(stride) {
		return fmt.Errorf("kernels: scatter dst too small: %d < %d", len(dst), lanes*int(stride))
	}
	for i := 0; i < lanes; i++ {
		pos := offsets[i]
		if pos < 0 || pos >= stride {
			return fmt.Errorf("%w: lane %d position %d (stride %d)", ErrOutOfBounds, i, pos, stride)
		}
		dst[int32(i)*stride+pos] = value
	}
	return nil
}

// Axpy performs y[i] += alpha*x[i] over per-lane integer counters.
func Axpy(alpha int32, x, y []int32) {
	for i := range y {
		y[i] += alpha * x[i]
	}
}
