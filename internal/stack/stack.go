// Package stack implements a batched, fixed-depth shift-reduce machine
// over dense arrays. A batch of variable-shaped binary trees is evaluated
// in lockstep: every lane executes the same instruction sequence, and all
// per-lane state (buffer cursor, history queue, unrolled stack memory)
// lives in flat pre-allocated arrays addressed by computed offset.
package stack

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BenJamesbabala/spinn/internal/device"
	"github.com/BenJamesbabala/spinn/internal/kernels"
)

var tracer = otel.Tracer("spinn/stack")

// ThinStack evaluates tree compositions for a whole batch without ever
// materializing per-example stacks. The unrolled stack memory holds one
// frame per timestep per lane; frame t is written exactly once, at step
// t, and the queue/cursor pair recovers operand addresses from history.
//
// A ThinStack exclusively owns all of its memories. Concurrent Forward
// calls on one instance are unsafe; callers must serialize.
type ThinStack struct {
	spec    ModelSpec
	params  Params
	backend device.Backend

	// Pre-transposed weight views for the row-major GEMM.
	wlT device.Tensor
	wrT device.Tensor

	// Flat memories. Stack and buffer are (SeqLength*BatchSize) rows of
	// ModelDim floats; the row for frame f, lane i is f*BatchSize+i.
	// The queue carries SeqLength+1 slots per lane so that a fully
	// shifted lane's final cursor still addresses its own region.
	stack       []float32
	buffer      []float32
	queue       []int32
	cursors     []int32
	bufferCur   []int32
	transitions []int32 // time-major: decision for (step t, lane i) at t*BatchSize+i

	// Lane-index helpers, fixed at construction.
	batchRange []int32
	batchOnes  []int32

	// Per-step scratch, overwritten every timestep.
	stack2Ptrs []int32
	bufferTop  device.Tensor
	stack1T    device.Tensor
	stack2T    device.Tensor
	mergeOut   device.Tensor

	loaded bool
}

// New constructs a ThinStack. All memories are allocated here; no
// allocation happens mid-run. Fails with ErrInvalidSpec on inconsistent
// dimensions and ErrBackendInit if the backend is absent or does not
// expose host-addressable scratch memory.
func New(spec ModelSpec, params Params, backend device.Backend) (*ThinStack, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := params.validate(spec.ModelDim); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: no compute backend supplied", ErrBackendInit)
	}

	d, b, t := spec.ModelDim, spec.BatchSize, spec.SeqLength

	ts := &ThinStack{
		spec:    spec,
		params:  params,
		backend: backend,

		wlT: params.ComposeWL.T(),
		wrT: params.ComposeWR.T(),

		stack:       make([]float32, t*b*d),
		buffer:      make([]float32, t*b*d),
		queue:       make([]int32, b*(t+1)),
		cursors:     make([]int32, b),
		bufferCur:   make([]int32, b),
		transitions: make([]int32, t*b),

		batchRange: make([]int32, b),
		batchOnes:  make([]int32, b),

		stack2Ptrs: make([]int32, b),
		bufferTop:  backend.NewTensor(b, d, nil),
		stack1T:    backend.NewTensor(b, d, nil),
		stack2T:    backend.NewTensor(b, d, nil),
		mergeOut:   backend.NewTensor(b, d, nil),
	}

	for i := 0; i < b; i++ {
		ts.batchRange[i] = int32(i)
		ts.batchOnes[i] = 1
	}

	// The index kernels address scratch through raw slices.
	if ts.bufferTop.Data() == nil {
		return nil, fmt.Errorf("%w: backend %q does not expose host-addressable memory", ErrBackendInit, backend.Name())
	}

	return ts, nil
}

// Spec returns the immutable dimensions of this machine.
func (ts *ThinStack) Spec() ModelSpec { return ts.spec }

// Reset zero-fills the stack, queue and cursors. It must run before each
// independent sequence evaluation; Forward calls it itself. Calling it
// twice in a row is harmless.
func (ts *ThinStack) Reset() {
	zero32(ts.stack)
	zeroI32(ts.queue)
	zeroI32(ts.cursors)
	zeroI32(ts.bufferCur)
	zero32(ts.bufferTop.Data())
	zero32(ts.stack1T.Data())
	zero32(ts.stack2T.Data())
	zero32(ts.mergeOut.Data())
}

// LoadInputs copies a batch into the machine. Embeddings are time-major
// rows of ModelDim floats: token k of lane i at row k*BatchSize+i.
// Transitions are time-major B x T decisions. The transition sequence is
// validated eagerly here; a malformed batch never reaches a step.
func (ts *ThinStack) LoadInputs(embeddings []float32, transitions []int32) error {
	d, b, t := ts.spec.ModelDim, ts.spec.BatchSize, ts.spec.SeqLength
	if len(embeddings) != t*b*d {
		return fmt.Errorf("%w: got %d embedding values, want %d", ErrInvalidSpec, len(embeddings), t*b*d)
	}
	if err := ValidateTransitions(ts.spec, transitions); err != nil {
		return err
	}
	copy(ts.buffer, embeddings)
	copy(ts.transitions, transitions)
	ts.loaded = true
	return nil
}

// Forward runs one full pass: reset, then SeqLength lockstep timesteps.
// After it returns, the root composition for every fully reduced lane
// sits in the final stack frame. The pass is all-or-nothing: an error
// mid-sequence leaves the machine inconsistent and the only recovery is
// a fresh LoadInputs/Forward.
func (ts *ThinStack) Forward(ctx context.Context) error {
	if !ts.loaded {
		return fmt.Errorf("%w: no inputs loaded", ErrInvalidSpec)
	}

	_, span := tracer.Start(ctx, "thinstack.forward", trace.WithAttributes(
		attribute.Int("batch_size", ts.spec.BatchSize),
		attribute.Int("seq_length", ts.spec.SeqLength),
	))
	defer span.End()

	start := time.Now()
	ts.Reset()

	for t := 0; t < ts.spec.SeqLength; t++ {
		if err := ts.step(t); err != nil {
			span.RecordError(err)
			return fmt.Errorf("step %d: %w", t, err)
		}
	}
	ts.backend.Synchronize()

	forwardsTotal.Inc()
	forwardDuration.Observe(time.Since(start).Seconds())
	log.Debug().
		Int("batch_size", ts.spec.BatchSize).
		Int("seq_length", ts.spec.SeqLength).
		Dur("elapsed", time.Since(start)).
		Msg("thin stack forward pass")
	return nil
}

// step executes one timestep for every lane. Steps are strictly
// sequential: step t+1 reads the frame and queue entry written by step t.
func (ts *ThinStack) step(t int) error {
	d, b, seq := ts.spec.ModelDim, ts.spec.BatchSize, ts.spec.SeqLength
	transT := ts.transitions[t*b : (t+1)*b]

	// buffer_top = buffer[buffer_cur*B + lane]
	if err := kernels.GatherColumns(ts.bufferTop.Data(), ts.buffer, ts.bufferCur,
		d, seq*b, 0, int32(b), 1, ts.batchRange); err != nil {
		return fmt.Errorf("buffer top gather: %w", err)
	}

	// stack_2_ptrs = queue[lane, cursors-1]: the frame most recently made
	// available for composition, i.e. second-to-top of the logical stack.
	if err := kernels.GatherIndices(ts.stack2Ptrs, ts.queue, ts.cursors,
		int32(seq+1), -1); err != nil {
		return fmt.Errorf("queue gather: %w", err)
	}

	// stack_1 = frame t-1: whatever was on top after the previous step.
	// At t=0 there is no previous frame and no lane may reduce, so the
	// zeroed scratch stands in.
	if t > 0 {
		if err := kernels.GatherColumns(ts.stack1T.Data(), ts.stack, ts.batchRange,
			d, seq*b, int32((t-1)*b), 1, 0, nil); err != nil {
			return fmt.Errorf("stack 1 gather: %w", err)
		}
	}

	// stack_2 = stack[stack_2_ptrs*B + lane]
	if err := kernels.GatherColumns(ts.stack2T.Data(), ts.stack, ts.stack2Ptrs,
		d, seq*b, 0, int32(b), 1, ts.batchRange); err != nil {
		return fmt.Errorf("stack 2 gather: %w", err)
	}

	ts.compose()

	// Single write to frame t: composed value on REDUCE, buffer top on
	// SHIFT. This is the only store this frame ever receives.
	frame := ts.stack[t*b*d : (t+1)*b*d]
	kernels.SwitchColumns(frame, transT, ts.mergeOut.Data(), ts.bufferTop.Data(), d)

	// cursors += 1 - 2*transitions
	kernels.Axpy(1, ts.batchOnes, ts.cursors)
	kernels.Axpy(-2, transT, ts.cursors)

	// queue[lane, cursors] = t
	if err := kernels.SetIndexed(ts.queue, int32(t), ts.cursors, int32(seq+1)); err != nil {
		return fmt.Errorf("queue record: %w", err)
	}

	// buffer_cur += 1 - transitions
	kernels.Axpy(1, ts.batchOnes, ts.bufferCur)
	kernels.Axpy(-1, transT, ts.bufferCur)

	return nil
}

// compose computes merge = act(W_l*stack2 + W_r*stack1 + b) through the
// backend's accumulate GEMM. With row-major B x D operands this is
// merge = stack2*W_l^T + stack1*W_r^T.
func (ts *ThinStack) compose() {
	ts.mergeOut.Gemm(1.0, ts.stack2T, ts.wlT, 0.0)
	ts.mergeOut.Gemm(1.0, ts.stack1T, ts.wrT, 1.0)
	if ts.params.ComposeB != nil {
		ts.mergeOut.AddBias(ts.params.ComposeB)
	}
	if ts.params.Activation == ActivationReLU {
		ts.mergeOut.Relu()
	}
}

// Frame returns a copy of the value written for one lane at one timestep.
func (ts *ThinStack) Frame(t, lane int) []float32 {
	d, b := ts.spec.ModelDim, ts.spec.BatchSize
	row := (t*b + lane) * d
	out := make([]float32, d)
	copy(out, ts.stack[row:row+d])
	return out
}

// Root returns a copy of the final stack frame for one lane. For a lane
// whose transitions reduced to a single node this is the tree root; the
// driver does not verify that (garbage in, garbage out).
func (ts *ThinStack) Root(lane int) []float32 {
	return ts.Frame(ts.spec.SeqLength-1, lane)
}

// StackData exposes the full unrolled stack memory for inspection.
func (ts *ThinStack) StackData() []float32 {
	out := make([]float32, len(ts.stack))
	copy(out, ts.stack)
	return out
}

func zero32(s []float32) {
	for i := range s {
		s[i] = 0
	}
}

func zeroI32(s []int32) {
	for i := range s {
		s[i] = 0
	}
}
