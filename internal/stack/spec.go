package stack

import (
	"errors"
	"fmt"

	"github.com/BenJamesbabala/spinn/internal/device"
)

var (
	// ErrInvalidSpec reports malformed or inconsistent model dimensions
	// at construction time.
	ErrInvalidSpec = errors.New("stack: invalid model spec")

	// ErrBackendInit reports a missing or unusable compute backend.
	ErrBackendInit = errors.New("stack: backend initialization failed")

	// ErrInvalidTransitions reports a transition sequence that would
	// drive a cursor out of bounds (e.g. a REDUCE before two pushes).
	ErrInvalidTransitions = errors.New("stack: invalid transition sequence")
)

// ModelSpec fixes every dimension of a ThinStack for its lifetime.
type ModelSpec struct {
	// ModelDim is the dimensionality of stack values and composed nodes.
	ModelDim int
	// WordDim is the dimensionality of raw word embeddings before
	// projection (equal to ModelDim when no projection is applied).
	WordDim int
	// BatchSize is the number of lanes evaluated in lockstep.
	BatchSize int
	// SeqLength is the number of transitions per example, and therefore
	// the number of stack frames written per lane.
	SeqLength int
	// VocabSize is the number of unique tokens the embedding table holds.
	VocabSize int
	// TrackingDim is the hidden size of the tracking unit. Carried and
	// validated, but the tracking recurrence itself is an extension point.
	TrackingDim int
	// NumCombination is the arity of composition. Only binary trees are
	// supported.
	NumCombination int
}

func (s ModelSpec) Validate() error {
	if s.ModelDim <= 0 {
		return fmt.Errorf("%w: model dim %d", ErrInvalidSpec, s.ModelDim)
	}
	if s.WordDim <= 0 {
		return fmt.Errorf("%w: word dim %d", ErrInvalidSpec, s.WordDim)
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidSpec, s.BatchSize)
	}
	if s.SeqLength <= 0 {
		return fmt.Errorf("%w: seq length %d", ErrInvalidSpec, s.SeqLength)
	}
	if s.VocabSize <= 0 {
		return fmt.Errorf("%w: vocab size %d", ErrInvalidSpec, s.VocabSize)
	}
	if s.TrackingDim < 0 {
		return fmt.Errorf("%w: tracking dim %d", ErrInvalidSpec, s.TrackingDim)
	}
	if s.NumCombination != 2 {
		return fmt.Errorf("%w: composition arity %d (only binary trees are supported)", ErrInvalidSpec, s.NumCombination)
	}
	return nil
}

// Activation selects the nonlinearity applied after composition.
type Activation int

const (
	ActivationIdentity Activation = iota
	ActivationReLU
)

// Params holds the composition parameters. WL and WR are required
// ModelDim x ModelDim matrices; B is an optional bias vector broadcast
// over the batch; Activation is applied last, before the mask-commit.
type Params struct {
	ComposeWL device.Tensor
	ComposeWR device.Tensor
	ComposeB  device.Tensor

	Activation Activation
}

func (p Params) validate(modelDim int) error {
	if p.ComposeWL == nil || p.ComposeWR == nil {
		return fmt.Errorf("%w: composition matrices not supplied", ErrInvalidSpec)
	}
	for name, w := range map[string]device.Tensor{"W_l": p.ComposeWL, "W_r": p.ComposeWR} {
		r, c := w.Dims()
		if r != modelDim || c != modelDim {
			return fmt.Errorf("%w: compose %s is %dx%d, want %dx%d", ErrInvalidSpec, name, r, c, modelDim, modelDim)
		}
	}
	if p.ComposeB != nil {
		r, c := p.ComposeB.Dims()
		if (r != 1 || c != modelDim) && (r != modelDim || c != 1) {
			return fmt.Errorf("%w: compose bias is %dx%d, want a %d-vector", ErrInvalidSpec, r, c, modelDim)
		}
	}
	return nil
}
