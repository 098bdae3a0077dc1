// Package embed turns token ids into model-dimension vectors: an
// embedding table lookup followed by an optional affine projection.
package embed

import (
	"fmt"

	"github.com/BenJamesbabala/spinn/internal/device"
	"github.com/BenJamesbabala/spinn/internal/stack"
)

// Embeddings owns the token embedding table and the projection into the
// stack machine's model dimension. When no projection weights are given,
// WordDim must equal ModelDim and lookup is a pure copy.
type Embeddings struct {
	spec    stack.ModelSpec
	backend device.Backend

	table device.Tensor // VocabSize x WordDim
	projW device.Tensor // ModelDim x WordDim, optional
	projB device.Tensor // 1 x ModelDim, optional
	relu  bool
}

// New validates shapes against the spec. projW and projB may be nil.
func New(spec stack.ModelSpec, table, projW, projB device.Tensor, relu bool, backend device.Backend) (*Embeddings, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: no compute backend supplied", stack.ErrBackendInit)
	}
	if table == nil {
		return nil, fmt.Errorf("%w: embedding table not supplied", stack.ErrInvalidSpec)
	}
	if r, c := table.Dims(); r != spec.VocabSize || c != spec.WordDim {
		return nil, fmt.Errorf("%w: embedding table is %dx%d, want %dx%d", stack.ErrInvalidSpec, r, c, spec.VocabSize, spec.WordDim)
	}
	// Lookup indexes the table rows directly.
	if table.Data() == nil {
		return nil, fmt.Errorf("%w: embedding table does not expose host-addressable memory", stack.ErrBackendInit)
	}
	if projW == nil {
		if spec.WordDim != spec.ModelDim {
			return nil, fmt.Errorf("%w: word dim %d != model dim %d requires a projection", stack.ErrInvalidSpec, spec.WordDim, spec.ModelDim)
		}
	} else {
		if r, c := projW.Dims(); r != spec.ModelDim || c != spec.WordDim {
			return nil, fmt.Errorf("%w: projection is %dx%d, want %dx%d", stack.ErrInvalidSpec, r, c, spec.ModelDim, spec.WordDim)
		}
	}
	if projB != nil {
		if r, c := projB.Dims(); r != 1 || c != spec.ModelDim {
			return nil, fmt.Errorf("%w: projection bias is %dx%d, want 1x%d", stack.ErrInvalidSpec, r, c, spec.ModelDim)
		}
	}
	return &Embeddings{
		spec:    spec,
		backend: backend,
		table:   table,
		projW:   projW,
		projB:   projB,
		relu:    relu,
	}, nil
}

// ProjectIDs maps token ids to projected vectors, one ModelDim row per
// id, in input order. Ids outside [0, VocabSize) are rejected.
func (e *Embeddings) ProjectIDs(ids []int32) ([]float32, error) {
	n := len(ids)
	wordDim, modelDim := e.spec.WordDim, e.spec.ModelDim

	tableData := e.table.Data()
	raw := make([]float32, n*wordDim)
	for i, id := range ids {
		if id < 0 || int(id) >= e.spec.VocabSize {
			return nil, fmt.Errorf("%w: token id %d outside vocab of %d", stack.ErrInvalidSpec, id, e.spec.VocabSize)
		}
		copy(raw[i*wordDim:(i+1)*wordDim], tableData[int(id)*wordDim:(int(id)+1)*wordDim])
	}

	if e.projW == nil {
		return raw, nil
	}

	// out = raw * projW^T (+ bias)
	rawT := e.backend.NewTensor(n, wordDim, raw)
	out := e.backend.GetTensor(n, modelDim)
	out.Gemm(1.0, rawT, e.projW.T(), 0.0)
	if e.projB != nil {
		out.AddBias(e.projB)
	}
	if e.relu {
		out.Relu()
	}
	result := out.ToHost()
	e.backend.PutTensor(out)
	return result, nil
}

// RandomTable builds a deterministic pseudo-random embedding table for
// runs without a trained table (hash-based, stable across processes).
func RandomTable(vocabSize, wordDim int, backend device.Backend) device.Tensor {
	data := make([]float32, vocabSize*wordDim)
	state := uint64(0x9E3779B97F4A7C15)
	for i := range data {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		data[i] = float32(int64(state%2000)-1000) / 1000.0
	}
	return backend.NewTensor(vocabSize, wordDim, data)
}
