// Package params loads composition and projection parameters from raw
// binary files: little-endian float32 values in a fixed section order.
package params

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BenJamesbabala/spinn/internal/device"
	"github.com/BenJamesbabala/spinn/internal/stack"
)

// Load reads the composition parameters for a machine: W_l and W_r
// (ModelDim x ModelDim each, required) followed by an optional bias
// vector of ModelDim values. A file that ends after the two matrices
// simply has no bias. A short or absent required section is a
// construction-time failure.
func Load(path string, spec stack.ModelSpec, backend device.Backend) (stack.Params, error) {
	var p stack.Params
	if err := spec.Validate(); err != nil {
		return p, err
	}

	file, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("params: %w", err)
	}
	defer func() { _ = file.Close() }()

	d := spec.ModelDim

	wl, err := readSection(file, d*d)
	if err != nil {
		return p, fmt.Errorf("params: loading compose W_l: %w", err)
	}
	wr, err := readSection(file, d*d)
	if err != nil {
		return p, fmt.Errorf("params: loading compose W_r: %w", err)
	}

	p.ComposeWL = backend.NewTensor(d, d, wl)
	p.ComposeWR = backend.NewTensor(d, d, wr)

	bias, err := readSection(file, d)
	switch {
	case err == nil:
		p.ComposeB = backend.NewTensor(1, d, bias)
	case errors.Is(err, io.EOF):
		// no bias section
	default:
		return p, fmt.Errorf("params: loading compose bias: %w", err)
	}

	return p, nil
}

// LoadEmbeddings reads a VocabSize x WordDim embedding table.
func LoadEmbeddings(path string, spec stack.ModelSpec, backend device.Backend) (device.Tensor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := readSection(file, spec.VocabSize*spec.WordDim)
	if err != nil {
		return nil, fmt.Errorf("params: loading embedding table: %w", err)
	}
	return backend.NewTensor(spec.VocabSize, spec.WordDim, data), nil
}

// readSection reads exactly n little-endian float32 values. io.EOF with
// zero bytes read is passed through so callers can treat a section as
// optional; a partial section is io.ErrUnexpectedEOF.
func readSection(r io.Reader, n int) ([]float32, error) {
	data := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, err
	}
	return data, nil
}
