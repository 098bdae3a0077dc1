package simd

import (
	"testing"
)

func TestVecAdd(t *testing.T) {
	// Length 7 exercises both the unrolled body and the remainder
	dst := []float32{1, 2, 3, 4, 5, 6, 7}
	src := []float32{10, 20, 30, 40, 50, 60, 70}

	VecAdd(dst, src)

	expected := []float32{11, 22, 33, 44, 55, 66, 77}
	for i, v := range expected {
		if dst[i] != v {
			t.Errorf("VecAdd mismatch at %d: got %f, want %f", i, dst[i], v)
		}
	}
}

func TestRelu(t *testing.T) {
	data := []float32{-2, -0.5, 0, 0.5, 2}
	Relu(data)

	expected := []float32{0, 0, 0, 0.5, 2}
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("Relu mismatch at %d: got %f, want %f", i, data[i], v)
		}
	}
}

func TestVecScale(t *testing.T) {
	data := []float32{1, -2, 3}
	VecScale(data, -1.5)

	expected := []float32{-1.5, 3, -4.5}
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("VecScale mismatch at %d: got %f, want %f", i, data[i], v)
		}
	}
}
