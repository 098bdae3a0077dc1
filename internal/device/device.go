package device

// Tensor represents a two-dimensional array of float32 data owned by a
// compute backend. The stack machine only ever sees Tensor through this
// interface, so a GPU-resident implementation can be dropped in without
// touching the step logic.
type Tensor interface {
	// Dims returns the dimensions (rows, cols) of the tensor.
	Dims() (int, int)

	// At returns the value at (i, j).
	// This is often slow and should be used for debugging or infrequent access.
	At(i, j int) float32

	// Set sets the value at (i, j).
	Set(i, j int, v float32)

	// Data returns the underlying slice if available on the host
	// (nil if the data lives on a device or the tensor is a transposed view).
	Data() []float32

	// ToHost copies the data to a Go slice.
	ToHost() []float32

	// CopyFromFloat32 copies data from a Go slice to the tensor.
	CopyFromFloat32(data []float32)

	// Copy copies content from another tensor.
	Copy(from Tensor)

	// T returns the transpose view. No data is moved.
	T() Tensor

	// Mul performs matrix multiplication: t = a * b
	Mul(a, b Tensor)

	// Gemm performs the accumulate-capable multiply t = alpha*a*b + beta*t.
	// This is the batched multiply-accumulate contract the stack machine's
	// composition step relies on.
	Gemm(alpha float32, a, b Tensor, beta float32)

	// Add performs element-wise addition: t = t + other
	Add(other Tensor)

	// AddBias adds a bias vector (broadcast over rows) to each row.
	AddBias(bias Tensor)

	// Scale performs: t = t * val
	Scale(val float32)

	// Relu applies max(0, x) element-wise (in-place).
	Relu()
}

// Backend creates tensors and manages device memory.
type Backend interface {
	Name() string
	NewTensor(r, c int, data []float32) Tensor

	// GetTensor gets a zeroed tensor from the pool or creates a new one.
	GetTensor(r, c int) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)

	// Synchronize blocks until all queued operations are complete.
	Synchronize()
}
