package device

import (
	"fmt"
	"math"
)

// Tensor is a dense row-major float32 tensor. Reshapes share the
// underlying data slice; callers that need an independent copy must
// Clone first.
type Tensor struct {
	data []float32
	dims []int
	name string
}

func New(name string, dims []int, data []float32) (*Tensor, error) {
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("invalid dim %d in %v", d, dims)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("tensor %q: dims %v imply %d elements, have %d", name, dims, n, len(data))
	}
	return &Tensor{data: data, dims: append([]int(nil), dims...), name: name}, nil
}

// Zeros allocates a zero-filled tensor. Panics on non-positive dims;
// shapes here come from validated config, not user input.
func Zeros(name string, dims ...int) *Tensor {
	n := 1
	for _, d := range dims {
		n *= d
	}
	t, err := New(name, dims, make([]float32, n))
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tensor) Dims() []int {
	return t.dims
}

func (t *Tensor) Dim(i int) int {
	return t.dims[i]
}

func (t *Tensor) Rank() int {
	return len(t.dims)
}

func (t *Tensor) Data() []float32 {
	return t.data
}

func (t *Tensor) Name() string {
	return t.name
}

func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.dims {
		n *= d
	}
	return n
}

// Reshape returns a view with new dims over the same data.
func (t *Tensor) Reshape(dims ...int) (*Tensor, error) {
	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != len(t.data) {
		return nil, fmt.Errorf("reshape %q: %v -> %v changes element count", t.name, t.dims, dims)
	}
	return &Tensor{data: t.data, dims: append([]int(nil), dims...), name: t.name}, nil
}

// Clone returns a deep copy. Captured tensors are cloned before they
// escape a capture session so buffers can be cleared safely.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{data: data, dims: append([]int(nil), t.dims...), name: t.name}
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.dims) {
		panic(fmt.Sprintf("tensor %q: %d indices for rank %d", t.name, len(idx), len(t.dims)))
	}
	off := 0
	for i, x := range idx {
		off = off*t.dims[i] + x
	}
	return off
}

func (t *Tensor) At(idx ...int) float32 {
	return t.data[t.offset(idx)]
}

func (t *Tensor) Set(v float32, idx ...int) {
	t.data[t.offset(idx)] = v
}

// Row returns the i-th row of a rank-2 tensor as a shared sub-slice.
func (t *Tensor) Row(i int) []float32 {
	if len(t.dims) != 2 {
		panic(fmt.Sprintf("tensor %q: Row on rank %d", t.name, len(t.dims)))
	}
	w := t.dims[1]
	return t.data[i*w : (i+1)*w]
}

// Norm returns the L2 norm of a row-major slice.
func Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// Dot returns the dot product of two equal-length slices, accumulated
// in float64 for stability.
func Dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
