package extract

import (
	"github.com/23skdu/longbow-spyglass/internal/device"
	"github.com/23skdu/longbow-spyglass/internal/metrics"
)

// ClampEpsilon is the minimum similarity denominator. Near-zero-norm
// tokens divide by this instead of failing; degeneracy is a stability
// tradeoff here, not an error.
const ClampEpsilon = 1e-8

// CollapseHeads flattens a decomposed (heads, patches, head_dim)
// tensor to (patches, heads*head_dim) with the head axis major within
// each row, the layout every similarity call site expects.
func CollapseHeads(t *device.Tensor) (*device.Tensor, error) {
	dims := t.Dims()
	if len(dims) != 3 {
		return nil, &ShapeError{Op: "collapse heads", Want: []int{-1, -1, -1}, Got: dims}
	}
	heads, patches, headDim := dims[0], dims[1], dims[2]

	out := device.Zeros(t.Name()+"_flat", patches, heads*headDim)
	src := t.Data()
	dst := out.Data()
	for h := 0; h < heads; h++ {
		for p := 0; p < patches; p++ {
			copy(dst[p*heads*headDim+h*headDim:][:headDim], src[(h*patches+p)*headDim:][:headDim])
		}
	}
	return out, nil
}

// SelfSimilarity computes the pairwise cosine-similarity matrix of a
// (patches, channels) token matrix against itself.
func SelfSimilarity(x *device.Tensor) (*device.Tensor, error) {
	if x.Rank() != 2 {
		return nil, &ShapeError{Op: "self similarity", Want: []int{-1, -1}, Got: x.Dims()}
	}
	patches := x.Dim(0)

	norms := rowNorms(x)
	sim := device.Zeros("self_sim", patches, patches)
	for i := 0; i < patches; i++ {
		ri := x.Row(i)
		for j := i; j < patches; j++ {
			factor := norms[i] * norms[j]
			if factor < ClampEpsilon {
				factor = ClampEpsilon
			}
			s := device.Dot(ri, x.Row(j)) / factor
			sim.Set(s, i, j)
			sim.Set(s, j, i)
		}
	}
	return sim, nil
}

// CrossSimilarity computes the cosine-similarity matrix between two
// token matrices of identical (patches, channels) shape. Differing
// patch counts fail with ShapeMismatchError before any computation.
func CrossSimilarity(x, y *device.Tensor) (*device.Tensor, error) {
	if x.Rank() != 2 {
		return nil, &ShapeError{Op: "cross similarity", Want: []int{-1, -1}, Got: x.Dims()}
	}
	if y.Rank() != 2 {
		return nil, &ShapeError{Op: "cross similarity", Want: []int{-1, -1}, Got: y.Dims()}
	}
	if x.Dim(0) != y.Dim(0) {
		metrics.RecordShapeError("cross_similarity", "patch_count_mismatch")
		return nil, &ShapeMismatchError{SourcePatches: x.Dim(0), TargetPatches: y.Dim(0)}
	}
	if x.Dim(1) != y.Dim(1) {
		metrics.RecordShapeError("cross_similarity", "channel_mismatch")
		return nil, &ShapeError{Op: "cross similarity", Want: x.Dims(), Got: y.Dims()}
	}

	patches := x.Dim(0)
	normsX := rowNorms(x)
	normsY := rowNorms(y)

	sim := device.Zeros("cross_sim", patches, patches)
	for i := 0; i < patches; i++ {
		ri := x.Row(i)
		for j := 0; j < patches; j++ {
			factor := normsX[i] * normsY[j]
			if factor < ClampEpsilon {
				factor = ClampEpsilon
			}
			sim.Set(device.Dot(ri, y.Row(j))/factor, i, j)
		}
	}
	return sim, nil
}

func rowNorms(x *device.Tensor) []float32 {
	norms := make([]float32, x.Dim(0))
	for i := range norms {
		norms[i] = device.Norm(x.Row(i))
	}
	return norms
}
