package extract

import (
	"github.com/23skdu/longbow-spyglass/internal/config"
	"github.com/23skdu/longbow-spyglass/internal/device"
	"github.com/23skdu/longbow-spyglass/internal/metrics"
)

// SplitQKV decomposes a combined projection tensor of shape
// (patches, 3*dim) into per-head query, key and value tensors of shape
// (heads, patches, head_dim).
//
// The combined layout is fixed by the model's own projection: viewed
// as (patches, 3, heads, head_dim), axes reordered to
// (3, heads, patches, head_dim), with plane 0 query, 1 key, 2 value.
// A model with a different concatenation order would need this
// re-derived.
func SplitQKV(qkv *device.Tensor, imgDims []int, patchSize int, params config.VariantParams) (q, k, v *device.Tensor, err error) {
	patches := PatchCount(imgDims, patchSize)
	dim := params.Dim
	heads := params.Heads

	if dim%heads != 0 {
		metrics.RecordShapeError("split_qkv", "indivisible_embedding")
		return nil, nil, nil, &ShapeError{
			Op:   "split qkv",
			Want: []int{heads * (dim / heads)},
			Got:  []int{dim},
		}
	}
	if qkv.NumElements() != patches*3*dim {
		metrics.RecordShapeError("split_qkv", "element_count")
		return nil, nil, nil, &ShapeError{
			Op:   "split qkv",
			Want: []int{patches, 3 * dim},
			Got:  qkv.Dims(),
		}
	}

	headDim := dim / heads
	q = device.Zeros("q", heads, patches, headDim)
	k = device.Zeros("k", heads, patches, headDim)
	v = device.Zeros("v", heads, patches, headDim)

	src := qkv.Data()
	planes := [3][]float32{q.Data(), k.Data(), v.Data()}
	for p := 0; p < patches; p++ {
		for which := 0; which < 3; which++ {
			for h := 0; h < heads; h++ {
				in := src[p*3*dim+which*dim+h*headDim:]
				out := planes[which][(h*patches+p)*headDim:]
				copy(out[:headDim], in[:headDim])
			}
		}
	}
	return q, k, v, nil
}
