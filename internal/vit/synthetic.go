package vit

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-spyglass/internal/device"
)

// SyntheticModel is a deterministic stand-in for a weight-loaded ViT.
// It emits pseudo-activations with the exact shapes the real model
// produces at each tap point, derived from the input image content, so
// the full capture/decompose/similarity pipeline can be exercised and
// validated without a checkpoint. Equal images yield equal emissions.
type SyntheticModel struct {
	dim       int
	heads     int
	patchSize int
	blocks    []*syntheticBlock
}

type syntheticBlock struct {
	Taps
	idx int
}

func NewSynthetic(layers, dim, heads, patchSize int) *SyntheticModel {
	m := &SyntheticModel{
		dim:       dim,
		heads:     heads,
		patchSize: patchSize,
		blocks:    make([]*syntheticBlock, layers),
	}
	for i := range m.blocks {
		m.blocks[i] = &syntheticBlock{idx: i}
	}
	return m
}

func (m *SyntheticModel) Blocks() []Block {
	blocks := make([]Block, len(m.blocks))
	for i, b := range m.blocks {
		blocks[i] = b
	}
	return blocks
}

func (m *SyntheticModel) PatchSize() int {
	return m.patchSize
}

func (m *SyntheticModel) Forward(img *device.Tensor) error {
	dims := img.Dims()
	if len(dims) != 4 {
		return fmt.Errorf("forward expects rank-4 image (batch, channels, height, width), got %v", dims)
	}
	h := dims[2] / m.patchSize
	w := dims[3] / m.patchSize
	patches := 1 + h*w
	sig := imageSignature(img)

	for _, b := range m.blocks {
		b.Emit(TapRawQKV, fillTensor("qkv", []int{patches, 3 * m.dim}, sig, b.idx, TapRawQKV))
		b.Emit(TapAttentionOutput, fillTensor("attn_out", []int{patches, m.dim}, sig, b.idx, TapAttentionOutput))
		b.Emit(TapAttentionWeights, attnTensor(patches, m.heads, sig, b.idx))
		b.Emit(TapBlockOutput, fillTensor("block_out", []int{1, patches, m.dim}, sig, b.idx, TapBlockOutput))
	}
	return nil
}

// imageSignature folds the image contents into a 64-bit seed so
// emissions depend on the input, not just its shape.
func imageSignature(img *device.Tensor) uint64 {
	sig := uint64(1469598103934665603)
	for _, v := range img.Data() {
		sig ^= uint64(math.Float32bits(v))
		sig *= 1099511628211
	}
	return sig
}

func fillTensor(name string, dims []int, sig uint64, stage int, point TapPoint) *device.Tensor {
	t := device.Zeros(name, dims...)
	rng := sig ^ uint64(stage)*0x9E3779B97F4A7C15 ^ uint64(point)<<32
	data := t.Data()
	for i := range data {
		rng = xorshift(rng)
		// Map to roughly [-1, 1)
		data[i] = float32(int64(rng>>11))/float32(1<<52) - 1
	}
	return t
}

// attnTensor produces per-head maps whose rows sum to one, matching
// the post-softmax property of real attention weights.
func attnTensor(patches, heads int, sig uint64, stage int) *device.Tensor {
	t := fillTensor("attn_weights", []int{heads, patches, patches}, sig, stage, TapAttentionWeights)
	data := t.Data()
	for h := 0; h < heads; h++ {
		for i := 0; i < patches; i++ {
			row := data[(h*patches+i)*patches : (h*patches+i+1)*patches]
			var sum float64
			for j, v := range row {
				e := math.Exp(float64(v))
				row[j] = float32(e)
				sum += e
			}
			for j := range row {
				row[j] = float32(float64(row[j]) / sum)
			}
		}
	}
	return t
}

func xorshift(x uint64) uint64 {
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	return x
}
