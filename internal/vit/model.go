// Package vit defines the instrumentation contract between the feature
// extractor and a vision-transformer implementation. The extractor
// never sees model internals; it attaches hooks at the tap points
// declared here and reads whatever the model emits during Forward.
package vit

import (
	"errors"

	"github.com/23skdu/longbow-spyglass/internal/device"
)

// TapPoint names an instrumentable computation point within one block.
type TapPoint int

const (
	// TapBlockOutput is the block's token output, shape (1, patches, dim).
	TapBlockOutput TapPoint = iota
	// TapAttentionWeights is the post-softmax attention map, shape
	// (heads, patches, patches).
	TapAttentionWeights
	// TapRawQKV is the combined projection output, shape (patches, 3*dim).
	TapRawQKV
	// TapAttentionOutput is the attention sub-module output, shape
	// (patches, dim).
	TapAttentionOutput
)

// TapPoints lists every tap point in a fixed order.
var TapPoints = []TapPoint{TapBlockOutput, TapAttentionWeights, TapRawQKV, TapAttentionOutput}

func (p TapPoint) String() string {
	switch p {
	case TapBlockOutput:
		return "block_output"
	case TapAttentionWeights:
		return "attention_weights"
	case TapRawQKV:
		return "raw_qkv"
	case TapAttentionOutput:
		return "attention_output"
	default:
		return "unknown"
	}
}

// Hook receives a tensor emitted at a tap point during Forward. The
// tensor is owned by the model; hooks must clone before retaining it.
type Hook func(t *device.Tensor)

// HookHandle detaches a previously attached hook. Remove is idempotent.
type HookHandle interface {
	Remove()
}

// Block is one sequential transformer stage.
type Block interface {
	// Hook attaches fn at the given tap point and returns its handle.
	Hook(point TapPoint, fn Hook) HookHandle
}

// Model is the collaborator contract: an ordered block sequence and a
// single synchronous forward entry point. Blocks execute in slice
// order during Forward, so hooks fire in stage order.
type Model interface {
	Blocks() []Block
	Forward(img *device.Tensor) error
}

// ErrWeightsNotImplemented signals that no concrete weight-loading
// strategy was wired in; it is a construction-time wiring defect, not
// a runtime data error.
var ErrWeightsNotImplemented = errors.New("pretrained weight loading not implemented: no loader strategy wired")

// WeightLoader loads pretrained weights into a model. Implementations
// are injected at extractor construction; the zero strategy fails.
type WeightLoader interface {
	Load(m Model) error
}

type unimplementedLoader struct{}

func (unimplementedLoader) Load(Model) error {
	return ErrWeightsNotImplemented
}

// UnimplementedLoader returns the default strategy that always fails
// with ErrWeightsNotImplemented.
func UnimplementedLoader() WeightLoader {
	return unimplementedLoader{}
}

// LoaderFunc adapts a function to the WeightLoader interface.
type LoaderFunc func(m Model) error

func (f LoaderFunc) Load(m Model) error {
	return f(m)
}
