package extract

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-spyglass/internal/config"
	"github.com/23skdu/longbow-spyglass/internal/device"
	"github.com/23skdu/longbow-spyglass/internal/logger"
	"github.com/23skdu/longbow-spyglass/internal/metrics"
	"github.com/23skdu/longbow-spyglass/internal/vit"
)

// TokenSource selects which representation feeds a similarity map.
type TokenSource string

const (
	SourceTokens  TokenSource = "tokens"
	SourceQueries TokenSource = "queries"
	SourceKeys    TokenSource = "keys"
	SourceValues  TokenSource = "values"
)

// Extractor is the single entry point for retrieving intermediate
// representations from an instrumented model. Every public operation
// runs exactly one forward pass (two for cross-similarity), reads the
// capture buffers, and leaves the extractor back in its default
// all-stages selection with no hooks attached.
//
// Not safe for concurrent use; drive one Extractor per goroutine or
// serialize calls externally.
type Extractor struct {
	model     vit.Model
	variant   config.Variant
	params    config.VariantParams
	patchSize int
	selection Selection
	log       *logger.Logger
}

// New builds an extractor over a model collaborator. The weight
// loader strategy is invoked once here when provided; passing
// vit.UnimplementedLoader() surfaces the missing-wiring error, passing
// nil skips pretrained loading entirely.
func New(cfg config.Config, m vit.Model, loader vit.WeightLoader) (*Extractor, error) {
	params, err := cfg.Variant.Params()
	if err != nil {
		return nil, err
	}
	if cfg.PatchSize <= 0 {
		return nil, fmt.Errorf("invalid patch_size: %d (must be positive)", cfg.PatchSize)
	}

	if loader != nil {
		if err := loader.Load(m); err != nil {
			return nil, fmt.Errorf("weight loading failed: %w", err)
		}
	}

	return &Extractor{
		model:     m,
		variant:   cfg.Variant,
		params:    params,
		patchSize: cfg.PatchSize,
		selection: make(Selection),
		log:       logger.Log.Component("extract"),
	}, nil
}

func (e *Extractor) Variant() config.Variant {
	return e.variant
}

func (e *Extractor) PatchSize() int {
	return e.patchSize
}

func (e *Extractor) NumStages() int {
	return len(e.model.Blocks())
}

// SelectStages restricts the next extraction to the given stages for
// one tap point. The restriction applies to a single call; every
// public operation resets the selection to all stages on return.
func (e *Extractor) SelectStages(point vit.TapPoint, stages ...int) {
	e.selection[point] = append([]int(nil), stages...)
}

// ResetSelection restores the default all-stages selection.
func (e *Extractor) ResetSelection() {
	e.selection = make(Selection)
}

// Tokens returns the block output at stage, shape (1, patches, dim).
func (e *Extractor) Tokens(img *device.Tensor, stage int) (*device.Tensor, error) {
	defer e.ResetSelection()
	start := time.Now()

	t, err := e.capture(img, vit.TapBlockOutput, stage, e.pointSelection(vit.TapBlockOutput))
	if err != nil {
		return nil, err
	}
	e.finish("tokens", img, start)
	return t, nil
}

// ClassToken returns the summary token at stage, shape (dim,).
func (e *Extractor) ClassToken(img *device.Tensor, stage int) (*device.Tensor, error) {
	defer e.ResetSelection()
	start := time.Now()

	t, err := e.capture(img, vit.TapBlockOutput, stage, e.pointSelection(vit.TapBlockOutput))
	if err != nil {
		return nil, err
	}
	dim := e.params.Dim
	if t.NumElements() < dim {
		return nil, &ShapeError{Op: "class token", Want: []int{1, -1, dim}, Got: t.Dims()}
	}
	cls := make([]float32, dim)
	copy(cls, t.Data()[:dim])
	out, err := device.New("class_token", []int{dim}, cls)
	if err != nil {
		return nil, err
	}
	e.finish("class_token", img, start)
	return out, nil
}

// Queries returns the decomposed query projection at stage, shape
// (heads, patches, head_dim).
func (e *Extractor) Queries(img *device.Tensor, stage int) (*device.Tensor, error) {
	return e.projection("queries", img, stage, 0)
}

// Keys returns the decomposed key projection at stage.
func (e *Extractor) Keys(img *device.Tensor, stage int) (*device.Tensor, error) {
	return e.projection("keys", img, stage, 1)
}

// Values returns the decomposed value projection at stage.
func (e *Extractor) Values(img *device.Tensor, stage int) (*device.Tensor, error) {
	return e.projection("values", img, stage, 2)
}

func (e *Extractor) projection(op string, img *device.Tensor, stage int, which int) (*device.Tensor, error) {
	defer e.ResetSelection()
	start := time.Now()

	q, k, v, err := e.decomposedQKV(img, stage, e.pointSelection(vit.TapRawQKV))
	if err != nil {
		return nil, err
	}
	e.finish(op, img, start)
	switch which {
	case 0:
		return q, nil
	case 1:
		return k, nil
	default:
		return v, nil
	}
}

// AttentionWeights returns the per-head attention map at stage, shape
// (heads, patches, patches). With averageHeads it returns the
// across-head mean, shape (patches, patches).
func (e *Extractor) AttentionWeights(img *device.Tensor, stage int, averageHeads bool) (*device.Tensor, error) {
	defer e.ResetSelection()
	start := time.Now()

	t, err := e.capture(img, vit.TapAttentionWeights, stage, e.pointSelection(vit.TapAttentionWeights))
	if err != nil {
		return nil, err
	}
	if !averageHeads {
		e.finish("attention_weights", img, start)
		return t, nil
	}

	dims := t.Dims()
	if len(dims) != 3 {
		return nil, &ShapeError{Op: "attention weights", Want: []int{e.params.Heads, -1, -1}, Got: dims}
	}
	heads, rows, cols := dims[0], dims[1], dims[2]
	mean := device.Zeros("attn_mean", rows, cols)
	src := t.Data()
	dst := mean.Data()
	for h := 0; h < heads; h++ {
		plane := src[h*rows*cols : (h+1)*rows*cols]
		for i, v := range plane {
			dst[i] += v
		}
	}
	inv := 1 / float32(heads)
	for i := range dst {
		dst[i] *= inv
	}
	e.finish("attention_weights_mean", img, start)
	return mean, nil
}

// AttentionOutput returns the attention sub-module output at stage,
// shape (patches, dim).
func (e *Extractor) AttentionOutput(img *device.Tensor, stage int) (*device.Tensor, error) {
	defer e.ResetSelection()
	start := time.Now()

	t, err := e.capture(img, vit.TapAttentionOutput, stage, e.pointSelection(vit.TapAttentionOutput))
	if err != nil {
		return nil, err
	}
	e.finish("attention_output", img, start)
	return t, nil
}

// SelfSimilarity returns the cosine-similarity matrix of the selected
// token source against itself, shape (patches, patches).
func (e *Extractor) SelfSimilarity(img *device.Tensor, stage int, source TokenSource) (*device.Tensor, error) {
	defer e.ResetSelection()
	start := time.Now()

	tm, err := e.tokenMatrix(img, stage, source, e.selectionFor(source))
	if err != nil {
		return nil, err
	}
	sim, err := SelfSimilarity(tm)
	if err != nil {
		return nil, err
	}
	e.finish("self_similarity", img, start)
	return sim, nil
}

// CrossSimilarity returns the cosine-similarity matrix between the
// token sets of two images at the same stage. The patch counts must
// match; the check runs before either forward pass.
func (e *Extractor) CrossSimilarity(srcImg, dstImg *device.Tensor, stage int, source TokenSource) (*device.Tensor, error) {
	defer e.ResetSelection()
	start := time.Now()

	srcPatches := PatchCount(srcImg.Dims(), e.patchSize)
	dstPatches := PatchCount(dstImg.Dims(), e.patchSize)
	if srcPatches != dstPatches {
		metrics.RecordShapeError("cross_similarity", "patch_count_mismatch")
		return nil, &ShapeMismatchError{SourcePatches: srcPatches, TargetPatches: dstPatches}
	}

	sel := e.selectionFor(source)
	a, err := e.tokenMatrix(srcImg, stage, source, sel)
	if err != nil {
		return nil, err
	}
	b, err := e.tokenMatrix(dstImg, stage, source, sel)
	if err != nil {
		return nil, err
	}
	sim, err := CrossSimilarity(a, b)
	if err != nil {
		return nil, err
	}
	e.finish("cross_similarity", srcImg, start)
	return sim, nil
}

// capture runs one instrumented forward pass and returns the tensor
// buffered for point at stage. The session is closed on every path.
func (e *Extractor) capture(img *device.Tensor, point vit.TapPoint, stage int, sel Selection) (*device.Tensor, error) {
	if stage < 0 || stage >= e.NumStages() {
		return nil, fmt.Errorf("stage %d out of range [0, %d)", stage, e.NumStages())
	}

	sess, err := newSession(e.model, sel)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.run(img); err != nil {
		return nil, err
	}
	t, err := sess.stage(point, sel, stage)
	if err != nil {
		return nil, err
	}

	stats := t.Stats(8)
	name := fmt.Sprintf("%s_stage%d", point, stage)
	metrics.RecordNumericalInstability(name, stats.NaNs, stats.Infs)
	e.log.Debug("captured tensor",
		"point", point.String(),
		"stage", stage,
		"dims", t.Dims(),
		"rms", stats.RMS,
		"nans", stats.NaNs)

	// The buffer entry is cleared with the session; hand back a copy.
	return t.Clone(), nil
}

func (e *Extractor) decomposedQKV(img *device.Tensor, stage int, sel Selection) (q, k, v *device.Tensor, err error) {
	combined, err := e.capture(img, vit.TapRawQKV, stage, sel)
	if err != nil {
		return nil, nil, nil, err
	}
	return SplitQKV(combined, img.Dims(), e.patchSize, e.params)
}

// tokenMatrix produces the (patches, channels) matrix for one token
// source, decomposing and collapsing heads where needed.
func (e *Extractor) tokenMatrix(img *device.Tensor, stage int, source TokenSource, sel Selection) (*device.Tensor, error) {
	switch source {
	case SourceTokens:
		t, err := e.capture(img, vit.TapBlockOutput, stage, sel)
		if err != nil {
			return nil, err
		}
		dims := t.Dims()
		if len(dims) != 3 || dims[0] != 1 {
			return nil, &ShapeError{Op: "token matrix", Want: []int{1, -1, e.params.Dim}, Got: dims}
		}
		return t.Reshape(dims[1], dims[2])
	case SourceQueries, SourceKeys, SourceValues:
		q, k, v, err := e.decomposedQKV(img, stage, sel)
		if err != nil {
			return nil, err
		}
		switch source {
		case SourceQueries:
			return CollapseHeads(q)
		case SourceKeys:
			return CollapseHeads(k)
		default:
			return CollapseHeads(v)
		}
	default:
		return nil, fmt.Errorf("unknown token source %q", source)
	}
}

// selectionFor maps a token source to the single-point selection its
// capture needs.
func (e *Extractor) selectionFor(source TokenSource) Selection {
	if source == SourceTokens {
		return e.pointSelection(vit.TapBlockOutput)
	}
	return e.pointSelection(vit.TapRawQKV)
}

func (e *Extractor) pointSelection(point vit.TapPoint) Selection {
	return Selection{point: e.selection[point]}
}

func (e *Extractor) finish(op string, img *device.Tensor, start time.Time) {
	metrics.RecordExtraction(op, time.Since(start))
	metrics.RecordPatchCount(PatchCount(img.Dims(), e.patchSize))
	e.log.Debug("extraction complete", "op", op, "duration", time.Since(start))
}
