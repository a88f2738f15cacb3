package vit

import (
	"math"
	"testing"

	"github.com/23skdu/longbow-spyglass/internal/device"
)

func testImage(h, w int, fill float32) *device.Tensor {
	img := device.Zeros("img", 1, 3, h, w)
	data := img.Data()
	for i := range data {
		data[i] = fill + float32(i%7)*0.1
	}
	return img
}

func TestSyntheticShapes(t *testing.T) {
	const (
		layers    = 4
		dim       = 192
		heads     = 3
		patchSize = 16
	)
	m := NewSynthetic(layers, dim, heads, patchSize)
	if len(m.Blocks()) != layers {
		t.Fatalf("expected %d blocks, got %d", layers, len(m.Blocks()))
	}

	captured := make(map[TapPoint][]*device.Tensor)
	for _, b := range m.Blocks() {
		for _, point := range TapPoints {
			point := point
			b.Hook(point, func(tn *device.Tensor) {
				captured[point] = append(captured[point], tn.Clone())
			})
		}
	}

	img := testImage(32, 48, 0.5)
	if err := m.Forward(img); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	patches := 1 + (32/patchSize)*(48/patchSize)
	wantDims := map[TapPoint][]int{
		TapBlockOutput:      {1, patches, dim},
		TapAttentionWeights: {heads, patches, patches},
		TapRawQKV:           {patches, 3 * dim},
		TapAttentionOutput:  {patches, dim},
	}

	for point, want := range wantDims {
		got := captured[point]
		if len(got) != layers {
			t.Errorf("%s: expected %d tensors, got %d", point, layers, len(got))
			continue
		}
		for i, tn := range got {
			dims := tn.Dims()
			if len(dims) != len(want) {
				t.Errorf("%s stage %d: dims %v, want %v", point, i, dims, want)
				continue
			}
			for j := range want {
				if dims[j] != want[j] {
					t.Errorf("%s stage %d: dims %v, want %v", point, i, dims, want)
					break
				}
			}
		}
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	run := func() []float32 {
		m := NewSynthetic(2, 192, 3, 16)
		var out []float32
		m.Blocks()[1].Hook(TapRawQKV, func(tn *device.Tensor) {
			out = append([]float32(nil), tn.Data()...)
		})
		if err := m.Forward(testImage(32, 32, 1.0)); err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		return out
	}

	a := run()
	b := run()
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("unexpected capture lengths: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("emission differs at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestSyntheticDependsOnImage(t *testing.T) {
	m := NewSynthetic(1, 192, 3, 16)
	var outs [][]float32
	m.Blocks()[0].Hook(TapBlockOutput, func(tn *device.Tensor) {
		outs = append(outs, append([]float32(nil), tn.Data()...))
	})

	if err := m.Forward(testImage(32, 32, 0.0)); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if err := m.Forward(testImage(32, 32, 5.0)); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	same := true
	for i := range outs[0] {
		if outs[0][i] != outs[1][i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different images produced identical emissions")
	}
}

func TestSyntheticAttentionRowsSumToOne(t *testing.T) {
	const (
		heads     = 3
		patchSize = 16
	)
	m := NewSynthetic(1, 192, heads, patchSize)
	var attn *device.Tensor
	m.Blocks()[0].Hook(TapAttentionWeights, func(tn *device.Tensor) {
		attn = tn.Clone()
	})
	if err := m.Forward(testImage(32, 32, 0.25)); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	patches := attn.Dim(1)
	for h := 0; h < heads; h++ {
		for i := 0; i < patches; i++ {
			var sum float64
			for j := 0; j < patches; j++ {
				sum += float64(attn.At(h, i, j))
			}
			if math.Abs(sum-1.0) > 1e-4 {
				t.Fatalf("head %d row %d sums to %v, want 1.0", h, i, sum)
			}
		}
	}
}

func TestSyntheticRejectsBadRank(t *testing.T) {
	m := NewSynthetic(1, 192, 3, 16)
	if err := m.Forward(device.Zeros("img", 3, 32, 32)); err == nil {
		t.Error("expected error for rank-3 input")
	}
}

func TestUnimplementedLoader(t *testing.T) {
	err := UnimplementedLoader().Load(NewSynthetic(1, 192, 3, 16))
	if err != ErrWeightsNotImplemented {
		t.Errorf("expected ErrWeightsNotImplemented, got %v", err)
	}
}

func TestLoaderFunc(t *testing.T) {
	called := false
	loader := LoaderFunc(func(m Model) error {
		called = true
		return nil
	})
	if err := loader.Load(NewSynthetic(1, 192, 3, 16)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !called {
		t.Error("expected loader func to be invoked")
	}
}
