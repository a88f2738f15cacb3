package imageproc

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestFitToPatchGrid(t *testing.T) {
	tests := []struct {
		name      string
		w, h      int
		patchSize int
		wantW     int
		wantH     int
	}{
		{"already aligned", 224, 224, 16, 224, 224},
		{"truncates down", 230, 225, 16, 224, 224},
		{"small image scales up", 10, 10, 16, 16, 16},
		{"rectangular", 100, 64, 16, 96, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solidImage(tt.w, tt.h, color.RGBA{128, 128, 128, 255})
			fitted := FitToPatchGrid(img, tt.patchSize)
			if fitted.Bounds().Dx() != tt.wantW || fitted.Bounds().Dy() != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d",
					fitted.Bounds().Dx(), fitted.Bounds().Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestToTensorShapeAndValues(t *testing.T) {
	img := solidImage(32, 16, color.RGBA{255, 0, 0, 255})
	tensor := ToTensor(img, [3]float32{0.5, 0.5, 0.5}, [3]float32{0.5, 0.5, 0.5})

	dims := tensor.Dims()
	want := []int{1, 3, 16, 32}
	for i := range want {
		if dims[i] != want[i] {
			t.Fatalf("dims %v, want %v", dims, want)
		}
	}

	// Red channel: (1.0 - 0.5) / 0.5 = 1.0; green/blue: (0 - 0.5) / 0.5 = -1.0
	if got := tensor.At(0, 0, 0, 0); math.Abs(float64(got)-1.0) > 1e-5 {
		t.Errorf("red value %v, want 1.0", got)
	}
	if got := tensor.At(0, 1, 0, 0); math.Abs(float64(got)+1.0) > 1e-5 {
		t.Errorf("green value %v, want -1.0", got)
	}
	if got := tensor.At(0, 2, 8, 20); math.Abs(float64(got)+1.0) > 1e-5 {
		t.Errorf("blue value %v, want -1.0", got)
	}
}

func TestCompositeRemovesAlpha(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	// Fully transparent pixels composite to white.
	flat := Composite(img)
	r, g, b, _ := flat.At(0, 0).RGBA()
	if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Errorf("expected white background, got (%d, %d, %d)", r>>8, g>>8, b>>8)
	}
}

func TestResize(t *testing.T) {
	img := solidImage(64, 64, color.RGBA{10, 20, 30, 255})
	small := Resize(img, image.Point{32, 16})
	if small.Bounds().Dx() != 32 || small.Bounds().Dy() != 16 {
		t.Errorf("got %dx%d, want 32x16", small.Bounds().Dx(), small.Bounds().Dy())
	}
}

func TestPrepareProducesPatchAlignedTensor(t *testing.T) {
	img := solidImage(100, 70, color.RGBA{50, 100, 150, 255})
	tensor := Prepare(img, 16)
	dims := tensor.Dims()
	if dims[2]%16 != 0 || dims[3]%16 != 0 {
		t.Errorf("tensor sides %dx%d not patch aligned", dims[2], dims[3])
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.png")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	if err := png.Encode(f, solidImage(8, 8, color.RGBA{1, 2, 3, 255})); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	f.Close()

	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/image.png"); err == nil {
		t.Error("expected error for missing file")
	}
}
