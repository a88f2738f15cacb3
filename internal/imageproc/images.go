// Package imageproc prepares input images for the extractor: alpha
// compositing, resizing to the patch grid, and normalization into a
// (1, 3, height, width) float32 tensor.
package imageproc

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/23skdu/longbow-spyglass/internal/device"
)

var (
	ImageNetDefaultMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetDefaultSTD  = [3]float32{0.229, 0.224, 0.225}
)

// Load decodes an image file (PNG or JPEG).
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Composite returns an image with the alpha channel removed by drawing
// over a white background.
func Composite(img image.Image) image.Image {
	dst := image.NewRGBA(img.Bounds())
	white := color.RGBA{255, 255, 255, 255}
	draw.Draw(dst, dst.Bounds(), &image.Uniform{white}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Over)
	return dst
}

// Resize scales an image to a new size with bilinear interpolation.
func Resize(img image.Image, newSize image.Point) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, newSize.X, newSize.Y))
	draw.BiLinear.Scale(dst, dst.Rect, img, img.Bounds(), draw.Over, nil)
	return dst
}

// FitToPatchGrid shrinks each side to the nearest lower multiple of
// patchSize so the patch embedding sees no truncated border. Images
// smaller than one patch per side are scaled up to a single patch.
func FitToPatchGrid(img image.Image, patchSize int) image.Image {
	w := img.Bounds().Dx() / patchSize * patchSize
	h := img.Bounds().Dy() / patchSize * patchSize
	if w < patchSize {
		w = patchSize
	}
	if h < patchSize {
		h = patchSize
	}
	if w == img.Bounds().Dx() && h == img.Bounds().Dy() {
		return img
	}
	return Resize(img, image.Point{w, h})
}

// ToTensor normalizes an image into a (1, 3, height, width) tensor in
// channel-first order, rescaled to [0, 1] then standardized per
// channel.
func ToTensor(img image.Image, mean, std [3]float32) *device.Tensor {
	bounds := img.Bounds()
	h := bounds.Dy()
	w := bounds.Dx()

	t := device.Zeros("image", 1, 3, h, w)
	data := t.Data()
	plane := h * w

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			data[i] = (float32(r>>8)/255.0 - mean[0]) / std[0]
			data[plane+i] = (float32(g>>8)/255.0 - mean[1]) / std[1]
			data[2*plane+i] = (float32(b>>8)/255.0 - mean[2]) / std[2]
			i++
		}
	}
	return t
}

// Prepare is the full pipeline: composite, fit to the patch grid, and
// normalize with ImageNet statistics.
func Prepare(img image.Image, patchSize int) *device.Tensor {
	fitted := FitToPatchGrid(Composite(img), patchSize)
	return ToTensor(fitted, ImageNetDefaultMean, ImageNetDefaultSTD)
}
