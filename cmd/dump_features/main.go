package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/23skdu/longbow-spyglass/internal/config"
	"github.com/23skdu/longbow-spyglass/internal/extract"
	"github.com/23skdu/longbow-spyglass/internal/imageproc"
	"github.com/23skdu/longbow-spyglass/internal/vit"
)

// Dumps per-stage block-output statistics for one image, for eyeballing
// collapsed or saturated stages.
func main() {
	imagePath := flag.String("image", "", "Path to input image")
	variant := flag.String("variant", "base", "Model variant (tiny, small, base)")
	patchSize := flag.Int("patch", 16, "Patch size")
	layers := flag.Int("layers", 12, "Number of stages")
	flag.Parse()

	if *imagePath == "" {
		log.Fatal("--image required")
	}

	cfg := config.Default()
	cfg.Variant = config.Variant(*variant)
	cfg.PatchSize = *patchSize
	cfg.Layers = *layers
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	params, err := cfg.Variant.Params()
	if err != nil {
		log.Fatalf("Invalid variant: %v", err)
	}

	model := vit.NewSynthetic(cfg.Layers, params.Dim, params.Heads, cfg.PatchSize)
	e, err := extract.New(cfg, model, nil)
	if err != nil {
		log.Fatalf("Failed to build extractor: %v", err)
	}

	img, err := imageproc.Load(*imagePath)
	if err != nil {
		log.Fatalf("Failed to load image: %v", err)
	}
	tensor := imageproc.Prepare(img, cfg.PatchSize)

	fmt.Printf("Image: %s -> dims %v, %d tokens\n", *imagePath,
		tensor.Dims(), extract.PatchCount(tensor.Dims(), cfg.PatchSize))
	fmt.Printf("%-6s %-12s %-12s %-12s %-8s %-6s\n", "stage", "max", "mean", "rms", "zeros", "nans")

	for stage := 0; stage < cfg.Layers; stage++ {
		tokens, err := e.Tokens(tensor, stage)
		if err != nil {
			log.Fatalf("Stage %d failed: %v", stage, err)
		}
		stats := tokens.Stats(8)
		fmt.Printf("%-6d %-12.4f %-12.4f %-12.4f %-8d %-6d\n",
			stage, stats.Max, stats.Mean, stats.RMS, stats.Zeros, stats.NaNs)
		if stats.NaNs > 0 || stats.Infs > 0 {
			fmt.Fprintf(os.Stderr, "WARNING: stage %d has %d NaNs, %d Infs\n", stage, stats.NaNs, stats.Infs)
		}
	}
}
