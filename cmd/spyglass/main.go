package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/23skdu/longbow-spyglass/internal/config"
	"github.com/23skdu/longbow-spyglass/internal/device"
	"github.com/23skdu/longbow-spyglass/internal/export"
	"github.com/23skdu/longbow-spyglass/internal/extract"
	"github.com/23skdu/longbow-spyglass/internal/imageproc"
	"github.com/23skdu/longbow-spyglass/internal/logger"
	"github.com/23skdu/longbow-spyglass/internal/monitoring"
	"github.com/23skdu/longbow-spyglass/internal/vit"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config file")
	imagePath   = flag.String("image", "", "Path to input image (PNG or JPEG)")
	imagePathB  = flag.String("image-b", "", "Second image for cross-similarity")
	op          = flag.String("op", "selfsim", "Operation: tokens|class|queries|keys|values|attn|attnout|selfsim|crosssim")
	stage       = flag.Int("stage", 11, "Stage index to extract from")
	source      = flag.String("source", "keys", "Token source for similarity: tokens|queries|keys|values")
	avgHeads    = flag.Bool("average-heads", false, "Average attention weights across heads")
	outputFile  = flag.String("output", "spyglass_out.json", "Output JSON file")
	metricsAddr = flag.String("metrics", "", "Address to serve health and Prometheus metrics (empty disables)")
)

type result struct {
	Op    string    `json:"op"`
	Stage int       `json:"stage"`
	Dims  []int     `json:"dims"`
	Data  []float32 `json:"data"`
}

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log := logger.Log.Component("spyglass")

	if *imagePath == "" {
		fmt.Println("Error: --image flag is required")
		flag.Usage()
		os.Exit(1)
	}

	if *metricsAddr != "" {
		hm := monitoring.NewHealthMonitor()
		go func() {
			if err := hm.Start(*metricsAddr); err != nil {
				log.Warn("health monitor stopped", "error", err)
			}
		}()
	}

	params, err := cfg.Variant.Params()
	if err != nil {
		log.Fatal("invalid variant", "error", err)
	}

	// Without a checkpoint source wired in, the synthetic model stands
	// in behind the same instrumentation interface.
	model := vit.NewSynthetic(cfg.Layers, params.Dim, params.Heads, cfg.PatchSize)
	extractor, err := extract.New(cfg, model, nil)
	if err != nil {
		log.Fatal("failed to build extractor", "error", err)
	}

	img, err := loadTensor(*imagePath, cfg.PatchSize)
	if err != nil {
		log.Fatal("failed to load image", "path", *imagePath, "error", err)
	}
	log.Info("image loaded", "path", *imagePath, "dims", img.Dims())

	out, err := run(extractor, img, cfg)
	if err != nil {
		log.Fatal("extraction failed", "op", *op, "error", err)
	}

	if err := writeResult(*outputFile, out); err != nil {
		log.Fatal("failed to write output", "error", err)
	}
	log.Info("done", "op", *op, "stage", *stage, "dims", out.Dims(), "output", *outputFile)

	if cfg.Flight.Enabled && out.Rank() == 2 {
		if err := publish(cfg, out); err != nil {
			log.Error("flight export failed", "error", err)
		} else {
			log.Info("matrix exported", "host", cfg.Flight.DataHost, "port", cfg.Flight.DataPort)
		}
	}
}

func loadTensor(path string, patchSize int) (*device.Tensor, error) {
	img, err := imageproc.Load(path)
	if err != nil {
		return nil, err
	}
	return imageproc.Prepare(img, patchSize), nil
}

func run(e *extract.Extractor, img *device.Tensor, cfg config.Config) (*device.Tensor, error) {
	switch *op {
	case "tokens":
		return e.Tokens(img, *stage)
	case "class":
		return e.ClassToken(img, *stage)
	case "queries":
		return e.Queries(img, *stage)
	case "keys":
		return e.Keys(img, *stage)
	case "values":
		return e.Values(img, *stage)
	case "attn":
		return e.AttentionWeights(img, *stage, *avgHeads)
	case "attnout":
		return e.AttentionOutput(img, *stage)
	case "selfsim":
		return e.SelfSimilarity(img, *stage, extract.TokenSource(*source))
	case "crosssim":
		if *imagePathB == "" {
			return nil, fmt.Errorf("--image-b is required for crosssim")
		}
		imgB, err := loadTensor(*imagePathB, cfg.PatchSize)
		if err != nil {
			return nil, err
		}
		return e.CrossSimilarity(img, imgB, *stage, extract.TokenSource(*source))
	default:
		return nil, fmt.Errorf("unknown op %q", *op)
	}
}

func writeResult(path string, t *device.Tensor) error {
	data, err := json.MarshalIndent(result{
		Op:    *op,
		Stage: *stage,
		Dims:  t.Dims(),
		Data:  t.Data(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func publish(cfg config.Config, m *device.Tensor) error {
	ctx := context.Background()
	client := export.NewFlightClient(cfg.Flight.DataHost, cfg.Flight.DataPort)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	md := map[string]string{
		"op":      *op,
		"stage":   strconv.Itoa(*stage),
		"source":  *source,
		"variant": string(cfg.Variant),
	}
	return client.PublishMatrix(ctx, *op, m, md)
}
