package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"github.com/thyrook/shogisolver/internal/config"
	"github.com/thyrook/shogisolver/internal/iface"
	"github.com/thyrook/shogisolver/internal/shogi"
	"github.com/thyrook/shogisolver/internal/vision"
)

// sample-collector crops every cell and tray slot of the input images and
// files each crop under a directory named after its classification, so
// reference atlases can be curated by hand.
func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	visionPath := flag.String("vision", "", "Vision settings file overriding the config's vision section")
	inputDir := flag.String("input", "testin", "Directory of board images")
	outputDir := flag.String("output", "testout", "Directory for sorted crops")
	goteAtlas := flag.String("gote-hand-atlas", "", "Hand atlas for gote's tray (skipped when empty)")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	cfg := config.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	if *visionPath != "" {
		vc, err := vision.LoadConfig(*visionPath)
		if err != nil {
			log.Fatalf("Failed to load vision settings: %v", err)
		}
		cfg.Vision = vc
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger, err := iface.NewLogger("", level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	pieces, err := vision.NewPieceClassifier(cfg.Vision.PieceAtlasDir, cfg.Vision.PieceSize, logger.Named("pieces"))
	if err != nil {
		log.Fatalf("Failed to load piece atlas: %v", err)
	}
	defer pieces.Close()

	trays := map[shogi.Side]*vision.HandClassifier{}
	sente, err := vision.NewHandClassifier(cfg.Vision.HandAtlasDir, cfg.Vision.HandSize, cfg.Vision.DigitFloor, logger.Named("hands"))
	if err != nil {
		log.Fatalf("Failed to load hand atlas: %v", err)
	}
	defer sente.Close()
	trays[shogi.Sente] = sente

	if *goteAtlas != "" {
		gote, err := vision.NewHandClassifier(*goteAtlas, cfg.Vision.HandSize, cfg.Vision.DigitFloor, logger.Named("hands"))
		if err != nil {
			log.Fatalf("Failed to load gote hand atlas: %v", err)
		}
		defer gote.Close()
		trays[shogi.Gote] = gote
	}

	src, err := vision.NewImageDirSource(*inputDir)
	if err != nil {
		log.Fatalf("Failed to list images: %v", err)
	}

	cli := iface.NewCLI(os.Stdout, false)
	counts := map[string]int{}
	paths := src.Paths()
	for i, path := range paths {
		if err := collect(path, *outputDir, cfg.Vision.Thresholds, pieces, trays, counts); err != nil {
			cli.PrintStatus(fmt.Sprintf("%s: %v", path, err), "warning")
		}
		cli.PrintProgressBar(i+1, len(paths), "images")
	}
	cli.PrintCounts("directory", counts)

	// keep the settings that produced this sorting next to the crops
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := cfg.Vision.SaveConfig(filepath.Join(*outputDir, "vision.json")); err != nil {
		log.Fatalf("Failed to save vision settings: %v", err)
	}
}

func collect(path, outputDir string, th vision.Thresholds, pieces *vision.PieceClassifier, trays map[shogi.Side]*vision.HandClassifier, counts map[string]int) error {
	img, err := vision.LoadImage(path)
	if err != nil {
		return err
	}
	gray := vision.ToGray(img)
	geom, err := vision.LocateBoard(gray, th)
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	for row := 0; row < shogi.BoardSize; row++ {
		for col := 0; col < shogi.BoardSize; col++ {
			crop := vision.CropGray(gray, geom.CellBox(row, col))
			if crop == nil {
				continue
			}
			dir := "bankoma" + pieceDirName(pieces.Classify(crop))
			name := fmt.Sprintf("%s%d%d.png", base, row, col)
			if err := save(filepath.Join(outputDir, dir), name, crop); err != nil {
				return err
			}
			counts[dir]++
		}
	}

	for side, hc := range trays {
		prefix, tag := "mochigoma_sente", "sm"
		if side == shogi.Gote {
			prefix, tag = "mochigoma", "gm"
		}
		for slot := 0; slot < shogi.NumHandKinds; slot++ {
			crop := vision.CropGray(gray, geom.TrayBox(side, slot))
			if crop == nil {
				continue
			}
			_, count := hc.Classify(slot, crop)
			dir := filepath.Join(fmt.Sprintf("%s%d", prefix, slot), fmt.Sprintf("%d", count))
			name := fmt.Sprintf("%s%s%d.png", base, tag, slot)
			if err := save(filepath.Join(outputDir, dir), name, crop); err != nil {
				return err
			}
			counts[dir]++
		}
	}
	return nil
}

// pieceDirName is the CSA token with "+" spelled "P"; empty cells are "ban"
func pieceDirName(p shogi.Piece) string {
	if p.IsEmpty() {
		return "ban"
	}
	return strings.Replace(p.CSA(), "+", "P", 1)
}

func save(dir, name string, crop *image.Gray) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	mat, err := gocv.ImageGrayToMatGray(crop)
	if err != nil {
		return err
	}
	defer mat.Close()
	if !gocv.IMWrite(filepath.Join(dir, name), mat) {
		return fmt.Errorf("failed to write %s", name)
	}
	return nil
}
