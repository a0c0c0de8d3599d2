package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/thyrook/shogisolver/internal/config"
	"github.com/thyrook/shogisolver/internal/iface"
	"github.com/thyrook/shogisolver/internal/notation"
	"github.com/thyrook/shogisolver/internal/shogi"
	"github.com/thyrook/shogisolver/internal/solver"
	"github.com/thyrook/shogisolver/internal/storage"
	"github.com/thyrook/shogisolver/internal/usi"
	"github.com/thyrook/shogisolver/internal/vision"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	imagePath := flag.String("image", "", "Board image, or a directory of images, to solve")
	videoPath := flag.String("video", "", "Recorded video to watch for positions")
	liveMode := flag.Bool("live", false, "Watch the configured screen region")
	enginePath := flag.String("engine", "", "USI mate engine (default: $SHOGI_ENGINE, then config)")
	dbPath := flag.String("db", "", "Result cache database (default: from config, \"-\" disables)")
	outDir := flag.String("out", "", "Directory for trimmed images, .csa and .kif files (default: from config, \"-\" disables)")
	hintMs := flag.Int("hint", -1, "Next-move search in ms for positions without mate (default: from config, 0 disables)")
	gote := flag.Bool("gote", false, "Gote to move")
	initConfig := flag.Bool("init-config", false, "Write the effective configuration to -config and exit")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	cfg := loadConfig(*configPath)
	cfg.Storage.DBPath = overridePath(cfg.Storage.DBPath, *dbPath)
	cfg.Interface.OutputDir = overridePath(cfg.Interface.OutputDir, *outDir)
	if *hintMs >= 0 {
		cfg.Engine.HintTimeMs = *hintMs
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *initConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", *configPath)
		return
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	level := cfg.Interface.LogLevel
	if *verbose {
		level = "debug"
	}

	logger, err := iface.NewLogger(cfg.Interface.LogPath, level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	cli := iface.NewCLI(os.Stdout, false)
	cli.PrintBanner(cfg.AppName)

	if *imagePath == "" && *videoPath == "" && !*liveMode {
		fmt.Println("Usage: specify one of the following modes:")
		fmt.Println("  -image <path>  : solve a board image or every image in a directory")
		fmt.Println("  -video <path>  : solve each new position of a recorded video")
		fmt.Println("  -live          : solve each new position shown on screen")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	assembler, err := vision.NewAssemblerFromConfig(cfg.Vision, logger.Named("vision"))
	if err != nil {
		logger.GetZapLogger().Fatal("Failed to load reference atlases", zap.Error(err))
	}
	defer assembler.Close()
	if *gote {
		assembler.SetSideToMove(shogi.Gote)
	}

	session, err := startEngine(ctx, cfg, *enginePath, logger.Named("usi"))
	if err != nil {
		logger.GetZapLogger().Fatal("Failed to start engine", zap.Error(err))
	}
	defer session.Close()

	var store *storage.ResultStore
	if cfg.Storage.DBPath != "" {
		store, err = storage.Open(cfg.Storage.DBPath)
		if err != nil {
			logger.GetZapLogger().Fatal("Failed to open result cache", zap.Error(err))
		}
		defer store.Close()
	}

	s, err := solver.New(assembler, session, store, logger.Named("solver"))
	if err != nil {
		logger.GetZapLogger().Fatal("Failed to create solver", zap.Error(err))
	}
	s.SetMateTimeout(cfg.Engine.MateTimeout())
	s.SetHintTime(cfg.Engine.HintTime())

	switch {
	case *imagePath != "":
		err = solveImages(ctx, s, cli, *imagePath, cfg.Interface.OutputDir)
	default:
		err = watch(ctx, s, cli, cfg.Vision, assembler, *videoPath, cfg.Interface.OutputDir, logger.Named("pipeline"))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		cli.PrintError(err)
	}

	cli.PrintSolverStats(s.GetStats())
}

func loadConfig(path string) *config.Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("Config file not found, using defaults: %s", path)
		return config.DefaultConfig()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// overridePath applies a path flag: empty keeps the configured value and "-"
// disables the feature
func overridePath(configured, flagValue string) string {
	switch flagValue {
	case "-":
		return ""
	case "":
		return configured
	default:
		return flagValue
	}
}

func startEngine(ctx context.Context, cfg *config.Config, explicit string, logger *zap.Logger) (*usi.Session, error) {
	path := cfg.EnginePath(explicit)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	session, err := usi.StartSession(ctx, logger, path, cfg.Engine.Args...)
	if err != nil {
		return nil, err
	}
	if err := session.Handshake(ctx, cfg.Engine.Options); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

func solveImages(ctx context.Context, s *solver.Solver, cli *iface.CLI, path string, outDir string) error {
	paths := []string{path}
	if info, err := os.Stat(path); err != nil {
		return err
	} else if info.IsDir() {
		src, err := vision.NewImageDirSource(path)
		if err != nil {
			return err
		}
		paths = src.Paths()
	}

	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := vision.LoadImage(p)
		if err != nil {
			cli.PrintError(err)
			continue
		}

		res, err := s.SolveImage(ctx, img)
		if err != nil {
			return err
		}
		cli.PrintResult(p, res)
		cli.PrintRecord(res.Record)

		if outDir != "" {
			if err := writeOutputs(outDir, p, res); err != nil {
				cli.PrintError(err)
			}
		}
		cli.PrintProgressBar(i+1, len(paths), "images")
	}
	return nil
}

func watch(ctx context.Context, s *solver.Solver, cli *iface.CLI, cfg *vision.Config, assembler *vision.Assembler, videoPath, outDir string, logger *zap.Logger) error {
	var source vision.FrameSource
	var video *vision.VideoSource
	if videoPath != "" {
		info, err := vision.GetVideoInfo(videoPath)
		if err != nil {
			return err
		}
		cli.PrintStatus(fmt.Sprintf("Video: %s", info), "info")

		video, err = vision.NewVideoSource(videoPath, 1)
		if err != nil {
			return err
		}
		source = video
	} else {
		capturer := vision.NewCapturer(cfg.CaptureRegion.ToRectangle(), cfg.DiffThreshold)
		err := capturer.ValidateCapture()
		capturer.Close()
		if err != nil {
			return err
		}
		cli.PrintStatus(fmt.Sprintf("Capturing screen region %v", capturer.Region()), "info")
	}

	events := make(chan vision.RecordEvent, 10)
	pipeline, err := vision.NewPipeline(cfg, assembler, source, events, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if err := pipeline.Start(); err != nil {
		return err
	}
	cli.PrintStatus("Watching for positions, Ctrl+C to stop", "info")

	// close events once the pipeline finishes so Watch returns
	go func() {
		<-pipeline.Done()
		close(events)
	}()

	results := make(chan *solver.Result, 10)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- s.Watch(ctx, events, results)
		close(results)
	}()

	n := 0
	for res := range results {
		n++
		name := fmt.Sprintf("position-%03d", n)
		cli.PrintResult(name, res)
		cli.PrintRecord(res.Record)
		if outDir != "" {
			if err := writeOutputs(outDir, name, res); err != nil {
				cli.PrintError(err)
			}
		}
	}
	cli.PrintPipelineStats(pipeline.GetStats())
	if video != nil {
		cli.PrintStatus(fmt.Sprintf("Video progress: %.0f%%", video.Progress()*100), "info")
	}
	return <-watchErr
}

// writeOutputs saves result_<name>.png/.csa/.kif/.txt into an existing
// outDir; the KIF file is Shift_JIS encoded
func writeOutputs(outDir, name string, res *solver.Result) error {
	base := filepath.Join(outDir, "result_"+strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))

	if res.Trimmed != nil {
		f, err := os.Create(base + ".png")
		if err != nil {
			return err
		}
		if err := png.Encode(f, res.Trimmed); err != nil {
			f.Close()
			return fmt.Errorf("failed to write trimmed image: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	if res.Record == nil {
		return nil
	}
	if err := os.WriteFile(base+".csa", []byte(res.CSA), 0644); err != nil {
		return err
	}

	kif, err := notation.KIF(res.Record, res.Moves)
	if err != nil {
		return err
	}
	encoded, err := notation.EncodeShiftJIS(kif)
	if err != nil {
		return err
	}
	if err := os.WriteFile(base+".kif", encoded, 0644); err != nil {
		return err
	}

	summary := fmt.Sprintf("image=%s, result=%s\nsfen=%s\ncsa:\n%s", name, res.Status, res.SFEN, res.CSA)
	if res.HintKIF != "" {
		summary += fmt.Sprintf("next=%s (%s)\n", res.HintKIF, res.HintScore)
	}
	return os.WriteFile(base+".txt", []byte(summary), 0644)
}
