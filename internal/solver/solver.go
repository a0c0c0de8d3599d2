// Package solver turns board images into mate solutions: it recognizes the
// position, encodes it and asks a USI engine for a mating line.
package solver

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/thyrook/shogisolver/internal/notation"
	"github.com/thyrook/shogisolver/internal/shogi"
	"github.com/thyrook/shogisolver/internal/storage"
	"github.com/thyrook/shogisolver/internal/usi"
	"github.com/thyrook/shogisolver/internal/vision"
)

// DefaultMateTimeout bounds each mate search
const DefaultMateTimeout = 5 * time.Second

// Status is the outcome class of one solve
type Status string

const (
	StatusImageNG Status = "image_ng" // no board found in the image
	StatusParseNG Status = "parse_ng" // recognized position is not a valid record
	StatusSolveNG Status = "solve_ng" // engine gave no usable answer
	StatusNoMate  Status = "nomate"
	StatusSolved  Status = "solved"
)

// Recognizer extracts a position record from a gray board image
type Recognizer interface {
	AssembleGray(gray *image.Gray) (*shogi.Record, *vision.BoardGeometry, error)
}

// MateEngine runs a bounded mate search
type MateEngine interface {
	Mate(ctx context.Context, sfen string, timeout time.Duration) (usi.MateResult, error)
}

// MoveEngine suggests a move. Engines that implement it give a next-move
// hint for positions without a mate.
type MoveEngine interface {
	BestMove(ctx context.Context, sfen string, moveTime time.Duration) (usi.BestMoveResult, error)
}

// Result is the full outcome of solving one image
type Result struct {
	Status   Status
	Record   *shogi.Record
	Geometry *vision.BoardGeometry
	SFEN     string
	CSA      string
	KIF      string   // Japanese move text of the mating line
	Moves    []string // mating line in USI notation
	Trimmed  image.Image
	Digest   string
	Cached   bool
	Elapsed  time.Duration

	// next move suggested when there is no mate
	Hint      string
	HintKIF   string
	HintScore usi.Score
}

// Stats summarizes the solver's work so far
type Stats struct {
	Images       int
	Cached       int
	ByStatus     map[Status]int
	AvgSolveMs   float64
	MaxSolveMs   float64
	EngineErrors int
}

// Solver ties recognition, notation and the engine together
type Solver struct {
	recognizer  Recognizer
	engine      MateEngine
	store       *storage.ResultStore
	mateTimeout time.Duration
	hintTime    time.Duration
	logger      *zap.Logger

	mu           sync.Mutex
	images       int
	cached       int
	byStatus     map[Status]int
	solveMs      []float64
	engineErrors int
}

// New creates a solver. store may be nil to disable result caching.
func New(recognizer Recognizer, engine MateEngine, store *storage.ResultStore, logger *zap.Logger) (*Solver, error) {
	if recognizer == nil {
		return nil, errors.New("solver needs a recognizer")
	}
	if engine == nil {
		return nil, errors.New("solver needs a mate engine")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{
		recognizer:  recognizer,
		engine:      engine,
		store:       store,
		mateTimeout: DefaultMateTimeout,
		logger:      logger,
		byStatus:    make(map[Status]int),
	}, nil
}

// SetMateTimeout changes the mate search limit; zero means unbounded
func (s *Solver) SetMateTimeout(d time.Duration) {
	s.mateTimeout = d
}

// SetHintTime enables a next-move search of d for positions without a mate;
// zero disables it
func (s *Solver) SetHintTime(d time.Duration) {
	s.hintTime = d
}

// SolveImage recognizes img and solves the position. Only context
// cancellation and recognizer failures other than vision.ErrNotBoard and
// vision.ErrOverSupply are returned as errors; every other outcome is a
// Status.
func (s *Solver) SolveImage(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil {
		return nil, errors.New("no image")
	}
	start := time.Now()
	gray := vision.ToGray(img)
	result := &Result{Digest: storage.Digest(gray)}

	record, geom, err := s.recognizer.AssembleGray(gray)
	if geom != nil {
		result.Geometry = geom
		result.Trimmed = vision.CropImage(img, geom.TrimmedBox().Add(img.Bounds().Min))
	}
	switch {
	case errors.Is(err, vision.ErrNotBoard):
		s.logger.Warn("Image rejected", zap.String("digest", result.Digest[:12]), zap.Error(err))
		result.Status = StatusImageNG
		return s.finish(result, gray.Bounds(), start), nil
	case errors.Is(err, vision.ErrOverSupply):
		s.logger.Warn("Position rejected", zap.String("digest", result.Digest[:12]), zap.Error(err))
		result.Status = StatusParseNG
		return s.finish(result, gray.Bounds(), start), nil
	case err != nil:
		return nil, fmt.Errorf("failed to recognize board: %w", err)
	}
	result.Record = record

	if err := s.solve(ctx, result); err != nil {
		return nil, err
	}
	return s.finish(result, gray.Bounds(), start), nil
}

// SolveRecord solves an already recognized position
func (s *Solver) SolveRecord(ctx context.Context, record *shogi.Record) (*Result, error) {
	if record == nil {
		return nil, errors.New("no record")
	}
	start := time.Now()
	result := &Result{Record: record}
	if err := s.solve(ctx, result); err != nil {
		return nil, err
	}
	return s.finish(result, image.Rectangle{}, start), nil
}

func (s *Solver) solve(ctx context.Context, result *Result) error {
	if err := s.encode(result); err != nil {
		s.logger.Warn("Position rejected", zap.Error(err))
		result.Status = StatusParseNG
		return nil
	}

	if result.Digest == "" || !s.fromCache(result) {
		if err := s.search(ctx, result); err != nil {
			return err
		}
	}
	if result.Status == StatusNoMate {
		return s.suggest(ctx, result)
	}
	return nil
}

// search asks the engine for a mating line
func (s *Solver) search(ctx context.Context, result *Result) error {
	searchStart := time.Now()
	mate, err := s.engine.Mate(ctx, result.SFEN, s.mateTimeout)
	searchMs := float64(time.Since(searchStart).Microseconds()) / 1000.0
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.mu.Lock()
		s.engineErrors++
		s.mu.Unlock()
		s.logger.Error("Mate search failed", zap.String("sfen", result.SFEN), zap.Error(err))
		result.Status = StatusSolveNG
		return nil
	}

	s.mu.Lock()
	s.solveMs = append(s.solveMs, searchMs)
	s.mu.Unlock()

	s.applyMate(result, mate)
	return nil
}

// suggest fills the hint fields when the engine can search for a move
func (s *Solver) suggest(ctx context.Context, result *Result) error {
	mover, ok := s.engine.(MoveEngine)
	if !ok || s.hintTime <= 0 {
		return nil
	}
	best, err := mover.BestMove(ctx, result.SFEN, s.hintTime)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("Next move search failed", zap.String("sfen", result.SFEN), zap.Error(err))
		return nil
	}
	if best.Move == "resign" || best.Move == "win" {
		return nil
	}
	kif, err := notation.Transcribe(result.SFEN, []string{best.Move})
	if err != nil {
		s.logger.Warn("Suggested move does not apply", zap.String("move", best.Move), zap.Error(err))
		return nil
	}
	result.Hint = best.Move
	result.HintKIF = kif
	result.HintScore = best.Score
	return nil
}

// encode renders the record and checks that it reads back
func (s *Solver) encode(result *Result) error {
	if err := result.Record.Validate(); err != nil {
		return err
	}
	result.CSA = notation.CSA(result.Record)
	if _, err := notation.ParseCSA(result.CSA); err != nil {
		return fmt.Errorf("csa does not parse: %w", err)
	}
	result.SFEN = notation.SFEN(result.Record, 1)
	if _, err := notation.ParseSFEN(result.SFEN); err != nil {
		return fmt.Errorf("sfen does not parse: %w", err)
	}
	return nil
}

func (s *Solver) applyMate(result *Result, mate usi.MateResult) {
	switch mate.Status {
	case usi.MateFound:
		kif, err := notation.Transcribe(result.SFEN, mate.Moves)
		if err != nil {
			s.logger.Warn("Mating line does not apply", zap.Strings("moves", mate.Moves), zap.Error(err))
			result.Status = StatusSolveNG
			return
		}
		result.Status = StatusSolved
		result.Moves = mate.Moves
		result.KIF = kif
	case usi.MateNone:
		result.Status = StatusNoMate
	default:
		s.logger.Warn("Mate search gave no answer", zap.String("status", string(mate.Status)))
		result.Status = StatusSolveNG
	}
}

// fromCache fills result from a stored answer for the same image and
// position. Only definite answers are reused.
func (s *Solver) fromCache(result *Result) bool {
	if s.store == nil {
		return false
	}
	entry, found, err := s.store.Get(result.Digest)
	if err != nil {
		s.logger.Warn("Result cache read failed", zap.Error(err))
		return false
	}
	if !found || entry.SFEN != result.SFEN {
		return false
	}

	switch Status(entry.Status) {
	case StatusSolved:
		s.applyMate(result, usi.MateResult{Status: usi.MateFound, Moves: entry.Moves})
	case StatusNoMate:
		result.Status = StatusNoMate
	default:
		return false
	}
	result.Cached = true
	return true
}

func (s *Solver) finish(result *Result, bounds image.Rectangle, start time.Time) *Result {
	result.Elapsed = time.Since(start)

	s.mu.Lock()
	s.images++
	if result.Cached {
		s.cached++
	}
	s.byStatus[result.Status]++
	s.mu.Unlock()

	s.logger.Info("Image solved",
		zap.String("status", string(result.Status)),
		zap.String("sfen", result.SFEN),
		zap.Int("moves", len(result.Moves)),
		zap.Bool("cached", result.Cached),
		zap.Duration("elapsed", result.Elapsed),
	)

	if s.store != nil && result.Digest != "" && !result.Cached {
		entry := storage.Entry{
			Digest:    result.Digest,
			Status:    string(result.Status),
			SFEN:      result.SFEN,
			CSA:       result.CSA,
			Moves:     result.Moves,
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
			ElapsedMs: result.Elapsed.Milliseconds(),
		}
		if err := s.store.Put(entry); err != nil {
			s.logger.Warn("Result cache write failed", zap.Error(err))
		}
	}
	return result
}

// GetStats returns a snapshot of the solver statistics
func (s *Solver) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Images:       s.images,
		Cached:       s.cached,
		ByStatus:     make(map[Status]int, len(s.byStatus)),
		EngineErrors: s.engineErrors,
	}
	for k, v := range s.byStatus {
		stats.ByStatus[k] = v
	}
	if len(s.solveMs) > 0 {
		stats.AvgSolveMs = stat.Mean(s.solveMs, nil)
		stats.MaxSolveMs = floats.Max(s.solveMs)
	}
	return stats
}
