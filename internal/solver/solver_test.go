package solver

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/thyrook/shogisolver/internal/notation"
	"github.com/thyrook/shogisolver/internal/shogi"
	"github.com/thyrook/shogisolver/internal/storage"
	"github.com/thyrook/shogisolver/internal/usi"
	"github.com/thyrook/shogisolver/internal/vision"
)

const mateSFEN = "4k4/9/4P4/9/9/9/9/9/9 b G 1"

// fakeRecognizer returns a fixed record, or err when set
type fakeRecognizer struct {
	record *shogi.Record
	geom   *vision.BoardGeometry
	err    error
}

func (f *fakeRecognizer) AssembleGray(gray *image.Gray) (*shogi.Record, *vision.BoardGeometry, error) {
	if errors.Is(f.err, vision.ErrOverSupply) {
		return nil, f.geom, f.err
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.record, f.geom, nil
}

// fakeEngine answers every mate search with result, or err when set, and
// every move search with best, or bestErr when set
type fakeEngine struct {
	mu        sync.Mutex
	result    usi.MateResult
	err       error
	calls     []string
	best      usi.BestMoveResult
	bestErr   error
	bestCalls int
}

func (f *fakeEngine) BestMove(ctx context.Context, sfen string, moveTime time.Duration) (usi.BestMoveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bestCalls++
	if f.bestErr != nil {
		return usi.BestMoveResult{}, f.bestErr
	}
	return f.best, nil
}

func (f *fakeEngine) Mate(ctx context.Context, sfen string, timeout time.Duration) (usi.MateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sfen)
	if f.err != nil {
		return usi.MateResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func mustRecord(t *testing.T, sfen string) *shogi.Record {
	t.Helper()
	r, err := notation.ParseSFEN(sfen)
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", sfen, err)
	}
	return r
}

func testGeometry() *vision.BoardGeometry {
	return &vision.BoardGeometry{
		Bounds:      image.Rect(0, 0, 100, 200),
		FrameTop:    60,
		FrameBottom: 160,
		FrameLeft:   10,
		FrameRight:  90,
		GridTop:     70,
		GridBottom:  150,
		GridLeft:    14,
		GridRight:   86,
		CellHeight:  8,
		CellWidth:   8,
		TrimX:       1,
		TrimY:       1,
	}
}

func testImage(seed uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 100, 200))
	for i := range img.Pix {
		img.Pix[i] = uint8(i%251) + seed
	}
	return img
}

func newTestSolver(t *testing.T, rec Recognizer, eng MateEngine, store *storage.ResultStore) *Solver {
	t.Helper()
	s, err := New(rec, eng, store, nil)
	if err != nil {
		t.Fatalf("Failed to create solver: %v", err)
	}
	return s
}

func TestNew(t *testing.T) {
	if _, err := New(nil, &fakeEngine{}, nil, nil); err == nil {
		t.Error("Expected error without recognizer")
	}
	if _, err := New(&fakeRecognizer{}, nil, nil, nil); err == nil {
		t.Error("Expected error without engine")
	}
}

func TestSolveImageOverSupply(t *testing.T) {
	rec := &fakeRecognizer{
		err:  fmt.Errorf("%w: too many rook: 3 (supply 2)", vision.ErrOverSupply),
		geom: testGeometry(),
	}
	eng := &fakeEngine{}
	s := newTestSolver(t, rec, eng, nil)

	result, err := s.SolveImage(context.Background(), testImage(0))
	if err != nil {
		t.Fatalf("SolveImage failed: %v", err)
	}
	if result.Status != StatusParseNG {
		t.Errorf("Expected %s, got %s", StatusParseNG, result.Status)
	}
	if result.Record != nil || result.SFEN != "" {
		t.Errorf("Expected no record, got %v %q", result.Record, result.SFEN)
	}
	if result.Trimmed == nil || result.Trimmed.Bounds().Dx() != 80 {
		t.Errorf("Expected an 80px wide trimmed image, got %v", result.Trimmed)
	}
	if eng.callCount() != 0 {
		t.Errorf("Expected no mate search, got %d", eng.callCount())
	}
}

func TestSolveImageStatuses(t *testing.T) {
	tests := []struct {
		name       string
		record     string
		recErr     error
		mate       usi.MateResult
		engineErr  error
		expected   Status
		moves      int
		engineUsed bool
	}{
		{
			name:       "solved",
			record:     mateSFEN,
			mate:       usi.MateResult{Status: usi.MateFound, Moves: []string{"G*5b"}},
			expected:   StatusSolved,
			moves:      1,
			engineUsed: true,
		},
		{
			name:       "no mate",
			record:     mateSFEN,
			mate:       usi.MateResult{Status: usi.MateNone},
			expected:   StatusNoMate,
			engineUsed: true,
		},
		{
			name:       "engine timeout",
			record:     mateSFEN,
			mate:       usi.MateResult{Status: usi.MateTimeout},
			expected:   StatusSolveNG,
			engineUsed: true,
		},
		{
			name:       "engine failure",
			record:     mateSFEN,
			engineErr:  errors.New("engine stdout closed"),
			expected:   StatusSolveNG,
			engineUsed: true,
		},
		{
			name:       "mating line does not apply",
			record:     mateSFEN,
			mate:       usi.MateResult{Status: usi.MateFound, Moves: []string{"R*5b"}},
			expected:   StatusSolveNG,
			engineUsed: true,
		},
		{
			name:     "not a board",
			recErr:   fmt.Errorf("%w: landscape image", vision.ErrNotBoard),
			expected: StatusImageNG,
		},
		{
			name:     "misread board",
			recErr:   fmt.Errorf("%w: too many rook: 3 (supply 2)", vision.ErrOverSupply),
			expected: StatusParseNG,
		},
		{
			name:     "too many pawns",
			record:   "4k4/9/ppppppppp/9/9/9/PPPPPPPPP/9/4K4 b P 1",
			expected: StatusParseNG,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecognizer{err: tt.recErr, geom: testGeometry()}
			if tt.record != "" {
				rec.record = mustRecord(t, tt.record)
			}
			eng := &fakeEngine{result: tt.mate, err: tt.engineErr}
			s := newTestSolver(t, rec, eng, nil)

			result, err := s.SolveImage(context.Background(), testImage(0))
			if err != nil {
				t.Fatalf("SolveImage failed: %v", err)
			}
			if result.Status != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result.Status)
			}
			if len(result.Moves) != tt.moves {
				t.Errorf("Expected %d moves, got %v", tt.moves, result.Moves)
			}
			if used := eng.callCount() > 0; used != tt.engineUsed {
				t.Errorf("Expected engine used=%v, got %v", tt.engineUsed, used)
			}
			if len(result.Digest) != 64 {
				t.Errorf("Expected a digest, got %q", result.Digest)
			}
		})
	}
}

func TestSolveImageOutputs(t *testing.T) {
	rec := &fakeRecognizer{record: mustRecord(t, mateSFEN), geom: testGeometry()}
	eng := &fakeEngine{result: usi.MateResult{Status: usi.MateFound, Moves: []string{"G*5b"}}}
	s := newTestSolver(t, rec, eng, nil)

	result, err := s.SolveImage(context.Background(), testImage(0))
	if err != nil {
		t.Fatalf("SolveImage failed: %v", err)
	}

	if result.SFEN != mateSFEN {
		t.Errorf("Expected sfen %s, got %s", mateSFEN, result.SFEN)
	}
	if eng.calls[0] != mateSFEN {
		t.Errorf("Expected engine to get %s, got %s", mateSFEN, eng.calls[0])
	}
	if result.KIF != "▲５二金打" {
		t.Errorf("Expected ▲５二金打, got %s", result.KIF)
	}
	if result.CSA != notation.CSA(result.Record) {
		t.Error("Expected CSA of the recognized record")
	}
	if result.Trimmed == nil {
		t.Fatal("Expected a trimmed image")
	}
	if b := result.Trimmed.Bounds(); b.Dx() != 80 || b.Dy() != 122 {
		t.Errorf("Expected 80x122 trimmed image, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestSolveImageErrors(t *testing.T) {
	rec := &fakeRecognizer{err: errors.New("classifier exploded")}
	s := newTestSolver(t, rec, &fakeEngine{}, nil)

	if _, err := s.SolveImage(context.Background(), testImage(0)); err == nil {
		t.Error("Expected recognizer error to be returned")
	}
	if _, err := s.SolveImage(context.Background(), nil); err == nil {
		t.Error("Expected error for nil image")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec = &fakeRecognizer{record: mustRecord(t, mateSFEN), geom: testGeometry()}
	s = newTestSolver(t, rec, &fakeEngine{err: context.Canceled}, nil)
	if _, err := s.SolveImage(ctx, testImage(0)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestSolveImageCache(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	rec := &fakeRecognizer{record: mustRecord(t, mateSFEN), geom: testGeometry()}
	eng := &fakeEngine{result: usi.MateResult{Status: usi.MateFound, Moves: []string{"G*5b"}}}
	s := newTestSolver(t, rec, eng, store)

	first, err := s.SolveImage(context.Background(), testImage(0))
	if err != nil {
		t.Fatalf("First solve failed: %v", err)
	}
	if first.Cached {
		t.Error("First solve should not be cached")
	}

	second, err := s.SolveImage(context.Background(), testImage(0))
	if err != nil {
		t.Fatalf("Second solve failed: %v", err)
	}
	if !second.Cached {
		t.Error("Expected second solve to come from the cache")
	}
	if second.Status != StatusSolved || second.KIF != first.KIF {
		t.Errorf("Expected cached %s/%s, got %s/%s", first.Status, first.KIF, second.Status, second.KIF)
	}
	if eng.callCount() != 1 {
		t.Errorf("Expected 1 engine call, got %d", eng.callCount())
	}

	// a different image is searched again
	if _, err := s.SolveImage(context.Background(), testImage(7)); err != nil {
		t.Fatalf("Third solve failed: %v", err)
	}
	if eng.callCount() != 2 {
		t.Errorf("Expected 2 engine calls, got %d", eng.callCount())
	}

	entry, found, err := store.Get(first.Digest)
	if err != nil || !found {
		t.Fatalf("Expected stored entry, got found=%v err=%v", found, err)
	}
	if entry.Status != string(StatusSolved) || entry.Width != 100 || entry.Height != 200 {
		t.Errorf("Unexpected entry: %+v", entry)
	}

	stats := s.GetStats()
	if stats.Images != 3 || stats.Cached != 1 {
		t.Errorf("Expected 3 images and 1 cached, got %d and %d", stats.Images, stats.Cached)
	}
	if stats.ByStatus[StatusSolved] != 3 {
		t.Errorf("Expected 3 solved, got %v", stats.ByStatus)
	}
}

func TestSolveCacheSkipsIndefinite(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	rec := &fakeRecognizer{record: mustRecord(t, mateSFEN), geom: testGeometry()}
	eng := &fakeEngine{result: usi.MateResult{Status: usi.MateTimeout}}
	s := newTestSolver(t, rec, eng, store)

	for i := 0; i < 2; i++ {
		result, err := s.SolveImage(context.Background(), testImage(0))
		if err != nil {
			t.Fatalf("Solve %d failed: %v", i, err)
		}
		if result.Cached {
			t.Errorf("Solve %d: timeouts must not be served from the cache", i)
		}
	}
	if eng.callCount() != 2 {
		t.Errorf("Expected 2 engine calls, got %d", eng.callCount())
	}
}

func TestGetStats(t *testing.T) {
	rec := &fakeRecognizer{record: mustRecord(t, mateSFEN), geom: testGeometry()}
	eng := &fakeEngine{result: usi.MateResult{Status: usi.MateNone}}
	s := newTestSolver(t, rec, eng, nil)

	stats := s.GetStats()
	if stats.Images != 0 || stats.AvgSolveMs != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.SolveImage(context.Background(), testImage(uint8(i))); err != nil {
			t.Fatalf("Solve failed: %v", err)
		}
	}
	eng.err = errors.New("broken pipe")
	if _, err := s.SolveImage(context.Background(), testImage(9)); err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	stats = s.GetStats()
	if stats.Images != 4 {
		t.Errorf("Expected 4 images, got %d", stats.Images)
	}
	if stats.ByStatus[StatusNoMate] != 3 || stats.ByStatus[StatusSolveNG] != 1 {
		t.Errorf("Unexpected status counts: %v", stats.ByStatus)
	}
	if stats.EngineErrors != 1 {
		t.Errorf("Expected 1 engine error, got %d", stats.EngineErrors)
	}
	if stats.MaxSolveMs < stats.AvgSolveMs {
		t.Errorf("Expected max %.3f >= avg %.3f", stats.MaxSolveMs, stats.AvgSolveMs)
	}
}

func TestWatch(t *testing.T) {
	eng := &fakeEngine{result: usi.MateResult{Status: usi.MateFound, Moves: []string{"G*5b"}}}
	s := newTestSolver(t, &fakeRecognizer{}, eng, nil)

	events := make(chan vision.RecordEvent, 2)
	out := make(chan *Result, 2)
	events <- vision.RecordEvent{Record: mustRecord(t, mateSFEN), Geometry: testGeometry(), Image: testImage(0)}
	events <- vision.RecordEvent{Record: mustRecord(t, "4k4/9/9/9/9/9/9/9/9 b - 1")}
	close(events)

	if err := s.Watch(context.Background(), events, out); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(out))
	}

	first := <-out
	if first.Status != StatusSolved || first.Geometry == nil {
		t.Errorf("Expected solved result with geometry, got %s", first.Status)
	}
	if first.Digest != "" {
		t.Errorf("Expected no digest for a watched record, got %s", first.Digest)
	}
	if first.Trimmed == nil || first.Trimmed.Bounds().Dx() != 80 {
		t.Error("Expected the trimmed frame of the first event")
	}
	if second := <-out; second.Trimmed != nil {
		t.Error("Expected no trimmed image without a frame")
	}
}

func TestWatchCancel(t *testing.T) {
	s := newTestSolver(t, &fakeRecognizer{}, &fakeEngine{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := make(chan vision.RecordEvent)
	if err := s.Watch(ctx, events, make(chan *Result)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestSolveNoMateHint(t *testing.T) {
	tests := []struct {
		name     string
		mate     usi.MateResult
		best     usi.BestMoveResult
		bestErr  error
		hintTime time.Duration
		status   Status
		hint     string
		hintKIF  string
		searches int
	}{
		{
			name:     "hint for a position without mate",
			mate:     usi.MateResult{Status: usi.MateNone},
			best:     usi.BestMoveResult{Move: "G*5b", Score: usi.Score{Kind: "cp", Value: 300}},
			hintTime: 100 * time.Millisecond,
			status:   StatusNoMate,
			hint:     "G*5b",
			hintKIF:  "▲５二金打",
			searches: 1,
		},
		{
			name:     "hint disabled",
			mate:     usi.MateResult{Status: usi.MateNone},
			best:     usi.BestMoveResult{Move: "G*5b"},
			status:   StatusNoMate,
			searches: 0,
		},
		{
			name:     "no hint once mated",
			mate:     usi.MateResult{Status: usi.MateFound, Moves: []string{"G*5b"}},
			best:     usi.BestMoveResult{Move: "G*5b"},
			hintTime: 100 * time.Millisecond,
			status:   StatusSolved,
			searches: 0,
		},
		{
			name:     "engine resigns",
			mate:     usi.MateResult{Status: usi.MateNone},
			best:     usi.BestMoveResult{Move: "resign"},
			hintTime: 100 * time.Millisecond,
			status:   StatusNoMate,
			searches: 1,
		},
		{
			name:     "move search fails",
			mate:     usi.MateResult{Status: usi.MateNone},
			bestErr:  errors.New("engine stdout closed"),
			hintTime: 100 * time.Millisecond,
			status:   StatusNoMate,
			searches: 1,
		},
		{
			name:     "move does not apply",
			mate:     usi.MateResult{Status: usi.MateNone},
			best:     usi.BestMoveResult{Move: "R*5b"},
			hintTime: 100 * time.Millisecond,
			status:   StatusNoMate,
			searches: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecognizer{record: mustRecord(t, mateSFEN), geom: testGeometry()}
			eng := &fakeEngine{result: tt.mate, best: tt.best, bestErr: tt.bestErr}
			s := newTestSolver(t, rec, eng, nil)
			s.SetHintTime(tt.hintTime)

			result, err := s.SolveImage(context.Background(), testImage(0))
			if err != nil {
				t.Fatalf("SolveImage failed: %v", err)
			}
			if result.Status != tt.status {
				t.Errorf("Expected %s, got %s", tt.status, result.Status)
			}
			if result.Hint != tt.hint || result.HintKIF != tt.hintKIF {
				t.Errorf("Expected hint %q %q, got %q %q", tt.hint, tt.hintKIF, result.Hint, result.HintKIF)
			}
			if eng.bestCalls != tt.searches {
				t.Errorf("Expected %d move searches, got %d", tt.searches, eng.bestCalls)
			}
		})
	}
}
