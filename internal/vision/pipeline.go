package vision

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/shogisolver/internal/shogi"
)

// RecordEvent is sent for every frame whose position differs from the last one
type RecordEvent struct {
	Record    *shogi.Record
	Geometry  *BoardGeometry
	Image     *image.Gray
	Changes   []image.Point // (col, row) addresses of cells that differ from the previous record
	Timestamp time.Time
}

// Pipeline watches a frame source and assembles a record whenever the
// displayed position changes
type Pipeline struct {
	config     *Config
	source     FrameSource
	capturer   *Capturer
	assembler  *Assembler
	logger     *zap.Logger
	lastRecord *shogi.Record
	events     chan<- RecordEvent
	stopChan   chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	stats      PipelineStats
}

// PipelineStats tracks pipeline performance
type PipelineStats struct {
	FramesProcessed  int64
	ChangesDetected  int64
	RecordsEmitted   int64
	NotBoard         int64
	OverSupply       int64
	LastProcessTime  time.Duration
	AverageFrameTime time.Duration
	Errors           int64
}

// NewPipeline creates a pipeline over source. A nil source captures the
// configured screen region.
func NewPipeline(config *Config, assembler *Assembler, source FrameSource, events chan<- RecordEvent, logger *zap.Logger) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if assembler == nil {
		return nil, errors.New("pipeline needs an assembler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	capturer := NewCapturer(config.CaptureRegion.ToRectangle(), config.DiffThreshold)
	if source == nil {
		source = NewLiveSource(capturer)
	}

	return &Pipeline{
		config:    config,
		source:    source,
		capturer:  capturer,
		assembler: assembler,
		logger:    logger,
		events:    events,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start begins the processing loop
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already running")
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.processLoop()

	return nil
}

// Stop stops the pipeline and waits for the loop to exit
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
}

// Done is closed when the loop exits, either stopped or at the end of the source
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns whether the pipeline is running
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// GetStats returns current pipeline statistics
func (p *Pipeline) GetStats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// processLoop is the main processing loop
func (p *Pipeline) processLoop() {
	defer p.wg.Done()
	defer close(p.done)
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	frameDuration := time.Second / time.Duration(p.config.FPS)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			err := p.processSingleFrame()
			if errors.Is(err, io.EOF) {
				p.logger.Info("Frame source exhausted")
				return
			}
			if err != nil {
				p.mu.Lock()
				p.stats.Errors++
				p.mu.Unlock()
				p.logger.Warn("Frame processing error", zap.Error(err))
			}
		}
	}
}

// processSingleFrame processes one frame
func (p *Pipeline) processSingleFrame() error {
	startTime := time.Now()

	frame, err := p.source.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return fmt.Errorf("failed to read frame: %w", err)
	}
	defer frame.Close()

	changed, diff, err := p.capturer.DetectChange(frame)
	if err != nil {
		return fmt.Errorf("failed to detect change: %w", err)
	}

	p.mu.Lock()
	p.stats.FramesProcessed++
	if changed {
		p.stats.ChangesDetected++
	}
	p.mu.Unlock()

	if !changed {
		p.recordTiming(startTime)
		return nil
	}
	p.logger.Debug("Frame changed", zap.Float64("diff", diff))

	gray, err := matToGray(*frame)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}

	rec, geom, err := p.assembler.AssembleGray(gray)
	p.recordTiming(startTime)
	if errors.Is(err, ErrNotBoard) {
		p.mu.Lock()
		p.stats.NotBoard++
		p.mu.Unlock()
		p.logger.Debug("Frame is not a board", zap.Error(err))
		return nil
	}
	if errors.Is(err, ErrOverSupply) {
		p.mu.Lock()
		p.stats.OverSupply++
		p.mu.Unlock()
		p.logger.Debug("Frame misread", zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to assemble record: %w", err)
	}

	var changes []image.Point
	if p.lastRecord != nil {
		changes = BoardDifference(p.lastRecord, rec)
		if len(changes) == 0 && p.lastRecord.Hands == rec.Hands {
			return nil
		}
	}
	p.lastRecord = rec

	event := RecordEvent{
		Record:    rec,
		Geometry:  geom,
		Image:     gray,
		Changes:   changes,
		Timestamp: time.Now(),
	}

	select {
	case p.events <- event:
		p.mu.Lock()
		p.stats.RecordsEmitted++
		p.mu.Unlock()
		p.logger.Info("Position changed", zap.Int("cells", len(changes)))
	case <-p.stopChan:
	}
	return nil
}

func (p *Pipeline) recordTiming(start time.Time) {
	elapsed := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.LastProcessTime = elapsed
	if p.stats.AverageFrameTime == 0 {
		p.stats.AverageFrameTime = elapsed
	} else {
		p.stats.AverageFrameTime = (p.stats.AverageFrameTime + elapsed) / 2
	}
}

// BoardDifference returns the (col, row) addresses whose pieces differ
func BoardDifference(prev, curr *shogi.Record) []image.Point {
	var changes []image.Point
	for row := 0; row < shogi.BoardSize; row++ {
		for col := 0; col < shogi.BoardSize; col++ {
			if prev.Board[row][col] != curr.Board[row][col] {
				changes = append(changes, image.Pt(col, row))
			}
		}
	}
	return changes
}

// Close stops the pipeline and releases the source and capturer
func (p *Pipeline) Close() error {
	p.Stop()

	var err error
	if p.source != nil {
		err = p.source.Close()
	}
	p.capturer.Close()

	return err
}

// String returns pipeline status
func (p *Pipeline) String() string {
	stats := p.GetStats()
	return fmt.Sprintf(
		"Vision Pipeline:\n"+
			"  Running: %v\n"+
			"  Frames Processed: %d\n"+
			"  Changes Detected: %d\n"+
			"  Records Emitted: %d\n"+
			"  Not A Board: %d\n"+
			"  Last Process Time: %v\n"+
			"  Avg Frame Time: %v\n"+
			"  Errors: %d\n"+
			"  FPS Target: %d\n",
		p.IsRunning(),
		stats.FramesProcessed,
		stats.ChangesDetected,
		stats.RecordsEmitted,
		stats.NotBoard,
		stats.LastProcessTime,
		stats.AverageFrameTime,
		stats.Errors,
		p.config.FPS,
	)
}
