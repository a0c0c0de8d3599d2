package vision

import (
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/shogisolver/internal/shogi"
)

// ErrOverSupply is returned when the recognized pieces of some kind exceed
// its supply, which only happens on a misread board
var ErrOverSupply = errors.New("piece count exceeds supply")

// CellClassifier decides the piece shown in one board cell crop
type CellClassifier interface {
	Classify(cell *image.Gray) shogi.Piece
}

// SlotClassifier decides the kind and count shown in one tray slot crop
type SlotClassifier interface {
	Classify(slot int, crop *image.Gray) (shogi.Kind, int)
}

// Assembler turns a board image into a position record
type Assembler struct {
	pieces     CellClassifier
	hands      SlotClassifier
	thresholds Thresholds
	directTray shogi.Side
	sideToMove shogi.Side
	logger     *zap.Logger
	closers    []func()
}

// NewAssembler wires the given classifiers. The classifiers stay owned by
// the caller.
func NewAssembler(pieces CellClassifier, hands SlotClassifier, cfg *Config, logger *zap.Logger) *Assembler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		pieces:     pieces,
		hands:      hands,
		thresholds: cfg.Thresholds,
		directTray: cfg.DirectTray,
		sideToMove: cfg.SideToMove,
		logger:     logger,
	}
}

// NewAssemblerFromConfig loads both atlases named by cfg. Close releases them.
func NewAssemblerFromConfig(cfg *Config, logger *zap.Logger) (*Assembler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vision config: %w", err)
	}

	pieces, err := NewPieceClassifier(cfg.PieceAtlasDir, cfg.PieceSize, logger)
	if err != nil {
		return nil, err
	}
	hands, err := NewHandClassifier(cfg.HandAtlasDir, cfg.HandSize, cfg.DigitFloor, logger)
	if err != nil {
		pieces.Close()
		return nil, err
	}

	a := NewAssembler(pieces, hands, cfg, logger)
	a.closers = append(a.closers, pieces.Close, hands.Close)
	return a, nil
}

// SetSideToMove overrides the side written into subsequent records
func (a *Assembler) SetSideToMove(side shogi.Side) {
	a.sideToMove = side
}

// Close releases classifiers created by NewAssemblerFromConfig
func (a *Assembler) Close() {
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
}

// Assemble extracts the position from an image. An image that is not a board
// yields an error wrapping ErrNotBoard and no record. A board whose pieces
// exceed the supply yields ErrOverSupply, no record and the located geometry.
func (a *Assembler) Assemble(img image.Image) (*shogi.Record, *BoardGeometry, error) {
	if img == nil {
		return nil, nil, fmt.Errorf("%w: no image", ErrNotBoard)
	}
	return a.AssembleGray(ToGray(img))
}

// AssembleGray is Assemble for an image already converted to gray
func (a *Assembler) AssembleGray(gray *image.Gray) (*shogi.Record, *BoardGeometry, error) {
	start := time.Now()

	geom, err := LocateBoard(gray, a.thresholds)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Debug("Board located", zap.Stringer("geometry", geom))

	rec := shogi.NewRecord()
	rec.SideToMove = a.sideToMove

	for row := 0; row < shogi.BoardSize; row++ {
		for col := 0; col < shogi.BoardSize; col++ {
			cell := CropGray(gray, geom.CellBox(row, col))
			rec.Board[row][col] = a.pieces.Classify(cell)
		}
	}

	var onBoard [shogi.NumKinds]int
	for row := 0; row < shogi.BoardSize; row++ {
		for col := 0; col < shogi.BoardSize; col++ {
			if p := rec.Board[row][col]; !p.IsEmpty() {
				onBoard[p.Kind]++
			}
		}
	}

	direct := a.readTray(gray, geom, onBoard)
	rec.Hands[a.directTray] = direct
	rec.Hands[a.directTray.Opponent()] = inferHand(onBoard, direct)

	if err := rec.Validate(); err != nil {
		return nil, geom, fmt.Errorf("%w: %v", ErrOverSupply, err)
	}

	a.logger.Debug("Record assembled",
		zap.String("direct_tray", a.directTray.String()),
		zap.Int("direct_hand", rec.Hands[a.directTray].Total()),
		zap.Int("inferred_hand", rec.Hands[a.directTray.Opponent()].Total()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rec, geom, nil
}

// readTray classifies the seven slots of the directly read tray. Counts are
// capped at the supply left after the board.
func (a *Assembler) readTray(gray *image.Gray, geom *BoardGeometry, onBoard [shogi.NumKinds]int) shogi.Hand {
	var hand shogi.Hand
	for slot, kind := range shogi.HandKinds {
		crop := CropGray(gray, geom.TrayBox(a.directTray, slot))
		got, n := a.hands.Classify(slot, crop)
		if got != kind {
			a.logger.Debug("Tray slot kind mismatch",
				zap.Int("slot", slot),
				zap.String("expected", kind.CSA()),
				zap.String("got", got.String()),
			)
		}
		remaining := shogi.Supply(kind) - onBoard[kind]
		if remaining < 0 {
			remaining = 0
		}
		if n > remaining {
			n = remaining
		}
		if n < 0 {
			n = 0
		}
		hand[slot] = n
	}
	return hand
}

// inferHand gives the other side every piece not accounted for by the board
// and the directly read tray
func inferHand(onBoard [shogi.NumKinds]int, direct shogi.Hand) shogi.Hand {
	var hand shogi.Hand
	for slot, kind := range shogi.HandKinds {
		n := shogi.Supply(kind) - onBoard[kind] - direct[slot]
		if n < 0 {
			n = 0
		}
		hand[slot] = n
	}
	return hand
}
