package vision

import (
	"errors"
	"image"
	"testing"

	"github.com/thyrook/shogisolver/internal/shogi"
)

// centerPieces decodes the pixel at the crop center through a lookup table
type centerPieces struct {
	table map[uint8]shogi.Piece
	calls int
}

func (c *centerPieces) Classify(cell *image.Gray) shogi.Piece {
	c.calls++
	if cell == nil {
		return shogi.Empty
	}
	b := cell.Bounds()
	return c.table[cell.GrayAt(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).Y]
}

// centerCounts reads a count from the pixel at the crop center: values from
// 100 upwards encode (v-100)/10 pieces
type centerCounts struct {
	calls []int
}

func (c *centerCounts) Classify(slot int, crop *image.Gray) (shogi.Kind, int) {
	c.calls = append(c.calls, slot)
	if crop == nil {
		return shogi.HandKinds[slot], 0
	}
	b := crop.Bounds()
	v := int(crop.GrayAt(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).Y)
	if v < 100 {
		return shogi.HandKinds[slot], 0
	}
	return shogi.HandKinds[slot], (v - 100) / 10
}

var pieceCodes = map[uint8]shogi.Piece{
	110: {Kind: shogi.King, Side: shogi.Sente},
	111: {Kind: shogi.King, Side: shogi.Gote},
	120: {Kind: shogi.Pawn, Side: shogi.Sente},
	121: {Kind: shogi.Pawn, Side: shogi.Gote},
	130: {Kind: shogi.Rook, Side: shogi.Sente},
	131: {Kind: shogi.Rook, Side: shogi.Gote},
	140: {Kind: shogi.Bishop, Promoted: true, Side: shogi.Sente},
}

func codeOf(p shogi.Piece) uint8 {
	for code, piece := range pieceCodes {
		if piece == p {
			return code
		}
	}
	return boardLevel
}

// scene is a 900x1300 board image: grid rows 300..1000, cells 77px, sente
// tray at y 1090, gote tray at y 133
type scene struct {
	img *image.Gray
}

func newScene() *scene {
	return &scene{img: drawBoard(900, 1300, image.Rect(100, 300, 801, 1001))}
}

func (s *scene) put(row, col int, p shogi.Piece) {
	x0 := 100 + col*77
	y0 := 300 + row*77
	fillRect(s.img, image.Rect(x0+30, y0+30, x0+50, y0+50), codeOf(p))
}

func (s *scene) tray(side shogi.Side, slot, count int) {
	x := 100 + 76*slot + 38
	y := 1090 + 38
	if side == shogi.Gote {
		y = 133 + 38
	}
	fillRect(s.img, image.Rect(x-8, y-8, x+8, y+8), uint8(100+count*10))
}

func TestAssemble(t *testing.T) {
	s := newScene()
	s.put(8, 4, shogi.Piece{Kind: shogi.King, Side: shogi.Sente})
	s.put(0, 4, shogi.Piece{Kind: shogi.King, Side: shogi.Gote})
	s.put(6, 0, shogi.Piece{Kind: shogi.Pawn, Side: shogi.Sente})
	s.put(6, 1, shogi.Piece{Kind: shogi.Pawn, Side: shogi.Sente})
	s.put(6, 8, shogi.Piece{Kind: shogi.Pawn, Side: shogi.Sente})
	s.put(2, 2, shogi.Piece{Kind: shogi.Pawn, Side: shogi.Gote})
	s.put(2, 3, shogi.Piece{Kind: shogi.Pawn, Side: shogi.Gote})
	s.put(1, 1, shogi.Piece{Kind: shogi.Rook, Side: shogi.Gote})
	s.put(4, 4, shogi.Piece{Kind: shogi.Bishop, Promoted: true, Side: shogi.Sente})
	s.tray(shogi.Sente, shogi.HandSlot(shogi.Pawn), 2)
	s.tray(shogi.Sente, shogi.HandSlot(shogi.Rook), 1)

	pieces := &centerPieces{table: pieceCodes}
	hands := &centerCounts{}
	a := NewAssembler(pieces, hands, DefaultConfig(), nil)

	rec, geom, err := a.Assemble(s.img)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if geom.GridTop != 300 || geom.CellHeight != 77 {
		t.Errorf("Unexpected geometry: %v", geom)
	}
	if pieces.calls != 81 {
		t.Errorf("Expected 81 cell classifications, got %d", pieces.calls)
	}
	if len(hands.calls) != shogi.NumHandKinds {
		t.Errorf("Expected %d slot classifications, got %d", shogi.NumHandKinds, len(hands.calls))
	}

	cells := []struct {
		row, col int
		expected string
	}{
		{8, 4, "+OU"},
		{0, 4, "-OU"},
		{6, 8, "+FU"},
		{2, 3, "-FU"},
		{1, 1, "-HI"},
		{4, 4, "+UM"},
		{4, 5, " * "},
	}
	for _, c := range cells {
		if got := rec.At(c.row, c.col).CSA(); got != c.expected {
			t.Errorf("Cell %d,%d: expected %q, got %q", c.row, c.col, c.expected, got)
		}
	}

	sente := shogi.Hand{2, 0, 0, 0, 0, 0, 1}
	if rec.Hands[shogi.Sente] != sente {
		t.Errorf("Expected sente hand %v, got %v", sente, rec.Hands[shogi.Sente])
	}
	gote := shogi.Hand{11, 4, 4, 4, 4, 1, 0}
	if rec.Hands[shogi.Gote] != gote {
		t.Errorf("Expected gote hand %v, got %v", gote, rec.Hands[shogi.Gote])
	}
	if rec.SideToMove != shogi.Sente {
		t.Errorf("Expected sente to move, got %s", rec.SideToMove)
	}

	// every hand kind is fully accounted for
	tally := rec.Tally()
	for _, k := range shogi.HandKinds {
		if tally[k] != shogi.Supply(k) {
			t.Errorf("Expected %d %s in total, got %d", shogi.Supply(k), k, tally[k])
		}
	}
	if err := rec.Validate(); err != nil {
		t.Errorf("Record failed validation: %v", err)
	}
}

func TestAssembleCapsDirectTray(t *testing.T) {
	s := newScene()
	s.put(0, 0, shogi.Piece{Kind: shogi.Rook, Side: shogi.Gote})
	// two rooks shown in the tray but only one left after the board
	s.tray(shogi.Sente, shogi.HandSlot(shogi.Rook), 2)

	a := NewAssembler(&centerPieces{table: pieceCodes}, &centerCounts{}, DefaultConfig(), nil)
	rec, _, err := a.Assemble(s.img)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if got := rec.Hands[shogi.Sente].Count(shogi.Rook); got != 1 {
		t.Errorf("Expected capped rook count 1, got %d", got)
	}
	if got := rec.Hands[shogi.Gote].Count(shogi.Rook); got != 0 {
		t.Errorf("Expected no inferred rook, got %d", got)
	}
	if got := rec.Hands[shogi.Gote].Count(shogi.Pawn); got != 18 {
		t.Errorf("Expected 18 inferred pawns, got %d", got)
	}
}

func TestAssembleBoardOvercount(t *testing.T) {
	s := newScene()
	// three rooks on the board, one more than the supply
	s.put(0, 0, shogi.Piece{Kind: shogi.Rook, Side: shogi.Gote})
	s.put(0, 1, shogi.Piece{Kind: shogi.Rook, Side: shogi.Gote})
	s.put(0, 2, shogi.Piece{Kind: shogi.Rook, Side: shogi.Sente})
	s.tray(shogi.Sente, shogi.HandSlot(shogi.Rook), 1)

	a := NewAssembler(&centerPieces{table: pieceCodes}, &centerCounts{}, DefaultConfig(), nil)
	rec, geom, err := a.Assemble(s.img)
	if !errors.Is(err, ErrOverSupply) {
		t.Fatalf("Expected ErrOverSupply, got %v", err)
	}
	if errors.Is(err, ErrNotBoard) {
		t.Error("An overcounted board is still a board")
	}
	if rec != nil {
		t.Errorf("Expected no record, got\n%v", rec)
	}
	if geom == nil || geom.GridTop != 300 {
		t.Errorf("Expected the located geometry, got %v", geom)
	}
}

func TestAssembleDirectTrayGote(t *testing.T) {
	s := newScene()
	s.tray(shogi.Gote, shogi.HandSlot(shogi.Gold), 3)
	s.tray(shogi.Sente, shogi.HandSlot(shogi.Gold), 1)

	cfg := DefaultConfig()
	cfg.DirectTray = shogi.Gote
	cfg.SideToMove = shogi.Gote

	hands := &centerCounts{}
	a := NewAssembler(&centerPieces{table: pieceCodes}, hands, cfg, nil)
	rec, _, err := a.Assemble(s.img)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if got := rec.Hands[shogi.Gote].Count(shogi.Gold); got != 3 {
		t.Errorf("Expected 3 golds read from the gote tray, got %d", got)
	}
	// the sente tray is never read, its golds are inferred
	if got := rec.Hands[shogi.Sente].Count(shogi.Gold); got != 1 {
		t.Errorf("Expected 1 inferred gold, got %d", got)
	}
	if got := rec.Hands[shogi.Sente].Count(shogi.Pawn); got != 18 {
		t.Errorf("Expected 18 inferred pawns, got %d", got)
	}
	if rec.SideToMove != shogi.Gote {
		t.Errorf("Expected gote to move, got %s", rec.SideToMove)
	}

	a.SetSideToMove(shogi.Sente)
	rec, _, err = a.Assemble(s.img)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if rec.SideToMove != shogi.Sente {
		t.Errorf("Expected overridden side to move, got %s", rec.SideToMove)
	}
}

func TestAssembleNotBoard(t *testing.T) {
	pieces := &centerPieces{table: pieceCodes}
	hands := &centerCounts{}
	a := NewAssembler(pieces, hands, DefaultConfig(), nil)

	landscape := drawBoard(1300, 900, image.Rect(300, 100, 1001, 801))
	tests := []struct {
		name string
		img  image.Image
	}{
		{"landscape", landscape},
		{"blank", blank(600, 800, 230)},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, geom, err := a.Assemble(tt.img)
			if !errors.Is(err, ErrNotBoard) {
				t.Fatalf("Expected ErrNotBoard, got %v", err)
			}
			if rec != nil || geom != nil {
				t.Error("Expected no record and no geometry")
			}
		})
	}

	if pieces.calls != 0 || len(hands.calls) != 0 {
		t.Errorf("Expected no classification, got %d cells and %d slots", pieces.calls, len(hands.calls))
	}
}

func TestAssembleRGBA(t *testing.T) {
	s := newScene()
	s.put(8, 4, shogi.Piece{Kind: shogi.King, Side: shogi.Sente})

	rgba := image.NewRGBA(s.img.Bounds())
	for y := 0; y < s.img.Bounds().Dy(); y++ {
		for x := 0; x < s.img.Bounds().Dx(); x++ {
			rgba.Set(x, y, s.img.GrayAt(x, y))
		}
	}

	a := NewAssembler(&centerPieces{table: pieceCodes}, &centerCounts{}, DefaultConfig(), nil)
	rec, _, err := a.Assemble(rgba)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if got := rec.At(8, 4).CSA(); got != "+OU" {
		t.Errorf("Expected +OU, got %q", got)
	}
}

func TestInferHand(t *testing.T) {
	var onBoard [shogi.NumKinds]int
	onBoard[shogi.Pawn] = 20
	onBoard[shogi.Gold] = 2

	direct := shogi.Hand{0, 1, 0, 0, 1, 0, 0}
	got := inferHand(onBoard, direct)
	expected := shogi.Hand{0, 3, 4, 4, 1, 2, 2}
	if got != expected {
		t.Errorf("Expected %v, got %v", expected, got)
	}
}
