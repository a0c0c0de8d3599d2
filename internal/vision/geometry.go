package vision

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/thyrook/shogisolver/internal/shogi"
)

// ErrNotBoard is returned when no board frame and grid can be found in an image
var ErrNotBoard = errors.New("not a board")

// BoardGeometry is the pixel layout of a board found in one image
type BoardGeometry struct {
	Bounds image.Rectangle // image bounds the geometry was computed on

	// Outer frame, including the bezel around the grid
	FrameTop    int
	FrameBottom int
	FrameLeft   int
	FrameRight  int

	// Inner grid (the playing area)
	GridTop    int
	GridBottom int
	GridLeft   int
	GridRight  int

	CellHeight int
	CellWidth  int

	// Margins cut from every side of a cell so grid lines are not sampled
	TrimY int
	TrimX int
}

// GridHeight returns the inner grid height in pixels
func (g *BoardGeometry) GridHeight() int {
	return g.GridBottom - g.GridTop
}

// GridWidth returns the inner grid width in pixels
func (g *BoardGeometry) GridWidth() int {
	return g.GridRight - g.GridLeft
}

// CellBox returns the trimmed pixel box of the cell at row/col. The last row
// and column absorb the pixels left over by the integer cell size.
func (g *BoardGeometry) CellBox(row, col int) image.Rectangle {
	y0 := g.GridTop + row*g.CellHeight
	y1 := y0 + g.CellHeight
	if row == shogi.BoardSize-1 {
		y1 = g.GridBottom
	}
	x0 := g.GridLeft + col*g.CellWidth
	x1 := x0 + g.CellWidth
	if col == shogi.BoardSize-1 {
		x1 = g.GridRight
	}
	r := image.Rect(x0+g.TrimX, y0+g.TrimY, x1-g.TrimX, y1-g.TrimY)
	return r.Add(g.Bounds.Min).Intersect(g.Bounds)
}

// trayGap is the distance between the frame and a tray
func (g *BoardGeometry) trayGap() int {
	return int(float64(g.GridTop-g.FrameTop) * 1.2)
}

// traySlotWidth is slightly narrower than a cell so slots do not bleed into each other
func (g *BoardGeometry) traySlotWidth() int {
	return int(float64(g.CellWidth) * 0.99)
}

func (g *BoardGeometry) trayTop(side shogi.Side) int {
	if side == shogi.Gote {
		return g.FrameTop - g.trayGap() - g.CellHeight
	}
	return g.FrameBottom + g.trayGap()
}

// TrayBox returns the pixel box of one captured piece slot. Gote's tray sits
// above the board, sente's below it. The box is clipped to the image and may
// be empty.
func (g *BoardGeometry) TrayBox(side shogi.Side, slot int) image.Rectangle {
	w := g.traySlotWidth()
	x := g.GridLeft + w*slot
	y := g.trayTop(side)
	r := image.Rect(x, y, x+w, y+g.CellHeight)
	return r.Add(g.Bounds.Min).Intersect(g.Bounds)
}

// TrimmedBox returns the display crop: both trays plus the framed board
func (g *BoardGeometry) TrimmedBox() image.Rectangle {
	bottom := g.GridBottom + int(float64(g.CellHeight)*1.5)
	r := image.Rect(g.FrameLeft, g.trayTop(shogi.Gote), g.FrameRight, bottom)
	return r.Add(g.Bounds.Min).Intersect(g.Bounds)
}

func (g *BoardGeometry) String() string {
	return fmt.Sprintf("frame=[%d,%d]x[%d,%d] grid=[%d,%d]x[%d,%d] cell=%dx%d trim=%d/%d",
		g.FrameTop, g.FrameBottom, g.FrameLeft, g.FrameRight,
		g.GridTop, g.GridBottom, g.GridLeft, g.GridRight,
		g.CellWidth, g.CellHeight, g.TrimX, g.TrimY)
}

// scanner classifies pixels and rows of a gray image by brightness
type scanner struct {
	img    *image.Gray
	th     Thresholds
	width  int
	height int
}

func (s *scanner) at(x, y int) uint8 {
	b := s.img.Bounds()
	return s.img.GrayAt(b.Min.X+x, b.Min.Y+y).Y
}

func (s *scanner) isDark(x, y int) bool {
	return s.at(x, y) < s.th.Dark
}

func (s *scanner) isBright(x, y int) bool {
	return s.at(x, y) > s.th.Bright
}

// bandCoverage returns the share of the middle band [W/4, 3W/4) of row y
// for which match holds
func (s *scanner) bandCoverage(y int, match func(x, y int) bool) float64 {
	from, to := s.width/4, s.width*3/4
	if to <= from {
		return 0
	}
	n := 0
	for x := from; x < to; x++ {
		if match(x, y) {
			n++
		}
	}
	return float64(n) / float64(to-from)
}

// isLine reports whether row y is a dark ruling line
func (s *scanner) isLine(y int) bool {
	return s.bandCoverage(y, s.isDark) >= s.th.LineCoverage
}

// isBlank reports whether row y is bright board interior
func (s *scanner) isBlank(y int) bool {
	return s.bandCoverage(y, s.isBright) >= s.th.LineCoverage
}

// scanVertical walks rows from the midline towards limit (exclusive). It
// returns the outermost line row of the grid edge and the first non-blank row
// past the bright margin beyond it.
func (s *scanner) scanVertical(limit, step int) (frame, grid int, ok bool) {
	grid = -1
	margin := -1
	for y := s.height / 2; y != limit; y += step {
		if s.isLine(y) {
			grid = y
			continue
		}
		if grid >= 0 && s.isBlank(y) {
			margin = y
			break
		}
	}
	if margin < 0 {
		return 0, 0, false
	}

	for y := margin; y != limit; y += step {
		if !s.isBlank(y) {
			return y, grid, true
		}
	}
	return 0, 0, false
}

// scanHorizontal finds the grid and frame columns on the grid's top line
func (s *scanner) scanHorizontal(y int) (frameLeft, gridLeft, gridRight, frameRight int) {
	for x := s.width / 4; x > 0; x-- {
		if s.isBright(x, y) {
			gridLeft = x + 1
			break
		}
	}
	for x := gridLeft - 1; x > 0; x-- {
		if !s.isBright(x, y) {
			frameLeft = x + 1
			break
		}
	}

	gridRight = s.width - 1
	for x := s.width * 3 / 4; x < s.width; x++ {
		if s.isBright(x, y) {
			gridRight = x - 1
			break
		}
	}
	// the frame extends while pixels stay bright, absorbing a highlighted tray
	frameRight = gridRight
	for x := gridRight + 1; x < s.width; x++ {
		if !s.isBright(x, y) {
			break
		}
		frameRight = x
	}
	return frameLeft, gridLeft, gridRight, frameRight
}

// LocateBoard finds the board frame and grid in a gray image. Landscape
// images, images without a dark-ruled grid inside a bright margin, and grids
// wider than they are tall are rejected with ErrNotBoard.
func LocateBoard(img *image.Gray, th Thresholds) (*BoardGeometry, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image", ErrNotBoard)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > height {
		return nil, fmt.Errorf("%w: landscape image %dx%d", ErrNotBoard, width, height)
	}

	s := &scanner{img: img, th: th, width: width, height: height}

	frameTop, gridTop, ok := s.scanVertical(0, -1)
	if !ok {
		return nil, fmt.Errorf("%w: top edge not found", ErrNotBoard)
	}
	if frameTop >= gridTop {
		return nil, fmt.Errorf("%w: frame top %d not above grid top %d", ErrNotBoard, frameTop, gridTop)
	}

	frameBottom, gridBottom, ok := s.scanVertical(height, 1)
	if !ok {
		return nil, fmt.Errorf("%w: bottom edge not found", ErrNotBoard)
	}
	if frameBottom <= gridBottom {
		return nil, fmt.Errorf("%w: frame bottom %d not below grid bottom %d", ErrNotBoard, frameBottom, gridBottom)
	}

	frameLeft, gridLeft, gridRight, frameRight := s.scanHorizontal(gridTop)

	g := &BoardGeometry{
		Bounds:      bounds,
		FrameTop:    frameTop,
		FrameBottom: frameBottom,
		FrameLeft:   frameLeft,
		FrameRight:  frameRight,
		GridTop:     gridTop,
		GridBottom:  gridBottom,
		GridLeft:    gridLeft,
		GridRight:   gridRight,
	}

	// a board is portrait or square, never wider than tall
	if g.GridHeight() < g.GridWidth() {
		return nil, fmt.Errorf("%w: grid %dx%d is wider than tall", ErrNotBoard, g.GridWidth(), g.GridHeight())
	}

	g.CellHeight = g.GridHeight() / shogi.BoardSize
	g.CellWidth = g.GridWidth() / shogi.BoardSize
	if g.CellHeight < 1 || g.CellWidth < 1 {
		return nil, fmt.Errorf("%w: grid %dx%d too small", ErrNotBoard, g.GridWidth(), g.GridHeight())
	}
	g.TrimY = trimMargin(g.CellHeight)
	g.TrimX = trimMargin(g.CellWidth)

	return g, nil
}

// trimMargin is 5% of a cell dimension, at least one pixel
func trimMargin(cell int) int {
	m := int(math.Round(float64(cell) * 0.05))
	if m < 1 {
		m = 1
	}
	return m
}
