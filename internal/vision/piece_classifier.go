package vision

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/thyrook/shogisolver/internal/shogi"
)

// mirrorPair holds the two orientations of one face: sente's glyph and
// gote's glyph, which is the same glyph rotated 180 degrees
type mirrorPair struct {
	sente *reference
	gote  *reference
}

func (mp *mirrorPair) get(side shogi.Side) *reference {
	if side == shogi.Gote {
		return mp.gote
	}
	return mp.sente
}

// candidate is one atlas entry taking part in descriptor matching
type candidate struct {
	piece shogi.Piece
	ref   *reference
}

// PieceAtlas is the immutable set of reference glyphs for board cells
type PieceAtlas struct {
	pairs      map[shogi.Face]*mirrorPair
	candidates []candidate
	empty      *reference
}

// pieceFileName returns the reference file name of a face: "06.png" for a
// bishop, "16.png" for a horse, with an "r" suffix for gote
func pieceFileName(f shogi.Face, side shogi.Side) string {
	prefix := 0
	if f.Promoted {
		prefix = 1
	}
	suffix := ""
	if side == shogi.Gote {
		suffix = "r"
	}
	return fmt.Sprintf("%d%d%s.png", prefix, int(f.Kind), suffix)
}

// LoadPieceAtlas reads the reference glyphs from dir. Missing glyphs are
// skipped; the optional 00.png is an empty-cell reference.
func LoadPieceAtlas(dir string, size Size, m *featureMatcher) (*PieceAtlas, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("piece atlas directory: %w", err)
	}

	atlas := &PieceAtlas{pairs: make(map[shogi.Face]*mirrorPair)}

	emptyPath := filepath.Join(dir, "00.png")
	if _, err := os.Stat(emptyPath); err == nil {
		ref, err := loadReference(emptyPath, size, m)
		if err != nil {
			atlas.Close()
			return nil, err
		}
		atlas.empty = ref
		atlas.candidates = append(atlas.candidates, candidate{piece: shogi.Empty, ref: ref})
	}

	// sente faces first, then gote; descriptor ties go to the earlier entry
	for _, side := range []shogi.Side{shogi.Sente, shogi.Gote} {
		for _, face := range shogi.Faces() {
			path := filepath.Join(dir, pieceFileName(face, side))
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				continue
			}
			ref, err := loadReference(path, size, m)
			if err != nil {
				atlas.Close()
				return nil, err
			}

			pair := atlas.pairs[face]
			if pair == nil {
				pair = &mirrorPair{}
				atlas.pairs[face] = pair
			}
			if side == shogi.Gote {
				pair.gote = ref
			} else {
				pair.sente = ref
			}

			piece := shogi.Piece{Kind: face.Kind, Promoted: face.Promoted, Side: side}
			atlas.candidates = append(atlas.candidates, candidate{piece: piece, ref: ref})
		}
	}

	if len(atlas.pairs) == 0 {
		atlas.Close()
		return nil, fmt.Errorf("no piece glyphs found in %s", dir)
	}
	return atlas, nil
}

// Len returns the number of reference glyphs, the empty-cell reference included
func (a *PieceAtlas) Len() int {
	return len(a.candidates)
}

// Close releases the reference bitmaps
func (a *PieceAtlas) Close() {
	for _, c := range a.candidates {
		c.ref.Close()
	}
	a.candidates = nil
	a.pairs = nil
	a.empty = nil
}

// PieceClassifier decides which piece occupies a board cell
type PieceClassifier struct {
	atlas   *PieceAtlas
	matcher *featureMatcher
	size    Size
	logger  *zap.Logger
}

// NewPieceClassifier loads the piece atlas from dir
func NewPieceClassifier(dir string, size Size, logger *zap.Logger) (*PieceClassifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := newFeatureMatcher()
	atlas, err := LoadPieceAtlas(dir, size, m)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to load piece atlas: %w", err)
	}
	logger.Debug("Piece atlas loaded", zap.String("dir", dir), zap.Int("glyphs", atlas.Len()))
	return &PieceClassifier{atlas: atlas, matcher: m, size: size, logger: logger}, nil
}

// Close releases the atlas and matcher
func (pc *PieceClassifier) Close() {
	pc.atlas.Close()
	pc.matcher.Close()
}

// Classify returns the piece shown in a cell crop, or shogi.Empty when the
// crop is absent or carries no features
func (pc *PieceClassifier) Classify(cell *image.Gray) shogi.Piece {
	if cell == nil || cell.Bounds().Empty() {
		return shogi.Empty
	}
	mat, err := grayToMat(cell)
	if err != nil {
		pc.logger.Debug("Cell conversion failed", zap.Error(err))
		return shogi.Empty
	}
	defer mat.Close()

	resized := resizeTo(mat, pc.size)
	defer resized.Close()

	winner, dist, ok := pc.bestCandidate(resized)
	if !ok || winner.IsEmpty() {
		return shogi.Empty
	}

	piece := pc.orient(resized, winner)
	pc.logger.Debug("Cell classified",
		zap.String("piece", piece.CSA()),
		zap.String("descriptor_winner", winner.CSA()),
		zap.Float64("distance", dist),
	)
	return piece
}

// bestCandidate runs the descriptor stage: the atlas entry with the lowest mean
// match distance wins. Entries that fail to match never win.
func (pc *PieceClassifier) bestCandidate(resized gocv.Mat) (shogi.Piece, float64, bool) {
	desc := pc.matcher.describe(resized)
	defer desc.Close()
	if desc.Empty() {
		return shogi.Empty, 0, false
	}

	best := math.Inf(1)
	var winner shogi.Piece
	found := false
	for _, c := range pc.atlas.candidates {
		d, err := pc.matcher.meanDistance(desc, c.ref.desc)
		if err != nil {
			continue
		}
		if d < best {
			best = d
			winner = c.piece
			found = true
		}
	}
	return winner, best, found
}

// orient settles the side: the winner's glyph and its 180 degree mirror are
// correlated directly with the crop and the better one is kept
func (pc *PieceClassifier) orient(resized gocv.Mat, winner shogi.Piece) shogi.Piece {
	pair := pc.atlas.pairs[winner.Face()]
	if pair == nil {
		return winner
	}
	own := pair.get(winner.Side)
	mirror := pair.get(winner.Side.Opponent())
	if own == nil || mirror == nil {
		return winner
	}

	ownScore, err := correlate(own.img, resized)
	if err != nil {
		ownScore = math.Inf(-1)
	}
	mirrorScore, err := correlate(mirror.img, resized)
	if err != nil {
		return winner
	}
	if mirrorScore > ownScore {
		winner.Side = winner.Side.Opponent()
	}
	return winner
}
