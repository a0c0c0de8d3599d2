package vision

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/thyrook/shogisolver/internal/shogi"
)

// maxVariantLabel is the highest count label of a tray variant; label 2 stands
// for "two or more"
const maxVariantLabel = 2

var digitFilePattern = regexp.MustCompile(`^num(\d+)\.png$`)

// variant is one tray reference labeled with the count it shows
type variant struct {
	label int
	ref   *reference
}

// digit is one count badge template kept at its native size
type digit struct {
	count int
	img   gocv.Mat
}

// HandAtlas holds the tray references of one side: up to three variants per
// hand kind plus the digit bank
type HandAtlas struct {
	variants [shogi.NumHandKinds][]variant
	digits   []digit
}

// LoadHandAtlas reads tray variants named "<CSA><label>.png" or
// "<CSA>-<label>.png" and count badges named "num<N>.png" from dir
func LoadHandAtlas(dir string, size Size, m *featureMatcher) (*HandAtlas, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("hand atlas directory: %w", err)
	}

	atlas := &HandAtlas{}
	found := 0
	for slot, kind := range shogi.HandKinds {
		for label := 0; label <= maxVariantLabel; label++ {
			path := variantPath(dir, kind, label)
			if path == "" {
				continue
			}
			ref, err := loadReference(path, size, m)
			if err != nil {
				atlas.Close()
				return nil, err
			}
			atlas.variants[slot] = append(atlas.variants[slot], variant{label: label, ref: ref})
			found++
		}
	}
	if found == 0 {
		atlas.Close()
		return nil, fmt.Errorf("no tray glyphs found in %s", dir)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := digitFilePattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		count, err := strconv.Atoi(match[1])
		if err != nil || count < 2 {
			continue
		}
		img := gocv.IMRead(filepath.Join(dir, e.Name()), gocv.IMReadGrayScale)
		if img.Empty() {
			img.Close()
			atlas.Close()
			return nil, fmt.Errorf("failed to load count badge: %s", e.Name())
		}
		atlas.digits = append(atlas.digits, digit{count: count, img: img})
	}
	sort.Slice(atlas.digits, func(i, j int) bool {
		return atlas.digits[i].count < atlas.digits[j].count
	})

	return atlas, nil
}

// variantPath returns the existing file for a kind/label pair, trying the
// plain name before the hyphenated one
func variantPath(dir string, kind shogi.Kind, label int) string {
	for _, name := range []string{
		fmt.Sprintf("%s%d.png", kind.CSA(), label),
		fmt.Sprintf("%s-%d.png", kind.CSA(), label),
	} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Variants returns the number of tray references loaded for a slot
func (a *HandAtlas) Variants(slot int) int {
	if slot < 0 || slot >= shogi.NumHandKinds {
		return 0
	}
	return len(a.variants[slot])
}

// Digits returns the number of count badges loaded
func (a *HandAtlas) Digits() int {
	return len(a.digits)
}

// Close releases all bitmaps
func (a *HandAtlas) Close() {
	for slot := range a.variants {
		for _, v := range a.variants[slot] {
			v.ref.Close()
		}
		a.variants[slot] = nil
	}
	for _, d := range a.digits {
		d.img.Close()
	}
	a.digits = nil
}

// HandClassifier counts the pieces shown in a tray slot
type HandClassifier struct {
	atlas   *HandAtlas
	matcher *featureMatcher
	size    Size
	floor   float64
	logger  *zap.Logger
}

// NewHandClassifier loads the tray atlas from dir
func NewHandClassifier(dir string, size Size, floor float64, logger *zap.Logger) (*HandClassifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := newFeatureMatcher()
	atlas, err := LoadHandAtlas(dir, size, m)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to load hand atlas: %w", err)
	}
	logger.Debug("Hand atlas loaded", zap.String("dir", dir), zap.Int("digits", atlas.Digits()))
	return &HandClassifier{atlas: atlas, matcher: m, size: size, floor: floor, logger: logger}, nil
}

// Close releases the atlas and matcher
func (hc *HandClassifier) Close() {
	hc.atlas.Close()
	hc.matcher.Close()
}

// Classify returns the hand kind of slot and the number of pieces shown in
// the crop. Slots outside 0..6 yield (NoKind, 0).
func (hc *HandClassifier) Classify(slot int, crop *image.Gray) (shogi.Kind, int) {
	if slot < 0 || slot >= shogi.NumHandKinds {
		return shogi.NoKind, 0
	}
	kind := shogi.HandKinds[slot]
	if crop == nil || crop.Bounds().Empty() {
		return kind, 0
	}

	mat, err := grayToMat(crop)
	if err != nil {
		hc.logger.Debug("Slot conversion failed", zap.Int("slot", slot), zap.Error(err))
		return kind, 0
	}
	defer mat.Close()

	resized := resizeTo(mat, hc.size)
	defer resized.Close()

	desc := hc.matcher.describe(resized)
	empty := desc.Empty()
	desc.Close()
	if empty {
		return kind, 0
	}

	count, score := hc.bestVariant(slot, resized)
	if count == 0 || kind == shogi.Bishop || kind == shogi.Rook {
		hc.logger.Debug("Slot classified",
			zap.String("kind", kind.CSA()),
			zap.Int("count", count),
			zap.Float64("score", score),
		)
		return kind, count
	}

	count = hc.readBadge(resized)
	if count > shogi.Supply(kind) {
		count = 1
	}
	hc.logger.Debug("Slot classified",
		zap.String("kind", kind.CSA()),
		zap.Int("count", count),
		zap.Float64("variant_score", score),
	)
	return kind, count
}

// bestVariant correlates the whole slot with every variant of its kind. The
// best label above a zero score is the preliminary count.
func (hc *HandClassifier) bestVariant(slot int, resized gocv.Mat) (int, float64) {
	label, best := 0, 0.0
	for _, v := range hc.atlas.variants[slot] {
		score, err := correlate(v.ref.img, resized)
		if err != nil {
			continue
		}
		if score > best {
			best = score
			label = v.label
		}
	}
	return label, best
}

// readBadge returns the count of the best matching badge template above the
// floor, or 1 when no badge is found
func (hc *HandClassifier) readBadge(resized gocv.Mat) int {
	count, best := 1, hc.floor
	for _, d := range hc.atlas.digits {
		if d.img.Rows() > resized.Rows() || d.img.Cols() > resized.Cols() {
			continue
		}
		score, err := correlate(resized, d.img)
		if err != nil {
			continue
		}
		if score > best {
			best = score
			count = d.count
		}
	}
	return count
}
