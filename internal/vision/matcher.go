package vision

import (
	"errors"
	"fmt"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

var (
	errNoDescriptors = errors.New("no descriptors")
	errSizeMismatch  = errors.New("neither image contains the other")
)

// reference is one pre-analyzed bitmap of an atlas
type reference struct {
	name string
	img  gocv.Mat // resized gray bitmap
	desc gocv.Mat // ORB descriptors, may be empty
}

func (r *reference) Close() {
	if r == nil {
		return
	}
	r.img.Close()
	r.desc.Close()
}

// featureMatcher wraps an ORB detector and a Hamming brute-force matcher.
// It is not safe for concurrent use.
type featureMatcher struct {
	orb     gocv.ORB
	matcher gocv.BFMatcher
}

func newFeatureMatcher() *featureMatcher {
	return &featureMatcher{
		orb:     gocv.NewORB(),
		matcher: gocv.NewBFMatcherWithParams(gocv.NormHamming, false),
	}
}

func (m *featureMatcher) Close() {
	m.orb.Close()
	m.matcher.Close()
}

// describe computes ORB descriptors. The returned Mat is empty when the image
// has no keypoints, e.g. a blank cell.
func (m *featureMatcher) describe(img gocv.Mat) gocv.Mat {
	mask := gocv.NewMat()
	defer mask.Close()
	_, desc := m.orb.DetectAndCompute(img, mask)
	return desc
}

// meanDistance returns the mean Hamming distance of the best match of every
// query descriptor in train
func (m *featureMatcher) meanDistance(query, train gocv.Mat) (float64, error) {
	if query.Empty() || train.Empty() {
		return 0, errNoDescriptors
	}
	if query.Type() != train.Type() || query.Cols() != train.Cols() {
		return 0, fmt.Errorf("descriptor mismatch: %v/%d vs %v/%d", query.Type(), query.Cols(), train.Type(), train.Cols())
	}

	matches := m.matcher.KnnMatch(query, train, 1)
	dists := make([]float64, 0, len(matches))
	for _, knn := range matches {
		if len(knn) > 0 {
			dists = append(dists, knn[0].Distance)
		}
	}
	if len(dists) == 0 {
		return 0, errNoDescriptors
	}
	return stat.Mean(dists, nil), nil
}

// resizeTo scales img to size. The caller owns the returned Mat.
func resizeTo(img gocv.Mat, size Size) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Resize(img, &dst, size.Point(), 0, 0, gocv.InterpolationLinear)
	return dst
}

// correlate returns the peak normalized cross-correlation (TM_CCOEFF_NORMED)
// of the smaller image slid over the larger one
func correlate(a, b gocv.Mat) (float64, error) {
	if a.Empty() || b.Empty() {
		return 0, errors.New("empty image")
	}
	img, templ := a, b
	if a.Rows() < b.Rows() || a.Cols() < b.Cols() {
		img, templ = b, a
	}
	if templ.Rows() > img.Rows() || templ.Cols() > img.Cols() {
		return 0, errSizeMismatch
	}

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(img, templ, &result, gocv.TmCcoeffNormed, mask)
	if result.Empty() {
		return 0, errors.New("empty correlation result")
	}
	_, maxVal, _, _ := gocv.MinMaxLoc(result)

	score := float64(maxVal)
	// flat images have no variance to correlate
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, errors.New("undefined correlation")
	}
	return score, nil
}

// loadReference reads a gray bitmap, resizes it and computes its descriptors
func loadReference(path string, size Size, m *featureMatcher) (*reference, error) {
	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	if img.Empty() {
		return nil, fmt.Errorf("failed to load reference bitmap: %s", path)
	}
	defer img.Close()

	resized := resizeTo(img, size)
	ref := &reference{name: path, img: resized}
	if m != nil {
		ref.desc = m.describe(resized)
	} else {
		ref.desc = gocv.NewMat()
	}
	return ref, nil
}
