package vision

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/kbinani/screenshot"
	"gocv.io/x/gocv"
)

// Capturer handles screen capture and frame change detection
type Capturer struct {
	region        image.Rectangle
	diffThreshold float64
	lastFrame     *gocv.Mat
	mu            sync.Mutex
}

// NewCapturer creates a capturer for a screen region
func NewCapturer(region image.Rectangle, diffThreshold float64) *Capturer {
	return &Capturer{
		region:        region,
		diffThreshold: diffThreshold,
	}
}

// Region returns the captured screen area
func (c *Capturer) Region() image.Rectangle {
	return c.region
}

// CaptureImage grabs the screen region as an RGBA image
func (c *Capturer) CaptureImage() (*image.RGBA, error) {
	img, err := screenshot.CaptureRect(c.region)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen: %w", err)
	}
	return img, nil
}

// CaptureFrame captures the current screen region as a BGRA mat
func (c *Capturer) CaptureFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	img, err := c.CaptureImage()
	if err != nil {
		return nil, err
	}

	mat, err := rgbaToMat(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image to mat: %w", err)
	}
	return mat, nil
}

// DetectChange checks if the frame differs from the last changed frame by more
// than the diff threshold (mean absolute gray difference). The first frame
// always counts as changed.
func (c *Capturer) DetectChange(frame *gocv.Mat) (bool, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0, errors.New("empty frame")
	}

	gray, err := grayMat(*frame)
	if err != nil {
		return false, 0, err
	}

	if c.lastFrame == nil || c.lastFrame.Rows() != gray.Rows() || c.lastFrame.Cols() != gray.Cols() {
		if c.lastFrame != nil {
			c.lastFrame.Close()
		}
		c.lastFrame = &gray
		return true, 255.0, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(*c.lastFrame, gray, &diff)

	meanVal := diff.Mean().Val1
	changed := meanVal > c.diffThreshold

	if changed {
		c.lastFrame.Close()
		c.lastFrame = &gray
	} else {
		gray.Close()
	}

	return changed, meanVal, nil
}

// Reset forgets the last frame so the next one counts as changed
func (c *Capturer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastFrame != nil {
		c.lastFrame.Close()
		c.lastFrame = nil
	}
}

// Close releases resources
func (c *Capturer) Close() {
	c.Reset()
}

// ValidateCapture checks that the screen region can be grabbed
func (c *Capturer) ValidateCapture() error {
	if c.region.Empty() {
		return fmt.Errorf("capture validation failed: empty region %v", c.region)
	}
	img, err := c.CaptureImage()
	if err != nil {
		return fmt.Errorf("capture validation failed: %w", err)
	}
	if img.Bounds().Dx() != c.region.Dx() || img.Bounds().Dy() != c.region.Dy() {
		return fmt.Errorf("capture validation failed: expected %dx%d, got %dx%d",
			c.region.Dx(), c.region.Dy(), img.Bounds().Dx(), img.Bounds().Dy())
	}
	return nil
}

// rgbaToMat converts an RGBA image to a BGRA mat
func rgbaToMat(img *image.RGBA) (*gocv.Mat, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}

	buf := make([]byte, 0, width*height*4)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.Pix[img.PixOffset(bounds.Min.X, y):img.PixOffset(bounds.Max.X, y)]
		for x := 0; x < len(row); x += 4 {
			buf = append(buf, row[x+2], row[x+1], row[x], row[x+3])
		}
	}

	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC4, buf)
	if err != nil {
		return nil, err
	}
	return &mat, nil
}

// grayMat converts a 1, 3 or 4 channel mat to a new single channel mat
func grayMat(mat gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	switch mat.Channels() {
	case 1:
		mat.CopyTo(&gray)
	case 3:
		gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(mat, &gray, gocv.ColorBGRAToGray)
	default:
		gray.Close()
		return gocv.Mat{}, fmt.Errorf("unsupported channel count: %d", mat.Channels())
	}
	return gray, nil
}
