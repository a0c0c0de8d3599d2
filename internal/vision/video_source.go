package vision

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

// FrameSource interface for different frame sources (screen capture, video file, image files)
type FrameSource interface {
	// ReadFrame returns the next frame, or io.EOF when the source is exhausted
	ReadFrame() (*gocv.Mat, error)
	Close() error
}

// VideoSource provides frames from a recorded game video
type VideoSource struct {
	video        *gocv.VideoCapture
	frameCount   int
	currentFrame int
	step         int
}

// NewVideoSource opens a video file. Only every step-th frame is returned;
// step below 1 means every frame.
func NewVideoSource(videoPath string, step int) (*VideoSource, error) {
	video, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open video file: %w", err)
	}

	if !video.IsOpened() {
		video.Close()
		return nil, fmt.Errorf("video file not opened: %s", videoPath)
	}

	if step < 1 {
		step = 1
	}

	return &VideoSource{
		video:      video,
		frameCount: int(video.Get(gocv.VideoCaptureFrameCount)),
		step:       step,
	}, nil
}

// ReadFrame reads the next sampled frame from the video
func (vs *VideoSource) ReadFrame() (*gocv.Mat, error) {
	if vs.video == nil {
		return nil, fmt.Errorf("video source not initialized")
	}

	mat := gocv.NewMat()
	for i := 0; i < vs.step; i++ {
		if !vs.video.Read(&mat) || mat.Empty() {
			mat.Close()
			return nil, io.EOF
		}
		vs.currentFrame++
	}
	return &mat, nil
}

// Progress returns playback progress (0-1)
func (vs *VideoSource) Progress() float64 {
	if vs.frameCount == 0 {
		return 0
	}
	return float64(vs.currentFrame) / float64(vs.frameCount)
}

// Close releases video resources
func (vs *VideoSource) Close() error {
	if vs.video != nil {
		err := vs.video.Close()
		vs.video = nil
		return err
	}
	return nil
}

// ImageSource replays a list of still images as frames
type ImageSource struct {
	paths []string
	next  int
}

// imageExtensions are the still formats gocv can read
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// NewImageSource creates a source over the given image files
func NewImageSource(paths []string) *ImageSource {
	return &ImageSource{paths: paths}
}

// NewImageDirSource replays every image in dir in name order
func NewImageDirSource(dir string) (*ImageSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return NewImageSource(paths), nil
}

// Len returns the number of images
func (is *ImageSource) Len() int {
	return len(is.paths)
}

// Paths returns the image files in replay order
func (is *ImageSource) Paths() []string {
	return append([]string(nil), is.paths...)
}

// ReadFrame loads the next image
func (is *ImageSource) ReadFrame() (*gocv.Mat, error) {
	if is.next >= len(is.paths) {
		return nil, io.EOF
	}
	path := is.paths[is.next]
	is.next++

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to load image: %s", path)
	}
	return &mat, nil
}

// Close is a no-op; images are loaded per frame
func (is *ImageSource) Close() error {
	return nil
}

// LiveSource wraps Capturer to implement FrameSource
type LiveSource struct {
	capturer *Capturer
}

// NewLiveSource creates a frame source from screen capture
func NewLiveSource(capturer *Capturer) *LiveSource {
	return &LiveSource{capturer: capturer}
}

// ReadFrame captures a frame from the screen
func (ls *LiveSource) ReadFrame() (*gocv.Mat, error) {
	return ls.capturer.CaptureFrame()
}

// Close is a no-op; the pipeline owns the capturer
func (ls *LiveSource) Close() error {
	return nil
}

// VideoInfo holds metadata about a video
type VideoInfo struct {
	FPS        float64
	FrameCount int
	Width      int
	Height     int
	Duration   time.Duration
}

// GetVideoInfo extracts metadata from a video file
func GetVideoInfo(videoPath string) (*VideoInfo, error) {
	video, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return nil, err
	}
	defer video.Close()

	if !video.IsOpened() {
		return nil, fmt.Errorf("failed to open video")
	}

	fps := video.Get(gocv.VideoCaptureFPS)
	frameCount := int(video.Get(gocv.VideoCaptureFrameCount))

	var duration time.Duration
	if fps > 0 {
		duration = time.Duration(float64(frameCount) / fps * float64(time.Second))
	}

	return &VideoInfo{
		FPS:        fps,
		FrameCount: frameCount,
		Width:      int(video.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(video.Get(gocv.VideoCaptureFrameHeight)),
		Duration:   duration,
	}, nil
}

// String returns a formatted string of video info
func (vi *VideoInfo) String() string {
	return fmt.Sprintf("%dx%d, %.2f fps, %d frames, %v",
		vi.Width, vi.Height, vi.FPS, vi.FrameCount, vi.Duration)
}
