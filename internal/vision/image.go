package vision

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"gocv.io/x/gocv"
)

// LoadImage decodes an image file of any registered format
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// ToGray converts any image to an 8-bit gray image whose bounds start at 0,0
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}

	return gray
}

// CropGray copies a region into a new gray image with its own pixel buffer.
// It returns nil for an empty region.
func CropGray(img *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return dst
}

// CropImage copies a region of any image into a new RGBA image
func CropImage(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return dst
}

// grayToMat converts a gray image to a single channel Mat. The caller owns the Mat.
func grayToMat(img *image.Gray) (gocv.Mat, error) {
	b := img.Bounds()
	if b.Min != (image.Point{}) || img.Stride != b.Dx() {
		img = CropGray(img, b)
	}
	return gocv.ImageGrayToMatGray(img)
}

// matToGray converts a Mat of 1, 3 or 4 channels to a gray image
func matToGray(mat gocv.Mat) (*image.Gray, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	gray, err := grayMat(mat)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	img, err := gray.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert mat to image: %w", err)
	}
	return ToGray(img), nil
}
