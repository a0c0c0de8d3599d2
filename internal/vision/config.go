package vision

import (
	"encoding/json"
	"fmt"
	"image"
	"os"

	"github.com/thyrook/shogisolver/internal/shogi"
)

// Config holds vision system configuration
type Config struct {
	// Screen capture settings
	CaptureRegion CaptureRegion `json:"capture_region"`
	FPS           int           `json:"fps"`            // Capture frames per second
	DiffThreshold float64       `json:"diff_threshold"` // Mean abs difference that counts as a new frame

	// Board localization
	Thresholds Thresholds `json:"thresholds"`

	// Reference bitmaps
	PieceAtlasDir string `json:"piece_atlas_dir"` // 01.png .. 17r.png
	HandAtlasDir  string `json:"hand_atlas_dir"`  // FU0.png .. HI2.png and num2.png ..

	// Canonical sizes the crops are resized to before matching
	PieceSize Size `json:"piece_size"`
	HandSize  Size `json:"hand_size"`

	// DigitFloor is the minimum correlation a count badge template must exceed
	DigitFloor float64 `json:"digit_floor"`

	// DirectTray selects the tray read from pixels; the other one is inferred
	DirectTray shogi.Side `json:"direct_tray"`

	// SideToMove is written into every record
	SideToMove shogi.Side `json:"side_to_move"`
}

// Thresholds control the brightness scan that finds the board
type Thresholds struct {
	Dark         uint8   `json:"dark"`          // brightness below this is grid ruling
	Bright       uint8   `json:"bright"`        // brightness above this is board interior
	LineCoverage float64 `json:"line_coverage"` // share of the middle band that must agree
}

// Size is a width/height pair in pixels
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Point converts the size to an image.Point for gocv.Resize
func (s Size) Point() image.Point {
	return image.Pt(s.Width, s.Height)
}

// CaptureRegion defines the screen area to capture
type CaptureRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ToRectangle converts CaptureRegion to image.Rectangle
func (cr CaptureRegion) ToRectangle() image.Rectangle {
	return image.Rect(cr.X, cr.Y, cr.X+cr.Width, cr.Y+cr.Height)
}

// DefaultThresholds returns the brightness thresholds used for app screenshots
func DefaultThresholds() Thresholds {
	return Thresholds{
		Dark:         50,
		Bright:       100,
		LineCoverage: 1.0,
	}
}

// DefaultConfig returns default vision configuration
func DefaultConfig() *Config {
	return &Config{
		CaptureRegion: CaptureRegion{
			X:      0,
			Y:      0,
			Width:  720,
			Height: 1280,
		},
		FPS:           1,
		DiffThreshold: 10.0,
		Thresholds:    DefaultThresholds(),
		PieceAtlasDir: "bankoma",
		HandAtlasDir:  "mochigoma_sente",
		PieceSize:     Size{Width: 100, Height: 100},
		HandSize:      Size{Width: 115, Height: 120},
		DigitFloor:    0.5,
		DirectTray:    shogi.Sente,
		SideToMove:    shogi.Sente,
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to a JSON file
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.CaptureRegion.Width <= 0 || c.CaptureRegion.Height <= 0 {
		return fmt.Errorf("invalid capture region dimensions")
	}

	if c.FPS < 1 || c.FPS > 60 {
		return fmt.Errorf("invalid FPS: %d (must be 1-60)", c.FPS)
	}

	if c.DiffThreshold < 0 || c.DiffThreshold > 255 {
		return fmt.Errorf("invalid diff threshold: %f (must be 0-255)", c.DiffThreshold)
	}

	if c.Thresholds.Dark >= c.Thresholds.Bright {
		return fmt.Errorf("dark threshold %d must be below bright threshold %d",
			c.Thresholds.Dark, c.Thresholds.Bright)
	}

	if c.Thresholds.LineCoverage <= 0 || c.Thresholds.LineCoverage > 1 {
		return fmt.Errorf("invalid line coverage: %f (must be in (0,1])", c.Thresholds.LineCoverage)
	}

	if c.PieceSize.Width < 16 || c.PieceSize.Height < 16 {
		return fmt.Errorf("invalid piece size: %dx%d", c.PieceSize.Width, c.PieceSize.Height)
	}

	if c.HandSize.Width < 16 || c.HandSize.Height < 16 {
		return fmt.Errorf("invalid hand size: %dx%d", c.HandSize.Width, c.HandSize.Height)
	}

	if c.DigitFloor < 0 || c.DigitFloor > 1 {
		return fmt.Errorf("invalid digit floor: %f (must be 0-1)", c.DigitFloor)
	}

	if c.DirectTray != shogi.Sente && c.DirectTray != shogi.Gote {
		return fmt.Errorf("invalid direct tray side: %d", c.DirectTray)
	}

	if c.SideToMove != shogi.Sente && c.SideToMove != shogi.Gote {
		return fmt.Errorf("invalid side to move: %d", c.SideToMove)
	}

	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Vision Config:\n"+
			"  Capture Region: (%d,%d) %dx%d\n"+
			"  FPS: %d\n"+
			"  Diff Threshold: %.1f\n"+
			"  Dark/Bright: %d/%d (coverage %.2f)\n"+
			"  Piece Atlas: %s (%dx%d)\n"+
			"  Hand Atlas: %s (%dx%d)\n"+
			"  Digit Floor: %.2f\n"+
			"  Direct Tray: %s\n",
		c.CaptureRegion.X, c.CaptureRegion.Y,
		c.CaptureRegion.Width, c.CaptureRegion.Height,
		c.FPS,
		c.DiffThreshold,
		c.Thresholds.Dark, c.Thresholds.Bright, c.Thresholds.LineCoverage,
		c.PieceAtlasDir, c.PieceSize.Width, c.PieceSize.Height,
		c.HandAtlasDir, c.HandSize.Width, c.HandSize.Height,
		c.DigitFloor,
		c.DirectTray,
	)
}
