// Package stitch composes viewport-sized captures into one full-page image.
package stitch

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

var (
	// ErrInvalidGeometry is returned for non-positive page or viewport sizes.
	ErrInvalidGeometry = errors.New("invalid page geometry")

	// ErrShotCount is returned when the number of shots does not match the
	// geometry.
	ErrShotCount = errors.New("wrong number of shots")
)

// Geometry describes the page being captured, in CSS pixels.
type Geometry struct {
	ViewportWidth  int
	ViewportHeight int
	TotalHeight    int
}

// Validate checks that every dimension is positive.
func (g Geometry) Validate() error {
	if g.ViewportWidth <= 0 || g.ViewportHeight <= 0 || g.TotalHeight <= 0 {
		return fmt.Errorf("%w: viewport %dx%d, total height %d",
			ErrInvalidGeometry, g.ViewportWidth, g.ViewportHeight, g.TotalHeight)
	}
	return nil
}

// ShotCount is the number of viewport captures needed to cover the page.
func (g Geometry) ShotCount() int {
	if g.ViewportHeight <= 0 || g.TotalHeight <= 0 {
		return 0
	}
	return (g.TotalHeight + g.ViewportHeight - 1) / g.ViewportHeight
}

// Offsets returns the vertical scroll position of each shot.
func (g Geometry) Offsets() []int {
	offsets := make([]int, g.ShotCount())
	for i := range offsets {
		offsets[i] = i * g.ViewportHeight
	}
	return offsets
}

// ShotFunc scrolls the page to offsetY and returns what the viewport shows.
type ShotFunc func(index, offsetY int) (image.Image, error)

// Capture requests exactly g.ShotCount() shots from shoot and stitches them.
func Capture(g Geometry, shoot ShotFunc) (*image.RGBA, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	offsets := g.Offsets()
	shots := make([]image.Image, 0, len(offsets))
	for i, y := range offsets {
		shot, err := shoot(i, y)
		if err != nil {
			return nil, fmt.Errorf("shot %d at offset %d: %w", i+1, y, err)
		}
		shots = append(shots, shot)
	}
	return Stitch(shots, g)
}

// Stitch pastes shots top to bottom onto a ViewportWidth x TotalHeight
// canvas. Shot i lands at i*ViewportHeight; only the part that fits below
// the previous shot and inside the canvas is copied, so the last shot is
// cropped to the remaining height.
func Stitch(shots []image.Image, g Geometry) (*image.RGBA, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if want := g.ShotCount(); len(shots) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrShotCount, len(shots), want)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, g.ViewportWidth, g.TotalHeight))
	for i, shot := range shots {
		if shot == nil {
			return nil, fmt.Errorf("shot %d is nil", i+1)
		}

		y := i * g.ViewportHeight
		height := g.ViewportHeight
		if remaining := g.TotalHeight - y; remaining < height {
			height = remaining
		}

		dst := image.Rect(0, y, g.ViewportWidth, y+height).Intersect(canvas.Bounds())
		draw.Draw(canvas, dst, shot, shot.Bounds().Min, draw.Src)
	}
	return canvas, nil
}
