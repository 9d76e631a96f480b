package screener

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	fontOnce sync.Once
	fontTT   *truetype.Font
	fontErr  error
)

// Imprint adds text to bottom of the image
func Imprint(img image.Image, text string) (image.Image, error) {
	face, err := loadFont()
	if err != nil {
		return nil, err
	}

	const padding = 20
	const borderSize = 1

	w := img.Bounds().Dx()
	h := img.Bounds().Dy() + padding*2 + borderSize
	dc := gg.NewContext(w, h)

	dc.DrawImage(img, 0, 0)

	yLine := float64(img.Bounds().Dy())
	dc.SetColor(color.Black)
	dc.DrawLine(0, yLine, float64(w), yLine)
	dc.SetLineWidth(float64(borderSize))
	dc.Stroke()
	dc.SetColor(color.White)
	dc.DrawRectangle(0, yLine+borderSize, float64(w), float64(padding*2))
	dc.Fill()
	dc.SetColor(color.Black)
	dc.SetFontFace(face)
	dc.DrawStringAnchored(text, float64(w)/2, yLine+float64(padding), 0.5, 0.3)

	return dc.Image(), nil
}

func loadFont() (font.Face, error) {
	fontOnce.Do(func() {
		fontTT, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("failed to parse font: %w", fontErr)
	}

	// A face caches glyphs and is not safe for concurrent use.
	return truetype.NewFace(fontTT, &truetype.Options{
		Size: 14,
	}), nil
}
