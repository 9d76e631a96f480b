package screener

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/draw"
)

// Encode writes img as png or jpeg. JPEG has no alpha channel, so the image
// is flattened onto white first.
func Encode(img image.Image, format string, quality int) (Image, error) {
	var buf bytes.Buffer
	switch format {
	case FormatPNG, "":
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
	case FormatJPEG:
		b := img.Bounds()
		flat := image.NewRGBA(b)
		draw.Draw(flat, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
		draw.Draw(flat, b, img, b.Min, draw.Over)
		if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	return buf.Bytes(), nil
}

// FileName builds <domain>[_<path>]_<timestamp>.<ext> for the result.
func (result Result) FileName(now time.Time) string {
	name := "screenshot"
	if u, err := url.Parse(result.TargetURL); err == nil && u.Host != "" {
		domain := strings.ReplaceAll(u.Host, "www.", "")
		domain = strings.ReplaceAll(domain, ".", "_")
		domain = strings.ReplaceAll(domain, ":", "-")

		path := strings.Trim(u.Path, "/")
		path = strings.ReplaceAll(path, "/", "_")

		name = domain
		if path != "" {
			name += "_" + path
		}
		if name = SanitizeFilename(name); name == "" {
			name = "screenshot"
		}
	}

	ext := result.Format
	if ext == "" {
		ext = FormatPNG
	}

	return fmt.Sprintf("%s_%s.%s", name, now.Format("20060102_150405"), ext)
}

// SaveImageToFolder writes the image into folder and returns the path. An
// existing file is never overwritten; a _N counter is added instead.
func (result Result) SaveImageToFolder(folder string, now time.Time) (string, error) {
	if len(result.Image) == 0 {
		return "", errors.New("no image data to save")
	}

	if err := os.MkdirAll(folder, os.ModePerm); err != nil {
		return "", err
	}

	name := strings.ToLower(result.FileName(now))
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 1; ; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(folder, candidate)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		_, err = file.Write(result.Image)
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", err
		}
		return path, nil
	}
}
