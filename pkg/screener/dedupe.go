package screener

import (
	"crypto/sha256"
	"encoding/binary"
	"image"
	"sync"

	"golang.org/x/image/draw"
)

// Deduper remembers the pixels of every image it has seen.
type Deduper struct {
	mu   sync.Mutex
	seen map[[sha256.Size]byte]struct{}
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[[sha256.Size]byte]struct{})}
}

// Unique reports whether img has not been seen before and records it.
func (d *Deduper) Unique(img image.Image) bool {
	sum := pixelHash(img)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[sum]; ok {
		return false
	}
	d.seen[sum] = struct{}{}
	return true
}

// Len returns the number of distinct images recorded.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func pixelHash(img image.Image) [sha256.Size]byte {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	h := sha256.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[4:], uint32(b.Dy()))
	h.Write(dims[:])
	for y := 0; y < b.Dy(); y++ {
		off := y * rgba.Stride
		h.Write(rgba.Pix[off : off+b.Dx()*4])
	}

	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
