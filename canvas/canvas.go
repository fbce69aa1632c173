// Package canvas renders a room's shared drawing on the client side: a raster
// painted from the relay's event stream, plus the local operation log that
// backs author-scoped undo and redo.
package canvas

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// Canvas is a fixed-size RGBA raster. Every primitive paints opaque pixels,
// so repainting the same operations in the same order gives identical bytes.
type Canvas struct {
	img        *image.RGBA
	background color.RGBA
}

// New creates a canvas filled with background
func New(width, height int, background color.RGBA) *Canvas {
	c := &Canvas{
		img:        image.NewRGBA(image.Rect(0, 0, width, height)),
		background: background,
	}
	c.Reset()
	return c
}

// Reset fills the canvas with its background color
func (c *Canvas) Reset() {
	draw.Draw(c.img, c.img.Bounds(), &image.Uniform{C: c.background}, image.Point{}, draw.Src)
}

// Bounds returns the canvas rectangle
func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Bounds()
}

// Background returns the fill color used by Reset
func (c *Canvas) Background() color.RGBA {
	return c.background
}

// Image returns the backing raster. Callers must not modify it.
func (c *Canvas) Image() *image.RGBA {
	return c.img
}

// DrawImage paints src at the origin over the current contents, clipped to
// the canvas
func (c *Canvas) DrawImage(src image.Image) {
	if src == nil {
		return
	}
	draw.Draw(c.img, c.img.Bounds(), src, src.Bounds().Min, draw.Over)
}

// Pixels returns a copy of the raw RGBA bytes
func (c *Canvas) Pixels() []byte {
	return append([]byte(nil), c.img.Pix...)
}

// EncodePNG encodes the canvas for a snapshot push
func (c *Canvas) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, fmt.Errorf("failed to encode canvas: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePNG decodes a snapshot blob
func DecodePNG(blob []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return img, nil
}
