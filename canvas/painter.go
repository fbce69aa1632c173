package canvas

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/ericfitz/sketchroom/protocol"
	"github.com/lucasb-eyer/go-colorful"
)

// DefaultColor is used when an event carries no color
var DefaultColor = color.RGBA{A: 0xff}

// minRadius keeps hairline strokes visible
const minRadius = 0.5

// ParseColor parses #rgb or #rrggbb. An empty string is DefaultColor.
func ParseColor(s string) (color.RGBA, error) {
	if s == "" {
		return DefaultColor, nil
	}
	parsed, err := colorful.Hex(s)
	if err != nil {
		return DefaultColor, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := parsed.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// colorOrDefault is ParseColor for remote input, where a bad color must not
// stop the stroke from rendering
func colorOrDefault(s string) color.RGBA {
	col, _ := ParseColor(s)
	return col
}

// Segment paints a round-brush line from a to b. A zero-length segment
// paints a dot.
func (c *Canvas) Segment(a, b protocol.Point, width float64, col color.RGBA) {
	r := math.Max(width/2, minRadius)
	box := c.clip(
		math.Min(a.X, b.X)-r, math.Min(a.Y, b.Y)-r,
		math.Max(a.X, b.X)+r, math.Max(a.Y, b.Y)+r,
	)
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			if distToSegment(float64(x)+0.5, float64(y)+0.5, a, b) <= r {
				c.img.SetRGBA(x, y, col)
			}
		}
	}
}

// Rect paints an axis-aligned rectangle, outlined or filled
func (c *Canvas) Rect(x, y, w, h, width float64, col color.RGBA, fill bool) {
	x, y, w, h = normalizeBox(x, y, w, h)
	if fill {
		box := c.clip(x, y, x+w, y+h)
		for py := box.Min.Y; py < box.Max.Y; py++ {
			for px := box.Min.X; px < box.Max.X; px++ {
				c.img.SetRGBA(px, py, col)
			}
		}
		return
	}

	corners := []protocol.Point{{X: x, Y: y}, {X: x + w, Y: y}, {X: x + w, Y: y + h}, {X: x, Y: y + h}}
	for i := range corners {
		c.Segment(corners[i], corners[(i+1)%len(corners)], width, col)
	}
}

// Ellipse paints the ellipse inscribed in the box, outlined or filled
func (c *Canvas) Ellipse(x, y, w, h, width float64, col color.RGBA, fill bool) {
	x, y, w, h = normalizeBox(x, y, w, h)
	cx, cy := x+w/2, y+h/2
	rx, ry := w/2, h/2

	half := math.Max(width/2, minRadius)
	outerX, outerY := rx, ry
	innerX, innerY := 0.0, 0.0
	if !fill {
		outerX, outerY = rx+half, ry+half
		innerX, innerY = rx-half, ry-half
	}
	if outerX <= 0 || outerY <= 0 {
		return
	}

	box := c.clip(cx-outerX, cy-outerY, cx+outerX, cy+outerY)
	for py := box.Min.Y; py < box.Max.Y; py++ {
		for px := box.Min.X; px < box.Max.X; px++ {
			dx, dy := float64(px)+0.5-cx, float64(py)+0.5-cy
			if !insideEllipse(dx, dy, outerX, outerY) {
				continue
			}
			if !fill && innerX > 0 && innerY > 0 && insideEllipse(dx, dy, innerX, innerY) {
				continue
			}
			c.img.SetRGBA(px, py, col)
		}
	}
}

// Shape paints a placed shape. A line runs from (X,Y) to (X+W,Y+H).
func (c *Canvas) Shape(s protocol.ShapePayload) {
	col := colorOrDefault(s.Color)
	switch s.Kind {
	case protocol.ShapeRect:
		c.Rect(s.X, s.Y, s.W, s.H, s.Width, col, s.Fill)
	case protocol.ShapeEllipse:
		c.Ellipse(s.X, s.Y, s.W, s.H, s.Width, col, s.Fill)
	case protocol.ShapeLine:
		c.Segment(protocol.Point{X: s.X, Y: s.Y}, protocol.Point{X: s.X + s.W, Y: s.Y + s.H}, s.Width, col)
	}
}

// clip converts a float box to whole pixels inside the canvas
func (c *Canvas) clip(x0, y0, x1, y1 float64) image.Rectangle {
	r := image.Rect(
		int(math.Floor(x0)), int(math.Floor(y0)),
		int(math.Ceil(x1))+1, int(math.Ceil(y1))+1,
	)
	return r.Intersect(c.img.Bounds())
}

func normalizeBox(x, y, w, h float64) (float64, float64, float64, float64) {
	if w < 0 {
		x, w = x+w, -w
	}
	if h < 0 {
		y, h = y+h, -h
	}
	return x, y, w, h
}

func insideEllipse(dx, dy, rx, ry float64) bool {
	return (dx*dx)/(rx*rx)+(dy*dy)/(ry*ry) <= 1
}

func distToSegment(px, py float64, a, b protocol.Point) float64 {
	vx, vy := b.X-a.X, b.Y-a.Y
	lengthSq := vx*vx + vy*vy
	if lengthSq == 0 {
		return math.Hypot(px-a.X, py-a.Y)
	}
	t := ((px-a.X)*vx + (py-a.Y)*vy) / lengthSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(px-(a.X+t*vx), py-(a.Y+t*vy))
}
