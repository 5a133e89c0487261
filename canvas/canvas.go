package canvas

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
)

const (
	// Width and Height are the fixed dimensions of every drawing surface
	Width  = 512
	Height = 512

	// LineWidth is the stroke width in pixels
	LineWidth = 4.0
)

var (
	// Background fills a fresh or cleared surface
	Background = color.RGBA{255, 255, 255, 255}
	// Ink is the stroke color
	Ink = color.RGBA{0, 0, 0, 255}
)

// ErrNotReady is returned when a snapshot is requested from a surface that was never initialized
var ErrNotReady = errors.New("canvas is not ready")

// Point is a position on the surface in pixel coordinates
type Point struct {
	X float64 `toml:"x" json:"x"`
	Y float64 `toml:"y" json:"y"`
}

// Canvas owns a fixed size drawable surface and the state of the stroke currently being drawn.
// The zero value and a nil *Canvas are surfaces that have not been initialized; use New.
type Canvas struct {
	mu     sync.Mutex
	dc     *gg.Context
	active bool
	last   Point
}

// New creates an initialized, blank surface
func New() *Canvas {
	c := &Canvas{}
	c.init()
	return c
}

func (c *Canvas) init() {
	dc := gg.NewContext(Width, Height)
	dc.SetLineWidth(LineWidth)
	dc.SetLineCapRound()
	dc.SetLineJoinRound()
	c.dc = dc
	c.fill()
}

// fill paints the whole surface with the background and re-arms the ink color
func (c *Canvas) fill() {
	c.dc.SetColor(Background)
	c.dc.Clear()
	c.dc.SetColor(Ink)
}

// Ready reports whether the surface has been initialized
func (c *Canvas) Ready() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc != nil
}

// Drawing reports whether a stroke is in progress
func (c *Canvas) Drawing() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// BeginStroke starts a new path at p. It does nothing if the surface is not ready.
func (c *Canvas) BeginStroke(p Point) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil {
		return
	}
	c.active = true
	c.last = p
}

// ExtendStroke draws a segment from the last point to p. It does nothing if no stroke is active.
func (c *Canvas) ExtendStroke(p Point) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.dc == nil {
		return
	}
	c.dc.MoveTo(c.last.X, c.last.Y)
	c.dc.LineTo(p.X, p.Y)
	c.dc.Stroke()
	c.last = p
}

// EndStroke closes the current path
func (c *Canvas) EndStroke() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
}

// Clear discards every stroke by filling the surface with the background color.
// An uninitialized surface is left untouched.
func (c *Canvas) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil {
		return
	}
	c.dc.ClearPath()
	c.active = false
	c.fill()
}

// IsBlank reports whether every pixel of the surface still holds the background color.
// An uninitialized surface is considered blank.
func (c *Canvas) IsBlank() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil {
		return true
	}
	rgba, ok := c.dc.Image().(*image.RGBA)
	if !ok {
		return false
	}
	pix := rgba.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		if pix[i] != Background.R || pix[i+1] != Background.G || pix[i+2] != Background.B || pix[i+3] != Background.A {
			return false
		}
	}
	return true
}

// Image returns a copy of the current surface contents
func (c *Canvas) Image() (image.Image, error) {
	if c == nil {
		return nil, ErrNotReady
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil {
		return nil, ErrNotReady
	}
	src := c.dc.Image()
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.(*image.RGBA).Pix)
	return dst, nil
}

// Snapshot encodes the current surface contents as PNG
func (c *Canvas) Snapshot() ([]byte, error) {
	if c == nil {
		return nil, ErrNotReady
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil {
		return nil, ErrNotReady
	}

	var buffer bytes.Buffer
	if err := png.Encode(&buffer, c.dc.Image()); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
