package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/tphakala/feedercam/internal/errors"
)

// TestPattern renders a colour-bar test card with a frame counter and
// timestamp. It paces itself to the configured frame rate so that it behaves
// like a real sensor.
type TestPattern struct {
	quality  int
	interval time.Duration

	mu        sync.Mutex
	closed    bool
	count     uint64
	next      time.Time
	bars      *image.RGBA
	canvas    *image.RGBA
	encodeBuf bytes.Buffer
}

// colour bars, SMPTE order
var barColors = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// NewTestPattern returns a test pattern source of the given size.
func NewTestPattern(width, height, quality, fps int) *TestPattern {
	if fps <= 0 {
		fps = 1
	}
	bounds := image.Rect(0, 0, width, height)
	bars := image.NewRGBA(bounds)
	barWidth := max(width/len(barColors), 1)
	for i, c := range barColors {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, height)
		if i == len(barColors)-1 {
			r.Max.X = width
		}
		draw.Draw(bars, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
	}

	return &TestPattern{
		quality:  quality,
		interval: time.Second / time.Duration(fps),
		bars:     bars,
		canvas:   image.NewRGBA(bounds),
	}
}

// Name implements Camera.
func (p *TestPattern) Name() string {
	return "testpattern"
}

// Acquire implements Camera.
func (p *TestPattern) Acquire(ctx context.Context) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	if wait := time.Until(p.next); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	p.next = time.Now().Add(p.interval)

	p.count++
	draw.Draw(p.canvas, p.canvas.Bounds(), p.bars, image.Point{}, draw.Src)
	p.drawLabel(fmt.Sprintf("feedercam #%d", p.count), 2)
	p.drawLabel(time.Now().Format("2006-01-02 15:04:05.000"), 1)

	p.encodeBuf.Reset()
	if err := jpeg.Encode(&p.encodeBuf, p.canvas, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryCamera).
			Context("operation", "encode_test_pattern").
			Build()
	}

	return newFrame(p.encodeBuf.Bytes()), nil
}

// drawLabel writes text on a black strip, line counts up from the bottom edge.
func (p *TestPattern) drawLabel(text string, line int) {
	face := basicfont.Face7x13
	lineHeight := face.Height + 4
	bounds := p.canvas.Bounds()
	top := bounds.Max.Y - line*lineHeight
	if top < 0 {
		return
	}

	strip := image.Rect(0, top, min(bounds.Max.X, 8+len(text)*face.Advance+8), top+lineHeight)
	draw.Draw(p.canvas, strip, image.Black, image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  p.canvas,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(8, top+face.Ascent+2),
	}
	d.DrawString(text)
}

// Release implements Camera.
func (p *TestPattern) Release(f *Frame) {
	releaseFrame(f)
}

// Close implements Camera.
func (p *TestPattern) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
