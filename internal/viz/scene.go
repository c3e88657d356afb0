package viz

import (
	"math"

	"github.com/san-kum/diffpole/internal/dynamo"
)

// trackMargin is the free space, in meters, shown beyond each threshold.
const trackMargin = 0.4

// Scene maps cart-pole world coordinates onto a canvas. The track spans
// the full width; the pole pivots on top of the cart.
type Scene struct {
	canvas *Canvas
	scale  float64
	ground int
	center int
}

func NewScene(c *Canvas, g dynamo.Geometry) *Scene {
	w, h := c.PixelSize()
	span := 2 * (g.XThreshold + trackMargin)
	if span <= 0 {
		span = 1
	}
	return &Scene{
		canvas: c,
		scale:  float64(w) / span,
		ground: h - 3,
		center: w / 2,
	}
}

func (s *Scene) px(x float64) int {
	return s.center + int(math.Round(x*s.scale))
}

func (s *Scene) length(m float64) int {
	return int(math.Round(m * s.scale))
}

// Draw renders the track, the failure bounds, the cart and the pole for one
// snapshot.
func (s *Scene) Draw(snap dynamo.Snapshot) {
	c := s.canvas
	g := snap.Geometry
	c.Clear()

	w, _ := c.PixelSize()
	c.DrawLine(0, s.ground+1, w-1, s.ground+1)
	for _, bound := range []float64{-g.XThreshold, g.XThreshold} {
		bx := s.px(bound)
		c.DrawLine(bx, s.ground+2, bx, s.ground-3)
	}

	cx := s.px(snap.X)
	halfW := max(1, s.length(g.CartWidth/2))
	ch := max(2, s.length(g.CartHeight))
	top := s.ground - ch
	c.DrawRect(cx-halfW, top, cx+halfW, s.ground)

	// theta is measured from vertical, positive to the right
	pl := float64(s.length(g.PoleLength))
	tipX := cx + int(math.Round(pl*math.Sin(snap.Theta)))
	tipY := top - int(math.Round(pl*math.Cos(snap.Theta)))
	c.DrawLine(cx, top, tipX, tipY)
}

// CartColumn is the canvas pixel column of the cart center, exposed for
// tests and overlays.
func (s *Scene) CartColumn(x float64) int {
	return s.px(x)
}
