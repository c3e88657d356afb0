package export

import (
	"fmt"
	"strings"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/viz"
)

// Point is one vertex of an exported polyline.
type Point struct{ X, Y float64 }

// PhasePoints pairs state coordinates i and j, e.g. IdxX against IdxTheta.
// States too short for either index are skipped.
func PhasePoints(states []dynamo.State, i, j int) []Point {
	pts := make([]Point, 0, len(states))
	for _, s := range states {
		if i >= len(s) || j >= len(s) {
			continue
		}
		pts = append(pts, Point{X: s[i], Y: s[j]})
	}
	return pts
}

// TrajectoryToSVG draws points as a single path scaled to fill the image
// with a 10% margin. Fewer than two points yield "".
func TrajectoryToSVG(points []Point, width, height int, stroke string) string {
	if len(points) < 2 {
		return ""
	}

	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	padX := max(maxX-minX, 1e-9) * 0.1
	padY := max(maxY-minY, 1e-9) * 0.1
	minX, maxX = minX-padX, maxX+padX
	minY, maxY = minY-padY, maxY+padY

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<path fill="none" stroke="%s" stroke-width="1.5" d="`, width, height, width, height, stroke)

	for i, p := range points {
		x := (p.X - minX) / (maxX - minX) * float64(width)
		y := float64(height) - (p.Y-minY)/(maxY-minY)*float64(height)
		cmd := "L"
		if i == 0 {
			cmd = "M"
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s%.1f,%.1f", cmd, x, y)
	}
	sb.WriteString("\"/>\n</svg>")
	return sb.String()
}

// brailleBits maps sub-pixel (dx, dy) inside a braille cell to its dot bit.
var brailleBits = [4][2]rune{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

// CanvasToSVG emits one circle per lit braille dot. scale is the size of a
// sub-pixel in SVG units.
func CanvasToSVG(canvas *viz.Canvas, scale float64) string {
	if canvas == nil {
		return ""
	}
	w, h := canvas.PixelSize()
	width, height := float64(w)*scale, float64(h)*scale

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<g fill="#00ffff">
`, width, height, width, height)

	r := scale * 0.4
	for row, cells := range canvas.Grid {
		for col, cell := range cells {
			for dy := 0; dy < 4; dy++ {
				for dx := 0; dx < 2; dx++ {
					if cell&brailleBits[dy][dx] == 0 {
						continue
					}
					cx := float64(col*2+dx)*scale + scale/2
					cy := float64(row*4+dy)*scale + scale/2
					fmt.Fprintf(&sb, "<circle cx=\"%.1f\" cy=\"%.1f\" r=\"%.1f\"/>\n", cx, cy, r)
				}
			}
		}
	}
	sb.WriteString("</g>\n</svg>")
	return sb.String()
}

// SnapshotToSVG draws one cart-pole frame and exports it.
func SnapshotToSVG(s dynamo.Snapshot, cols, rows int, scale float64) string {
	c := viz.NewCanvas(cols, rows)
	viz.NewScene(c, s.Geometry).Draw(s)
	return CanvasToSVG(c, scale)
}
