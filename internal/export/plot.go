package export

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/san-kum/diffpole/internal/dynamo"
)

// SmoothWindow is the trailing window of the moving average drawn over the
// raw steps-survived curve.
const SmoothWindow = 10

var (
	rawColor    = color.RGBA{R: 120, G: 120, B: 140, A: 255}
	smoothColor = color.RGBA{R: 0, G: 140, B: 255, A: 255}
)

// TrainingCurve builds a steps-survived plot with a moving average.
func TrainingCurve(title string, records []dynamo.IterationRecord) (*plot.Plot, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no history to plot")
	}

	raw := make(plotter.XYs, len(records))
	for i, r := range records {
		raw[i].X = float64(r.Iteration)
		raw[i].Y = float64(r.Steps)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "steps survived"
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(raw)
	if err != nil {
		return nil, err
	}
	line.Color = rawColor
	p.Add(line)
	p.Legend.Add("steps", line)

	if len(raw) >= 2 {
		avg, err := plotter.NewLine(movingAverage(raw, SmoothWindow))
		if err != nil {
			return nil, err
		}
		avg.Color = smoothColor
		avg.Width = vg.Points(2)
		p.Add(avg)
		p.Legend.Add(fmt.Sprintf("mean of %d", SmoothWindow), avg)
	}
	p.Legend.Top = true
	p.Legend.Left = true
	return p, nil
}

func movingAverage(pts plotter.XYs, window int) plotter.XYs {
	out := make(plotter.XYs, len(pts))
	sum := 0.0
	for i := range pts {
		sum += pts[i].Y
		if i >= window {
			sum -= pts[i-window].Y
		}
		n := min(i+1, window)
		out[i].X = pts[i].X
		out[i].Y = sum / float64(n)
	}
	return out
}

// WritePNG renders p as a 300 DPI PNG of the given size in inches.
func WritePNG(w io.Writer, p *plot.Plot, widthIn, heightIn float64) error {
	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(300),
	)
	p.Draw(draw.New(c))

	png := vgimg.PngCanvas{Canvas: c}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return nil
}

// SavePNG writes p to filename, creating parent directories as needed.
func SavePNG(p *plot.Plot, widthIn, heightIn float64, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := WritePNG(bw, p, widthIn, heightIn); err != nil {
		return err
	}
	return bw.Flush()
}
