package export

import (
	"bytes"
	"strings"
	"testing"

	"gonum.org/v1/plot/plotter"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/physics"
	"github.com/san-kum/diffpole/internal/viz"
)

func TestTrajectoryToSVG(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
		empty  bool
	}{
		{"none", nil, true},
		{"single", []Point{{1, 1}}, true},
		{"line", []Point{{0, 0}, {1, 1}, {2, 0}}, false},
		{"flat", []Point{{0, 3}, {1, 3}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svg := TrajectoryToSVG(tt.points, 200, 100, "#ff00ff")
			if tt.empty {
				if svg != "" {
					t.Errorf("expected empty output, got %q", svg)
				}
				return
			}
			if !strings.HasPrefix(svg, "<?xml") || !strings.HasSuffix(svg, "</svg>") {
				t.Error("not a complete svg document")
			}
			if !strings.Contains(svg, `d="M`) {
				t.Error("path should start with a move")
			}
			if got := strings.Count(svg, " L"); got != len(tt.points)-1 {
				t.Errorf("got %d line segments, want %d", got, len(tt.points)-1)
			}
			if strings.Contains(svg, "NaN") {
				t.Error("svg contains NaN coordinates")
			}
		})
	}
}

func TestPhasePoints(t *testing.T) {
	states := []dynamo.State{
		{0.1, 0, 0.02, 0},
		{0.2, 0, 0.03, 0},
		{0.3},
	}
	pts := PhasePoints(states, dynamo.IdxX, dynamo.IdxTheta)
	if len(pts) != 2 {
		t.Fatalf("got %d points, want 2", len(pts))
	}
	if pts[1] != (Point{0.2, 0.03}) {
		t.Errorf("pts[1] = %+v", pts[1])
	}
}

func TestCanvasToSVGCountsDots(t *testing.T) {
	c := viz.NewCanvas(3, 2)
	c.Set(0, 0)
	c.Set(5, 7)
	c.Set(3, 2)

	svg := CanvasToSVG(c, 4)
	if got := strings.Count(svg, "<circle"); got != 3 {
		t.Errorf("got %d dots, want 3", got)
	}
	if CanvasToSVG(nil, 4) != "" {
		t.Error("nil canvas should export nothing")
	}
}

func TestSnapshotToSVG(t *testing.T) {
	cp := physics.NewCartPole()
	svg := SnapshotToSVG(cp.Snapshot(), 40, 10, 3)
	if strings.Count(svg, "<circle") == 0 {
		t.Error("frame exported without any dots")
	}
}

func TestMovingAverage(t *testing.T) {
	pts := plotter.XYs{{X: 1, Y: 2}, {X: 2, Y: 4}, {X: 3, Y: 6}, {X: 4, Y: 8}}
	got := movingAverage(pts, 2)
	want := []float64{2, 3, 5, 7}
	for i, w := range want {
		if got[i].Y != w || got[i].X != pts[i].X {
			t.Errorf("avg[%d] = %+v, want Y=%v", i, got[i], w)
		}
	}
}

func TestTrainingCurvePNG(t *testing.T) {
	if _, err := TrainingCurve("empty", nil); err == nil {
		t.Error("expected an error for empty history")
	}

	recs := []dynamo.IterationRecord{
		{Iteration: 1, Steps: 10},
		{Iteration: 2, Steps: 25},
		{Iteration: 3, Steps: 18},
	}
	p, err := TrainingCurve("test", recs)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WritePNG(&buf, p, 2, 1.5); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Error("output is not a png")
	}
}
