package viz

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/diffpole/internal/dynamo"
)

const (
	sceneWidth  = 60
	sceneHeight = 12
	chartWidth  = 40
)

type snapshotMsg dynamo.Snapshot

type recordMsg dynamo.IterationRecord

type doneMsg struct{ err error }

// TrainModel is the live training view. It only reads from the feed and
// signals the trainer through stop; training runs in another goroutine.
type TrainModel struct {
	handle   string
	total    int
	maxSteps int

	feed *Feed
	done <-chan error
	stop func()

	canvas   *Canvas
	snap     dynamo.Snapshot
	haveSnap bool
	survived []float64
	losses   []float64
	last     dynamo.IterationRecord

	stopping bool
	finished bool
	err      error
}

// NewTrainModel builds the view. done must receive the training result
// exactly once; stop is called when the user asks to end the run.
func NewTrainModel(handle string, total, maxSteps int, feed *Feed, done <-chan error, stop func()) TrainModel {
	return TrainModel{
		handle:   handle,
		total:    total,
		maxSteps: maxSteps,
		feed:     feed,
		done:     done,
		stop:     stop,
		canvas:   NewCanvas(sceneWidth, sceneHeight),
	}
}

// Err is the training result once the program has exited.
func (m TrainModel) Err() error { return m.err }

func waitSnapshot(f *Feed) tea.Cmd {
	return func() tea.Msg { return snapshotMsg(<-f.Snapshots()) }
}

func waitRecord(f *Feed) tea.Cmd {
	return func() tea.Msg { return recordMsg(<-f.Records()) }
}

func waitDone(done <-chan error) tea.Cmd {
	return func() tea.Msg { return doneMsg{err: <-done} }
}

func (m TrainModel) Init() tea.Cmd {
	return tea.Batch(waitSnapshot(m.feed), waitRecord(m.feed), waitDone(m.done))
}

func (m TrainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.stopping && m.stop != nil {
				m.stop()
			}
			m.stopping = true
		case "t":
			NextTheme()
		}
	case snapshotMsg:
		m.snap = dynamo.Snapshot(msg)
		m.haveSnap = true
		return m, waitSnapshot(m.feed)
	case recordMsg:
		rec := dynamo.IterationRecord(msg)
		m.last = rec
		m.survived = append(m.survived, float64(rec.Steps))
		m.losses = append(m.losses, rec.Loss)
		return m, waitRecord(m.feed)
	case doneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m TrainModel) status() string {
	switch {
	case m.err != nil:
		return StatusFailed.Render("FAILED")
	case m.finished:
		return StatusRunning.Render("DONE")
	case m.stopping:
		return StatusPaused.Render("STOPPING")
	}
	return StatusRunning.Render("TRAINING")
}

func (m TrainModel) View() string {
	if m.haveSnap {
		NewScene(m.canvas, m.snap.Geometry).Draw(m.snap)
	}
	left := sceneStyle().Render(m.canvas.String())

	var s strings.Builder
	s.WriteString(Title("DIFFPOLE · "+m.handle) + "  " + m.status() + "\n\n")
	s.WriteString(Metric("Iteration", fmt.Sprintf("%d/%d", m.snap.Iteration, m.total)) + "\n")
	s.WriteString(Metric("Step", fmt.Sprintf("%d/%d", m.snap.Step, m.maxSteps)) + "\n")
	s.WriteString(Metric("Position", fmt.Sprintf("%+.3f m", m.snap.X)) + "\n")
	s.WriteString(Metric("Angle", fmt.Sprintf("%+.2f°", m.snap.Theta*180/math.Pi)) + "\n")
	s.WriteString(Metric("Action", fmt.Sprintf("%+.3f", m.snap.Action)) + "\n")
	s.WriteString(Metric("Loss", fmt.Sprintf("%.5f", m.snap.Loss)) + "\n")
	if len(m.survived) > 0 {
		s.WriteString(Metric("Last", fmt.Sprintf("%d steps", m.last.Steps)) + "\n")
	}
	s.WriteString("\n" + ProgressBar(float64(len(m.survived))/float64(max(1, m.total)), 30) + "\n")

	if len(m.survived) > 1 {
		chart := asciigraph.Plot(m.survived,
			asciigraph.Height(6),
			asciigraph.Width(chartWidth),
			asciigraph.Precision(0),
			asciigraph.Caption("steps survived"))
		s.WriteString("\n" + chartStyle().Render(chart) + "\n")
		s.WriteString("\n" + Subtle.Render("loss ") + SparklineChart(m.losses, chartWidth) + "\n")
	}

	s.WriteString("\n" + Separator(40) + "\n")
	s.WriteString(KeyHint.Render("q: stop after this block · t: theme"))

	return lipgloss.JoinHorizontal(lipgloss.Top, left, Panel.Render(s.String()))
}
