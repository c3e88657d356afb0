package viz

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/diffpole/internal/dynamo"
)

type TickMsg time.Time

// PlayModel replays a recorded episode frame by frame.
type PlayModel struct {
	title     string
	frames    []dynamo.Snapshot
	actions   []float64
	frameTime time.Duration
	head      int
	running   bool
	canvas    *Canvas
}

func NewPlayModel(title string, frames []dynamo.Snapshot, frameTime time.Duration) PlayModel {
	actions := make([]float64, 0, len(frames))
	for _, f := range frames {
		actions = append(actions, f.Action)
	}
	if frameTime <= 0 {
		frameTime = time.Second / 50
	}
	return PlayModel{
		title:     title,
		frames:    frames,
		actions:   actions,
		frameTime: frameTime,
		running:   true,
		canvas:    NewCanvas(sceneWidth, sceneHeight),
	}
}

// Head is the index of the frame on screen.
func (m PlayModel) Head() int { return m.head }

func (m PlayModel) tick() tea.Cmd {
	return tea.Tick(m.frameTime, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m PlayModel) Init() tea.Cmd {
	return m.tick()
}

func (m PlayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "r":
			m.head = 0
			m.running = true
		case "[":
			m.scrub(-10)
		case "]":
			m.scrub(10)
		case "t":
			NextTheme()
		}
	case TickMsg:
		if m.running && m.head < len(m.frames)-1 {
			m.head++
		}
		return m, m.tick()
	}
	return m, nil
}

func (m *PlayModel) scrub(delta int) {
	m.running = false
	m.head = max(0, min(m.head+delta, len(m.frames)-1))
}

func (m PlayModel) View() string {
	if len(m.frames) == 0 {
		return Title(m.title) + "\n\n" + Subtle.Render("nothing to replay") + "\n"
	}
	f := m.frames[m.head]
	NewScene(m.canvas, f.Geometry).Draw(f)
	left := sceneStyle().Render(m.canvas.String())

	last := len(m.frames) - 1
	status := StatusRunning.Render("PLAYING")
	switch {
	case m.head == last:
		status = StatusPaused.Render(fmt.Sprintf("END · %d steps", m.frames[last].Step))
	case !m.running:
		status = StatusPaused.Render("PAUSED")
	}

	var s strings.Builder
	s.WriteString(Title(m.title) + "  " + status + "\n\n")
	s.WriteString(Metric("Step", fmt.Sprintf("%d/%d", f.Step, m.frames[last].Step)) + "\n")
	s.WriteString(Metric("Position", fmt.Sprintf("%+.3f m", f.X)) + "\n")
	s.WriteString(Metric("Velocity", fmt.Sprintf("%+.3f m/s", f.XDot)) + "\n")
	s.WriteString(Metric("Angle", fmt.Sprintf("%+.2f°", f.Theta*180/math.Pi)) + "\n")
	s.WriteString(Metric("Action", fmt.Sprintf("%+.3f", f.Action)) + "\n")
	s.WriteString(Metric("Loss", fmt.Sprintf("%.5f", f.Loss)) + "\n")
	s.WriteString("\n" + ProgressBar(float64(m.head)/float64(max(1, last)), 30) + "\n")
	s.WriteString("\n" + Subtle.Render("force ") + SparklineChart(m.actions[:m.head+1], chartWidth) + "\n")
	s.WriteString("\n" + Separator(40) + "\n")
	s.WriteString(KeyHint.Render("space: pause · r: restart · [ ]: scrub · t: theme · q: quit"))

	return lipgloss.JoinHorizontal(lipgloss.Top, left, Panel.Render(s.String()))
}
