package viz

import "github.com/charmbracelet/lipgloss"

// Theme colors the scene and headers. T cycles themes in the live views.
type Theme struct {
	Name  string
	Title lipgloss.Color
	Scene lipgloss.Color
	Chart lipgloss.Color
	Muted lipgloss.Color
}

var (
	ThemeNeon = Theme{
		Name:  "neon",
		Title: lipgloss.Color("#ff00ff"),
		Scene: lipgloss.Color("#00ffff"),
		Chart: lipgloss.Color("#ffff00"),
		Muted: lipgloss.Color("#666666"),
	}

	ThemePhosphor = Theme{
		Name:  "phosphor",
		Title: lipgloss.Color("#88ff88"),
		Scene: lipgloss.Color("#00ff00"),
		Chart: lipgloss.Color("#00cc00"),
		Muted: lipgloss.Color("#005500"),
	}

	ThemePaper = Theme{
		Name:  "paper",
		Title: lipgloss.Color("#ffffff"),
		Scene: lipgloss.Color("#dddddd"),
		Chart: lipgloss.Color("#0088ff"),
		Muted: lipgloss.Color("#888888"),
	}

	CurrentTheme = ThemeNeon

	Themes = []Theme{ThemeNeon, ThemePhosphor, ThemePaper}
)

// GetTheme returns a theme by name, falling back to the first one.
func GetTheme(name string) Theme {
	for _, t := range Themes {
		if t.Name == name {
			return t
		}
	}
	return Themes[0]
}

func SetTheme(name string) {
	CurrentTheme = GetTheme(name)
}

func ThemeNames() []string {
	names := make([]string, len(Themes))
	for i, t := range Themes {
		names[i] = t.Name
	}
	return names
}

// NextTheme switches to the theme after the current one.
func NextTheme() {
	for i, t := range Themes {
		if t.Name == CurrentTheme.Name {
			CurrentTheme = Themes[(i+1)%len(Themes)]
			return
		}
	}
	CurrentTheme = Themes[0]
}

func sceneStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(CurrentTheme.Scene).Padding(0, 1)
}

func chartStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(CurrentTheme.Chart)
}
