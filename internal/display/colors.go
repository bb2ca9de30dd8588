package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color represents terminal color options
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightCyan
	ColorBrightWhite
)

// ColorTheme defines the color of each kind of output
type ColorTheme struct {
	Primary Color
	Success Color
	Warning Color
	Error   Color
	Muted   Color
}

// ColorSystem applies colors when the terminal supports them
type ColorSystem interface {
	Colorize(text string, color Color) string
	Sprintf(color Color, format string, args ...interface{}) string
	IsColorSupported() bool
	Theme() ColorTheme
}

type colorSystem struct {
	theme          ColorTheme
	colorSupported bool
	colorMap       map[Color]*color.Color
}

// NewColorSystem creates a color system for out, detecting whether it
// accepts colors
func NewColorSystem(theme ColorTheme, out *os.File) ColorSystem {
	return newColorSystem(theme, ColorSupported(out))
}

// NewPlainColorSystem creates a color system that never emits escape codes
func NewPlainColorSystem() ColorSystem {
	return newColorSystem(PlainTextTheme(), false)
}

func newColorSystem(theme ColorTheme, supported bool) *colorSystem {
	cs := &colorSystem{
		theme:          theme,
		colorSupported: supported,
		colorMap: map[Color]*color.Color{
			ColorReset:        color.New(color.Reset),
			ColorRed:          color.New(color.FgRed),
			ColorGreen:        color.New(color.FgGreen),
			ColorYellow:       color.New(color.FgYellow),
			ColorBlue:         color.New(color.FgBlue),
			ColorMagenta:      color.New(color.FgMagenta),
			ColorCyan:         color.New(color.FgCyan),
			ColorWhite:        color.New(color.FgWhite),
			ColorBrightRed:    color.New(color.FgHiRed),
			ColorBrightGreen:  color.New(color.FgHiGreen),
			ColorBrightYellow: color.New(color.FgHiYellow),
			ColorBrightBlue:   color.New(color.FgHiBlue),
			ColorBrightCyan:   color.New(color.FgHiCyan),
			ColorBrightWhite:  color.New(color.FgHiWhite),
		},
	}

	// fatih/color decides from stdout alone; the writer may be something else
	if supported {
		for _, c := range cs.colorMap {
			c.EnableColor()
		}
	}
	return cs
}

// ColorSupported reports whether out is a terminal that accepts colors.
// NO_COLOR and TERM=dumb turn colors off, FORCE_COLOR turns them on for
// pipes.
func ColorSupported(out *os.File) bool {
	if out == nil {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if !isatty.IsTerminal(out.Fd()) && !isatty.IsCygwinTerminal(out.Fd()) {
		return false
	}
	return termenv.NewOutput(out).EnvColorProfile() != termenv.Ascii
}

// Colorize applies color to text if color is supported
func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.colorSupported || clr == ColorReset {
		return text
	}
	if c, ok := cs.colorMap[clr]; ok {
		return c.Sprint(text)
	}
	return text
}

func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

func (cs *colorSystem) IsColorSupported() bool {
	return cs.colorSupported
}

func (cs *colorSystem) Theme() ColorTheme {
	return cs.theme
}

// DarkColorTheme returns a color theme optimized for dark terminals
func DarkColorTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBrightBlue,
		Success: ColorBrightGreen,
		Warning: ColorBrightYellow,
		Error:   ColorBrightRed,
		Muted:   ColorWhite,
	}
}

// LightColorTheme returns a color theme optimized for light terminals
func LightColorTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBlue,
		Success: ColorGreen,
		Warning: ColorYellow,
		Error:   ColorRed,
		Muted:   ColorMagenta,
	}
}

// HighContrastColorTheme returns a high-contrast color theme for accessibility
func HighContrastColorTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBrightWhite,
		Success: ColorBrightGreen,
		Warning: ColorBrightYellow,
		Error:   ColorBrightRed,
		Muted:   ColorBrightCyan,
	}
}

// PlainTextTheme returns a theme that uses no colors
func PlainTextTheme() ColorTheme {
	return ColorTheme{}
}

// GetThemeByName returns a color theme by name, falling back to dark
func GetThemeByName(name string) ColorTheme {
	switch name {
	case "light":
		return LightColorTheme()
	case "high-contrast":
		return HighContrastColorTheme()
	case "plain", "none":
		return PlainTextTheme()
	default:
		return DarkColorTheme()
	}
}
