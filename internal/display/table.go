package display

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Corner     string
	Horizontal string
	Vertical   string
}

// ASCIIBorderStyle draws tables with plain ASCII characters
var ASCIIBorderStyle = BorderStyle{Corner: "+", Horizontal: "-", Vertical: "|"}

// Table renders rows of cells with aligned columns. Cells may carry color
// escape codes; widths count visible runes only.
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	colors     ColorSystem
}

// NewTable creates a table; colors may be nil
func NewTable(colors ColorSystem, headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		colors:     colors,
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetColumnAlignment sets the alignment for a specific column
func (t *Table) SetColumnAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table, or "" when it has neither headers nor rows
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.columnWidths()
	var b strings.Builder

	b.WriteString(t.rule(widths))
	if len(t.headers) > 0 {
		b.WriteString(t.row(t.headers, widths, true))
		b.WriteString(t.rule(widths))
	}
	for _, row := range t.rows {
		b.WriteString(t.row(row, widths, false))
	}
	if len(t.rows) > 0 {
		b.WriteString(t.rule(widths))
	}
	return b.String()
}

// RenderTo renders the table to the specified writer
func (t *Table) RenderTo(w io.Writer) error {
	_, err := fmt.Fprint(w, t.Render())
	return err
}

func (t *Table) columnWidths() []int {
	count := len(t.headers)
	for _, row := range t.rows {
		if len(row) > count {
			count = len(row)
		}
	}

	widths := make([]int, count)
	measure := func(cells []string) {
		for i, cell := range cells {
			if n := visibleWidth(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}
	return widths
}

func (t *Table) rule(widths []int) string {
	var b strings.Builder
	b.WriteString(t.border.Corner)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2))
		b.WriteString(t.border.Corner)
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) row(cells []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		pad := strings.Repeat(" ", w-visibleWidth(cell))
		if header && t.colors != nil {
			cell = t.colors.Colorize(cell, t.colors.Theme().Primary)
		}

		b.WriteString(" ")
		if t.alignments[i] == AlignRight {
			b.WriteString(pad + cell)
		} else {
			b.WriteString(cell + pad)
		}
		b.WriteString(" ")
		b.WriteString(t.border.Vertical)
	}
	b.WriteString("\n")
	return b.String()
}

// visibleWidth counts runes outside of ANSI CSI sequences
func visibleWidth(s string) int {
	if !strings.Contains(s, "\x1b[") {
		return utf8.RuneCountInString(s)
	}

	width := 0
	inEscape := false
	for i, r := range s {
		switch {
		case inEscape:
			if r >= 0x40 && r <= 0x7e && s[i-1] != '\x1b' {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			width++
		}
	}
	return width
}
