package display

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"mysql-mirror/internal/engine"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a --format value
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unsupported output format %q, must be one of: table, json, yaml", s)
	}
}

// Renderer writes engine results to a writer in the chosen format
type Renderer struct {
	out    io.Writer
	format OutputFormat
	colors ColorSystem
}

// NewRenderer creates a renderer; colors only affect the table format
func NewRenderer(out io.Writer, format OutputFormat, colors ColorSystem) *Renderer {
	if colors == nil {
		colors = NewPlainColorSystem()
	}
	return &Renderer{out: out, format: format, colors: colors}
}

// Status renders the status record
func (r *Renderer) Status(s *engine.Status) error {
	if r.format != FormatTable {
		return r.encode(s)
	}

	if !s.Exists {
		return r.printf("%s\n", r.colors.Colorize("No backup has been recorded yet.", r.colors.Theme().Muted))
	}

	toggle := r.colors.Colorize("disabled", r.colors.Theme().Warning)
	if s.IsEnabled {
		toggle = r.colors.Colorize("enabled", r.colors.Theme().Success)
	}

	table := NewTable(r.colors, "Field", "Value")
	table.AddRow("Auto-backup", toggle)
	table.AddRow("Last backup", r.outcome(s.LastBackupTime, s.LastBackupSuccess))
	if s.LastBackupError != "" {
		table.AddRow("Last backup error", s.LastBackupError)
	}
	table.AddRow("Last restore", r.outcome(s.LastRestoreTime, s.LastRestoreSuccess))
	if s.LastRestoreError != "" {
		table.AddRow("Last restore error", s.LastRestoreError)
	}
	if s.UpdatedAt != nil {
		table.AddRow("Updated", formatTime(*s.UpdatedAt))
	}
	return table.RenderTo(r.out)
}

// Report renders the outcome of a backup or restore run
func (r *Renderer) Report(rep *engine.Report) error {
	if r.format != FormatTable {
		return r.encode(rep)
	}

	theme := r.colors.Theme()
	title := "Run"
	if rep.Operation != "" {
		title = strings.ToUpper(rep.Operation[:1]) + rep.Operation[1:]
	}
	if rep.Error == "" {
		if err := r.printf("%s in %s (run %s)\n", r.colors.Sprintf(theme.Success, "%s completed", title), rep.Duration.Round(time.Millisecond), rep.RunID); err != nil {
			return err
		}
	} else {
		if err := r.printf("%s after %s (run %s)\n", r.colors.Sprintf(theme.Error, "%s failed", title), rep.Duration.Round(time.Millisecond), rep.RunID); err != nil {
			return err
		}
	}

	if len(rep.Tables) > 0 {
		table := NewTable(r.colors, "Table", "Rows", "Duration")
		table.SetColumnAlignment(1, AlignRight)
		table.SetColumnAlignment(2, AlignRight)
		for _, t := range rep.Tables {
			table.AddRow(t.Name, strconv.FormatInt(t.Rows, 10), t.Duration.Round(time.Millisecond).String())
		}
		if err := table.RenderTo(r.out); err != nil {
			return err
		}
	}

	if err := r.printf("%d rows across %d tables\n", rep.RowsCopied(), len(rep.Tables)); err != nil {
		return err
	}
	if len(rep.Skipped) > 0 {
		if err := r.printf("%s %s\n", r.colors.Colorize("Not in backup, left untouched:", theme.Warning), strings.Join(rep.Skipped, ", ")); err != nil {
			return err
		}
	}
	for _, warning := range rep.Warnings {
		if err := r.printf("%s %s\n", r.colors.Colorize("Warning:", theme.Warning), warning); err != nil {
			return err
		}
	}
	if rep.Error != "" {
		return r.printf("%s %s\n", r.colors.Colorize("Error:", theme.Error), rep.Error)
	}
	return nil
}

// InitReport renders the outcome of backup database initialization
func (r *Renderer) InitReport(rep *engine.InitReport) error {
	if r.format != FormatTable {
		return r.encode(rep)
	}

	theme := r.colors.Theme()
	if len(rep.Created) == 0 {
		return r.printf("%s (%d tables already present)\n",
			r.colors.Colorize("Backup database is up to date", theme.Success), len(rep.Existing))
	}

	table := NewTable(r.colors, "Table", "State")
	for _, name := range rep.Created {
		table.AddRow(name, r.colors.Colorize("created", theme.Success))
	}
	for _, name := range rep.Existing {
		table.AddRow(name, r.colors.Colorize("exists", theme.Muted))
	}
	if err := table.RenderTo(r.out); err != nil {
		return err
	}
	return r.printf("Created %d of %d tables\n", len(rep.Created), len(rep.Created)+len(rep.Existing))
}

func (r *Renderer) outcome(at *time.Time, success *bool) string {
	if at == nil {
		return r.colors.Colorize("never", r.colors.Theme().Muted)
	}

	theme := r.colors.Theme()
	result := r.colors.Colorize("unknown", theme.Muted)
	if success != nil && *success {
		result = r.colors.Colorize("succeeded", theme.Success)
	} else if success != nil {
		result = r.colors.Colorize("failed", theme.Error)
	}
	return formatTime(*at) + "  " + result
}

func (r *Renderer) encode(v interface{}) error {
	switch r.format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return r.printf("%s\n", data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", r.format)
	}
}

func (r *Renderer) printf(format string, args ...interface{}) error {
	_, err := fmt.Fprintf(r.out, format, args...)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
