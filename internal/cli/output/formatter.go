package output

import (
	"fmt"
	"io"
	"time"
)

// Format represents the output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// Formatter formats data for output.
type Formatter interface {
	Format(w io.Writer, data any) error
}

// NewFormatter creates a formatter for the given format.
func NewFormatter(format Format, wide bool) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TableFormatter{Wide: wide}
	}
}

// Printer writes command results in the selected format.
type Printer struct {
	W      io.Writer
	Format Format
	Wide   bool
}

// Print writes data. In table format the table built by toTable is
// rendered instead; a nil toTable falls back to the generic table form.
func (p *Printer) Print(data any, toTable func(wide bool) *Table) error {
	if p.Format == FormatTable && toTable != nil {
		return toTable(p.Wide).Render(p.W)
	}
	return NewFormatter(p.Format, p.Wide).Format(p.W, data)
}

// Millis renders a unix-millisecond timestamp; zero renders as "-".
func Millis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}
