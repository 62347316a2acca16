package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"json", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestNewFormatter(t *testing.T) {
	if _, ok := NewFormatter(FormatJSON, false).(*JSONFormatter); !ok {
		t.Error("expected JSONFormatter")
	}
	if _, ok := NewFormatter(FormatYAML, false).(*YAMLFormatter); !ok {
		t.Error("expected YAMLFormatter")
	}
	tf, ok := NewFormatter("unknown", true).(*TableFormatter)
	if !ok || !tf.Wide {
		t.Error("expected wide TableFormatter as default")
	}
}

type sample struct {
	ID        string `json:"id"`
	UseCount  int64  `json:"use_count"`
	Consumed  bool   `json:"consumed"`
	Secret    string `json:"-"`
	Omitted   string `json:"omitted,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
}

func TestJSONFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONFormatter{}).Format(&buf, sample{ID: "ctt-1", UseCount: 2, Secret: "x"}); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"id": "ctt-1"`) || !strings.Contains(out, `"use_count": 2`) {
		t.Errorf("output = %s", out)
	}
	if strings.Contains(out, "Secret") {
		t.Error("json:\"-\" field leaked")
	}
}

func TestYAMLFormatter_FollowsJSONTags(t *testing.T) {
	var buf bytes.Buffer
	if err := (&YAMLFormatter{}).Format(&buf, sample{ID: "ctt-1", Consumed: true, Secret: "x"}); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"id: ctt-1", "consumed: true", "use_count: 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "secret") || strings.Contains(out, "omitted") {
		t.Errorf("output has hidden fields:\n%s", out)
	}
}

func TestPrinter(t *testing.T) {
	data := sample{ID: "ctt-1"}
	build := func(wide bool) *Table {
		tb := &Table{Headers: []string{"ID"}}
		if wide {
			tb.Headers = append(tb.Headers, "USES")
		}
		tb.AddRow(data.ID)
		return tb
	}

	tests := []struct {
		name   string
		format Format
		wide   bool
		want   string
	}{
		{"table uses builder", FormatTable, false, "ID\nctt-1\n"},
		{"wide table", FormatTable, true, "USES"},
		{"json ignores builder", FormatJSON, false, `"id": "ctt-1"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := &Printer{W: &buf, Format: tt.format, Wide: tt.wide}
			if err := p.Print(data, build); err != nil {
				t.Fatalf("Print() error = %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestMillis(t *testing.T) {
	if got := Millis(0); got != "-" {
		t.Errorf("Millis(0) = %q", got)
	}
	if got := Millis(1_700_000_000_000); len(got) != len("2006-01-02 15:04:05") {
		t.Errorf("Millis() = %q", got)
	}
}
