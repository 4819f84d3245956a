package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format selects how results are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table, json, yaml (case-insensitive). Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// Table is a header plus rows of cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// AddRow appends a row; values are formatted with %v.
func (t *Table) AddRow(values ...any) {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = fmt.Sprint(v)
	}
	t.Rows = append(t.Rows, row)
}

// Printer renders command results.
type Printer struct {
	w      io.Writer
	format Format
}

func NewPrinter(w io.Writer, f Format) *Printer {
	if f == "" {
		f = FormatTable
	}
	return &Printer{w: w, format: f}
}

// Format reports the printer's format.
func (p *Printer) Format() Format {
	return p.format
}

// Print renders v. In table format the table func builds the rows; a nil
// table func falls back to YAML.
func (p *Printer) Print(v any, table func() Table) error {
	switch p.format {
	case FormatJSON:
		return p.printJSON(v)
	case FormatYAML:
		return p.printYAML(v)
	default:
		if table == nil {
			return p.printYAML(v)
		}
		return p.printTable(table())
	}
}

// Message prints an acknowledgment. JSON and YAML wrap it as {"message": ...}.
func (p *Printer) Message(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if p.format == FormatTable {
		if err := writeAll(p.w, []byte(msg+"\n")); err != nil {
			return &WriteError{Op: "write", Err: err}
		}
		return nil
	}
	return p.Print(struct {
		Message string `json:"message"`
	}{msg}, nil)
}

func (p *Printer) printJSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return &WriteError{Op: "encode_json", Err: err}
	}
	return nil
}

// printYAML goes through JSON so field names follow the json tags the API
// types already carry, and key order matches the JSON rendering.
func (p *Printer) printYAML(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return &WriteError{Op: "decode_json", Err: err}
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return &WriteError{Op: "encode_yaml", Err: err}
	}
	if err := enc.Close(); err != nil {
		return &WriteError{Op: "encode_yaml", Err: err}
	}
	return nil
}

// blockStyle clears the flow and quoting styles JSON input carries. The
// encoder re-quotes scalars that would otherwise change type.
func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func (p *Printer) printTable(t Table) error {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	if len(t.Header) > 0 {
		fmt.Fprintln(tw, strings.ToUpper(strings.Join(t.Header, "\t")))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}
