// Package render writes command results as json, yaml or an aligned table.
//
// Format selection:
//   - --format wins when given; unknown names are errors
//   - otherwise a terminal gets a table and anything else gets json
//
// --no-color only affects tables.
//
// Table cells are derived from exported struct fields, named by their json
// tag. A field tagged `render:"bytes"` is shown as a human-readable size;
// durations are rounded to the millisecond and times use RFC 3339.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format name.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// inlineListMax is the longest string list shown in full in a table cell.
const inlineListMax = 3

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#7C3AED"))

var (
	durationType = reflect.TypeFor[time.Duration]()
	timeType     = reflect.TypeFor[time.Time]()
)

// ParseFormat parses a --format value. The empty string is returned as is
// so the caller can pick a default.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer reads --format and --no-color from c and writes to the app's
// writer.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	tty := isTTY(os.Stdout)
	if format == "" {
		format = FormatJSON
		if tty {
			format = FormatTable
		}
	}
	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color") || !tty,
		out:     c.App.Writer,
	}, nil
}

// NewRendererWithWriter returns a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		v := indirect(reflect.ValueOf(data))
		if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
			return r.renderRows(v)
		}
		return r.renderFields(v)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// column is one table column.
type column struct {
	name  string
	field int // struct field index; -1 for map keys
	key   reflect.Value
	bytes bool
}

// columnsOf lists the columns of a struct or map value. Map keys are
// sorted so output is stable.
func columnsOf(v reflect.Value) []column {
	v = indirect(v)
	var cols []column
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			name, ok := fieldName(f)
			if !ok {
				continue
			}
			cols = append(cols, column{name: name, field: i, bytes: f.Tag.Get("render") == "bytes"})
		}
	case reflect.Map:
		keys := v.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
		})
		for _, k := range keys {
			cols = append(cols, column{name: fmt.Sprint(k.Interface()), field: -1, key: k})
		}
	}
	return cols
}

func (col column) cell(v reflect.Value) string {
	v = indirect(v)
	var fv reflect.Value
	switch {
	case v.Kind() == reflect.Struct && col.field >= 0:
		fv = v.Field(col.field)
	case v.Kind() == reflect.Map && col.key.IsValid():
		fv = v.MapIndex(col.key)
	default:
		return ""
	}
	if col.bytes && fv.IsValid() {
		switch {
		case fv.CanInt():
			return humanize.IBytes(uint64(max(fv.Int(), 0)))
		case fv.CanUint():
			return humanize.IBytes(fv.Uint())
		}
	}
	return formatValue(fv)
}

func (r *Renderer) renderRows(v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	cols := columnsOf(v.Index(0))
	if len(cols) == 0 {
		for i := range v.Len() {
			if _, err := fmt.Fprintln(r.out, formatValue(v.Index(i))); err != nil {
				return err
			}
		}
		return nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.name
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for i := range v.Len() {
		cells := make([]string, len(cols))
		for j, col := range cols {
			cells[j] = col.cell(v.Index(i))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// Styled after alignment; escape codes would skew column widths.
	header, rest, _ := strings.Cut(buf.String(), "\n")
	if !r.noColor {
		header = headerStyle.Render(header)
	}
	_, err := fmt.Fprintf(r.out, "%s\n%s", header, rest)
	return err
}

func (r *Renderer) renderFields(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	switch v.Kind() {
	case reflect.Struct, reflect.Map:
		for _, col := range columnsOf(v) {
			fmt.Fprintf(w, "%s:\t%s\n", col.name, col.cell(v))
		}
	default:
		fmt.Fprintln(w, formatValue(v))
	}
	return w.Flush()
}

// fieldName returns the column name of an exported field: its json tag
// name, else its lowercased Go name. Fields tagged json:"-" are skipped.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", false
	case "":
		return strings.ToLower(f.Name), true
	default:
		return name, true
	}
}

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	switch v.Type() {
	case durationType:
		return time.Duration(v.Int()).Round(time.Millisecond).String()
	case timeType:
		return v.Interface().(time.Time).Format(time.RFC3339)
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		n := v.Len()
		if n == 0 {
			return "[]"
		}
		if v.Type().Elem().Kind() == reflect.String && n <= inlineListMax {
			items := make([]string, n)
			for i := range n {
				items[i] = v.Index(i).String()
			}
			return strings.Join(items, ", ")
		}
		return fmt.Sprintf("[%d items]", n)
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprint(v.Interface())
	}
}

// indirect follows pointers and interfaces; a nil one yields the zero Value.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
