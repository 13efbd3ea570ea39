// Package export renders engine output as text tables, CSV, XLSX, JSON or
// YAML.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Format is an output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatXLSX  Format = "xlsx"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Formats lists every supported output format.
var Formats = []Format{FormatTable, FormatCSV, FormatXLSX, FormatJSON, FormatYAML}

// ParseFormat parses a format name. "yml" is accepted for YAML.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatCSV, FormatXLSX, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", eris.Errorf("export: unsupported format %q", s)
}

// Tabular reports whether the format writes Tables rather than the raw value.
func (f Format) Tabular() bool {
	return f == FormatTable || f == FormatCSV || f == FormatXLSX
}

// Column describes one table column. Decimals applies to float cells in
// the text table only; CSV and XLSX keep full precision.
type Column struct {
	Name     string
	Decimals int
}

// Table is a named grid of cells. Cells may be string, int, float64,
// *float64, bool or decimal.Decimal; a nil *float64 renders empty.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]any
}

// Header returns the column names.
func (t Table) Header() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Writer encodes values and tables to one output format.
type Writer struct {
	Format  Format
	printer *message.Printer
}

// NewWriter returns a Writer for f. Text tables format numbers for lang.
func NewWriter(f Format, lang language.Tag) *Writer {
	return &Writer{Format: f, printer: message.NewPrinter(lang)}
}

// Write encodes value for JSON and YAML, or the tables for the tabular
// formats.
func (wr *Writer) Write(w io.Writer, value any, tables ...Table) error {
	switch wr.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(value); err != nil {
			return eris.Wrap(err, "export: encode json")
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(value); err != nil {
			return eris.Wrap(err, "export: encode yaml")
		}
		return eris.Wrap(enc.Close(), "export: close yaml encoder")
	case FormatCSV:
		return writeCSV(w, tables)
	case FormatXLSX:
		return writeXLSX(w, tables)
	case FormatTable:
		return wr.writeText(w, tables)
	}
	return eris.Errorf("export: unsupported format %q", wr.Format)
}

// WriteFile writes to path, or to stdout when path is empty or "-".
func (wr *Writer) WriteFile(path string, value any, tables ...Table) error {
	if path == "" || path == "-" {
		if wr.Format == FormatXLSX {
			return eris.New("export: xlsx output needs a file path")
		}
		return wr.Write(os.Stdout, value, tables...)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create output file %s", path)
	}
	if err := wr.Write(f, value, tables...); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

func writeCSV(w io.Writer, tables []Table) error {
	cw := csv.NewWriter(w)
	for i, t := range tables {
		if len(tables) > 1 {
			if i > 0 {
				if err := cw.Write(nil); err != nil {
					return eris.Wrap(err, "export: write csv separator")
				}
			}
			if err := cw.Write([]string{"# " + t.Name}); err != nil {
				return eris.Wrap(err, "export: write csv title")
			}
		}
		if err := cw.Write(t.Header()); err != nil {
			return eris.Wrap(err, "export: write csv header")
		}
		for _, row := range t.Rows {
			rec := make([]string, len(row))
			for j, cell := range row {
				rec[j] = plain(cell)
			}
			if err := cw.Write(rec); err != nil {
				return eris.Wrap(err, "export: write csv row")
			}
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func writeXLSX(w io.Writer, tables []Table) error {
	f := xlsx.NewFile()
	for _, t := range tables {
		sheet, err := f.AddSheet(sheetName(t.Name))
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", t.Name)
		}
		header := sheet.AddRow()
		for _, name := range t.Header() {
			header.AddCell().SetString(name)
		}
		for _, row := range t.Rows {
			r := sheet.AddRow()
			for _, cell := range row {
				setCell(r.AddCell(), cell)
			}
		}
	}
	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func (wr *Writer) writeText(w io.Writer, tables []Table) error {
	for i, t := range tables {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return eris.Wrap(err, "export: write table separator")
			}
		}
		if t.Name != "" {
			if _, err := fmt.Fprintf(w, "%s\n", t.Name); err != nil {
				return eris.Wrap(err, "export: write table title")
			}
		}

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
		header := t.Header()
		fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")    //nolint:errcheck
		fmt.Fprintln(tw, strings.Repeat("-\t", len(header))) //nolint:errcheck
		for _, row := range t.Rows {
			cells := make([]string, len(row))
			for j, cell := range row {
				decimals := 2
				if j < len(t.Columns) {
					decimals = t.Columns[j].Decimals
				}
				cells[j] = wr.pretty(cell, decimals)
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t")+"\t") //nolint:errcheck
		}
		if err := tw.Flush(); err != nil {
			return eris.Wrap(err, "export: flush table")
		}
	}
	return nil
}

func (wr *Writer) pretty(cell any, decimals int) string {
	verb := fmt.Sprintf("%%.%df", decimals)
	switch v := cell.(type) {
	case float64:
		return wr.printer.Sprintf(verb, v)
	case *float64:
		if v == nil {
			return "-"
		}
		return wr.printer.Sprintf(verb, *v)
	case int:
		return wr.printer.Sprintf("%d", v)
	case decimal.Decimal:
		return wr.printer.Sprintf(verb, v.InexactFloat64())
	}
	return plain(cell)
}

func plain(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return formatFloat(v)
	case *float64:
		if v == nil {
			return ""
		}
		return formatFloat(*v)
	case bool:
		return strconv.FormatBool(v)
	case decimal.Decimal:
		return v.String()
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", cell)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

func setCell(c *xlsx.Cell, cell any) {
	switch v := cell.(type) {
	case int:
		c.SetInt(v)
	case float64:
		c.SetFloat(v)
	case *float64:
		if v != nil {
			c.SetFloat(*v)
		}
	case bool:
		c.SetBool(v)
	case decimal.Decimal:
		c.SetFloat(v.InexactFloat64())
	default:
		c.SetString(plain(cell))
	}
}

// sheetName trims a title to the 31 characters a worksheet name allows.
func sheetName(name string) string {
	if name == "" {
		name = "Sheet1"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
