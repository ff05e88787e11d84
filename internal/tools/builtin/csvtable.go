package builtin

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/simage-ai/convoengine/internal/tools"
)

// CSVTableLoader loads a data_file resource's CSV/TSV file into memory.
// None of the example repos import a dataframe library (no gonum/dataframe
// equivalent appeared in the retrieved pack), so this loader is built on
// encoding/csv rather than a third-party dependency — see DESIGN.md.
type CSVTableLoader struct{}

func (CSVTableLoader) Load(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csvtable: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csvtable: parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return &csvTable{}, nil
	}

	header := records[0]
	cols := make([]tools.ColumnInfo, len(header))
	rows := make([]map[string]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = inferValue(rec[i])
			}
		}
		rows = append(rows, row)
	}
	for i, h := range header {
		cols[i] = tools.ColumnInfo{Name: h, Type: inferColumnType(rows, h)}
	}
	return &csvTable{columns: cols, rows: rows}, nil
}

func inferValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func inferColumnType(rows []map[string]any, col string) string {
	for _, r := range rows {
		if v, ok := r[col]; ok {
			switch v.(type) {
			case float64:
				return "number"
			default:
				return "string"
			}
		}
	}
	return "string"
}

type csvTable struct {
	columns []tools.ColumnInfo
	rows    []map[string]any
}

func (t *csvTable) Columns() []tools.ColumnInfo { return t.columns }
func (t *csvTable) Rows() []map[string]any      { return t.rows }

var (
	aggCallRe = regexp.MustCompile(`(?i)\[['"]([^'"]+)['"]\]\s*\.\s*(sum|mean|count|min|max|median)\s*\(`)
	lenRe     = regexp.MustCompile(`(?i)len\s*\(\s*df\s*\)`)
	headRe    = regexp.MustCompile(`(?i)\.head\s*\(\s*(\d+)?\s*\)`)
)

// Eval interprets a small vocabulary of pandas-shaped expressions
// (df['col'].sum()/.mean()/.count()/.min()/.max()/.median(), len(df),
// df.head(n)) against the loaded rows. Generated snippets outside this
// vocabulary fall back to a plain data dump — this port has no embedded
// Python/pandas runtime, so arbitrary snippet execution is intentionally
// out of scope (see DESIGN.md); the denylist check upstream still runs
// against the full generated text regardless of what Eval recognizes.
func (t *csvTable) Eval(snippet string) (string, error) {
	if lenRe.MatchString(snippet) {
		return strconv.Itoa(len(t.rows)), nil
	}
	if m := aggCallRe.FindStringSubmatch(snippet); m != nil {
		return t.aggregate(m[1], strings.ToLower(m[2]))
	}
	if m := headRe.FindStringSubmatch(snippet); m != nil {
		n := 5
		if m[1] != "" {
			if v, err := strconv.Atoi(m[1]); err == nil {
				n = v
			}
		}
		return t.render(n), nil
	}
	return t.render(len(t.rows)), nil
}

func (t *csvTable) aggregate(col, op string) (string, error) {
	var values []float64
	for _, r := range t.rows {
		if v, ok := r[col].(float64); ok {
			values = append(values, v)
		}
	}
	switch op {
	case "count":
		return strconv.Itoa(len(values)), nil
	case "sum":
		return strconv.FormatFloat(sum(values), 'f', -1, 64), nil
	case "mean":
		if len(values) == 0 {
			return "0", nil
		}
		return strconv.FormatFloat(sum(values)/float64(len(values)), 'f', -1, 64), nil
	case "min":
		return strconv.FormatFloat(minOf(values), 'f', -1, 64), nil
	case "max":
		return strconv.FormatFloat(maxOf(values), 'f', -1, 64), nil
	case "median":
		return strconv.FormatFloat(median(values), 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("csvtable: unsupported aggregate %q", op)
	}
}

func sum(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s
}

func minOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func median(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vs...)
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func (t *csvTable) render(n int) string {
	if n > len(t.rows) {
		n = len(t.rows)
	}
	var b strings.Builder
	for i, c := range t.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
	}
	b.WriteString("\n")
	for _, r := range t.rows[:n] {
		for i, c := range t.columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%v", r[c.Name])
		}
		b.WriteString("\n")
	}
	return b.String()
}
