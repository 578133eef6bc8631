// Package render writes report sets to a terminal or pipe in one of
// four formats: aligned text tables, markdown, csv, or json. Nil cells
// render as "n/a" everywhere except json, where they stay null.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"ghscope/internal/domain/models"
)

const (
	FormatTable = "table"
	FormatMD    = "md"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

func Render(w io.Writer, set *models.ReportSet, format string) error {
	switch format {
	case FormatTable, "":
		return renderTable(w, set)
	case FormatMD:
		return renderMarkdown(w, set)
	case FormatCSV:
		return renderCSV(w, set)
	case FormatJSON:
		return renderJSON(w, set)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return "n/a"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprint(v)
	}
}

func renderTable(w io.Writer, set *models.ReportSet) error {
	for _, report := range set.Reports {
		if report.Kind == models.ReportScorecard {
			if err := renderScorecard(w, set.Repository, report); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "\n== %s ==\n", report.Kind)
		if len(report.Incomplete) > 0 {
			fmt.Fprintf(w, "incomplete: %s failed to sync, showing cached data\n", strings.Join(report.Incomplete, ", "))
		}
		for _, table := range report.Tables {
			fmt.Fprintf(w, "\n--- %s ---\n", table.Name)
			if len(table.Rows) == 0 {
				fmt.Fprintln(w, "(empty)")
				continue
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, strings.Join(table.Columns, "\t"))
			for _, row := range table.Rows {
				cells := make([]string, len(row))
				for i, v := range row {
					cells[i] = cell(v)
				}
				fmt.Fprintln(tw, strings.Join(cells, "\t"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}
	}
	fmt.Fprintln(w)
	return nil
}

// renderScorecard prints the signal table in the aligned
// signal / value / read layout instead of a plain grid.
func renderScorecard(w io.Writer, repository string, report models.Report) error {
	var rows [][]any
	for _, table := range report.Tables {
		if table.Name == "signals" {
			rows = table.Rows
		}
	}
	fmt.Fprintf(w, "\n  %s by the numbers\n", repository)
	if len(report.Incomplete) > 0 {
		fmt.Fprintf(w, "  incomplete: %s failed to sync\n", strings.Join(report.Incomplete, ", "))
	}
	sigW, valW := 0, 0
	for _, row := range rows {
		if n := len(cell(row[0])); n > sigW {
			sigW = n
		}
		if n := len(cell(row[1])); n > valW {
			valW = n
		}
	}
	fmt.Fprintf(w, "  %s\n\n", strings.Repeat("-", sigW+valW+30))
	for _, row := range rows {
		fmt.Fprintf(w, "  %-*s  %*s  | %s\n", sigW, cell(row[0]), valW, cell(row[1]), cell(row[2]))
	}
	fmt.Fprintln(w)
	return nil
}

func renderMarkdown(w io.Writer, set *models.ReportSet) error {
	fmt.Fprintf(w, "# %s (%dd window)\n", set.Repository, set.Days)
	for _, report := range set.Reports {
		fmt.Fprintf(w, "\n## %s\n", report.Kind)
		if len(report.Incomplete) > 0 {
			fmt.Fprintf(w, "\n> incomplete: %s failed to sync\n", strings.Join(report.Incomplete, ", "))
		}
		for _, table := range report.Tables {
			fmt.Fprintf(w, "\n### %s\n\n", table.Name)
			if len(table.Rows) == 0 {
				fmt.Fprintln(w, "_empty_")
				continue
			}
			fmt.Fprintf(w, "| %s |\n", strings.Join(table.Columns, " | "))
			seps := make([]string, len(table.Columns))
			for i := range seps {
				seps[i] = "---"
			}
			fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))
			for _, row := range table.Rows {
				cells := make([]string, len(row))
				for i, v := range row {
					cells[i] = cell(v)
				}
				fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
			}
		}
	}
	return nil
}

func renderCSV(w io.Writer, set *models.ReportSet) error {
	for _, report := range set.Reports {
		for _, table := range report.Tables {
			fmt.Fprintf(w, "# %s.%s\n", report.Kind, table.Name)
			cw := csv.NewWriter(w)
			if err := cw.Write(table.Columns); err != nil {
				return err
			}
			for _, row := range table.Rows {
				cells := make([]string, len(row))
				for i, v := range row {
					cells[i] = cell(v)
				}
				if err := cw.Write(cells); err != nil {
					return err
				}
			}
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}

type jsonTable map[string][]map[string]any

type jsonReport struct {
	Kind       models.ReportKind `json:"kind"`
	Incomplete []string          `json:"incomplete,omitempty"`
	Tables     jsonTable         `json:"tables"`
}

type jsonSet struct {
	Repository  string       `json:"repository"`
	GeneratedAt string       `json:"generated_at"`
	Days        int          `json:"days"`
	Reports     []jsonReport `json:"reports"`
}

func renderJSON(w io.Writer, set *models.ReportSet) error {
	out := jsonSet{
		Repository:  set.Repository,
		GeneratedAt: set.GeneratedAt.Format("2006-01-02T15:04:05Z"),
		Days:        set.Days,
	}
	for _, report := range set.Reports {
		jr := jsonReport{Kind: report.Kind, Incomplete: report.Incomplete, Tables: jsonTable{}}
		for _, table := range report.Tables {
			rows := make([]map[string]any, 0, len(table.Rows))
			for _, row := range table.Rows {
				obj := make(map[string]any, len(row))
				for i, v := range row {
					obj[table.Columns[i]] = v
				}
				rows = append(rows, obj)
			}
			jr.Tables[table.Name] = rows
		}
		out.Reports = append(out.Reports, jr)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
