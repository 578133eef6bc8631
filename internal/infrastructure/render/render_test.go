package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ghscope/internal/domain/models"
)

func sampleSet() *models.ReportSet {
	return &models.ReportSet{
		Repository:  "acme/widgets",
		GeneratedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Days:        90,
		Reports: []models.Report{{
			Kind: models.ReportTriage,
			Tables: []models.Table{{
				Name:    "summary",
				Columns: []string{"repo", "merge_rate", "median_merge_hours"},
				Rows:    [][]any{{"acme/widgets", 62.5, nil}},
			}},
		}},
	}
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleSet(), FormatTable))
	out := buf.String()
	require.Contains(t, out, "== triage ==")
	require.Contains(t, out, "--- summary ---")
	require.Contains(t, out, "62.5")
	require.Contains(t, out, "n/a")
}

func TestRenderTableMarksIncomplete(t *testing.T) {
	set := sampleSet()
	set.Reports[0].Incomplete = []string{"commits"}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, set, FormatTable))
	require.Contains(t, buf.String(), "incomplete: commits failed to sync")
}

func TestRenderScorecardLayout(t *testing.T) {
	set := &models.ReportSet{
		Repository: "acme/widgets",
		Days:       90,
		Reports: []models.Report{{
			Kind: models.ReportScorecard,
			Tables: []models.Table{{
				Name:    "signals",
				Columns: []string{"signal", "value", "read"},
				Rows: [][]any{
					{"merge_rate", "62.5%", "median 2.5h, p75 3.0h"},
					{"bus_factor", "2", "2 people cover half the commits"},
				},
			}},
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, set, FormatTable))
	out := buf.String()
	require.Contains(t, out, "acme/widgets by the numbers")
	require.Contains(t, out, "merge_rate")
	require.Contains(t, out, "| median 2.5h, p75 3.0h")
}

func TestRenderMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleSet(), FormatMD))
	out := buf.String()
	require.Contains(t, out, "# acme/widgets (90d window)")
	require.Contains(t, out, "| repo | merge_rate | median_merge_hours |")
	require.Contains(t, out, "| acme/widgets | 62.5 | n/a |")
}

func TestRenderCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleSet(), FormatCSV))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, "# triage.summary", lines[0])
	require.Equal(t, "repo,merge_rate,median_merge_hours", lines[1])
	require.Equal(t, "acme/widgets,62.5,n/a", lines[2])
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleSet(), FormatJSON))

	var decoded struct {
		Repository string `json:"repository"`
		Days       int    `json:"days"`
		Reports    []struct {
			Kind   string                      `json:"kind"`
			Tables map[string][]map[string]any `json:"tables"`
		} `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "acme/widgets", decoded.Repository)
	require.Equal(t, 90, decoded.Days)

	rows := decoded.Reports[0].Tables["summary"]
	require.Len(t, rows, 1)
	require.Equal(t, 62.5, rows[0]["merge_rate"])
	// Missing values stay null in json output.
	require.Nil(t, rows[0]["median_merge_hours"])
}

func TestRenderUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, Render(&buf, sampleSet(), "yaml"))
}
