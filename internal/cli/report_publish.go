package cli

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/codalotl/driveqa/internal/fsutil"
	"github.com/codalotl/driveqa/internal/report"
)

const (
	beginResultsMarker = "<!-- BEGIN_RESULTS -->"
	endResultsMarker   = "<!-- END_RESULTS -->"

	summariesDir = "result_summaries"
)

// publishManifest describes a published snapshot: when and how it was produced and which runs it covers.
type publishManifest struct {
	PublishedAt time.Time `json:"published_at"`
	Command     []string  `json:"command"`
	Runs        []string  `json:"runs"`
	Leader      string    `json:"leader,omitempty"`
}

// publishReport snapshots rep under result_summaries/<stamp>/ (report.csv, summary.md, manifest.json and copies
// of the contributing artifacts in runs/) and replaces the README results block with the summary. It returns the
// snapshot directory relative to rootDir, slash-separated.
func publishReport(rootDir string, rep *report.Report, args []string, at time.Time) (string, error) {
	if strings.TrimSpace(rootDir) == "" {
		return "", errors.New("publish: root directory is required")
	}
	if rep == nil || len(rep.Rows) == 0 {
		return "", errors.New("publish: report has no rows")
	}

	at = at.In(time.Local)
	rel := path.Join(summariesDir, at.Format("2006-01-02T150405"))
	dir := filepath.Join(rootDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Join(dir, "runs"), 0o755); err != nil {
		return "", err
	}

	runs := make([]string, 0, len(rep.Sources))
	for _, src := range rep.Sources {
		name := filepath.Base(src)
		if err := fsutil.CopyFile(src, filepath.Join(dir, "runs", name)); err != nil && !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("publish: snapshot %s: %w", name, err)
		}
		runs = append(runs, name)
	}

	leader, _ := leadingRow(rep.Rows)
	summary := resultsSummary(rep, leader, rel, at)

	var csvBuf, manifest bytes.Buffer
	if err := rep.WriteCSV(&csvBuf); err != nil {
		return "", err
	}
	err := writeJSON(&manifest, publishManifest{
		PublishedAt: at,
		Command:     publishedCommand(args),
		Runs:        runs,
		Leader:      leader.Configuration + "/" + leader.Model,
	})
	if err != nil {
		return "", err
	}
	files := map[string][]byte{
		"report.csv":    csvBuf.Bytes(),
		"summary.md":    []byte(summary),
		"manifest.json": manifest.Bytes(),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return "", err
		}
	}

	readme := filepath.Join(rootDir, "README.md")
	doc, err := os.ReadFile(readme)
	if err != nil {
		return "", err
	}
	updated, err := spliceResults(string(doc), summary)
	if err != nil {
		return "", fmt.Errorf("publish: %s: %w", readme, err)
	}
	return rel, os.WriteFile(readme, []byte(updated), 0o644)
}

// leadingRow picks the most accurate row, breaking accuracy ties by fewer mean tokens per question. This is the
// same ordering eval uses to pick a winner.
func leadingRow(rows []report.Row) (report.Row, bool) {
	if len(rows) == 0 {
		return report.Row{}, false
	}
	best := rows[0]
	for _, r := range rows[1:] {
		switch {
		case r.Accuracy > best.Accuracy+1e-9:
			best = r
		case math.Abs(r.Accuracy-best.Accuracy) <= 1e-9 && r.AvgTokTotal < best.AvgTokTotal:
			best = r
		}
	}
	return best, true
}

// resultsSummary renders the markdown placed both in summary.md and between the README markers.
func resultsSummary(rep *report.Report, leader report.Row, rel string, at time.Time) string {
	var b strings.Builder
	b.WriteString("| Configuration | Model | Accuracy | Avg Tokens | Avg Cost | Avg Calls | Avg Turns |\n")
	b.WriteString("| --- | --- | --- | --- | --- | --- | --- |\n")
	for _, row := range rep.Rows {
		name := row.Configuration
		if row.Configuration == leader.Configuration && row.Model == leader.Model {
			name = "**" + name + "**"
		}
		fmt.Fprintf(&b, "| %s | %s | %d%% | %s | $%.2f | %.1f | %.1f |\n",
			name, row.Model, percent(row.Accuracy), formatTokens(row.AvgTokTotal), row.AvgCost, row.AvgCalls, row.AvgTurns)
	}
	fmt.Fprintf(&b, "\nLeading: **%s** on %s, %d%% correct at %s tokens per question.\n",
		leader.Configuration, leader.Model, percent(leader.Accuracy), formatTokens(leader.AvgTokTotal))
	fmt.Fprintf(&b, "Published %s from %s. Snapshot: [%s](%s).\n", at.Format("2006-01-02"), pluralRuns(len(rep.Sources)), rel, rel)
	return b.String()
}

func percent(accuracy float64) int {
	return int(math.Round(accuracy * 100))
}

func pluralRuns(n int) string {
	if n == 1 {
		return "1 run"
	}
	return fmt.Sprintf("%d runs", n)
}

// formatTokens renders a token count compactly, e.g. 950, 12.3k.
func formatTokens(n float64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", int(math.Round(n)))
	}
	return fmt.Sprintf("%.1fk", n/1000)
}

// spliceResults replaces everything between the line holding the begin marker and the end marker with block.
func spliceResults(doc, block string) (string, error) {
	head, rest, ok := strings.Cut(doc, beginResultsMarker)
	if !ok {
		return "", fmt.Errorf("missing %s", beginResultsMarker)
	}
	markerLine, rest, ok := strings.Cut(rest, "\n")
	if !ok {
		return "", fmt.Errorf("%s must be followed by a newline", beginResultsMarker)
	}
	_, tail, ok := strings.Cut(rest, endResultsMarker)
	if !ok {
		return "", fmt.Errorf("missing %s after %s", endResultsMarker, beginResultsMarker)
	}
	return head + beginResultsMarker + markerLine + "\n" + block + endResultsMarker + tail, nil
}

// publishedCommand records the invocation with the binary path reduced to its name.
func publishedCommand(args []string) []string {
	out := []string{"driveqa"}
	if len(args) > 1 {
		out = append(out, args[1:]...)
	}
	return out
}
