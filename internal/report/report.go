// Package report renders evaluation results, persists them as artifacts, and aggregates artifacts across runs.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/codalotl/driveqa/internal/types"
	"github.com/codalotl/driveqa/internal/workspace"
)

// CostFunc prices usage for a model. ok is false when the model has no known pricing.
type CostFunc func(model string, usage types.UsageTally) (cost float64, ok bool)

type Options struct {
	ResultsDir     string
	Configurations []string
	Models         []string
	Limit          int // newest runs kept per (configuration, model); 0 keeps all
	After          *time.Time
	IncludeTokens  bool
	Cost           CostFunc
}

type Row struct {
	Configuration string
	Model         string
	Runs          int
	Questions     int
	Correct       int
	Errors        int
	Accuracy      float64
	AvgCost       float64
	AvgCalls      float64
	AvgTurns      float64
	AvgTokInput   float64
	AvgTokOutput  float64
	AvgTokTotal   float64
}

type Report struct {
	IncludeTokens bool
	Rows          []Row
	Sources       []string // artifact paths that contributed to Rows, sorted
}

// Aggregate reads every artifact under opts.ResultsDir and builds one row per (configuration, model).
func Aggregate(opts Options) (*Report, error) {
	if strings.TrimSpace(opts.ResultsDir) == "" {
		return nil, errors.New("ResultsDir is required")
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0, got %d", opts.Limit)
	}

	entries, err := loadEntries(opts.ResultsDir)
	if err != nil {
		return nil, err
	}

	configSet := sliceToSet(opts.Configurations)
	modelSet := sliceToSet(opts.Models)

	filtered := make([]entry, 0, len(entries))
	for _, e := range entries {
		if configSet != nil && !configSet[e.Configuration] {
			continue
		}
		if modelSet != nil && !modelSet[e.Model] {
			continue
		}
		if opts.After != nil && e.CreatedAt.Before(*opts.After) {
			continue
		}
		filtered = append(filtered, e)
	}

	filtered = dedupByRunIDKeepLatest(filtered)
	if opts.Limit > 0 {
		filtered = applyLimitPerConfigurationModel(filtered, opts.Limit)
	}

	grouped := map[string][]entry{}
	for _, e := range filtered {
		key := groupKey(e.Configuration, e.Model)
		grouped[key] = append(grouped[key], e)
	}

	rows := make([]Row, 0, len(grouped))
	for _, group := range grouped {
		rows = append(rows, buildRow(group, opts.Cost))
	}

	sources := make([]string, 0, len(filtered))
	seen := map[string]bool{}
	for _, e := range filtered {
		if !seen[e.Path] {
			seen[e.Path] = true
			sources = append(sources, e.Path)
		}
	}
	sort.Strings(sources)

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Accuracy != rows[j].Accuracy {
			return rows[i].Accuracy > rows[j].Accuracy
		}
		if rows[i].AvgTokTotal != rows[j].AvgTokTotal {
			return rows[i].AvgTokTotal < rows[j].AvgTokTotal
		}
		if rows[i].Configuration != rows[j].Configuration {
			return rows[i].Configuration < rows[j].Configuration
		}
		return rows[i].Model < rows[j].Model
	})

	return &Report{
		IncludeTokens: opts.IncludeTokens,
		Rows:          rows,
		Sources:       sources,
	}, nil
}

func (r *Report) WriteCSV(w io.Writer) error {
	if w == nil {
		return errors.New("writer is nil")
	}
	header := []string{
		"configuration",
		"model",
		"runs",
		"questions",
		"correct",
		"errors",
		"accuracy",
		"avg_cost",
		"avg_calls",
		"avg_turns",
	}
	if r.IncludeTokens {
		header = append(header,
			"avg_tok_input",
			"avg_tok_output",
			"avg_tok_total",
		)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range r.Rows {
		record := []string{
			row.Configuration,
			row.Model,
			strconv.Itoa(row.Runs),
			strconv.Itoa(row.Questions),
			strconv.Itoa(row.Correct),
			strconv.Itoa(row.Errors),
			formatFloat(row.Accuracy),
			formatFloat(row.AvgCost),
			formatFloat(row.AvgCalls),
			formatFloat(row.AvgTurns),
		}
		if r.IncludeTokens {
			record = append(record,
				formatFloat(row.AvgTokInput),
				formatFloat(row.AvgTokOutput),
				formatFloat(row.AvgTokTotal),
			)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// entry is one configuration's records from one artifact.
type entry struct {
	Path          string
	RunID         string
	Configuration string
	Model         string
	CreatedAt     time.Time
	Records       []types.EvalRecord
}

func loadEntries(dir string) ([]entry, error) {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !workspace.IsArtifactName(d.Name()) {
			return nil
		}
		art, err := ReadArtifact(path)
		if err != nil {
			return err
		}

		createdAt := art.CreatedAt
		if createdAt.IsZero() {
			if info, err := d.Info(); err == nil {
				createdAt = info.ModTime()
			}
		}
		runID := strings.TrimSpace(art.RunID)
		if runID == "" {
			runID = d.Name()
		}
		for _, cfg := range art.Report.Configurations {
			out = append(out, entry{
				Path:          path,
				RunID:         runID,
				Configuration: strings.TrimSpace(cfg.Name),
				Model:         strings.TrimSpace(art.Model),
				CreatedAt:     createdAt,
				Records:       cfg.Records,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sliceToSet(items []string) map[string]bool {
	var out map[string]bool
	for _, s := range items {
		val := strings.TrimSpace(s)
		if val == "" {
			continue
		}
		if out == nil {
			out = map[string]bool{}
		}
		out[val] = true
	}
	return out
}

func groupKey(configuration, model string) string {
	return configuration + "\x00" + model
}

// dedupByRunIDKeepLatest drops copies of the same (run, configuration), e.g. an artifact copied into a summary
// directory, keeping the newest.
func dedupByRunIDKeepLatest(entries []entry) []entry {
	seen := map[string]entry{}
	order := []string{}
	for _, e := range entries {
		key := e.RunID + "\x00" + e.Configuration
		prev, ok := seen[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || e.CreatedAt.After(prev.CreatedAt) {
			seen[key] = e
		}
	}
	out := make([]entry, 0, len(seen))
	for _, key := range order {
		out = append(out, seen[key])
	}
	return out
}

func applyLimitPerConfigurationModel(entries []entry, limit int) []entry {
	grouped := map[string][]entry{}
	for _, e := range entries {
		key := groupKey(e.Configuration, e.Model)
		grouped[key] = append(grouped[key], e)
	}
	out := make([]entry, 0, len(entries))
	for _, group := range grouped {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})
		if len(group) > limit {
			group = group[:limit]
		}
		out = append(out, group...)
	}
	return out
}

func buildRow(group []entry, cost CostFunc) Row {
	row := Row{
		Configuration: group[0].Configuration,
		Model:         group[0].Model,
		Runs:          len(group),
	}
	var costs, calls, turns, tokIn, tokOut, tokTotal []float64
	for _, e := range group {
		for _, rec := range e.Records {
			row.Questions++
			if rec.Correct {
				row.Correct++
			}
			if rec.Error != "" {
				row.Errors++
			}
			calls = append(calls, float64(rec.Usage.CapabilityCalls))
			turns = append(turns, float64(rec.Usage.Turns))
			tokIn = append(tokIn, float64(rec.Usage.InputTokens))
			tokOut = append(tokOut, float64(rec.Usage.OutputTokens))
			tokTotal = append(tokTotal, float64(rec.Usage.TotalTokens()))
			if cost != nil {
				if c, ok := cost(e.Model, rec.Usage); ok {
					costs = append(costs, c)
				}
			}
		}
	}
	if row.Questions > 0 {
		row.Accuracy = float64(row.Correct) / float64(row.Questions)
	}
	row.AvgCost = avgOrZero(costs)
	row.AvgCalls = avgOrZero(calls)
	row.AvgTurns = avgOrZero(turns)
	row.AvgTokInput = avgOrZero(tokIn)
	row.AvgTokOutput = avgOrZero(tokOut)
	row.AvgTokTotal = avgOrZero(tokTotal)
	return row
}

func avgOrZero(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}

func formatFloat(v float64) string {
	// Compensate for common binary floating-point representation issues so values
	// like 1.005 reliably round to 1.01 at 2 decimal places.
	rounded := math.Round((v+math.Copysign(1e-9, v))*100) / 100
	if rounded == 0 {
		return "0"
	}
	s := strconv.FormatFloat(rounded, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}
