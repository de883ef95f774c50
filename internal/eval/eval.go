// Package eval runs every question under each prompt configuration, scores the answers and compares the
// configurations.
package eval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/codalotl/driveqa/internal/agent"
	"github.com/codalotl/driveqa/internal/questions"
	"github.com/codalotl/driveqa/internal/types"
)

// Configuration is a named system prompt under comparison.
type Configuration struct {
	Name         string
	SystemPrompt string
}

// Runner answers one question. *agent.Agent satisfies it.
type Runner interface {
	Run(ctx context.Context, question, systemPrompt string, maxTurns int) (agent.RunResult, error)
}

// Harness runs question sets against one or two configurations.
type Harness struct {
	Runner      Runner
	MaxTurns    int           // default agent.DefaultMaxTurns
	Concurrency int           // runs in flight; default 1
	RunTimeout  time.Duration // wall-clock bound per run; 0 disables it
	Logger      *zap.Logger

	// OnRecord, if set, is called once per finished run. Calls are serialized but arrive in completion order.
	OnRecord func(config string, index int, rec types.EvalRecord)
}

// Run evaluates qs under each configuration. Every (question, configuration) pair is an independent run with its own
// conversation and usage; a failed run is recorded as incorrect and never aborts the others. Records are ordered by
// question regardless of Concurrency, so identical inputs produce identical reports.
func (h *Harness) Run(ctx context.Context, qs []questions.Question, configs ...Configuration) (types.EvalReport, error) {
	if h.Runner == nil {
		return types.EvalReport{}, errors.New("eval: no runner")
	}
	if len(configs) == 0 || len(configs) > 2 {
		return types.EvalReport{}, fmt.Errorf("eval: need one or two configurations, got %d", len(configs))
	}
	if len(configs) == 2 && configs[0].Name == configs[1].Name {
		return types.EvalReport{}, fmt.Errorf("eval: configurations share the name %q", configs[0].Name)
	}
	if len(qs) == 0 {
		return types.EvalReport{}, errors.New("eval: no questions")
	}

	maxTurns := h.MaxTurns
	if maxTurns <= 0 {
		maxTurns = agent.DefaultMaxTurns
	}
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	records := make([][]types.EvalRecord, len(configs))
	for i := range records {
		records[i] = make([]types.EvalRecord, len(qs))
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(max(h.Concurrency, 1))
	for ci, cfg := range configs {
		for qi, q := range qs {
			p.Go(func() {
				rec := h.runOne(ctx, q, cfg, maxTurns)
				records[ci][qi] = rec
				logger.Info("evaluated question",
					zap.String("configuration", cfg.Name),
					zap.String("question_id", q.ID),
					zap.Bool("correct", rec.Correct),
					zap.Int("total_tokens", rec.Usage.TotalTokens()),
					zap.String("error", rec.Error))
				if h.OnRecord != nil {
					mu.Lock()
					h.OnRecord(cfg.Name, qi, rec)
					mu.Unlock()
				}
			})
		}
	}
	p.Wait()

	report := types.EvalReport{Configurations: make([]types.ConfigurationReport, len(configs))}
	for ci, cfg := range configs {
		report.Configurations[ci] = types.ConfigurationReport{
			Name:    cfg.Name,
			Records: records[ci],
			Summary: Summarize(records[ci]),
		}
	}
	report.Verdict, report.Winner = DecideWinner(report.Configurations)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// runOne never panics: a panicking Runner becomes an errored record like any other failed run.
func (h *Harness) runOne(ctx context.Context, q questions.Question, cfg Configuration, maxTurns int) (rec types.EvalRecord) {
	if h.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RunTimeout)
		defer cancel()
	}
	rec = types.EvalRecord{
		QuestionID:     q.ID,
		Question:       q.Question,
		ExpectedAnswer: q.ExpectedAnswer,
	}
	defer func() {
		if v := recover(); v != nil {
			rec.Answer = ""
			rec.Correct = false
			rec.Error = fmt.Sprintf("run panicked: %v", v)
		}
	}()
	res, err := h.Runner.Run(ctx, q.Question, cfg.SystemPrompt, maxTurns)
	rec.Usage = res.Usage
	if err != nil {
		if usage, ok := agent.PartialUsage(err); ok {
			rec.Usage = usage
		}
		rec.Error = err.Error()
		return rec
	}
	rec.Answer = res.Answer
	rec.Correct = IsCorrect(res.Answer, q.ExpectedAnswer)
	return rec
}

// IsCorrect reports whether expected appears in answer, ignoring case.
//
// This is a lenient heuristic, not semantic equivalence: "not Paris" contains "Paris", and "the French capital"
// does not. It is good enough for comparing configurations against each other on the same questions, which is all it
// is used for. An empty expected answer never matches.
func IsCorrect(answer, expected string) bool {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return false
	}
	return strings.Contains(strings.ToLower(answer), strings.ToLower(expected))
}

// Summarize derives the averages for one configuration's records.
func Summarize(records []types.EvalRecord) types.Summary {
	s := types.Summary{Questions: len(records)}
	if len(records) == 0 {
		return s
	}
	var (
		total  = make([]float64, len(records))
		input  = make([]float64, len(records))
		output = make([]float64, len(records))
		calls  = make([]float64, len(records))
		turns  = make([]float64, len(records))
	)
	for i, r := range records {
		if r.Correct {
			s.Correct++
		}
		if r.Error != "" {
			s.Errors++
		}
		total[i] = float64(r.Usage.TotalTokens())
		input[i] = float64(r.Usage.InputTokens)
		output[i] = float64(r.Usage.OutputTokens)
		calls[i] = float64(r.Usage.CapabilityCalls)
		turns[i] = float64(r.Usage.Turns)
	}
	s.Accuracy = float64(s.Correct) / float64(s.Questions)
	s.MeanTotalTokens = stat.Mean(total, nil)
	s.MeanInputTokens = stat.Mean(input, nil)
	s.MeanOutputTokens = stat.Mean(output, nil)
	s.MeanCapabilityCalls = stat.Mean(calls, nil)
	s.MeanTurns = stat.Mean(turns, nil)
	return s
}

const accuracyEpsilon = 1e-9

// DecideWinner compares configurations by accuracy first; at equal accuracy the strictly cheaper one (lower mean
// total tokens) wins; when both are equal the comparison is inconclusive. A single configuration has no winner.
func DecideWinner(configs []types.ConfigurationReport) (verdict string, winner string) {
	if len(configs) != 2 {
		return types.VerdictSingle, ""
	}
	a, b := configs[0], configs[1]
	switch diff := a.Summary.Accuracy - b.Summary.Accuracy; {
	case diff > accuracyEpsilon:
		return types.VerdictWinner, a.Name
	case diff < -accuracyEpsilon:
		return types.VerdictWinner, b.Name
	}
	switch ta, tb := a.Summary.MeanTotalTokens, b.Summary.MeanTotalTokens; {
	case ta < tb && !nearlyEqual(ta, tb):
		return types.VerdictWinner, a.Name
	case tb < ta && !nearlyEqual(ta, tb):
		return types.VerdictWinner, b.Name
	}
	return types.VerdictInconclusive, ""
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= accuracyEpsilon*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
