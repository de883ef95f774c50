package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codalotl/driveqa/internal/eval"
	"github.com/codalotl/driveqa/internal/models"
	"github.com/codalotl/driveqa/internal/output"
	"github.com/codalotl/driveqa/internal/questions"
	"github.com/codalotl/driveqa/internal/report"
	"github.com/codalotl/driveqa/internal/types"
	"github.com/codalotl/driveqa/internal/workspace"
)

type evalOptions struct {
	prompt        string
	questionsPath string
	model         string
	concurrency   int
	maxTurns      int
	resultsDir    string
	noSave        bool
}

func newEvalCmd(global *globalOptions) *cobra.Command {
	var opts evalOptions
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "eval [--prompt=<name>]",
		Short: "Evaluate the compared prompts (or one prompt) against the question set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			_, err = runEval(cmd.Context(), cmd, a, opts, time.Now())
			return err
		},
	})
	cmd.Flags().StringVar(&opts.prompt, "prompt", "", "evaluate only this prompt (e.g. a or b; default: compare the first two)")
	cmd.Flags().StringVar(&opts.questionsPath, "questions", "", "question file (default: eval.questions)")
	cmd.Flags().StringVar(&opts.model, "model", "", "model name from models.yml (default: first)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "runs in flight (default: eval.concurrency)")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", 0, "turn budget per run (default: eval.max_turns)")
	cmd.Flags().StringVar(&opts.resultsDir, "results", "", "results directory (default: $DRIVEQA_RESULTS or eval.results_dir)")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "print the comparison without writing a results artifact")
	return cmd
}

// runEval runs the harness, prints the comparison table, and saves an artifact unless disabled. It returns the
// artifact path ("" when not saved).
func runEval(ctx context.Context, cmd *cobra.Command, a *app, opts evalOptions, now time.Time) (string, error) {
	model, err := a.registry.ResolveModel(opts.model)
	if err != nil {
		return "", err
	}
	configs, err := a.evalConfigurations(opts.prompt)
	if err != nil {
		return "", err
	}

	qPath := opts.questionsPath
	if qPath == "" {
		qPath = a.cfg.Eval.Questions
	}
	if !filepath.IsAbs(qPath) {
		qPath = filepath.Join(a.root, qPath)
	}
	qs, err := questions.Load(qPath)
	if err != nil {
		return "", err
	}
	if err := questions.Validate(qs); err != nil {
		return "", err
	}

	ag, err := a.newAgent(ctx, model, 0, nil)
	if err != nil {
		return "", err
	}

	printer := output.NewPrinter(cmd.OutOrStdout())
	if err := printer.Appf("Evaluating %d questions × %d configurations with %s", len(qs), len(configs), model.Name); err != nil {
		return "", err
	}

	var mu sync.Mutex
	done, total := 0, len(qs)*len(configs)
	h := &eval.Harness{
		Runner:      ag,
		MaxTurns:    firstPositive(opts.maxTurns, a.cfg.Eval.MaxTurns),
		Concurrency: firstPositive(opts.concurrency, a.cfg.Eval.Concurrency),
		RunTimeout:  a.cfg.Eval.RunTimeout,
		Logger:      a.logger,
		OnRecord: func(config string, _ int, rec types.EvalRecord) {
			mu.Lock()
			done++
			n := done
			mu.Unlock()
			if err := printer.Appf("[%d/%d] %s %s %s (%d tokens)", n, total, config, rec.QuestionID, progressMark(rec), rec.Usage.TotalTokens()); err != nil {
				a.logger.Warn("write eval progress", zap.String("question", rec.QuestionID), zap.Error(err))
			}
		},
	}
	rep, err := evalRunner(ctx, h, qs, configs...)
	if err != nil {
		return "", err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	if err := report.RenderTable(out, rep); err != nil {
		return "", err
	}
	if opts.noSave {
		return "", nil
	}

	dir := opts.resultsDir
	if dir == "" {
		dir = workspace.ResultsDir(a.root, a.cfg.Eval.ResultsDir)
	}
	rel, relErr := filepath.Rel(a.root, qPath)
	if relErr != nil {
		rel = qPath
	}
	path, err := report.WriteArtifact(dir, report.NewArtifact(rep, model.Name, filepath.ToSlash(rel), now))
	if err != nil {
		return "", fmt.Errorf("save results: %w", err)
	}
	return path, printer.Appf("Saved results to %s", path)
}

// evalConfigurations returns the selected prompt alone, or the two compared prompts.
func (a *app) evalConfigurations(name string) ([]eval.Configuration, error) {
	var prompts []models.Prompt
	if name != "" {
		p, err := a.prompt(name)
		if err != nil {
			return nil, err
		}
		prompts = []models.Prompt{p}
	} else {
		var err error
		if prompts, err = a.registry.ComparedPrompts(); err != nil {
			return nil, err
		}
	}
	configs := make([]eval.Configuration, 0, len(prompts))
	for _, p := range prompts {
		configs = append(configs, eval.Configuration{Name: p.Name, SystemPrompt: p.System})
	}
	return configs, nil
}

func progressMark(rec types.EvalRecord) string {
	switch {
	case rec.Error != "":
		return "✗ (" + rec.Error + ")"
	case rec.Correct:
		return "✓"
	default:
		return "✗"
	}
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
