package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codalotl/driveqa/internal/output"
	"github.com/codalotl/driveqa/internal/questions"
)

// generationTurns is the default turn budget for question generation, which reads several documents.
const generationTurns = 20

func newValidateQuestionsCmd(global *globalOptions) *cobra.Command {
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "validate-questions [path]",
		Short: "Validate a question file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			path := a.cfg.Eval.Questions
			if len(args) == 1 {
				path = args[0]
			}
			qs, err := questions.Load(path)
			if err != nil {
				return err
			}
			if err := questions.Validate(qs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d questions, valid\n", path, len(qs))
			return nil
		},
	})
	return cmd
}

type generateOptions struct {
	count    int
	out      string
	model    string
	maxTurns int
}

func newGenerateQuestionsCmd(global *globalOptions) *cobra.Command {
	var opts generateOptions
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "generate-questions --out=<path>",
		Short: "Have the agent write a question set from the repository's documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			_, err = runGenerate(cmd.Context(), cmd, a, opts)
			return err
		},
	})
	cmd.Flags().IntVar(&opts.count, "count", questions.DefaultGenerate, fmt.Sprintf("number of questions (%d-%d)", questions.MinGenerate, questions.MaxGenerate))
	cmd.Flags().StringVar(&opts.out, "out", "", "output file (.yml or .json); prints to stdout when empty")
	cmd.Flags().StringVar(&opts.model, "model", "", "model name from models.yml (default: first)")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", generationTurns, "turn budget")
	return cmd
}

func runGenerate(ctx context.Context, cmd *cobra.Command, a *app, opts generateOptions) ([]questions.Question, error) {
	model, err := a.registry.ResolveModel(opts.model)
	if err != nil {
		return nil, err
	}
	count := questions.ClampCount(opts.count)
	printer := output.NewPrinter(cmd.ErrOrStderr())
	ag, err := a.newAgent(ctx, model, a.cfg.Eval.RunTimeout*2, printer.Event)
	if err != nil {
		return nil, err
	}
	res, err := ag.Run(ctx, questions.GenerationRequest(count), questions.GenerationPrompt(count), opts.maxTurns)
	if err != nil {
		return nil, err
	}
	qs, err := questions.ParseGenerated(res.Answer)
	if err != nil {
		return nil, err
	}
	if err := questions.Validate(qs); err != nil {
		return nil, fmt.Errorf("generated questions: %w", err)
	}

	if opts.out == "" {
		return qs, writeJSON(cmd.OutOrStdout(), qs)
	}
	path := opts.out
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.root, path)
	}
	if err := questions.Save(path, qs); err != nil {
		return nil, err
	}
	return qs, printer.Appf("Wrote %d questions to %s (%d tokens)", len(qs), opts.out, res.Usage.TotalTokens())
}
