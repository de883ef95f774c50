package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codalotl/driveqa/internal/agent"
	"github.com/codalotl/driveqa/internal/output"
	"github.com/codalotl/driveqa/internal/types"
)

type askOptions struct {
	prompt   string
	system   string
	model    string
	maxTurns int
	asJSON   bool
}

type askResult struct {
	Question string `json:"question"`
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Answer   string `json:"answer"`
	Usage    types.UsageTally `json:"usage"`
}

func newAskCmd(global *globalOptions) *cobra.Command {
	var opts askOptions
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question from the document repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			return runAsk(cmd.Context(), cmd, a, strings.Join(args, " "), opts)
		},
	})
	cmd.Flags().StringVar(&opts.prompt, "prompt", "", "named prompt from prompts.yml (default: first)")
	cmd.Flags().StringVar(&opts.system, "system", "", "system prompt text; overrides --prompt")
	cmd.Flags().StringVar(&opts.model, "model", "", "model name from models.yml (default: first)")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", 0, "turn budget (default: eval.max_turns)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the answer and usage as JSON")
	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, a *app, question string, opts askOptions) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return errors.New("no question provided")
	}
	model, err := a.registry.ResolveModel(opts.model)
	if err != nil {
		return err
	}
	promptName, system := "custom", opts.system
	if strings.TrimSpace(system) == "" {
		p, err := a.prompt(opts.prompt)
		if err != nil {
			return err
		}
		promptName, system = p.Name, p.System
	}
	maxTurns := opts.maxTurns
	if maxTurns <= 0 {
		maxTurns = a.cfg.Eval.MaxTurns
	}

	printer := output.NewPrinter(cmd.OutOrStdout())
	var observer func(agent.Event)
	if !opts.asJSON {
		observer = printer.Event
	}
	ag, err := a.newAgent(ctx, model, a.cfg.Eval.RunTimeout, observer)
	if err != nil {
		return err
	}
	res, err := ag.Run(ctx, question, system, maxTurns)
	if err != nil {
		if errors.Is(err, agent.ErrTurnBudgetExceeded) {
			return fmt.Errorf("no answer within %d turns (used %d tokens)", maxTurns, res.Usage.TotalTokens())
		}
		return err
	}
	if opts.asJSON {
		return writeJSON(cmd.OutOrStdout(), askResult{
			Question: question,
			Model:    model.Name,
			Prompt:   promptName,
			Answer:   res.Answer,
			Usage:    res.Usage,
		})
	}
	if err := printer.Answer(res.Answer); err != nil {
		return err
	}
	return printer.Appf("%d tokens · %d capability calls · %d turns", res.Usage.TotalTokens(), res.Usage.CapabilityCalls, res.Usage.Turns)
}
