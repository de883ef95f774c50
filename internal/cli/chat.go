package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/codalotl/driveqa/internal/agent"
	"github.com/codalotl/driveqa/internal/models"
	"github.com/codalotl/driveqa/internal/output"
)

const chatHelp = `Type a question to search the repository. Commands:
  /prompt [name]   show or switch the system prompt
  /model [name]    show or switch the model
  /help            show this help
  /quit            exit`

var errQuit = errors.New("quit")

type chatSession struct {
	app      *app
	printer  *output.Printer
	model    models.Model
	prompt   models.Prompt
	maxTurns int
	agent    *agent.Agent
}

func newChatCmd(global *globalOptions) *cobra.Command {
	var promptName, modelName string
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			model, err := a.registry.ResolveModel(modelName)
			if err != nil {
				return err
			}
			p, err := a.prompt(promptName)
			if err != nil {
				return err
			}
			s := &chatSession{
				app:      a,
				printer:  output.NewPrinter(cmd.OutOrStdout()),
				model:    model,
				prompt:   p,
				maxTurns: a.cfg.Eval.MaxTurns,
			}
			return s.loop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	})
	cmd.Flags().StringVar(&promptName, "prompt", "", "named prompt from prompts.yml (default: first)")
	cmd.Flags().StringVar(&modelName, "model", "", "model name from models.yml (default: first)")
	return cmd
}

// loop reads one question per line until EOF or /quit. Each question is answered by an independent run.
func (s *chatSession) loop(ctx context.Context, in io.Reader, out io.Writer) error {
	interactive := isInteractive(in)
	if err := s.printer.Appf("driveqa chat · model %s · prompt %s · /help for commands", s.model.Name, s.prompt.Name); err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var err error
		if strings.HasPrefix(line, "/") {
			err = s.command(line)
		} else {
			err = s.ask(ctx, line)
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if perr := s.printer.Error(err); perr != nil {
				s.app.logger.Warn("write chat error", zap.Error(perr), zap.NamedError("cause", err))
			}
		}
	}
}

func (s *chatSession) ask(ctx context.Context, question string) error {
	if s.agent == nil {
		ag, err := s.app.newAgent(ctx, s.model, s.app.cfg.Eval.RunTimeout, s.printer.Event)
		if err != nil {
			return err
		}
		s.agent = ag
	}
	res, err := s.agent.Run(ctx, question, s.prompt.System, s.maxTurns)
	if err != nil {
		return err
	}
	if err := s.printer.Answer(res.Answer); err != nil {
		return err
	}
	return s.printer.Appf("%d tokens · %d capability calls · %d turns", res.Usage.TotalTokens(), res.Usage.CapabilityCalls, res.Usage.Turns)
}

func (s *chatSession) command(line string) error {
	words, err := shellwords.Parse(line)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(words) == 0 {
		return nil
	}
	arg := strings.Join(words[1:], " ")
	switch strings.ToLower(words[0]) {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		return s.printer.App(chatHelp)
	case "/prompt":
		if arg == "" {
			return s.printer.Appf("prompt: %s (available: %s)", s.prompt.Name, strings.Join(s.app.promptNames(), ", "))
		}
		p, err := s.app.prompt(arg)
		if err != nil {
			return err
		}
		s.prompt = p
		return s.printer.Appf("prompt: %s", p.Name)
	case "/model":
		if arg == "" {
			return s.printer.Appf("model: %s (%s)", s.model.Name, s.model.Model)
		}
		m, err := s.app.registry.ResolveModel(arg)
		if err != nil {
			return err
		}
		s.model = m
		s.agent = nil
		return s.printer.Appf("model: %s (%s)", m.Name, m.Model)
	default:
		return fmt.Errorf("unknown command %s (try /help)", words[0])
	}
}

func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
