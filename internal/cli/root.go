package cli

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// Execute runs the CLI. Cancelling ctx stops in-flight runs.
func Execute(ctx context.Context) error {
	root := newRootCmd()
	executed, err := root.ExecuteContextC(ctx)
	if err != nil {
		maybePrintUsage(executed, root, err)
	}
	return err
}

func newRootCmd() *cobra.Command {
	var opts globalOptions
	root := silenceUsageAndErrors(&cobra.Command{
		Use:   "driveqa",
		Short: "Answer questions about a document repository and evaluate prompt configurations.",
	})
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: ./driveqa.yml when present)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(newChatCmd(&opts))
	root.AddCommand(newAskCmd(&opts))
	root.AddCommand(newEvalCmd(&opts))
	root.AddCommand(newValidateQuestionsCmd(&opts))
	root.AddCommand(newGenerateQuestionsCmd(&opts))
	root.AddCommand(newFilesCmd(&opts))
	root.AddCommand(newSearchCmd(&opts))
	root.AddCommand(newReportCmd(&opts))
	return root
}

func silenceUsageAndErrors(cmd *cobra.Command) *cobra.Command {
	silenceErrors(cmd)
	cmd.SilenceUsage = true
	return cmd
}

func silenceErrors(cmd *cobra.Command) *cobra.Command {
	cmd.SilenceErrors = true
	return cmd
}

func maybePrintUsage(cmd, root *cobra.Command, err error) {
	if err == nil {
		return
	}
	target := cmd
	if target == nil {
		target = root
	}
	if target == nil {
		return
	}
	if shouldShowUsage(err) {
		_ = target.Usage()
	}
}

func shouldShowUsage(err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.HasPrefix(msg, "unknown command") {
		return true
	}
	if strings.HasPrefix(msg, "unknown flag") || strings.HasPrefix(msg, "unknown shorthand flag") {
		return true
	}
	if strings.Contains(msg, "accepts") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "requires at least") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "requires at most") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "required flag") {
		return true
	}
	if strings.Contains(msg, "flag needs an argument") {
		return true
	}
	if strings.HasPrefix(msg, "invalid argument") {
		return true
	}
	return false
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
