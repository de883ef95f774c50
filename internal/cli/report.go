package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codalotl/driveqa/internal/report"
	"github.com/codalotl/driveqa/internal/workspace"
)

func newReportCmd(global *globalOptions) *cobra.Command {
	var configurations string
	var models string
	var limit int
	var after string
	var includeTokens bool
	var publish bool

	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "report",
		Short: "Aggregate saved eval results into a CSV report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			var afterTime *time.Time
			if strings.TrimSpace(after) != "" {
				parsed, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(after), time.Local)
				if err != nil {
					return fmt.Errorf("invalid --after (expected YYYY-MM-DD): %w", err)
				}
				afterTime = &parsed
			}

			rep, err := report.Aggregate(report.Options{
				ResultsDir:     workspace.ResultsDir(a.root, a.cfg.Eval.ResultsDir),
				Configurations: splitCommaList(configurations),
				Models:         splitCommaList(models),
				Limit:          limit,
				After:          afterTime,
				IncludeTokens:  includeTokens,
				Cost:           a.registry.Cost,
			})
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := rep.WriteCSV(&buf); err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(buf.Bytes()); err != nil {
				return err
			}
			if publish {
				rel, err := publishReport(a.root, rep, os.Args, time.Now())
				if err != nil {
					return err
				}
				a.logger.Info("published report", zap.String("snapshot", rel), zap.Int("runs", len(rep.Sources)))
			}
			return nil
		},
	})

	cmd.Flags().StringVar(&configurations, "configurations", "", "comma-separated configuration list (default: all)")
	cmd.Flags().StringVar(&models, "models", "", "comma-separated model list (default: all)")
	cmd.Flags().IntVar(&limit, "limit", 0, "most recent N runs per {configuration,model} (default: all)")
	cmd.Flags().StringVar(&after, "after", "", "only include runs on/after YYYY-MM-DD (local time)")
	cmd.Flags().BoolVar(&includeTokens, "include-tokens", false, "include token columns in output")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish report summary to result_summaries and update README.md")

	return cmd
}

func splitCommaList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
