package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/codalotl/driveqa/internal/config"
	"github.com/codalotl/driveqa/internal/docrepo"
	"github.com/codalotl/driveqa/internal/eval"
	"github.com/codalotl/driveqa/internal/llm"
	"github.com/codalotl/driveqa/internal/llm/llmtest"
	"github.com/codalotl/driveqa/internal/models"
	"github.com/codalotl/driveqa/internal/output"
	"github.com/codalotl/driveqa/internal/questions"
	"github.com/codalotl/driveqa/internal/report"
	"github.com/codalotl/driveqa/internal/types"
)

// Tests in this file change the working directory and swap package variables, so they do not run in parallel.

const cliModels = `
models:
  - name: sonnet
    provider: anthropic
    model: claude-sonnet-4-6
    input-per-mtok: 3
    output-per-mtok: 15
  - name: haiku
    provider: anthropic
    model: claude-haiku-4-5-20251001
`

const cliPrompts = `
prompts:
  - name: A
    system: Search thoroughly before answering.
  - name: B
    system: Answer briefly.
`

const cliQuestions = `
- id: q1
  question: What is the travel budget?
  expected_answer: "$4,000"
- id: q2
  question: Who owns the roadmap?
  expected_answer: Priya
`

// setupProject creates a project directory with registries, questions and a local document folder, and makes it
// the working directory.
func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("models.yml", cliModels)
	write("prompts.yml", cliPrompts)
	write("eval/questions.yml", cliQuestions)
	write("docs/budget.md", "The travel budget is $4,000 per person.\n")
	write("docs/roadmap.md", "Roadmap owner: Priya.\n")
	write("driveqa.yml", "repository:\n  kind: local\n  root: docs\n")
	t.Chdir(root)
	t.Setenv("DRIVEQA_RESULTS", "")
	return root
}

// stubClient answers every question by searching once and then replying with a fixed answer per question.
// Prompt B answers with fewer tokens.
func stubClient(t *testing.T) *[]string {
	t.Helper()
	var seen []string
	orig := newClient
	t.Cleanup(func() { newClient = orig })
	newClient = func(ctx context.Context, cfg *config.Config, model models.Model, logger *zap.Logger) (llm.Client, error) {
		seen = append(seen, model.Model)
		return llmtest.Func(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			in := 100
			if strings.Contains(req.System, "briefly") {
				in = 50
			}
			last := req.Messages[len(req.Messages)-1]
			if last.Content[0].Type != llm.BlockToolResult {
				return llmtest.ToolUse(in, 10, llmtest.Call("c1", docrepo.SearchCapability, map[string]any{"query": "budget"})), nil
			}
			question := req.Messages[0].Content[0].Text
			switch {
			case strings.Contains(question, "budget"):
				return llmtest.Answer("It is $4,000.", in, 10), nil
			case strings.Contains(question, "roadmap"):
				return llmtest.Answer("Priya owns it.", in, 10), nil
			default:
				return llmtest.Answer(`[{"id":"q1","question":"Budget?","expected_answer":"$4,000"}]`, in, 10), nil
			}
		}), nil
	}
	return &seen
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEvalComparesPromptsAndSavesArtifact(t *testing.T) {
	root := setupProject(t)
	stubClient(t)

	out, err := execute(t, "eval", "--concurrency", "2")
	require.NoError(t, err)
	require.Contains(t, out, "Evaluating 2 questions × 2 configurations with sonnet")
	require.Contains(t, out, "Winner: B (same accuracy, fewer tokens)")

	entries, err := os.ReadDir(filepath.Join(root, "eval", "results"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	a, err := report.ReadArtifact(filepath.Join(root, "eval", "results", entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, "sonnet", a.Model)
	require.Equal(t, "eval/questions.yml", a.QuestionsFile)
	require.Equal(t, types.VerdictWinner, a.Report.Verdict)
	require.Len(t, a.Report.Configurations, 2)
	for _, c := range a.Report.Configurations {
		require.Equal(t, 2, c.Summary.Correct)
		require.Equal(t, []string{"q1", "q2"}, []string{c.Records[0].QuestionID, c.Records[1].QuestionID})
		require.Equal(t, 1, c.Records[0].Usage.CapabilityCalls)
		require.Equal(t, 2, c.Records[0].Usage.Turns)
	}
}

func TestEvalSinglePromptNoSave(t *testing.T) {
	root := setupProject(t)
	stubClient(t)

	out, err := execute(t, "eval", "--prompt", "b", "--no-save", "--model", "haiku")
	require.NoError(t, err)
	require.Contains(t, out, "Single configuration")
	_, err = os.Stat(filepath.Join(root, "eval", "results"))
	require.True(t, os.IsNotExist(err))
}

func TestEvalUnknownPromptAndModel(t *testing.T) {
	setupProject(t)
	stubClient(t)

	_, err := execute(t, "eval", "--prompt", "c")
	require.ErrorContains(t, err, `unknown prompt "c"`)
	_, err = execute(t, "eval", "--model", "gpt-4")
	require.ErrorContains(t, err, `unknown model "gpt-4"`)
}

func TestEvalHarnessFailureIsReturned(t *testing.T) {
	setupProject(t)
	stubClient(t)
	orig := evalRunner
	t.Cleanup(func() { evalRunner = orig })
	evalRunner = func(ctx context.Context, h *eval.Harness, qs []questions.Question, configs ...eval.Configuration) (types.EvalReport, error) {
		return types.EvalReport{}, context.Canceled
	}

	_, err := execute(t, "eval", "--no-save")
	require.ErrorIs(t, err, context.Canceled)
}

func TestAskPrintsAnswerAndEvents(t *testing.T) {
	setupProject(t)
	seen := stubClient(t)

	out, err := execute(t, "ask", "What", "is", "the", "travel", "budget?")
	require.NoError(t, err)
	require.Contains(t, out, "→ search_drive")
	require.Contains(t, out, "budget.md")
	require.Contains(t, out, "It is $4,000.")
	require.Contains(t, out, "1 capability calls")
	require.Equal(t, []string{"claude-sonnet-4-6"}, *seen)
}

func TestAskJSON(t *testing.T) {
	setupProject(t)
	stubClient(t)

	out, err := execute(t, "ask", "--json", "--prompt", "B", "Who owns the roadmap?")
	require.NoError(t, err)
	require.Contains(t, out, `"answer": "Priya owns it."`)
	require.Contains(t, out, `"prompt": "B"`)
	require.NotContains(t, out, "→")
}

func TestChatSlashCommands(t *testing.T) {
	setupProject(t)
	seen := stubClient(t)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("/prompt\n/prompt B\n/model \"haiku\"\nWho owns the roadmap?\n/bogus\n/quit\nnever asked\n"))
	root.SetArgs([]string{"chat"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	got := out.String()
	require.Contains(t, got, "prompt: A (available: A, B)")
	require.Contains(t, got, "prompt: B")
	require.Contains(t, got, "model: haiku (claude-haiku-4-5-20251001)")
	require.Contains(t, got, "Priya owns it.")
	require.Contains(t, got, "Error: unknown command /bogus")
	require.Equal(t, []string{"claude-haiku-4-5-20251001"}, *seen)
}

func TestGenerateQuestionsWritesFile(t *testing.T) {
	root := setupProject(t)
	stubClient(t)

	_, err := execute(t, "generate-questions", "--count", "50", "--out", "eval/generated.json")
	require.NoError(t, err)

	out, err := execute(t, "validate-questions", filepath.Join(root, "eval", "generated.json"))
	require.NoError(t, err)
	require.Contains(t, out, "1 questions, valid")
}

func TestValidateQuestionsReportsProblems(t *testing.T) {
	root := setupProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.yml"), []byte("- id: q1\n  question: x\n"), 0o644))

	_, err := execute(t, "validate-questions", "bad.yml")
	require.ErrorContains(t, err, "expected_answer")

	out, err := execute(t, "validate-questions")
	require.NoError(t, err)
	require.Contains(t, out, "2 questions, valid")
}

func TestFilesAndSearchUseLocalRepository(t *testing.T) {
	setupProject(t)

	out, err := execute(t, "files")
	require.NoError(t, err)
	require.Contains(t, out, "budget.md")
	require.Contains(t, out, "roadmap.md")

	out, err = execute(t, "search", "--json", "priya")
	require.NoError(t, err)
	require.Contains(t, out, `"name": "roadmap.md"`)
	require.NotContains(t, out, "budget.md")
}

func TestDriveRepositoryRequiresToken(t *testing.T) {
	t.Setenv("GOOGLE_DRIVE_TOKEN", "")
	_, err := defaultNewRepository(&config.Config{Repository: config.RepositoryConfig{Kind: config.RepositoryDrive}}, zap.NewNop())
	require.ErrorContains(t, err, "GOOGLE_DRIVE_TOKEN")
}

func TestDriveRepositoryAuthorizesRequests(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"files":[]}`)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Repository: config.RepositoryConfig{Kind: config.RepositoryDrive},
		Drive:      config.DriveConfig{Token: "ya29.token", BaseURL: srv.URL},
	}
	repo, err := defaultNewRepository(cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = repo.Search(context.Background(), "budget", 1)
	require.NoError(t, err)
	require.Equal(t, "Bearer ya29.token", auth)
}

// rejectingWriter fails every write containing reject.
type rejectingWriter struct {
	bytes.Buffer
	reject string
}

func (w *rejectingWriter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), w.reject) {
		return 0, errors.New("broken pipe")
	}
	return w.Buffer.Write(p)
}

func TestEvalLogsProgressWriteFailures(t *testing.T) {
	setupProject(t)
	stubClient(t)

	a, err := loadApp(&globalOptions{})
	require.NoError(t, err)
	core, logs := observer.New(zap.WarnLevel)
	a.logger = zap.New(core)

	out := &rejectingWriter{reject: "/4] "}
	cmd := &cobra.Command{}
	cmd.SetOut(out)

	_, err = runEval(context.Background(), cmd, a, evalOptions{noSave: true}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 4, logs.FilterMessage("write eval progress").Len())
	require.Contains(t, out.String(), "Evaluating 2 questions")
}

func TestChatLogsErrorWriteFailures(t *testing.T) {
	setupProject(t)

	a, err := loadApp(&globalOptions{})
	require.NoError(t, err)
	core, logs := observer.New(zap.WarnLevel)
	a.logger = zap.New(core)

	out := &rejectingWriter{reject: "Error:"}
	s := &chatSession{app: a, printer: output.NewPrinter(out)}
	require.NoError(t, s.loop(context.Background(), strings.NewReader("/bogus\n/quit\n"), out))

	entries := logs.FilterMessage("write chat error").All()
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].ContextMap()["cause"], "unknown command /bogus")
}

func TestReportAggregatesSavedRuns(t *testing.T) {
	root := setupProject(t)
	stubClient(t)

	_, err := execute(t, "eval")
	require.NoError(t, err)
	out, err := execute(t, "report", "--include-tokens")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "configuration,model,runs,questions"))
	require.Contains(t, out, "A,sonnet,1,2,2,0,1,")

	_, err = os.Stat(filepath.Join(root, "result_summaries"))
	require.True(t, os.IsNotExist(err))
}

func TestShouldShowUsage(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"unknown command \"x\" for \"driveqa\"":       true,
		"unknown flag: --nope":                        true,
		"accepts at most 1 arg(s), received 2":        true,
		"requires at least 1 arg(s), only received 0": true,
		"unknown prompt \"c\"":                        false,
	}
	for msg, want := range cases {
		require.Equal(t, want, shouldShowUsage(errString(msg)), msg)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

