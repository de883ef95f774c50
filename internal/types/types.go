package types

import "time"

// UsageTally is the cumulative cost of one orchestration run.
type UsageTally struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	CapabilityCalls int `json:"capability_calls"`
	Turns           int `json:"turns"`
}

// TotalTokens is input plus output tokens.
func (u UsageTally) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// EvalRecord is the outcome of one (question, configuration) run.
type EvalRecord struct {
	QuestionID     string     `json:"question_id"`
	Question       string     `json:"question"`
	ExpectedAnswer string     `json:"expected_answer"`
	Answer         string     `json:"answer"`
	Correct        bool       `json:"correct"`
	Error          string     `json:"error,omitempty"`
	Usage          UsageTally `json:"usage"`
}

// Summary holds the derived averages for one configuration.
type Summary struct {
	Questions           int     `json:"questions"`
	Correct             int     `json:"correct"`
	Errors              int     `json:"errors"`
	Accuracy            float64 `json:"accuracy"`
	MeanTotalTokens     float64 `json:"mean_total_tokens"`
	MeanInputTokens     float64 `json:"mean_input_tokens"`
	MeanOutputTokens    float64 `json:"mean_output_tokens"`
	MeanCapabilityCalls float64 `json:"mean_capability_calls"`
	MeanTurns           float64 `json:"mean_turns"`
}

type ConfigurationReport struct {
	Name    string       `json:"name"`
	Records []EvalRecord `json:"records"`
	Summary Summary      `json:"summary"`
}

// Verdict values for EvalReport.Verdict.
const (
	VerdictWinner       = "winner"
	VerdictInconclusive = "inconclusive"
	VerdictSingle       = "single"
)

// EvalReport holds every record for each evaluated configuration plus the comparison outcome.
type EvalReport struct {
	Configurations []ConfigurationReport `json:"configurations"`
	Verdict        string                `json:"verdict"`
	Winner         string                `json:"winner,omitempty"`
}

// Artifact is the persisted form of one harness invocation.
type Artifact struct {
	RunID         string     `json:"run_id"`
	CreatedAt     time.Time  `json:"created_at"`
	Model         string     `json:"model"`
	QuestionsFile string     `json:"questions_file,omitempty"`
	Report        EvalReport `json:"report"`
}
