package agent

import (
	"errors"
	"fmt"

	"github.com/codalotl/driveqa/internal/types"
)

// ErrTurnBudgetExceeded is matched (with errors.Is) by every *TurnBudgetError.
var ErrTurnBudgetExceeded = errors.New("turn budget exceeded")

// TurnBudgetError reports a run that used its whole turn budget without reaching a final answer.
type TurnBudgetError struct {
	MaxTurns int
	Usage    types.UsageTally
}

func (e *TurnBudgetError) Error() string {
	return fmt.Sprintf("turn budget exceeded: no final answer after %d turns", e.MaxTurns)
}

func (e *TurnBudgetError) Is(target error) bool {
	return target == ErrTurnBudgetExceeded
}

// CompletionError wraps a completion-service failure. Usage is the tally accumulated before the failing call.
type CompletionError struct {
	Turn  int
	Usage types.UsageTally
	Err   error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed on turn %d: %v", e.Turn, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// PartialUsage returns the tally carried by err, if err is (or wraps) an error from Run.
func PartialUsage(err error) (types.UsageTally, bool) {
	var budget *TurnBudgetError
	if errors.As(err, &budget) {
		return budget.Usage, true
	}
	var completion *CompletionError
	if errors.As(err, &completion) {
		return completion.Usage, true
	}
	return types.UsageTally{}, false
}
