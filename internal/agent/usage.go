package agent

import "github.com/codalotl/driveqa/internal/types"

// usageMeter accumulates the tally of one run. Counts only ever grow; negative token counts reported by a
// completion service are ignored.
type usageMeter struct {
	tally types.UsageTally
}

func (m *usageMeter) addTokens(in, out int) {
	m.tally.InputTokens += max(in, 0)
	m.tally.OutputTokens += max(out, 0)
}

func (m *usageMeter) addCall() { m.tally.CapabilityCalls++ }

func (m *usageMeter) addTurn() { m.tally.Turns++ }

func (m *usageMeter) snapshot() types.UsageTally { return m.tally }
