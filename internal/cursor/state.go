// Package cursor implements the cursor flow engine: the state machine
// that drives sp_executesql/sp_cursoropen/sp_cursorprepexec/
// sp_cursorexecute/sp_cursorfetch/sp_cursorclose and filters the inbound
// token stream for a single logical query subscription.
package cursor

import "github.com/joao-brasil/mssql-cursor-exchange/internal/tds"

// Phase is the cursor's lifecycle phase (spec §3: CursorState.phase).
type Phase int

const (
	PhaseNone Phase = iota
	PhaseFetching
	PhasePrepareRetry
	PhaseClosing
	PhaseClosed
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "NONE"
	case PhaseFetching:
		return "FETCHING"
	case PhasePrepareRetry:
		return "PREPARE_RETRY"
	case PhaseClosing:
		return "CLOSING"
	case PhaseClosed:
		return "CLOSED"
	case PhaseError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// State is the per-subscription cursor state (spec §3). It is owned
// exclusively by the reducer goroutine driving one exchange; nothing
// outside internal/cursor ever mutates it.
type State struct {
	CursorID        int32
	Phase           Phase
	HasMore         bool
	HasSeenRows     bool
	HasSeenError    bool
	ErrorToken      *tds.ErrorMessage
	DirectMode      bool
	CancelRequested bool

	prepareRetried bool // One-shot latch: at most one retry per subscription.
}

// IntermediateCount is the pseudo-token the reducer synthesizes from a
// cursored DoneInProc(hasCount) observed while NONE (the opening window)
// or FETCHING, so the consumer can publish rowsUpdated per fetch window
// (spec §4.5 step 5).
type IntermediateCount struct {
	RowCount uint64
}
