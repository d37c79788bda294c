package gate

import (
	"slices"
	"strings"
	"unicode"

	"github.com/JakeFAU/loadstate/internal/progress"
)

// Action is the consumer callback a change is routed to.
type Action int

// Actions a change can be classified into.
const (
	ActionNone Action = iota
	ActionStarted
	ActionProgress
	ActionCompleted
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionStarted:
		return "started"
	case ActionProgress:
		return "progress"
	case ActionCompleted:
		return "completed"
	case ActionFailed:
		return "failed"
	default:
		return "none"
	}
}

// Actions holds the consumer callbacks. Nil callbacks are skipped.
type Actions struct {
	OnStarted   func(progress.LoadingState)
	OnProgress  func(progress.LoadingState)
	OnCompleted func(progress.LoadingState)
	OnFailed    func(progress.LoadingState)
}

func (a Actions) dispatch(action Action, st progress.LoadingState) bool {
	var fn func(progress.LoadingState)
	switch action {
	case ActionStarted:
		fn = a.OnStarted
	case ActionProgress:
		fn = a.OnProgress
	case ActionCompleted:
		fn = a.OnCompleted
	case ActionFailed:
		fn = a.OnFailed
	}
	if fn == nil {
		return false
	}
	fn(st)
	return true
}

// Classify maps a state onto an action using the phase's terminal flag, the
// success heuristic and the progress value.
func Classify(st progress.LoadingState) Action {
	switch {
	case st.IsTerminal() && st.IsSuccess():
		return ActionCompleted
	case st.IsTerminal():
		return ActionFailed
	case st.Progress > 0:
		return ActionProgress
	default:
		return ActionStarted
	}
}

// ClassifyByPhaseID matches the phase id against the started, progress,
// complete and failed tokens before falling back to Classify. The id matches
// a token when it equals it or contains it as a whole word, with words
// separated by any non-alphanumeric rune ("in_progress", "upload-failed").
func ClassifyByPhaseID(st progress.LoadingState) Action {
	words := strings.FieldsFunc(strings.ToLower(st.Phase.ID), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range phaseTokens {
		if slices.Contains(words, tok.word) {
			return tok.action
		}
	}
	return Classify(st)
}

var phaseTokens = []struct {
	word   string
	action Action
}{
	{"started", ActionStarted},
	{"progress", ActionProgress},
	{"complete", ActionCompleted},
	{"failed", ActionFailed},
}
