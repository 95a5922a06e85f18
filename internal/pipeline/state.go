package pipeline

import "fmt"

// State is the per-module pipeline state. Failed absorbs from any
// non-terminal state; Done is reached either by building or by the
// up-to-date skip.
type State int

const (
	Pending State = iota
	Translating
	Compiling
	Linking
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Translating:
		return "translating"
	case Compiling:
		return "compiling"
	case Linking:
		return "linking"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// IsTerminal reports whether the state is terminal.
func (s State) IsTerminal() bool { return s == Done || s == Failed }

func allowedTransition(from, to State) bool {
	if to == Failed {
		return !from.IsTerminal()
	}
	switch from {
	case Pending:
		return to == Translating || to == Done // Done directly on up-to-date skip
	case Translating:
		return to == Compiling
	case Compiling:
		return to == Linking
	case Linking:
		return to == Done
	}
	return false
}

// transition advances the module state, panicking on a program bug rather
// than silently corrupting the state machine.
func (b *build) transition(to State) {
	if !allowedTransition(b.state, to) {
		panic(fmt.Sprintf("pipeline: invalid transition %s -> %s for %s", b.state, to, b.unit.Name))
	}
	b.state = to
}
