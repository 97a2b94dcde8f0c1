package importer

// machine.go is the import step state machine: an explicit enum-tagged step
// plus pure transition functions. Guard refusals are returned values for the
// driving layer to surface; nothing here panics or performs side effects.

import (
	"errors"
	"fmt"
)

// Step is the current stage of an import session.
type Step int

const (
	StepUpload Step = iota
	StepRowSelection
	StepMapColumns
	StepValidation
	StepComplete
	StepCancelled
)

var stepNames = map[Step]string{
	StepUpload:       "upload",
	StepRowSelection: "row_selection",
	StepMapColumns:   "map_columns",
	StepValidation:   "validation",
	StepComplete:     "complete",
	StepCancelled:    "cancelled",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s Step) Terminal() bool {
	return s == StepComplete || s == StepCancelled
}

// ErrTerminalStep is returned for transitions attempted on a finished
// session.
var ErrTerminalStep = errors.New("import session already finished")

// Guards carries the facts the transition function needs to decide whether
// an advance is allowed. The session assembles it from its current state.
type Guards struct {
	// Upload step.
	RowsAvailable    bool
	AutoDetectHeader bool

	// Row selection step.
	HeaderSelected bool

	// Mapping step: label of the first must-match column with no mapping,
	// empty when the mapping satisfies all required-column constraints.
	MissingColumn string

	// Validation step.
	ValidationDone       bool
	ErrorCount           int
	ValidRows            int
	FilterInvalidRows    bool
	DisableOnInvalidRows bool
}

// Advance computes the next step from the current one, refusing with an
// actionable error when a guard is not satisfied.
func Advance(cur Step, g Guards) (Step, error) {
	switch cur {
	case StepUpload:
		if !g.RowsAvailable {
			return cur, errors.New("no parsed rows available")
		}
		if g.AutoDetectHeader {
			return StepMapColumns, nil
		}
		return StepRowSelection, nil

	case StepRowSelection:
		if !g.HeaderSelected {
			return cur, errors.New("header row not selected")
		}
		return StepMapColumns, nil

	case StepMapColumns:
		if g.MissingColumn != "" {
			return cur, fmt.Errorf("required column %q is not mapped", g.MissingColumn)
		}
		return StepValidation, nil

	case StepValidation:
		if !g.ValidationDone {
			return cur, errors.New("validation still in progress")
		}
		if g.DisableOnInvalidRows && g.ErrorCount > 0 {
			return cur, fmt.Errorf("%d validation errors must be resolved", g.ErrorCount)
		}
		if g.ErrorCount > 0 {
			if !g.FilterInvalidRows {
				return cur, fmt.Errorf("%d validation errors remain", g.ErrorCount)
			}
			if g.ValidRows == 0 {
				return cur, errors.New("no valid rows remain after filtering")
			}
		}
		return StepComplete, nil

	default:
		return cur, ErrTerminalStep
	}
}

// Back returns the previous step. Backward transitions are always permitted
// from non-terminal steps and never discard user mapping or edits; that
// preservation is the session's responsibility.
func Back(cur Step, autoDetectHeader bool) (Step, error) {
	switch cur {
	case StepUpload:
		return StepUpload, nil
	case StepRowSelection:
		return StepUpload, nil
	case StepMapColumns:
		if autoDetectHeader {
			return StepUpload, nil
		}
		return StepRowSelection, nil
	case StepValidation:
		return StepMapColumns, nil
	default:
		return cur, ErrTerminalStep
	}
}

// Cancel moves any non-terminal step to Cancelled.
func Cancel(cur Step) (Step, error) {
	if cur.Terminal() {
		return cur, ErrTerminalStep
	}
	return StepCancelled, nil
}
