package rtt

import (
	"sort"
	"strings"

	"github.com/rtt/rtt/pkg/apperr"
)

// ClockAction is what an RTT status code does to the clock.
type ClockAction string

const (
	ActionStart         ClockAction = "start"
	ActionContinue      ClockAction = "continue"
	ActionStop          ClockAction = "stop"
	ActionNotApplicable ClockAction = "not-applicable"
	ActionUnknown       ClockAction = "unknown"
)

// Code is one entry of the RTT status code table.
type Code struct {
	Code        string       `json:"code"`
	Description string       `json:"description"`
	Action      ClockAction  `json:"action"`
	State       PathwayState `json:"state,omitempty"`
}

// ChangesState reports whether the code determines the pathway state.
// Code 99 (not yet known) leaves the pathway as it is.
func (c Code) ChangesState() bool {
	return c.Action != ActionUnknown
}

var codeTable = map[string]Code{
	"10": {"10", "First activity - start of clock", ActionStart, StateOpen},
	"11": {"11", "Active monitoring ended - start of a new clock", ActionStart, StateOpen},
	"12": {"12", "Decision to treat a new condition - start of a new clock", ActionStart, StateOpen},
	"20": {"20", "Subsequent activity - further activity expected", ActionContinue, StateOpen},
	"21": {"21", "Transfer to another provider - clock continues", ActionContinue, StateOpen},
	"30": {"30", "First definitive treatment - clock stop", ActionStop, StateClosed},
	"31": {"31", "Active monitoring initiated by patient - clock stop", ActionStop, StateClosed},
	"32": {"32", "Active monitoring initiated by care professional - clock stop", ActionStop, StateClosed},
	"33": {"33", "Did not attend first activity - clock stop", ActionStop, StateClosed},
	"34": {"34", "Decision not to treat - clock stop", ActionStop, StateClosed},
	"35": {"35", "Patient declined offered treatment - clock stop", ActionStop, StateClosed},
	"36": {"36", "Patient died before treatment - clock stop", ActionStop, StateClosed},
	"90": {"90", "After first definitive treatment - not an RTT activity", ActionNotApplicable, StateClosed},
	"91": {"91", "During active monitoring - not an RTT activity", ActionNotApplicable, StateClosed},
	"92": {"92", "Undergoing diagnostic tests with GP - not an RTT activity", ActionNotApplicable, StateClosed},
	"98": {"98", "Not applicable to RTT", ActionNotApplicable, StateClosed},
	"99": {"99", "Not yet known", ActionUnknown, ""},
}

// LookupCode returns the table entry for code. Surrounding whitespace is ignored.
func LookupCode(code string) (Code, error) {
	c, ok := codeTable[strings.TrimSpace(code)]
	if !ok {
		return Code{}, apperr.Validation("unknown RTT status code %q", code)
	}
	return c, nil
}

// Codes returns the whole table ordered by code.
func Codes() []Code {
	out := make([]Code, 0, len(codeTable))
	for _, c := range codeTable {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
