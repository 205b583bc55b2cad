package subcommand

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

var (
	// ErrUnsupportedOperation is returned for names outside the vocabulary.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrInvalidInvocation is returned when a required parameter is missing or
	// a parameter is supplied to a subcommand that does not take it.
	ErrInvalidInvocation = errors.New("invalid invocation")
)

// Name is the wire name of a Hayabusa subcommand.
type Name string

const (
	CSVTimeline       Name = "csv-timeline"
	JSONTimeline      Name = "json-timeline"
	LevelTuning       Name = "level-tuning"
	ListProfiles      Name = "list-profiles"
	SetDefaultProfile Name = "set-default-profile"
	UpdateRules       Name = "update-rules"
	ComputerMetrics   Name = "computer-metrics"
	EIDMetrics        Name = "eid-metrics"
	LogonSummary      Name = "logon-summary"
	PivotKeywordsList Name = "pivot-keywords-list"
	Search            Name = "search"
)

// Requirement describes whether a parameter slot is taken by a subcommand.
type Requirement int

const (
	Unused Requirement = iota
	Optional
	Required
)

func (r Requirement) String() string {
	switch r {
	case Optional:
		return "optional"
	case Required:
		return "required"
	default:
		return "unused"
	}
}

// MarshalText renders the requirement for JSON listings.
func (r Requirement) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Spec declares the parameter shape of one subcommand.
type Spec struct {
	Name        Name        `json:"name"`
	Description string      `json:"description"`
	Input       Requirement `json:"input"`
	Output      Requirement `json:"output"`
	Profile     Requirement `json:"profile"`
	Pattern     Requirement `json:"pattern"`
}

// TakesInput reports whether the subcommand reads an evidence path.
func (s Spec) TakesInput() bool {
	return s.Input != Unused
}

// specs is ordered the way the operations are presented to users.
var specs = []Spec{
	{Name: CSVTimeline, Description: "Create a CSV timeline", Input: Required, Output: Required},
	{Name: JSONTimeline, Description: "Create a JSON timeline", Input: Required, Output: Required},
	{Name: LevelTuning, Description: "Tune alert levels"},
	{Name: ListProfiles, Description: "List output profiles"},
	{Name: SetDefaultProfile, Description: "Set the default output profile", Profile: Required},
	{Name: UpdateRules, Description: "Update the detection rule set"},
	{Name: ComputerMetrics, Description: "Print event counts per computer", Input: Required},
	{Name: EIDMetrics, Description: "Print event ID metrics", Input: Required},
	{Name: LogonSummary, Description: "Print a summary of logon events", Input: Required},
	{Name: PivotKeywordsList, Description: "Create a list of pivot keywords", Input: Required},
	{Name: Search, Description: "Search events by keyword or regex", Input: Required, Pattern: Required},
}

// All returns the vocabulary in presentation order.
func All() []Spec {
	out := make([]Spec, len(specs))
	copy(out, specs)
	return out
}

// Names returns the wire names of every subcommand.
func Names() []Name {
	return lo.Map(specs, func(s Spec, _ int) Name { return s.Name })
}

// Lookup resolves a subcommand by wire name.
func Lookup(name string) (Spec, error) {
	trimmed := strings.TrimSpace(name)
	spec, ok := lo.Find(specs, func(s Spec) bool { return string(s.Name) == trimmed })
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnsupportedOperation, name)
	}
	return spec, nil
}
