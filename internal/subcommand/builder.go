package subcommand

import (
	"fmt"
	"strings"
)

const (
	flagFile    = "-f"
	flagDir     = "-d"
	flagOutput  = "-o"
	flagProfile = "-p"
	// hayabusa search --keywords / --regex.
	flagKeyword = "-k"
	flagRegex   = "-r"
)

// InputKind selects between file and directory input flags.
type InputKind string

const (
	InputAuto InputKind = ""
	InputFile InputKind = "file"
	InputDir  InputKind = "dir"
)

// Params is the parameter record for one request.
type Params struct {
	Input     string    `json:"input,omitempty"`
	InputKind InputKind `json:"input_kind,omitempty"`
	Output    string    `json:"output,omitempty"`
	Profile   string    `json:"profile,omitempty"`
	Pattern   string    `json:"pattern,omitempty"`
	Regex     bool      `json:"regex,omitempty"`
	Extra     []string  `json:"extra,omitempty"`
}

// Invocation is the ordered argument list for one subprocess execution.
// Fields are unexported so a built invocation cannot be altered.
type Invocation struct {
	subcommand Name
	tokens     []string
}

// Subcommand returns the subcommand name.
func (i Invocation) Subcommand() Name { return i.subcommand }

// Tokens returns a copy of the option tokens.
func (i Invocation) Tokens() []string {
	out := make([]string, len(i.tokens))
	copy(out, i.tokens)
	return out
}

// Argv returns the subcommand followed by its tokens.
func (i Invocation) Argv() []string {
	out := make([]string, 0, len(i.tokens)+1)
	out = append(out, string(i.subcommand))
	return append(out, i.tokens...)
}

func (i Invocation) String() string {
	return strings.Join(i.Argv(), " ")
}

// Build validates p against the shape of name and assembles the tokens.
func Build(name Name, p Params) (Invocation, error) {
	spec, err := Lookup(string(name))
	if err != nil {
		return Invocation{}, err
	}

	if err := checkSlot(spec, "input", spec.Input, p.Input); err != nil {
		return Invocation{}, err
	}
	if err := checkSlot(spec, "output", spec.Output, p.Output); err != nil {
		return Invocation{}, err
	}
	if err := checkSlot(spec, "profile", spec.Profile, p.Profile); err != nil {
		return Invocation{}, err
	}
	if err := checkSlot(spec, "pattern", spec.Pattern, p.Pattern); err != nil {
		return Invocation{}, err
	}
	if p.Regex && spec.Pattern == Unused {
		return Invocation{}, fmt.Errorf("%w: %s does not take a regex pattern", ErrInvalidInvocation, spec.Name)
	}

	var tokens []string
	if spec.Input != Unused && present(p.Input) {
		flag, err := inputFlag(p.InputKind)
		if err != nil {
			return Invocation{}, err
		}
		tokens = append(tokens, flag, p.Input)
	}
	if spec.Output != Unused && present(p.Output) {
		tokens = append(tokens, flagOutput, p.Output)
	}
	if spec.Profile != Unused && present(p.Profile) {
		tokens = append(tokens, flagProfile, p.Profile)
	}
	if spec.Pattern != Unused && present(p.Pattern) {
		flag := flagKeyword
		if p.Regex {
			flag = flagRegex
		}
		tokens = append(tokens, flag, p.Pattern)
	}
	tokens = append(tokens, p.Extra...)

	return Invocation{subcommand: spec.Name, tokens: tokens}, nil
}

func checkSlot(spec Spec, field string, req Requirement, value string) error {
	switch {
	case req == Required && !present(value):
		return fmt.Errorf("%w: %s requires %s", ErrInvalidInvocation, spec.Name, field)
	case req == Unused && present(value):
		return fmt.Errorf("%w: %s does not take %s", ErrInvalidInvocation, spec.Name, field)
	}
	return nil
}

func inputFlag(kind InputKind) (string, error) {
	switch kind {
	case InputAuto, InputFile:
		return flagFile, nil
	case InputDir:
		return flagDir, nil
	default:
		return "", fmt.Errorf("%w: unknown input kind %q", ErrInvalidInvocation, kind)
	}
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}
