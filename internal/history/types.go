package history

import (
	"errors"
	"time"

	"github.com/mattjoyce/hbrun/internal/invoke"
	"github.com/mattjoyce/hbrun/internal/locator"
	"github.com/mattjoyce/hbrun/internal/subcommand"
)

// Outcome classifies how an invocation ended.
type Outcome string

const (
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeFailed      Outcome = "failed"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeRejected    Outcome = "rejected"
)

// OutcomeOf classifies a dispatch result. Rejected requests never reached a
// process.
func OutcomeOf(res invoke.Result, err error) Outcome {
	switch {
	case errors.Is(err, subcommand.ErrInvalidInvocation), errors.Is(err, subcommand.ErrUnsupportedOperation):
		return OutcomeRejected
	case res.Interrupted:
		return OutcomeInterrupted
	case res.NotFound, errors.Is(err, locator.ErrExecutableNotFound), errors.Is(err, locator.ErrExecutableNotRunnable):
		return OutcomeNotFound
	case err != nil, res.ExitCode != 0:
		return OutcomeFailed
	default:
		return OutcomeSucceeded
	}
}

// Entry is one row of the run ledger.
type Entry struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id,omitempty"`
	Subcommand     string        `json:"subcommand"`
	Argv           []string      `json:"argv"`
	Input          string        `json:"input,omitempty"`
	Outcome        Outcome       `json:"outcome"`
	ExitCode       int           `json:"exit_code"`
	Lossy          bool          `json:"lossy"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	StdoutBytes    int           `json:"stdout_bytes"`
	Stderr         string        `json:"stderr,omitempty"`
	ArtifactPath   string        `json:"artifact_path,omitempty"`
	ArtifactDigest string        `json:"artifact_digest,omitempty"`
	ConfigHash     string        `json:"config_hash,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	Subcommand string
	SessionID  string
	Limit      int
}

var ErrRunNotFound = errors.New("run not found")
