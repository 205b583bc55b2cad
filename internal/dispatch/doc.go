// Package dispatch is the façade callers use to run Hayabusa subcommands.
//
// A Dispatcher owns one prepared executable path. Preparation (locating the
// binary and adding execute permission) happens once in New; a failure there
// is logged and the Dispatcher is still returned Ready, so the problem shows
// up later as a launch failure on the Result.
//
// Each call:
//   - resolves the subcommand name against the closed vocabulary
//   - resolves an auto input kind by stat'ing the input path
//   - builds the Invocation; invalid requests never spawn a process
//   - applies the optional per-subcommand timeout
//   - hands the Invocation to the Runner and returns its Result unchanged
//
// Error handling:
//   - Unknown subcommand → subcommand.ErrUnsupportedOperation
//   - Missing or unexpected parameter → subcommand.ErrInvalidInvocation
//   - Launch failure → populated Result plus a locator sentinel
//   - Non-zero exit → Result data only, nil error
//   - Interrupt or timeout → Result.Interrupted plus the context error
//
// The Dispatcher keeps no per-call state, so concurrent calls are safe and
// are not serialized.
package dispatch
