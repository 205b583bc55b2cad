// Package invoke executes one Hayabusa invocation as a child process and
// captures its output.
//
// The child is started from an argument vector, never through a shell.
// Stdout and stderr are captured into separate buffers and fully drained
// before Run returns, then decoded with a fixed character encoding. Bytes the
// encoding cannot decode are replaced with U+FFFD; decoding never fails a run.
//
// Termination:
//   - No timeout is enforced unless the caller's context carries a deadline
//   - On cancellation the child receives SIGTERM (Kill on windows)
//   - After the termination grace period the child is killed
//
// Error handling:
//   - Executable missing → Result.NotFound, locator.ErrExecutableNotFound
//   - Start failure (permissions, format) → locator.ErrExecutableNotRunnable
//   - Non-zero exit → data only (Result.ExitCode), nil error
//   - Cancellation → Result.Interrupted, wrapped ctx.Err()
package invoke
