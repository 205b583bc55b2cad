// Package subcommand holds the closed vocabulary of Hayabusa subcommands and
// turns a typed parameter record into the ordered token list for one
// invocation.
//
// Token order is fixed per subcommand:
//
//	<input flag> <input> <-o> <output> <-p> <profile> <-k|-r> <pattern> <extra...>
//
// Only the slots a subcommand declares are emitted. Caller-supplied extra
// tokens always come last and are passed through verbatim, so they can never
// shadow the structural flags owned by the builder.
package subcommand
