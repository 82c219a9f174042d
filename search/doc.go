// Package search runs the iterative retrieval loop: search an index,
// have a model re-score what was found, let a model decide whether to
// answer, search again with a refined query, or search the web, and
// finally synthesize an answer.
//
// The loop is an explicit state machine. Each state returns a step
// result (continue to a named state, complete, or fail) and the driver
// loop consumes it; nothing unwinds through panics or sentinel errors.
// Every control decision lands in the decision log returned to callers.
//
// Termination, whichever comes first:
//   - the decision model answers ANSWER
//   - the iteration limit is reached
//   - a dispatch fails for good (a partial answer is assembled from the
//     best context so far)
//   - the decision confidence or the context quality crosses its
//     configured threshold
package search
