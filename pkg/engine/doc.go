// Package engine is the dispatch-and-execution core: the compiled pipeline
// registry, the sequential step executor, the computation unit registry, and
// the dispatcher that ties them to the authorization gate.
//
// All shared state (registry, policy table, compiled expressions) is built
// from a configuration snapshot and read-only afterwards; hot reload swaps
// the whole state through one atomic pointer. Each invocation runs in its
// own goroutine with its own output arena, so no locking happens on the
// request path.
package engine
