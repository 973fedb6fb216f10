// Package executor owns external process execution for the daemon.
//
// Ownership boundary:
// - process creation (serialized through one dispatch goroutine)
//
// - output capture (non-blocking pipes, drained by the managed loop)
//
// - lifecycle bookkeeping (managed registry, ownership tracer)
//
// - termination (TERM, grace window, KILL)
//
// Lifecycle order:
// - spawned -> running -> exited -> closed
//
// - running -> exited only when Poll or Wait observes the exit status.
//
// - exited -> closed only through Handle.Close or the managed loop.
//
// Ownership:
// - every request carries an Owner taken from the submitting context.
//
// - managed jobs are re-owned by the dispatch worker at spawn time, so they
// outlive whoever asked for them; unmanaged jobs stay with the submitter and
// are reachable through ChildrenOf until their exit is observed.
//
// The executor never interprets commands and never retries them.
package executor
