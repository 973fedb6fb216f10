// Package tools provides command helpers layered on the executor for callers
// that want a finished command's output rather than a live handle.
//
// Ownership boundary:
// - capturing unmanaged command runs, draining output while they execute
//
// Every process still goes through executor.Runner, so it is spawned by the
// dispatch goroutine and listed under the caller's owner until it exits.
package tools
