// Package operation runs long tasks off the caller's goroutine with
// progress reporting and cooperative pause and cancel.
//
// A Task does its work in Run and calls Reporter.Checkpoint at regular
// points (each scan window, each loaded chunk). A pause request takes effect
// at the next Checkpoint, which moves the operation to Paused and blocks
// until it is resumed; a task that finishes first simply completes.
// Checkpoint returns types.ErrCancelled once cancellation was requested, so
// a task only stops where it chose to. Errors and panics never
// escape: they end the operation in the Failed state.
//
// States follow a fixed table:
//
//	NotStarted -> Waiting -> Running
//	Running    -> Paused -> Running
//	Running    -> Completed | Cancelled | Failed
//	Paused     -> Cancelled
//	Waiting    -> Cancelled
//
// A Manager owns a set of operations, runs them on a bounded number of
// workers and tells the host when it is safe to exit.
package operation
