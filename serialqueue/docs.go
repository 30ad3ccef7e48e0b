// Package serialqueue runs asynchronous units of work one at a time, in the order they were submitted.
// Any number of goroutines can submit work to a queue; each queue owns exactly one background goroutine that invokes the work items, waiting for each one to return before picking up the next.
// The queue does not reserve an OS thread and submitting never blocks: items are buffered in an unbounded in-memory channel.
//
// There are two variants, and they differ on purpose:
//
//   - Queue runs work that cannot fail. It supports fire-and-forget submission (Enqueue) and request/response submission (Do).
//     Close cancels the queue: the running item sees its context canceled, and items still buffered are dropped without being invoked.
//     Callers waiting in Do for a dropped item are never resolved; they return only when their own context ends.
//     Use Shutdown instead to stop accepting work and let the buffered items run.
//   - FailableQueue runs work that can return an error, and only offers request/response submission (DoFailable).
//     Close stops accepting new work and waits until every buffered item has run and its caller has been resolved.
//
// An error (or panic) from a work item is delivered only to the caller that submitted it, and never stops the queue.
package serialqueue
