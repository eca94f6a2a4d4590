// Package notifier delivers run reports to operators.
//
// Notify only enqueues. A single worker, started under the process
// supervisor, drains the queue through a token-bucket limiter and hands each
// message to every configured sink. Sink credentials come from the task
// document and are re-read for every message, so edits take effect without
// a restart.
//
// Delivery is best-effort: a failed send is logged and published on the
// event bus, never retried, and never reported to the caller. With no sink
// configured a message is logged and dropped.
package notifier
