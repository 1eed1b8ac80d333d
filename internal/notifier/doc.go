// Package notifier delivers task alarm notifications.
//
// Notify only enqueues. A small worker pool drains the queue, waits on a
// shared rate limiter and hands each notification to every configured Sink,
// retrying failed sends with jittered exponential backoff. Identical
// notifications inside the dedup window are suppressed.
//
// # Sinks
//
//   - console: colored line on the daemon's terminal
//   - command: runs an external program (notify-send, osascript, ...)
//   - telegram: sends to one chat through a telebot client
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently delivered notifications.
package notifier
