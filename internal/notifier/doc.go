// Package notifier delivers alert notifications to external sinks.
//
// Notify never blocks the caller: notifications go onto a bounded queue and
// a small worker pool delivers them to every configured sink under a shared
// token-bucket rate limit, retrying failed sends with exponential backoff and
// jitter.
//
// # Sinks
//
// DesktopSink raises a local desktop notification (osascript on macOS,
// notify-send on Linux). SlackSink posts into a channel through the transport.
// A failing sink is retried and finally logged; it never affects the others.
//
// # Dedup
//
// Identical notifications (same title, text and priority) inside DedupWindow
// are suppressed at enqueue time.
//
// # History
//
// For operator visibility, the service keeps a small in-memory history of
// recent deliveries.
package notifier
